package protocol

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/atmx/procurement-engine/internal/model"
)

// Envelope addresses one message on the bus. Body holds the encoded message
// named by Kind.
type Envelope struct {
	ID        string
	Kind      Kind
	Sender    string
	Recipient string
	DealID    string
	SentAt    time.Time
	Body      []byte
}

// Encode serialises the envelope.
func (m Envelope) Encode() []byte {
	e := &enc{}
	e.str(1, m.ID)
	e.str(2, string(m.Kind))
	e.str(3, m.Sender)
	e.str(4, m.Recipient)
	e.optStr(5, m.DealID)
	e.varint(6, m.SentAt.UnixNano())
	e.bytes(7, m.Body)
	return e.buf
}

// DecodeEnvelope parses an envelope and validates its header. The body is
// left encoded; use Open to decode it.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var m Envelope
	d := newDec("envelope", data)
	for d.more() {
		num, typ, err := d.tag()
		if err != nil {
			return m, err
		}
		switch num {
		case 1:
			m.ID, err = d.str("id")
		case 2:
			var k string
			k, err = d.str("kind")
			m.Kind = Kind(k)
		case 3:
			m.Sender, err = d.str("sender")
		case 4:
			m.Recipient, err = d.str("recipient")
		case 5:
			m.DealID, err = d.str("deal_id")
		case 6:
			var ns int64
			ns, err = d.varint("sent_at")
			m.SentAt = time.Unix(0, ns).UTC()
		case 7:
			m.Body, err = d.bytes("body")
		default:
			err = d.skip(num, typ)
		}
		if err != nil {
			return m, err
		}
	}
	err := d.require(map[protowire.Number]string{
		1: "id", 2: "kind", 3: "sender", 4: "recipient", 7: "body",
	})
	if err != nil {
		return m, err
	}
	return m, m.Validate()
}

// Validate checks the envelope header.
func (m Envelope) Validate() error {
	if m.ID == "" {
		return missing("envelope", "id")
	}
	if !validKinds[m.Kind] {
		return fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}
	if !ValidAddress(m.Sender) {
		return invalid("envelope", "sender", m.Sender)
	}
	if !ValidAddress(m.Recipient) {
		return invalid("envelope", "recipient", m.Recipient)
	}
	return nil
}

// Seal validates msg and wraps it in a new envelope. msg must be one of the
// model message types (value, not pointer).
func Seal(sender, recipient, dealID string, msg any) (Envelope, error) {
	var (
		kind Kind
		body []byte
		err  error
	)
	switch v := msg.(type) {
	case model.RFQ:
		kind, body, err = KindRFQ, EncodeRFQ(v), ValidateRFQ(v)
	case model.RFQBroadcast:
		kind, body, err = KindRFQBroadcast, EncodeRFQBroadcast(v), ValidateRFQBroadcast(v)
	case model.Quote:
		kind, body, err = KindQuote, EncodeQuote(v), ValidateQuote(v)
	case model.CounterOffer:
		kind, body, err = KindCounterOffer, EncodeCounterOffer(v), ValidateCounterOffer(v)
	case model.RegisterSeller:
		kind, body, err = KindRegisterSeller, EncodeRegisterSeller(v), ValidateRegisterSeller(v)
	default:
		return Envelope{}, fmt.Errorf("%w: %T", ErrUnknownKind, msg)
	}
	if err != nil {
		return Envelope{}, err
	}

	env := Envelope{
		ID:        uuid.New().String(),
		Kind:      kind,
		Sender:    sender,
		Recipient: recipient,
		DealID:    dealID,
		SentAt:    time.Now().UTC(),
		Body:      body,
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Open decodes and validates the envelope body. The result is one of the
// model message types, by value.
func Open(m Envelope) (any, error) {
	switch m.Kind {
	case KindRFQ:
		return DecodeRFQ(m.Body)
	case KindRFQBroadcast:
		return DecodeRFQBroadcast(m.Body)
	case KindQuote:
		return DecodeQuote(m.Body)
	case KindCounterOffer:
		return DecodeCounterOffer(m.Body)
	case KindRegisterSeller:
		return DecodeRegisterSeller(m.Body)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
}
