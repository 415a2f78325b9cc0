package protocol

import (
	"errors"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/atmx/procurement-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func sampleQuote() model.Quote {
	return model.Quote{
		ProductID:    "widget",
		PricePerUnit: decimal.RequireFromString("72.35"),
		DeliveryDays: 7,
		Compliance: model.Compliance{
			Certifications:   map[string]bool{"ISO9001": true, "CE": false},
			WarrantyMonths:   18,
			NegotiationRound: 2,
		},
		GeneratedText: "We can offer $72.35/unit.",
	}
}

func TestQuote_RoundTrip(t *testing.T) {
	q := sampleQuote()
	got, err := DecodeQuote(EncodeQuote(q))
	if err != nil {
		t.Fatalf("DecodeQuote: %v", err)
	}
	if got.PricePerUnit.String() != "72.35" {
		t.Errorf("price = %s, want 72.35", got.PricePerUnit)
	}
	got.PricePerUnit = q.PricePerUnit
	if !reflect.DeepEqual(got, q) {
		t.Errorf("quote mismatch:\n got %+v\nwant %+v", got, q)
	}
}

func TestRFQ_RoundTrip(t *testing.T) {
	r := model.RFQ{
		ProductID:     "widget",
		Quantity:      150,
		RequiredSpecs: map[string]string{"certification": "ISO9001", "material": "steel"},
		MaxBudget:     d(75),
	}
	got, err := DecodeRFQ(EncodeRFQ(r))
	if err != nil {
		t.Fatalf("DecodeRFQ: %v", err)
	}
	if got.ProductID != r.ProductID || got.Quantity != r.Quantity || !got.MaxBudget.Equal(r.MaxBudget) {
		t.Errorf("rfq = %+v", got)
	}
	if !reflect.DeepEqual(got.RequiredSpecs, r.RequiredSpecs) {
		t.Errorf("specs = %v", got.RequiredSpecs)
	}
}

func TestCounterOffer_RoundTripEmptyReasoning(t *testing.T) {
	c := model.CounterOffer{ProductID: "widget", ProposedPrice: d(70)}
	got, err := DecodeCounterOffer(EncodeCounterOffer(c))
	if err != nil {
		t.Fatalf("DecodeCounterOffer: %v", err)
	}
	if !got.ProposedPrice.Equal(d(70)) || got.Reasoning != "" {
		t.Errorf("counter = %+v", got)
	}
}

func TestDecodeQuote_MissingField(t *testing.T) {
	// Quote without delivery_days, compliance or generated_text.
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, "widget")
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, "80")

	_, err := DecodeQuote(b)
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
	if ViolationKind(err) != "missing_field" {
		t.Errorf("kind = %s", ViolationKind(err))
	}
}

func TestDecodeQuote_InvalidValues(t *testing.T) {
	q := sampleQuote()
	q.PricePerUnit = decimal.Zero
	if _, err := DecodeQuote(EncodeQuote(q)); !errors.Is(err, ErrInvalidField) {
		t.Errorf("zero price: expected ErrInvalidField, got %v", err)
	}

	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, "widget")
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, "eighty")
	if _, err := DecodeCounterOffer(b); !errors.Is(err, ErrInvalidField) {
		t.Errorf("bad decimal: expected ErrInvalidField, got %v", err)
	}
}

func TestDecode_Malformed(t *testing.T) {
	if _, err := DecodeRFQ([]byte{0xff, 0xff, 0xff}); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestDecode_SkipsUnknownFields(t *testing.T) {
	b := EncodeRegisterSeller(model.RegisterSeller{SellerName: "seller_a"})
	b = protowire.AppendTag(b, 99, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)

	got, err := DecodeRegisterSeller(b)
	if err != nil || got.SellerName != "seller_a" {
		t.Errorf("got %+v, %v", got, err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rfq no product", ValidateRFQ(model.RFQ{Quantity: 1}), ErrMissingField},
		{"rfq zero qty", ValidateRFQ(model.RFQ{ProductID: "w"}), ErrInvalidField},
		{"rfq negative budget", ValidateRFQ(model.RFQ{ProductID: "w", Quantity: 1, MaxBudget: d(-1)}), ErrInvalidField},
		{"rfq ok", ValidateRFQ(model.RFQ{ProductID: "w", Quantity: 1}), nil},
		{"quote both flags", ValidateQuote(model.Quote{ProductID: "w", PricePerUnit: d(1),
			Compliance: model.Compliance{Accepted: true, WalkedAway: true}}), ErrInvalidField},
		{"counter no product", ValidateCounterOffer(model.CounterOffer{ProposedPrice: d(1)}), ErrMissingField},
		{"register bad name", ValidateRegisterSeller(model.RegisterSeller{SellerName: "has space"}), ErrInvalidField},
		{"broadcast no buyer", ValidateRFQBroadcast(model.RFQBroadcast{RFQ: model.RFQ{ProductID: "w", Quantity: 1}}), ErrMissingField},
	}
	for _, tt := range tests {
		if tt.want == nil {
			if tt.err != nil {
				t.Errorf("%s: unexpected error %v", tt.name, tt.err)
			}
			continue
		}
		if !errors.Is(tt.err, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, tt.err, tt.want)
		}
	}
}

func TestEnvelope_SealOpen(t *testing.T) {
	b := model.RFQBroadcast{
		RFQ:          model.RFQ{ProductID: "widget", Quantity: 100, MaxBudget: d(75)},
		BuyerAddress: "buyer",
	}
	env, err := Seal("coordinator", "seller_a", "deal-1", b)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if env.Kind != KindRFQBroadcast || env.ID == "" {
		t.Errorf("envelope = %+v", env)
	}

	wire, err := DecodeEnvelope(env.Encode())
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if wire.DealID != "deal-1" || wire.Sender != "coordinator" || !wire.SentAt.Equal(env.SentAt) {
		t.Errorf("header = %+v", wire)
	}

	msg, err := Open(wire)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, ok := msg.(model.RFQBroadcast)
	if !ok {
		t.Fatalf("Open returned %T", msg)
	}
	if got.BuyerAddress != "buyer" || got.RFQ.Quantity != 100 || !got.RFQ.MaxBudget.Equal(d(75)) {
		t.Errorf("broadcast = %+v", got)
	}
}

func TestEnvelope_Rejections(t *testing.T) {
	if _, err := Seal("buyer", "seller_a", "", model.CounterOffer{ProductID: "w"}); !errors.Is(err, ErrInvalidField) {
		t.Errorf("invalid body: got %v", err)
	}
	if _, err := Seal("buyer", "seller_a", "", "not a message"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("unknown type: got %v", err)
	}
	if _, err := Seal("", "seller_a", "", model.RegisterSeller{SellerName: "s"}); !errors.Is(err, ErrInvalidField) {
		t.Errorf("bad sender: got %v", err)
	}

	env := Envelope{ID: "x", Kind: "gossip", Sender: "a", Recipient: "b", Body: []byte{}}
	if _, err := DecodeEnvelope(env.Encode()); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("unknown kind: got %v", err)
	}
}
