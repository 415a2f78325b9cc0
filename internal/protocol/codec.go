package protocol

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/atmx/procurement-engine/internal/model"
)

// Messages are laid out in the Protobuf wire format without generated code.
// Required fields are always written, even when zero, so the decoder can
// tell an absent field from a zero value. Prices travel as decimal strings.

// ------------------------------------------------------------------ encoder

type enc struct{ buf []byte }

func (e *enc) str(field protowire.Number, s string) {
	e.buf = protowire.AppendTag(e.buf, field, protowire.BytesType)
	e.buf = protowire.AppendString(e.buf, s)
}

func (e *enc) optStr(field protowire.Number, s string) {
	if s != "" {
		e.str(field, s)
	}
}

func (e *enc) bytes(field protowire.Number, b []byte) {
	e.buf = protowire.AppendTag(e.buf, field, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, b)
}

func (e *enc) varint(field protowire.Number, v int64) {
	e.buf = protowire.AppendTag(e.buf, field, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, protowire.EncodeZigZag(v))
}

func (e *enc) boolean(field protowire.Number, v bool) {
	if !v {
		return
	}
	e.buf = protowire.AppendTag(e.buf, field, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, 1)
}

func (e *enc) dec(field protowire.Number, d decimal.Decimal) {
	e.str(field, d.String())
}

// strMap writes map entries sorted by key so equal maps encode identically.
func (e *enc) strMap(field protowire.Number, m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var entry []byte
		entry = protowire.AppendTag(entry, 1, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, 2, protowire.BytesType)
		entry = protowire.AppendString(entry, m[k])
		e.bytes(field, entry)
	}
}

func (e *enc) boolMap(field protowire.Number, m map[string]bool) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var entry []byte
		entry = protowire.AppendTag(entry, 1, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, 2, protowire.VarintType)
		entry = protowire.AppendVarint(entry, protowire.EncodeBool(m[k]))
		e.bytes(field, entry)
	}
}

// ------------------------------------------------------------------ decoder

type dec struct {
	msg  string
	b    []byte
	seen map[protowire.Number]bool
}

func newDec(msg string, b []byte) *dec {
	return &dec{msg: msg, b: b, seen: make(map[protowire.Number]bool)}
}

func (d *dec) more() bool { return len(d.b) > 0 }

func (d *dec) tag() (protowire.Number, protowire.Type, error) {
	num, typ, n := protowire.ConsumeTag(d.b)
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: %s: invalid tag", ErrMalformed, d.msg)
	}
	d.b = d.b[n:]
	d.seen[num] = true
	return num, typ, nil
}

func (d *dec) str(field string) (string, error) {
	s, n := protowire.ConsumeString(d.b)
	if n < 0 {
		return "", fmt.Errorf("%w: %s: invalid %s", ErrMalformed, d.msg, field)
	}
	d.b = d.b[n:]
	return s, nil
}

func (d *dec) bytes(field string) ([]byte, error) {
	b, n := protowire.ConsumeBytes(d.b)
	if n < 0 {
		return nil, fmt.Errorf("%w: %s: invalid %s", ErrMalformed, d.msg, field)
	}
	d.b = d.b[n:]
	return b, nil
}

func (d *dec) varint(field string) (int64, error) {
	v, n := protowire.ConsumeVarint(d.b)
	if n < 0 {
		return 0, fmt.Errorf("%w: %s: invalid %s", ErrMalformed, d.msg, field)
	}
	d.b = d.b[n:]
	return protowire.DecodeZigZag(v), nil
}

func (d *dec) boolean(field string) (bool, error) {
	v, n := protowire.ConsumeVarint(d.b)
	if n < 0 {
		return false, fmt.Errorf("%w: %s: invalid %s", ErrMalformed, d.msg, field)
	}
	d.b = d.b[n:]
	return protowire.DecodeBool(v), nil
}

func (d *dec) decimal(field string) (decimal.Decimal, error) {
	s, err := d.str(field)
	if err != nil {
		return decimal.Zero, err
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, invalid(d.msg, field, s)
	}
	return v, nil
}

func (d *dec) skip(num protowire.Number, typ protowire.Type) error {
	n := protowire.ConsumeFieldValue(num, typ, d.b)
	if n < 0 {
		return fmt.Errorf("%w: %s: invalid field %d", ErrMalformed, d.msg, num)
	}
	d.b = d.b[n:]
	return nil
}

// require checks presence of the named field numbers.
func (d *dec) require(fields map[protowire.Number]string) error {
	nums := make([]int, 0, len(fields))
	for num := range fields {
		nums = append(nums, int(num))
	}
	sort.Ints(nums)
	for _, num := range nums {
		if !d.seen[protowire.Number(num)] {
			return missing(d.msg, fields[protowire.Number(num)])
		}
	}
	return nil
}

func decodeMapEntry(msg string, b []byte) (key string, val []byte, valType protowire.Type, err error) {
	d := newDec(msg, b)
	for d.more() {
		num, typ, err := d.tag()
		if err != nil {
			return "", nil, 0, err
		}
		switch num {
		case 1:
			if key, err = d.str("map key"); err != nil {
				return "", nil, 0, err
			}
		case 2:
			n := protowire.ConsumeFieldValue(num, typ, d.b)
			if n < 0 {
				return "", nil, 0, fmt.Errorf("%w: %s: invalid map value", ErrMalformed, msg)
			}
			val, valType = d.b[:n], typ
			d.b = d.b[n:]
		default:
			if err := d.skip(num, typ); err != nil {
				return "", nil, 0, err
			}
		}
	}
	return key, val, valType, nil
}

func decodeStrEntry(msg string, b []byte) (string, string, error) {
	k, raw, typ, err := decodeMapEntry(msg, b)
	if err != nil || raw == nil {
		return k, "", err
	}
	if typ != protowire.BytesType {
		return "", "", fmt.Errorf("%w: %s: map value type", ErrMalformed, msg)
	}
	v, n := protowire.ConsumeString(raw)
	if n < 0 {
		return "", "", fmt.Errorf("%w: %s: invalid map value", ErrMalformed, msg)
	}
	return k, v, nil
}

func decodeBoolEntry(msg string, b []byte) (string, bool, error) {
	k, raw, typ, err := decodeMapEntry(msg, b)
	if err != nil || raw == nil {
		return k, false, err
	}
	if typ != protowire.VarintType {
		return "", false, fmt.Errorf("%w: %s: map value type", ErrMalformed, msg)
	}
	v, n := protowire.ConsumeVarint(raw)
	if n < 0 {
		return "", false, fmt.Errorf("%w: %s: invalid map value", ErrMalformed, msg)
	}
	return k, protowire.DecodeBool(v), nil
}

// ------------------------------------------------------------------ RFQ

// EncodeRFQ serialises an RFQ.
func EncodeRFQ(r model.RFQ) []byte {
	e := &enc{}
	e.str(1, r.ProductID)
	e.varint(2, int64(r.Quantity))
	e.strMap(3, r.RequiredSpecs)
	if !r.MaxBudget.IsZero() {
		e.dec(4, r.MaxBudget)
	}
	return e.buf
}

// DecodeRFQ parses and validates an RFQ.
func DecodeRFQ(data []byte) (model.RFQ, error) {
	r := model.RFQ{RequiredSpecs: make(map[string]string)}
	d := newDec("rfq", data)
	for d.more() {
		num, typ, err := d.tag()
		if err != nil {
			return r, err
		}
		switch num {
		case 1:
			r.ProductID, err = d.str("product_id")
		case 2:
			var q int64
			q, err = d.varint("quantity")
			r.Quantity = int(q)
		case 3:
			var b []byte
			if b, err = d.bytes("required_specs"); err == nil {
				var k, v string
				if k, v, err = decodeStrEntry("rfq", b); err == nil {
					r.RequiredSpecs[k] = v
				}
			}
		case 4:
			r.MaxBudget, err = d.decimal("max_budget")
		default:
			err = d.skip(num, typ)
		}
		if err != nil {
			return r, err
		}
	}
	if err := d.require(map[protowire.Number]string{1: "product_id", 2: "quantity"}); err != nil {
		return r, err
	}
	return r, ValidateRFQ(r)
}

// ------------------------------------------------------------------ Quote

func encodeCompliance(c model.Compliance) []byte {
	e := &enc{}
	e.boolMap(1, c.Certifications)
	if c.WarrantyMonths != 0 {
		e.varint(2, int64(c.WarrantyMonths))
	}
	e.boolean(3, c.Accepted)
	e.boolean(4, c.WalkedAway)
	if c.NegotiationRound != 0 {
		e.varint(5, int64(c.NegotiationRound))
	}
	return e.buf
}

func decodeCompliance(data []byte) (model.Compliance, error) {
	var c model.Compliance
	d := newDec("compliance", data)
	for d.more() {
		num, typ, err := d.tag()
		if err != nil {
			return c, err
		}
		switch num {
		case 1:
			var b []byte
			if b, err = d.bytes("certifications"); err == nil {
				var k string
				var v bool
				if k, v, err = decodeBoolEntry("compliance", b); err == nil {
					if c.Certifications == nil {
						c.Certifications = make(map[string]bool)
					}
					c.Certifications[k] = v
				}
			}
		case 2:
			var w int64
			w, err = d.varint("warranty_months")
			c.WarrantyMonths = int(w)
		case 3:
			c.Accepted, err = d.boolean("accepted")
		case 4:
			c.WalkedAway, err = d.boolean("walked_away")
		case 5:
			var r int64
			r, err = d.varint("negotiation_round")
			c.NegotiationRound = int(r)
		default:
			err = d.skip(num, typ)
		}
		if err != nil {
			return c, err
		}
	}
	return c, nil
}

// EncodeQuote serialises a quote.
func EncodeQuote(q model.Quote) []byte {
	e := &enc{}
	e.str(1, q.ProductID)
	e.dec(2, q.PricePerUnit)
	e.varint(3, int64(q.DeliveryDays))
	e.bytes(4, encodeCompliance(q.Compliance))
	e.str(5, q.GeneratedText)
	return e.buf
}

// DecodeQuote parses and validates a quote.
func DecodeQuote(data []byte) (model.Quote, error) {
	var q model.Quote
	d := newDec("quote", data)
	for d.more() {
		num, typ, err := d.tag()
		if err != nil {
			return q, err
		}
		switch num {
		case 1:
			q.ProductID, err = d.str("product_id")
		case 2:
			q.PricePerUnit, err = d.decimal("price_per_unit")
		case 3:
			var days int64
			days, err = d.varint("delivery_days")
			q.DeliveryDays = int(days)
		case 4:
			var b []byte
			if b, err = d.bytes("compliance"); err == nil {
				q.Compliance, err = decodeCompliance(b)
			}
		case 5:
			q.GeneratedText, err = d.str("generated_text")
		default:
			err = d.skip(num, typ)
		}
		if err != nil {
			return q, err
		}
	}
	err := d.require(map[protowire.Number]string{
		1: "product_id", 2: "price_per_unit", 3: "delivery_days", 4: "compliance", 5: "generated_text",
	})
	if err != nil {
		return q, err
	}
	return q, ValidateQuote(q)
}

// ------------------------------------------------------------------ CounterOffer

// EncodeCounterOffer serialises a counter-offer.
func EncodeCounterOffer(c model.CounterOffer) []byte {
	e := &enc{}
	e.str(1, c.ProductID)
	e.dec(2, c.ProposedPrice)
	e.str(3, c.Reasoning)
	return e.buf
}

// DecodeCounterOffer parses and validates a counter-offer.
func DecodeCounterOffer(data []byte) (model.CounterOffer, error) {
	var c model.CounterOffer
	d := newDec("counter_offer", data)
	for d.more() {
		num, typ, err := d.tag()
		if err != nil {
			return c, err
		}
		switch num {
		case 1:
			c.ProductID, err = d.str("product_id")
		case 2:
			c.ProposedPrice, err = d.decimal("proposed_price")
		case 3:
			c.Reasoning, err = d.str("reasoning")
		default:
			err = d.skip(num, typ)
		}
		if err != nil {
			return c, err
		}
	}
	if err := d.require(map[protowire.Number]string{1: "product_id", 2: "proposed_price", 3: "reasoning"}); err != nil {
		return c, err
	}
	return c, ValidateCounterOffer(c)
}

// ------------------------------------------------------------------ RegisterSeller

// EncodeRegisterSeller serialises a seller registration.
func EncodeRegisterSeller(r model.RegisterSeller) []byte {
	e := &enc{}
	e.str(1, r.SellerName)
	return e.buf
}

// DecodeRegisterSeller parses and validates a seller registration.
func DecodeRegisterSeller(data []byte) (model.RegisterSeller, error) {
	var r model.RegisterSeller
	d := newDec("register_seller", data)
	for d.more() {
		num, typ, err := d.tag()
		if err != nil {
			return r, err
		}
		if num == 1 {
			r.SellerName, err = d.str("seller_name")
		} else {
			err = d.skip(num, typ)
		}
		if err != nil {
			return r, err
		}
	}
	if err := d.require(map[protowire.Number]string{1: "seller_name"}); err != nil {
		return r, err
	}
	return r, ValidateRegisterSeller(r)
}

// ------------------------------------------------------------------ RFQBroadcast

// EncodeRFQBroadcast serialises a coordinator fan-out.
func EncodeRFQBroadcast(b model.RFQBroadcast) []byte {
	e := &enc{}
	e.bytes(1, EncodeRFQ(b.RFQ))
	e.str(2, b.BuyerAddress)
	return e.buf
}

// DecodeRFQBroadcast parses and validates a coordinator fan-out.
func DecodeRFQBroadcast(data []byte) (model.RFQBroadcast, error) {
	var b model.RFQBroadcast
	d := newDec("rfq_broadcast", data)
	for d.more() {
		num, typ, err := d.tag()
		if err != nil {
			return b, err
		}
		switch num {
		case 1:
			var raw []byte
			if raw, err = d.bytes("rfq"); err == nil {
				b.RFQ, err = DecodeRFQ(raw)
			}
		case 2:
			b.BuyerAddress, err = d.str("buyer_address")
		default:
			err = d.skip(num, typ)
		}
		if err != nil {
			return b, err
		}
	}
	if err := d.require(map[protowire.Number]string{1: "rfq", 2: "buyer_address"}); err != nil {
		return b, err
	}
	return b, ValidateRFQBroadcast(b)
}
