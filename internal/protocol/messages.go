// Package protocol defines the inter-agent messages, their validation rules,
// and the binary wire codec used on the bus.
//
// Every inbound message is decoded and validated before any actor state is
// touched. A message missing a required field or carrying an invalid value
// is a protocol violation: it is rejected, logged and never retried.
package protocol

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/atmx/procurement-engine/internal/model"
)

// Kind identifies the message carried in an envelope body.
type Kind string

const (
	KindRFQ            Kind = "rfq"
	KindRFQBroadcast   Kind = "rfq_broadcast"
	KindQuote          Kind = "quote"
	KindCounterOffer   Kind = "counter_offer"
	KindRegisterSeller Kind = "register_seller"
)

var validKinds = map[Kind]bool{
	KindRFQ:            true,
	KindRFQBroadcast:   true,
	KindQuote:          true,
	KindCounterOffer:   true,
	KindRegisterSeller: true,
}

// addressRegex matches agent addresses such as "buyer", "seller_a" or
// "coordinator@local".
var addressRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:@-]{0,127}$`)

var (
	ErrMalformed    = errors.New("protocol: malformed message")
	ErrMissingField = errors.New("protocol: missing required field")
	ErrInvalidField = errors.New("protocol: invalid field value")
	ErrUnknownKind  = errors.New("protocol: unknown message kind")
)

// ViolationKind maps a protocol error to a short label for metrics and logs.
func ViolationKind(err error) string {
	switch {
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrInvalidField):
		return "invalid_field"
	case errors.Is(err, ErrUnknownKind):
		return "unknown_kind"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	}
	return "other"
}

func missing(msg, field string) error {
	return fmt.Errorf("%w: %s.%s", ErrMissingField, msg, field)
}

func invalid(msg, field string, v any) error {
	return fmt.Errorf("%w: %s.%s=%v", ErrInvalidField, msg, field, v)
}

// ValidAddress reports whether addr is a well-formed agent address.
func ValidAddress(addr string) bool {
	return addressRegex.MatchString(addr)
}

// ValidateRFQ checks an RFQ before it is sent or after it is received.
func ValidateRFQ(r model.RFQ) error {
	if r.ProductID == "" {
		return missing("rfq", "product_id")
	}
	if r.Quantity <= 0 {
		return invalid("rfq", "quantity", r.Quantity)
	}
	if r.MaxBudget.IsNegative() {
		return invalid("rfq", "max_budget", r.MaxBudget)
	}
	return nil
}

// ValidateQuote checks a seller quote.
func ValidateQuote(q model.Quote) error {
	if q.ProductID == "" {
		return missing("quote", "product_id")
	}
	if !q.PricePerUnit.IsPositive() {
		return invalid("quote", "price_per_unit", q.PricePerUnit)
	}
	if q.DeliveryDays < 0 {
		return invalid("quote", "delivery_days", q.DeliveryDays)
	}
	if q.Compliance.WarrantyMonths < 0 {
		return invalid("quote", "compliance.warranty_months", q.Compliance.WarrantyMonths)
	}
	if q.Compliance.Accepted && q.Compliance.WalkedAway {
		return invalid("quote", "compliance", "accepted and walked_away")
	}
	return nil
}

// ValidateCounterOffer checks a buyer counter-offer.
func ValidateCounterOffer(c model.CounterOffer) error {
	if c.ProductID == "" {
		return missing("counter_offer", "product_id")
	}
	if !c.ProposedPrice.IsPositive() {
		return invalid("counter_offer", "proposed_price", c.ProposedPrice)
	}
	return nil
}

// ValidateRegisterSeller checks a seller registration.
func ValidateRegisterSeller(r model.RegisterSeller) error {
	if r.SellerName == "" {
		return missing("register_seller", "seller_name")
	}
	if !ValidAddress(r.SellerName) {
		return invalid("register_seller", "seller_name", r.SellerName)
	}
	return nil
}

// ValidateRFQBroadcast checks a coordinator fan-out.
func ValidateRFQBroadcast(b model.RFQBroadcast) error {
	if err := ValidateRFQ(b.RFQ); err != nil {
		return err
	}
	if b.BuyerAddress == "" {
		return missing("rfq_broadcast", "buyer_address")
	}
	if !ValidAddress(b.BuyerAddress) {
		return invalid("rfq_broadcast", "buyer_address", b.BuyerAddress)
	}
	return nil
}
