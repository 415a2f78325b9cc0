package negotiation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/procurement-engine/internal/model"
)

// State is a negotiation state.
type State string

const (
	StateInitiated        State = "initiated"
	StateRFQSent          State = "rfq_sent"
	StateQuotesReceived   State = "quotes_received"
	StateNegotiating      State = "negotiating"
	StateAgreementReached State = "agreement_reached"
	StateDealClosed       State = "deal_closed"
	StateFailed           State = "failed"
	StateTimeout          State = "timeout"
	StateCancelled        State = "cancelled"
)

// IsTerminal reports whether s has no outgoing transitions.
func (s State) IsTerminal() bool {
	switch s {
	case StateDealClosed, StateFailed, StateTimeout, StateCancelled:
		return true
	}
	return false
}

// Event drives a transition.
type Event string

const (
	EventRFQCreated         Event = "rfq_created"
	EventQuoteReceived      Event = "quote_received"
	EventNegotiationStarted Event = "negotiation_started"
	EventCounterOffer       Event = "counter_offer"
	EventAgreementReached   Event = "agreement_reached"
	EventDealClosed         Event = "deal_closed"
	EventNegotiationFailed  Event = "negotiation_failed"
	EventTimeout            Event = "timeout_occurred"
	EventCancellation       Event = "cancellation"
)

// Agreement is the proposed terms carried by agreement and close events.
type Agreement struct {
	Counterparty string          `json:"counterparty"`
	ProductID    string          `json:"product_id"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int             `json:"quantity"`
}

// Context is the immutable input evaluated by safeguards and stored in
// history. Pointer fields are deep-copied into history.
type Context struct {
	RFQ       *model.RFQ   `json:"rfq,omitempty"`
	Quote     *model.Quote `json:"quote,omitempty"`
	Agreement *Agreement   `json:"agreement,omitempty"`
	Deadline  time.Time    `json:"deadline,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

func (c Context) snapshot() Context {
	out := c
	if c.RFQ != nil {
		r := *c.RFQ
		if c.RFQ.RequiredSpecs != nil {
			r.RequiredSpecs = make(map[string]string, len(c.RFQ.RequiredSpecs))
			for k, v := range c.RFQ.RequiredSpecs {
				r.RequiredSpecs[k] = v
			}
		}
		out.RFQ = &r
	}
	if c.Quote != nil {
		q := *c.Quote
		if c.Quote.Compliance.Certifications != nil {
			q.Compliance.Certifications = make(map[string]bool, len(c.Quote.Compliance.Certifications))
			for k, v := range c.Quote.Compliance.Certifications {
				q.Compliance.Certifications[k] = v
			}
		}
		out.Quote = &q
	}
	if c.Agreement != nil {
		a := *c.Agreement
		out.Agreement = &a
	}
	return out
}

// View is the read-only session state visible to safeguards.
type View struct {
	DealID       string
	State        State
	Round        int
	MaxRounds    int
	Participants []string
	LastUpdated  time.Time
	Now          time.Time
	TimeoutAfter time.Duration
}

// Guard is a named safeguard predicate.
type Guard func(v View, c Context) bool

// Transition is one row of the transition table.
type Transition struct {
	From          State
	Event         Event
	To            State
	Safeguards    []string
	AdvancesRound bool
}

// Safeguard names.
const (
	GuardRFQFields          = "rfq_has_required_fields"
	GuardTwoParticipants    = "at_least_two_participants"
	GuardQuoteFields        = "quote_has_required_fields"
	GuardDeadline           = "deadline_not_passed"
	GuardRoundLimit         = "round_below_limit"
	GuardAgreementTerms     = "agreement_has_terms"
	GuardFailureReason      = "failure_reason_given"
	GuardCancellationReason = "cancellation_reason_valid"
	GuardTimeoutElapsed     = "timeout_elapsed"
)

// DefaultTransitions returns the standard table. The quotes_received →
// agreement_reached row covers immediate acceptance without rounds.
func DefaultTransitions() []Transition {
	return []Transition{
		{StateInitiated, EventRFQCreated, StateRFQSent, []string{GuardRFQFields, GuardTwoParticipants}, false},
		{StateRFQSent, EventQuoteReceived, StateQuotesReceived, []string{GuardQuoteFields, GuardDeadline}, false},
		{StateRFQSent, EventTimeout, StateTimeout, []string{GuardTimeoutElapsed}, false},
		{StateQuotesReceived, EventNegotiationStarted, StateNegotiating, []string{GuardRoundLimit, GuardTwoParticipants}, true},
		{StateQuotesReceived, EventAgreementReached, StateAgreementReached, []string{GuardAgreementTerms}, false},
		{StateNegotiating, EventCounterOffer, StateNegotiating, []string{GuardRoundLimit}, true},
		{StateNegotiating, EventAgreementReached, StateAgreementReached, []string{GuardAgreementTerms}, false},
		{StateNegotiating, EventNegotiationFailed, StateFailed, []string{GuardFailureReason}, false},
		{StateNegotiating, EventTimeout, StateTimeout, []string{GuardTimeoutElapsed}, false},
		{StateNegotiating, EventCancellation, StateCancelled, []string{GuardCancellationReason}, false},
		{StateAgreementReached, EventDealClosed, StateDealClosed, []string{GuardAgreementTerms}, false},
	}
}

// DefaultGuards returns the standard safeguard set.
func DefaultGuards() map[string]Guard {
	return map[string]Guard{
		GuardRFQFields: func(_ View, c Context) bool {
			return c.RFQ != nil && c.RFQ.ProductID != "" && c.RFQ.Quantity > 0
		},
		GuardTwoParticipants: func(v View, _ Context) bool {
			return len(v.Participants) >= 2
		},
		GuardQuoteFields: func(_ View, c Context) bool {
			return c.Quote != nil && c.Quote.ProductID != "" && c.Quote.PricePerUnit.IsPositive()
		},
		GuardDeadline: func(v View, c Context) bool {
			return c.Deadline.IsZero() || !v.Now.After(c.Deadline)
		},
		GuardRoundLimit: func(v View, _ Context) bool {
			return v.Round < v.MaxRounds
		},
		GuardAgreementTerms: func(_ View, c Context) bool {
			return c.Agreement != nil && c.Agreement.Counterparty != "" && c.Agreement.Price.IsPositive()
		},
		GuardFailureReason: func(_ View, c Context) bool {
			return c.Reason != ""
		},
		GuardCancellationReason: func(_ View, c Context) bool {
			return len(c.Reason) > 10
		},
		GuardTimeoutElapsed: func(v View, _ Context) bool {
			return !v.Now.Before(v.LastUpdated.Add(v.TimeoutAfter))
		},
	}
}
