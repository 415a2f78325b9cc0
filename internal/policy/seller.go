// Package policy holds the stateless pricing rules used by buyer and seller
// actors across negotiation rounds.
//
// Generated decisions are advisory. EnforceSeller applies the hard rules last,
// so no decision source can push a counter below the seller's floor, accept
// on round one, or extend past the round limit.
package policy

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Action is a seller's response to a counter-offer.
type Action string

const (
	ActionAccept   Action = "accept"
	ActionCounter  Action = "counter"
	ActionWalkAway Action = "walk_away"
)

var (
	walkAwayFactor = decimal.NewFromFloat(0.95)
	two            = decimal.NewFromInt(2)
	cent           = decimal.New(1, -2)
)

// SellerDecision is the seller's structured answer to one counter-offer.
type SellerDecision struct {
	Action       Action          `json:"decision"`
	CounterPrice decimal.Decimal `json:"counter_price"`
	Reasoning    string          `json:"reasoning"`
}

// SellerTerms is the seller's view of one round.
type SellerTerms struct {
	Proposed  decimal.Decimal // buyer's counter
	LastPrice decimal.Decimal // seller's last quoted price
	MinPrice  decimal.Decimal // hard floor
	Round     int             // already incremented for this counter
	MaxRounds int
}

// ShouldWalkAway reports whether proposed is more than 5% below the floor.
func ShouldWalkAway(proposed, minPrice decimal.Decimal) bool {
	return proposed.LessThan(minPrice.Mul(walkAwayFactor))
}

// Midpoint returns (a+b)/2 rounded to cents.
func Midpoint(a, b decimal.Decimal) decimal.Decimal {
	return a.Add(b).Div(two).Round(2)
}

// SellerFallback is the deterministic decision used when no generated
// decision is available.
func SellerFallback(t SellerTerms) SellerDecision {
	const reason = "rule-based decision"
	switch {
	case t.Round <= 1:
		return SellerDecision{Action: ActionCounter, CounterPrice: Midpoint(t.Proposed, t.LastPrice), Reasoning: reason}
	case !t.Proposed.LessThan(t.MinPrice):
		return SellerDecision{Action: ActionAccept, CounterPrice: t.Proposed, Reasoning: reason}
	case t.Round >= t.MaxRounds:
		return SellerDecision{Action: ActionWalkAway, Reasoning: reason}
	default:
		return SellerDecision{
			Action:       ActionCounter,
			CounterPrice: decimal.Max(t.MinPrice, Midpoint(t.MinPrice, t.Proposed)),
			Reasoning:    reason,
		}
	}
}

// EnforceSeller applies the non-negotiable rules to a decision:
//   - an offer more than 5% below the floor is walked away from;
//   - round one never accepts and counters at the midpoint instead;
//   - nothing below the floor is ever accepted;
//   - at the round limit only accept or walk away remain;
//   - counters are capped at the last price and floored at the minimum.
func EnforceSeller(t SellerTerms, dec SellerDecision) SellerDecision {
	if ShouldWalkAway(t.Proposed, t.MinPrice) {
		return walkAway(t, fmt.Sprintf("offer $%s is far below our minimum", t.Proposed.StringFixed(2)))
	}

	atLimit := t.Round >= t.MaxRounds
	canAccept := t.Round > 1 && !t.Proposed.LessThan(t.MinPrice)

	switch dec.Action {
	case ActionWalkAway:
		return walkAway(t, dec.Reasoning)

	case ActionAccept:
		if canAccept {
			return SellerDecision{Action: ActionAccept, CounterPrice: t.Proposed, Reasoning: dec.Reasoning}
		}
		if t.Round <= 1 {
			return counter(t, Midpoint(t.Proposed, t.LastPrice),
				"We appreciate your offer but believe our product warrants a higher price. Let's find middle ground.")
		}
		if atLimit {
			return walkAway(t, "final round reached without an acceptable price")
		}
		return counter(t, Midpoint(t.MinPrice, t.Proposed), dec.Reasoning)

	default:
		if atLimit {
			if canAccept {
				return SellerDecision{Action: ActionAccept, CounterPrice: t.Proposed, Reasoning: "final round, accepting offer at or above minimum"}
			}
			return walkAway(t, "final round reached without an acceptable price")
		}
		price := dec.CounterPrice
		if !price.IsPositive() {
			price = Midpoint(t.Proposed, t.LastPrice)
		}
		return counter(t, price, dec.Reasoning)
	}
}

func counter(t SellerTerms, price decimal.Decimal, reasoning string) SellerDecision {
	return SellerDecision{Action: ActionCounter, CounterPrice: FloorCounter(price, t.LastPrice, t.MinPrice), Reasoning: reasoning}
}

func walkAway(t SellerTerms, reasoning string) SellerDecision {
	return SellerDecision{Action: ActionWalkAway, CounterPrice: t.LastPrice, Reasoning: reasoning}
}

// FloorCounter rounds to cents, keeps the counter at least a cent below
// lastPrice (when known) and floors at minPrice. The floor is applied last, so
// a seller already at its minimum repeats it.
func FloorCounter(price, lastPrice, minPrice decimal.Decimal) decimal.Decimal {
	price = price.Round(2)
	if lastPrice.IsPositive() && !price.LessThan(lastPrice) {
		price = lastPrice.Sub(cent)
	}
	return decimal.Max(minPrice, price)
}

// EnsurePriceMentioned prefixes text with the counter price when the text
// does not already state it.
func EnsurePriceMentioned(text string, price decimal.Decimal) string {
	p := "$" + price.StringFixed(2)
	if strings.Contains(text, p) || strings.Contains(text, "$"+price.String()) {
		return text
	}
	prefix := fmt.Sprintf("We counter-offer at %s/unit.", p)
	if strings.TrimSpace(text) == "" {
		return prefix
	}
	return prefix + " " + text
}
