package policy

import "github.com/shopspring/decimal"

var (
	discountFactor = decimal.NewFromFloat(0.90)
	maxCutFactor   = decimal.NewFromFloat(0.80)
	marginalFactor = decimal.NewFromFloat(0.95)
)

// NeedsNegotiation reports whether the best price exceeds a disclosed budget.
func NeedsNegotiation(best, budget decimal.Decimal) bool {
	return budget.IsPositive() && best.GreaterThan(budget)
}

// BuyerCounter computes the buyer's next proposal against the seller's
// current price. Over budget it proposes the budget, otherwise a 10%
// discount; it never asks for more than a 20% cut in one step.
func BuyerCounter(current, budget decimal.Decimal) decimal.Decimal {
	var proposed decimal.Decimal
	if current.GreaterThan(budget) {
		proposed = budget
	} else {
		proposed = current.Mul(discountFactor)
	}
	floor := current.Mul(maxCutFactor).Round(2)
	return decimal.Max(proposed.Round(2), floor)
}

// ShouldContinue reports whether another round should be sent. The latest
// price must still exceed the budget or sit within 5% of it, and the round
// limit must not be reached.
func ShouldContinue(round, maxRounds int, latest, budget decimal.Decimal) bool {
	if round >= maxRounds {
		return false
	}
	return latest.GreaterThan(budget) || latest.GreaterThan(budget.Mul(marginalFactor))
}

// WithinBudget reports whether price is at or under budget. An undisclosed
// (zero) budget accepts any price.
func WithinBudget(price, budget decimal.Decimal) bool {
	return !budget.IsPositive() || !price.GreaterThan(budget)
}

// Remediation lists the actions a buyer can take after a failed procurement.
func Remediation() []string {
	return []string{
		"increase budget",
		"reduce quantity",
		"relax specifications",
	}
}
