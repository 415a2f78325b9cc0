package policy

import "github.com/shopspring/decimal"

// Tier is a price band keyed by order size.
type Tier string

const (
	TierRetail    Tier = "retail"
	TierWholesale Tier = "wholesale"
	TierBulk      Tier = "bulk"
)

// MissingTierPrice is quoted when the catalog has no price for a tier.
var MissingTierPrice = decimal.NewFromInt(999)

// PricingDecision is the seller's structured tier choice.
type PricingDecision struct {
	ChosenTier  Tier            `json:"chosen_tier"`
	QuotedPrice decimal.Decimal `json:"quoted_price"`
	Reasoning   string          `json:"reasoning"`
}

// TierForQuantity picks bulk at 200+, wholesale at 50+, retail otherwise.
func TierForQuantity(qty int) Tier {
	switch {
	case qty >= 200:
		return TierBulk
	case qty >= 50:
		return TierWholesale
	default:
		return TierRetail
	}
}

// TierPrice looks up a tier's price.
func TierPrice(prices map[Tier]decimal.Decimal, t Tier) decimal.Decimal {
	if p, ok := prices[t]; ok && p.IsPositive() {
		return p
	}
	return MissingTierPrice
}

// RulePricing is the deterministic tier selection.
func RulePricing(prices map[Tier]decimal.Decimal, qty int) PricingDecision {
	t := TierForQuantity(qty)
	return PricingDecision{ChosenTier: t, QuotedPrice: TierPrice(prices, t), Reasoning: "rule-based tier selection"}
}

// EnforceQuote floors an initial quote at the seller's minimum. A decision
// naming an unknown tier or a non-positive price falls back to RulePricing.
func EnforceQuote(dec PricingDecision, prices map[Tier]decimal.Decimal, qty int, minPrice decimal.Decimal) PricingDecision {
	if _, ok := prices[dec.ChosenTier]; !ok || !dec.QuotedPrice.IsPositive() {
		dec = RulePricing(prices, qty)
	}
	dec.QuotedPrice = decimal.Max(minPrice, dec.QuotedPrice.Round(2))
	return dec
}
