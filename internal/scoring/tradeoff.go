package scoring

import "github.com/shopspring/decimal"

// Candidate is one seller's price and qualitative standing.
type Candidate struct {
	Seller   string
	Price    decimal.Decimal
	Combined float64 // Evaluation.Combined, lower is better
}

// TradeOff compares the cheapest quote with the highest-quality one.
type TradeOff struct {
	CheapestSeller    string          `json:"cheapest_seller"`
	CheapestPrice     decimal.Decimal `json:"cheapest_price"`
	BestQualitySeller string          `json:"best_quality_seller"`
	BestQualityScore  float64         `json:"best_quality_score"`
	QualityPremium    decimal.Decimal `json:"quality_premium"` // per unit, zero when the same seller
	QualityGain       float64         `json:"quality_gain"`
}

// AnalyzeTradeOff returns false for an empty candidate list.
func AnalyzeTradeOff(cs []Candidate) (TradeOff, bool) {
	if len(cs) == 0 {
		return TradeOff{}, false
	}
	cheap, best := cs[0], cs[0]
	for _, c := range cs[1:] {
		if c.Price.LessThan(cheap.Price) {
			cheap = c
		}
		if c.Combined < best.Combined {
			best = c
		}
	}
	t := TradeOff{
		CheapestSeller:    cheap.Seller,
		CheapestPrice:     cheap.Price,
		BestQualitySeller: best.Seller,
		BestQualityScore:  best.Combined,
		QualityPremium:    decimal.Zero,
	}
	if cheap.Seller != best.Seller {
		t.QualityPremium = best.Price.Sub(cheap.Price)
		t.QualityGain = cheap.Combined - best.Combined
	}
	return t, true
}
