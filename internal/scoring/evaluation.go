package scoring

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/atmx/procurement-engine/internal/model"
)

// DefaultWarrantyMonths is assumed when a quote carries no warranty.
const DefaultWarrantyMonths = 12

// NumericScore combines price, delivery and warranty into one figure.
// Lower is better. The weights leave 0.15 unallocated.
func NumericScore(price decimal.Decimal, deliveryDays, warrantyMonths int) float64 {
	if warrantyMonths <= 0 {
		warrantyMonths = DefaultWarrantyMonths
	}
	p := price.InexactFloat64() / 100.0
	dl := float64(deliveryDays) / 30.0
	w := 1.0 - float64(warrantyMonths)/36.0
	return 0.5*p + 0.2*dl + 0.15*w
}

// Evaluation is a qualitative assessment of one quote. Scores are 0..10,
// higher is better.
type Evaluation struct {
	QualityScore float64  `json:"quality_score"`
	TrustScore   float64  `json:"trust_score"`
	ValueScore   float64  `json:"value_score"`
	Reasoning    string   `json:"reasoning"`
	RedFlags     []string `json:"red_flags"`
	Strengths    []string `json:"strengths"`
}

// NeutralEvaluation is used when a generated evaluation cannot be parsed.
func NeutralEvaluation() Evaluation {
	return Evaluation{
		QualityScore: 5.0,
		TrustScore:   5.0,
		ValueScore:   5.0,
		Reasoning:    "evaluation unavailable, neutral scores applied",
		RedFlags:     []string{},
		Strengths:    []string{},
	}
}

// Complete reports whether the evaluation carries every required field.
func (e Evaluation) Complete() bool {
	return e.Reasoning != ""
}

// Normalize clamps scores to 0..10 and fills nil lists.
func (e Evaluation) Normalize() Evaluation {
	e.QualityScore = clamp(e.QualityScore, 0, 10)
	e.TrustScore = clamp(e.TrustScore, 0, 10)
	e.ValueScore = clamp(e.ValueScore, 0, 10)
	if e.RedFlags == nil {
		e.RedFlags = []string{}
	}
	if e.Strengths == nil {
		e.Strengths = []string{}
	}
	return e
}

// NormalizedQuality returns the quality score on a 0..1 scale.
func (e Evaluation) NormalizedQuality() float64 {
	return clamp(e.QualityScore, 0, 10) / 10.0
}

// Combined folds the three scores into 0..1, lower is better.
func (e Evaluation) Combined() float64 {
	return 1.0 - (e.QualityScore+e.TrustScore+e.ValueScore)/30.0
}

// RuleBasedEvaluation scores a quote from its hard facts alone. It is used
// when the reasoning backend is unavailable.
func RuleBasedEvaluation(q model.Quote) Evaluation {
	ev := Evaluation{RedFlags: []string{}, Strengths: []string{}}

	warranty := q.Compliance.WarrantyMonths
	switch {
	case warranty >= 24:
		ev.QualityScore = 9.0
		ev.Strengths = append(ev.Strengths, fmt.Sprintf("%d month warranty", warranty))
	case warranty >= 18:
		ev.QualityScore = 7.5
	case warranty >= 12:
		ev.QualityScore = 6.0
	case warranty > 0:
		ev.QualityScore = 4.0
		ev.RedFlags = append(ev.RedFlags, "warranty below industry baseline")
	default:
		ev.QualityScore = 6.0
	}

	switch days := q.DeliveryDays; {
	case days > 0 && days <= 5:
		ev.ValueScore = 9.0
		ev.Strengths = append(ev.Strengths, "fast delivery")
	case days > 0 && days <= 8:
		ev.ValueScore = 7.0
	default:
		ev.ValueScore = 5.0
	}

	certs := len(q.Compliance.CertificationList())
	ev.TrustScore = math.Min(5.0+2.0*float64(certs), 10.0)
	if certs == 0 {
		ev.RedFlags = append(ev.RedFlags, "no certifications listed")
	} else {
		ev.Strengths = append(ev.Strengths, "certified supplier")
	}

	ev.Reasoning = fmt.Sprintf("rule-based: warranty %dm, delivery %dd, %d certification(s)",
		warranty, q.DeliveryDays, certs)
	return ev
}

// RankScore is the buyer's final ordering score. Lower is better.
// reputation is 0..1 with 0.5 neutral; a good reputation lowers the score.
func RankScore(numeric, combined, reputation float64) float64 {
	score := 0.6*numeric + 0.4*combined - ReputationAdjustment(reputation)
	return math.Max(0, score)
}

// ReputationAdjustment is the bounded bonus/penalty (reputation-0.5)*0.1.
func ReputationAdjustment(reputation float64) float64 {
	return (clamp(reputation, 0, 1) - 0.5) * 0.1
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
