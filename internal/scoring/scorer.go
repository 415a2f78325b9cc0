// Package scoring ranks competing quotes.
//
// The OfferScorer combines four weighted criteria (price, quality, delivery,
// reputation) into a higher-is-better total and a recommendation. The numeric
// score and the qualitative evaluation in this package are lower-is-better and
// feed the buyer's ranking formula.
package scoring

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/procurement-engine/internal/model"
)

// ErrInvalidWeights is returned when a weight set does not sum to 1.0.
var ErrInvalidWeights = errors.New("scoring: weights must sum to 1.0")

// Criterion names a scored dimension.
type Criterion string

const (
	CriterionPrice      Criterion = "price"
	CriterionQuality    Criterion = "quality"
	CriterionDelivery   Criterion = "delivery"
	CriterionReputation Criterion = "reputation"
)

// Recommendation thresholds on the total score.
const (
	AcceptThreshold    = 0.8
	NegotiateThreshold = 0.5

	weightTolerance = 0.01
)

// Weights are the per-criterion multipliers.
type Weights struct {
	Price      float64 `json:"price"`
	Quality    float64 `json:"quality"`
	Delivery   float64 `json:"delivery"`
	Reputation float64 `json:"reputation"`
}

// DefaultWeights returns 0.4 / 0.3 / 0.2 / 0.1.
func DefaultWeights() Weights {
	return Weights{Price: 0.4, Quality: 0.3, Delivery: 0.2, Reputation: 0.1}
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Price + w.Quality + w.Delivery + w.Reputation
}

// Validate checks that every weight is non-negative and the sum is 1.0 ± 0.01.
func (w Weights) Validate() error {
	if w.Price < 0 || w.Quality < 0 || w.Delivery < 0 || w.Reputation < 0 {
		return fmt.Errorf("%w: negative weight", ErrInvalidWeights)
	}
	if math.Abs(w.Sum()-1.0) > weightTolerance {
		return fmt.Errorf("%w: got %.3f", ErrInvalidWeights, w.Sum())
	}
	return nil
}

// OfferInput is everything the scorer looks at for one offer.
type OfferInput struct {
	Seller    string
	Price     decimal.Decimal
	Benchmark decimal.Decimal // market price; zero when unknown

	Certifications []string
	Specifications map[string]string
	WarrantyMonths int

	DeliveryDays int     // 0 means unknown (treated as 30)
	Reliability  float64 // 0..1, 0 means unknown (treated as 0.95)
	Tracking     bool

	Rating          float64 // 0..1
	Reviews         int
	YearsInBusiness float64
}

// InputFromQuote builds an OfferInput from a quote and a benchmark price.
func InputFromQuote(seller string, q model.Quote, benchmark decimal.Decimal) OfferInput {
	return OfferInput{
		Seller:         seller,
		Price:          q.PricePerUnit,
		Benchmark:      benchmark,
		Certifications: q.Compliance.CertificationList(),
		WarrantyMonths: q.Compliance.WarrantyMonths,
		DeliveryDays:   q.DeliveryDays,
	}
}

// Scorer is the OfferScorer. Safe for concurrent use.
type Scorer struct {
	mu       sync.RWMutex
	weights  Weights
	criteria func(OfferInput) map[string]float64
	logger   *slog.Logger
}

// NewScorer creates a scorer with default weights.
func NewScorer(logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{weights: DefaultWeights(), criteria: criteriaScores, logger: logger}
}

// Weights returns the current weights.
func (s *Scorer) Weights() Weights {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.weights
}

// UpdateWeights replaces the weights. An invalid set is rejected and the
// previous weights stay in effect.
func (s *Scorer) UpdateWeights(w Weights) error {
	if err := w.Validate(); err != nil {
		s.logger.Warn("rejected weight update", "error", err)
		return err
	}
	s.mu.Lock()
	s.weights = w
	s.mu.Unlock()
	return nil
}

// Criteria describes what each criterion measures.
func Criteria() map[Criterion]string {
	return map[Criterion]string{
		CriterionPrice:      "quoted price relative to the market benchmark",
		CriterionQuality:    "certifications, specifications and warranty",
		CriterionDelivery:   "delivery time, reliability and tracking",
		CriterionReputation: "rating, review count and years in business",
	}
}

// Score evaluates one offer. It never fails: a panic while scoring yields a
// zero-confidence reject.
func (s *Scorer) Score(in OfferInput) (res model.ScoreResult) {
	defer func() {
		if r := recover(); r != nil {
			logger := s.logger
			if logger == nil {
				logger = slog.Default()
			}
			logger.Error("scoring failed", "seller", in.Seller, "panic", r)
			res = model.ScoreResult{
				CriteriaScores: map[string]float64{},
				Recommendation: model.RecommendReject,
				Reasoning:      fmt.Sprintf("scoring error: %v", r),
			}
		}
	}()

	w := s.Weights()
	criteria := s.criteria
	if criteria == nil {
		criteria = criteriaScores
	}
	scores := criteria(in)

	total := scores[string(CriterionPrice)]*w.Price +
		scores[string(CriterionQuality)]*w.Quality +
		scores[string(CriterionDelivery)]*w.Delivery +
		scores[string(CriterionReputation)]*w.Reputation

	return model.ScoreResult{
		TotalScore:     total,
		CriteriaScores: scores,
		Recommendation: recommend(total),
		Confidence:     confidence(scores),
		Reasoning:      explain(scores),
	}
}

func criteriaScores(in OfferInput) map[string]float64 {
	return map[string]float64{
		string(CriterionPrice):      PriceScore(in.Price, in.Benchmark),
		string(CriterionQuality):    QualityScore(len(in.Certifications), len(in.Specifications), in.WarrantyMonths),
		string(CriterionDelivery):   DeliveryScore(in.DeliveryDays, in.Reliability, in.Tracking),
		string(CriterionReputation): ReputationScore(in.Rating, in.Reviews, in.YearsInBusiness),
	}
}

// Ranked pairs an input with its score.
type Ranked struct {
	Input  OfferInput
	Result model.ScoreResult
}

// CompareOffers scores all inputs and returns them best first.
func (s *Scorer) CompareOffers(ins []OfferInput) []Ranked {
	out := make([]Ranked, 0, len(ins))
	for _, in := range ins {
		out = append(out, Ranked{Input: in, Result: s.Score(in)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Result.TotalScore > out[j].Result.TotalScore
	})
	return out
}

// PriceScore maps price/benchmark to a step score. Cheaper scores higher.
func PriceScore(price, benchmark decimal.Decimal) float64 {
	if !price.IsPositive() {
		return 0
	}
	if !benchmark.IsPositive() {
		return 0.5
	}
	ratio := price.Div(benchmark).InexactFloat64()
	switch {
	case ratio <= 0.8:
		return 1.0
	case ratio <= 1.0:
		return 0.8
	case ratio <= 1.2:
		return 0.6
	case ratio <= 1.5:
		return 0.4
	default:
		return 0.2
	}
}

// QualityScore sums capped certification, specification and warranty parts.
func QualityScore(certs, specs, warrantyMonths int) float64 {
	score := math.Min(float64(certs)*0.2, 0.6) +
		math.Min(float64(specs)*0.1, 0.3) +
		math.Min(float64(warrantyMonths)/24.0, 0.3)
	return clamp01(score)
}

// DeliveryScore tiers by days then adds reliability and tracking.
func DeliveryScore(days int, reliability float64, tracking bool) float64 {
	if days <= 0 {
		days = 30
	}
	if reliability <= 0 {
		reliability = 0.95
	}
	var score float64
	switch {
	case days <= 7:
		score = 0.5
	case days <= 14:
		score = 0.4
	case days <= 30:
		score = 0.3
	default:
		score = 0.1
	}
	score += reliability * 0.3
	if tracking {
		score += 0.2
	}
	return clamp01(score)
}

// ReputationScore combines rating, review volume and tenure.
func ReputationScore(rating float64, reviews int, years float64) float64 {
	score := rating*0.4 +
		math.Min(float64(reviews)/100.0, 0.3) +
		math.Min(years/10.0, 0.3)
	return clamp01(score)
}

func recommend(total float64) model.Recommendation {
	switch {
	case total >= AcceptThreshold:
		return model.RecommendAccept
	case total >= NegotiateThreshold:
		return model.RecommendNegotiate
	default:
		return model.RecommendReject
	}
}

// confidence is 1 minus the population variance of the criterion scores.
func confidence(scores map[string]float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var mean float64
	for _, v := range scores {
		mean += v
	}
	mean /= float64(len(scores))
	var variance float64
	for _, v := range scores {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(scores))
	return clamp01(1 - variance)
}

func explain(scores map[string]float64) string {
	var parts []string
	switch p := scores[string(CriterionPrice)]; {
	case p >= 0.8:
		parts = append(parts, "Excellent pricing")
	case p >= 0.6:
		parts = append(parts, "Competitive pricing")
	default:
		parts = append(parts, "High pricing")
	}
	switch q := scores[string(CriterionQuality)]; {
	case q >= 0.8:
		parts = append(parts, "high quality standards")
	case q >= 0.5:
		parts = append(parts, "adequate quality")
	default:
		parts = append(parts, "quality concerns")
	}
	switch dl := scores[string(CriterionDelivery)]; {
	case dl >= 0.8:
		parts = append(parts, "fast delivery")
	case dl >= 0.5:
		parts = append(parts, "reasonable delivery")
	default:
		parts = append(parts, "slow delivery")
	}
	if scores[string(CriterionReputation)] >= 0.7 {
		parts = append(parts, "strong supplier reputation")
	}
	return strings.Join(parts, "; ")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
