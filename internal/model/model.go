// Package model defines the core domain types shared across the procurement engine.
// All monetary values use shopspring/decimal. Never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RFQ is a buyer's request for quote.
type RFQ struct {
	ProductID     string            `json:"product_id"`
	Quantity      int               `json:"quantity"`
	RequiredSpecs map[string]string `json:"required_specs"`
	MaxBudget     decimal.Decimal   `json:"max_budget"` // zero when undisclosed
}

// RFQBroadcast is the coordinator's fan-out of an RFQ to registered sellers.
type RFQBroadcast struct {
	RFQ          RFQ    `json:"rfq"`
	BuyerAddress string `json:"buyer_address"`
}

// Compliance carries certification, warranty and negotiation flags attached
// to a quote.
type Compliance struct {
	Certifications   map[string]bool `json:"certifications,omitempty"`
	WarrantyMonths   int             `json:"warranty_months,omitempty"`
	Accepted         bool            `json:"accepted,omitempty"`
	WalkedAway       bool            `json:"walked_away,omitempty"`
	NegotiationRound int             `json:"negotiation_round,omitempty"`
}

// CertificationList returns the names of held certifications.
func (c Compliance) CertificationList() []string {
	var out []string
	for name, ok := range c.Certifications {
		if ok {
			out = append(out, name)
		}
	}
	return out
}

// Quote is a seller's priced response, either to an RFQ or to a counter-offer.
type Quote struct {
	ProductID     string          `json:"product_id"`
	PricePerUnit  decimal.Decimal `json:"price_per_unit"`
	DeliveryDays  int             `json:"delivery_days"`
	Compliance    Compliance      `json:"compliance"`
	GeneratedText string          `json:"generated_text"`
}

// CounterOffer is a buyer's revised price proposal.
type CounterOffer struct {
	ProductID     string          `json:"product_id"`
	ProposedPrice decimal.Decimal `json:"proposed_price"`
	Reasoning     string          `json:"reasoning"`
}

// RegisterSeller announces a seller to the coordinator.
type RegisterSeller struct {
	SellerName string `json:"seller_name"`
}

// Offer is the immutable per-round record of a price that was sent.
// A new Offer is created for every round; it is never mutated in place.
type Offer struct {
	ProductID    string          `json:"product_id"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	Quantity     int             `json:"quantity"`
	Reasoning    string          `json:"reasoning"`
	Compliance   *Compliance     `json:"compliance,omitempty"`
}

// Recommendation is the scorer's verdict on an offer.
type Recommendation string

const (
	RecommendAccept    Recommendation = "accept"
	RecommendNegotiate Recommendation = "negotiate"
	RecommendReject    Recommendation = "reject"
)

// ScoreResult is the outcome of one offer evaluation. It is never persisted
// on its own, only embedded in deal records.
type ScoreResult struct {
	TotalScore     float64            `json:"total_score"`
	CriteriaScores map[string]float64 `json:"criteria_scores"`
	Recommendation Recommendation     `json:"recommendation"`
	Confidence     float64            `json:"confidence"`
	Reasoning      string             `json:"reasoning"`
}

// Interaction is one finalized deal outcome with a counterparty.
type Interaction struct {
	Accepted     bool    `json:"accepted"`
	QualityScore float64 `json:"quality_score"`
	Negotiated   bool    `json:"negotiated"`
}

// ReputationRecord is the learned history for one counterparty.
type ReputationRecord struct {
	Counterparty    string        `json:"counterparty"`
	Interactions    []Interaction `json:"interactions"`
	AcceptanceRate  float64       `json:"acceptance_rate"`
	AvgQualityScore float64       `json:"avg_quality_score"`
}

// Deal statuses.
const (
	DealActive = "active"
	DealClosed = "closed"
	DealFailed = "failed"
)

// Deal entry kinds.
const (
	EntryMessage   = "message"
	EntryRound     = "negotiation_round"
	EntryAgreement = "agreement"
)

// Participant is a party to a deal.
type Participant struct {
	ID       string    `json:"id"`
	Role     string    `json:"role"` // "buyer" or "seller"
	JoinedAt time.Time `json:"joined_at"`
}

// DealEntry is one append-only history item of a deal record.
type DealEntry struct {
	ID        string       `json:"id"`
	Kind      string       `json:"kind"`
	Sender    string       `json:"sender"`
	Round     int          `json:"round,omitempty"`
	Offer     *Offer       `json:"offer,omitempty"`
	Score     *ScoreResult `json:"score,omitempty"`
	Note      string       `json:"note,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// DealSnapshot is the final state of a deal written when it terminates.
type DealSnapshot struct {
	State        string          `json:"state"`
	Winner       string          `json:"winner,omitempty"`
	FinalPrice   decimal.Decimal `json:"final_price"`
	Rounds       int             `json:"rounds"`
	PurchaseText string          `json:"purchase_text,omitempty"`
	Remediation  []string        `json:"remediation,omitempty"`
}

// DealRecord is the persisted file for one deal, keyed by deal id.
type DealRecord struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	Participants       []Participant     `json:"participants"`
	Messages           []DealEntry       `json:"messages"`
	NegotiationHistory []DealEntry       `json:"negotiation_history"`
	Agreements         []DealEntry       `json:"agreements"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	Final              *DealSnapshot     `json:"final,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Append adds an entry to the history list matching its kind.
func (d *DealRecord) Append(e DealEntry) {
	switch e.Kind {
	case EntryRound:
		d.NegotiationHistory = append(d.NegotiationHistory, e)
	case EntryAgreement:
		d.Agreements = append(d.Agreements, e)
	default:
		d.Messages = append(d.Messages, e)
	}
}
