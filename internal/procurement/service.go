// Package procurement provides the HTTP handlers for running procurements and
// querying deals, seller reputations, market insight and rate-limit status.
//
// All monetary values use shopspring/decimal. Never float64 for money.
package procurement

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/procurement-engine/internal/agent"
	"github.com/atmx/procurement-engine/internal/model"
	"github.com/atmx/procurement-engine/internal/ratelimit"
	"github.com/atmx/procurement-engine/internal/reputation"
	"github.com/atmx/procurement-engine/internal/store"
)

// DefaultMaxActive bounds concurrently running procurements.
const DefaultMaxActive = 8

// Procurer runs one procurement. *agent.Buyer satisfies it.
type Procurer interface {
	Procure(ctx context.Context, rfq model.RFQ) (*agent.Result, error)
}

// RateLimits reports per-provider limiter state. *ratelimit.Limiter
// satisfies it.
type RateLimits interface {
	AllStatus() map[string]ratelimit.Status
}

// Service handles procurement operations.
type Service struct {
	buyer   Procurer
	store   store.DealStore
	memory  *reputation.Memory
	limits  RateLimits
	slots   chan struct{}
	sellers func() []string
}

// NewService creates a procurement service. sellers, when non-nil, lists the
// sellers currently registered with the coordinator.
func NewService(buyer Procurer, st store.DealStore, mem *reputation.Memory, limits RateLimits, sellers func() []string) *Service {
	return &Service{
		buyer:   buyer,
		store:   st,
		memory:  mem,
		limits:  limits,
		slots:   make(chan struct{}, DefaultMaxActive),
		sellers: sellers,
	}
}

// Routes mounts the API under r.
func (s *Service) Routes(r chi.Router) {
	r.Post("/procurements", s.StartProcurement)
	r.Get("/deals", s.ListDeals)
	r.Get("/deals/{dealID}", s.GetDeal)
	r.Get("/sellers", s.ListSellers)
	r.Get("/reputation/{seller}", s.GetReputation)
	r.Get("/market/{productID}", s.GetMarketInsight)
	r.Get("/ratelimit", s.GetRateLimits)
}

// --- Request/Response types ---

// ProcurementRequest is the JSON body for POST /procurements.
type ProcurementRequest struct {
	ProductID     string          `json:"product_id"`
	Quantity      int             `json:"quantity"`
	MaxBudget     decimal.Decimal `json:"max_budget"`    // per unit; 0 when undisclosed
	Certification string          `json:"certification"` // optional, e.g. "ISO9001"
}

// ReputationResponse is the JSON body for GET /reputation/{seller}.
type ReputationResponse struct {
	Seller     string                  `json:"seller"`
	Reputation float64                 `json:"reputation"`
	Adjustment float64                 `json:"rank_adjustment"`
	History    *model.ReputationRecord `json:"history,omitempty"`
}

// --- HTTP Handlers ---

// StartProcurement handles POST /api/v1/procurements. The request runs the
// whole procurement and returns its result.
func (s *Service) StartProcurement(w http.ResponseWriter, r *http.Request) {
	var req ProcurementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rfq := model.RFQ{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		MaxBudget: req.MaxBudget,
	}
	if req.Certification != "" {
		rfq.RequiredSpecs = map[string]string{"certification": req.Certification}
	}

	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	default:
		writeError(w, "too many active procurements", http.StatusTooManyRequests)
		return
	}

	res, err := s.buyer.Procure(r.Context(), rfq)
	if err != nil {
		switch {
		case errors.Is(err, agent.ErrInvalidRFQ):
			writeError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			writeError(w, "procurement interrupted", http.StatusServiceUnavailable)
		default:
			slog.Error("procurement failed", "product_id", req.ProductID, "err", err)
			writeError(w, "procurement failed", http.StatusInternalServerError)
		}
		return
	}

	slog.Info("procurement finished",
		"deal_id", res.DealID,
		"status", res.Status,
		"winner", res.Winner,
		"price", res.Price.String(),
	)
	writeJSON(w, http.StatusOK, res)
}

// ListDeals handles GET /api/v1/deals
func (s *Service) ListDeals(w http.ResponseWriter, r *http.Request) {
	deals, err := s.store.ListDeals(r.Context())
	if err != nil {
		writeError(w, "failed to list deals", http.StatusInternalServerError)
		return
	}
	if deals == nil {
		deals = []model.DealRecord{}
	}
	writeJSON(w, http.StatusOK, deals)
}

// GetDeal handles GET /api/v1/deals/{dealID}
func (s *Service) GetDeal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "dealID")
	deal, err := s.store.GetDeal(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "deal not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load deal", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, deal)
}

// ListSellers handles GET /api/v1/sellers
func (s *Service) ListSellers(w http.ResponseWriter, _ *http.Request) {
	sellers := []string{}
	if s.sellers != nil {
		sellers = append(sellers, s.sellers()...)
	}
	writeJSON(w, http.StatusOK, map[string][]string{"sellers": sellers})
}

// GetReputation handles GET /api/v1/reputation/{seller}. Unknown sellers
// report the neutral reputation without history.
func (s *Service) GetReputation(w http.ResponseWriter, r *http.Request) {
	seller := chi.URLParam(r, "seller")
	resp := ReputationResponse{
		Seller:     seller,
		Reputation: s.memory.Reputation(seller),
		Adjustment: s.memory.Adjustment(seller),
	}
	if rec, ok := s.memory.Record(seller); ok {
		resp.History = &rec
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetMarketInsight handles GET /api/v1/market/{productID}
func (s *Service) GetMarketInsight(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.memory.MarketInsight(chi.URLParam(r, "productID")))
}

// GetRateLimits handles GET /api/v1/ratelimit
func (s *Service) GetRateLimits(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.limits.AllStatus())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
