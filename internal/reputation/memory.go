// Package reputation keeps an agent's learned view of its counterparties and
// markets: per-seller interaction history and per-product price trends.
// Both are persisted through a store.KVStore after every learning event and
// reloaded at startup.
package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/procurement-engine/internal/model"
	"github.com/atmx/procurement-engine/internal/scoring"
	"github.com/atmx/procurement-engine/internal/store"
)

const (
	// NeutralReputation is returned for unknown counterparties.
	NeutralReputation = 0.5

	// TrendCapacity is how many recent prices are kept per product.
	TrendCapacity = 10
)

// Price trend labels.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
	TrendUnknown    = "N/A"
)

type trend struct {
	prices *Ring[decimal.Decimal]
	days   *Ring[int]
}

type trendJSON struct {
	Prices       []decimal.Decimal `json:"prices"`
	DeliveryDays []int             `json:"delivery_days"`
}

// Memory is safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	saveMu   sync.Mutex // orders snapshot writes; taken before mu
	agentID  string
	kv       store.KVStore
	records  map[string]*model.ReputationRecord
	trends   map[string]*trend
	capacity int
	logger   *slog.Logger
}

// NewMemory creates an empty memory for agentID.
func NewMemory(agentID string, kv store.KVStore, logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		agentID:  agentID,
		kv:       kv,
		records:  make(map[string]*model.ReputationRecord),
		trends:   make(map[string]*trend),
		capacity: TrendCapacity,
		logger:   logger.With("agent", agentID),
	}
}

func (m *Memory) reputationKey() string { return m.agentID + "_seller_reputations" }
func (m *Memory) marketKey() string     { return m.agentID + "_market_intelligence" }

// Load reads persisted state. Missing keys are not an error; corrupt data is
// logged and discarded.
func (m *Memory) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if data, err := m.kv.LoadKV(ctx, m.reputationKey()); err == nil {
		var recs map[string]*model.ReputationRecord
		if err := json.Unmarshal(data, &recs); err != nil {
			m.logger.Warn("corrupt reputation data, reinitializing", "err", err)
		} else if recs != nil {
			m.records = recs
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load reputations: %w", err)
	}

	if data, err := m.kv.LoadKV(ctx, m.marketKey()); err == nil {
		var raw map[string]trendJSON
		if err := json.Unmarshal(data, &raw); err != nil {
			m.logger.Warn("corrupt market data, reinitializing", "err", err)
		} else {
			for product, tj := range raw {
				t := m.newTrend()
				for _, p := range tj.Prices {
					t.prices.Push(p)
				}
				for _, dd := range tj.DeliveryDays {
					t.days.Push(dd)
				}
				m.trends[product] = t
			}
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load market data: %w", err)
	}

	m.logger.Info("memory loaded", "sellers", len(m.records), "products", len(m.trends))
	return nil
}

// LearnSellerBehavior appends an interaction and persists.
func (m *Memory) LearnSellerBehavior(ctx context.Context, seller string, in model.Interaction) error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.Lock()
	rec, ok := m.records[seller]
	if !ok {
		rec = &model.ReputationRecord{Counterparty: seller}
		m.records[seller] = rec
	}
	rec.Interactions = append(rec.Interactions, in)

	var accepted int
	var quality float64
	for _, i := range rec.Interactions {
		if i.Accepted {
			accepted++
		}
		quality += i.QualityScore
	}
	n := float64(len(rec.Interactions))
	rec.AcceptanceRate = float64(accepted) / n
	rec.AvgQualityScore = quality / n

	data, err := json.Marshal(m.records)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.logger.Info("learned seller behavior", "seller", seller, "accepted", in.Accepted,
		"interactions", int(n))
	return m.kv.SaveKV(ctx, m.reputationKey(), data)
}

// Reputation returns 0.7*acceptance + 0.3*avg quality in [0,1], or 0.5 for
// an unknown seller.
func (m *Memory) Reputation(seller string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[seller]
	if !ok || len(rec.Interactions) == 0 {
		return NeutralReputation
	}
	r := rec.AcceptanceRate*0.7 + rec.AvgQualityScore*0.3
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}

// Adjustment is the bounded score bonus/penalty for seller.
func (m *Memory) Adjustment(seller string) float64 {
	return scoring.ReputationAdjustment(m.Reputation(seller))
}

// Record returns a copy of seller's record.
func (m *Memory) Record(seller string) (model.ReputationRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[seller]
	if !ok {
		return model.ReputationRecord{Counterparty: seller}, false
	}
	out := *rec
	out.Interactions = append([]model.Interaction(nil), rec.Interactions...)
	return out, true
}

// LearnMarketTrend records a price observation and persists.
func (m *Memory) LearnMarketTrend(ctx context.Context, productID string, price decimal.Decimal, deliveryDays int) error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.Lock()
	t, ok := m.trends[productID]
	if !ok {
		t = m.newTrend()
		m.trends[productID] = t
	}
	t.prices.Push(price)
	t.days.Push(deliveryDays)

	raw := make(map[string]trendJSON, len(m.trends))
	for p, tr := range m.trends {
		raw[p] = trendJSON{Prices: tr.prices.Values(), DeliveryDays: tr.days.Values()}
	}
	data, err := json.Marshal(raw)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.kv.SaveKV(ctx, m.marketKey(), data)
}

// Insight summarizes recent prices for a product.
type Insight struct {
	ProductID       string          `json:"product_id"`
	SampleSize      int             `json:"sample_size"`
	AvgPrice        decimal.Decimal `json:"avg_price"`
	PriceTrend      string          `json:"price_trend"`
	LatestPrice     decimal.Decimal `json:"latest_price"`
	AvgDeliveryDays float64         `json:"avg_delivery_days"`
}

// MarketInsight returns the trend for productID. The trend compares the most
// recent price with the oldest retained one.
func (m *Memory) MarketInsight(productID string) Insight {
	m.mu.RLock()
	defer m.mu.RUnlock()

	in := Insight{ProductID: productID, PriceTrend: TrendUnknown}
	t, ok := m.trends[productID]
	if !ok || t.prices.Len() == 0 {
		return in
	}

	prices := t.prices.Values()
	sum := decimal.Zero
	for _, p := range prices {
		sum = sum.Add(p)
	}
	in.SampleSize = len(prices)
	in.AvgPrice = sum.Div(decimal.NewFromInt(int64(len(prices)))).Round(2)
	in.LatestPrice = prices[len(prices)-1]

	in.PriceTrend = TrendStable
	if len(prices) >= 2 {
		switch first, last := prices[0], prices[len(prices)-1]; {
		case last.GreaterThan(first):
			in.PriceTrend = TrendIncreasing
		case last.LessThan(first):
			in.PriceTrend = TrendDecreasing
		}
	}

	if days := t.days.Values(); len(days) > 0 {
		var total int
		for _, dd := range days {
			total += dd
		}
		in.AvgDeliveryDays = float64(total) / float64(len(days))
	}
	return in
}

func (m *Memory) newTrend() *trend {
	return &trend{prices: NewRing[decimal.Decimal](m.capacity), days: NewRing[int](m.capacity)}
}
