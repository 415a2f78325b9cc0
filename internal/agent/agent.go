// Package agent implements the buyer and seller actors.
//
// Each actor owns a mailbox on the bus and a session store keyed by
// counterparty address. Actors talk only through messages; a buyer never
// reads seller state and vice versa. Generated content (pricing choices,
// evaluations, negotiation decisions, message text) always has a
// deterministic fallback, and the policy package's hard rules are applied
// after every generated decision.
package agent

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/procurement-engine/internal/reasoning"
)

// Reasoner produces text for a role. *reasoning.Router satisfies it.
type Reasoner interface {
	Generate(ctx context.Context, role reasoning.Role, prompt, system string) (string, error)
}

// Event types published to observers.
const (
	EventRFQ        = "rfq"
	EventQuote      = "quote"
	EventCounter    = "counter"
	EventAccept     = "accept"
	EventWalkAway   = "walk_away"
	EventDealClosed = "deal_closed"
	EventFailed     = "failed"
)

// Event is one observable negotiation step.
type Event struct {
	Type         string          `json:"type"`
	DealID       string          `json:"deal_id"`
	Agent        string          `json:"agent"`
	Counterparty string          `json:"counterparty,omitempty"`
	ProductID    string          `json:"product_id,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Round        int             `json:"round"`
	Detail       string          `json:"detail,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Publisher receives negotiation events. Publish must not block.
type Publisher interface {
	Publish(Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}

// Windows are the fixed waits of a procurement.
type Windows struct {
	Quote     time.Duration // initial quote collection
	Extension time.Duration // added once when no quote arrived
	Round     time.Duration // after each counter-offer round
	Finalize  time.Duration // before picking the winner
	MaxRounds int
}

// DefaultWindows returns 30s/10s/8s/15s and three rounds.
func DefaultWindows() Windows {
	return Windows{
		Quote:     30 * time.Second,
		Extension: 10 * time.Second,
		Round:     8 * time.Second,
		Finalize:  15 * time.Second,
		MaxRounds: 3,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
