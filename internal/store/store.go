// Package store defines the persistence interface for the procurement engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/procurement-engine/internal/model"
)

var (
	// ErrNotFound is returned when a deal or key does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when creating a deal whose id already exists.
	ErrDuplicate = errors.New("store: already exists")
)

// DealStore persists deal records. History lists are append-only; only the
// status and the final snapshot are mutable.
type DealStore interface {
	// CreateDeal persists a new deal record.
	CreateDeal(ctx context.Context, d *model.DealRecord) error

	// GetDeal retrieves a deal by id.
	GetDeal(ctx context.Context, id string) (*model.DealRecord, error)

	// ListDeals returns all deals, newest first.
	ListDeals(ctx context.Context) ([]model.DealRecord, error)

	// AppendEntry appends a message, negotiation round or agreement.
	AppendEntry(ctx context.Context, dealID string, e model.DealEntry) error

	// AddParticipant records a party joining the deal.
	AddParticipant(ctx context.Context, dealID string, p model.Participant) error

	// UpdateStatus sets the status and, when non-nil, the final snapshot.
	UpdateStatus(ctx context.Context, dealID, status string, final *model.DealSnapshot) error
}

// KVStore holds per-agent learned data such as reputations and market trends.
type KVStore interface {
	// LoadKV returns the stored value or ErrNotFound.
	LoadKV(ctx context.Context, key string) ([]byte, error)

	// SaveKV replaces the value under key.
	SaveKV(ctx context.Context, key string, value []byte) error
}

// Store is the full persistence interface.
type Store interface {
	DealStore
	KVStore
}
