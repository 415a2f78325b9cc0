package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/procurement-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateDeal(ctx context.Context, d *model.DealRecord) error {
	if err := s.primary.CreateDeal(ctx, d); err != nil {
		return err
	}
	s.cacheDeal(ctx, d)
	return nil
}

func (s *CachedStore) AppendEntry(ctx context.Context, dealID string, e model.DealEntry) error {
	if err := s.primary.AppendEntry(ctx, dealID, e); err != nil {
		return err
	}
	s.invalidate(ctx, dealKey(dealID))
	return nil
}

func (s *CachedStore) AddParticipant(ctx context.Context, dealID string, p model.Participant) error {
	if err := s.primary.AddParticipant(ctx, dealID, p); err != nil {
		return err
	}
	s.invalidate(ctx, dealKey(dealID))
	return nil
}

func (s *CachedStore) UpdateStatus(ctx context.Context, dealID, status string, final *model.DealSnapshot) error {
	if err := s.primary.UpdateStatus(ctx, dealID, status, final); err != nil {
		return err
	}
	s.invalidate(ctx, dealKey(dealID))
	return nil
}

func (s *CachedStore) SaveKV(ctx context.Context, key string, value []byte) error {
	if err := s.primary.SaveKV(ctx, key, value); err != nil {
		return err
	}
	s.rdb.Set(ctx, kvKey(key), value, s.ttl)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetDeal(ctx context.Context, id string) (*model.DealRecord, error) {
	data, err := s.rdb.Get(ctx, dealKey(id)).Bytes()
	if err == nil {
		var d model.DealRecord
		if json.Unmarshal(data, &d) == nil {
			return &d, nil
		}
	}

	// Cache miss: read from primary.
	d, err := s.primary.GetDeal(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheDeal(ctx, d)
	return d, nil
}

func (s *CachedStore) LoadKV(ctx context.Context, key string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, kvKey(key)).Bytes()
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, redis.Nil) {
		slog.Warn("redis read failed, using primary", "key", key, "err", err)
	}

	data, err = s.primary.LoadKV(ctx, key)
	if err != nil {
		return nil, err
	}
	s.rdb.Set(ctx, kvKey(key), data, s.ttl)
	return data, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListDeals(ctx context.Context) ([]model.DealRecord, error) {
	return s.primary.ListDeals(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheDeal(ctx context.Context, d *model.DealRecord) {
	if data, err := json.Marshal(d); err == nil {
		s.rdb.Set(ctx, dealKey(d.ID), data, s.ttl)
	}
}

func (s *CachedStore) invalidate(ctx context.Context, key string) {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		slog.Warn("cache invalidation failed", "key", key, "err", err)
	}
}

func dealKey(id string) string { return fmt.Sprintf("deal:%s", id) }
func kvKey(key string) string  { return fmt.Sprintf("kv:%s", key) }
