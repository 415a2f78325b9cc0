package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/atmx/procurement-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Deals are held in their JSON form so every read returns an independent
// copy with the same round-trip semantics as the durable stores.
type MemoryStore struct {
	mu    sync.RWMutex
	deals map[string][]byte
	kv    map[string][]byte
	now   func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		deals: make(map[string][]byte),
		kv:    make(map[string][]byte),
		now:   time.Now,
	}
}

func (s *MemoryStore) CreateDeal(_ context.Context, d *model.DealRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deals[d.ID]; ok {
		return fmt.Errorf("deal %s: %w", d.ID, ErrDuplicate)
	}
	return s.putLocked(d)
}

func (s *MemoryStore) GetDeal(_ context.Context, id string) (*model.DealRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(id)
}

func (s *MemoryStore) ListDeals(_ context.Context) ([]model.DealRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deals := make([]model.DealRecord, 0, len(s.deals))
	for id := range s.deals {
		d, err := s.getLocked(id)
		if err != nil {
			return nil, err
		}
		deals = append(deals, *d)
	}
	sort.Slice(deals, func(i, j int) bool { return deals[i].CreatedAt.After(deals[j].CreatedAt) })
	return deals, nil
}

func (s *MemoryStore) AppendEntry(_ context.Context, dealID string, e model.DealEntry) error {
	return s.mutate(dealID, func(d *model.DealRecord) { d.Append(e) })
}

func (s *MemoryStore) AddParticipant(_ context.Context, dealID string, p model.Participant) error {
	return s.mutate(dealID, func(d *model.DealRecord) {
		for _, existing := range d.Participants {
			if existing.ID == p.ID {
				return
			}
		}
		d.Participants = append(d.Participants, p)
	})
}

func (s *MemoryStore) UpdateStatus(_ context.Context, dealID, status string, final *model.DealSnapshot) error {
	return s.mutate(dealID, func(d *model.DealRecord) {
		d.Status = status
		if final != nil {
			d.Final = final
		}
	})
}

func (s *MemoryStore) LoadKV(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.kv[key]
	if !ok {
		return nil, fmt.Errorf("key %s: %w", key, ErrNotFound)
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) SaveKV(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) mutate(id string, fn func(d *model.DealRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.getLocked(id)
	if err != nil {
		return err
	}
	fn(d)
	d.UpdatedAt = s.now().UTC()
	return s.putLocked(d)
}

func (s *MemoryStore) getLocked(id string) (*model.DealRecord, error) {
	data, ok := s.deals[id]
	if !ok {
		return nil, fmt.Errorf("deal %s: %w", id, ErrNotFound)
	}
	var d model.DealRecord
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode deal %s: %w", id, err)
	}
	return &d, nil
}

func (s *MemoryStore) putLocked(d *model.DealRecord) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode deal %s: %w", d.ID, err)
	}
	s.deals[d.ID] = data
	return nil
}
