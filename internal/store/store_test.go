package store

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atmx/procurement-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newDeal(id string) *model.DealRecord {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &model.DealRecord{
		ID:     id,
		Status: model.DealActive,
		Participants: []model.Participant{
			{ID: "buyer", Role: "buyer", JoinedAt: ts},
		},
		Metadata:  map[string]string{"product_id": "widget"},
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

func sampleOffer() *model.Offer {
	return &model.Offer{
		ProductID:    "widget",
		PricePerUnit: decimal.RequireFromString("72.35"),
		Quantity:     150,
		Reasoning:    "volume commitment",
		Compliance: &model.Compliance{
			Certifications:   map[string]bool{"ISO9001": true},
			WarrantyMonths:   18,
			Accepted:         true,
			NegotiationRound: 2,
		},
	}
}

func TestMemoryStore_OfferRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateDeal(ctx, newDeal("deal-1")); err != nil {
		t.Fatalf("CreateDeal: %v", err)
	}

	offer := sampleOffer()
	entry := model.DealEntry{
		ID: "e1", Kind: model.EntryRound, Sender: "seller_a", Round: 2,
		Offer:     offer,
		Timestamp: time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC),
	}
	if err := s.AppendEntry(ctx, "deal-1", entry); err != nil {
		t.Fatalf("AppendEntry: %v", err)
	}

	got, err := s.GetDeal(ctx, "deal-1")
	if err != nil {
		t.Fatalf("GetDeal: %v", err)
	}
	if len(got.NegotiationHistory) != 1 {
		t.Fatalf("negotiation history = %d, want 1", len(got.NegotiationHistory))
	}
	reloaded := got.NegotiationHistory[0].Offer
	if !reloaded.PricePerUnit.Equal(offer.PricePerUnit) || reloaded.PricePerUnit.String() != "72.35" {
		t.Errorf("price = %s, want 72.35", reloaded.PricePerUnit)
	}
	reloaded.PricePerUnit = offer.PricePerUnit
	if !reflect.DeepEqual(reloaded, offer) {
		t.Errorf("offer mismatch:\n got %+v\nwant %+v", reloaded, offer)
	}
}

func TestMemoryStore_ReadsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateDeal(ctx, newDeal("deal-1"))

	got, _ := s.GetDeal(ctx, "deal-1")
	got.Status = "tampered"
	got.Metadata["product_id"] = "tampered"

	again, _ := s.GetDeal(ctx, "deal-1")
	if again.Status != model.DealActive || again.Metadata["product_id"] != "widget" {
		t.Error("external mutation leaked into store")
	}
}

func TestMemoryStore_EntriesRouteByKind(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateDeal(ctx, newDeal("deal-1"))

	for i, kind := range []string{model.EntryMessage, model.EntryRound, model.EntryAgreement, model.EntryMessage} {
		e := model.DealEntry{ID: string(rune('a' + i)), Kind: kind, Sender: "x"}
		if err := s.AppendEntry(ctx, "deal-1", e); err != nil {
			t.Fatalf("AppendEntry: %v", err)
		}
	}
	got, _ := s.GetDeal(ctx, "deal-1")
	if len(got.Messages) != 2 || len(got.NegotiationHistory) != 1 || len(got.Agreements) != 1 {
		t.Errorf("messages=%d rounds=%d agreements=%d", len(got.Messages), len(got.NegotiationHistory), len(got.Agreements))
	}
	if got.Messages[0].ID != "a" || got.Messages[1].ID != "d" {
		t.Error("messages out of order")
	}
}

func TestMemoryStore_StatusAndParticipants(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateDeal(ctx, newDeal("deal-1"))

	p := model.Participant{ID: "seller_a", Role: "seller"}
	_ = s.AddParticipant(ctx, "deal-1", p)
	_ = s.AddParticipant(ctx, "deal-1", p)

	final := &model.DealSnapshot{State: "deal_closed", Winner: "seller_a", FinalPrice: d(68.5)}
	if err := s.UpdateStatus(ctx, "deal-1", model.DealClosed, final); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	got, _ := s.GetDeal(ctx, "deal-1")
	if len(got.Participants) != 2 {
		t.Errorf("participants = %d, want 2", len(got.Participants))
	}
	if got.Status != model.DealClosed || got.Final == nil || got.Final.Winner != "seller_a" {
		t.Errorf("status=%s final=%+v", got.Status, got.Final)
	}
}

func TestMemoryStore_Errors(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateDeal(ctx, newDeal("deal-1"))

	if err := s.CreateDeal(ctx, newDeal("deal-1")); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
	if _, err := s.GetDeal(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.AppendEntry(ctx, "missing", model.DealEntry{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.LoadKV(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ListDealsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	older := newDeal("old")
	newer := newDeal("new")
	newer.CreatedAt = older.CreatedAt.Add(time.Hour)
	_ = s.CreateDeal(ctx, older)
	_ = s.CreateDeal(ctx, newer)

	deals, err := s.ListDeals(ctx)
	if err != nil {
		t.Fatalf("ListDeals: %v", err)
	}
	if len(deals) != 2 || deals[0].ID != "new" {
		t.Errorf("order = %v", deals)
	}
}

func newCached(t *testing.T) (*CachedStore, *MemoryStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	primary := NewMemoryStore()
	return NewCachedStore(primary, rdb, time.Minute), primary, mr
}

func TestCachedStore_ReadThroughAndInvalidate(t *testing.T) {
	ctx := context.Background()
	cs, primary, mr := newCached(t)

	if err := cs.CreateDeal(ctx, newDeal("deal-1")); err != nil {
		t.Fatalf("CreateDeal: %v", err)
	}
	if !mr.Exists("deal:deal-1") {
		t.Fatal("expected deal to be cached on create")
	}

	if err := cs.AppendEntry(ctx, "deal-1", model.DealEntry{ID: "m1", Kind: model.EntryMessage, Sender: "buyer"}); err != nil {
		t.Fatalf("AppendEntry: %v", err)
	}
	if mr.Exists("deal:deal-1") {
		t.Fatal("expected cache invalidation after append")
	}

	got, err := cs.GetDeal(ctx, "deal-1")
	if err != nil {
		t.Fatalf("GetDeal: %v", err)
	}
	if len(got.Messages) != 1 {
		t.Errorf("messages = %d, want 1", len(got.Messages))
	}
	if !mr.Exists("deal:deal-1") {
		t.Error("expected read to repopulate cache")
	}

	// A primary-only change is invisible until the cache entry goes away.
	_ = primary.UpdateStatus(ctx, "deal-1", model.DealFailed, nil)
	cached, _ := cs.GetDeal(ctx, "deal-1")
	if cached.Status != model.DealActive {
		t.Errorf("status = %s, want cached active", cached.Status)
	}
	mr.FastForward(2 * time.Minute)
	fresh, _ := cs.GetDeal(ctx, "deal-1")
	if fresh.Status != model.DealFailed {
		t.Errorf("status = %s after TTL, want failed", fresh.Status)
	}
}

func TestCachedStore_KV(t *testing.T) {
	ctx := context.Background()
	cs, primary, mr := newCached(t)

	if _, err := cs.LoadKV(ctx, "buyer_seller_reputations"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := cs.SaveKV(ctx, "buyer_seller_reputations", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("SaveKV: %v", err)
	}
	if v, _ := mr.Get("kv:buyer_seller_reputations"); v != `{"a":1}` {
		t.Errorf("cached value = %q", v)
	}

	_ = primary.SaveKV(ctx, "other", []byte("x"))
	v, err := cs.LoadKV(ctx, "other")
	if err != nil || string(v) != "x" {
		t.Errorf("LoadKV = %q, %v", v, err)
	}
}
