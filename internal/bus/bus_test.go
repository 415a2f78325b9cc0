package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/procurement-engine/internal/model"
	"github.com/atmx/procurement-engine/internal/protocol"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func collect(t *testing.T, ctx context.Context, b *Bus, addr string) <-chan protocol.Envelope {
	t.Helper()
	mb, err := b.Register(addr, 1)
	if err != nil {
		t.Fatalf("Register(%s): %v", addr, err)
	}
	out := make(chan protocol.Envelope, 16)
	go mb.Run(ctx, func(_ context.Context, env protocol.Envelope) { out <- env })
	return out
}

func receive(t *testing.T, ch <-chan protocol.Envelope) protocol.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return protocol.Envelope{}
}

func TestBus_SendDelivers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := New()
	inbox := collect(t, ctx, b, "seller_a")

	co := model.CounterOffer{ProductID: "widget", ProposedPrice: d(70), Reasoning: "budget"}
	if err := b.SendMessage(ctx, "buyer", "seller_a", "deal-1", co); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	env := receive(t, inbox)
	msg, err := protocol.Open(env)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got := msg.(model.CounterOffer)
	if !got.ProposedPrice.Equal(d(70)) || env.Sender != "buyer" || env.DealID != "deal-1" {
		t.Errorf("got %+v from %s", got, env.Sender)
	}
}

func TestBus_Errors(t *testing.T) {
	ctx := context.Background()
	b := New()
	if _, err := b.Register("seller_a", 1); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Register("seller_a", 1); !errors.Is(err, ErrAddressInUse) {
		t.Errorf("expected ErrAddressInUse, got %v", err)
	}
	if _, err := b.Register("bad address", 1); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}

	err := b.SendMessage(ctx, "buyer", "nobody", "", model.RegisterSeller{SellerName: "x"})
	if !errors.Is(err, ErrUnknownAddress) {
		t.Errorf("expected ErrUnknownAddress, got %v", err)
	}

	b.Unregister("seller_a")
	if err := b.SendMessage(ctx, "buyer", "seller_a", "", model.RegisterSeller{SellerName: "x"}); !errors.Is(err, ErrUnknownAddress) {
		t.Errorf("after unregister: got %v", err)
	}
}

func TestBus_SendBlocksUntilContextDone(t *testing.T) {
	b := New(WithMailboxSize(1))
	if _, err := b.Register("seller_a", 1); err != nil {
		t.Fatal(err)
	}
	msg := model.RegisterSeller{SellerName: "x"}
	if err := b.SendMessage(context.Background(), "buyer", "seller_a", "", msg); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.SendMessage(ctx, "buyer", "seller_a", "", msg); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestMailbox_DropsMalformed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := New()
	inbox := collect(t, ctx, b, "seller_a")

	if err := b.Deliver(ctx, "seller_a", []byte{0xff, 0xff}); err != nil {
		t.Fatal(err)
	}
	_ = b.SendMessage(ctx, "buyer", "seller_a", "", model.RegisterSeller{SellerName: "ok"})

	env := receive(t, inbox)
	if env.Kind != protocol.KindRegisterSeller {
		t.Errorf("first delivered kind = %s, want register_seller", env.Kind)
	}
}

func TestCoordinator_FansOutRFQ(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := New()
	coord := NewCoordinator(b, nil)
	if err := coord.Start(ctx); err != nil {
		t.Fatal(err)
	}
	inboxA := collect(t, ctx, b, "seller_a")
	inboxB := collect(t, ctx, b, "seller_b")

	for _, s := range []string{"seller_a", "seller_b"} {
		if err := b.SendMessage(ctx, s, CoordinatorAddress, "", model.RegisterSeller{SellerName: s}); err != nil {
			t.Fatal(err)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(coord.Sellers()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := coord.Sellers(); len(got) != 2 {
		t.Fatalf("sellers = %v", got)
	}

	rfq := model.RFQ{ProductID: "widget", Quantity: 100, MaxBudget: d(75)}
	if err := b.SendMessage(ctx, "buyer", CoordinatorAddress, "deal-9", rfq); err != nil {
		t.Fatal(err)
	}

	for _, inbox := range []<-chan protocol.Envelope{inboxA, inboxB} {
		env := receive(t, inbox)
		msg, err := protocol.Open(env)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		bc := msg.(model.RFQBroadcast)
		if bc.BuyerAddress != "buyer" || bc.RFQ.Quantity != 100 || env.DealID != "deal-9" {
			t.Errorf("broadcast = %+v deal=%s", bc, env.DealID)
		}
	}
}
