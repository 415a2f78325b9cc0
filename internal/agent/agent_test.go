package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/procurement-engine/internal/bus"
	"github.com/atmx/procurement-engine/internal/facts"
	"github.com/atmx/procurement-engine/internal/model"
	"github.com/atmx/procurement-engine/internal/protocol"
	"github.com/atmx/procurement-engine/internal/reasoning"
	"github.com/atmx/procurement-engine/internal/reputation"
	"github.com/atmx/procurement-engine/internal/session"
	"github.com/atmx/procurement-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// offline behaves like a router with every backend exhausted.
type offline struct{}

func (offline) Generate(context.Context, reasoning.Role, string, string) (string, error) {
	return "", &reasoning.Error{Kind: reasoning.KindExhausted}
}

// scripted answers prompts containing a key and fails everything else.
type scripted map[string]string

func (s scripted) Generate(_ context.Context, _ reasoning.Role, prompt, _ string) (string, error) {
	for key, out := range s {
		if strings.Contains(prompt, key) {
			return out, nil
		}
	}
	return "", &reasoning.Error{Kind: reasoning.KindExhausted}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func testWindows() Windows {
	return Windows{
		Quote:     150 * time.Millisecond,
		Extension: 50 * time.Millisecond,
		Round:     150 * time.Millisecond,
		Finalize:  150 * time.Millisecond,
		MaxRounds: 3,
	}
}

type market struct {
	buyer  *Buyer
	store  *store.MemoryStore
	memory *reputation.Memory
	events *recorder
}

func startMarket(t *testing.T, ctx context.Context, catalogs []*facts.Catalog) *market {
	t.Helper()
	b := bus.New()
	coord := bus.NewCoordinator(b, nil)
	if err := coord.Start(ctx); err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	events := &recorder{}
	for _, c := range catalogs {
		s := NewSeller(SellerConfig{Name: c.Seller, Facts: c, Reasoner: offline{}, Bus: b, Events: events, MaxRounds: 3})
		if err := s.Start(ctx); err != nil {
			t.Fatalf("seller %s: %v", c.Seller, err)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(coord.Sellers()) < len(catalogs) {
		if time.Now().After(deadline) {
			t.Fatalf("sellers registered: %v", coord.Sellers())
		}
		time.Sleep(5 * time.Millisecond)
	}

	st := store.NewMemoryStore()
	mem := reputation.NewMemory("buyer", st, nil)
	buyer := NewBuyer(BuyerConfig{
		Name: "buyer", Bus: b, Reasoner: offline{}, Memory: mem, Store: st,
		Events: events, Windows: testWindows(),
	})
	if err := buyer.Start(ctx); err != nil {
		t.Fatalf("buyer: %v", err)
	}
	return &market{buyer: buyer, store: st, memory: mem, events: events}
}

func TestProcure_OverBudgetNegotiatesDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := startMarket(t, ctx, facts.DemoCatalogs())

	res, err := m.buyer.Procure(ctx, model.RFQ{ProductID: "widget", Quantity: 100, MaxBudget: d(75)})
	if err != nil {
		t.Fatalf("Procure: %v", err)
	}
	if res.Quotes != 2 {
		t.Fatalf("quotes = %d, want 2", res.Quotes)
	}
	if res.Status == StatusFailed {
		if len(res.Remediation) == 0 {
			t.Error("failed procurement without remediation")
		}
		return
	}
	if res.Price.GreaterThan(d(75)) {
		t.Errorf("final price %s above budget 75", res.Price)
	}
	if res.Rounds < 1 {
		t.Errorf("rounds = %d, want negotiation", res.Rounds)
	}
	if res.PurchaseOrder == "" || !strings.Contains(res.PurchaseOrder, res.DealID) {
		t.Errorf("purchase order = %q", res.PurchaseOrder)
	}

	rec, err := m.store.GetDeal(ctx, res.DealID)
	if err != nil {
		t.Fatalf("GetDeal: %v", err)
	}
	if rec.Status != model.DealClosed || rec.Final == nil || rec.Final.Winner != res.Winner {
		t.Errorf("stored deal = %+v", rec)
	}
	if len(rec.NegotiationHistory) == 0 || len(rec.Agreements) != 1 {
		t.Errorf("history = %d entries, agreements = %d", len(rec.NegotiationHistory), len(rec.Agreements))
	}
	if _, ok := m.memory.Record(res.Winner); !ok {
		t.Error("winner not learned")
	}
	if in := m.memory.MarketInsight("widget"); in.SampleSize != 1 || !in.LatestPrice.Equal(res.Price) {
		t.Errorf("insight = %+v", in)
	}
}

func TestProcure_WithinBudgetClosesWithoutRounds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := startMarket(t, ctx, facts.DemoCatalogs())

	// bulk tier: seller_b quotes 68.50, seller_a 72.00
	res, err := m.buyer.Procure(ctx, model.RFQ{ProductID: "widget", Quantity: 200, MaxBudget: d(100)})
	if err != nil {
		t.Fatalf("Procure: %v", err)
	}
	if res.Status != StatusClosed {
		t.Fatalf("status = %s (%s)", res.Status, res.Reason)
	}
	if res.Rounds != 0 {
		t.Errorf("rounds = %d, want 0", res.Rounds)
	}
	if res.Winner != res.Ranking[0].Seller {
		t.Errorf("winner %s, best ranked %s", res.Winner, res.Ranking[0].Seller)
	}
	if !res.Total.Equal(res.Price.Mul(decimal.NewFromInt(200))) {
		t.Errorf("total = %s", res.Total)
	}
	if res.TradeOff == nil || res.TradeOff.CheapestSeller != "seller_b" || !res.TradeOff.CheapestPrice.Equal(d(68.5)) {
		t.Errorf("trade-off = %+v", res.TradeOff)
	}
	for _, typ := range m.events.types() {
		if typ == EventCounter {
			t.Error("counter-offer sent for a within-budget quote")
		}
	}
}

func TestProcure_NoQuotesFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := startMarket(t, ctx, facts.DemoCatalogs())

	// neither demo seller stocks 5000 units
	res, err := m.buyer.Procure(ctx, model.RFQ{ProductID: "widget", Quantity: 5000, MaxBudget: d(75)})
	if err != nil {
		t.Fatalf("Procure: %v", err)
	}
	if res.Status != StatusFailed || res.Quotes != 0 || len(res.Remediation) == 0 {
		t.Errorf("result = %+v", res)
	}
	rec, _ := m.store.GetDeal(ctx, res.DealID)
	if rec == nil || rec.Status != model.DealFailed {
		t.Errorf("stored deal = %+v", rec)
	}
}

func TestProcure_OverlappingProcurementsBothNegotiate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := startMarket(t, ctx, facts.DemoCatalogs())

	results := make([]*Result, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.buyer.Procure(ctx, model.RFQ{ProductID: "widget", Quantity: 100, MaxBudget: d(75)})
		}(i)
		time.Sleep(40 * time.Millisecond)
	}
	wg.Wait()

	for i, res := range results {
		if errs[i] != nil {
			t.Fatalf("procurement %d: %v", i, errs[i])
		}
		if res.Status != StatusClosed {
			t.Errorf("procurement %d: status = %s (%s) after %d rounds", i, res.Status, res.Reason, res.Rounds)
			continue
		}
		if res.Price.GreaterThan(d(75)) {
			t.Errorf("procurement %d: price %s above budget", i, res.Price)
		}
	}
	if results[0].DealID == results[1].DealID {
		t.Error("procurements share a deal id")
	}
}

func TestSelectWinner_IgnoresAcceptanceAboveBudget(t *testing.T) {
	b := NewBuyer(BuyerConfig{Name: "buyer"})
	dl := &deal{id: "deal-1", rfq: model.RFQ{ProductID: "widget", Quantity: 100, MaxBudget: d(75)},
		offers: session.New[string, offerState]()}
	dl.offers.Put("seller_a", offerState{Latest: model.Quote{PricePerUnit: d(80)}, Accepted: true})
	dl.offers.Put("seller_b", offerState{Latest: model.Quote{PricePerUnit: d(74.5)}})
	dl.offers.Put("seller_c", offerState{Latest: model.Quote{PricePerUnit: d(70)}, WalkedAway: true})

	order := []string{"seller_a", "seller_b", "seller_c"}
	winner, price, ok := b.selectWinner(dl, order)
	if !ok || winner != "seller_b" || !price.Equal(d(74.5)) {
		t.Errorf("winner = %s @ %s (%v), want seller_b @ 74.5", winner, price, ok)
	}

	dl.offers.Delete("seller_b")
	if winner, price, ok := b.selectWinner(dl, order); ok {
		t.Errorf("winner = %s @ %s, want none above budget", winner, price)
	}
}

func TestProcure_RejectsInvalidRFQ(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := startMarket(t, ctx, nil)

	if _, err := m.buyer.Procure(ctx, model.RFQ{ProductID: "widget", Quantity: 0}); err == nil {
		t.Error("expected error for zero quantity")
	}
}

// sellerHarness drives one seller directly and captures its replies.
type sellerHarness struct {
	seller *Seller
	bus    *bus.Bus
	inbox  chan protocol.Envelope
}

func newSellerHarness(t *testing.T, ctx context.Context, r Reasoner) *sellerHarness {
	t.Helper()
	b := bus.New()
	mb, err := b.Register("buyer", 1)
	if err != nil {
		t.Fatal(err)
	}
	inbox := make(chan protocol.Envelope, 16)
	go mb.Run(ctx, func(_ context.Context, env protocol.Envelope) { inbox <- env })

	cat := facts.DemoCatalogs()[1] // seller_b, minimum 60
	s := NewSeller(SellerConfig{Name: cat.Seller, Facts: cat, Reasoner: r, Bus: b, MaxRounds: 3})
	return &sellerHarness{seller: s, bus: b, inbox: inbox}
}

func (h *sellerHarness) send(t *testing.T, ctx context.Context, msg any) model.Quote {
	t.Helper()
	return h.sendFor(t, ctx, "deal-1", msg)
}

func (h *sellerHarness) sendFor(t *testing.T, ctx context.Context, dealID string, msg any) model.Quote {
	t.Helper()
	env, err := protocol.Seal("buyer", h.seller.Name(), dealID, msg)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	h.seller.Handle(ctx, env)
	select {
	case reply := <-h.inbox:
		out, err := protocol.Open(reply)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		return out.(model.Quote)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply from seller")
	}
	return model.Quote{}
}

func (h *sellerHarness) quote(t *testing.T, ctx context.Context) model.Quote {
	return h.send(t, ctx, model.RFQBroadcast{
		RFQ:          model.RFQ{ProductID: "widget", Quantity: 100, MaxBudget: d(75)},
		BuyerAddress: "buyer",
	})
}

func (h *sellerHarness) counter(t *testing.T, ctx context.Context, price float64) model.Quote {
	return h.send(t, ctx, model.CounterOffer{ProductID: "widget", ProposedPrice: d(price), Reasoning: "our budget is firm"})
}

func TestSeller_QuotesTierPrice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newSellerHarness(t, ctx, offline{})

	q := h.quote(t, ctx)
	if !q.PricePerUnit.Equal(d(76)) {
		t.Errorf("price = %s, want wholesale 76", q.PricePerUnit)
	}
	if q.Compliance.NegotiationRound != 0 || !q.Compliance.Certifications["ISO9001"] {
		t.Errorf("compliance = %+v", q.Compliance)
	}
	if !strings.Contains(q.GeneratedText, "76.00") {
		t.Errorf("text = %q", q.GeneratedText)
	}
}

func TestSeller_WalksAwayFarBelowMinimum(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newSellerHarness(t, ctx, offline{})
	h.quote(t, ctx)

	reply := h.counter(t, ctx, 50)
	if !reply.Compliance.WalkedAway || reply.Compliance.Accepted {
		t.Errorf("reply = %+v, want walk away", reply.Compliance)
	}
	if reply.Compliance.NegotiationRound != 1 {
		t.Errorf("round = %d", reply.Compliance.NegotiationRound)
	}
}

func TestSeller_NeverCountersBelowMinimum(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newSellerHarness(t, ctx, offline{})
	h.quote(t, ctx)

	r1 := h.counter(t, ctx, 70)
	if r1.Compliance.Accepted || !r1.PricePerUnit.Equal(d(73)) {
		t.Errorf("round 1 = %s accepted=%v, want counter 73", r1.PricePerUnit, r1.Compliance.Accepted)
	}
	r2 := h.counter(t, ctx, 58)
	if r2.Compliance.Accepted || r2.Compliance.WalkedAway {
		t.Fatalf("round 2 = %+v, want counter", r2.Compliance)
	}
	if r2.PricePerUnit.LessThan(d(60)) {
		t.Errorf("round 2 counter %s below minimum 60", r2.PricePerUnit)
	}
}

func TestSeller_OverridesGeneratedAcceptBelowMinimum(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newSellerHarness(t, ctx, scripted{
		"Decide whether": `{"decision": "accept", "counter_price": 58, "reasoning": "happy to close"}`,
	})
	h.quote(t, ctx)
	h.counter(t, ctx, 70)

	reply := h.counter(t, ctx, 58)
	if reply.Compliance.Accepted {
		t.Fatal("accepted 58 below minimum 60")
	}
	if !reply.PricePerUnit.Equal(d(60)) {
		t.Errorf("counter = %s, want 60", reply.PricePerUnit)
	}
	if !strings.Contains(reply.GeneratedText, "60.00") {
		t.Errorf("text %q does not state the counter price", reply.GeneratedText)
	}
}

func TestSeller_NeverAcceptsInFirstRound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newSellerHarness(t, ctx, scripted{
		"Decide whether": "```json\n{\"decision\": \"accept\", \"counter_price\": 72, \"reasoning\": \"deal\"}\n```",
	})
	h.quote(t, ctx)

	reply := h.counter(t, ctx, 72)
	if reply.Compliance.Accepted {
		t.Fatal("accepted in round one")
	}
	if !reply.PricePerUnit.Equal(d(74)) {
		t.Errorf("counter = %s, want midpoint 74", reply.PricePerUnit)
	}
}

func TestSeller_RoundLimitForcesDecision(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newSellerHarness(t, ctx, offline{})
	h.quote(t, ctx)

	h.counter(t, ctx, 70)
	h.counter(t, ctx, 59)
	last := h.counter(t, ctx, 59)
	if !last.Compliance.WalkedAway {
		t.Errorf("round 3 below minimum = %+v, want walk away", last.Compliance)
	}

	// the negotiation is closed; further counters get no reply
	env, _ := protocol.Seal("buyer", h.seller.Name(), "deal-1",
		model.CounterOffer{ProductID: "widget", ProposedPrice: d(65), Reasoning: "one more try"})
	h.seller.Handle(ctx, env)
	select {
	case got := <-h.inbox:
		t.Errorf("unexpected reply %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSeller_KeepsOverlappingDealsApart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newSellerHarness(t, ctx, offline{})
	rfq := model.RFQBroadcast{
		RFQ:          model.RFQ{ProductID: "widget", Quantity: 100, MaxBudget: d(75)},
		BuyerAddress: "buyer",
	}
	h.sendFor(t, ctx, "deal-1", rfq)
	h.sendFor(t, ctx, "deal-2", rfq)
	if n := h.seller.Sessions(); n != 2 {
		t.Fatalf("sessions = %d, want 2", n)
	}

	counter := model.CounterOffer{ProductID: "widget", ProposedPrice: d(70), Reasoning: "our budget is firm"}
	first := h.sendFor(t, ctx, "deal-1", counter)
	if first.Compliance.NegotiationRound != 1 || !first.PricePerUnit.Equal(d(73)) {
		t.Errorf("deal-1 reply = %s round %d, want 73 round 1", first.PricePerUnit, first.Compliance.NegotiationRound)
	}
	second := h.sendFor(t, ctx, "deal-2", counter)
	if second.Compliance.NegotiationRound != 1 || !second.PricePerUnit.Equal(d(73)) {
		t.Errorf("deal-2 reply = %s round %d, want 73 round 1", second.PricePerUnit, second.Compliance.NegotiationRound)
	}

	// a closed negotiation is forgotten; the other one stays open
	if reply := h.sendFor(t, ctx, "deal-1", model.CounterOffer{ProductID: "widget", ProposedPrice: d(50),
		Reasoning: "final offer"}); !reply.Compliance.WalkedAway {
		t.Errorf("deal-1 reply = %+v, want walk away", reply.Compliance)
	}
	if n := h.seller.Sessions(); n != 1 {
		t.Errorf("sessions = %d, want 1", n)
	}
}

func TestSeller_IgnoresCounterWhileAnswering(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newSellerHarness(t, ctx, offline{})
	h.quote(t, ctx)

	key := sessionKey("buyer", "deal-1")
	h.seller.sessions.Update(key, func(cur sellerSession, ok bool) (sellerSession, bool) {
		cur.Pending = true
		return cur, ok
	})
	env, _ := protocol.Seal("buyer", h.seller.Name(), "deal-1",
		model.CounterOffer{ProductID: "widget", ProposedPrice: d(70), Reasoning: "duplicate"})
	h.seller.Handle(ctx, env)
	select {
	case got := <-h.inbox:
		t.Errorf("unexpected reply %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
	if sess, _ := h.seller.sessions.Get(key); sess.Round != 0 {
		t.Errorf("round = %d, want 0", sess.Round)
	}
}

func TestSeller_DeclinesInfeasibleRFQ(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newSellerHarness(t, ctx, offline{})

	ok, why := h.seller.Feasible(model.RFQ{ProductID: "widget", Quantity: 100,
		RequiredSpecs: map[string]string{"certification": "CE"}})
	if ok || !strings.Contains(why, "CE") {
		t.Errorf("Feasible = %v, %q", ok, why)
	}
	if ok, _ := h.seller.Feasible(model.RFQ{ProductID: "widget", Quantity: 401}); ok {
		t.Error("feasible beyond stock")
	}
	if ok, _ := h.seller.Feasible(model.RFQ{ProductID: "widget", Quantity: 400}); !ok {
		t.Error("infeasible within stock")
	}
}
