package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/procurement-engine/internal/bus"
	"github.com/atmx/procurement-engine/internal/metrics"
	"github.com/atmx/procurement-engine/internal/model"
	"github.com/atmx/procurement-engine/internal/negotiation"
	"github.com/atmx/procurement-engine/internal/policy"
	"github.com/atmx/procurement-engine/internal/protocol"
	"github.com/atmx/procurement-engine/internal/reasoning"
	"github.com/atmx/procurement-engine/internal/reputation"
	"github.com/atmx/procurement-engine/internal/scoring"
	"github.com/atmx/procurement-engine/internal/session"
	"github.com/atmx/procurement-engine/internal/store"
)

// ErrInvalidRFQ is returned by Procure for a malformed request.
var ErrInvalidRFQ = errors.New("agent: invalid rfq")

// Procurement outcomes.
const (
	StatusClosed = "closed"
	StatusFailed = "failed"
)

// BuyerConfig wires a buyer actor.
type BuyerConfig struct {
	Name     string
	Bus      *bus.Bus
	Reasoner Reasoner
	Scorer   *scoring.Scorer
	Memory   *reputation.Memory
	Store    store.DealStore
	Events   Publisher
	Windows  Windows
	Logger   *slog.Logger
}

// RankedQuote is one seller's initial quote with its scores. Rank is lower
// is better; Score.TotalScore is the weighted scorer's view, higher is better.
type RankedQuote struct {
	Seller         string             `json:"seller"`
	Price          decimal.Decimal    `json:"price_per_unit"`
	DeliveryDays   int                `json:"delivery_days"`
	WarrantyMonths int                `json:"warranty_months"`
	Numeric        float64            `json:"numeric_score"`
	Combined       float64            `json:"combined_score"`
	Reputation     float64            `json:"reputation"`
	Rank           float64            `json:"rank_score"`
	Evaluation     scoring.Evaluation `json:"evaluation"`
	Score          model.ScoreResult  `json:"score"`
}

// Result is the outcome of one procurement.
type Result struct {
	DealID        string             `json:"deal_id"`
	Status        string             `json:"status"`
	ProductID     string             `json:"product_id"`
	Quantity      int                `json:"quantity"`
	Winner        string             `json:"winner,omitempty"`
	Price         decimal.Decimal    `json:"price_per_unit"`
	Total         decimal.Decimal    `json:"total"`
	Rounds        int                `json:"rounds"`
	Quotes        int                `json:"quotes"`
	Ranking       []RankedQuote      `json:"ranking"`
	TradeOff      *scoring.TradeOff  `json:"trade_off,omitempty"`
	Insight       reputation.Insight `json:"market_insight"`
	PurchaseOrder string             `json:"purchase_order,omitempty"`
	Reason        string             `json:"reason,omitempty"`
	Remediation   []string           `json:"remediation,omitempty"`
}

// offerState is the buyer's view of one seller within a deal.
type offerState struct {
	Initial    model.Quote
	Latest     model.Quote
	Round      int  // counters sent
	Responded  bool // Latest answers the most recent counter
	Accepted   bool
	WalkedAway bool
	Machine    *negotiation.Machine
}

type deal struct {
	id         string
	rfq        model.RFQ
	collecting atomic.Bool
	deadline   atomic.Int64 // unix nanos
	offers     *session.Store[string, offerState]
}

// Buyer runs procurements: RFQ, quote collection, scoring, negotiation and
// finalization.
type Buyer struct {
	cfg    BuyerConfig
	deals  *session.Store[string, *deal]
	logger *slog.Logger
}

// NewBuyer creates a buyer actor.
func NewBuyer(cfg BuyerConfig) *Buyer {
	if cfg.Windows.MaxRounds < 1 {
		cfg.Windows.MaxRounds = DefaultWindows().MaxRounds
	}
	if cfg.Events == nil {
		cfg.Events = nopPublisher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Scorer == nil {
		cfg.Scorer = scoring.NewScorer(cfg.Logger)
	}
	return &Buyer{
		cfg:    cfg,
		deals:  session.New[string, *deal](),
		logger: cfg.Logger.With("agent", cfg.Name),
	}
}

// Start registers the buyer's mailbox and runs its message loop until ctx
// is done. Quotes are handled by several workers concurrently.
func (b *Buyer) Start(ctx context.Context) error {
	mb, err := b.cfg.Bus.Register(b.cfg.Name, 4)
	if err != nil {
		return err
	}
	go mb.Run(ctx, b.Handle)
	return nil
}

// Handle processes one inbound envelope.
func (b *Buyer) Handle(ctx context.Context, env protocol.Envelope) {
	msg, err := protocol.Open(env)
	if err != nil {
		metrics.ProtocolViolations.WithLabelValues(protocol.ViolationKind(err)).Inc()
		b.logger.Warn("rejected message", "from", env.Sender, "kind", env.Kind, "err", err)
		return
	}
	q, ok := msg.(model.Quote)
	if !ok {
		b.logger.Warn("unexpected message", "from", env.Sender, "kind", env.Kind)
		return
	}
	dl, ok := b.deals.Get(env.DealID)
	if !ok {
		b.logger.Warn("quote for unknown deal", "deal_id", env.DealID, "seller", env.Sender)
		return
	}
	b.recordQuote(ctx, dl, env.Sender, q)
}

func (b *Buyer) recordQuote(ctx context.Context, dl *deal, seller string, q model.Quote) {
	log := b.logger.With("deal_id", dl.id, "seller", seller)

	_, stored := dl.offers.Update(seller, func(cur offerState, ok bool) (offerState, bool) {
		if !ok {
			if !dl.collecting.Load() || q.Compliance.NegotiationRound != 0 {
				return cur, false
			}
			m := negotiation.NewMachine(dl.id, b.cfg.Windows.MaxRounds, negotiation.WithLogger(log))
			m.AddParticipant(b.cfg.Name)
			m.AddParticipant(seller)
			rfq := dl.rfq
			if err := m.Transition(negotiation.EventRFQCreated, negotiation.Context{RFQ: &rfq}); err != nil {
				return cur, false
			}
			deadline := time.Unix(0, dl.deadline.Load())
			if err := m.Transition(negotiation.EventQuoteReceived, negotiation.Context{Quote: &q, Deadline: deadline}); err != nil {
				return cur, false
			}
			return offerState{Initial: q, Latest: q, Machine: m}, true
		}
		if cur.Accepted || cur.WalkedAway || q.Compliance.NegotiationRound == 0 {
			return cur, false
		}
		cur.Latest = q
		cur.Responded = q.Compliance.NegotiationRound >= cur.Round
		cur.Accepted = q.Compliance.Accepted
		cur.WalkedAway = q.Compliance.WalkedAway
		return cur, true
	})
	if !stored {
		log.Info("ignoring quote", "round", q.Compliance.NegotiationRound, "price", q.PricePerUnit.String())
		return
	}

	kind := model.EntryMessage
	if q.Compliance.NegotiationRound > 0 {
		kind = model.EntryRound
	}
	b.appendEntry(ctx, dl.id, model.DealEntry{
		Kind:   kind,
		Sender: seller,
		Round:  q.Compliance.NegotiationRound,
		Offer:  offerFromQuote(q, dl.rfq.Quantity),
		Note:   q.GeneratedText,
	})
	log.Info("quote received", "round", q.Compliance.NegotiationRound, "price", q.PricePerUnit.String(),
		"accepted", q.Compliance.Accepted, "walked_away", q.Compliance.WalkedAway)
}

// Procure runs one procurement to completion. A procurement that ends
// without a qualifying offer is reported through Result.Status, not as an
// error; errors are reserved for invalid input, cancellation and transport
// or persistence failures at the start.
func (b *Buyer) Procure(ctx context.Context, rfq model.RFQ) (*Result, error) {
	if err := protocol.ValidateRFQ(rfq); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRFQ, err)
	}
	start := time.Now()
	metrics.ActiveNegotiations.Inc()
	defer metrics.ActiveNegotiations.Dec()

	w := b.cfg.Windows
	dl := &deal{id: uuid.New().String(), rfq: rfq, offers: session.New[string, offerState]()}
	dl.collecting.Store(true)
	dl.deadline.Store(start.Add(w.Quote).UnixNano())
	b.deals.Put(dl.id, dl)
	defer b.deals.Delete(dl.id)

	log := b.logger.With("deal_id", dl.id, "product_id", rfq.ProductID)
	res := &Result{
		DealID:    dl.id,
		ProductID: rfq.ProductID,
		Quantity:  rfq.Quantity,
		Insight:   b.cfg.Memory.MarketInsight(rfq.ProductID),
	}

	now := start.UTC()
	rec := &model.DealRecord{
		ID:     dl.id,
		Status: model.DealActive,
		Participants: []model.Participant{
			{ID: b.cfg.Name, Role: "buyer", JoinedAt: now},
		},
		Metadata: map[string]string{
			"product_id": rfq.ProductID,
			"quantity":   fmt.Sprint(rfq.Quantity),
			"max_budget": rfq.MaxBudget.String(),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := b.cfg.Store.CreateDeal(ctx, rec); err != nil {
		return nil, fmt.Errorf("create deal: %w", err)
	}
	if err := b.cfg.Bus.SendMessage(ctx, b.cfg.Name, bus.CoordinatorAddress, dl.id, rfq); err != nil {
		return nil, fmt.Errorf("send rfq: %w", err)
	}
	b.appendEntry(ctx, dl.id, model.DealEntry{Kind: model.EntryMessage, Sender: b.cfg.Name,
		Note: fmt.Sprintf("rfq: %d x %s, budget %s", rfq.Quantity, rfq.ProductID, rfq.MaxBudget.StringFixed(2))})
	b.publish(EventRFQ, dl.id, "", rfq.ProductID, rfq.MaxBudget, 0, "")
	log.Info("rfq sent", "quantity", rfq.Quantity, "budget", rfq.MaxBudget.String())

	if err := sleepCtx(ctx, w.Quote); err != nil {
		return nil, err
	}
	if dl.offers.Len() == 0 && w.Extension > 0 {
		log.Info("no quotes yet, extending collection window", "extension", w.Extension)
		dl.deadline.Store(time.Now().Add(w.Extension).UnixNano())
		if err := sleepCtx(ctx, w.Extension); err != nil {
			return nil, err
		}
	}
	dl.collecting.Store(false)

	offers := dl.offers.Snapshot()
	res.Quotes = len(offers)
	if len(offers) == 0 {
		return b.fail(ctx, dl, res, start, "no quotes received"), nil
	}

	res.Ranking = b.rank(ctx, dl, offers)
	b.analyze(log, res)

	best := res.Ranking[0]
	if !policy.NeedsNegotiation(best.Price, rfq.MaxBudget) {
		log.Info("best quote within budget, accepting", "seller", best.Seller, "price", best.Price.String())
		return b.close(ctx, dl, res, start, best.Seller, best.Price), nil
	}

	log.Info("best quote over budget, negotiating", "price", best.Price.String(), "budget", rfq.MaxBudget.String())
	order := make([]string, len(res.Ranking))
	for i, r := range res.Ranking {
		order[i] = r.Seller
	}
	for round := 1; round <= w.MaxRounds; round++ {
		if b.sendCounters(ctx, dl, order, round) == 0 {
			break
		}
		res.Rounds = round
		if err := sleepCtx(ctx, w.Round); err != nil {
			return nil, err
		}
	}
	if b.awaitingReplies(dl) {
		if err := sleepCtx(ctx, w.Finalize); err != nil {
			return nil, err
		}
	}

	winner, price, ok := b.selectWinner(dl, order)
	if !ok {
		return b.fail(ctx, dl, res, start, "no offer within budget"), nil
	}
	return b.close(ctx, dl, res, start, winner, price), nil
}

// rank scores each initial quote and orders them best first.
func (b *Buyer) rank(ctx context.Context, dl *deal, offers map[string]offerState) []RankedQuote {
	benchmark := b.benchmark(dl.rfq.ProductID, offers)
	out := make([]RankedQuote, 0, len(offers))
	for seller, o := range offers {
		q := o.Initial
		ev := b.evaluate(ctx, dl.rfq, seller, q)
		rep := b.cfg.Memory.Reputation(seller)
		numeric := scoring.NumericScore(q.PricePerUnit, q.DeliveryDays, q.Compliance.WarrantyMonths)

		in := scoring.InputFromQuote(seller, q, benchmark)
		in.Specifications = dl.rfq.RequiredSpecs
		in.Rating = rep
		if hist, ok := b.cfg.Memory.Record(seller); ok {
			in.Reviews = len(hist.Interactions)
		}

		rq := RankedQuote{
			Seller:         seller,
			Price:          q.PricePerUnit,
			DeliveryDays:   q.DeliveryDays,
			WarrantyMonths: q.Compliance.WarrantyMonths,
			Numeric:        numeric,
			Combined:       ev.Combined(),
			Reputation:     rep,
			Rank:           scoring.RankScore(numeric, ev.Combined(), rep),
			Evaluation:     ev,
			Score:          b.cfg.Scorer.Score(in),
		}
		out = append(out, rq)

		score := rq.Score
		b.appendEntry(ctx, dl.id, model.DealEntry{
			Kind:   model.EntryRound,
			Sender: seller,
			Offer:  offerFromQuote(q, dl.rfq.Quantity),
			Score:  &score,
			Note:   ev.Reasoning,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].Seller < out[j].Seller
	})
	return out
}

// benchmark is the remembered average price, or the mean of the current
// quotes when there is no history.
func (b *Buyer) benchmark(productID string, offers map[string]offerState) decimal.Decimal {
	if in := b.cfg.Memory.MarketInsight(productID); in.SampleSize > 0 {
		return in.AvgPrice
	}
	sum := decimal.Zero
	for _, o := range offers {
		sum = sum.Add(o.Initial.PricePerUnit)
	}
	return sum.Div(decimal.NewFromInt(int64(len(offers))))
}

// evaluate asks for a qualitative evaluation. Unparseable output yields
// neutral scores; a router failure yields the rule-based evaluation.
func (b *Buyer) evaluate(ctx context.Context, rfq model.RFQ, seller string, q model.Quote) scoring.Evaluation {
	text, err := b.cfg.Reasoner.Generate(ctx, reasoning.RoleBuyer, evaluationPrompt(seller, q, rfq), buyerSystem)
	if err != nil {
		b.logger.Warn("evaluation fallback to rules", "seller", seller, "kind", reasoning.KindOf(err))
		return scoring.RuleBasedEvaluation(q).Normalize()
	}
	ev, ok := reasoning.DecodeOr(text, scoring.NeutralEvaluation(), scoring.Evaluation.Complete)
	if !ok {
		b.logger.Warn("unparseable evaluation, using neutral scores", "seller", seller)
	}
	return ev.Normalize()
}

func (b *Buyer) analyze(log *slog.Logger, res *Result) {
	cands := make([]scoring.Candidate, len(res.Ranking))
	for i, r := range res.Ranking {
		cands[i] = scoring.Candidate{Seller: r.Seller, Price: r.Price, Combined: r.Combined}
	}
	if t, ok := scoring.AnalyzeTradeOff(cands); ok {
		res.TradeOff = &t
		log.Info("price vs quality", "cheapest", t.CheapestSeller, "cheapest_price", t.CheapestPrice.String(),
			"best_quality", t.BestQualitySeller, "premium", t.QualityPremium.String())
	}
	in := res.Insight
	log.Info("market insight", "samples", in.SampleSize, "avg_price", in.AvgPrice.String(), "trend", in.PriceTrend)
}

// sendCounters sends round's counter-offers in rank order and returns how
// many were sent. Round one goes to every open seller; later rounds only to
// sellers that answered the previous round and whose price still warrants
// another attempt.
func (b *Buyer) sendCounters(ctx context.Context, dl *deal, order []string, round int) int {
	budget := dl.rfq.MaxBudget
	var sent int
	for _, seller := range order {
		var proposed, current decimal.Decimal
		_, ok := dl.offers.Update(seller, func(cur offerState, ok bool) (offerState, bool) {
			if !ok || cur.Accepted || cur.WalkedAway || cur.Round != round-1 {
				return cur, false
			}
			current = cur.Latest.PricePerUnit
			if round > 1 && (!cur.Responded || !policy.ShouldContinue(cur.Round, b.cfg.Windows.MaxRounds, current, budget)) {
				return cur, false
			}
			ev := negotiation.EventCounterOffer
			if round == 1 {
				ev = negotiation.EventNegotiationStarted
			}
			if err := cur.Machine.Transition(ev, negotiation.Context{}); err != nil {
				return cur, false
			}
			proposed = policy.BuyerCounter(current, budget)
			cur.Round = round
			cur.Responded = false
			return cur, true
		})
		if !ok {
			continue
		}

		text, err := b.cfg.Reasoner.Generate(ctx, reasoning.RoleBuyer,
			counterPrompt(dl.rfq.ProductID, proposed, current, round), buyerSystem)
		if err != nil {
			text = fmt.Sprintf("Thank you for your quote. Our target for this order is $%s/unit.", proposed.StringFixed(2))
		}
		co := model.CounterOffer{
			ProductID:     dl.rfq.ProductID,
			ProposedPrice: proposed,
			Reasoning:     policy.EnsurePriceMentioned(text, proposed),
		}
		if err := b.cfg.Bus.SendMessage(ctx, b.cfg.Name, seller, dl.id, co); err != nil {
			b.logger.Error("send counter-offer failed", "deal_id", dl.id, "seller", seller, "err", err)
			continue
		}
		sent++
		metrics.NegotiationRounds.WithLabelValues("buyer").Inc()
		b.appendEntry(ctx, dl.id, model.DealEntry{
			Kind:   model.EntryRound,
			Sender: b.cfg.Name,
			Round:  round,
			Offer:  &model.Offer{ProductID: dl.rfq.ProductID, PricePerUnit: proposed, Quantity: dl.rfq.Quantity, Reasoning: co.Reasoning},
		})
		b.publish(EventCounter, dl.id, seller, dl.rfq.ProductID, proposed, round, "")
		b.logger.Info("counter-offer sent", "deal_id", dl.id, "seller", seller, "round", round,
			"current", current.String(), "proposed", proposed.String())
	}
	return sent
}

func (b *Buyer) awaitingReplies(dl *deal) bool {
	for _, o := range dl.offers.Snapshot() {
		if o.Round > 0 && !o.Responded && !o.Accepted && !o.WalkedAway {
			return true
		}
	}
	return false
}

// selectWinner picks the cheapest offer within budget. A seller's acceptance
// above the budget does not qualify. Ties go to the better-ranked seller.
func (b *Buyer) selectWinner(dl *deal, order []string) (string, decimal.Decimal, bool) {
	offers := dl.offers.Snapshot()
	var (
		winner string
		price  decimal.Decimal
	)
	for _, seller := range order {
		o, ok := offers[seller]
		if !ok || o.WalkedAway {
			continue
		}
		p := o.Latest.PricePerUnit
		if !policy.WithinBudget(p, dl.rfq.MaxBudget) {
			continue
		}
		if winner == "" || p.LessThan(price) {
			winner, price = seller, p
		}
	}
	return winner, price, winner != ""
}

func (b *Buyer) close(ctx context.Context, dl *deal, res *Result, start time.Time, winner string, price decimal.Decimal) *Result {
	log := b.logger.With("deal_id", dl.id)
	offers := dl.offers.Snapshot()
	won := offers[winner]

	agreement := &negotiation.Agreement{Counterparty: winner, ProductID: dl.rfq.ProductID, Price: price, Quantity: dl.rfq.Quantity}
	for _, ev := range []negotiation.Event{negotiation.EventAgreementReached, negotiation.EventDealClosed} {
		if err := won.Machine.Transition(ev, negotiation.Context{Agreement: agreement}); err != nil {
			log.Warn("winner transition rejected", "event", ev, "err", err)
		}
	}
	for seller, o := range offers {
		if seller != winner && o.Machine.State() == negotiation.StateNegotiating {
			_ = o.Machine.Transition(negotiation.EventCancellation, negotiation.Context{Reason: "another supplier was selected"})
		}
	}

	b.learn(ctx, res, offers, winner)
	if err := b.cfg.Memory.LearnMarketTrend(ctx, dl.rfq.ProductID, price, won.Latest.DeliveryDays); err != nil {
		log.Error("persist market trend failed", "err", err)
	}

	po, err := b.cfg.Reasoner.Generate(ctx, reasoning.RoleBuyer, purchaseOrderPrompt(dl.id, winner, dl.rfq, price), buyerSystem)
	if err != nil {
		po = purchaseOrderTemplate(dl.id, winner, dl.rfq, price)
	}

	res.Status = StatusClosed
	res.Winner = winner
	res.Price = price
	res.Total = price.Mul(decimal.NewFromInt(int64(dl.rfq.Quantity)))
	res.PurchaseOrder = po

	b.appendEntry(ctx, dl.id, model.DealEntry{
		Kind:   model.EntryAgreement,
		Sender: b.cfg.Name,
		Round:  won.Round,
		Offer:  &model.Offer{ProductID: dl.rfq.ProductID, PricePerUnit: price, Quantity: dl.rfq.Quantity, Reasoning: "agreed terms"},
		Note:   po,
	})
	if err := b.cfg.Store.AddParticipant(ctx, dl.id, model.Participant{ID: winner, Role: "seller", JoinedAt: time.Now().UTC()}); err != nil {
		log.Error("persist participant failed", "err", err)
	}
	b.finish(ctx, dl, res, start, &model.DealSnapshot{
		State:        string(negotiation.StateDealClosed),
		Winner:       winner,
		FinalPrice:   price,
		Rounds:       res.Rounds,
		PurchaseText: po,
	})
	b.publish(EventDealClosed, dl.id, winner, dl.rfq.ProductID, price, res.Rounds, "")
	log.Info("deal closed", "winner", winner, "price", price.String(), "rounds", res.Rounds)
	return res
}

func (b *Buyer) fail(ctx context.Context, dl *deal, res *Result, start time.Time, reason string) *Result {
	offers := dl.offers.Snapshot()
	for _, o := range offers {
		if o.Machine.State() == negotiation.StateNegotiating {
			_ = o.Machine.Transition(negotiation.EventNegotiationFailed, negotiation.Context{Reason: reason})
		}
	}
	b.learn(ctx, res, offers, "")

	res.Status = StatusFailed
	res.Reason = reason
	res.Remediation = policy.Remediation()

	b.finish(ctx, dl, res, start, &model.DealSnapshot{
		State:       string(negotiation.StateFailed),
		Rounds:      res.Rounds,
		Remediation: res.Remediation,
	})
	b.publish(EventFailed, dl.id, "", dl.rfq.ProductID, decimal.Zero, res.Rounds, reason)
	b.logger.Warn("procurement failed", "deal_id", dl.id, "reason", reason, "quotes", res.Quotes)
	return res
}

// learn records the winner as accepted and sellers that walked away as
// not accepted. Quality is 1 - rank score.
func (b *Buyer) learn(ctx context.Context, res *Result, offers map[string]offerState, winner string) {
	for _, r := range res.Ranking {
		o := offers[r.Seller]
		if r.Seller != winner && !o.WalkedAway {
			continue
		}
		in := model.Interaction{
			Accepted:     r.Seller == winner,
			QualityScore: clampUnit(1 - r.Rank),
			Negotiated:   o.Round > 0,
		}
		if err := b.cfg.Memory.LearnSellerBehavior(ctx, r.Seller, in); err != nil {
			b.logger.Error("persist reputation failed", "seller", r.Seller, "err", err)
		}
	}
}

func (b *Buyer) finish(ctx context.Context, dl *deal, res *Result, start time.Time, snap *model.DealSnapshot) {
	status := model.DealClosed
	if res.Status == StatusFailed {
		status = model.DealFailed
	}
	if err := b.cfg.Store.UpdateStatus(ctx, dl.id, status, snap); err != nil {
		b.logger.Error("persist deal status failed", "deal_id", dl.id, "err", err)
	}
	metrics.Deals.WithLabelValues(res.Status).Inc()
	metrics.DealDuration.Observe(time.Since(start).Seconds())
}

func (b *Buyer) appendEntry(ctx context.Context, dealID string, e model.DealEntry) {
	e.ID = uuid.New().String()
	e.Timestamp = time.Now().UTC()
	if err := b.cfg.Store.AppendEntry(ctx, dealID, e); err != nil {
		b.logger.Error("persist deal entry failed", "deal_id", dealID, "kind", e.Kind, "err", err)
	}
}

func (b *Buyer) publish(typ, dealID, seller, productID string, price decimal.Decimal, round int, detail string) {
	b.cfg.Events.Publish(Event{
		Type:         typ,
		DealID:       dealID,
		Agent:        b.cfg.Name,
		Counterparty: seller,
		ProductID:    productID,
		Price:        price,
		Round:        round,
		Detail:       detail,
		Timestamp:    time.Now().UTC(),
	})
}

func offerFromQuote(q model.Quote, qty int) *model.Offer {
	c := q.Compliance
	if c.Certifications != nil {
		certs := make(map[string]bool, len(c.Certifications))
		for k, v := range c.Certifications {
			certs[k] = v
		}
		c.Certifications = certs
	}
	return &model.Offer{
		ProductID:    q.ProductID,
		PricePerUnit: q.PricePerUnit,
		Quantity:     qty,
		Reasoning:    q.GeneratedText,
		Compliance:   &c,
	}
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
