package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/procurement-engine/internal/bus"
	"github.com/atmx/procurement-engine/internal/facts"
	"github.com/atmx/procurement-engine/internal/metrics"
	"github.com/atmx/procurement-engine/internal/model"
	"github.com/atmx/procurement-engine/internal/negotiation"
	"github.com/atmx/procurement-engine/internal/policy"
	"github.com/atmx/procurement-engine/internal/protocol"
	"github.com/atmx/procurement-engine/internal/reasoning"
	"github.com/atmx/procurement-engine/internal/session"
)

// certificationsChecked are the certifications a seller reports in quotes.
var certificationsChecked = []string{"ISO9001", "ISO14001", "CE", "RoHS", "UL"}

// SellerConfig wires a seller actor.
type SellerConfig struct {
	Name      string
	Facts     facts.Source
	Reasoner  Reasoner
	Bus       *bus.Bus
	Events    Publisher
	MaxRounds int
	Logger    *slog.Logger
}

type sellerSession struct {
	DealID    string
	ProductID string
	Quantity  int
	Round     int
	LastPrice decimal.Decimal
	MinPrice  decimal.Decimal
	Closed    bool
	Pending   bool // a counter-offer is being answered
	Started   time.Time
	Machine   *negotiation.Machine
}

// sessionTTL bounds how long an unfinished negotiation is kept.
const sessionTTL = time.Hour

// sessionKey scopes a negotiation to one buyer and one deal.
func sessionKey(buyer, dealID string) string {
	return buyer + "/" + dealID
}

// Seller quotes RFQs from its catalog and answers counter-offers.
type Seller struct {
	cfg      SellerConfig
	sessions *session.Store[string, sellerSession]
	logger   *slog.Logger
}

// NewSeller creates a seller actor.
func NewSeller(cfg SellerConfig) *Seller {
	if cfg.MaxRounds < 1 {
		cfg.MaxRounds = DefaultWindows().MaxRounds
	}
	if cfg.Events == nil {
		cfg.Events = nopPublisher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Seller{
		cfg:      cfg,
		sessions: session.New[string, sellerSession](),
		logger:   cfg.Logger.With("agent", cfg.Name),
	}
}

// Name returns the seller's bus address.
func (s *Seller) Name() string { return s.cfg.Name }

// Start registers the seller's mailbox, announces it to the coordinator and
// runs the message loop until ctx is done.
func (s *Seller) Start(ctx context.Context) error {
	mb, err := s.cfg.Bus.Register(s.cfg.Name, 2)
	if err != nil {
		return err
	}
	go mb.Run(ctx, s.Handle)

	reg := model.RegisterSeller{SellerName: s.cfg.Name}
	if err := s.cfg.Bus.SendMessage(ctx, s.cfg.Name, bus.CoordinatorAddress, "", reg); err != nil {
		return fmt.Errorf("register with coordinator: %w", err)
	}
	s.logger.Info("seller started", "strategy", s.cfg.Facts.Strategy())
	return nil
}

// Handle processes one inbound envelope.
func (s *Seller) Handle(ctx context.Context, env protocol.Envelope) {
	msg, err := protocol.Open(env)
	if err != nil {
		metrics.ProtocolViolations.WithLabelValues(protocol.ViolationKind(err)).Inc()
		s.logger.Warn("rejected message", "from", env.Sender, "kind", env.Kind, "err", err)
		return
	}
	switch m := msg.(type) {
	case model.RFQBroadcast:
		s.handleRFQ(ctx, env.DealID, m)
	case model.CounterOffer:
		s.handleCounter(ctx, env.Sender, env.DealID, m)
	default:
		s.logger.Warn("unexpected message", "from", env.Sender, "kind", env.Kind)
	}
}

// Feasible reports whether the seller can serve rfq: enough stock across
// locations, and the required certification when one is named.
func (s *Seller) Feasible(rfq model.RFQ) (bool, string) {
	if stock := facts.TotalStock(s.cfg.Facts, rfq.ProductID); stock < rfq.Quantity {
		return false, fmt.Sprintf("insufficient stock: %d < %d", stock, rfq.Quantity)
	}
	if cert := rfq.RequiredSpecs["certification"]; cert != "" && !s.cfg.Facts.Certification(rfq.ProductID, cert) {
		return false, "missing certification " + cert
	}
	return true, ""
}

func (s *Seller) handleRFQ(ctx context.Context, dealID string, bc model.RFQBroadcast) {
	s.pruneSessions(time.Now())
	rfq := bc.RFQ
	log := s.logger.With("deal_id", dealID, "buyer", bc.BuyerAddress)

	if ok, why := s.Feasible(rfq); !ok {
		log.Info("declining rfq", "product_id", rfq.ProductID, "reason", why)
		return
	}

	dec := s.price(ctx, rfq)
	days := s.cfg.Facts.DeliveryTime(rfq.ProductID)
	warranty := s.cfg.Facts.Warranty(rfq.ProductID)

	text, err := s.cfg.Reasoner.Generate(ctx, reasoning.RoleSeller,
		quoteTextPrompt(rfq, dec, days, warranty), s.cfg.Facts.SystemPrompt())
	if err != nil {
		text = quoteTemplate(rfq, dec, days, warranty)
	}

	quote := model.Quote{
		ProductID:    rfq.ProductID,
		PricePerUnit: dec.QuotedPrice,
		DeliveryDays: days,
		Compliance: model.Compliance{
			Certifications: s.certifications(rfq.ProductID),
			WarrantyMonths: warranty,
		},
		GeneratedText: text,
	}

	m := negotiation.NewMachine(dealID, s.cfg.MaxRounds, negotiation.WithLogger(log))
	m.AddParticipant(bc.BuyerAddress)
	m.AddParticipant(s.cfg.Name)
	if err := m.Transition(negotiation.EventRFQCreated, negotiation.Context{RFQ: &rfq}); err != nil {
		log.Warn("rfq rejected by state machine", "err", err)
		return
	}
	if err := m.Transition(negotiation.EventQuoteReceived, negotiation.Context{Quote: &quote}); err != nil {
		log.Warn("quote rejected by state machine", "err", err)
		return
	}

	s.sessions.Put(sessionKey(bc.BuyerAddress, dealID), sellerSession{
		DealID:    dealID,
		ProductID: rfq.ProductID,
		Quantity:  rfq.Quantity,
		LastPrice: dec.QuotedPrice,
		MinPrice:  s.cfg.Facts.MinAcceptablePrice(rfq.ProductID),
		Started:   time.Now(),
		Machine:   m,
	})

	if err := s.cfg.Bus.SendMessage(ctx, s.cfg.Name, bc.BuyerAddress, dealID, quote); err != nil {
		log.Error("send quote failed", "err", err)
		return
	}
	log.Info("quote sent", "product_id", rfq.ProductID, "tier", dec.ChosenTier,
		"price", dec.QuotedPrice.String(), "reasoning", dec.Reasoning)
	s.publish(EventQuote, dealID, bc.BuyerAddress, rfq.ProductID, dec.QuotedPrice, 0, string(dec.ChosenTier))
}

// pruneSessions drops negotiations the buyer abandoned without a reply.
func (s *Seller) pruneSessions(now time.Time) {
	for key, sess := range s.sessions.Snapshot() {
		if now.Sub(sess.Started) > sessionTTL {
			s.sessions.Delete(key)
		}
	}
}

// Sessions returns the number of open negotiations.
func (s *Seller) Sessions() int { return s.sessions.Len() }

// price chooses a tier and unit price, generated when possible and
// rule-based otherwise. The result is never below the minimum price.
func (s *Seller) price(ctx context.Context, rfq model.RFQ) policy.PricingDecision {
	prices := facts.TierPrices(s.cfg.Facts, rfq.ProductID)
	minPrice := s.cfg.Facts.MinAcceptablePrice(rfq.ProductID)
	rule := policy.RulePricing(prices, rfq.Quantity)

	dec := rule
	text, err := s.cfg.Reasoner.Generate(ctx, reasoning.RoleSeller,
		pricingPrompt(rfq, prices, minPrice, s.cfg.Facts.Strategy()), s.cfg.Facts.SystemPrompt())
	if err != nil {
		s.logger.Warn("pricing fallback", "kind", reasoning.KindOf(err))
	} else {
		var ok bool
		dec, ok = reasoning.DecodeOr(text, rule, func(p policy.PricingDecision) bool {
			return p.ChosenTier != "" && p.QuotedPrice.IsPositive()
		})
		if !ok {
			s.logger.Warn("unparseable pricing decision, using rules")
		}
	}
	return policy.EnforceQuote(dec, prices, rfq.Quantity, minPrice)
}

func (s *Seller) certifications(productID string) map[string]bool {
	out := make(map[string]bool)
	for _, c := range certificationsChecked {
		if s.cfg.Facts.Certification(productID, c) {
			out[c] = true
		}
	}
	return out
}

func (s *Seller) handleCounter(ctx context.Context, buyer, dealID string, co model.CounterOffer) {
	log := s.logger.With("deal_id", dealID, "buyer", buyer)

	key := sessionKey(buyer, dealID)
	sess, ok := s.sessions.Update(key, func(cur sellerSession, ok bool) (sellerSession, bool) {
		if !ok || cur.Closed || cur.Pending {
			return cur, false
		}
		cur.Round++
		cur.Pending = true
		return cur, true
	})
	if !ok {
		log.Warn("counter-offer for unknown, closed or busy negotiation")
		return
	}

	terms := policy.SellerTerms{
		Proposed:  co.ProposedPrice,
		LastPrice: sess.LastPrice,
		MinPrice:  sess.MinPrice,
		Round:     sess.Round,
		MaxRounds: s.cfg.MaxRounds,
	}

	ev := negotiation.EventCounterOffer
	if sess.Machine.State() == negotiation.StateQuotesReceived {
		ev = negotiation.EventNegotiationStarted
	}
	var dec policy.SellerDecision
	if err := sess.Machine.Transition(ev, negotiation.Context{}); err != nil {
		log.Warn("round rejected by state machine", "round", sess.Round, "err", err)
		dec = policy.SellerDecision{Action: policy.ActionWalkAway, CounterPrice: sess.LastPrice,
			Reasoning: "negotiation round limit reached"}
	} else {
		dec = policy.EnforceSeller(terms, s.decide(ctx, co.ProductID, terms))
	}

	reply := model.Quote{
		ProductID:    sess.ProductID,
		PricePerUnit: dec.CounterPrice,
		DeliveryDays: s.cfg.Facts.DeliveryTime(sess.ProductID),
		Compliance: model.Compliance{
			Certifications:   s.certifications(sess.ProductID),
			WarrantyMonths:   s.cfg.Facts.Warranty(sess.ProductID),
			NegotiationRound: sess.Round,
		},
	}

	var evType string
	switch dec.Action {
	case policy.ActionAccept:
		evType = EventAccept
		reply.Compliance.Accepted = true
		reply.GeneratedText = fmt.Sprintf("We accept your offer of $%s/unit for %d units of %s.",
			dec.CounterPrice.StringFixed(2), sess.Quantity, sess.ProductID)
		agreement := &negotiation.Agreement{Counterparty: buyer, ProductID: sess.ProductID,
			Price: dec.CounterPrice, Quantity: sess.Quantity}
		if err := sess.Machine.Transition(negotiation.EventAgreementReached, negotiation.Context{Agreement: agreement}); err != nil {
			log.Warn("agreement rejected by state machine", "err", err)
		}
	case policy.ActionWalkAway:
		evType = EventWalkAway
		reply.Compliance.WalkedAway = true
		reply.GeneratedText = "We are unable to go lower and must decline. " + dec.Reasoning
		if sess.Machine.State() == negotiation.StateNegotiating {
			_ = sess.Machine.Transition(negotiation.EventNegotiationFailed, negotiation.Context{Reason: dec.Reasoning})
		}
	default:
		evType = EventCounter
		reply.GeneratedText = policy.EnsurePriceMentioned(dec.Reasoning, dec.CounterPrice)
		metrics.NegotiationRounds.WithLabelValues("seller").Inc()
	}
	if !reply.PricePerUnit.IsPositive() {
		reply.PricePerUnit = sess.LastPrice
	}

	s.sessions.Update(key, func(cur sellerSession, ok bool) (sellerSession, bool) {
		if !ok || cur.Round != sess.Round {
			return cur, false
		}
		cur.LastPrice = reply.PricePerUnit
		cur.Closed = dec.Action != policy.ActionCounter
		cur.Pending = false
		return cur, true
	})
	if dec.Action != policy.ActionCounter {
		s.sessions.Delete(key)
	}

	if err := s.cfg.Bus.SendMessage(ctx, s.cfg.Name, buyer, dealID, reply); err != nil {
		log.Error("send reply failed", "err", err)
		return
	}
	log.Info("answered counter-offer", "round", sess.Round, "proposed", co.ProposedPrice.String(),
		"decision", dec.Action, "price", reply.PricePerUnit.String())
	s.publish(evType, dealID, buyer, sess.ProductID, reply.PricePerUnit, sess.Round, dec.Reasoning)
}

// decide asks the reasoning backend for a decision and falls back to the
// deterministic rule when it is unavailable or unparseable. Offers far
// below the floor skip the call.
func (s *Seller) decide(ctx context.Context, productID string, t policy.SellerTerms) policy.SellerDecision {
	fallback := policy.SellerFallback(t)
	if policy.ShouldWalkAway(t.Proposed, t.MinPrice) {
		return fallback
	}
	text, err := s.cfg.Reasoner.Generate(ctx, reasoning.RoleSeller,
		decisionPrompt(productID, t, s.cfg.Facts.Strategy()), s.cfg.Facts.SystemPrompt())
	if err != nil {
		s.logger.Warn("decision fallback", "kind", reasoning.KindOf(err))
		return fallback
	}
	dec, ok := reasoning.DecodeOr(text, fallback, func(d policy.SellerDecision) bool {
		switch d.Action {
		case policy.ActionAccept, policy.ActionCounter, policy.ActionWalkAway:
			return true
		}
		return false
	})
	if !ok {
		s.logger.Warn("unparseable decision, using rules")
	}
	return dec
}

func (s *Seller) publish(typ, dealID, buyer, productID string, price decimal.Decimal, round int, detail string) {
	s.cfg.Events.Publish(Event{
		Type:         typ,
		DealID:       dealID,
		Agent:        s.cfg.Name,
		Counterparty: buyer,
		ProductID:    productID,
		Price:        price,
		Round:        round,
		Detail:       detail,
		Timestamp:    time.Now().UTC(),
	})
}
