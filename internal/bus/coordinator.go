package bus

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/atmx/procurement-engine/internal/metrics"
	"github.com/atmx/procurement-engine/internal/model"
	"github.com/atmx/procurement-engine/internal/protocol"
)

// CoordinatorAddress is the well-known address sellers register with.
const CoordinatorAddress = "coordinator"

// Coordinator keeps the seller registry and fans buyer RFQs out to every
// registered seller.
type Coordinator struct {
	bus     *Bus
	mu      sync.RWMutex
	sellers map[string]bool
	logger  *slog.Logger
}

// NewCoordinator creates a coordinator on b.
func NewCoordinator(b *Bus, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		bus:     b,
		sellers: make(map[string]bool),
		logger:  logger.With("agent", CoordinatorAddress),
	}
}

// Sellers returns the registered sellers in sorted order.
func (c *Coordinator) Sellers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.sellers))
	for s := range c.sellers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Start registers the coordinator mailbox and runs it until ctx is done.
func (c *Coordinator) Start(ctx context.Context) error {
	mb, err := c.bus.Register(CoordinatorAddress, 1)
	if err != nil {
		return err
	}
	go mb.Run(ctx, c.Handle)
	return nil
}

// Handle processes one envelope addressed to the coordinator.
func (c *Coordinator) Handle(ctx context.Context, env protocol.Envelope) {
	msg, err := protocol.Open(env)
	if err != nil {
		metrics.ProtocolViolations.WithLabelValues(protocol.ViolationKind(err)).Inc()
		c.logger.Warn("rejected message", "from", env.Sender, "kind", env.Kind, "err", err)
		return
	}

	switch m := msg.(type) {
	case model.RegisterSeller:
		c.mu.Lock()
		c.sellers[env.Sender] = true
		n := len(c.sellers)
		c.mu.Unlock()
		c.logger.Info("seller registered", "seller", env.Sender, "name", m.SellerName, "sellers", n)

	case model.RFQ:
		out := model.RFQBroadcast{RFQ: m, BuyerAddress: env.Sender}
		sellers := c.Sellers()
		for _, s := range sellers {
			if err := c.bus.SendMessage(ctx, CoordinatorAddress, s, env.DealID, out); err != nil {
				c.logger.Warn("rfq fan-out failed", "seller", s, "err", err)
			}
		}
		c.logger.Info("rfq broadcast", "deal_id", env.DealID, "product_id", m.ProductID,
			"quantity", m.Quantity, "sellers", len(sellers))

	default:
		c.logger.Warn("unexpected message", "from", env.Sender, "kind", env.Kind)
	}
}
