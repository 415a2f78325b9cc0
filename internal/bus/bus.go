// Package bus is the in-process asynchronous transport between actors.
//
// Each address owns a buffered mailbox of encoded envelopes. Actors never
// share memory: Send encodes the envelope onto the recipient's mailbox and
// the recipient's own loop decodes and dispatches it. Undecodable messages
// are counted as protocol violations and dropped.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/atmx/procurement-engine/internal/metrics"
	"github.com/atmx/procurement-engine/internal/protocol"
)

var (
	ErrUnknownAddress = errors.New("bus: unknown address")
	ErrAddressInUse   = errors.New("bus: address already registered")
	ErrMailboxClosed  = errors.New("bus: mailbox closed")
	ErrInvalidAddress = errors.New("bus: invalid address")
)

// DefaultMailboxSize is the per-address buffer.
const DefaultMailboxSize = 256

// Handler processes one decoded envelope.
type Handler func(ctx context.Context, env protocol.Envelope)

// Mailbox is one registered address.
type Mailbox struct {
	addr    string
	ch      chan []byte
	done    chan struct{}
	once    sync.Once
	workers int
	logger  *slog.Logger
}

// Addr returns the mailbox address.
func (m *Mailbox) Addr() string { return m.addr }

// Bus routes envelopes between registered mailboxes.
type Bus struct {
	mu     sync.RWMutex
	boxes  map[string]*Mailbox
	size   int
	logger *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithMailboxSize sets the buffer for new mailboxes.
func WithMailboxSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.size = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		boxes:  make(map[string]*Mailbox),
		size:   DefaultMailboxSize,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register creates a mailbox for addr. workers is how many goroutines Run
// uses to dispatch messages; values below one mean one.
func (b *Bus) Register(addr string, workers int) (*Mailbox, error) {
	if !protocol.ValidAddress(addr) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	if workers < 1 {
		workers = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.boxes[addr]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAddressInUse, addr)
	}
	m := &Mailbox{
		addr:    addr,
		ch:      make(chan []byte, b.size),
		done:    make(chan struct{}),
		workers: workers,
		logger:  b.logger.With("addr", addr),
	}
	b.boxes[addr] = m
	return m, nil
}

// Unregister closes and removes addr's mailbox. Pending messages are dropped.
func (b *Bus) Unregister(addr string) {
	b.mu.Lock()
	m, ok := b.boxes[addr]
	delete(b.boxes, addr)
	b.mu.Unlock()
	if ok {
		m.close()
	}
}

// Send validates, encodes and enqueues env for its recipient. It blocks while
// the recipient's mailbox is full, until ctx is done.
func (b *Bus) Send(ctx context.Context, env protocol.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	b.mu.RLock()
	m, ok := b.boxes[env.Recipient]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAddress, env.Recipient)
	}

	data := env.Encode()
	select {
	case m.ch <- data:
		return nil
	case <-m.done:
		return fmt.Errorf("%w: %s", ErrMailboxClosed, env.Recipient)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendMessage seals msg into an envelope and sends it.
func (b *Bus) SendMessage(ctx context.Context, from, to, dealID string, msg any) error {
	env, err := protocol.Seal(from, to, dealID, msg)
	if err != nil {
		return err
	}
	return b.Send(ctx, env)
}

// Deliver enqueues raw bytes for addr without validation. It exists for
// peers that speak the wire format directly.
func (b *Bus) Deliver(ctx context.Context, addr string, data []byte) error {
	b.mu.RLock()
	m, ok := b.boxes[addr]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAddress, addr)
	}
	select {
	case m.ch <- data:
		return nil
	case <-m.done:
		return fmt.Errorf("%w: %s", ErrMailboxClosed, addr)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addresses returns the registered addresses.
func (b *Bus) Addresses() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.boxes))
	for a := range b.boxes {
		out = append(out, a)
	}
	return out
}

// Run dispatches messages to h until ctx is done or the mailbox is closed.
func (m *Mailbox) Run(ctx context.Context, h Handler) {
	var wg sync.WaitGroup
	for i := 0; i < m.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.loop(ctx, h)
		}()
	}
	wg.Wait()
}

func (m *Mailbox) loop(ctx context.Context, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case data := <-m.ch:
			env, err := protocol.DecodeEnvelope(data)
			if err != nil {
				kind := protocol.ViolationKind(err)
				metrics.ProtocolViolations.WithLabelValues(kind).Inc()
				m.logger.Warn("dropping malformed envelope", "kind", kind, "err", err)
				continue
			}
			if env.Recipient != m.addr {
				metrics.ProtocolViolations.WithLabelValues("misrouted").Inc()
				m.logger.Warn("dropping misrouted envelope", "recipient", env.Recipient)
				continue
			}
			h(ctx, env)
		}
	}
}

func (m *Mailbox) close() {
	m.once.Do(func() { close(m.done) })
}
