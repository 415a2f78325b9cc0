// Package negotiation implements the per-deal negotiation state machine.
//
// Legal moves are an explicit transition table (from-state × event → to-state
// plus an ordered safeguard list). Safeguards are named pure predicates over a
// read-only session View and an immutable Context; they are injectable so the
// same machine serves buyer-side and seller-side deals. A transition either
// fully applies or leaves the session untouched.
package negotiation

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atmx/procurement-engine/internal/metrics"
)

var (
	// ErrIllegalTransition is returned when no transition is registered for
	// the current state and event.
	ErrIllegalTransition = errors.New("negotiation: no transition for event in current state")

	// ErrSafeguardFailed is returned when a safeguard predicate rejects a
	// transition. The concrete error is a *SafeguardError naming the guard.
	ErrSafeguardFailed = errors.New("negotiation: safeguard failed")
)

// SafeguardError identifies which safeguard rejected a transition.
type SafeguardError struct {
	Guard string
	From  State
	Event Event
}

func (e *SafeguardError) Error() string {
	return fmt.Sprintf("negotiation: safeguard %q rejected %s from %s", e.Guard, e.Event, e.From)
}

func (e *SafeguardError) Is(target error) bool { return target == ErrSafeguardFailed }

// Record is one append-only history entry.
type Record struct {
	From      State     `json:"from_state"`
	To        State     `json:"to_state"`
	Event     Event     `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Context   Context   `json:"context"`
}

// Session is the state owned by one deal. It is only mutated through
// Machine.Transition (and participant bookkeeping).
type Session struct {
	DealID       string    `json:"deal_id"`
	Participants []string  `json:"participants"`
	CurrentState State     `json:"current_state"`
	Round        int       `json:"round"`
	MaxRounds    int       `json:"max_rounds"`
	CreatedAt    time.Time `json:"created_at"`
	LastUpdated  time.Time `json:"last_updated"`
	History      []Record  `json:"state_history"`
}

type tableKey struct {
	from  State
	event Event
}

// Machine is a concurrency-safe negotiation state machine for one deal.
type Machine struct {
	mu      sync.RWMutex
	session Session
	table   map[tableKey]Transition
	guards  map[string]Guard
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithGuard registers or overrides a named safeguard.
func WithGuard(name string, g Guard) Option {
	return func(m *Machine) { m.guards[name] = g }
}

// WithTransitions replaces the transition table.
func WithTransitions(ts []Transition) Option {
	return func(m *Machine) {
		m.table = make(map[tableKey]Transition, len(ts))
		for _, t := range ts {
			m.table[tableKey{t.From, t.Event}] = t
		}
	}
}

// WithTimeout sets how long a session may sit idle before the
// timeout_elapsed safeguard passes. Default 24h.
func WithTimeout(d time.Duration) Option {
	return func(m *Machine) { m.timeout = d }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// NewMachine creates a machine in the initiated state.
func NewMachine(dealID string, maxRounds int, opts ...Option) *Machine {
	if maxRounds < 1 {
		maxRounds = 1
	}
	m := &Machine{
		guards:  DefaultGuards(),
		timeout: 24 * time.Hour,
		now:     time.Now,
	}
	WithTransitions(DefaultTransitions())(m)
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("deal_id", dealID)

	ts := m.now().UTC()
	m.session = Session{
		DealID:       dealID,
		CurrentState: StateInitiated,
		MaxRounds:    maxRounds,
		CreatedAt:    ts,
		LastUpdated:  ts,
	}
	return m
}

// Transition attempts to apply event. All safeguards registered for the
// transition must pass against c; otherwise the session is left unchanged
// and the error names the rejecting guard.
func (m *Machine) Transition(ev Event, c Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.session.CurrentState
	t, ok := m.table[tableKey{from, ev}]
	if !ok {
		m.logger.Warn("illegal transition", "state", from, "event", ev)
		return fmt.Errorf("%w: %s from %s", ErrIllegalTransition, ev, from)
	}

	now := m.now().UTC()
	view := m.viewLocked(now)
	for _, name := range t.Safeguards {
		g, ok := m.guards[name]
		// Unregistered guards fail closed.
		if !ok || !g(view, c) {
			m.logger.Warn("safeguard failed", "guard", name, "state", from, "event", ev)
			metrics.SafeguardRejections.WithLabelValues(name).Inc()
			return &SafeguardError{Guard: name, From: from, Event: ev}
		}
	}

	m.session.History = append(m.session.History, Record{
		From:      from,
		To:        t.To,
		Event:     ev,
		Timestamp: now,
		Context:   c.snapshot(),
	})
	m.session.CurrentState = t.To
	m.session.LastUpdated = now
	if t.AdvancesRound {
		m.session.Round++
	}

	metrics.StateTransitions.WithLabelValues(string(from), string(t.To)).Inc()
	m.logger.Info("state transition", "from", from, "to", t.To, "event", ev, "round", m.session.Round)
	return nil
}

// CanTransition reports whether a transition is registered for ev from the
// current state. Safeguards are not evaluated.
func (m *Machine) CanTransition(ev Event) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.table[tableKey{m.session.CurrentState, ev}]
	return ok
}

// IsFinalState reports whether the session reached a terminal state.
func (m *Machine) IsFinalState() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.CurrentState.IsTerminal()
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.CurrentState
}

// Round returns the current round counter.
func (m *Machine) Round() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Round
}

// Session returns a deep copy of the session.
func (m *Machine) Session() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.session
	s.Participants = append([]string(nil), m.session.Participants...)
	s.History = append([]Record(nil), m.session.History...)
	return s
}

// AddParticipant adds id if not already present.
func (m *Machine) AddParticipant(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.session.Participants {
		if p == id {
			return
		}
	}
	m.session.Participants = append(m.session.Participants, id)
}

// RemoveParticipant removes id and reports whether it was present.
func (m *Machine) RemoveParticipant(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.session.Participants {
		if p == id {
			m.session.Participants = append(m.session.Participants[:i], m.session.Participants[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Machine) viewLocked(now time.Time) View {
	return View{
		DealID:       m.session.DealID,
		State:        m.session.CurrentState,
		Round:        m.session.Round,
		MaxRounds:    m.session.MaxRounds,
		Participants: append([]string(nil), m.session.Participants...),
		LastUpdated:  m.session.LastUpdated,
		Now:          now,
		TimeoutAfter: m.timeout,
	}
}
