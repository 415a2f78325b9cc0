// Package reasoning routes natural-language generation requests to external
// model backends with retry, exponential backoff, fallback and rate limiting.
//
// The router never panics or blocks past its boundary: every failure is
// returned as a *Error carrying a Kind, and callers are expected to apply a
// deterministic rule-based fallback.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/atmx/procurement-engine/internal/metrics"
)

// Role selects a route.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Message is one prior conversation turn.
type Message struct {
	Role    string
	Content string
}

// Backend generates text from a model. Implementations may also signal
// failure with a bracketed sentinel such as "[PROVIDER_ERROR: ...]".
type Backend interface {
	Provider() string
	Generate(ctx context.Context, model, prompt, system string, history []Message) (string, error)
}

// Gate admits calls per provider. *ratelimit.Limiter satisfies it.
type Gate interface {
	TryAcquire(provider string) error
	Complete(provider string, success bool)
}

// Target is a provider and model pair.
type Target struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Route is the primary and fallback target for a role.
type Route struct {
	Primary  Target `json:"primary"`
	Fallback Target `json:"fallback"`
}

// Router is safe for concurrent use after construction.
type Router struct {
	backends   map[string]Backend
	routes     map[Role]Route
	gate       Gate
	maxRetries int
	backoff    func() backoff.BackOff
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithBackend registers a backend under its provider name.
func WithBackend(b Backend) Option {
	return func(r *Router) { r.backends[b.Provider()] = b }
}

// WithGate sets the rate-limit gate.
func WithGate(g Gate) Option {
	return func(r *Router) { r.gate = g }
}

// WithMaxRetries sets how many times the primary is tried. Default 3.
func WithMaxRetries(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxRetries = n
		}
	}
}

// WithBackoff replaces the backoff schedule. newBackOff is called once per
// request; a schedule that returns backoff.Stop ends the primary retries
// early. Default ExponentialBackoff.
func WithBackoff(newBackOff func() backoff.BackOff) Option {
	return func(r *Router) { r.backoff = newBackOff }
}

// WithSleep replaces the sleep function.
func WithSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Router) { r.sleep = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates a router for the given role routes.
func NewRouter(routes map[Role]Route, opts ...Option) *Router {
	r := &Router{
		backends:   make(map[string]Backend),
		routes:     routes,
		maxRetries: 3,
		backoff:    ExponentialBackoff,
		sleep:      sleepCtx,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ExponentialBackoff returns a schedule of 1s, 2s, 4s, ... without jitter,
// capped at 30s per wait.
func ExponentialBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Generate runs prompt for role. The primary target is tried up to
// maxRetries times with backoff between attempts, then the fallback once.
func (r *Router) Generate(ctx context.Context, role Role, prompt, system string) (string, error) {
	return r.GenerateWithHistory(ctx, role, prompt, system, nil)
}

// GenerateWithHistory is Generate with prior conversation turns.
func (r *Router) GenerateWithHistory(ctx context.Context, role Role, prompt, system string, history []Message) (string, error) {
	route := r.routes[role]
	primary := r.backends[route.Primary.Provider]
	fallback := r.backends[route.Fallback.Provider]
	if primary == nil && fallback == nil {
		r.logger.Error("no reasoning backends", "role", role)
		return "", &Error{Kind: KindNoBackends, Role: role}
	}

	var (
		last        error
		attempts    int
		onlyLimited = true
	)
	record := func(err error) {
		attempts++
		last = err
		if !errors.Is(err, ErrRateLimited) {
			onlyLimited = false
		}
	}

	if primary != nil {
		schedule := r.backoff()
		for i := 0; i < r.maxRetries; i++ {
			text, err := r.call(ctx, primary, route.Primary.Model, prompt, system, history)
			if err == nil {
				return text, nil
			}
			record(err)
			r.logger.Warn("reasoning attempt failed", "role", role, "provider", primary.Provider(),
				"model", route.Primary.Model, "attempt", i+1, "error", err)
			if ctx.Err() != nil {
				return "", &Error{Kind: KindExhausted, Role: role, Attempts: attempts, Err: ctx.Err()}
			}
			if i < r.maxRetries-1 {
				wait := schedule.NextBackOff()
				if wait == backoff.Stop {
					break
				}
				if err := r.sleep(ctx, wait); err != nil {
					return "", &Error{Kind: KindExhausted, Role: role, Attempts: attempts, Err: err}
				}
			}
		}
	}

	if fallback != nil {
		r.logger.Info("using fallback backend", "role", role, "provider", fallback.Provider(), "model", route.Fallback.Model)
		text, err := r.call(ctx, fallback, route.Fallback.Model, prompt, system, history)
		if err == nil {
			return text, nil
		}
		record(err)
	}

	kind := KindExhausted
	if onlyLimited {
		kind = KindRateLimited
	}
	r.logger.Error("reasoning failed", "role", role, "attempts", attempts, "kind", kind, "error", last)
	return "", &Error{Kind: kind, Role: role, Attempts: attempts, Err: last}
}

func (r *Router) call(ctx context.Context, b Backend, model, prompt, system string, history []Message) (string, error) {
	provider := b.Provider()
	if r.gate != nil {
		if err := r.gate.TryAcquire(provider); err != nil {
			metrics.RateLimitDenials.WithLabelValues(provider).Inc()
			return "", fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}

	start := time.Now()
	text, err := b.Generate(ctx, model, prompt, system, history)
	metrics.ReasoningLatency.WithLabelValues(provider).Observe(time.Since(start).Seconds())

	ok := err == nil && !IsSentinel(text)
	if r.gate != nil {
		r.gate.Complete(provider, ok)
	}
	if !ok {
		metrics.ReasoningCalls.WithLabelValues(provider, "failure").Inc()
		if err == nil {
			err = fmt.Errorf("%w: %s", ErrBackendFailed, truncate(text, 120))
		} else {
			err = fmt.Errorf("%w: %v", ErrBackendFailed, err)
		}
		return "", err
	}
	metrics.ReasoningCalls.WithLabelValues(provider, "success").Inc()
	return text, nil
}

// IsSentinel reports whether text is an error sentinel rather than content.
// Blank text counts as a failure too.
func IsSentinel(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return true
	}
	return strings.HasPrefix(t, "[") && strings.Contains(t, "ERROR")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
