// Package ratelimit gates outbound reasoning calls per provider.
//
// Each provider has independent minute, hour and day sliding windows plus a
// burst budget. The burst budget is a token bucket refilled at one token per
// minute; only successful calls take a token, and a bucket with no token left
// denies further requests. A request is denied when any window is at capacity
// or the burst budget is spent.
//
// Window counts are computed from the retained timestamps on every check, so
// they always agree with the stored set. Timestamps older than 24h are purged
// by a periodic cleanup rather than on every call.
package ratelimit

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrMinuteLimit is returned when the provider's per-minute window is full.
	ErrMinuteLimit = errors.New("ratelimit: per-minute limit reached")

	// ErrHourLimit is returned when the provider's per-hour window is full.
	ErrHourLimit = errors.New("ratelimit: per-hour limit reached")

	// ErrDayLimit is returned when the provider's per-day window is full.
	ErrDayLimit = errors.New("ratelimit: per-day limit reached")

	// ErrBurstExhausted is returned when the burst budget is spent.
	ErrBurstExhausted = errors.New("ratelimit: burst tokens exhausted")

	// ErrInvalidLimits is returned by UpdateLimits for non-positive limits.
	ErrInvalidLimits = errors.New("ratelimit: limits must be positive")
)

const (
	burstRefillPerSecond = 1.0 / 60.0
	retention           = 24 * time.Hour
	defaultCleanupEvery = 5 * time.Minute
)

// Default providers.
const (
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
	ProviderMistral    = "mistral"
)

// Limits are the per-provider capacities.
type Limits struct {
	PerMinute int `json:"requests_per_minute"`
	PerHour   int `json:"requests_per_hour"`
	PerDay    int `json:"requests_per_day"`
	Burst     int `json:"burst_limit"`
}

// DefaultLimits returns 60/min, 1000/h, 10000/day, burst 10.
func DefaultLimits() Limits {
	return Limits{PerMinute: 60, PerHour: 1000, PerDay: 10000, Burst: 10}
}

func (l Limits) valid() bool {
	return l.PerMinute > 0 && l.PerHour > 0 && l.PerDay > 0 && l.Burst > 0
}

type window struct {
	limits    Limits
	calls     []time.Time // ascending
	bucket    *rate.Limiter
	successes int
	failures  int
}

func newWindow(lim Limits) *window {
	return &window{limits: lim, bucket: rate.NewLimiter(rate.Limit(burstRefillPerSecond), lim.Burst)}
}

// Limiter is safe for concurrent use.
type Limiter struct {
	mu           sync.Mutex
	windows      map[string]*window
	defaults     Limits
	now          func() time.Time
	cleanupEvery time.Duration
	lastCleanup  time.Time
	logger       *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithDefaults sets the limits applied to providers without explicit limits.
func WithDefaults(lim Limits) Option {
	return func(l *Limiter) { l.defaults = lim }
}

// WithProvider registers a provider with explicit limits.
func WithProvider(name string, lim Limits) Option {
	return func(l *Limiter) { l.windows[name] = newWindow(lim) }
}

// WithCleanupInterval sets how often old timestamps are purged.
func WithCleanupInterval(d time.Duration) Option {
	return func(l *Limiter) { l.cleanupEvery = d }
}

// WithLogger sets the logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Limiter) { l.logger = lg }
}

// New creates a limiter with the default providers registered.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		windows:      make(map[string]*window),
		defaults:     DefaultLimits(),
		now:          time.Now,
		cleanupEvery: defaultCleanupEvery,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	for _, p := range []string{ProviderOpenRouter, ProviderGemini, ProviderMistral} {
		if _, ok := l.windows[p]; !ok {
			l.windows[p] = newWindow(l.defaults)
		}
	}
	l.lastCleanup = l.now()
	return l
}

// CanMakeRequest reports whether a call to provider would be admitted now.
func (l *Limiter) CanMakeRequest(provider string) bool {
	return l.Check(provider) == nil
}

// Check returns nil when a call would be admitted, or the limit that denies it.
func (l *Limiter) Check(provider string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.maybeCleanupLocked(now)
	return l.checkLocked(l.windowLocked(provider), now)
}

// TryAcquire admits and records a call atomically. Call Complete with the
// outcome once the call returns.
func (l *Limiter) TryAcquire(provider string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.maybeCleanupLocked(now)
	w := l.windowLocked(provider)
	if err := l.checkLocked(w, now); err != nil {
		l.logger.Warn("rate limit denied", "provider", provider, "reason", err)
		return fmt.Errorf("%s: %w", provider, err)
	}
	w.calls = append(w.calls, now)
	return nil
}

// Complete records the outcome of a call admitted by TryAcquire.
func (l *Limiter) Complete(provider string, success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	w := l.windowLocked(provider)
	if success {
		w.successes++
		// Admission was already checked, so the bucket may go into debt.
		w.bucket.ReserveN(now, 1)
	} else {
		w.failures++
	}
}

// RecordRequest records a call that was made without TryAcquire.
func (l *Limiter) RecordRequest(provider string, success bool) {
	l.mu.Lock()
	now := l.now()
	w := l.windowLocked(provider)
	w.calls = append(w.calls, now)
	l.mu.Unlock()
	l.Complete(provider, success)
}

// WaitTime returns how long until a call to provider would be admitted.
func (l *Limiter) WaitTime(provider string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	return l.waitLocked(l.windowLocked(provider), now)
}

// Status is a point-in-time view of one provider.
type Status struct {
	Provider    string        `json:"provider"`
	Limits      Limits        `json:"limits"`
	MinuteCount int           `json:"requests_last_minute"`
	HourCount   int           `json:"requests_last_hour"`
	DayCount    int           `json:"requests_last_day"`
	BurstTokens float64       `json:"burst_tokens"`
	Successes   int           `json:"successful_requests"`
	Failures    int           `json:"failed_requests"`
	CanRequest  bool          `json:"can_make_request"`
	WaitTime    time.Duration `json:"wait_time"`
}

// Status returns the current status of provider.
func (l *Limiter) Status(provider string) Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statusLocked(provider, l.now())
}

// AllStatus returns the status of every known provider.
func (l *Limiter) AllStatus() map[string]Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	out := make(map[string]Status, len(l.windows))
	for name := range l.windows {
		out[name] = l.statusLocked(name, now)
	}
	return out
}

// Reset clears the history of provider, or of every provider when provider
// is empty.
func (l *Limiter) Reset(provider string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for name, w := range l.windows {
		if provider != "" && name != provider {
			continue
		}
		l.windows[name] = newWindow(w.limits)
	}
	l.logger.Info("rate limiter reset", "provider", provider)
}

// UpdateLimits replaces the limits of provider. The burst bucket keeps its
// current token count under the new capacity.
func (l *Limiter) UpdateLimits(provider string, lim Limits) error {
	if !lim.valid() {
		return ErrInvalidLimits
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	w := l.windowLocked(provider)
	w.limits = lim
	w.bucket.SetBurstAt(now, lim.Burst)
	l.logger.Info("rate limits updated", "provider", provider,
		"per_minute", lim.PerMinute, "per_hour", lim.PerHour, "per_day", lim.PerDay, "burst", lim.Burst)
	return nil
}

func (l *Limiter) windowLocked(provider string) *window {
	w, ok := l.windows[provider]
	if !ok {
		w = newWindow(l.defaults)
		l.windows[provider] = w
	}
	return w
}

func (l *Limiter) checkLocked(w *window, now time.Time) error {
	switch {
	case countSince(w.calls, now.Add(-time.Minute)) >= w.limits.PerMinute:
		return ErrMinuteLimit
	case countSince(w.calls, now.Add(-time.Hour)) >= w.limits.PerHour:
		return ErrHourLimit
	case countSince(w.calls, now.Add(-retention)) >= w.limits.PerDay:
		return ErrDayLimit
	case w.bucket.TokensAt(now) <= 0:
		return ErrBurstExhausted
	}
	return nil
}

func (l *Limiter) waitLocked(w *window, now time.Time) time.Duration {
	var wait time.Duration
	windows := []struct {
		span  time.Duration
		limit int
	}{
		{time.Minute, w.limits.PerMinute},
		{time.Hour, w.limits.PerHour},
		{retention, w.limits.PerDay},
	}
	for _, win := range windows {
		recent := w.calls[firstSince(w.calls, now.Add(-win.span)):]
		if len(recent) < win.limit {
			continue
		}
		// The window frees up once enough of the oldest calls age out.
		release := recent[len(recent)-win.limit].Add(win.span).Sub(now)
		if release > wait {
			wait = release
		}
	}
	if tokens := w.bucket.TokensAt(now); tokens <= 0 {
		burstWait := time.Duration((-tokens/burstRefillPerSecond)*float64(time.Second)) + time.Second
		if burstWait > wait {
			wait = burstWait
		}
	}
	return wait
}

func (l *Limiter) statusLocked(provider string, now time.Time) Status {
	w := l.windowLocked(provider)
	return Status{
		Provider:    provider,
		Limits:      w.limits,
		MinuteCount: countSince(w.calls, now.Add(-time.Minute)),
		HourCount:   countSince(w.calls, now.Add(-time.Hour)),
		DayCount:    countSince(w.calls, now.Add(-retention)),
		BurstTokens: float64(w.limits.Burst) - w.bucket.TokensAt(now),
		Successes:   w.successes,
		Failures:    w.failures,
		CanRequest:  l.checkLocked(w, now) == nil,
		WaitTime:    l.waitLocked(w, now),
	}
}

func (l *Limiter) maybeCleanupLocked(now time.Time) {
	if now.Sub(l.lastCleanup) < l.cleanupEvery {
		return
	}
	cutoff := now.Add(-retention)
	purged := 0
	for _, w := range l.windows {
		i := firstSince(w.calls, cutoff)
		purged += i
		w.calls = append(w.calls[:0:0], w.calls[i:]...)
	}
	l.lastCleanup = now
	if purged > 0 {
		l.logger.Debug("rate limiter cleanup", "purged", purged)
	}
}

// firstSince returns the index of the first timestamp strictly after cutoff.
func firstSince(calls []time.Time, cutoff time.Time) int {
	return sort.Search(len(calls), func(i int) bool { return calls[i].After(cutoff) })
}

func countSince(calls []time.Time, cutoff time.Time) int {
	return len(calls) - firstSince(calls, cutoff)
}
