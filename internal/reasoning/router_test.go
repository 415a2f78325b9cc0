package reasoning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/atmx/procurement-engine/internal/ratelimit"
)

type scriptedBackend struct {
	mu        sync.Mutex
	name      string
	responses []string
	errs      []error
	calls     int
	models    []string
}

func (b *scriptedBackend) Provider() string { return b.name }

func (b *scriptedBackend) Generate(_ context.Context, model, _, _ string, _ []Message) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.calls
	b.calls++
	b.models = append(b.models, model)
	var err error
	if i < len(b.errs) {
		err = b.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(b.responses) {
		return b.responses[i], nil
	}
	return b.responses[len(b.responses)-1], nil
}

func (b *scriptedBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type sleepRecorder struct {
	slept []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return nil
}

func routes() map[Role]Route {
	return map[Role]Route{
		RoleBuyer:  {Primary: Target{"primary", "big-model"}, Fallback: Target{"backup", "small-model"}},
		RoleSeller: {Primary: Target{"primary", "big-model"}, Fallback: Target{"backup", "small-model"}},
	}
}

func TestGenerate_PrimarySucceeds(t *testing.T) {
	p := &scriptedBackend{name: "primary", responses: []string{"hello"}}
	r := NewRouter(routes(), WithBackend(p))

	got, err := r.Generate(context.Background(), RoleBuyer, "hi", "sys")
	if err != nil || got != "hello" {
		t.Fatalf("Generate = %q, %v", got, err)
	}
	if p.models[0] != "big-model" {
		t.Errorf("model = %s, want big-model", p.models[0])
	}
}

func TestGenerate_RetriesSentinelWithBackoff(t *testing.T) {
	p := &scriptedBackend{name: "primary", responses: []string{"[PROVIDER_ERROR: overloaded]", "[API_ERROR: 500]", "finally"}}
	sr := &sleepRecorder{}
	r := NewRouter(routes(), WithBackend(p), WithSleep(sr.Sleep))

	got, err := r.Generate(context.Background(), RoleSeller, "hi", "")
	if err != nil || got != "finally" {
		t.Fatalf("Generate = %q, %v", got, err)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(sr.slept) != len(want) {
		t.Fatalf("slept %v, want %v", sr.slept, want)
	}
	for i := range want {
		if sr.slept[i] != want[i] {
			t.Errorf("backoff[%d] = %v, want %v", i, sr.slept[i], want[i])
		}
	}
}

func TestGenerate_FallsBackOnceAfterPrimaryExhausted(t *testing.T) {
	boom := errors.New("connection refused")
	p := &scriptedBackend{name: "primary", errs: []error{boom, boom, boom}, responses: []string{""}}
	f := &scriptedBackend{name: "backup", responses: []string{"from fallback"}}
	sr := &sleepRecorder{}
	r := NewRouter(routes(), WithBackend(p), WithBackend(f), WithSleep(sr.Sleep))

	got, err := r.Generate(context.Background(), RoleBuyer, "hi", "")
	if err != nil || got != "from fallback" {
		t.Fatalf("Generate = %q, %v", got, err)
	}
	if p.Calls() != 3 || f.Calls() != 1 {
		t.Errorf("calls primary=%d fallback=%d, want 3/1", p.Calls(), f.Calls())
	}
	if f.models[0] != "small-model" {
		t.Errorf("fallback model = %s", f.models[0])
	}
}

func TestExponentialBackoff_DoublesUpToCap(t *testing.T) {
	b := ExponentialBackoff()
	want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	for i, w := range want {
		if got := b.NextBackOff(); got != w*time.Second {
			t.Errorf("wait[%d] = %v, want %v", i, got, w*time.Second)
		}
	}
}

func TestGenerate_StoppedScheduleSkipsToFallback(t *testing.T) {
	boom := errors.New("connection refused")
	p := &scriptedBackend{name: "primary", errs: []error{boom, boom, boom}, responses: []string{""}}
	f := &scriptedBackend{name: "backup", responses: []string{"from fallback"}}
	sr := &sleepRecorder{}
	r := NewRouter(routes(), WithBackend(p), WithBackend(f), WithSleep(sr.Sleep),
		WithBackoff(func() backoff.BackOff { return &backoff.StopBackOff{} }))

	got, err := r.Generate(context.Background(), RoleBuyer, "hi", "")
	if err != nil || got != "from fallback" {
		t.Fatalf("Generate = %q, %v", got, err)
	}
	if p.Calls() != 1 || len(sr.slept) != 0 {
		t.Errorf("primary calls = %d, sleeps = %v, want 1 call and no sleep", p.Calls(), sr.slept)
	}
}

func TestGenerate_AllFailReturnsExhausted(t *testing.T) {
	p := &scriptedBackend{name: "primary", responses: []string{"[ERROR] nope"}}
	f := &scriptedBackend{name: "backup", responses: []string{"  "}}
	r := NewRouter(routes(), WithBackend(p), WithBackend(f), WithSleep((&sleepRecorder{}).Sleep))

	_, err := r.Generate(context.Background(), RoleBuyer, "hi", "")
	var re *Error
	if !errors.As(err, &re) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if re.Kind != KindExhausted || re.Attempts != 4 {
		t.Errorf("kind=%s attempts=%d, want exhausted/4", re.Kind, re.Attempts)
	}
	if !errors.Is(err, ErrExhausted) || !errors.Is(err, ErrBackendFailed) {
		t.Error("error should match ErrExhausted and wrap ErrBackendFailed")
	}
	if re.Sentinel() != "[ROUTER_ERROR: All models failed after retries]" {
		t.Errorf("sentinel = %q", re.Sentinel())
	}
}

func TestGenerate_NoBackends(t *testing.T) {
	r := NewRouter(routes())
	_, err := r.Generate(context.Background(), RoleBuyer, "hi", "")
	if !errors.Is(err, ErrNoBackends) || KindOf(err) != KindNoBackends {
		t.Fatalf("expected no_backends, got %v", err)
	}
}

func TestGenerate_RateLimitedAttemptsAreFailures(t *testing.T) {
	lim := ratelimit.New(
		ratelimit.WithProvider("primary", ratelimit.Limits{PerMinute: 1, PerHour: 10, PerDay: 10, Burst: 10}),
	)
	lim.RecordRequest("primary", true)

	p := &scriptedBackend{name: "primary", responses: []string{"never"}}
	r := NewRouter(map[Role]Route{RoleBuyer: {Primary: Target{"primary", "m"}}},
		WithBackend(p), WithGate(lim), WithSleep((&sleepRecorder{}).Sleep))

	_, err := r.Generate(context.Background(), RoleBuyer, "hi", "")
	if KindOf(err) != KindRateLimited {
		t.Fatalf("kind = %s, want rate_limited (%v)", KindOf(err), err)
	}
	if p.Calls() != 0 {
		t.Errorf("backend called %d times despite rate limit", p.Calls())
	}
}

func TestGenerate_CancelledContextStopsRetries(t *testing.T) {
	p := &scriptedBackend{name: "primary", errs: []error{errors.New("x"), errors.New("x"), errors.New("x")}, responses: []string{""}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRouter(routes(), WithBackend(p))

	_, err := r.Generate(ctx, RoleBuyer, "hi", "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if p.Calls() != 1 {
		t.Errorf("calls = %d, want 1", p.Calls())
	}
}

func TestIsSentinel(t *testing.T) {
	cases := map[string]bool{
		"[PROVIDER_ERROR: timeout]": true,
		"[ROUTER_ERROR: x]":         true,
		"":                          true,
		"[note] all good":           false,
		"An ERROR occurred":         false,
		"Here is your quote.":       false,
	}
	for text, want := range cases {
		if got := IsSentinel(text); got != want {
			t.Errorf("IsSentinel(%q) = %v, want %v", text, got, want)
		}
	}
}
