package reasoning

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited marks an attempt denied by the rate-limit gate.
	ErrRateLimited = errors.New("reasoning: rate limited")

	// ErrBackendFailed marks an attempt that errored or returned a sentinel.
	ErrBackendFailed = errors.New("reasoning: backend failed")

	// ErrNoBackends is matched by an *Error of KindNoBackends.
	ErrNoBackends = errors.New("reasoning: no backends available")

	// ErrExhausted is matched by an *Error of KindExhausted or KindRateLimited.
	ErrExhausted = errors.New("reasoning: all attempts failed")
)

// Kind classifies a router failure.
type Kind string

const (
	KindNoBackends    Kind = "no_backends"
	KindRateLimited   Kind = "rate_limited"
	KindBackendFailed Kind = "backend_failed"
	KindExhausted     Kind = "exhausted"
)

// Error is the only error type returned by Router.Generate.
type Error struct {
	Kind     Kind
	Role     Role
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("reasoning: %s for role %s", e.Kind, e.Role)
	}
	return fmt.Sprintf("reasoning: %s for role %s after %d attempt(s): %v", e.Kind, e.Role, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNoBackends:
		return e.Kind == KindNoBackends
	case ErrExhausted:
		return e.Kind == KindExhausted || e.Kind == KindRateLimited
	}
	return false
}

// Sentinel renders the error as the router-level text sentinel.
func (e *Error) Sentinel() string {
	if e.Kind == KindNoBackends {
		return "[ROUTER_ERROR: No clients available]"
	}
	return "[ROUTER_ERROR: All models failed after retries]"
}

// KindOf returns the Kind of a router error, or KindBackendFailed for any
// other non-nil error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if err == nil {
		return ""
	}
	return KindBackendFailed
}
