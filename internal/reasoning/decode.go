package reasoning

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnparseable is returned when generated text does not decode into the
// expected schema even after stripping code fences.
var ErrUnparseable = errors.New("reasoning: response does not match schema")

// Decode parses generated text as JSON into out. It tries a strict decode
// first, then once more with markdown code fences removed.
func Decode[T any](text string, out *T) error {
	trimmed := strings.TrimSpace(text)
	if err := json.Unmarshal([]byte(trimmed), out); err == nil {
		return nil
	}
	stripped := StripCodeFence(trimmed)
	if stripped == trimmed {
		return fmt.Errorf("%w: %s", ErrUnparseable, truncate(trimmed, 80))
	}
	if err := json.Unmarshal([]byte(stripped), out); err != nil {
		return fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return nil
}

// DecodeOr decodes text, returning def when decoding fails or valid rejects
// the result. The bool reports whether the decoded value was used.
func DecodeOr[T any](text string, def T, valid func(T) bool) (T, bool) {
	var v T
	if err := Decode(text, &v); err != nil {
		return def, false
	}
	if valid != nil && !valid(v) {
		return def, false
	}
	return v, true
}

// StripCodeFence removes a surrounding ``` or ```json fence.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop an info string such as "json".
		if lang := strings.TrimSpace(s[:nl]); !strings.ContainsAny(lang, "{[") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
