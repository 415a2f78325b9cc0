package reasoning

import (
	"errors"
	"testing"
)

type decision struct {
	Decision     string  `json:"decision"`
	CounterPrice float64 `json:"counter_price"`
	Reasoning    string  `json:"reasoning"`
}

func TestDecode_Strict(t *testing.T) {
	var d decision
	if err := Decode(`{"decision":"counter","counter_price":66.5,"reasoning":"meet halfway"}`, &d); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if d.Decision != "counter" || d.CounterPrice != 66.5 {
		t.Errorf("decoded %+v", d)
	}
}

func TestDecode_StripsCodeFence(t *testing.T) {
	text := "```json\n{\"decision\":\"accept\",\"counter_price\":0,\"reasoning\":\"ok\"}\n```"
	var d decision
	if err := Decode(text, &d); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if d.Decision != "accept" {
		t.Errorf("decision = %q", d.Decision)
	}
}

func TestDecode_ProseFailsWithoutGuessing(t *testing.T) {
	var d decision
	err := Decode(`Sure! Here it is: {"decision":"accept"}`, &d)
	if !errors.Is(err, ErrUnparseable) {
		t.Fatalf("expected ErrUnparseable, got %v", err)
	}
}

func TestDecodeOr_DefaultOnFailureOrInvalid(t *testing.T) {
	def := decision{Decision: "counter", Reasoning: "default"}
	valid := func(d decision) bool { return d.Decision != "" && d.Reasoning != "" }

	got, used := DecodeOr("not json", def, valid)
	if used || got != def {
		t.Errorf("garbage: got %+v used=%v", got, used)
	}
	got, used = DecodeOr(`{"decision":"accept"}`, def, valid)
	if used || got != def {
		t.Errorf("missing reasoning: got %+v used=%v", got, used)
	}
	got, used = DecodeOr(`{"decision":"accept","reasoning":"fine"}`, def, valid)
	if !used || got.Decision != "accept" {
		t.Errorf("valid: got %+v used=%v", got, used)
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"```\n{\"a\":1}\n```":     `{"a":1}`,
		"```json\n{\"a\":1}```":   `{"a":1}`,
		"```{\"a\":1}```":         `{"a":1}`,
		`{"a":1}`:                 `{"a":1}`,
	}
	for in, want := range cases {
		if got := StripCodeFence(in); got != want {
			t.Errorf("StripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}
