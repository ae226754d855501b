package ident_test

import (
	"bytes"
	"errors"
	"testing"

	"dreamie/internal/ident"
)

func TestGenerateUniqueAndWellFormed(t *testing.T) {
	gen := ident.Generator{}
	seen := make(map[string]bool, 10000)
	for i := 0; i < 10000; i++ {
		id, err := gen.Generate(func(id string) bool { return seen[id] })
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if !ident.Valid(id) {
			t.Fatalf("malformed id %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestGenerateRetriesOnCollision(t *testing.T) {
	calls := 0
	gen := ident.Generator{}
	id, err := gen.Generate(func(string) bool {
		calls++
		return calls < 3
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if calls != 3 || !ident.Valid(id) {
		t.Fatalf("expected success on third attempt, calls=%d id=%q", calls, id)
	}
}

func TestGenerateExhausted(t *testing.T) {
	gen := ident.Generator{MaxAttempts: 5}
	_, err := gen.Generate(func(string) bool { return true })
	if !errors.Is(err, ident.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestGenerateRandomSourceFailure(t *testing.T) {
	gen := ident.Generator{Rand: bytes.NewReader(nil)}
	if _, err := gen.Generate(nil); err == nil {
		t.Fatalf("expected error from empty random source")
	}
}

func TestValid(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want bool
	}{
		{"AB12CD", true},
		{"ab12cd", false},
		{"AB12C", false},
		{"AB12CDE", false},
		{"AB-2CD", false},
	} {
		if got := ident.Valid(tc.in); got != tc.want {
			t.Errorf("Valid(%q)=%v want %v", tc.in, got, tc.want)
		}
	}
}
