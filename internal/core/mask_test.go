package core

import (
	"errors"
	"strings"
	"testing"
)

func TestCandidateOrderLeftmostWildcardFastest(t *testing.T) {
	t.Parallel()

	m, err := ParseMask("*.*")
	if err != nil {
		t.Fatalf("ParseMask: %v", err)
	}
	tests := []struct {
		index uint64
		want  string
	}{
		{0, "a.a"},
		{1, "b.a"},
		{25, "z.a"},
		{26, "0.a"},
		{35, "9.a"},
		{36, "a.b"},
		{37, "b.b"},
		{36*36 - 1, "9.9"},
	}
	buf := make([]byte, 0, MaxMaskLength)
	for _, tt := range tests {
		if got := string(m.Candidate(tt.index, buf)); got != tt.want {
			t.Fatalf("Candidate(%d) = %q, want %q", tt.index, got, tt.want)
		}
	}
}

func TestCursorMatchesCandidate(t *testing.T) {
	t.Parallel()

	m, err := ParseMask("m*s*o*")
	if err != nil {
		t.Fatalf("ParseMask: %v", err)
	}
	for _, start := range []uint64{0, 35, 36*36 - 2, 12345} {
		c := newCursor(m, start)
		buf := make([]byte, 0, MaxMaskLength)
		for i := start; i < start+2000 && i < 36*36*36; i++ {
			if want := string(m.Candidate(i, buf)); string(c.buf) != want {
				t.Fatalf("cursor at %d = %q, want %q", i, c.buf, want)
			}
			c.next()
		}
	}
}

func TestCombinations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mask   string
		want   uint64
		wantOK bool
	}{
		{"", 1, true},
		{"example.com", 1, true},
		{"ex*mple.com", 36, true},
		{"******", 2176782336, true},
		{strings.Repeat("*", 12), 4738381338321616896, true},
		{strings.Repeat("*", 13), 0, false},
	}
	for _, tt := range tests {
		m, err := ParseMask(tt.mask)
		if err != nil {
			t.Fatalf("ParseMask(%q): %v", tt.mask, err)
		}
		got, ok := m.Combinations()
		if got != tt.want || ok != tt.wantOK {
			t.Fatalf("Combinations(%q) = %d, %v; want %d, %v", tt.mask, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParseMaskTooLong(t *testing.T) {
	t.Parallel()

	if _, err := ParseMask(strings.Repeat("a", MaxMaskLength)); err != nil {
		t.Fatalf("mask at the limit rejected: %v", err)
	}

	long := strings.Repeat("a", MaxMaskLength) + "*"
	_, err := ParseMask(long)
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConfigurationError, got %v", err)
	}
	if !errors.Is(err, ErrMaskTooLong) || cerr.Length != MaxMaskLength+1 || cerr.Limit != MaxMaskLength {
		t.Fatalf("unexpected error detail: %+v", cerr)
	}
}

func TestMaskMatches(t *testing.T) {
	t.Parallel()

	m, _ := ParseMask("ex*mple.com")
	for domain, want := range map[string]bool{
		"example.com":  true,
		"exzmple.com":  true,
		"example.org":  false,
		"exaample.com": false,
		"":             false,
	} {
		if got := m.Matches(domain); got != want {
			t.Fatalf("Matches(%q) = %v, want %v", domain, got, want)
		}
	}
}
