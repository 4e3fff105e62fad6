package main

import (
	"testing"
	"time"
)

func TestParseAllocations(t *testing.T) {
	got, err := parseAllocations([]string{"aapl=60", " TSLA = 40"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 2 || got[0].Symbol != "AAPL" || got[0].Coins != "60" || got[1].Symbol != "TSLA" || got[1].Coins != "40" {
		t.Fatalf("unexpected allocations: %+v", got)
	}
	for _, bad := range []string{"AAPL", "=10", "AAPL="} {
		if _, err := parseAllocations([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseTimeOr(t *testing.T) {
	fallback := time.Date(2026, 3, 2, 9, 0, 0, 500, time.UTC)
	got, err := parseTimeOr("", fallback)
	if err != nil || !got.Equal(fallback.Truncate(time.Second)) {
		t.Fatalf("fallback: got %v, %v", got, err)
	}
	got, err = parseTimeOr("2026-03-02T12:00:00+02:00", fallback)
	if err != nil || !got.Equal(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("parse: got %v, %v", got, err)
	}
	if _, err := parseTimeOr("tomorrow", fallback); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseID(t *testing.T) {
	if id, err := parseID(" 42 ", "contest id"); err != nil || id != 42 {
		t.Fatalf("got %d, %v", id, err)
	}
	for _, bad := range []string{"0", "-1", "abc"} {
		if _, err := parseID(bad, "contest id"); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
