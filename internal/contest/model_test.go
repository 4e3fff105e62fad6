package contest

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusUpcoming, StatusActive, true},
		{StatusUpcoming, StatusCancelled, true},
		{StatusActive, StatusCompleted, true},
		{StatusActive, StatusUpcoming, false},
		{StatusActive, StatusCancelled, false},
		{StatusUpcoming, StatusCompleted, false},
		{StatusCompleted, StatusActive, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusUpcoming, false},
		{StatusCancelled, StatusActive, false},
	}
	for _, tc := range tests {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("%s -> %s: got %v want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" Active ")
	if err != nil || s != StatusActive {
		t.Fatalf("got %q, %v", s, err)
	}
	if _, err := ParseStatus("paused"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestContestValidate(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	base := Contest{
		Name:      "Weekly",
		EntryFee:  decimal.NewFromInt(100),
		PrizePool: decimal.NewFromInt(1000),
		StartTime: start,
		EndTime:   start.Add(time.Hour),
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected valid contest: %v", err)
	}

	bad := base
	bad.EndTime = start
	if err := bad.Validate(); !errors.Is(err, ErrInvalidContest) {
		t.Fatalf("expected end==start to fail, got %v", err)
	}
	bad = base
	bad.EntryFee = decimal.NewFromInt(-1)
	if err := bad.Validate(); !errors.Is(err, ErrInvalidContest) {
		t.Fatalf("expected negative fee to fail, got %v", err)
	}
	bad = base
	bad.Name = "  "
	if err := bad.Validate(); !errors.Is(err, ErrInvalidContest) {
		t.Fatalf("expected blank name to fail, got %v", err)
	}
}

func TestInvalidStateMessage(t *testing.T) {
	err := InvalidState(Contest{ID: 7, Status: StatusUpcoming}, StatusActive)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState")
	}
	want := "contest 7 is upcoming, expected active: invalid contest state"
	if err.Error() != want {
		t.Fatalf("got %q want %q", err.Error(), want)
	}
}

func TestValidateSymbol(t *testing.T) {
	for _, s := range []string{"AAPL", "TSLA", "BRK.B"} {
		if err := ValidateSymbol(s); err != nil {
			t.Fatalf("expected %q valid: %v", s, err)
		}
	}
	for _, s := range []string{"", "aapl", "TOOLONGSYMBOL", "A-B"} {
		if err := ValidateSymbol(s); err == nil {
			t.Fatalf("expected %q to fail", s)
		}
	}
}
