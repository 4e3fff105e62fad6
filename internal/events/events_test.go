package events

import (
	"context"
	"errors"
	"testing"
)

type recorder struct {
	got []Event
	err error
}

func (r *recorder) Publish(_ context.Context, evt Event) error {
	r.got = append(r.got, evt)
	return r.err
}

func TestFanoutPublishesToAll(t *testing.T) {
	a := &recorder{}
	b := &recorder{err: errors.New("down")}
	f := Fanout{a, nil, b}

	err := f.Publish(context.Background(), Event{Type: ContestStarted, ContestID: 4})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if len(a.got) != 1 || len(b.got) != 1 {
		t.Fatalf("expected both publishers called, got %d/%d", len(a.got), len(b.got))
	}
}

func TestSubject(t *testing.T) {
	tests := map[string]string{
		ContestStarted:           "stockarena.contests.started",
		ContestPrizesDistributed: "stockarena.contests.prizes_distributed",
	}
	for in, want := range tests {
		if got := Subject(in); got != want {
			t.Fatalf("Subject(%q) = %q want %q", in, got, want)
		}
	}
}
