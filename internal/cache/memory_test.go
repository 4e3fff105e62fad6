package cache

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	s := NewMemoryStore(clock)

	if err := s.Set(ctx, LeaderboardKey(3), []byte("rows"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := s.Get(ctx, "leaderboard:3")
	if err != nil || !ok || string(got) != "rows" {
		t.Fatalf("get got %q ok=%v err=%v", got, ok, err)
	}

	clock.Advance(time.Minute)
	if _, ok, _ := s.Get(ctx, "leaderboard:3"); ok {
		t.Fatalf("expected expiry after ttl")
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	_ = s.Set(ctx, "k", []byte("v"), 0)
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("expected key deleted")
	}
}
