package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store used when no Redis URL is configured.
type MemoryStore struct {
	mu    sync.Mutex
	clock clockwork.Clock
	items map[string]memoryItem
}

func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{clock: clock, items: make(map[string]memoryItem)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[key]
	if !ok {
		return nil, false, nil
	}
	if !it.expiresAt.IsZero() && !s.clock.Now().Before(it.expiresAt) {
		delete(s.items, key)
		return nil, false, nil
	}
	out := make([]byte, len(it.value))
	copy(out, it.value)
	return out, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expiresAt = s.clock.Now().Add(ttl)
	}
	s.items[key] = it
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}
