package cache

import (
	"context"
	"fmt"
	"time"
)

type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

func LeaderboardKey(contestID int64) string {
	return fmt.Sprintf("leaderboard:%d", contestID)
}
