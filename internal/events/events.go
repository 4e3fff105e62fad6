package events

import (
	"context"
	"errors"
	"time"
)

const (
	ContestStarted           = "contest.started"
	ContestCancelled         = "contest.cancelled"
	ContestCompleted         = "contest.completed"
	ContestPrizesDistributed = "contest.prizes_distributed"
)

// Event is a contest lifecycle notification published after the state change commits.
type Event struct {
	Type       string         `json:"type"`
	ContestID  int64          `json:"contest_id"`
	Status     string         `json:"status"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
