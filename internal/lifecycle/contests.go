package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"stockarena/internal/contest"
)

// CreateContest stores a new upcoming contest and registers its start and end timers.
func (s *Scheduler) CreateContest(ctx context.Context, c contest.Contest) (contest.Contest, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Status = contest.StatusUpcoming
	c.PrizesDistributedAt = nil
	c.StartTime = c.StartTime.UTC()
	c.EndTime = c.EndTime.UTC()
	if err := c.Validate(); err != nil {
		return contest.Contest{}, err
	}
	created, err := s.store.CreateContest(ctx, c)
	if err != nil {
		return contest.Contest{}, err
	}
	if err := s.ScheduleContest(created); err != nil {
		s.log.Warn("contest timers not registered", "contest_id", created.ID, "err", err)
	}
	s.log.Info("contest created", "contest_id", created.ID, "start", created.StartTime, "end", created.EndTime)
	return created, nil
}

// UpdateContest patches an upcoming contest and moves its timers to the new times.
func (s *Scheduler) UpdateContest(ctx context.Context, id int64, patch contest.ContestPatch) (contest.Contest, error) {
	mu := s.contestLock(id)
	mu.Lock()
	defer mu.Unlock()
	updated, err := s.store.UpdateContest(ctx, id, patch)
	if err != nil {
		return contest.Contest{}, err
	}
	if patch.StartTime != nil || patch.EndTime != nil {
		if err := s.ScheduleContest(updated); err != nil {
			s.log.Warn("contest timers not registered", "contest_id", id, "err", err)
		}
	}
	s.invalidateLeaderboard(ctx, id)
	return updated, nil
}

// DeleteContest removes an upcoming contest that nobody has joined.
func (s *Scheduler) DeleteContest(ctx context.Context, id int64) error {
	mu := s.contestLock(id)
	mu.Lock()
	defer mu.Unlock()
	if err := s.store.DeleteContest(ctx, id); err != nil {
		return err
	}
	s.CancelScheduledContest(id)
	s.invalidateLeaderboard(ctx, id)
	s.log.Info("contest deleted", "contest_id", id)
	return nil
}

func (s *Scheduler) GetContest(ctx context.Context, id int64) (contest.Contest, error) {
	return s.store.GetContest(ctx, id)
}

func (s *Scheduler) ListContests(ctx context.Context, filter contest.ContestFilter) ([]contest.Contest, error) {
	return s.store.ListContests(ctx, filter)
}

func (s *Scheduler) ListEntries(ctx context.Context, contestID int64) ([]contest.Entry, error) {
	if _, err := s.store.GetContest(ctx, contestID); err != nil {
		return nil, err
	}
	return s.store.ListEntries(ctx, contestID)
}

// Reschedule re-registers a contest's timers from its stored times.
func (s *Scheduler) Reschedule(ctx context.Context, id int64) (contest.Contest, error) {
	c, err := s.store.GetContest(ctx, id)
	if err != nil {
		return c, err
	}
	if err := s.ScheduleContest(c); err != nil {
		return c, fmt.Errorf("reschedule: %w", err)
	}
	return c, nil
}
