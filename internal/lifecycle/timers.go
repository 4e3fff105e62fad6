package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"stockarena/internal/contest"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

type TimerKind string

const (
	TimerStart TimerKind = "start"
	TimerEnd   TimerKind = "end"
)

// ScheduledTimer describes a pending one-shot timer. Armed is false while the
// Scheduler is not running: the timer is registered but will not fire in this process.
type ScheduledTimer struct {
	ContestID int64     `json:"contest_id"`
	Kind      TimerKind `json:"kind"`
	At        time.Time `json:"at"`
	JobID     uuid.UUID `json:"job_id"`
	Armed     bool      `json:"armed"`
}

type timer struct {
	at    time.Time
	jobID uuid.UUID
}

// ScheduleContestStart registers a one-shot start check for the contest at the given
// instant, replacing any pending start timer. An instant in the past fires at once.
func (s *Scheduler) ScheduleContestStart(id int64, at time.Time) error {
	return s.schedule(id, TimerStart, at)
}

// ScheduleContestEnd registers a one-shot end check, replacing any pending one.
func (s *Scheduler) ScheduleContestEnd(id int64, at time.Time) error {
	return s.schedule(id, TimerEnd, at)
}

// ScheduleContest registers both timers from the contest's stored times, skipping
// the start timer once the contest is active.
func (s *Scheduler) ScheduleContest(c contest.Contest) error {
	switch c.Status {
	case contest.StatusUpcoming:
		if err := s.ScheduleContestStart(c.ID, c.StartTime); err != nil {
			return err
		}
		return s.ScheduleContestEnd(c.ID, c.EndTime)
	case contest.StatusActive:
		s.cancelTimer(c.ID, TimerStart)
		return s.ScheduleContestEnd(c.ID, c.EndTime)
	default:
		return contest.InvalidState(c, contest.StatusUpcoming, contest.StatusActive)
	}
}

// CancelScheduledContest drops the contest's pending timers and reports how many.
func (s *Scheduler) CancelScheduledContest(id int64) int {
	s.timersMu.Lock()
	pending := s.timers[id]
	delete(s.timers, id)
	n := s.timerCountLocked()
	s.timersMu.Unlock()

	for kind, t := range pending {
		s.removeJob(id, kind, t)
	}
	s.metrics.SetTimers(n)
	return len(pending)
}

// ScheduledContests lists pending timers ordered by fire time.
func (s *Scheduler) ScheduledContests() []ScheduledTimer {
	armed := s.Running()
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	out := make([]ScheduledTimer, 0, len(s.timers)*2)
	for id, byKind := range s.timers {
		for kind, t := range byKind {
			out = append(out, ScheduledTimer{ContestID: id, Kind: kind, At: t.at, JobID: t.jobID, Armed: armed})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		if out[i].ContestID != out[j].ContestID {
			return out[i].ContestID < out[j].ContestID
		}
		return out[i].Kind > out[j].Kind
	})
	return out
}

func (s *Scheduler) schedule(id int64, kind TimerKind, at time.Time) error {
	at = at.UTC()
	t := &timer{at: at}
	start := gocron.OneTimeJobStartImmediately()
	if at.After(s.clock.Now()) {
		start = gocron.OneTimeJobStartDateTime(at)
	}

	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	job, err := s.cron.NewJob(
		gocron.OneTimeJob(start),
		gocron.NewTask(func() { s.fire(id, kind, t) }),
		gocron.WithName(fmt.Sprintf("contest-%d-%s", id, kind)),
		gocron.WithTags(fmt.Sprintf("contest:%d", id), string(kind)),
	)
	if err != nil {
		return fmt.Errorf("schedule contest %d %s: %w", id, kind, err)
	}
	t.jobID = job.ID()

	byKind, ok := s.timers[id]
	if !ok {
		byKind = make(map[TimerKind]*timer, 2)
		s.timers[id] = byKind
	}
	if prev, ok := byKind[kind]; ok {
		s.removeJob(id, kind, prev)
	}
	byKind[kind] = t
	s.metrics.SetTimers(s.timerCountLocked())
	s.log.Debug("contest timer scheduled", "contest_id", id, "kind", string(kind), "at", at)
	return nil
}

// fire forgets the timer only if it has not been replaced in the meantime.
func (s *Scheduler) fire(id int64, kind TimerKind, t *timer) {
	s.timersMu.Lock()
	if byKind, ok := s.timers[id]; ok && byKind[kind] == t {
		delete(byKind, kind)
		if len(byKind) == 0 {
			delete(s.timers, id)
		}
	}
	n := s.timerCountLocked()
	s.timersMu.Unlock()
	s.metrics.SetTimers(n)

	switch kind {
	case TimerStart:
		_ = s.runJob(jobTimerStart, func(ctx context.Context) error {
			c, err := s.checkStart(ctx, id, false)
			if err != nil || c.Status != contest.StatusActive {
				return err
			}
			_, err = s.completeContest(ctx, id, false)
			return err
		})
	case TimerEnd:
		_ = s.runJob(jobTimerEnd, func(ctx context.Context) error {
			_, err := s.completeContest(ctx, id, false)
			return err
		})
	}
}

func (s *Scheduler) cancelTimer(id int64, kind TimerKind) {
	s.timersMu.Lock()
	t, ok := s.timers[id][kind]
	if ok {
		delete(s.timers[id], kind)
		if len(s.timers[id]) == 0 {
			delete(s.timers, id)
		}
	}
	n := s.timerCountLocked()
	s.timersMu.Unlock()
	if ok {
		s.removeJob(id, kind, t)
	}
	s.metrics.SetTimers(n)
}

func (s *Scheduler) removeJob(id int64, kind TimerKind, t *timer) {
	err := s.cron.RemoveJob(t.jobID)
	if err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
		s.log.Warn("remove contest timer failed", "contest_id", id, "kind", string(kind), "err", err)
	}
}

func (s *Scheduler) timerCountLocked() int {
	n := 0
	for _, byKind := range s.timers {
		n += len(byKind)
	}
	return n
}

func (s *Scheduler) rehydrate(ctx context.Context) (int, error) {
	contests, err := s.store.ListContests(ctx, contest.ContestFilter{
		Statuses: []contest.Status{contest.StatusUpcoming, contest.StatusActive},
	})
	if err != nil {
		return 0, err
	}
	var errs []error
	for _, c := range contests {
		if err := s.ScheduleContest(c); err != nil {
			errs = append(errs, err)
		}
	}
	s.timersMu.Lock()
	n := s.timerCountLocked()
	s.timersMu.Unlock()
	return n, errors.Join(errs...)
}
