package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Schedule describes a recurring cadence without a cron expression.
// Every is the period between runs; Anchor offsets the period grid from
// midnight UTC, so {Every: 24h, Anchor: 3h} fires daily at 03:00 UTC.
type Schedule struct {
	Every  time.Duration
	Anchor time.Duration
}

// Next returns the first fire time strictly after now
func (s Schedule) Next(now time.Time) time.Time {
	if s.Every <= 0 {
		return time.Time{}
	}
	base := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC).Add(s.Anchor)
	elapsed := now.Sub(base)
	periods := elapsed / s.Every
	next := base.Add((periods + 1) * s.Every)
	if !next.After(now) {
		next = next.Add(s.Every)
	}
	return next
}

// Scheduler fires routine automation runs on their registered cadences.
// Registration is keyed by automation name, so ScheduleAll is idempotent:
// re-registering a name replaces its schedule instead of doubling it.
type Scheduler struct {
	engine *Engine
	logger zerolog.Logger

	mu      sync.RWMutex
	entries map[string]Schedule
}

func NewScheduler(engine *Engine, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		engine:  engine,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		entries: make(map[string]Schedule),
	}
}

// Register installs or replaces the schedule for one automation. A change
// made while the scheduler runs takes effect at the automation's next cycle.
func (s *Scheduler) Register(name string, sched Schedule) {
	s.mu.Lock()
	s.entries[name] = sched
	s.mu.Unlock()

	s.logger.Info().
		Str("automation", name).
		Dur("every", sched.Every).
		Dur("anchor", sched.Anchor).
		Msg("Automation scheduled")
}

func (s *Scheduler) get(name string) (Schedule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.entries[name]
	return sched, ok
}

// ScheduleAll registers the standing automations. Calling it again after a
// restart or reconnect installs the same set without duplicating any cadence.
func (s *Scheduler) ScheduleAll(updateCheck, imagePoll, cleanup Schedule) {
	s.Register(AutomationUpdateCheck, updateCheck)
	s.Register(AutomationImagePoll, imagePoll)
	s.Register(AutomationHistoryCleanup, cleanup)
}

// Run fires each registered automation on its cadence until the context is
// cancelled. Automations registered after Run starts are not picked up;
// re-registering an existing name is.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.RLock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			s.runEntry(ctx, name)
		}(name)
	}
	wg.Wait()
}

func (s *Scheduler) runEntry(ctx context.Context, name string) {
	logger := s.logger.With().Str("automation", name).Logger()

	for {
		sched, ok := s.get(name)
		if !ok || sched.Every <= 0 {
			return
		}

		next := sched.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := s.engine.EnqueueScheduled(ctx, name); err != nil {
			logger.Error().Err(err).Msg("Failed to enqueue scheduled run")
			continue
		}
		logger.Debug().Time("fired_at", next).Msg("Scheduled run enqueued")
	}
}
