// Package expiry runs the recurring sweep that deletes dispatch records
// whose date has passed.
package expiry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/davidhoung2/helpbot/internal/logger"
	"github.com/davidhoung2/helpbot/internal/metrics"
	"github.com/davidhoung2/helpbot/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule runs the sweep at the top of every hour.
const DefaultSchedule = "@hourly"

// cronParser accepts standard 5-field expressions and descriptors such as
// @hourly or @every 30m.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Purger deletes records dated strictly before today (YYYY-MM-DD).
type Purger interface {
	PurgeExpired(ctx context.Context, today string) (int, error)
}

// Opts configures a Scheduler.
type Opts struct {
	Purger     Purger
	Schedule   string
	Location   *time.Location
	Now        func() time.Time
	RunTimeout time.Duration
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

// Scheduler owns one cron entry that calls PurgeExpired.
type Scheduler struct {
	purger     Purger
	schedule   cron.Schedule
	spec       string
	loc        *time.Location
	now        func() time.Time
	runTimeout time.Duration
	log        zerolog.Logger
	metrics    *metrics.Metrics

	mu      sync.Mutex
	wg      sync.WaitGroup
	cron    *cron.Cron
	lastRun time.Time
	lastN   int
	lastErr error
}

// New creates a Scheduler. The schedule is validated here so a bad
// expression fails at startup.
func New(opts Opts) (*Scheduler, error) {
	if opts.Purger == nil {
		return nil, fmt.Errorf("expiry: purger is required")
	}
	spec := opts.Schedule
	if spec == "" {
		spec = DefaultSchedule
	}
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("expiry: parse schedule %q: %w", spec, err)
	}
	s := &Scheduler{
		purger:     opts.Purger,
		schedule:   sched,
		spec:       spec,
		loc:        opts.Location,
		now:        opts.Now,
		runTimeout: opts.RunTimeout,
		log:        opts.Logger,
		metrics:    opts.Metrics,
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.runTimeout <= 0 {
		s.runTimeout = time.Minute
	}
	return s, nil
}

// Today returns the current date in the scheduler's timezone.
func (s *Scheduler) Today() string {
	return models.FormatDate(s.now().In(s.loc))
}

// RunOnce performs one sweep under the run timeout.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	today := s.Today()
	start := time.Now()
	n, err := s.purger.PurgeExpired(ctx, today)
	elapsed := time.Since(start)

	s.metrics.ObserveSweep(n, err, elapsed)
	s.mu.Lock()
	s.lastRun, s.lastN, s.lastErr = s.now(), n, err
	s.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Str("today", today).Int("purged", n).Msg("expiry sweep failed, retrying next tick")
		return n, fmt.Errorf("expiry: sweep: %w", err)
	}
	s.log.Info().Str("today", today).Int("purged", n).Dur("elapsed", elapsed).Msg("expiry sweep")
	return n, nil
}

// Start sweeps once in the background and then on every tick until ctx is
// done or Stop is called. It returns without waiting for the first sweep.
// The first sweep and the ticks share one job, so overlapping runs are
// skipped and panics are recovered.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cron != nil {
		s.mu.Unlock()
		return
	}
	cl := logger.CronLogger{L: s.log}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
	)
	job := cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).
		Then(cron.FuncJob(func() { _, _ = s.RunOnce(ctx) }))
	c.Schedule(s.schedule, job)
	s.cron = c
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		job.Run()
	}()
	c.Start()
	s.log.Info().Str("schedule", s.spec).Str("timezone", s.loc.String()).Msg("expiry scheduler started")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
	s.wg.Wait()
}

// Next returns the next scheduled run after now.
func (s *Scheduler) Next() time.Time {
	return s.schedule.Next(s.now().In(s.loc))
}

// Status reports the most recent sweep.
type Status struct {
	LastRun time.Time
	Purged  int
	Err     error
	Next    time.Time
}

// Status returns the result of the last sweep and the next run time.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{LastRun: s.lastRun, Purged: s.lastN, Err: s.lastErr, Next: s.schedule.Next(s.now().In(s.loc))}
}
