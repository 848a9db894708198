// Package cron runs recurring task templates: each due schedule becomes a
// fresh pending task on the board.
package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/crewctl/internal/bus"
	"github.com/basket/crewctl/internal/persistence"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the dependencies for the scheduler.
type Config struct {
	Store    *persistence.Store
	Bus      *bus.Bus
	Logger   *slog.Logger
	Interval time.Duration // tick interval; defaults to 1 minute if zero
}

// Scheduler periodically queries the store for due schedules and creates a
// task for each one.
type Scheduler struct {
	store    *persistence.Store
	bus      *bus.Bus
	logger   *slog.Logger
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new Scheduler with the given config.
func NewScheduler(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    cfg.Store,
		bus:      cfg.Bus,
		logger:   logger,
		interval: interval,
	}
}

// Start begins the scheduler loop in a background goroutine. The provided
// context stops it.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("schedule runner started", "interval", s.interval)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("schedule runner stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Fire immediately on startup, then on each tick.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		s.logger.Error("schedule query failed", "error", err)
		return
	}
	for _, sched := range due {
		s.fire(ctx, sched, now)
	}
}

// fire creates the task for a due schedule and advances its run timestamps.
func (s *Scheduler) fire(ctx context.Context, sched persistence.Schedule, now time.Time) {
	res, err := s.store.CreateTask(ctx, sched.Subject, persistence.CreateTaskOptions{
		Priority:  sched.Priority,
		CreatedBy: "scheduler:" + sched.Name,
	})
	if err != nil {
		s.logger.Error("schedule task creation failed",
			"schedule_id", sched.ID,
			"schedule_name", sched.Name,
			"error", err,
		)
		return
	}
	if !res.OK() {
		s.logger.Error("schedule task rejected",
			"schedule_id", sched.ID,
			"reason", res.Info,
		)
		return
	}

	nextRun, err := NextRunTime(sched.CronExpr, now)
	if err != nil {
		s.logger.Error("bad cron expression",
			"schedule_id", sched.ID,
			"cron_expr", sched.CronExpr,
			"error", err,
		)
		return
	}

	if err := s.store.MarkScheduleRun(ctx, sched.ID, res.TaskID, now, nextRun); err != nil {
		s.logger.Error("schedule advance failed",
			"schedule_id", sched.ID,
			"error", err,
		)
		return
	}

	if s.bus != nil {
		s.bus.Publish(bus.TopicScheduleFired, sched.ID)
	}
	s.logger.Info("schedule fired",
		"schedule_id", sched.ID,
		"schedule_name", sched.Name,
		"task_id", res.TaskID,
		"next_run_at", nextRun,
	)
}

// NextRunTime parses the cron expression and returns the next run time after
// the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
