// Package scheduler runs recurring jobs on cron schedules using gocron.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

const slowThreshold = 5 * time.Minute

// Scheduler runs named jobs in UTC. Each job is a singleton: a run that is
// still in progress when the next one is due causes that next run to be
// skipped.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

func New(logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(&gocronLogAdapter{logger: logger}),
	)
	if err != nil {
		return nil, fmt.Errorf("scheduler: create: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{scheduler: s, logger: logger, ctx: ctx, cancel: cancel}, nil
}

// AddJob schedules job under name. The job's context is cancelled by Stop.
func (s *Scheduler) AddJob(name, cronExpr string, job func(ctx context.Context) error) error {
	if name == "" {
		return errors.New("scheduler: empty job name")
	}
	if cronExpr == "" {
		return errors.New("scheduler: empty cron expression")
	}
	if job == nil {
		return errors.New("scheduler: nil job function")
	}

	wrapped := func() {
		start := time.Now()
		err := job(s.ctx)
		duration := time.Since(start)
		if err != nil {
			s.logger.Error("scheduled job failed", "job", name, "duration_ms", duration.Milliseconds(), "err", err)
			return
		}
		if duration > slowThreshold {
			s.logger.Warn("slow scheduled job execution", "job", name, "duration_ms", duration.Milliseconds())
		}
	}

	scheduled, err := s.scheduler.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(wrapped),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduler: schedule job %s: %w", name, err)
	}

	attrs := []any{"job", name, "cron", cronExpr}
	if next, err := scheduled.NextRun(); err == nil && !next.IsZero() {
		attrs = append(attrs, "next_run", next.Format(time.RFC3339))
	}
	s.logger.Info("job scheduled", attrs...)
	return nil
}

func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.Debug("scheduler started", "jobs", len(s.scheduler.Jobs()))
}

// RunNow triggers the named job once outside its schedule. Singleton
// limits still apply.
func (s *Scheduler) RunNow(name string) error {
	for _, j := range s.scheduler.Jobs() {
		if j.Name() == name {
			if err := j.RunNow(); err != nil {
				return fmt.Errorf("scheduler: run %s: %w", name, err)
			}
			return nil
		}
	}
	return fmt.Errorf("scheduler: unknown job %q", name)
}

// Stop cancels running jobs' context and waits for them to return.
func (s *Scheduler) Stop() error {
	s.cancel()
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("scheduler: shutdown: %w", err)
	}
	return nil
}

type gocronLogAdapter struct {
	logger *slog.Logger
}

func (l *gocronLogAdapter) Debug(msg string, args ...any) {
	l.logger.Debug(msg, toSlogArgs(args)...)
}

func (l *gocronLogAdapter) Info(msg string, args ...any) {
	l.logger.Info(msg, toSlogArgs(args)...)
}

func (l *gocronLogAdapter) Warn(msg string, args ...any) {
	l.logger.Warn(msg, toSlogArgs(args)...)
}

func (l *gocronLogAdapter) Error(msg string, args ...any) {
	l.logger.Error(msg, toSlogArgs(args)...)
}

func toSlogArgs(args []any) []any {
	out := make([]any, 0, len(args))
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			key, ok := args[i].(string)
			if !ok {
				key = fmt.Sprintf("%v", args[i])
			}
			out = append(out, key, args[i+1])
		} else {
			out = append(out, "value", args[i])
		}
	}
	return out
}
