package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/clashwithnaro/pushbot/pkg/logger"
	"github.com/clashwithnaro/pushbot/pkg/metrics"

	"github.com/robfig/cron/v3"
)

// Job is one tick of a recurring task.
type Job func(ctx context.Context) error

// Scheduler runs recurring tasks. A tick never overlaps the previous tick of
// the same task, and a failing or panicking tick never stops the schedule.
type Scheduler struct {
	cron   *cron.Cron
	logger *logger.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// cronLogger routes cron's own messages through zap.
type cronLogger struct {
	l *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, logger.Fields(keysAndValues...)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, err, logger.Fields(keysAndValues...)...)
}

// New creates a scheduler. Jobs receive a context that is cancelled only
// when Stop gives up waiting for them.
func New(l *logger.Logger) *Scheduler {
	cl := cronLogger{l: l.Named("cron")}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: l,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Every registers a job that ticks on a fixed interval.
func (s *Scheduler) Every(name string, interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", name)
	}
	_, err := s.cron.AddFunc("@every "+interval.String(), func() {
		s.run(name, job)
	})
	if err != nil {
		return fmt.Errorf("task %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	if s.ctx.Err() != nil {
		return
	}
	start := time.Now()
	err := job(s.ctx)
	metrics.TaskDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TaskRunsTotal.WithLabelValues(name, "error").Inc()
		s.logger.ForTask(name).Error("task tick failed", err)
		return
	}
	metrics.TaskRunsTotal.WithLabelValues(name, "ok").Inc()
}

// Start begins ticking.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops new ticks and waits for running ones. When ctx ends first the
// running jobs see their context cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	defer s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done.Done()
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}
