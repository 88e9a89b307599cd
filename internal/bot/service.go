package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/clashwithnaro/pushbot/pkg/feed"
	"github.com/clashwithnaro/pushbot/pkg/logger"
	"github.com/clashwithnaro/pushbot/pkg/scheduler"

	"go.uber.org/zap"
)

// Gateway is the chat platform connection.
type Gateway interface {
	Open(ctx context.Context) error
	Close() error
}

// Flusher writes buffered trophy events.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Leaderboards refreshes leaderboard pages.
type Leaderboards interface {
	RefreshDirty(ctx context.Context) error
	RefreshAll(ctx context.Context) error
}

// Reporter posts the trophy logs.
type Reporter interface {
	Report(ctx context.Context) error
	Close()
}

// TimerRunner delivers persisted delayed logs until ctx is cancelled.
type TimerRunner interface {
	Run(ctx context.Context)
}

// Intervals of the background tasks.
type Intervals struct {
	Flush       time.Duration
	Refresh     time.Duration
	FullRefresh time.Duration
	Report      time.Duration
}

// Components are the parts the bot service runs.
type Components struct {
	Gateway      Gateway
	Feed         feed.Subscriber
	Handler      feed.Handler
	Writer       Flusher
	Leaderboards Leaderboards
	Reporter     Reporter
	Timers       TimerRunner
	Store        interface{ Close() error }
}

// Service coordinates the bot components
type Service struct {
	logger    *logger.Logger
	c         Components
	intervals Intervals
	scheduler *scheduler.Scheduler

	sub          *feed.Subscription
	timersCancel context.CancelFunc
	timersDone   chan struct{}
	shutdownOnce sync.Once
	shutdownErr  error
}

// NewService creates a new bot service instance
func NewService(l *logger.Logger, c Components, intervals Intervals) *Service {
	return &Service{
		logger:    l,
		c:         c,
		intervals: intervals,
		scheduler: scheduler.New(l),
	}
}

// Start brings the bot up and blocks until ctx is cancelled or the feed
// subscription ends. It always shuts down before returning.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("starting bot service")

	// 1. Connect to the chat platform
	if err := s.c.Gateway.Open(ctx); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}

	// 2. Start the timer watcher
	timersCtx, cancel := context.WithCancel(context.Background())
	s.timersCancel = cancel
	s.timersDone = make(chan struct{})
	go func() {
		defer close(s.timersDone)
		s.c.Timers.Run(timersCtx)
	}()

	// 3. Subscribe to the change feed
	sub, err := s.c.Feed.Subscribe(context.Background(), s.c.Handler)
	if err != nil {
		return errors.Join(fmt.Errorf("failed to subscribe to feed: %w", err), s.Shutdown(context.Background()))
	}
	s.sub = sub

	// 4. Schedule background tasks
	tasks := []struct {
		name     string
		interval time.Duration
		job      scheduler.Job
	}{
		{"batch-flush", s.intervals.Flush, s.c.Writer.Flush},
		{"leaderboard-refresh", s.intervals.Refresh, s.c.Leaderboards.RefreshDirty},
		{"leaderboard-full-refresh", s.intervals.FullRefresh, s.c.Leaderboards.RefreshAll},
		{"log-report", s.intervals.Report, s.c.Reporter.Report},
	}
	for _, t := range tasks {
		if err := s.scheduler.Every(t.name, t.interval, t.job); err != nil {
			return errors.Join(err, s.Shutdown(context.Background()))
		}
	}
	s.scheduler.Start()
	s.logger.Info("bot service started")

	// 5. Wait
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case <-sub.Done():
		subErr := sub.Err()
		if subErr == nil {
			subErr = errors.New("feed subscription ended")
		}
		return errors.Join(fmt.Errorf("feed error: %w", subErr), s.Shutdown(context.Background()))
	}
}

// Shutdown stops the service gracefully. Buffered events are flushed after
// deliveries and scheduled ticks have stopped, so nothing is appended behind
// the final write. Safe to call more than once.
func (s *Service) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(ctx)
	})
	return s.shutdownErr
}

func (s *Service) shutdown(ctx context.Context) error {
	s.logger.Info("shutting down bot service")
	var errs []error

	if s.sub != nil {
		s.sub.Unsubscribe()
	}

	if err := s.scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}

	// The flush acknowledges through the feed, which must still be open.
	if err := s.c.Writer.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("final flush: %w", err))
	}
	if err := s.c.Feed.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close feed: %w", err))
	}

	s.c.Reporter.Close()

	if s.timersCancel != nil {
		s.timersCancel()
		select {
		case <-s.timersDone:
		case <-ctx.Done():
			s.logger.Warn("timer watcher did not stop in time")
		}
	}

	if err := s.c.Gateway.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close gateway: %w", err))
	}
	if s.c.Store != nil {
		if err := s.c.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error("bot service shutdown incomplete", err)
	} else {
		s.logger.Info("bot service stopped", zap.String("status", "clean"))
	}
	return err
}
