package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clashwithnaro/pushbot/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestEveryRejectsNonPositiveInterval(t *testing.T) {
	s := New(logger.Nop())
	assert.Error(t, s.Every("batch-flush", 0, func(context.Context) error { return nil }))
}

func TestFailingTickIsLoggedAndScheduleContinues(t *testing.T) {
	core, observed := observer.New(zap.ErrorLevel)
	s := New(logger.FromZap(zap.New(core)))

	var ticks int32
	require.NoError(t, s.Every("log-report", time.Second, func(context.Context) error {
		atomic.AddInt32(&ticks, 1)
		return errors.New("store unavailable")
	}))
	s.Start()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&ticks) >= 2 }, 5*time.Second, 50*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	entries := observed.FilterMessage("task tick failed").All()
	require.NotEmpty(t, entries)
	assert.Equal(t, "log-report", entries[0].ContextMap()["task"])
}

func TestStopWaitsForRunningTick(t *testing.T) {
	s := New(logger.Nop())

	started := make(chan struct{})
	var finished int32
	require.NoError(t, s.Every("leaderboard-refresh", time.Second, func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(200 * time.Millisecond)
		atomic.StoreInt32(&finished, 1)
		return nil
	}))
	s.Start()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("tick never started")
	}
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&finished))
}

func TestStopCancelsJobsAfterGrace(t *testing.T) {
	s := New(logger.Nop())

	started := make(chan struct{})
	require.NoError(t, s.Every("slow", time.Second, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	s.Start()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)
}
