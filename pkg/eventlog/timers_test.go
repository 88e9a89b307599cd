package eventlog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clashwithnaro/pushbot/pkg/chat"
	"github.com/clashwithnaro/pushbot/pkg/logger"
	"github.com/clashwithnaro/pushbot/pkg/store"

	"github.com/jpillora/backoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memTimers is an in-memory TimerStore.
type memTimers struct {
	mu          sync.Mutex
	next        int64
	rows        map[int64]store.PendingTimer
	pendingErrs int
}

func newMemTimers(rows ...store.PendingTimer) *memTimers {
	m := &memTimers{rows: make(map[int64]store.PendingTimer)}
	for _, r := range rows {
		m.rows[r.ID] = r
		if r.ID > m.next {
			m.next = r.ID
		}
	}
	return m
}

func (m *memTimers) InsertTimer(ctx context.Context, channelID int64, payload string, expiresAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	m.rows[m.next] = store.PendingTimer{ID: m.next, ChannelID: channelID, Payload: payload, ExpiresAt: expiresAt}
	return m.next, nil
}

func (m *memTimers) PendingTimers(ctx context.Context) ([]store.PendingTimer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pendingErrs > 0 {
		m.pendingErrs--
		return nil, errors.New("connection refused")
	}
	out := make([]store.PendingTimer, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	return out, nil
}

func (m *memTimers) DeleteTimer(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *memTimers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// scriptedSender returns the queued errors in order, then succeeds.
type scriptedSender struct {
	mu   sync.Mutex
	errs []error
	sent []string
}

func (s *scriptedSender) SendMessage(ctx context.Context, channelID int64, content string) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return chat.Message{}, err
	}
	s.sent = append(s.sent, content)
	return chat.Message{ID: int64(len(s.sent)), ChannelID: channelID}, nil
}

func (s *scriptedSender) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func startWatcher(t *testing.T, w *TimerWatcher) (cancel func()) {
	t.Helper()
	w.restart = &backoff.Backoff{Min: time.Millisecond, Max: 5 * time.Millisecond}
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	return func() {
		stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("watcher did not exit on cancellation")
		}
	}
}

func TestWatcherFiresScheduledTimer(t *testing.T) {
	ts := newMemTimers()
	sender := &scriptedSender{}
	w := NewTimerWatcher(ts, sender, logger.Nop())
	stop := startWatcher(t, w)
	defer stop()

	require.NoError(t, w.Schedule(context.Background(), 100, "stored log", time.Now().Add(20*time.Millisecond)))

	require.Eventually(t, func() bool { return len(sender.messages()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"stored log"}, sender.messages())
	require.Eventually(t, func() bool { return ts.count() == 0 && w.State() == StateIdle }, 2*time.Second, 5*time.Millisecond)
}

func TestWatcherLoadsStoredTimersOnStart(t *testing.T) {
	ts := newMemTimers(
		store.PendingTimer{ID: 1, ChannelID: 100, Payload: "second", ExpiresAt: time.Now().Add(-time.Minute)},
		store.PendingTimer{ID: 2, ChannelID: 100, Payload: "first", ExpiresAt: time.Now().Add(-time.Hour)},
	)
	sender := &scriptedSender{}
	w := NewTimerWatcher(ts, sender, logger.Nop())
	stop := startWatcher(t, w)
	defer stop()

	require.Eventually(t, func() bool { return len(sender.messages()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"first", "second"}, sender.messages())
}

func TestWatcherEarlierTimerPreemptsWait(t *testing.T) {
	ts := newMemTimers()
	sender := &scriptedSender{}
	w := NewTimerWatcher(ts, sender, logger.Nop())
	stop := startWatcher(t, w)
	defer stop()
	ctx := context.Background()

	require.NoError(t, w.Schedule(ctx, 100, "in an hour", time.Now().Add(time.Hour)))
	require.Eventually(t, func() bool { return w.State() == StateWaiting }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, w.Schedule(ctx, 100, "soon", time.Now().Add(10*time.Millisecond)))

	require.Eventually(t, func() bool { return len(sender.messages()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"soon"}, sender.messages())
	require.Eventually(t, func() bool { return w.Len() == 1 && ts.count() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestWatcherDropsTimerForMissingChannel(t *testing.T) {
	ts := newMemTimers(store.PendingTimer{ID: 1, ChannelID: 100, Payload: "gone", ExpiresAt: time.Now()})
	sender := &scriptedSender{errs: []error{chat.ErrNotFound}}
	w := NewTimerWatcher(ts, sender, logger.Nop())
	stop := startWatcher(t, w)
	defer stop()

	require.Eventually(t, func() bool { return ts.count() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, sender.messages())
}

func TestWatcherRestartsAfterTransportFailure(t *testing.T) {
	ts := newMemTimers(store.PendingTimer{ID: 1, ChannelID: 100, Payload: "retry me", ExpiresAt: time.Now()})
	ts.pendingErrs = 1
	sender := &scriptedSender{errs: []error{errors.New("websocket closed")}}
	w := NewTimerWatcher(ts, sender, logger.Nop())
	stop := startWatcher(t, w)
	defer stop()

	require.Eventually(t, func() bool { return len(sender.messages()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"retry me"}, sender.messages())
	require.Eventually(t, func() bool { return ts.count() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestWatcherExitsOnCancelWhileWaiting(t *testing.T) {
	ts := newMemTimers(store.PendingTimer{ID: 1, ChannelID: 100, Payload: "later", ExpiresAt: time.Now().Add(time.Hour)})
	w := NewTimerWatcher(ts, &scriptedSender{}, logger.Nop())
	stop := startWatcher(t, w)

	require.Eventually(t, func() bool { return w.State() == StateWaiting }, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, StateIdle, w.State())
	assert.Equal(t, 1, ts.count())
}

func TestTimerHeapOrdering(t *testing.T) {
	w := NewTimerWatcher(newMemTimers(), &scriptedSender{}, logger.Nop())
	base := time.Now()
	w.push(store.PendingTimer{ID: 3, ExpiresAt: base.Add(time.Minute)})
	w.push(store.PendingTimer{ID: 2, ExpiresAt: base})
	w.push(store.PendingTimer{ID: 1, ExpiresAt: base})
	w.push(store.PendingTimer{ID: 1, ExpiresAt: base})

	assert.Equal(t, 3, w.Len())
	next, ok := w.peek()
	require.True(t, ok)
	assert.Equal(t, int64(1), next.ID)

	w.remove(1)
	next, _ = w.peek()
	assert.Equal(t, int64(2), next.ID)
}
