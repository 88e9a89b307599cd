package eventlog

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clashwithnaro/pushbot/pkg/chat"
	"github.com/clashwithnaro/pushbot/pkg/logger"
	"github.com/clashwithnaro/pushbot/pkg/metrics"
	"github.com/clashwithnaro/pushbot/pkg/store"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

// State of the timer watcher
type State int32

const (
	StateIdle State = iota
	StateWaiting
	StateFiring
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateFiring:
		return "firing"
	default:
		return "idle"
	}
}

// TimerStore persists pending timers.
type TimerStore interface {
	InsertTimer(ctx context.Context, channelID int64, payload string, expiresAt time.Time) (int64, error)
	PendingTimers(ctx context.Context) ([]store.PendingTimer, error)
	DeleteTimer(ctx context.Context, id int64) error
}

// TimerSender delivers fired timers.
type TimerSender interface {
	SendMessage(ctx context.Context, channelID int64, content string) (chat.Message, error)
}

// TimerWatcher fires durable timers at their expiry. Timers are kept in a
// min-heap mirrored from the store; scheduling a timer wakes the watcher so
// an earlier expiry preempts the current wait.
type TimerWatcher struct {
	store  TimerStore
	sender TimerSender
	logger *logger.Logger
	now    func() time.Time

	mu     sync.Mutex
	queue  timerHeap
	queued map[int64]struct{}
	wake   chan struct{}

	state   atomic.Int32
	restart *backoff.Backoff
}

// NewTimerWatcher creates a new TimerWatcher instance
func NewTimerWatcher(s TimerStore, sender TimerSender, l *logger.Logger) *TimerWatcher {
	return &TimerWatcher{
		store:   s,
		sender:  sender,
		logger:  l.Named("timer-watcher"),
		now:     time.Now,
		queued:  make(map[int64]struct{}),
		wake:    make(chan struct{}, 1),
		restart: &backoff.Backoff{Min: time.Second, Max: time.Minute, Factor: 2, Jitter: true},
	}
}

// Schedule persists a timer and hands it to the watcher.
func (w *TimerWatcher) Schedule(ctx context.Context, channelID int64, payload string, expiresAt time.Time) error {
	id, err := w.store.InsertTimer(ctx, channelID, payload, expiresAt)
	if err != nil {
		return err
	}
	w.push(store.PendingTimer{ID: id, ChannelID: channelID, Payload: payload, ExpiresAt: expiresAt})
	w.signal()
	return nil
}

// State returns what the watcher is doing right now.
func (w *TimerWatcher) State() State {
	return State(w.state.Load())
}

func (w *TimerWatcher) setState(s State) {
	w.state.Store(int32(s))
	metrics.TimerWatcherState.Set(float64(s))
}

func (w *TimerWatcher) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *TimerWatcher) push(t store.PendingTimer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.queued[t.ID]; ok {
		return
	}
	w.queued[t.ID] = struct{}{}
	heap.Push(&w.queue, t)
}

func (w *TimerWatcher) peek() (store.PendingTimer, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return store.PendingTimer{}, false
	}
	return w.queue[0], true
}

func (w *TimerWatcher) remove(id int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, t := range w.queue {
		if t.ID == id {
			heap.Remove(&w.queue, i)
			break
		}
	}
	delete(w.queued, id)
}

// Len returns the number of timers waiting in memory.
func (w *TimerWatcher) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Run watches timers until ctx is cancelled. A watch that fails is restarted
// after a backoff and reloads the timers from the store.
func (w *TimerWatcher) Run(ctx context.Context) {
	defer w.setState(StateIdle)
	for {
		err := w.watch(ctx)
		if ctx.Err() != nil {
			return
		}

		delay := w.restart.Duration()
		metrics.TimerWatcherRestartsTotal.Inc()
		w.logger.Error("timer watcher stopped, restarting", err, zap.Duration("backoff", delay))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (w *TimerWatcher) watch(ctx context.Context) error {
	w.setState(StateIdle)
	pending, err := w.store.PendingTimers(ctx)
	if err != nil {
		return err
	}
	for _, t := range pending {
		w.push(t)
	}
	w.logger.Debug("timers loaded", zap.Int("count", len(pending)))

	for {
		next, ok := w.peek()
		if !ok {
			w.setState(StateIdle)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-w.wake:
				continue
			}
		}

		if wait := next.ExpiresAt.Sub(w.now()); wait > 0 {
			w.setState(StateWaiting)
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-w.wake:
				t.Stop()
			case <-t.C:
			}
			continue
		}

		w.setState(StateFiring)
		if err := w.fire(ctx, next); err != nil {
			return err
		}
		w.restart.Reset()
	}
}

// fire delivers one timer. A timer whose channel is gone or unusable is
// dropped; any other failure leaves it queued and ends the watch.
func (w *TimerWatcher) fire(ctx context.Context, t store.PendingTimer) error {
	_, err := w.sender.SendMessage(ctx, t.ChannelID, t.Payload)
	switch {
	case err == nil:
		w.logger.Info("sent stored log", zap.Int64("channel_id", t.ChannelID), zap.Int64("timer_id", t.ID))
	case chat.IsNotFound(err) || chat.IsForbidden(err):
		w.logger.Warn("dropping timer for unusable channel",
			zap.Int64("channel_id", t.ChannelID), zap.Int64("timer_id", t.ID), zap.Error(err))
	default:
		return err
	}

	w.remove(t.ID)
	return w.store.DeleteTimer(ctx, t.ID)
}

// timerHeap orders timers by expiry, then id.
type timerHeap []store.PendingTimer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].ExpiresAt.Equal(h[j].ExpiresAt) {
		return h[i].ID < h[j].ID
	}
	return h[i].ExpiresAt.Before(h[j].ExpiresAt)
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x interface{}) { *h = append(*h, x.(store.PendingTimer)) }

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}
