// Package eventlog reports persisted trophy events to the configured log
// channels, either right away, after a short in-process delay, or through a
// durable timer that survives restarts.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/clashwithnaro/pushbot/pkg/chat"
	"github.com/clashwithnaro/pushbot/pkg/logger"
	"github.com/clashwithnaro/pushbot/pkg/metrics"
	"github.com/clashwithnaro/pushbot/pkg/store"

	"go.uber.org/zap"
)

// Mode is how a log chunk was handed off.
type Mode int

const (
	ModeImmediate Mode = iota
	ModeDelayed
	ModePersisted
)

func (m Mode) String() string {
	switch m {
	case ModeDelayed:
		return "delayed"
	case ModePersisted:
		return "persisted"
	default:
		return "immediate"
	}
}

// ModeFor applies the dispatch rule to a remaining interval.
func ModeFor(interval, shortDelay time.Duration) Mode {
	switch {
	case interval <= 0:
		return ModeImmediate
	case interval < shortDelay:
		return ModeDelayed
	default:
		return ModePersisted
	}
}

// Store is the event side of the durable store.
type Store interface {
	MaxEventID(ctx context.Context) (int64, error)
	ChannelsWithUnreported(ctx context.Context, upTo int64) ([]int64, error)
	UnreportedEvents(ctx context.Context, channelID, upTo int64) ([]store.TrophyEvent, error)
	MarkReported(ctx context.Context, upTo int64) (int64, error)
}

// ChannelConfigs is the log channel configuration cache.
type ChannelConfigs interface {
	Get(ctx context.Context, channelID int64) (store.ChannelConfig, error)
	Invalidate(channelID int64)
}

// Sender posts log text.
type Sender interface {
	SendMessage(ctx context.Context, channelID int64, content string) (chat.Message, error)
	Channel(ctx context.Context, channelID int64) (chat.Channel, error)
}

// ClanNamer resolves display names of tracked clans.
type ClanNamer interface {
	ClanName(ctx context.Context, guildID int64, tag string) string
}

// TimerScheduler persists long delays.
type TimerScheduler interface {
	Schedule(ctx context.Context, channelID int64, payload string, expiresAt time.Time) error
}

// Config tunes the dispatcher
type Config struct {
	ShortDelayThreshold time.Duration
	ChunkSize           int
}

// Dispatcher groups unreported events per channel and hands them off.
type Dispatcher struct {
	store   Store
	configs ChannelConfigs
	sender  Sender
	names   ClanNamer
	timers  TimerScheduler
	cfg     Config
	logger  *logger.Logger
	now     func() time.Time

	// lifetime of delayed sends, independent of the report tick
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a new Dispatcher instance
func NewDispatcher(s Store, configs ChannelConfigs, sender Sender, names ClanNamer, timers TimerScheduler, cfg Config, l *logger.Logger) *Dispatcher {
	if cfg.ShortDelayThreshold <= 0 {
		cfg.ShortDelayThreshold = 600 * time.Second
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 20
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:   s,
		configs: configs,
		sender:  sender,
		names:   names,
		timers:  timers,
		cfg:     cfg,
		logger:  l.Named("eventlog"),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Report sends every event that was unreported when the call started and
// then marks those events reported. Events are marked even when their
// delivery failed or their channel was skipped.
func (d *Dispatcher) Report(ctx context.Context) error {
	upTo, err := d.store.MaxEventID(ctx)
	if err != nil {
		return err
	}
	if upTo == 0 {
		return nil
	}

	channels, err := d.store.ChannelsWithUnreported(ctx, upTo)
	if err != nil {
		return err
	}
	for _, channelID := range channels {
		if err := d.reportChannel(ctx, channelID, upTo); err != nil {
			d.logger.Error("failed to report channel", err, zap.Int64("channel_id", channelID))
		}
	}

	n, err := d.store.MarkReported(ctx, upTo)
	if err != nil {
		return err
	}
	metrics.LogEventsReportedTotal.Add(float64(n))
	d.logger.Debug("events marked reported", zap.Int64("count", n), zap.Int64("up_to", upTo))
	return nil
}

func (d *Dispatcher) reportChannel(ctx context.Context, channelID, upTo int64) error {
	cfg, err := d.configs.Get(ctx, channelID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load channel config: %w", err)
	}
	if !cfg.LogEnabled {
		return nil
	}
	if _, err := d.sender.Channel(ctx, channelID); err != nil {
		if chat.IsNotFound(err) || chat.IsForbidden(err) {
			d.logger.Info("skipping unresolvable log channel",
				zap.Int64("guild_id", cfg.GuildID), zap.Int64("channel_id", channelID), zap.Error(err))
			return nil
		}
		return err
	}

	events, err := d.store.UnreportedEvents(ctx, channelID, upTo)
	if err != nil {
		return err
	}
	now := d.now()
	lines := make([]string, len(events))
	for i, ev := range events {
		lines[i] = FormatLine(ev, d.names.ClanName(ctx, cfg.GuildID, ev.ClanTag), now)
	}

	for _, c := range chunks(len(events), d.cfg.ChunkSize) {
		interval := cfg.LogInterval - now.Sub(newest(events[c.start:c.end]))
		text := strings.Join(lines[c.start:c.end], "\n")
		if _, err := d.Dispatch(ctx, channelID, interval, text); err != nil {
			d.logger.Error("failed to dispatch log", err, zap.Int64("channel_id", channelID))
		}
	}
	d.logger.Info("dispatched logs",
		zap.Int64("guild_id", cfg.GuildID), zap.Int64("channel_id", channelID), zap.Int("events", len(events)))
	return nil
}

// Dispatch delivers text now, after interval in-process, or through a
// durable timer, depending on how long interval is.
func (d *Dispatcher) Dispatch(ctx context.Context, channelID int64, interval time.Duration, text string) (Mode, error) {
	mode := ModeFor(interval, d.cfg.ShortDelayThreshold)
	metrics.LogDispatchTotal.WithLabelValues(mode.String()).Inc()

	switch mode {
	case ModeImmediate:
		_, err := d.sender.SendMessage(ctx, channelID, text)
		return mode, err
	case ModeDelayed:
		d.wg.Add(1)
		go d.sendAfter(channelID, interval, text)
		return mode, nil
	default:
		return mode, d.timers.Schedule(ctx, channelID, text, d.now().Add(interval))
	}
}

func (d *Dispatcher) sendAfter(channelID int64, delay time.Duration, text string) {
	defer d.wg.Done()

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-d.ctx.Done():
		d.logger.Warn("delayed log dropped on shutdown", zap.Int64("channel_id", channelID))
		return
	case <-t.C:
	}

	if _, err := d.sender.SendMessage(d.ctx, channelID, text); err != nil {
		d.logger.Error("failed to send delayed log", err, zap.Int64("channel_id", channelID))
		return
	}
	d.logger.Debug("sent delayed log", zap.Int64("channel_id", channelID), zap.Duration("delay", delay))
}

// Close cancels pending delayed sends and waits for them to return.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}

type span struct{ start, end int }

// chunks splits n items into consecutive spans of at most size.
func chunks(n, size int) []span {
	if n <= 0 || size <= 0 {
		return nil
	}
	out := make([]span, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, span{start, end})
	}
	return out
}

func newest(events []store.TrophyEvent) time.Time {
	var t time.Time
	for _, ev := range events {
		if ev.ObservedAt.After(t) {
			t = ev.ObservedAt
		}
	}
	return t
}
