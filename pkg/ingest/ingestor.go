// Package ingest turns change notifications into buffered trophy records.
package ingest

import (
	"context"

	"github.com/clashwithnaro/pushbot/pkg/feed"
	"github.com/clashwithnaro/pushbot/pkg/logger"
	"github.com/clashwithnaro/pushbot/pkg/metrics"
	"github.com/clashwithnaro/pushbot/pkg/store"
	"github.com/clashwithnaro/pushbot/pkg/writer"

	"go.uber.org/zap"
)

// Recorder buffers records until the next flush.
type Recorder interface {
	RecordChange(r writer.Record)
}

// ClanMarker remembers which clans need their leaderboards redrawn.
type ClanMarker interface {
	MarkClan(tag string)
}

// Ingestor is the feed handler of the bot. It never does I/O itself.
type Ingestor struct {
	recorder Recorder
	clans    ClanMarker
	logger   *logger.Logger
}

// NewIngestor creates a new Ingestor instance
func NewIngestor(r Recorder, clans ClanMarker, l *logger.Logger) *Ingestor {
	return &Ingestor{recorder: r, clans: clans, logger: l.Named("ingest")}
}

// Handle buffers one delivery. Deliveries without a trophy change are
// acknowledged straight away.
func (i *Ingestor) Handle(ctx context.Context, d feed.Delivery) error {
	c := d.Change
	delta := c.Delta()
	if delta == 0 {
		metrics.FeedNotificationsTotal.WithLabelValues("skipped").Inc()
		if d.Ack == nil {
			return nil
		}
		return d.Ack(ctx)
	}

	clanTag := feed.NormalizeTag(c.Player.ClanTag)
	i.recorder.RecordChange(writer.Record{
		Change: store.TrophyChange{
			NotificationID: c.ID,
			PlayerTag:      feed.NormalizeTag(c.Player.Tag),
			PlayerName:     c.Player.Name,
			ClanTag:        clanTag,
			ClanName:       c.Player.ClanName,
			Delta:          delta,
			AttackWins:     c.Player.AttackWins,
			ObservedAt:     c.ObservedAt,
		},
		Ack: d.Ack,
	})
	if clanTag != "" {
		i.clans.MarkClan(clanTag)
	}
	metrics.FeedNotificationsTotal.WithLabelValues("buffered").Inc()
	i.logger.Debug("trophy change buffered",
		zap.String("player_tag", c.Player.Tag), zap.Int("delta", delta))
	return nil
}
