package feeder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clashwithnaro/pushbot/pkg/coc"
	"github.com/clashwithnaro/pushbot/pkg/feed"
	"github.com/clashwithnaro/pushbot/pkg/logger"
	"github.com/clashwithnaro/pushbot/pkg/metrics"
	"github.com/clashwithnaro/pushbot/pkg/retry"
	"github.com/clashwithnaro/pushbot/pkg/snapshot"

	"go.uber.org/zap"
)

// ClanSource lists the clans some guild tracks.
type ClanSource interface {
	TrackedClanTags(ctx context.Context) ([]string, error)
}

// Service coordinates the Feeder components
type Service struct {
	logger    *logger.Logger
	clans     ClanSource
	client    coc.Client
	publisher feed.Publisher
	snapshots snapshot.Store
	interval  time.Duration
	retryOpts retry.RetryOptions
	now       func() time.Time

	seen snapshot.Snapshot
}

// NewService creates a new Feeder service instance
func NewService(
	logger *logger.Logger,
	clans ClanSource,
	client coc.Client,
	publisher feed.Publisher,
	snapshots snapshot.Store,
	interval time.Duration,
) *Service {
	return &Service{
		logger:    logger,
		clans:     clans,
		client:    client,
		publisher: publisher,
		snapshots: snapshots,
		interval:  interval,
		retryOpts: retry.DefaultOptions(),
		now:       time.Now,
	}
}

// Stop gracefully shuts down the service and its dependencies
func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info("stopping feeder service")

	if err := s.publisher.Close(); err != nil {
		return fmt.Errorf("failed to close publisher: %w", err)
	}
	return nil
}

// Start polls the tracked clans until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("starting feeder service", zap.Duration("interval", s.interval))

	defer func() {
		if err := s.Stop(context.Background()); err != nil {
			s.logger.Error("error during service stop", err)
		}
	}()

	// 1. Load the last snapshot
	seen, err := s.snapshots.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	s.seen = seen
	s.logger.Info("snapshot loaded", zap.Int("players", len(seen)))

	// 2. Poll loop
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("poll failed", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Poll fetches every tracked roster once, publishes each trophy change and
// persists the snapshot. A player's snapshot entry only moves after its
// change was published, so a failed publish is retried on the next poll.
func (s *Service) Poll(ctx context.Context) error {
	if s.seen == nil {
		s.seen = make(snapshot.Snapshot)
	}

	tags, err := s.clans.TrackedClanTags(ctx)
	if err != nil {
		metrics.FeederPollsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to list tracked clans: %w", err)
	}
	if len(tags) == 0 {
		metrics.FeederPollsTotal.WithLabelValues("ok").Inc()
		return nil
	}

	clans, err := s.client.GetClans(ctx, tags)
	if err != nil {
		metrics.FeederPollsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to fetch rosters: %w", err)
	}

	var (
		published, seeded int
		publishErr        error
	)
	now := s.now()
poll:
	for _, clan := range clans {
		for _, m := range clan.Members {
			old, ok := s.seen[m.Tag]
			if !ok {
				s.seen[m.Tag] = m.Trophies
				seeded++
				continue
			}
			if old == m.Trophies {
				continue
			}

			change := feed.NewTrophyChange(s.player(ctx, clan, m), old, m.Trophies, now)
			if err := s.publish(ctx, change); err != nil {
				publishErr = err
				break poll
			}
			s.seen[m.Tag] = m.Trophies
			published++
		}
	}

	if published > 0 || seeded > 0 {
		if err := s.save(ctx); err != nil {
			publishErr = errors.Join(publishErr, err)
		}
	}

	if publishErr != nil {
		metrics.FeederPollsTotal.WithLabelValues("error").Inc()
		return publishErr
	}
	metrics.FeederPollsTotal.WithLabelValues("ok").Inc()
	s.logger.Debug("poll complete",
		zap.Int("clans", len(clans)), zap.Int("changes", published), zap.Int("new_players", seeded))
	return nil
}

// player builds the notification payload. Attack wins come from the player
// profile and are left out when it cannot be fetched.
func (s *Service) player(ctx context.Context, clan *coc.Clan, m coc.Member) feed.Player {
	p := feed.Player{Tag: m.Tag, Name: m.Name, ClanTag: clan.Tag, ClanName: clan.Name}
	profile, err := s.client.GetPlayer(ctx, m.Tag)
	if err != nil {
		s.logger.Debug("player profile unavailable", zap.String("player_tag", m.Tag), zap.Error(err))
		return p
	}
	p.AttackWins = profile.AttackWins
	return p
}

func (s *Service) publish(ctx context.Context, c feed.TrophyChange) error {
	opts := s.retryOpts
	opts.OnRetry = func(attempt int, err error, wait time.Duration) {
		s.logger.Warn("publish failed, retrying",
			zap.String("player_tag", c.Player.Tag), zap.Int("attempt", attempt),
			zap.Duration("wait", wait), zap.Error(err))
	}
	err := retry.Do(ctx, func() error {
		return s.publisher.Publish(ctx, c)
	}, opts)
	if err != nil {
		metrics.FeederPublishErrorsTotal.Inc()
		return fmt.Errorf("failed to publish trophy change for %s after retries: %w", c.Player.Tag, err)
	}
	metrics.FeederChangesPublishedTotal.Inc()
	return nil
}

func (s *Service) save(ctx context.Context) error {
	err := retry.Do(ctx, func() error {
		return s.snapshots.Save(ctx, s.seen)
	}, s.retryOpts)
	if err != nil {
		return fmt.Errorf("failed to save snapshot after retries: %w", err)
	}
	metrics.FeederSnapshotSavesTotal.Inc()
	return nil
}
