package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// GuildConfig loads a guild's configuration. Guilds without a row get the defaults.
func (p *Postgres) GuildConfig(ctx context.Context, guildID int64) (GuildConfig, error) {
	const query = `
		SELECT guild_id, COALESCE(leaderboard_channel_id, 0), leaderboard_enabled, leaderboard_title,
			icon_url, render_mode, COALESCE(log_channel_id, 0), log_interval_seconds, log_enabled
		FROM guilds WHERE guild_id = $1`
	var (
		cfg      GuildConfig
		interval int32
	)
	err := p.pool.QueryRow(ctx, query, guildID).Scan(&cfg.GuildID, &cfg.LeaderboardChannelID,
		&cfg.LeaderboardEnabled, &cfg.LeaderboardTitle, &cfg.IconURL, &cfg.RenderMode,
		&cfg.LogChannelID, &interval, &cfg.LogEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultGuildConfig(guildID), nil
	}
	if err != nil {
		return GuildConfig{}, fmt.Errorf("guild config: %w", err)
	}
	cfg.LogInterval = time.Duration(interval) * time.Second
	return cfg, nil
}

// SaveGuildConfig writes the whole configuration row.
func (p *Postgres) SaveGuildConfig(ctx context.Context, cfg GuildConfig) error {
	const query = `
		INSERT INTO guilds (guild_id, leaderboard_channel_id, leaderboard_enabled, leaderboard_title,
			icon_url, render_mode, log_channel_id, log_interval_seconds, log_enabled)
		VALUES ($1, NULLIF($2, 0), $3, $4, $5, $6, NULLIF($7, 0), $8, $9)
		ON CONFLICT (guild_id) DO UPDATE SET
			leaderboard_channel_id = EXCLUDED.leaderboard_channel_id,
			leaderboard_enabled = EXCLUDED.leaderboard_enabled,
			leaderboard_title = EXCLUDED.leaderboard_title,
			icon_url = EXCLUDED.icon_url,
			render_mode = EXCLUDED.render_mode,
			log_channel_id = EXCLUDED.log_channel_id,
			log_interval_seconds = EXCLUDED.log_interval_seconds,
			log_enabled = EXCLUDED.log_enabled`
	_, err := p.pool.Exec(ctx, query, cfg.GuildID, cfg.LeaderboardChannelID, cfg.LeaderboardEnabled,
		cfg.LeaderboardTitle, cfg.IconURL, int16(cfg.RenderMode), cfg.LogChannelID,
		int32(cfg.LogInterval/time.Second), cfg.LogEnabled)
	if err != nil {
		return fmt.Errorf("save guild config: %w", err)
	}
	return nil
}

// GuildByLeaderboardChannel finds the guild whose leaderboard lives in the channel.
func (p *Postgres) GuildByLeaderboardChannel(ctx context.Context, channelID int64) (int64, error) {
	var guildID int64
	err := p.pool.QueryRow(ctx,
		`SELECT guild_id FROM guilds WHERE leaderboard_channel_id = $1 LIMIT 1`, channelID).Scan(&guildID)
	if err != nil {
		return 0, notFound(err)
	}
	return guildID, nil
}

// EnabledLeaderboardGuilds lists guilds with an active leaderboard.
func (p *Postgres) EnabledLeaderboardGuilds(ctx context.Context) ([]int64, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT guild_id FROM guilds
		WHERE leaderboard_enabled AND leaderboard_channel_id IS NOT NULL
		ORDER BY guild_id`)
	if err != nil {
		return nil, fmt.Errorf("enabled leaderboard guilds: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// ChannelConfig loads the log configuration of a channel. ErrNotFound when
// the channel is not a log destination.
func (p *Postgres) ChannelConfig(ctx context.Context, channelID int64) (ChannelConfig, error) {
	const query = `
		SELECT event_id, guild_id, channel_id, event_name, log_interval_seconds, log_enabled
		FROM log_events WHERE channel_id = $1`
	var (
		cfg      ChannelConfig
		interval int32
	)
	err := p.pool.QueryRow(ctx, query, channelID).Scan(&cfg.EventID, &cfg.GuildID, &cfg.ChannelID,
		&cfg.EventName, &interval, &cfg.LogEnabled)
	if err != nil {
		return ChannelConfig{}, notFound(err)
	}
	cfg.LogInterval = time.Duration(interval) * time.Second
	return cfg, nil
}

// SaveChannelConfig upserts a log destination and returns its event id.
func (p *Postgres) SaveChannelConfig(ctx context.Context, cfg ChannelConfig) (int64, error) {
	const query = `
		INSERT INTO log_events (guild_id, event_name, channel_id, log_interval_seconds, log_enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (channel_id) DO UPDATE SET
			event_name = EXCLUDED.event_name,
			log_interval_seconds = EXCLUDED.log_interval_seconds,
			log_enabled = EXCLUDED.log_enabled
		RETURNING event_id`
	var id int64
	err := p.pool.QueryRow(ctx, query, cfg.GuildID, cfg.EventName, cfg.ChannelID,
		int32(cfg.LogInterval/time.Second), cfg.LogEnabled).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save channel config: %w", err)
	}
	return id, nil
}
