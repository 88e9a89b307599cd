package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clashwithnaro/pushbot/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a looked up row does not exist.
var ErrNotFound = errors.New("store: not found")

// Config holds database connection settings
type Config struct {
	URI             string
	MinConns        int32
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// Postgres is the durable store of the bot and the feeder.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// Connect creates the pool, verifies it and brings the schema up to date.
func Connect(ctx context.Context, cfg Config, l *logger.Logger) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MaxConnLifetime = 30 * time.Minute
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &Postgres{pool: pool, logger: l}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return p, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS guilds (
		guild_id BIGINT PRIMARY KEY,
		leaderboard_channel_id BIGINT,
		leaderboard_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		leaderboard_title TEXT NOT NULL DEFAULT '',
		icon_url TEXT NOT NULL DEFAULT '',
		render_mode SMALLINT NOT NULL DEFAULT 1,
		log_channel_id BIGINT,
		log_interval_seconds INTEGER NOT NULL DEFAULT 0,
		log_enabled BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS log_events (
		event_id BIGSERIAL PRIMARY KEY,
		guild_id BIGINT NOT NULL,
		event_name TEXT NOT NULL DEFAULT '',
		channel_id BIGINT UNIQUE NOT NULL,
		log_interval_seconds INTEGER NOT NULL DEFAULT 0,
		log_enabled BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS clans (
		id BIGSERIAL PRIMARY KEY,
		guild_id BIGINT NOT NULL,
		clan_tag TEXT NOT NULL,
		clan_name TEXT NOT NULL DEFAULT '',
		event_id BIGINT REFERENCES log_events (event_id) ON DELETE SET NULL,
		UNIQUE (guild_id, clan_tag)
	)`,
	`CREATE TABLE IF NOT EXISTS players (
		player_tag TEXT PRIMARY KEY,
		player_name TEXT NOT NULL DEFAULT '',
		current_trophies INTEGER NOT NULL DEFAULT 0,
		starting_trophies INTEGER NOT NULL DEFAULT 0,
		current_attack_wins INTEGER NOT NULL DEFAULT 0,
		starting_attack_wins INTEGER,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS trophy_events (
		id BIGSERIAL PRIMARY KEY,
		notification_id UUID UNIQUE NOT NULL,
		player_tag TEXT NOT NULL,
		player_name TEXT NOT NULL DEFAULT '',
		clan_tag TEXT NOT NULL DEFAULT '',
		clan_name TEXT NOT NULL DEFAULT '',
		trophy_change INTEGER NOT NULL,
		observed_at TIMESTAMPTZ NOT NULL,
		reported BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trophy_events_unreported ON trophy_events (clan_tag, id) WHERE NOT reported`,
	`CREATE TABLE IF NOT EXISTS leaderboard_messages (
		id BIGSERIAL PRIMARY KEY,
		guild_id BIGINT NOT NULL,
		channel_id BIGINT NOT NULL,
		message_id BIGINT UNIQUE NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_leaderboard_messages_guild ON leaderboard_messages (guild_id)`,
	`CREATE TABLE IF NOT EXISTS log_timers (
		id BIGSERIAL PRIMARY KEY,
		channel_id BIGINT NOT NULL,
		payload TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_log_timers_expires ON log_timers (expires_at)`,
}

func (p *Postgres) migrate(ctx context.Context) error {
	for i, m := range migrations {
		if _, err := p.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	p.logger.Debug("schema migrated", zap.Int("statements", len(migrations)))
	return nil
}

// Ping checks connectivity, used by the readiness endpoint.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the pool
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
