package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// InsertTimer persists a delayed log delivery and returns its id.
func (p *Postgres) InsertTimer(ctx context.Context, channelID int64, payload string, expiresAt time.Time) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO log_timers (channel_id, payload, expires_at)
		VALUES ($1, $2, $3) RETURNING id`, channelID, payload, expiresAt.UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert timer: %w", err)
	}
	return id, nil
}

// PendingTimers returns every stored timer, earliest first.
func (p *Postgres) PendingTimers(ctx context.Context) ([]PendingTimer, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, channel_id, payload, expires_at FROM log_timers ORDER BY expires_at, id`)
	if err != nil {
		return nil, fmt.Errorf("pending timers: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[PendingTimer])
}

// DeleteTimer removes a fired or abandoned timer.
func (p *Postgres) DeleteTimer(ctx context.Context, id int64) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM log_timers WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete timer: %w", err)
	}
	return nil
}
