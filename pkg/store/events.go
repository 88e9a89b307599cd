package store

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type eventRow struct {
	NotificationID string    `json:"notification_id"`
	PlayerTag      string    `json:"player_tag"`
	PlayerName     string    `json:"player_name"`
	ClanTag        string    `json:"clan_tag"`
	ClanName       string    `json:"clan_name"`
	TrophyChange   int       `json:"trophy_change"`
	AttackWins     int       `json:"attack_wins"`
	ObservedAt     time.Time `json:"observed_at"`
}

// eventPayload encodes a batch as the jsonb array consumed by jsonb_to_recordset.
func eventPayload(changes []TrophyChange) ([]byte, error) {
	rows := make([]eventRow, len(changes))
	for i, c := range changes {
		rows[i] = eventRow{
			NotificationID: c.NotificationID.String(),
			PlayerTag:      c.PlayerTag,
			PlayerName:     c.PlayerName,
			ClanTag:        c.ClanTag,
			ClanName:       c.ClanName,
			TrophyChange:   c.Delta,
			AttackWins:     c.AttackWins,
			ObservedAt:     c.ObservedAt.UTC(),
		}
	}
	return json.Marshal(rows)
}

// The events insert and the player update run as one statement. Only rows
// that were actually inserted contribute to the trophy sums, so a notification
// delivered twice is counted once.
const insertEventsQuery = `
WITH batch AS (
	SELECT * FROM jsonb_to_recordset($1::jsonb) AS b (
		notification_id UUID,
		player_tag TEXT,
		player_name TEXT,
		clan_tag TEXT,
		clan_name TEXT,
		trophy_change INTEGER,
		attack_wins INTEGER,
		observed_at TIMESTAMPTZ
	)
), inserted AS (
	INSERT INTO trophy_events (notification_id, player_tag, player_name, clan_tag, clan_name, trophy_change, observed_at)
	SELECT notification_id, player_tag, player_name, clan_tag, clan_name, trophy_change, observed_at FROM batch
	ON CONFLICT (notification_id) DO NOTHING
	RETURNING player_tag, trophy_change
), totals AS (
	SELECT player_tag, SUM(trophy_change) AS delta FROM inserted GROUP BY player_tag
), latest AS (
	SELECT player_tag,
		MAX(attack_wins) AS attack_wins,
		(array_agg(player_name ORDER BY observed_at DESC))[1] AS player_name
	FROM batch GROUP BY player_tag
), updated AS (
	UPDATE players p SET
		current_trophies = p.current_trophies + t.delta,
		player_name = COALESCE(NULLIF(l.player_name, ''), p.player_name),
		current_attack_wins = GREATEST(p.current_attack_wins, l.attack_wins),
		starting_attack_wins = COALESCE(p.starting_attack_wins, NULLIF(l.attack_wins, 0)),
		updated_at = now()
	FROM totals t JOIN latest l ON l.player_tag = t.player_tag
	WHERE p.player_tag = t.player_tag
	RETURNING 1
)
SELECT (SELECT count(*) FROM inserted), (SELECT count(*) FROM updated)`

// InsertTrophyEvents persists a batch of trophy changes in one statement and
// applies the per-player sum of their deltas. It returns the number of new events.
func (p *Postgres) InsertTrophyEvents(ctx context.Context, changes []TrophyChange) (int64, error) {
	if len(changes) == 0 {
		return 0, nil
	}
	payload, err := eventPayload(changes)
	if err != nil {
		return 0, fmt.Errorf("encode event batch: %w", err)
	}

	var inserted, updated int64
	if err := p.pool.QueryRow(ctx, insertEventsQuery, payload).Scan(&inserted, &updated); err != nil {
		return 0, fmt.Errorf("insert trophy events: %w", err)
	}
	if dup := int64(len(changes)) - inserted; dup > 0 {
		p.logger.Debug("skipped duplicate notifications", zap.Int64("count", dup))
	}
	p.logger.Debug("players updated", zap.Int64("count", updated))
	return inserted, nil
}

// MaxEventID returns the highest id among unreported events, or 0.
func (p *Postgres) MaxEventID(ctx context.Context) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM trophy_events WHERE NOT reported`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("max event id: %w", err)
	}
	return id, nil
}

// ChannelsWithUnreported lists log channels that have unreported events up to the id.
func (p *Postgres) ChannelsWithUnreported(ctx context.Context, upTo int64) ([]int64, error) {
	const query = `
		SELECT DISTINCT e.channel_id
		FROM log_events e
		JOIN clans c ON c.event_id = e.event_id
		JOIN trophy_events t ON t.clan_tag = c.clan_tag
		WHERE NOT t.reported AND t.id <= $1
		ORDER BY e.channel_id`
	rows, err := p.pool.Query(ctx, query, upTo)
	if err != nil {
		return nil, fmt.Errorf("channels with unreported events: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// UnreportedEvents returns a channel's unreported events up to the id,
// grouped by log event and newest first within a group.
func (p *Postgres) UnreportedEvents(ctx context.Context, channelID, upTo int64) ([]TrophyEvent, error) {
	const query = `
		SELECT t.id, t.notification_id::text, t.player_tag, t.player_name, t.clan_tag,
			COALESCE(NULLIF(c.clan_name, ''), t.clan_name), t.trophy_change, t.observed_at, t.reported, e.event_id
		FROM trophy_events t
		JOIN clans c ON c.clan_tag = t.clan_tag
		JOIN log_events e ON e.event_id = c.event_id
		WHERE e.channel_id = $1 AND NOT t.reported AND t.id <= $2
		ORDER BY e.event_id, t.observed_at DESC, t.id DESC`
	rows, err := p.pool.Query(ctx, query, channelID, upTo)
	if err != nil {
		return nil, fmt.Errorf("unreported events: %w", err)
	}
	defer rows.Close()

	var events []TrophyEvent
	for rows.Next() {
		var (
			ev  TrophyEvent
			nid string
		)
		if err := rows.Scan(&ev.ID, &nid, &ev.PlayerTag, &ev.PlayerName, &ev.ClanTag,
			&ev.ClanName, &ev.Delta, &ev.ObservedAt, &ev.Reported, &ev.EventGroupID); err != nil {
			return nil, err
		}
		if ev.NotificationID, err = uuid.Parse(nid); err != nil {
			return nil, fmt.Errorf("event %d notification id: %w", ev.ID, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// MarkReported flags every unreported event up to the id in one statement.
func (p *Postgres) MarkReported(ctx context.Context, upTo int64) (int64, error) {
	tag, err := p.pool.Exec(ctx, `UPDATE trophy_events SET reported = TRUE WHERE NOT reported AND id <= $1`, upTo)
	if err != nil {
		return 0, fmt.Errorf("mark events reported: %w", err)
	}
	return tag.RowsAffected(), nil
}
