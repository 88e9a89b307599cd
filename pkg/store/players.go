package store

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
)

// copyThreshold is the roster size from which the COPY protocol is used.
const copyThreshold = 100

// ShouldUseCopy reports whether a roster upsert goes through COPY.
func ShouldUseCopy(members []RosterMember) bool {
	return len(members) >= copyThreshold
}

// dedupeRoster keeps the last entry per tag; ON CONFLICT DO UPDATE rejects a
// statement that touches the same row twice.
func dedupeRoster(members []RosterMember) []RosterMember {
	seen := make(map[string]int, len(members))
	out := make([]RosterMember, 0, len(members))
	for _, m := range members {
		if i, ok := seen[m.Tag]; ok {
			out[i] = m
			continue
		}
		seen[m.Tag] = len(out)
		out = append(out, m)
	}
	return out
}

// UpsertRoster makes sure every live roster member has a players row. New
// players start with their live trophy count as both starting and current
// value; existing players only get their name refreshed.
func (p *Postgres) UpsertRoster(ctx context.Context, members []RosterMember) error {
	members = dedupeRoster(members)
	if len(members) == 0 {
		return nil
	}
	if ShouldUseCopy(members) {
		return p.upsertRosterCopy(ctx, members)
	}
	return p.upsertRosterInsert(ctx, members)
}

type rosterRow struct {
	Tag      string `json:"tag"`
	Name     string `json:"name"`
	Trophies int    `json:"trophies"`
}

func (p *Postgres) upsertRosterInsert(ctx context.Context, members []RosterMember) error {
	rows := make([]rosterRow, len(members))
	for i, m := range members {
		rows[i] = rosterRow{Tag: m.Tag, Name: m.Name, Trophies: m.Trophies}
	}
	payload, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode roster: %w", err)
	}

	const query = `
		INSERT INTO players (player_tag, player_name, current_trophies, starting_trophies)
		SELECT r.tag, r.name, r.trophies, r.trophies
		FROM jsonb_to_recordset($1::jsonb) AS r (tag TEXT, name TEXT, trophies INTEGER)
		ON CONFLICT (player_tag) DO UPDATE SET
			player_name = EXCLUDED.player_name`
	if _, err := p.pool.Exec(ctx, query, payload); err != nil {
		return fmt.Errorf("upsert roster: %w", err)
	}
	return nil
}

func (p *Postgres) upsertRosterCopy(ctx context.Context, members []RosterMember) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `CREATE TEMP TABLE roster_temp (
		player_tag TEXT, player_name TEXT, trophies INTEGER
	) ON COMMIT DROP`)
	if err != nil {
		return fmt.Errorf("failed to create temp table: %w", err)
	}

	rows := make([][]interface{}, len(members))
	for i, m := range members {
		rows[i] = []interface{}{m.Tag, m.Name, m.Trophies}
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"roster_temp"},
		[]string{"player_tag", "player_name", "trophies"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy from failed: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO players (player_tag, player_name, current_trophies, starting_trophies)
		SELECT player_tag, player_name, trophies, trophies FROM roster_temp
		ON CONFLICT (player_tag) DO UPDATE SET
			player_name = EXCLUDED.player_name`)
	if err != nil {
		return fmt.Errorf("upsert from temp table failed: %w", err)
	}
	return tx.Commit(ctx)
}

// TopPlayers returns the standings of the given players ordered by current
// trophies descending, ties broken by tag, truncated to limit.
func (p *Postgres) TopPlayers(ctx context.Context, tags []string, limit int) ([]PlayerStanding, error) {
	if len(tags) == 0 || limit <= 0 {
		return nil, nil
	}
	const query = `
		SELECT player_tag, current_trophies,
			COALESCE(current_attack_wins - starting_attack_wins, 0)
		FROM players
		WHERE player_tag = ANY($1::TEXT[])
		ORDER BY current_trophies DESC, player_tag ASC
		LIMIT $2`
	rows, err := p.pool.Query(ctx, query, tags, limit)
	if err != nil {
		return nil, fmt.Errorf("top players: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (PlayerStanding, error) {
		var s PlayerStanding
		err := row.Scan(&s.Tag, &s.Trophies, &s.Attacks)
		return s, err
	})
}
