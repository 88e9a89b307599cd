package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// AddClan registers a clan for a guild, refreshing the name if it exists. A
// new clan joins the guild's current log event, if any.
func (p *Postgres) AddClan(ctx context.Context, c Clan) error {
	const query = `
		INSERT INTO clans (guild_id, clan_tag, clan_name, event_id)
		VALUES ($1, $2, $3, (
			SELECT e.event_id FROM guilds g
			JOIN log_events e ON e.channel_id = g.log_channel_id
			WHERE g.guild_id = $1
		))
		ON CONFLICT (guild_id, clan_tag) DO UPDATE SET clan_name = EXCLUDED.clan_name`
	if _, err := p.pool.Exec(ctx, query, c.GuildID, c.Tag, c.Name); err != nil {
		return fmt.Errorf("add clan: %w", err)
	}
	return nil
}

// RemoveClan unregisters a clan. ErrNotFound when the guild did not track it.
func (p *Postgres) RemoveClan(ctx context.Context, guildID int64, tag string) error {
	res, err := p.pool.Exec(ctx, `DELETE FROM clans WHERE guild_id = $1 AND clan_tag = $2`, guildID, tag)
	if err != nil {
		return fmt.Errorf("remove clan: %w", err)
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClanTagsForGuild lists the clans a guild tracks.
func (p *Postgres) ClanTagsForGuild(ctx context.Context, guildID int64) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT DISTINCT clan_tag FROM clans WHERE guild_id = $1 ORDER BY clan_tag`, guildID)
	if err != nil {
		return nil, fmt.Errorf("clan tags for guild: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// TrackedClanTags lists every clan tracked by any guild.
func (p *Postgres) TrackedClanTags(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT DISTINCT clan_tag FROM clans ORDER BY clan_tag`)
	if err != nil {
		return nil, fmt.Errorf("tracked clan tags: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// GuildsForClans lists the guilds tracking any of the clans.
func (p *Postgres) GuildsForClans(ctx context.Context, tags []string) ([]int64, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx,
		`SELECT DISTINCT guild_id FROM clans WHERE clan_tag = ANY($1::TEXT[]) ORDER BY guild_id`, tags)
	if err != nil {
		return nil, fmt.Errorf("guilds for clans: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// ClanName returns the stored display name of a guild's clan.
func (p *Postgres) ClanName(ctx context.Context, guildID int64, tag string) (string, error) {
	var name string
	err := p.pool.QueryRow(ctx,
		`SELECT clan_name FROM clans WHERE guild_id = $1 AND clan_tag = $2`, guildID, tag).Scan(&name)
	if err != nil {
		return "", notFound(err)
	}
	return name, nil
}

// AttachClansToEvent routes every clan of the guild to a log event.
func (p *Postgres) AttachClansToEvent(ctx context.Context, guildID, eventID int64) (int64, error) {
	res, err := p.pool.Exec(ctx, `UPDATE clans SET event_id = $2 WHERE guild_id = $1`, guildID, eventID)
	if err != nil {
		return 0, fmt.Errorf("attach clans to event: %w", err)
	}
	return res.RowsAffected(), nil
}
