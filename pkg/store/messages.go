package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// LeaderboardMessages returns a guild's page registry in page order.
func (p *Postgres) LeaderboardMessages(ctx context.Context, guildID int64) ([]LeaderboardMessage, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, guild_id, channel_id, message_id
		FROM leaderboard_messages WHERE guild_id = $1 ORDER BY id`, guildID)
	if err != nil {
		return nil, fmt.Errorf("leaderboard messages: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[LeaderboardMessage])
}

// InsertLeaderboardMessage registers a new page and fills in its row id.
func (p *Postgres) InsertLeaderboardMessage(ctx context.Context, m *LeaderboardMessage) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO leaderboard_messages (guild_id, channel_id, message_id)
		VALUES ($1, $2, $3) RETURNING id`, m.GuildID, m.ChannelID, m.MessageID).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("insert leaderboard message: %w", err)
	}
	return nil
}

// DeleteLeaderboardMessage removes a page by chat message id and returns the
// owning guild. ErrNotFound when the message was not a leaderboard page.
func (p *Postgres) DeleteLeaderboardMessage(ctx context.Context, messageID int64) (int64, error) {
	var guildID int64
	err := p.pool.QueryRow(ctx,
		`DELETE FROM leaderboard_messages WHERE message_id = $1 RETURNING guild_id`, messageID).Scan(&guildID)
	if err != nil {
		return 0, notFound(err)
	}
	return guildID, nil
}

// DeleteLeaderboardMessagesByChannel drops every page registered in a channel.
func (p *Postgres) DeleteLeaderboardMessagesByChannel(ctx context.Context, channelID int64) (int64, error) {
	res, err := p.pool.Exec(ctx, `DELETE FROM leaderboard_messages WHERE channel_id = $1`, channelID)
	if err != nil {
		return 0, fmt.Errorf("delete leaderboard messages: %w", err)
	}
	return res.RowsAffected(), nil
}
