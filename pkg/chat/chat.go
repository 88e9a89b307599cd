// Package chat is the bot's view of the chat platform: channels, plain
// messages and embeds addressed by 64-bit ids.
package chat

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means the channel or message no longer exists.
	ErrNotFound = errors.New("chat: not found")
	// ErrForbidden means the bot lacks the permission for the action.
	ErrForbidden = errors.New("chat: forbidden")
)

// IsNotFound reports whether err means the target is gone.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsForbidden reports whether err is a permission failure.
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }

// Message identifies a sent message.
type Message struct {
	ID        int64
	ChannelID int64
}

// Channel is a resolved channel.
type Channel struct {
	ID      int64
	GuildID int64
	Name    string
}

// Embed is the rich content of a leaderboard page.
type Embed struct {
	AuthorName  string
	AuthorIcon  string
	Description string
	Footer      string
	Color       int
	Timestamp   time.Time
}

// Transport is everything the bot asks of the chat platform.
type Transport interface {
	SendMessage(ctx context.Context, channelID int64, content string) (Message, error)
	EditEmbed(ctx context.Context, channelID, messageID int64, e Embed) error
	DeleteMessage(ctx context.Context, channelID, messageID int64) error
	Channel(ctx context.Context, channelID int64) (Channel, error)
	CanSend(ctx context.Context, channelID int64) (bool, error)
}
