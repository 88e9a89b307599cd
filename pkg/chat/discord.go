package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Discord implements Transport on a discordgo session.
type Discord struct {
	session *discordgo.Session
}

// NewDiscord wraps an opened session.
func NewDiscord(s *discordgo.Session) *Discord {
	return &Discord{session: s}
}

// ID formats a snowflake for the Discord API.
func ID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ParseID parses a Discord snowflake. Empty or invalid input yields 0.
func ParseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// classify maps Discord REST failures onto the package sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return err
	}
	if rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case discordgo.ErrCodeMissingPermissions, discordgo.ErrCodeMissingAccess:
			return fmt.Errorf("%w: %v", ErrForbidden, err)
		}
	}
	if rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrForbidden, err)
		}
	}
	return err
}

func toDiscordEmbed(e Embed) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Description: e.Description,
		Color:       e.Color,
	}
	if e.AuthorName != "" {
		embed.Author = &discordgo.MessageEmbedAuthor{Name: e.AuthorName, IconURL: e.AuthorIcon}
	}
	if e.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	if !e.Timestamp.IsZero() {
		embed.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
	}
	return embed
}

// SendMessage posts a plain message.
func (d *Discord) SendMessage(ctx context.Context, channelID int64, content string) (Message, error) {
	m, err := d.session.ChannelMessageSend(ID(channelID), content, discordgo.WithContext(ctx))
	if err != nil {
		return Message{}, classify(err)
	}
	return Message{ID: ParseID(m.ID), ChannelID: ParseID(m.ChannelID)}, nil
}

// EditEmbed replaces a message's content with the embed.
func (d *Discord) EditEmbed(ctx context.Context, channelID, messageID int64, e Embed) error {
	edit := discordgo.NewMessageEdit(ID(channelID), ID(messageID)).
		SetContent("").
		SetEmbed(toDiscordEmbed(e))
	_, err := d.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	return classify(err)
}

// DeleteMessage removes a message.
func (d *Discord) DeleteMessage(ctx context.Context, channelID, messageID int64) error {
	return classify(d.session.ChannelMessageDelete(ID(channelID), ID(messageID), discordgo.WithContext(ctx)))
}

// Channel resolves a channel, preferring the gateway state cache.
func (d *Discord) Channel(ctx context.Context, channelID int64) (Channel, error) {
	if d.session.State != nil {
		if c, err := d.session.State.Channel(ID(channelID)); err == nil {
			return Channel{ID: channelID, GuildID: ParseID(c.GuildID), Name: c.Name}, nil
		}
	}
	c, err := d.session.Channel(ID(channelID), discordgo.WithContext(ctx))
	if err != nil {
		return Channel{}, classify(err)
	}
	return Channel{ID: channelID, GuildID: ParseID(c.GuildID), Name: c.Name}, nil
}

const sendPermissions = discordgo.PermissionViewChannel |
	discordgo.PermissionSendMessages |
	discordgo.PermissionEmbedLinks

// CanSend reports whether the bot may post embeds in the channel.
func (d *Discord) CanSend(ctx context.Context, channelID int64) (bool, error) {
	if d.session.State == nil || d.session.State.User == nil {
		return false, errors.New("chat: session not ready")
	}
	perms, err := d.session.UserChannelPermissions(d.session.State.User.ID, ID(channelID), discordgo.WithContext(ctx))
	if err != nil {
		return false, classify(err)
	}
	return perms&sendPermissions == sendPermissions, nil
}
