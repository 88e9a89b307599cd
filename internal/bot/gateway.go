package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/clashwithnaro/pushbot/pkg/chat"
	"github.com/clashwithnaro/pushbot/pkg/logger"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// eventTimeout bounds the work done for one gateway event.
const eventTimeout = 15 * time.Second

// PageEvents reacts to deleted chat messages.
type PageEvents interface {
	OnMessageDeleted(ctx context.Context, messageID int64) error
}

// ChannelEvents reacts to deleted channels.
type ChannelEvents interface {
	OnChannelDeleted(ctx context.Context, channelID int64) error
}

// DiscordGateway owns the Discord session: it routes gateway events to the
// leaderboard and serves the admin slash commands.
type DiscordGateway struct {
	session  *discordgo.Session
	pages    PageEvents
	channels ChannelEvents
	commands *Commands
	logger   *logger.Logger

	removers []func()
}

// NewDiscordGateway creates a new DiscordGateway instance
func NewDiscordGateway(s *discordgo.Session, pages PageEvents, channels ChannelEvents, cmds *Commands, l *logger.Logger) *DiscordGateway {
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages
	return &DiscordGateway{
		session:  s,
		pages:    pages,
		channels: channels,
		commands: cmds,
		logger:   l.Named("discord"),
	}
}

// Open connects to the gateway and registers the slash commands.
func (g *DiscordGateway) Open(ctx context.Context) error {
	g.removers = append(g.removers,
		g.session.AddHandler(g.onReady),
		g.session.AddHandler(g.onMessageDelete),
		g.session.AddHandler(g.onMessageDeleteBulk),
		g.session.AddHandler(g.onChannelDelete),
		g.session.AddHandler(g.onInteraction),
	)

	if err := g.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}
	g.logger.Info("connected to Discord", zap.String("user", g.session.State.User.Username))

	// Empty guild id registers global commands.
	registered, err := g.session.ApplicationCommandBulkOverwrite(
		g.session.State.User.ID, "", g.commands.Definitions(), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}
	g.logger.Info("slash commands registered", zap.Int("count", len(registered)))
	return nil
}

// Close removes the handlers and disconnects.
func (g *DiscordGateway) Close() error {
	for _, remove := range g.removers {
		remove()
	}
	g.removers = nil
	return g.session.Close()
}

func (g *DiscordGateway) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	g.logger.Info("bot is ready", zap.Int("guilds", len(r.Guilds)))
}

func (g *DiscordGateway) onMessageDelete(_ *discordgo.Session, m *discordgo.MessageDelete) {
	if m.Message == nil {
		return
	}
	g.messagesDeleted(chat.ParseID(m.ID))
}

func (g *DiscordGateway) onMessageDeleteBulk(_ *discordgo.Session, m *discordgo.MessageDeleteBulk) {
	ids := make([]int64, 0, len(m.Messages))
	for _, id := range m.Messages {
		ids = append(ids, chat.ParseID(id))
	}
	g.messagesDeleted(ids...)
}

func (g *DiscordGateway) onChannelDelete(_ *discordgo.Session, c *discordgo.ChannelDelete) {
	if c.Channel == nil {
		return
	}
	g.channelDeleted(chat.ParseID(c.ID))
}

func (g *DiscordGateway) messagesDeleted(ids ...int64) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if err := g.pages.OnMessageDeleted(ctx, id); err != nil {
			g.logger.Error("failed to handle message delete", err, zap.Int64("message_id", id))
		}
	}
}

func (g *DiscordGateway) channelDeleted(id int64) {
	if id == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	if err := g.channels.OnChannelDeleted(ctx, id); err != nil {
		g.logger.Error("failed to handle channel delete", err, zap.Int64("channel_id", id))
	}
}

// onInteraction answers slash commands. The reply is deferred first because
// most commands touch the store or the game API.
func (g *DiscordGateway) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	data := i.ApplicationCommandData()
	g.logger.Debug("received command", zap.String("command", data.Name), zap.String("guild", i.GuildID))

	if i.GuildID == "" || i.Member == nil {
		respond(s, i, "These commands only work inside a server.")
		return
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		g.logger.Error("failed to defer interaction", err, zap.String("command", data.Name))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	reply := g.commands.Execute(ctx, Invocation{
		GuildID:     chat.ParseID(i.GuildID),
		Permissions: i.Member.Permissions,
		Data:        data,
	})

	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &reply}); err != nil {
		g.logger.Error("failed to edit interaction response", err, zap.String("command", data.Name))
	}
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}
