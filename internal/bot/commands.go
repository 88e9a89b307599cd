package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clashwithnaro/pushbot/pkg/chat"
	"github.com/clashwithnaro/pushbot/pkg/eventlog"
	"github.com/clashwithnaro/pushbot/pkg/leaderboard"
	"github.com/clashwithnaro/pushbot/pkg/logger"
	"github.com/clashwithnaro/pushbot/pkg/store"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// BoardAdmin configures leaderboards.
type BoardAdmin interface {
	Info(ctx context.Context, guildID int64) (store.GuildConfig, error)
	SetChannel(ctx context.Context, guildID, channelID int64) error
	SetEnabled(ctx context.Context, guildID int64, enabled bool) error
	SetTitle(ctx context.Context, guildID int64, title string) error
	SetIcon(ctx context.Context, guildID int64, iconURL string) error
	SetRenderMode(ctx context.Context, guildID int64, mode store.RenderMode) error
	AddClan(ctx context.Context, guildID int64, tag string) (store.Clan, error)
	RemoveClan(ctx context.Context, guildID int64, tag string) error
}

// LogAdmin configures trophy logs.
type LogAdmin interface {
	SetChannel(ctx context.Context, guildID, channelID int64, name string, interval time.Duration) (store.ChannelConfig, error)
	SetEnabled(ctx context.Context, guildID int64, enabled bool) error
}

// PageRefresher redraws one guild's leaderboard.
type PageRefresher interface {
	Refresh(ctx context.Context, guildID int64) error
}

// Invocation is one slash command call.
type Invocation struct {
	GuildID     int64
	Permissions int64
	Data        discordgo.ApplicationCommandInteractionData
}

// Commands implements /pushboard and /log.
type Commands struct {
	boards  BoardAdmin
	logs    LogAdmin
	refresh PageRefresher
	logger  *logger.Logger
}

// NewCommands creates a new Commands instance
func NewCommands(boards BoardAdmin, logs LogAdmin, refresh PageRefresher, l *logger.Logger) *Commands {
	return &Commands{boards: boards, logs: logs, refresh: refresh, logger: l.Named("commands")}
}

var manageServer int64 = discordgo.PermissionManageServer

// Definitions returns the slash command definitions.
func (c *Commands) Definitions() []*discordgo.ApplicationCommand {
	channelOpt := func(desc string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:         discordgo.ApplicationCommandOptionChannel,
			Name:         "channel",
			Description:  desc,
			Required:     true,
			ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
		}
	}
	toggle := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        "toggle",
		Description: "Turn it on or off",
		Options: []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionBoolean,
			Name:        "enabled",
			Description: "Whether it is enabled",
			Required:    true,
		}},
	}
	tagOpt := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "tag",
		Description: "Clan tag, e.g. #2PP",
		Required:    true,
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:                     "pushboard",
			Description:              "Configure the trophy push leaderboard",
			DefaultMemberPermissions: &manageServer,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "channel",
					Description: "Post the leaderboard in a channel",
					Options:     []*discordgo.ApplicationCommandOption{channelOpt("The leaderboard channel")},
				},
				toggle,
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "title",
					Description: "Set the leaderboard title (leave empty for the default)",
					Options: []*discordgo.ApplicationCommandOption{{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "title",
						Description: "The new title",
					}},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "icon",
					Description: "Set the leaderboard icon (leave empty for the default)",
					Options: []*discordgo.ApplicationCommandOption{{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "url",
						Description: "An https image URL",
					}},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "render",
					Description: "Choose the table layout",
					Options: []*discordgo.ApplicationCommandOption{{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "mode",
						Description: "Table layout",
						Required:    true,
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: "Detailed", Value: store.RenderDetailed.String()},
							{Name: "Compact", Value: store.RenderCompact.String()},
						},
					}},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "addclan",
					Description: "Track a clan",
					Options:     []*discordgo.ApplicationCommandOption{tagOpt},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "removeclan",
					Description: "Stop tracking a clan",
					Options:     []*discordgo.ApplicationCommandOption{tagOpt},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "refresh",
					Description: "Redraw the leaderboard now",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "info",
					Description: "Show the current configuration",
				},
			},
		},
		{
			Name:                     "log",
			Description:              "Configure the trophy log",
			DefaultMemberPermissions: &manageServer,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "channel",
					Description: "Post trophy logs in a channel",
					Options: []*discordgo.ApplicationCommandOption{
						channelOpt("The log channel"),
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "interval",
							Description: "Minutes to hold logs back (0 posts right away)",
							MinValue:    new(float64),
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "name",
							Description: "Name of the push event",
						},
					},
				},
				toggle,
			},
		},
	}
}

// Execute runs a command and returns the reply shown to the caller.
func (c *Commands) Execute(ctx context.Context, inv Invocation) string {
	if inv.Permissions&discordgo.PermissionManageServer == 0 {
		return "You need the Manage Server permission to use this command."
	}
	if len(inv.Data.Options) == 0 {
		return "Unknown command."
	}
	sub := inv.Data.Options[0]
	opts := optionMap(sub.Options)

	var (
		reply string
		err   error
	)
	switch inv.Data.Name {
	case "pushboard":
		reply, err = c.pushboard(ctx, inv.GuildID, sub.Name, opts)
	case "log":
		reply, err = c.log(ctx, inv.GuildID, sub.Name, opts)
	default:
		return "Unknown command."
	}
	if err != nil {
		return c.failure(inv, err)
	}
	return reply
}

func (c *Commands) pushboard(ctx context.Context, guildID int64, sub string, opts options) (string, error) {
	switch sub {
	case "channel":
		channelID := opts.channel("channel")
		if err := c.boards.SetChannel(ctx, guildID, channelID); err != nil {
			return "", err
		}
		return fmt.Sprintf("The leaderboard will be posted in <#%d>.", channelID), nil
	case "toggle":
		enabled := opts.flag("enabled")
		if err := c.boards.SetEnabled(ctx, guildID, enabled); err != nil {
			return "", err
		}
		return "Leaderboard " + onOff(enabled) + ".", nil
	case "title":
		if err := c.boards.SetTitle(ctx, guildID, opts.text("title")); err != nil {
			return "", err
		}
		return "Leaderboard title updated.", nil
	case "icon":
		if err := c.boards.SetIcon(ctx, guildID, opts.text("url")); err != nil {
			return "", err
		}
		return "Leaderboard icon updated.", nil
	case "render":
		mode, err := store.ParseRenderMode(opts.text("mode"))
		if err != nil {
			return "Unknown render mode.", nil
		}
		if err := c.boards.SetRenderMode(ctx, guildID, mode); err != nil {
			return "", err
		}
		return fmt.Sprintf("Leaderboard now uses the %s layout.", mode), nil
	case "addclan":
		clan, err := c.boards.AddClan(ctx, guildID, opts.text("tag"))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Now tracking **%s** (%s).", clan.Name, clan.Tag), nil
	case "removeclan":
		if err := c.boards.RemoveClan(ctx, guildID, opts.text("tag")); err != nil {
			return "", err
		}
		return "Clan removed.", nil
	case "refresh":
		if err := c.refresh.Refresh(ctx, guildID); err != nil {
			return "", err
		}
		return "Leaderboard refreshed.", nil
	case "info":
		cfg, err := c.boards.Info(ctx, guildID)
		if err != nil {
			return "", err
		}
		return describe(cfg), nil
	}
	return "Unknown command.", nil
}

func (c *Commands) log(ctx context.Context, guildID int64, sub string, opts options) (string, error) {
	switch sub {
	case "channel":
		channelID := opts.channel("channel")
		interval := time.Duration(opts.number("interval")) * time.Minute
		cfg, err := c.logs.SetChannel(ctx, guildID, channelID, opts.text("name"), interval)
		if err != nil {
			return "", err
		}
		if cfg.LogInterval <= 0 {
			return fmt.Sprintf("Trophy logs will be posted in <#%d> as they happen.", channelID), nil
		}
		return fmt.Sprintf("Trophy logs will be posted in <#%d> every %s.", channelID, cfg.LogInterval), nil
	case "toggle":
		enabled := opts.flag("enabled")
		if err := c.logs.SetEnabled(ctx, guildID, enabled); err != nil {
			return "", err
		}
		return "Trophy log " + onOff(enabled) + ".", nil
	}
	return "Unknown command.", nil
}

// userErrors are shown to the caller as they are.
var userErrors = []error{
	leaderboard.ErrCannotPost,
	leaderboard.ErrUnknownClan,
	leaderboard.ErrInvalidIcon,
	leaderboard.ErrTitleTooLong,
	eventlog.ErrCannotPost,
	eventlog.ErrNoLogChannel,
	eventlog.ErrInvalidInterval,
}

func (c *Commands) failure(inv Invocation, err error) string {
	for _, known := range userErrors {
		if errors.Is(err, known) {
			return capitalize(known.Error()) + "."
		}
	}
	if chat.IsForbidden(err) {
		return "I am missing permissions in the configured channel."
	}
	c.logger.ForGuild(inv.GuildID).Error("command failed", err, zap.String("command", inv.Data.Name))
	return "Something went wrong, please try again later."
}

func describe(cfg store.GuildConfig) string {
	var sb strings.Builder
	sb.WriteString("**Leaderboard**\n")
	if cfg.LeaderboardChannelID == 0 {
		sb.WriteString("Channel: not set\n")
	} else {
		sb.WriteString(fmt.Sprintf("Channel: <#%d> (%s)\n", cfg.LeaderboardChannelID, onOff(cfg.LeaderboardEnabled)))
	}
	if cfg.LeaderboardTitle != "" {
		sb.WriteString(fmt.Sprintf("Title: %s\n", cfg.LeaderboardTitle))
	}
	sb.WriteString(fmt.Sprintf("Layout: %s\n", cfg.RenderMode))
	sb.WriteString("\n**Trophy log**\n")
	if cfg.LogChannelID == 0 {
		sb.WriteString("Channel: not set")
	} else {
		sb.WriteString(fmt.Sprintf("Channel: <#%d> (%s), interval %s", cfg.LogChannelID, onOff(cfg.LogEnabled), cfg.LogInterval))
	}
	return sb.String()
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

type options map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) options {
	m := make(options, len(opts))
	for _, o := range opts {
		m[o.Name] = o
	}
	return m
}

func (o options) text(name string) string {
	if opt, ok := o[name]; ok {
		return strings.TrimSpace(opt.StringValue())
	}
	return ""
}

func (o options) flag(name string) bool {
	if opt, ok := o[name]; ok {
		return opt.BoolValue()
	}
	return false
}

func (o options) number(name string) int64 {
	if opt, ok := o[name]; ok {
		return opt.IntValue()
	}
	return 0
}

// channel reads a channel option without touching the session state.
func (o options) channel(name string) int64 {
	if opt, ok := o[name]; ok {
		return chat.ParseID(fmt.Sprint(opt.Value))
	}
	return 0
}
