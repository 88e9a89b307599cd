package eventlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clashwithnaro/pushbot/pkg/logger"
	"github.com/clashwithnaro/pushbot/pkg/store"

	"go.uber.org/zap"
)

var (
	ErrCannotPost      = errors.New("the bot cannot post in that channel")
	ErrNoLogChannel    = errors.New("no log channel is configured")
	ErrInvalidInterval = errors.New("log interval cannot be negative")
)

// AdminStore is the configuration side of the store used by log commands.
type AdminStore interface {
	SaveChannelConfig(ctx context.Context, cfg store.ChannelConfig) (int64, error)
	AttachClansToEvent(ctx context.Context, guildID, eventID int64) (int64, error)
	SaveGuildConfig(ctx context.Context, cfg store.GuildConfig) error
}

// GuildConfigs is the guild configuration cache.
type GuildConfigs interface {
	Get(ctx context.Context, guildID int64) (store.GuildConfig, error)
	Invalidate(guildID int64)
}

// PermissionChecker tells whether the bot can post in a channel.
type PermissionChecker interface {
	CanSend(ctx context.Context, channelID int64) (bool, error)
}

// Admin configures a guild's log channel.
type Admin struct {
	store    AdminStore
	guilds   GuildConfigs
	channels ChannelConfigs
	perms    PermissionChecker
	logger   *logger.Logger
}

// NewAdmin creates a new Admin instance
func NewAdmin(s AdminStore, guilds GuildConfigs, channels ChannelConfigs, perms PermissionChecker, l *logger.Logger) *Admin {
	return &Admin{store: s, guilds: guilds, channels: channels, perms: perms, logger: l.Named("eventlog-admin")}
}

// Info returns the guild configuration holding the log settings.
func (a *Admin) Info(ctx context.Context, guildID int64) (store.GuildConfig, error) {
	return a.guilds.Get(ctx, guildID)
}

// SetChannel makes channelID the guild's log channel and routes all of its
// clans there. Logs are held back until interval has passed since the most
// recent event of a batch.
func (a *Admin) SetChannel(ctx context.Context, guildID, channelID int64, name string, interval time.Duration) (store.ChannelConfig, error) {
	if interval < 0 {
		return store.ChannelConfig{}, ErrInvalidInterval
	}
	ok, err := a.perms.CanSend(ctx, channelID)
	if err != nil {
		return store.ChannelConfig{}, fmt.Errorf("check channel permissions: %w", err)
	}
	if !ok {
		return store.ChannelConfig{}, ErrCannotPost
	}

	gcfg, err := a.guilds.Get(ctx, guildID)
	if err != nil {
		return store.ChannelConfig{}, err
	}

	ccfg := store.ChannelConfig{
		GuildID:     guildID,
		ChannelID:   channelID,
		EventName:   name,
		LogInterval: interval,
		LogEnabled:  true,
	}
	if ccfg.EventID, err = a.store.SaveChannelConfig(ctx, ccfg); err != nil {
		return store.ChannelConfig{}, err
	}
	attached, err := a.store.AttachClansToEvent(ctx, guildID, ccfg.EventID)
	if err != nil {
		return store.ChannelConfig{}, err
	}

	previous := gcfg.LogChannelID
	gcfg.LogChannelID = channelID
	gcfg.LogInterval = interval
	gcfg.LogEnabled = true
	if err := a.store.SaveGuildConfig(ctx, gcfg); err != nil {
		return store.ChannelConfig{}, err
	}

	a.guilds.Invalidate(guildID)
	a.channels.Invalidate(channelID)
	if previous != 0 && previous != channelID {
		a.channels.Invalidate(previous)
	}
	a.logger.Info("log channel configured",
		zap.Int64("guild_id", guildID), zap.Int64("channel_id", channelID),
		zap.Duration("interval", interval), zap.Int64("clans", attached))
	return ccfg, nil
}

// SetEnabled toggles logging for the guild's log channel.
func (a *Admin) SetEnabled(ctx context.Context, guildID int64, enabled bool) error {
	gcfg, err := a.guilds.Get(ctx, guildID)
	if err != nil {
		return err
	}
	if gcfg.LogChannelID == 0 {
		return ErrNoLogChannel
	}
	ccfg, err := a.channels.Get(ctx, gcfg.LogChannelID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNoLogChannel
	}
	if err != nil {
		return err
	}

	ccfg.LogEnabled = enabled
	if _, err := a.store.SaveChannelConfig(ctx, ccfg); err != nil {
		return err
	}
	gcfg.LogEnabled = enabled
	if err := a.store.SaveGuildConfig(ctx, gcfg); err != nil {
		return err
	}
	a.channels.Invalidate(ccfg.ChannelID)
	a.guilds.Invalidate(guildID)
	return nil
}
