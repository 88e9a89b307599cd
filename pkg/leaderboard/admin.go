package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"unicode/utf8"

	"github.com/clashwithnaro/pushbot/pkg/coc"
	"github.com/clashwithnaro/pushbot/pkg/feed"
	"github.com/clashwithnaro/pushbot/pkg/logger"
	"github.com/clashwithnaro/pushbot/pkg/store"

	"go.uber.org/zap"
)

var (
	ErrCannotPost   = errors.New("the bot cannot post embeds in that channel")
	ErrUnknownClan  = errors.New("no clan exists with that tag")
	ErrInvalidIcon  = errors.New("icon must be an https URL")
	ErrTitleTooLong = errors.New("title must be at most 256 characters")
)

// AdminStore is the configuration side of the store.
type AdminStore interface {
	SaveGuildConfig(ctx context.Context, cfg store.GuildConfig) error
	AddClan(ctx context.Context, c store.Clan) error
	RemoveClan(ctx context.Context, guildID int64, tag string) error
	GuildByLeaderboardChannel(ctx context.Context, channelID int64) (int64, error)
	DeleteLeaderboardMessagesByChannel(ctx context.Context, channelID int64) (int64, error)
}

// ClanLookup verifies clan tags.
type ClanLookup interface {
	GetClan(ctx context.Context, tag string) (*coc.Clan, error)
}

// PermissionChecker tells whether the bot can post in a channel.
type PermissionChecker interface {
	CanSend(ctx context.Context, channelID int64) (bool, error)
}

// Admin applies administrative changes to leaderboard configuration. Every
// change is written to the store first and then invalidated in the cache.
type Admin struct {
	store   AdminStore
	configs GuildConfigs
	clans   ClanLookup
	perms   PermissionChecker
	dirty   *Dirty
	logger  *logger.Logger
}

// NewAdmin creates a new Admin instance
func NewAdmin(s AdminStore, configs GuildConfigs, clans ClanLookup, perms PermissionChecker, dirty *Dirty, l *logger.Logger) *Admin {
	return &Admin{store: s, configs: configs, clans: clans, perms: perms, dirty: dirty, logger: l.Named("leaderboard-admin")}
}

func (a *Admin) update(ctx context.Context, guildID int64, mutate func(*store.GuildConfig)) (store.GuildConfig, error) {
	cfg, err := a.configs.Get(ctx, guildID)
	if err != nil {
		return store.GuildConfig{}, err
	}
	mutate(&cfg)
	if err := a.store.SaveGuildConfig(ctx, cfg); err != nil {
		return store.GuildConfig{}, err
	}
	a.configs.Invalidate(guildID)
	a.dirty.MarkGuild(guildID)
	return cfg, nil
}

// Info returns the current configuration.
func (a *Admin) Info(ctx context.Context, guildID int64) (store.GuildConfig, error) {
	return a.configs.Get(ctx, guildID)
}

// SetChannel moves the leaderboard to a channel and enables it.
func (a *Admin) SetChannel(ctx context.Context, guildID, channelID int64) error {
	ok, err := a.perms.CanSend(ctx, channelID)
	if err != nil {
		return fmt.Errorf("check channel permissions: %w", err)
	}
	if !ok {
		return ErrCannotPost
	}
	_, err = a.update(ctx, guildID, func(c *store.GuildConfig) {
		c.LeaderboardChannelID = channelID
		c.LeaderboardEnabled = true
	})
	return err
}

// SetEnabled toggles the leaderboard.
func (a *Admin) SetEnabled(ctx context.Context, guildID int64, enabled bool) error {
	_, err := a.update(ctx, guildID, func(c *store.GuildConfig) { c.LeaderboardEnabled = enabled })
	return err
}

// SetTitle changes the embed title. An empty title restores the default.
func (a *Admin) SetTitle(ctx context.Context, guildID int64, title string) error {
	if utf8.RuneCountInString(title) > 256 {
		return ErrTitleTooLong
	}
	_, err := a.update(ctx, guildID, func(c *store.GuildConfig) { c.LeaderboardTitle = title })
	return err
}

// SetIcon changes the embed icon. An empty URL restores the default.
func (a *Admin) SetIcon(ctx context.Context, guildID int64, iconURL string) error {
	if iconURL != "" {
		u, err := url.Parse(iconURL)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return ErrInvalidIcon
		}
	}
	_, err := a.update(ctx, guildID, func(c *store.GuildConfig) { c.IconURL = iconURL })
	return err
}

// SetRenderMode switches the table layout.
func (a *Admin) SetRenderMode(ctx context.Context, guildID int64, mode store.RenderMode) error {
	_, err := a.update(ctx, guildID, func(c *store.GuildConfig) { c.RenderMode = mode })
	return err
}

// AddClan verifies a clan tag against the game API and starts tracking it.
func (a *Admin) AddClan(ctx context.Context, guildID int64, tag string) (store.Clan, error) {
	tag = feed.NormalizeTag(tag)
	if tag == "" {
		return store.Clan{}, ErrUnknownClan
	}
	clan, err := a.clans.GetClan(ctx, tag)
	if errors.Is(err, coc.ErrNotFound) {
		return store.Clan{}, ErrUnknownClan
	}
	if err != nil {
		return store.Clan{}, fmt.Errorf("look up clan: %w", err)
	}

	c := store.Clan{GuildID: guildID, Tag: clan.Tag, Name: clan.Name}
	if err := a.store.AddClan(ctx, c); err != nil {
		return store.Clan{}, err
	}
	a.dirty.MarkGuild(guildID)
	a.logger.Info("clan added", zap.Int64("guild_id", guildID), zap.String("clan_tag", c.Tag))
	return c, nil
}

// RemoveClan stops tracking a clan.
func (a *Admin) RemoveClan(ctx context.Context, guildID int64, tag string) error {
	tag = feed.NormalizeTag(tag)
	if err := a.store.RemoveClan(ctx, guildID, tag); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnknownClan
		}
		return err
	}
	a.dirty.MarkGuild(guildID)
	return nil
}

// OnChannelDeleted disables a leaderboard whose channel was deleted.
func (a *Admin) OnChannelDeleted(ctx context.Context, channelID int64) error {
	guildID, err := a.store.GuildByLeaderboardChannel(ctx, channelID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := a.store.DeleteLeaderboardMessagesByChannel(ctx, channelID); err != nil {
		return err
	}
	cfg, err := a.configs.Get(ctx, guildID)
	if err != nil {
		return err
	}
	cfg.LeaderboardChannelID = 0
	cfg.LeaderboardEnabled = false
	if err := a.store.SaveGuildConfig(ctx, cfg); err != nil {
		return err
	}
	a.configs.Invalidate(guildID)
	a.logger.Info("leaderboard channel deleted, leaderboard disabled",
		zap.Int64("guild_id", guildID), zap.Int64("channel_id", channelID))
	return nil
}
