package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/clashwithnaro/pushbot/pkg/chat"
	"github.com/clashwithnaro/pushbot/pkg/coc"
	"github.com/clashwithnaro/pushbot/pkg/logger"
	"github.com/clashwithnaro/pushbot/pkg/metrics"
	"github.com/clashwithnaro/pushbot/pkg/store"

	"go.uber.org/zap"
)

// Store is the slice of the durable store the refresher reads and writes.
type Store interface {
	ClanTagsForGuild(ctx context.Context, guildID int64) ([]string, error)
	UpsertRoster(ctx context.Context, members []store.RosterMember) error
	TopPlayers(ctx context.Context, tags []string, limit int) ([]store.PlayerStanding, error)
	LeaderboardMessages(ctx context.Context, guildID int64) ([]store.LeaderboardMessage, error)
	InsertLeaderboardMessage(ctx context.Context, m *store.LeaderboardMessage) error
	DeleteLeaderboardMessage(ctx context.Context, messageID int64) (int64, error)
	GuildsForClans(ctx context.Context, tags []string) ([]int64, error)
	EnabledLeaderboardGuilds(ctx context.Context) ([]int64, error)
	ClanName(ctx context.Context, guildID int64, tag string) (string, error)
}

// Roster fetches live clan rosters.
type Roster interface {
	GetClans(ctx context.Context, tags []string) ([]*coc.Clan, error)
}

// GuildConfigs is the guild configuration cache.
type GuildConfigs interface {
	Get(ctx context.Context, guildID int64) (store.GuildConfig, error)
	Invalidate(guildID int64)
}

// Transport is the part of the chat platform pages are drawn on.
type Transport interface {
	SendMessage(ctx context.Context, channelID int64, content string) (chat.Message, error)
	EditEmbed(ctx context.Context, channelID, messageID int64, e chat.Embed) error
	DeleteMessage(ctx context.Context, channelID, messageID int64) error
}

// Config sizes the leaderboard
type Config struct {
	PageSize int
	Limit    int
}

// Refresher keeps every guild's leaderboard pages in line with the standings.
type Refresher struct {
	store   Store
	roster  Roster
	configs GuildConfigs
	chat    Transport
	dirty   *Dirty
	logger  *logger.Logger
	cfg     Config
	now     func() time.Time

	locks keyedMutex

	mu             sync.Mutex
	expectedDelete map[int64]struct{}
}

// NewRefresher creates a new Refresher instance
func NewRefresher(s Store, r Roster, configs GuildConfigs, t Transport, dirty *Dirty, cfg Config, l *logger.Logger) *Refresher {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	return &Refresher{
		store:          s,
		roster:         r,
		configs:        configs,
		chat:           t,
		dirty:          dirty,
		logger:         l.Named("leaderboard"),
		cfg:            cfg,
		now:            time.Now,
		locks:          keyedMutex{locks: make(map[int64]*sync.Mutex)},
		expectedDelete: make(map[int64]struct{}),
	}
}

// keyedMutex serializes work per guild.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func (k *keyedMutex) lock(key int64) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Refresh recomputes a guild's standings and redraws its pages. Refreshes of
// the same guild never overlap.
func (r *Refresher) Refresh(ctx context.Context, guildID int64) error {
	unlock := r.locks.lock(guildID)
	defer unlock()

	err := r.refresh(ctx, guildID)
	if err != nil {
		metrics.LeaderboardRefreshTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("refresh guild %d: %w", guildID, err)
	}
	metrics.LeaderboardRefreshTotal.WithLabelValues("ok").Inc()
	return nil
}

func (r *Refresher) refresh(ctx context.Context, guildID int64) error {
	cfg, err := r.configs.Get(ctx, guildID)
	if err != nil {
		return fmt.Errorf("load guild config: %w", err)
	}
	if !cfg.LeaderboardActive() {
		return nil
	}

	tags, err := r.store.ClanTagsForGuild(ctx, guildID)
	if err != nil {
		return err
	}
	clans, err := r.roster.GetClans(ctx, tags)
	if err != nil {
		return fmt.Errorf("fetch rosters: %w", err)
	}

	var (
		members    []store.RosterMember
		memberTags []string
		names      = make(map[string]string)
	)
	for _, clan := range clans {
		for _, m := range clan.Members {
			if _, seen := names[m.Tag]; seen {
				continue
			}
			names[m.Tag] = m.Name
			memberTags = append(memberTags, m.Tag)
			members = append(members, store.RosterMember{Tag: m.Tag, Name: m.Name, Trophies: m.Trophies})
		}
	}

	if err := r.store.UpsertRoster(ctx, members); err != nil {
		return err
	}
	standings, err := r.store.TopPlayers(ctx, memberTags, r.cfg.Limit)
	if err != nil {
		return err
	}

	pages, err := r.reconcile(ctx, cfg, PageCount(len(standings), r.cfg.PageSize))
	if err != nil {
		return err
	}

	now := r.now()
	for i, page := range pages {
		embed := RenderPage(cfg, PageRows(standings, names, i, r.cfg.PageSize), now)
		if err := r.draw(ctx, cfg, page, embed); err != nil {
			return err
		}
	}
	r.logger.Debug("leaderboard refreshed",
		zap.Int64("guild_id", guildID), zap.Int("players", len(standings)), zap.Int("pages", len(pages)))
	return nil
}

// draw edits a page; a page whose message vanished is replaced in place.
func (r *Refresher) draw(ctx context.Context, cfg store.GuildConfig, page store.LeaderboardMessage, embed chat.Embed) error {
	err := r.chat.EditEmbed(ctx, page.ChannelID, page.MessageID, embed)
	if !chat.IsNotFound(err) {
		return err
	}

	r.logger.Info("leaderboard page vanished, recreating",
		zap.Int64("guild_id", cfg.GuildID), zap.Int64("message_id", page.MessageID))
	if _, err := r.store.DeleteLeaderboardMessage(ctx, page.MessageID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	replacement, err := r.createPage(ctx, cfg)
	if err != nil {
		return err
	}
	return r.chat.EditEmbed(ctx, replacement.ChannelID, replacement.MessageID, embed)
}

// GetUpdatesMessages returns exactly desired pages for the guild, creating or
// deleting page messages as needed.
func (r *Refresher) GetUpdatesMessages(ctx context.Context, guildID int64, desired int) ([]store.LeaderboardMessage, error) {
	unlock := r.locks.lock(guildID)
	defer unlock()

	cfg, err := r.configs.Get(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("load guild config: %w", err)
	}
	return r.reconcile(ctx, cfg, desired)
}

func (r *Refresher) reconcile(ctx context.Context, cfg store.GuildConfig, desired int) ([]store.LeaderboardMessage, error) {
	if desired < 0 {
		desired = 0
	}
	rows, err := r.store.LeaderboardMessages(ctx, cfg.GuildID)
	if err != nil {
		return nil, err
	}

	// pages left behind in a previous leaderboard channel go first
	pages := make([]store.LeaderboardMessage, 0, len(rows))
	for _, m := range rows {
		if m.ChannelID != cfg.LeaderboardChannelID {
			if err := r.removePage(ctx, m); err != nil {
				return nil, err
			}
			continue
		}
		pages = append(pages, m)
	}

	for len(pages) > desired {
		if err := r.removePage(ctx, pages[len(pages)-1]); err != nil {
			return nil, err
		}
		pages = pages[:len(pages)-1]
	}
	for len(pages) < desired {
		m, err := r.createPage(ctx, cfg)
		if err != nil {
			return nil, err
		}
		pages = append(pages, m)
	}
	return pages, nil
}

func (r *Refresher) createPage(ctx context.Context, cfg store.GuildConfig) (store.LeaderboardMessage, error) {
	msg, err := r.chat.SendMessage(ctx, cfg.LeaderboardChannelID, PlaceholderContent)
	if err != nil {
		return store.LeaderboardMessage{}, fmt.Errorf("create page: %w", err)
	}
	page := store.LeaderboardMessage{GuildID: cfg.GuildID, ChannelID: cfg.LeaderboardChannelID, MessageID: msg.ID}
	if err := r.store.InsertLeaderboardMessage(ctx, &page); err != nil {
		r.expectDeletion(msg.ID)
		if derr := r.chat.DeleteMessage(ctx, cfg.LeaderboardChannelID, msg.ID); derr != nil {
			r.forgetDeletion(msg.ID)
		}
		return store.LeaderboardMessage{}, err
	}
	metrics.LeaderboardPagesTotal.WithLabelValues("created").Inc()
	return page, nil
}

func (r *Refresher) removePage(ctx context.Context, m store.LeaderboardMessage) error {
	if _, err := r.store.DeleteLeaderboardMessage(ctx, m.MessageID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	r.expectDeletion(m.MessageID)
	err := r.chat.DeleteMessage(ctx, m.ChannelID, m.MessageID)
	if err != nil {
		r.forgetDeletion(m.MessageID)
		if !chat.IsNotFound(err) {
			r.logger.Warn("failed to delete leaderboard page",
				zap.Int64("guild_id", m.GuildID), zap.Int64("message_id", m.MessageID), zap.Error(err))
		}
	}
	metrics.LeaderboardPagesTotal.WithLabelValues("deleted").Inc()
	return nil
}

func (r *Refresher) expectDeletion(messageID int64) {
	r.mu.Lock()
	r.expectedDelete[messageID] = struct{}{}
	r.mu.Unlock()
}

func (r *Refresher) forgetDeletion(messageID int64) {
	r.mu.Lock()
	delete(r.expectedDelete, messageID)
	r.mu.Unlock()
}

// consumeDeletion reports whether the bot deleted the message itself.
func (r *Refresher) consumeDeletion(messageID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.expectedDelete[messageID]
	delete(r.expectedDelete, messageID)
	return ok
}

// OnMessageDeleted reacts to a deleted chat message. A leaderboard page
// removed by someone else is unregistered and its guild queued for refresh,
// which recreates the page.
func (r *Refresher) OnMessageDeleted(ctx context.Context, messageID int64) error {
	if r.consumeDeletion(messageID) {
		return nil
	}
	guildID, err := r.store.DeleteLeaderboardMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	r.logger.Info("leaderboard page deleted externally",
		zap.Int64("guild_id", guildID), zap.Int64("message_id", messageID))
	r.dirty.MarkGuild(guildID)
	return nil
}

// RefreshDirty refreshes every guild touched since the previous call.
func (r *Refresher) RefreshDirty(ctx context.Context) error {
	clans, guilds := r.dirty.Drain()
	if len(clans) == 0 && len(guilds) == 0 {
		return nil
	}
	owners, err := r.store.GuildsForClans(ctx, clans)
	if err != nil {
		r.dirty.Restore(clans, guilds)
		return fmt.Errorf("resolve dirty clans: %w", err)
	}
	r.refreshGuilds(ctx, union(owners, guilds))
	return nil
}

// RefreshAll refreshes every guild with an active leaderboard.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	ids, err := r.store.EnabledLeaderboardGuilds(ctx)
	if err != nil {
		return fmt.Errorf("list leaderboard guilds: %w", err)
	}
	r.refreshGuilds(ctx, ids)
	return nil
}

// refreshGuilds isolates failures per guild; failed guilds are retried on the
// next dirty tick unless the bot lacks permissions there.
func (r *Refresher) refreshGuilds(ctx context.Context, ids []int64) {
	for i, id := range ids {
		if ctx.Err() != nil {
			r.dirty.Restore(nil, ids[i:])
			return
		}
		if err := r.Refresh(ctx, id); err != nil {
			if chat.IsForbidden(err) {
				r.logger.Warn("missing permissions for leaderboard", zap.Int64("guild_id", id), zap.Error(err))
				continue
			}
			r.logger.Error("leaderboard refresh failed", err, zap.Int64("guild_id", id))
			r.dirty.MarkGuild(id)
		}
	}
}

// ClanName looks up a clan's display name for log lines, falling back to the tag.
func (r *Refresher) ClanName(ctx context.Context, guildID int64, tag string) string {
	name, err := r.store.ClanName(ctx, guildID, tag)
	if err != nil || name == "" {
		return tag
	}
	return name
}

func union(a, b []int64) []int64 {
	set := make(map[int64]struct{}, len(a)+len(b))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		set[id] = struct{}{}
	}
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
