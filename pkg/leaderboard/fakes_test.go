package leaderboard

import (
	"context"
	"sort"
	"sync"

	"github.com/clashwithnaro/pushbot/pkg/chat"
	"github.com/clashwithnaro/pushbot/pkg/coc"
	"github.com/clashwithnaro/pushbot/pkg/store"

	"github.com/stretchr/testify/mock"
)

// fakeStore keeps players, clans and the page registry in memory.
type fakeStore struct {
	mu         sync.Mutex
	clans      map[int64][]string
	clanNames  map[string]string
	players    map[string]store.PlayerStanding
	messages   []store.LeaderboardMessage
	nextID     int64
	guildsErr  error
	enabled    []int64
	savedCfg   []store.GuildConfig
	lbChannels map[int64]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clans:      make(map[int64][]string),
		clanNames:  make(map[string]string),
		players:    make(map[string]store.PlayerStanding),
		lbChannels: make(map[int64]int64),
	}
}

func (s *fakeStore) ClanTagsForGuild(ctx context.Context, guildID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.clans[guildID]...), nil
}

func (s *fakeStore) UpsertRoster(ctx context.Context, members []store.RosterMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range members {
		if _, ok := s.players[m.Tag]; !ok {
			s.players[m.Tag] = store.PlayerStanding{Tag: m.Tag, Trophies: m.Trophies}
		}
	}
	return nil
}

func (s *fakeStore) TopPlayers(ctx context.Context, tags []string, limit int) ([]store.PlayerStanding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.PlayerStanding
	for _, tag := range tags {
		if p, ok := s.players[tag]; ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Trophies != out[j].Trophies {
			return out[i].Trophies > out[j].Trophies
		}
		return out[i].Tag < out[j].Tag
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) LeaderboardMessages(ctx context.Context, guildID int64) ([]store.LeaderboardMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.LeaderboardMessage
	for _, m := range s.messages {
		if m.GuildID == guildID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) InsertLeaderboardMessage(ctx context.Context, m *store.LeaderboardMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m.ID = s.nextID
	s.messages = append(s.messages, *m)
	return nil
}

func (s *fakeStore) DeleteLeaderboardMessage(ctx context.Context, messageID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.messages {
		if m.MessageID == messageID {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return m.GuildID, nil
		}
	}
	return 0, store.ErrNotFound
}

func (s *fakeStore) DeleteLeaderboardMessagesByChannel(ctx context.Context, channelID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.messages[:0]
	var n int64
	for _, m := range s.messages {
		if m.ChannelID == channelID {
			n++
			continue
		}
		kept = append(kept, m)
	}
	s.messages = kept
	return n, nil
}

func (s *fakeStore) GuildsForClans(ctx context.Context, tags []string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.guildsErr != nil {
		return nil, s.guildsErr
	}
	var out []int64
	for guild, clans := range s.clans {
		for _, c := range clans {
			for _, t := range tags {
				if c == t {
					out = append(out, guild)
				}
			}
		}
	}
	return out, nil
}

func (s *fakeStore) EnabledLeaderboardGuilds(ctx context.Context) ([]int64, error) {
	return s.enabled, nil
}

func (s *fakeStore) ClanName(ctx context.Context, guildID int64, tag string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.clanNames[tag]
	if !ok {
		return "", store.ErrNotFound
	}
	return name, nil
}

func (s *fakeStore) SaveGuildConfig(ctx context.Context, cfg store.GuildConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savedCfg = append(s.savedCfg, cfg)
	return nil
}

func (s *fakeStore) AddClan(ctx context.Context, c store.Clan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clans[c.GuildID] = append(s.clans[c.GuildID], c.Tag)
	s.clanNames[c.Tag] = c.Name
	return nil
}

func (s *fakeStore) RemoveClan(ctx context.Context, guildID int64, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.clans[guildID] {
		if c == tag {
			s.clans[guildID] = append(s.clans[guildID][:i], s.clans[guildID][i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *fakeStore) GuildByLeaderboardChannel(ctx context.Context, channelID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	guild, ok := s.lbChannels[channelID]
	if !ok {
		return 0, store.ErrNotFound
	}
	return guild, nil
}

func (s *fakeStore) messageIDs(guildID int64) []int64 {
	msgs, _ := s.LeaderboardMessages(context.Background(), guildID)
	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.MessageID
	}
	return ids
}

// fakeChat records what the refresher does to the channel.
type fakeChat struct {
	mu       sync.Mutex
	nextID   int64
	live     map[int64]chat.Embed
	sent     int
	deleted  []int64
	edits    int
	editErrs map[int64]error
	sendErr  error
}

func newFakeChat() *fakeChat {
	return &fakeChat{nextID: 1000, live: make(map[int64]chat.Embed), editErrs: make(map[int64]error)}
}

func (c *fakeChat) SendMessage(ctx context.Context, channelID int64, content string) (chat.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return chat.Message{}, c.sendErr
	}
	c.nextID++
	c.sent++
	c.live[c.nextID] = chat.Embed{Description: content}
	return chat.Message{ID: c.nextID, ChannelID: channelID}, nil
}

func (c *fakeChat) EditEmbed(ctx context.Context, channelID, messageID int64, e chat.Embed) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editErrs[messageID]; err != nil {
		return err
	}
	c.edits++
	c.live[messageID] = e
	return nil
}

func (c *fakeChat) DeleteMessage(ctx context.Context, channelID, messageID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, messageID)
	delete(c.live, messageID)
	return nil
}

func (c *fakeChat) embed(id int64) chat.Embed {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live[id]
}

// fakeConfigs is a map-backed guild config cache.
type fakeConfigs struct {
	mu          sync.Mutex
	cfgs        map[int64]store.GuildConfig
	invalidated []int64
}

func newFakeConfigs(cfgs ...store.GuildConfig) *fakeConfigs {
	f := &fakeConfigs{cfgs: make(map[int64]store.GuildConfig)}
	for _, c := range cfgs {
		f.cfgs[c.GuildID] = c
	}
	return f
}

func (f *fakeConfigs) Get(ctx context.Context, guildID int64) (store.GuildConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.cfgs[guildID]; ok {
		return c, nil
	}
	return store.DefaultGuildConfig(guildID), nil
}

func (f *fakeConfigs) Invalidate(guildID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, guildID)
}

// MockRoster is a mock implementation of Roster and ClanLookup
type MockRoster struct {
	mock.Mock
}

func (m *MockRoster) GetClans(ctx context.Context, tags []string) ([]*coc.Clan, error) {
	args := m.Called(ctx, tags)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*coc.Clan), args.Error(1)
}

func (m *MockRoster) GetClan(ctx context.Context, tag string) (*coc.Clan, error) {
	args := m.Called(ctx, tag)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*coc.Clan), args.Error(1)
}

// MockPerms is a mock implementation of PermissionChecker
type MockPerms struct {
	mock.Mock
}

func (m *MockPerms) CanSend(ctx context.Context, channelID int64) (bool, error) {
	args := m.Called(ctx, channelID)
	return args.Bool(0), args.Error(1)
}
