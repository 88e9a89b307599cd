package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/clashwithnaro/pushbot/pkg/logger"
	"github.com/clashwithnaro/pushbot/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockAdminStore is a mock implementation of AdminStore
type MockAdminStore struct {
	mock.Mock
}

func (m *MockAdminStore) SaveChannelConfig(ctx context.Context, cfg store.ChannelConfig) (int64, error) {
	args := m.Called(ctx, cfg)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAdminStore) AttachClansToEvent(ctx context.Context, guildID, eventID int64) (int64, error) {
	args := m.Called(ctx, guildID, eventID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAdminStore) SaveGuildConfig(ctx context.Context, cfg store.GuildConfig) error {
	args := m.Called(ctx, cfg)
	return args.Error(0)
}

// MockPerms is a mock implementation of PermissionChecker
type MockPerms struct {
	mock.Mock
}

func (m *MockPerms) CanSend(ctx context.Context, channelID int64) (bool, error) {
	args := m.Called(ctx, channelID)
	return args.Bool(0), args.Error(1)
}

// guildCache serves a fixed config and counts invalidations.
type guildCache struct {
	cfg         store.GuildConfig
	invalidated int
}

func (g *guildCache) Get(ctx context.Context, guildID int64) (store.GuildConfig, error) {
	return g.cfg, nil
}

func (g *guildCache) Invalidate(guildID int64) { g.invalidated++ }

type channelCache struct {
	channelConfigs
	invalidated []int64
}

func (c *channelCache) Invalidate(channelID int64) { c.invalidated = append(c.invalidated, channelID) }

func TestAdminSetChannel(t *testing.T) {
	s := new(MockAdminStore)
	perms := new(MockPerms)
	guilds := &guildCache{cfg: store.GuildConfig{GuildID: 1, LogChannelID: 50}}
	channels := &channelCache{channelConfigs: channelConfigs{}}

	perms.On("CanSend", mock.Anything, int64(100)).Return(true, nil)
	want := store.ChannelConfig{GuildID: 1, ChannelID: 100, EventName: "Spring Push", LogInterval: 10 * time.Minute, LogEnabled: true}
	s.On("SaveChannelConfig", mock.Anything, want).Return(int64(7), nil)
	s.On("AttachClansToEvent", mock.Anything, int64(1), int64(7)).Return(int64(3), nil)
	s.On("SaveGuildConfig", mock.Anything, mock.MatchedBy(func(c store.GuildConfig) bool {
		return c.LogChannelID == 100 && c.LogEnabled && c.LogInterval == 10*time.Minute
	})).Return(nil)

	a := NewAdmin(s, guilds, channels, perms, logger.Nop())
	cfg, err := a.SetChannel(context.Background(), 1, 100, "Spring Push", 10*time.Minute)

	require.NoError(t, err)
	assert.Equal(t, int64(7), cfg.EventID)
	assert.Equal(t, 1, guilds.invalidated)
	assert.ElementsMatch(t, []int64{100, 50}, channels.invalidated)
	s.AssertExpectations(t)
}

func TestAdminSetChannelRejects(t *testing.T) {
	s := new(MockAdminStore)
	perms := new(MockPerms)
	perms.On("CanSend", mock.Anything, int64(100)).Return(false, nil)
	a := NewAdmin(s, &guildCache{}, &channelCache{channelConfigs: channelConfigs{}}, perms, logger.Nop())

	_, err := a.SetChannel(context.Background(), 1, 100, "", time.Minute)
	assert.ErrorIs(t, err, ErrCannotPost)

	_, err = a.SetChannel(context.Background(), 1, 100, "", -time.Minute)
	assert.ErrorIs(t, err, ErrInvalidInterval)

	s.AssertNotCalled(t, "SaveChannelConfig", mock.Anything, mock.Anything)
}

func TestAdminSetEnabled(t *testing.T) {
	s := new(MockAdminStore)
	guilds := &guildCache{cfg: store.GuildConfig{GuildID: 1, LogChannelID: 100, LogEnabled: true}}
	channels := &channelCache{channelConfigs: channelConfigs{
		100: {EventID: 7, GuildID: 1, ChannelID: 100, LogEnabled: true},
	}}
	s.On("SaveChannelConfig", mock.Anything, store.ChannelConfig{EventID: 7, GuildID: 1, ChannelID: 100}).Return(int64(7), nil)
	s.On("SaveGuildConfig", mock.Anything, mock.MatchedBy(func(c store.GuildConfig) bool { return !c.LogEnabled })).Return(nil)

	a := NewAdmin(s, guilds, channels, new(MockPerms), logger.Nop())
	require.NoError(t, a.SetEnabled(context.Background(), 1, false))

	assert.Equal(t, []int64{100}, channels.invalidated)
	s.AssertExpectations(t)
}

func TestAdminSetEnabledWithoutChannel(t *testing.T) {
	a := NewAdmin(new(MockAdminStore), &guildCache{cfg: store.GuildConfig{GuildID: 1}},
		&channelCache{channelConfigs: channelConfigs{}}, new(MockPerms), logger.Nop())

	assert.ErrorIs(t, a.SetEnabled(context.Background(), 1, true), ErrNoLogChannel)
}
