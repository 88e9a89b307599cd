package leaderboard

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/clashwithnaro/pushbot/pkg/coc"
	"github.com/clashwithnaro/pushbot/pkg/logger"
	"github.com/clashwithnaro/pushbot/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newAdmin() (*Admin, *fakeStore, *fakeConfigs, *MockRoster, *MockPerms, *Dirty) {
	s := newFakeStore()
	configs := newFakeConfigs()
	clans := new(MockRoster)
	perms := new(MockPerms)
	dirty := NewDirty()
	return NewAdmin(s, configs, clans, perms, dirty, logger.Nop()), s, configs, clans, perms, dirty
}

func TestAdminSetChannel(t *testing.T) {
	a, s, configs, _, perms, dirty := newAdmin()
	perms.On("CanSend", mock.Anything, int64(42)).Return(true, nil)

	require.NoError(t, a.SetChannel(context.Background(), testGuild, 42))

	require.Len(t, s.savedCfg, 1)
	assert.Equal(t, int64(42), s.savedCfg[0].LeaderboardChannelID)
	assert.True(t, s.savedCfg[0].LeaderboardEnabled)
	assert.Equal(t, []int64{testGuild}, configs.invalidated)
	_, guilds := dirty.Drain()
	assert.Equal(t, []int64{testGuild}, guilds)
}

func TestAdminSetChannelWithoutPermission(t *testing.T) {
	a, s, _, _, perms, _ := newAdmin()
	perms.On("CanSend", mock.Anything, int64(42)).Return(false, nil)

	err := a.SetChannel(context.Background(), testGuild, 42)

	assert.ErrorIs(t, err, ErrCannotPost)
	assert.Empty(t, s.savedCfg)
}

func TestAdminSetIcon(t *testing.T) {
	a, s, _, _, _, _ := newAdmin()
	ctx := context.Background()

	assert.ErrorIs(t, a.SetIcon(ctx, testGuild, "http://example.com/a.png"), ErrInvalidIcon)
	assert.ErrorIs(t, a.SetIcon(ctx, testGuild, "not a url"), ErrInvalidIcon)
	assert.Empty(t, s.savedCfg)

	require.NoError(t, a.SetIcon(ctx, testGuild, "https://example.com/a.png"))
	require.NoError(t, a.SetIcon(ctx, testGuild, ""))
	assert.Len(t, s.savedCfg, 2)
	assert.Equal(t, "", s.savedCfg[1].IconURL)
}

func TestAdminSetTitle(t *testing.T) {
	a, s, _, _, _, _ := newAdmin()
	ctx := context.Background()

	assert.ErrorIs(t, a.SetTitle(ctx, testGuild, strings.Repeat("x", 257)), ErrTitleTooLong)
	require.NoError(t, a.SetTitle(ctx, testGuild, "Legends"))
	assert.Equal(t, "Legends", s.savedCfg[0].LeaderboardTitle)
}

func TestAdminSetRenderModeAndToggle(t *testing.T) {
	a, s, _, _, _, _ := newAdmin()
	ctx := context.Background()

	require.NoError(t, a.SetRenderMode(ctx, testGuild, store.RenderCompact))
	require.NoError(t, a.SetEnabled(ctx, testGuild, true))

	assert.Equal(t, store.RenderCompact, s.savedCfg[0].RenderMode)
	assert.True(t, s.savedCfg[1].LeaderboardEnabled)
}

func TestAdminAddClan(t *testing.T) {
	a, s, _, clans, _, dirty := newAdmin()
	clans.On("GetClan", mock.Anything, "#2PP0").Return(&coc.Clan{Tag: "#2PP0", Name: "Pushers"}, nil)

	c, err := a.AddClan(context.Background(), testGuild, "2ppo")

	require.NoError(t, err)
	assert.Equal(t, "Pushers", c.Name)
	assert.Equal(t, []string{"#2PP0"}, s.clans[testGuild])
	_, guilds := dirty.Drain()
	assert.Equal(t, []int64{testGuild}, guilds)
	clans.AssertExpectations(t)
}

func TestAdminAddUnknownClan(t *testing.T) {
	a, s, _, clans, _, _ := newAdmin()
	clans.On("GetClan", mock.Anything, "#QQQ").Return(nil, coc.ErrNotFound)

	_, err := a.AddClan(context.Background(), testGuild, "#QQQ")
	assert.ErrorIs(t, err, ErrUnknownClan)
	assert.Empty(t, s.clans[testGuild])

	clans.On("GetClan", mock.Anything, "#XYZ").Return(nil, errors.New("503"))
	_, err = a.AddClan(context.Background(), testGuild, "#XYZ")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownClan)
}

func TestAdminRemoveClan(t *testing.T) {
	a, s, _, _, _, _ := newAdmin()
	s.clans[testGuild] = []string{"#AAA"}

	require.NoError(t, a.RemoveClan(context.Background(), testGuild, "aaa"))
	assert.Empty(t, s.clans[testGuild])
	assert.ErrorIs(t, a.RemoveClan(context.Background(), testGuild, "#AAA"), ErrUnknownClan)
}

func TestAdminOnChannelDeleted(t *testing.T) {
	a, s, configs, _, _, _ := newAdmin()
	configs.cfgs[testGuild] = activeConfig()
	s.lbChannels[testChannel] = testGuild
	s.messages = []store.LeaderboardMessage{{GuildID: testGuild, ChannelID: testChannel, MessageID: 5}}

	require.NoError(t, a.OnChannelDeleted(context.Background(), testChannel))

	assert.Empty(t, s.messages)
	require.Len(t, s.savedCfg, 1)
	assert.False(t, s.savedCfg[0].LeaderboardEnabled)
	assert.Zero(t, s.savedCfg[0].LeaderboardChannelID)

	// channels without a leaderboard are ignored
	require.NoError(t, a.OnChannelDeleted(context.Background(), 999))
	assert.Len(t, s.savedCfg, 1)
}
