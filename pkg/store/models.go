package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RenderMode selects the leaderboard table layout.
type RenderMode int16

const (
	// RenderDetailed shows rank, trophies, attacks and name.
	RenderDetailed RenderMode = 1
	// RenderCompact shows rank, trophies and name.
	RenderCompact RenderMode = 2
)

func (m RenderMode) String() string {
	switch m {
	case RenderCompact:
		return "compact"
	default:
		return "detailed"
	}
}

// ParseRenderMode accepts the names used by the admin commands.
func ParseRenderMode(s string) (RenderMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "detailed", "1":
		return RenderDetailed, nil
	case "compact", "2":
		return RenderCompact, nil
	}
	return 0, fmt.Errorf("unknown render mode %q", s)
}

// GuildConfig is the per-tenant leaderboard and log configuration.
type GuildConfig struct {
	GuildID              int64
	LeaderboardChannelID int64
	LeaderboardEnabled   bool
	LeaderboardTitle     string
	IconURL              string
	RenderMode           RenderMode
	LogChannelID         int64
	LogInterval          time.Duration
	LogEnabled           bool
}

// DefaultGuildConfig is what a guild without a stored row gets.
func DefaultGuildConfig(guildID int64) GuildConfig {
	return GuildConfig{GuildID: guildID, RenderMode: RenderDetailed}
}

// LeaderboardActive reports whether refreshes should render anything.
func (c GuildConfig) LeaderboardActive() bool {
	return c.LeaderboardEnabled && c.LeaderboardChannelID != 0
}

// ChannelConfig is the log configuration of one destination channel. Clans
// are attached to it through their event id.
type ChannelConfig struct {
	EventID     int64
	GuildID     int64
	ChannelID   int64
	EventName   string
	LogInterval time.Duration
	LogEnabled  bool
}

// Clan is a tracked clan registered by a guild.
type Clan struct {
	GuildID int64
	Tag     string
	Name    string
	EventID int64
}

// TrophyChange is one normalized change notification waiting to be persisted.
type TrophyChange struct {
	NotificationID uuid.UUID
	PlayerTag      string
	PlayerName     string
	ClanTag        string
	ClanName       string
	Delta          int
	AttackWins     int
	ObservedAt     time.Time
}

// TrophyEvent is a persisted trophy change. EventGroupID is the log event the
// clan was attached to when the row was read.
type TrophyEvent struct {
	ID             int64
	NotificationID uuid.UUID
	PlayerTag      string
	PlayerName     string
	ClanTag        string
	ClanName       string
	Delta          int
	ObservedAt     time.Time
	Reported       bool
	EventGroupID   int64
}

// RosterMember is a clan member as seen in a live roster.
type RosterMember struct {
	Tag      string
	Name     string
	Trophies int
}

// PlayerStanding is one leaderboard row before rendering.
type PlayerStanding struct {
	Tag      string
	Trophies int
	Attacks  int
}

// LeaderboardMessage registers one page message of a guild's leaderboard.
type LeaderboardMessage struct {
	ID        int64
	GuildID   int64
	ChannelID int64
	MessageID int64
}

// PendingTimer is a durable delayed log delivery.
type PendingTimer struct {
	ID        int64
	ChannelID int64
	Payload   string
	ExpiresAt time.Time
}
