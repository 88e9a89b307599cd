package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ErrMalformed marks a notification that can never be processed.
var ErrMalformed = errors.New("feed: malformed notification")

// Player is the player snapshot carried by a notification.
type Player struct {
	Tag        string `json:"tag"`
	Name       string `json:"name"`
	ClanTag    string `json:"clan_tag,omitempty"`
	ClanName   string `json:"clan_name,omitempty"`
	AttackWins int    `json:"attack_wins,omitempty"`
}

// TrophyChange notifies that a player's trophy count moved.
type TrophyChange struct {
	ID          uuid.UUID `json:"id"`
	OldTrophies int       `json:"old_trophies"`
	NewTrophies int       `json:"new_trophies"`
	Player      Player    `json:"player"`
	ObservedAt  time.Time `json:"observed_at"`
}

// Delta is the signed trophy change.
func (c TrophyChange) Delta() int {
	return c.NewTrophies - c.OldTrophies
}

// NewTrophyChange stamps a change with a fresh id.
func NewTrophyChange(p Player, oldTrophies, newTrophies int, at time.Time) TrophyChange {
	return TrophyChange{
		ID:          uuid.New(),
		OldTrophies: oldTrophies,
		NewTrophies: newTrophies,
		Player:      p,
		ObservedAt:  at.UTC(),
	}
}

// NormalizeTag upper-cases a tag and makes sure it carries the leading '#'.
// The letter O never appears in tags and is read as zero.
func NormalizeTag(tag string) string {
	tag = strings.ToUpper(strings.TrimSpace(tag))
	tag = strings.TrimLeft(tag, "#")
	if tag == "" {
		return ""
	}
	return "#" + strings.ReplaceAll(tag, "O", "0")
}

// Encode serializes a change for the wire.
func Encode(c TrophyChange) ([]byte, error) {
	return json.Marshal(c)
}

// Decode parses and validates a notification.
func Decode(data []byte) (TrophyChange, error) {
	var c TrophyChange
	if err := json.Unmarshal(data, &c); err != nil {
		return TrophyChange{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if c.ID == uuid.Nil {
		return TrophyChange{}, fmt.Errorf("%w: missing id", ErrMalformed)
	}
	if c.Player.Tag == "" {
		return TrophyChange{}, fmt.Errorf("%w: missing player tag", ErrMalformed)
	}
	if c.ObservedAt.IsZero() {
		c.ObservedAt = time.Now().UTC()
	}
	return c, nil
}

// AckFunc acknowledges a delivery once its effect is durable.
type AckFunc func(ctx context.Context) error

// Delivery is a decoded notification plus its acknowledgement.
type Delivery struct {
	Change TrophyChange
	Ack    AckFunc
}

// Handler processes one delivery. It runs on the feed's delivery goroutine
// and must return quickly.
type Handler func(ctx context.Context, d Delivery) error
