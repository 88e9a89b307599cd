package eventlog

import (
	"testing"
	"time"

	"github.com/clashwithnaro/pushbot/pkg/store"

	"github.com/stretchr/testify/assert"
)

func TestFormatLine(t *testing.T) {
	ev := store.TrophyEvent{
		PlayerTag:  "#P2Y",
		PlayerName: "Alice",
		ClanTag:    "#CLAN",
		Delta:      32,
		ObservedAt: testNow.Add(-3 * time.Minute),
	}

	assert.Equal(t, "📈 ` +32` **Alice** (#P2Y) | Push Clan | 3m 0s ago", FormatLine(ev, "Push Clan", testNow))

	ev.Delta = -15
	ev.PlayerName = ""
	assert.Equal(t, "📉 ` -15` **#P2Y** (#P2Y) | #CLAN | 3m 0s ago", FormatLine(ev, "", testNow))
}

func TestReadableAge(t *testing.T) {
	cases := map[time.Duration]string{
		0:                             "just now",
		45 * time.Second:              "45s ago",
		90 * time.Second:              "1m 30s ago",
		2*time.Hour + 5*time.Minute:   "2h 5m ago",
		26*time.Hour + 30*time.Minute: "1d 2h ago",
		-5 * time.Second:              "just now",
	}
	for d, want := range cases {
		assert.Equal(t, want, readableAge(d), d.String())
	}
}
