package leaderboard

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/clashwithnaro/pushbot/pkg/store"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func standings(n int) []store.PlayerStanding {
	out := make([]store.PlayerStanding, n)
	for i := range out {
		out[i] = store.PlayerStanding{Tag: fmt.Sprintf("#P%03d", i), Trophies: 6000 - i, Attacks: i}
	}
	return out
}

func TestPageCount(t *testing.T) {
	assert.Equal(t, 0, PageCount(0, 20))
	assert.Equal(t, 1, PageCount(1, 20))
	assert.Equal(t, 1, PageCount(20, 20))
	assert.Equal(t, 3, PageCount(45, 20))
	assert.Equal(t, 5, PageCount(100, 20))
	assert.Equal(t, 0, PageCount(10, 0))
}

func TestPagingProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("pages cover every standing exactly once with consecutive ranks", prop.ForAll(
		func(n, size int) bool {
			all := standings(n)
			pages := PageCount(n, size)
			rank := 0
			for p := 0; p < pages; p++ {
				rows := PageRows(all, nil, p, size)
				if len(rows) == 0 || len(rows) > size {
					return false
				}
				for _, r := range rows {
					rank++
					if r.Rank != rank || r.Trophies != all[rank-1].Trophies {
						return false
					}
				}
			}
			return rank == n && PageRows(all, nil, pages, size) == nil
		},
		gen.IntRange(0, 300),
		gen.IntRange(1, 40),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestPageRowsLastPage(t *testing.T) {
	rows := PageRows(standings(45), nil, 2, 20)

	assert.Len(t, rows, 5)
	assert.Equal(t, 41, rows[0].Rank)
	assert.Equal(t, 45, rows[4].Rank)
}

func TestPageRowsUnknownPlayer(t *testing.T) {
	all := []store.PlayerStanding{{Tag: "#A", Trophies: 5100}, {Tag: "#B", Trophies: 5000}}
	rows := PageRows(all, map[string]string{"#A": "Alice"}, 0, 20)

	assert.Equal(t, "Alice", rows[0].DisplayName())
	assert.Equal(t, UnknownPlayerName, rows[1].DisplayName())
}

func TestDisplayNameTruncates(t *testing.T) {
	r := Row{Name: "ÄbcdefghijklmnopqrstU", Known: true}
	assert.Equal(t, "Äbcdefghijklmnop", r.DisplayName())
}

func TestRenderTableDetailed(t *testing.T) {
	out := RenderTable(store.RenderDetailed, []Row{{Rank: 1, Trophies: 5000, Attacks: 12, Name: "Alice", Known: true}})

	lines := strings.Split(out, "\n")
	assert.Equal(t, "```", lines[0])
	assert.Equal(t, "  #  Cups  Atk Name", lines[1])
	assert.Equal(t, "  1  5000   12 Alice", lines[2])
	assert.Equal(t, "```", lines[3])
}

func TestRenderTableCompact(t *testing.T) {
	out := RenderTable(store.RenderCompact, []Row{{Rank: 7, Trophies: 4999, Attacks: 3, Name: "Bob", Known: true}})

	assert.Contains(t, out, "  #  Cups Name\n")
	assert.Contains(t, out, "  7  4999 Bob\n")
	assert.NotContains(t, out, "Atk")
}

func TestRenderPageDefaults(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e := RenderPage(store.DefaultGuildConfig(1), nil, now)

	assert.Equal(t, DefaultTitle, e.AuthorName)
	assert.Equal(t, DefaultIconURL, e.AuthorIcon)
	assert.Equal(t, Footer, e.Footer)
	assert.Equal(t, now, e.Timestamp)

	cfg := store.DefaultGuildConfig(1)
	cfg.LeaderboardTitle = "Legends"
	cfg.IconURL = "https://example.com/icon.png"
	e = RenderPage(cfg, nil, now)
	assert.Equal(t, "Legends", e.AuthorName)
	assert.Equal(t, "https://example.com/icon.png", e.AuthorIcon)
}

func TestDirtyDrainAndRestore(t *testing.T) {
	d := NewDirty()
	d.MarkClan("#B")
	d.MarkClan("#A")
	d.MarkClan("")
	d.MarkGuild(3)
	d.MarkGuild(1)
	d.MarkGuild(3)

	clans, guilds := d.Drain()
	assert.Equal(t, []string{"#A", "#B"}, clans)
	assert.Equal(t, []int64{1, 3}, guilds)

	clans, guilds = d.Drain()
	assert.Empty(t, clans)
	assert.Empty(t, guilds)

	d.Restore([]string{"#A"}, []int64{2})
	clans, guilds = d.Drain()
	assert.Equal(t, []string{"#A"}, clans)
	assert.Equal(t, []int64{2}, guilds)
}
