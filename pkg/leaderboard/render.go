package leaderboard

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/clashwithnaro/pushbot/pkg/chat"
	"github.com/clashwithnaro/pushbot/pkg/store"
)

const (
	// UnknownPlayerName is shown for standings whose player is missing from
	// the live rosters.
	UnknownPlayerName = "Unknown"

	DefaultTitle   = "Trophy Push Leaderboard"
	DefaultIconURL = "https://api-assets.clashofclans.com/leagues/72/R2zmhyqQ0_lKcDR5EyghXCxgyC9mm_mVMIjAbmGoZtw.png"
	Footer         = "Last Updated"

	// PlaceholderContent fills a freshly created page until its first edit.
	PlaceholderContent = "New Leaderboard incoming..."

	embedColor   = 0xE7A33E
	maxNameRunes = 16
)

// Row is one rendered leaderboard line.
type Row struct {
	Rank     int
	Trophies int
	Attacks  int
	Name     string
	// Known is false when the player was not found in the live rosters.
	Known bool
}

// DisplayName returns the name to print, falling back to UnknownPlayerName.
func (r Row) DisplayName() string {
	if !r.Known || r.Name == "" {
		return UnknownPlayerName
	}
	if utf8.RuneCountInString(r.Name) > maxNameRunes {
		return string([]rune(r.Name)[:maxNameRunes])
	}
	return r.Name
}

// PageCount is the number of pages needed for n standings.
func PageCount(n, pageSize int) int {
	if n <= 0 || pageSize <= 0 {
		return 0
	}
	return (n + pageSize - 1) / pageSize
}

// PageRows slices out page i of the standings and attaches names. Ranks are
// 1-based over the whole leaderboard.
func PageRows(standings []store.PlayerStanding, names map[string]string, page, pageSize int) []Row {
	start := page * pageSize
	if start >= len(standings) || start < 0 {
		return nil
	}
	end := start + pageSize
	if end > len(standings) {
		end = len(standings)
	}

	rows := make([]Row, 0, end-start)
	for i, s := range standings[start:end] {
		name, ok := names[s.Tag]
		rows = append(rows, Row{
			Rank:     start + i + 1,
			Trophies: s.Trophies,
			Attacks:  s.Attacks,
			Name:     name,
			Known:    ok,
		})
	}
	return rows
}

// RenderTable draws the rows as a monospace table in a code block.
func RenderTable(mode store.RenderMode, rows []Row) string {
	var b strings.Builder
	b.WriteString("```\n")
	switch mode {
	case store.RenderCompact:
		fmt.Fprintf(&b, "%3s %5s %s\n", "#", "Cups", "Name")
		for _, r := range rows {
			fmt.Fprintf(&b, "%3d %5d %s\n", r.Rank, r.Trophies, r.DisplayName())
		}
	default:
		fmt.Fprintf(&b, "%3s %5s %4s %s\n", "#", "Cups", "Atk", "Name")
		for _, r := range rows {
			fmt.Fprintf(&b, "%3d %5d %4d %s\n", r.Rank, r.Trophies, r.Attacks, r.DisplayName())
		}
	}
	b.WriteString("```")
	return b.String()
}

// RenderPage builds the embed of one page.
func RenderPage(cfg store.GuildConfig, rows []Row, now time.Time) chat.Embed {
	title := cfg.LeaderboardTitle
	if title == "" {
		title = DefaultTitle
	}
	icon := cfg.IconURL
	if icon == "" {
		icon = DefaultIconURL
	}
	return chat.Embed{
		AuthorName:  title,
		AuthorIcon:  icon,
		Description: RenderTable(cfg.RenderMode, rows),
		Footer:      Footer,
		Color:       embedColor,
		Timestamp:   now,
	}
}
