package eventlog

import (
	"fmt"
	"time"

	"github.com/clashwithnaro/pushbot/pkg/store"
)

const (
	arrowUp   = "📈"
	arrowDown = "📉"
)

// FormatLine renders one trophy event as a log line.
func FormatLine(ev store.TrophyEvent, clanName string, now time.Time) string {
	arrow := arrowUp
	if ev.Delta < 0 {
		arrow = arrowDown
	}
	name := ev.PlayerName
	if name == "" {
		name = ev.PlayerTag
	}
	if clanName == "" {
		clanName = ev.ClanTag
	}
	return fmt.Sprintf("%s `%+4d` **%s** (%s) | %s | %s",
		arrow, ev.Delta, name, ev.PlayerTag, clanName, readableAge(now.Sub(ev.ObservedAt)))
}

// readableAge prints the two most significant units of d.
func readableAge(d time.Duration) string {
	if d < time.Second {
		return "just now"
	}
	d = d.Truncate(time.Second)
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	minutes := int(d % time.Hour / time.Minute)
	seconds := int(d % time.Minute / time.Second)

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh ago", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm ago", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds ago", minutes, seconds)
	default:
		return fmt.Sprintf("%ds ago", seconds)
	}
}
