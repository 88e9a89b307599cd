package leaderboard

import (
	"sort"
	"sync"
)

// Dirty collects the clans and guilds whose leaderboards need a refresh.
type Dirty struct {
	mu     sync.Mutex
	clans  map[string]struct{}
	guilds map[int64]struct{}
}

// NewDirty creates an empty set
func NewDirty() *Dirty {
	return &Dirty{
		clans:  make(map[string]struct{}),
		guilds: make(map[int64]struct{}),
	}
}

// MarkClan records a trophy change in the clan.
func (d *Dirty) MarkClan(tag string) {
	if tag == "" {
		return
	}
	d.mu.Lock()
	d.clans[tag] = struct{}{}
	d.mu.Unlock()
}

// MarkGuild schedules a guild directly.
func (d *Dirty) MarkGuild(guildID int64) {
	d.mu.Lock()
	d.guilds[guildID] = struct{}{}
	d.mu.Unlock()
}

// Drain takes and clears the current contents, sorted.
func (d *Dirty) Drain() ([]string, []int64) {
	d.mu.Lock()
	clans := make([]string, 0, len(d.clans))
	for c := range d.clans {
		clans = append(clans, c)
	}
	guilds := make([]int64, 0, len(d.guilds))
	for g := range d.guilds {
		guilds = append(guilds, g)
	}
	d.clans = make(map[string]struct{})
	d.guilds = make(map[int64]struct{})
	d.mu.Unlock()

	sort.Strings(clans)
	sort.Slice(guilds, func(i, j int) bool { return guilds[i] < guilds[j] })
	return clans, guilds
}

// Restore puts drained entries back after a failed tick.
func (d *Dirty) Restore(clans []string, guilds []int64) {
	for _, c := range clans {
		d.MarkClan(c)
	}
	for _, g := range guilds {
		d.MarkGuild(g)
	}
}
