package leaderboard

import (
	"sort"

	"levelbot/core"
)

const (
	MinLimit = 1
	MaxLimit = 1000
	// RankWindow is how deep RankOf-based lookups search.
	RankWindow = 100
)

// Entry is one row of a ranked snapshot.
type Entry struct {
	Rank  int         `json:"rank"`
	ID    core.UserID `json:"id"`
	Name  string      `json:"name"`
	XP    int64       `json:"xp"`
	Level int64       `json:"level"`
}

// ClampLimit bounds a requested size to [MinLimit, MaxLimit].
func ClampLimit(limit int) int {
	return max(MinLimit, min(MaxLimit, limit))
}

// Top ranks profiles by XP, highest first. Profiles are normalized on a copy,
// so entries with missing or invalid fields rank by their defaults. Ties keep
// the input order.
func Top(profiles []core.Profile, limit int) []Entry {
	limit = ClampLimit(limit)
	entries := make([]Entry, 0, len(profiles))
	for _, p := range profiles {
		cp := p.Clone()
		cp.Normalize()
		entries = append(entries, Entry{ID: cp.ID, Name: cp.Name, XP: cp.XP, Level: cp.Level})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].XP > entries[j].XP })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// RankOf returns the 1-based position of user in entries.
func RankOf(entries []Entry, user core.UserID) (int, bool) {
	for i, e := range entries {
		if e.ID == user {
			return i + 1, true
		}
	}
	return 0, false
}
