package core

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultName is shown for profiles without a display name.
const DefaultName = "Unknown"

// ActivityStat counts awarded activities of one kind and the XP they earned.
type ActivityStat struct {
	Count int64 `json:"count"`
	XP    int64 `json:"xp"`
}

// Profile is a user's leveling record. Stores return it as decoded; callers
// run Normalize before trusting any field.
type Profile struct {
	ID            UserID
	Name          string
	XP            int64
	Level         int64
	Coins         int64
	DailyStreak   int64
	LastDaily     time.Time
	Achievements  map[Achievement]struct{}
	ActivityStats map[Activity]ActivityStat
	RankTitle     string
	Updated       time.Time

	// fields that failed to decode and were replaced by defaults
	defects []string
}

// NewProfile returns a fresh level 1 profile.
func NewProfile(id UserID) Profile {
	return Profile{
		ID:            id,
		Name:          DefaultName,
		Level:         1,
		Achievements:  map[Achievement]struct{}{},
		ActivityStats: map[Activity]ActivityStat{},
		RankTitle:     RankTitleFor(1),
	}
}

// Clone returns a deep copy.
func (p Profile) Clone() Profile {
	cp := p
	cp.Achievements = make(map[Achievement]struct{}, len(p.Achievements))
	for k := range p.Achievements {
		cp.Achievements[k] = struct{}{}
	}
	cp.ActivityStats = make(map[Activity]ActivityStat, len(p.ActivityStats))
	for k, v := range p.ActivityStats {
		cp.ActivityStats[k] = v
	}
	cp.defects = append([]string(nil), p.defects...)
	return cp
}

// HasAchievement reports whether a is unlocked.
func (p Profile) HasAchievement(a Achievement) bool {
	_, ok := p.Achievements[a]
	return ok
}

// Normalize replaces missing or invalid fields with documented defaults and
// restores Level == LevelFor(XP). It returns the names of repaired fields.
func (p *Profile) Normalize() []string {
	defects := p.defects
	p.defects = nil
	if p.XP < 0 {
		p.XP = 0
		defects = append(defects, "xp")
	}
	if p.Coins < 0 {
		p.Coins = 0
		defects = append(defects, "coins")
	}
	if p.DailyStreak < 0 {
		p.DailyStreak = 0
		defects = append(defects, "daily_streak")
	}
	if strings.TrimSpace(p.Name) == "" {
		p.Name = DefaultName
	}
	if p.Achievements == nil {
		p.Achievements = map[Achievement]struct{}{}
	}
	if p.ActivityStats == nil {
		p.ActivityStats = map[Activity]ActivityStat{}
	}
	if lvl := LevelFor(p.XP); p.Level != lvl {
		if p.Level != 0 {
			defects = append(defects, "level")
		}
		p.Level = lvl
	}
	p.RankTitle = RankTitleFor(p.Level)
	return dedupe(defects)
}

func dedupe(in []string) []string {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// ProfilePatch is a merge update: nil fields are left unchanged. Non-nil maps
// replace the stored collection.
type ProfilePatch struct {
	Name          *string
	XP            *int64
	Level         *int64
	Coins         *int64
	DailyStreak   *int64
	LastDaily     *time.Time
	Achievements  map[Achievement]struct{}
	ActivityStats map[Activity]ActivityStat
	RankTitle     *string
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

// Patch returns a patch that overwrites every field with p's values.
func (p Profile) Patch() ProfilePatch {
	cp := p.Clone()
	return ProfilePatch{
		Name:          Ptr(cp.Name),
		XP:            Ptr(cp.XP),
		Level:         Ptr(cp.Level),
		Coins:         Ptr(cp.Coins),
		DailyStreak:   Ptr(cp.DailyStreak),
		LastDaily:     Ptr(cp.LastDaily),
		Achievements:  cp.Achievements,
		ActivityStats: cp.ActivityStats,
		RankTitle:     Ptr(cp.RankTitle),
	}
}

// Apply merges patch into p.
func (p *Profile) Apply(patch ProfilePatch) {
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.XP != nil {
		p.XP = *patch.XP
	}
	if patch.Level != nil {
		p.Level = *patch.Level
	}
	if patch.Coins != nil {
		p.Coins = *patch.Coins
	}
	if patch.DailyStreak != nil {
		p.DailyStreak = *patch.DailyStreak
	}
	if patch.LastDaily != nil {
		p.LastDaily = *patch.LastDaily
	}
	if patch.Achievements != nil {
		p.Achievements = make(map[Achievement]struct{}, len(patch.Achievements))
		for k := range patch.Achievements {
			p.Achievements[k] = struct{}{}
		}
	}
	if patch.ActivityStats != nil {
		p.ActivityStats = make(map[Activity]ActivityStat, len(patch.ActivityStats))
		for k, v := range patch.ActivityStats {
			p.ActivityStats[k] = v
		}
	}
	if patch.RankTitle != nil {
		p.RankTitle = *patch.RankTitle
	}
}

// AchievementList returns unlocked achievements sorted by name.
func (p Profile) AchievementList() []Achievement {
	out := make([]Achievement, 0, len(p.Achievements))
	for a := range p.Achievements {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type profileJSON struct {
	ID            UserID                    `json:"id"`
	Name          string                    `json:"name,omitempty"`
	XP            int64                     `json:"xp"`
	Level         int64                     `json:"level"`
	Coins         int64                     `json:"coins"`
	DailyStreak   int64                     `json:"daily_streak"`
	LastDaily     *time.Time                `json:"last_daily,omitempty"`
	Achievements  []Achievement             `json:"achievements"`
	ActivityStats map[Activity]ActivityStat `json:"activity_stats,omitempty"`
	RankTitle     string                    `json:"rank_title,omitempty"`
	Updated       time.Time                 `json:"updated"`
}

// MarshalJSON encodes achievements as a sorted list.
func (p Profile) MarshalJSON() ([]byte, error) {
	out := profileJSON{
		ID:            p.ID,
		Name:          p.Name,
		XP:            p.XP,
		Level:         p.Level,
		Coins:         p.Coins,
		DailyStreak:   p.DailyStreak,
		Achievements:  p.AchievementList(),
		ActivityStats: p.ActivityStats,
		RankTitle:     p.RankTitle,
		Updated:       p.Updated,
	}
	if !p.LastDaily.IsZero() {
		out.LastDaily = &p.LastDaily
	}
	return json.Marshal(out)
}

// UnmarshalJSON never fails on field-level garbage: numbers may arrive as
// strings, and undecodable fields fall back to zero values and are reported
// by Normalize. Only a non-object document is an error.
func (p *Profile) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = Profile{}
	var bad []string
	intField := func(key string) int64 {
		v, ok, present := lenientInt(raw[key])
		if present && !ok {
			bad = append(bad, key)
		}
		return v
	}
	p.ID = UserID(lenientString(raw["id"]))
	p.Name = lenientString(raw["name"])
	p.XP = intField("xp")
	p.Level = intField("level")
	p.Coins = intField("coins")
	p.DailyStreak = intField("daily_streak")
	p.RankTitle = lenientString(raw["rank_title"])
	if v, ok := raw["last_daily"]; ok && string(v) != "null" {
		if err := json.Unmarshal(v, &p.LastDaily); err != nil {
			bad = append(bad, "last_daily")
		}
	}
	if v, ok := raw["updated"]; ok {
		_ = json.Unmarshal(v, &p.Updated)
	}
	p.Achievements = map[Achievement]struct{}{}
	if v, ok := raw["achievements"]; ok && string(v) != "null" {
		var list []Achievement
		var set map[Achievement]json.RawMessage
		switch {
		case json.Unmarshal(v, &list) == nil:
			for _, a := range list {
				p.Achievements[a] = struct{}{}
			}
		case json.Unmarshal(v, &set) == nil:
			for a := range set {
				p.Achievements[a] = struct{}{}
			}
		default:
			bad = append(bad, "achievements")
		}
	}
	p.ActivityStats = map[Activity]ActivityStat{}
	if v, ok := raw["activity_stats"]; ok && string(v) != "null" {
		if err := json.Unmarshal(v, &p.ActivityStats); err != nil {
			p.ActivityStats = map[Activity]ActivityStat{}
			bad = append(bad, "activity_stats")
		}
	}
	p.defects = bad
	return nil
}

// lenientInt decodes a JSON number or numeric string. present is false for a
// missing or null value.
func lenientInt(v json.RawMessage) (n int64, ok bool, present bool) {
	if len(v) == 0 || string(v) == "null" {
		return 0, false, false
	}
	s := strings.Trim(strings.TrimSpace(string(v)), `"`)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, true, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false, true
	}
	return int64(f), true, true
}

func lenientString(v json.RawMessage) string {
	if len(v) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return s
}
