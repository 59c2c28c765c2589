package core

import (
	"fmt"
	"math"
)

// XPRange is a closed interval [Min, Max] of XP rolled for an activity.
type XPRange struct {
	Min int64
	Max int64
}

var activityRanges = map[Activity]XPRange{
	ActivityMessage:  {5, 15},
	ActivityCommand:  {3, 8},
	ActivityMedia:    {8, 18},
	ActivityVoice:    {10, 20},
	ActivityDaily:    {50, 100},
	ActivityReaction: {1, 3},
	ActivitySticker:  {2, 6},
	ActivityGame:     {15, 40},
	ActivityQuiz:     {20, 50},
}

// RangeFor returns the XP range of an activity, falling back to the message
// range for unknown activities.
func RangeFor(a Activity) XPRange {
	if r, ok := activityRanges[a]; ok {
		return r
	}
	return activityRanges[ActivityMessage]
}

// Roller is a source of uniformly distributed integers in [0, n).
type Roller interface {
	IntN(n int) int
}

// Roll draws uniformly from the closed range using rng.
func (r XPRange) Roll(rng Roller) int64 {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + int64(rng.IntN(int(r.Max-r.Min+1)))
}

// StreakTier is a daily-streak threshold with its XP multiplier and the flat
// coin bonus paid the first time it is reached.
type StreakTier struct {
	Days       int64
	Multiplier float64
	BonusCoins int64
}

// Achievement returns the achievement unlocked by reaching the tier.
func (t StreakTier) Achievement() Achievement {
	return Achievement(fmt.Sprintf("streak_%d", t.Days))
}

// StreakTiers is ordered by ascending Days.
var StreakTiers = []StreakTier{
	{Days: 3, Multiplier: 1.2, BonusCoins: 50},
	{Days: 7, Multiplier: 1.5, BonusCoins: 150},
	{Days: 14, Multiplier: 1.75, BonusCoins: 300},
	{Days: 30, Multiplier: 2.0, BonusCoins: 1000},
}

// StreakTierFor returns the highest tier met by streak.
func StreakTierFor(streak int64) (StreakTier, bool) {
	for i := len(StreakTiers) - 1; i >= 0; i-- {
		if streak >= StreakTiers[i].Days {
			return StreakTiers[i], true
		}
	}
	return StreakTier{}, false
}

// Milestone is a level that grants a one-off coin bonus and achievement.
type Milestone struct {
	Level      int64
	BonusCoins int64
}

// Achievement returns the achievement unlocked at this milestone.
func (m Milestone) Achievement() Achievement {
	return Achievement(fmt.Sprintf("level_%d", m.Level))
}

// Milestones is ordered by ascending Level.
var Milestones = []Milestone{
	{Level: 5, BonusCoins: 500},
	{Level: 10, BonusCoins: 1000},
	{Level: 25, BonusCoins: 2500},
	{Level: 50, BonusCoins: 5000},
	{Level: 100, BonusCoins: 10000},
}

// MilestonesBetween returns milestones in the half-open level range (from, to].
func MilestonesBetween(from, to int64) []Milestone {
	var out []Milestone
	for _, m := range Milestones {
		if m.Level > from && m.Level <= to {
			out = append(out, m)
		}
	}
	return out
}

type rankTitle struct {
	minLevel int64
	title    string
}

var rankTitles = []rankTitle{
	{100, "Legend"},
	{50, "Grandmaster"},
	{25, "Master"},
	{15, "Expert"},
	{10, "Adept"},
	{5, "Apprentice"},
	{1, "Novice"},
}

// RankTitleFor maps a level to its display title.
func RankTitleFor(level int64) string {
	for _, r := range rankTitles {
		if level >= r.minLevel {
			return r.title
		}
	}
	return rankTitles[len(rankTitles)-1].title
}

const (
	levelUpBaseCoins  = 100
	levelUpCoinGrowth = 1.2
	// levels above this earn LevelBonusPerLevel extra XP per level
	levelBonusFloor    = 10
	LevelBonusPerLevel = 0.01
)

// LevelUpCoins is the coin reward for reaching level.
func LevelUpCoins(level int64) int64 {
	if level < 1 {
		level = 1
	}
	v := levelUpBaseCoins * math.Pow(levelUpCoinGrowth, float64(level-1))
	if v > math.MaxInt64/2 {
		return math.MaxInt64 / 2
	}
	return int64(math.Round(v))
}

// LevelMultiplier is the XP multiplier granted to high-level users.
func LevelMultiplier(level int64) float64 {
	if level <= levelBonusFloor {
		return 1
	}
	return 1 + float64(level-levelBonusFloor)*LevelBonusPerLevel
}

// ApplyMultiplier scales xp by m, rounding to the nearest integer.
func ApplyMultiplier(xp int64, m float64) int64 {
	return int64(math.Round(float64(xp) * m))
}
