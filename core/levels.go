package core

import (
	"math"
	"sort"
)

// levelThresholds[i] is the minimum XP for level i+1.
var levelThresholds = [...]int64{0, 100, 250, 500, 1000, 2000, 3500, 5000, 7500, 10000}

// XPPerExtraLevel is the cost of each level past the last tabulated tier.
const XPPerExtraLevel int64 = 2500

// MaxTabulatedLevel is the highest level with an explicit threshold.
const MaxTabulatedLevel = int64(len(levelThresholds))

// LevelFor maps a total XP amount to its level. It is total over int64:
// anything below the first paid threshold is level 1.
func LevelFor(xp int64) int64 {
	top := levelThresholds[len(levelThresholds)-1]
	if xp >= top {
		return MaxTabulatedLevel + (xp-top)/XPPerExtraLevel
	}
	// first index whose threshold exceeds xp; that index is the level.
	i := sort.Search(len(levelThresholds), func(i int) bool { return levelThresholds[i] > xp })
	if i < 1 {
		return 1
	}
	return int64(i)
}

// RequiredXPFor returns the minimum total XP of the given level.
func RequiredXPFor(level int64) int64 {
	if level <= 1 {
		return 0
	}
	if level <= MaxTabulatedLevel {
		return levelThresholds[level-1]
	}
	if level > LevelFor(math.MaxInt64) {
		return math.MaxInt64
	}
	return levelThresholds[len(levelThresholds)-1] + (level-MaxTabulatedLevel)*XPPerExtraLevel
}
