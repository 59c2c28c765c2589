package core

import (
	"fmt"
	"strings"
)

// LevelUp describes a level transition produced by an award.
type LevelUp struct {
	UserID              UserID      `json:"user_id"`
	OldLevel            int64       `json:"old_level"`
	NewLevel            int64       `json:"new_level"`
	CoinReward          int64       `json:"coin_reward"`
	TotalXP             int64       `json:"total_xp"`
	RequiredXPForNext   int64       `json:"required_xp_for_next"`
	// Milestone is the highest milestone level first unlocked by this award.
	Milestone           int64       `json:"milestone,omitempty"`
	AchievementUnlocked Achievement `json:"achievement_unlocked,omitempty"`
	RankTitle           string      `json:"rank_title"`
}

// Progress is a read-only view of a user's position inside the current level.
type Progress struct {
	CurrentLevel    int64  `json:"current_level"`
	NextLevel       int64  `json:"next_level"`
	CurrentXP       int64  `json:"current_xp"`
	RequiredXP      int64  `json:"required_xp"`
	NeededXP        int64  `json:"needed_xp"`
	ProgressPercent int    `json:"progress_percent"`
	ProgressBar     string `json:"progress_bar"`
}

// ProgressBarWidth is the number of cells in ProgressBar.
const ProgressBarWidth = 20

// ProgressFor derives the progress view from a total XP amount.
func ProgressFor(xp int64) Progress {
	if xp < 0 {
		xp = 0
	}
	level := LevelFor(xp)
	floor := RequiredXPFor(level)
	next := RequiredXPFor(level + 1)
	pct := 0
	if span := next - floor; span > 0 {
		pct = int((xp - floor) * 100 / span)
	}
	pct = max(0, min(100, pct))
	return Progress{
		CurrentLevel:    level,
		NextLevel:       level + 1,
		CurrentXP:       xp,
		RequiredXP:      next,
		NeededXP:        max(0, next-xp),
		ProgressPercent: pct,
		ProgressBar:     ProgressBar(pct),
	}
}

// ProgressBar renders pct as filled and empty cells followed by the percentage.
func ProgressBar(pct int) string {
	pct = max(0, min(100, pct))
	filled := pct * ProgressBarWidth / 100
	return fmt.Sprintf("%s%s %d%%",
		strings.Repeat("█", filled),
		strings.Repeat("░", ProgressBarWidth-filled),
		pct)
}

// CardData is what a level card displays.
type CardData struct {
	UserID          UserID `json:"user_id"`
	Name            string `json:"name"`
	Level           int64  `json:"level"`
	XP              int64  `json:"xp"`
	RequiredXP      int64  `json:"required_xp"`
	ProgressPercent int    `json:"progress_percent"`
	Rank            int    `json:"rank,omitempty"`
	RankTitle       string `json:"rank_title"`
	Coins           int64  `json:"coins"`
}

// Card is a rendered level card. Path is empty when the renderer keeps the
// image in memory only.
type Card struct {
	Image []byte
	Path  string
}
