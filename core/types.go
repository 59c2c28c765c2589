package core

import (
	"errors"
	"math"
	"strings"
)

// UserID uniquely identifies a chat user (a WhatsApp JID in production).
type UserID string

// GroupID identifies a group chat. The empty GroupID means a private chat.
type GroupID string

// Activity is a kind of user action that can earn XP.
type Activity string

const (
	ActivityMessage  Activity = "message"
	ActivityCommand  Activity = "command"
	ActivityMedia    Activity = "media"
	ActivityVoice    Activity = "voice"
	ActivityDaily    Activity = "daily"
	ActivityReaction Activity = "reaction"
	ActivitySticker  Activity = "sticker"
	ActivityGame     Activity = "game"
	ActivityQuiz     Activity = "quiz"
)

// Achievement is a milestone identifier unlocked at most once per user.
type Achievement string

// FeatureLeveling is the group feature flag that gates XP accrual.
const FeatureLeveling = "leveling"

var (
	ErrInvalidUserID = errors.New("empty user id")
	ErrOverflow      = errors.New("integer overflow")
)

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, ErrOverflow
	}
	return base + delta, nil
}

// NormalizeUserID trims and lowercases user identifiers.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", ErrInvalidUserID
	}
	return UserID(strings.ToLower(s)), nil
}

// ParseActivity maps free-form input to a known activity. Unknown input falls
// back to ActivityMessage and reports false.
func ParseActivity(s string) (Activity, bool) {
	a := Activity(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := activityRanges[a]; ok {
		return a, true
	}
	return ActivityMessage, false
}

// Exempt reports whether the activity bypasses cooldown checks.
func (a Activity) Exempt() bool {
	switch a {
	case ActivityCommand, ActivityGame, ActivityQuiz, ActivityDaily:
		return true
	}
	return false
}
