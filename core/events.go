package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates domain events.
type EventType string

const (
	EventXPAwarded           EventType = "xp_awarded"
	EventLevelUp             EventType = "level_up"
	EventAchievementUnlocked EventType = "achievement_unlocked"
	EventStreakBonus         EventType = "streak_bonus"
)

// Event represents an immutable domain event.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Time        time.Time      `json:"time"`
	UserID      UserID         `json:"user_id"`
	GroupID     GroupID        `json:"group_id,omitempty"`
	Activity    Activity       `json:"activity,omitempty"`
	Delta       int64          `json:"delta,omitempty"`
	Total       int64          `json:"total,omitempty"`
	Level       int64          `json:"level,omitempty"`
	Coins       int64          `json:"coins,omitempty"`
	Achievement Achievement    `json:"achievement,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func newEvent(typ EventType, user UserID) Event {
	return Event{ID: uuid.NewString(), Type: typ, Time: time.Now().UTC(), UserID: user}
}

func NewXPAwarded(user UserID, group GroupID, activity Activity, delta int64, total int64) Event {
	ev := newEvent(EventXPAwarded, user)
	ev.GroupID, ev.Activity, ev.Delta, ev.Total = group, activity, delta, total
	return ev
}

func NewLevelUp(user UserID, lu LevelUp) Event {
	ev := newEvent(EventLevelUp, user)
	ev.Level, ev.Total, ev.Coins = lu.NewLevel, lu.TotalXP, lu.CoinReward
	ev.Metadata = map[string]any{"old_level": lu.OldLevel, "rank_title": lu.RankTitle}
	return ev
}

func NewAchievementUnlocked(user UserID, a Achievement, coins int64) Event {
	ev := newEvent(EventAchievementUnlocked, user)
	ev.Achievement, ev.Coins = a, coins
	return ev
}

func NewStreakBonus(user UserID, streak int64, coins int64) Event {
	ev := newEvent(EventStreakBonus, user)
	ev.Total, ev.Coins = streak, coins
	return ev
}

// At returns a copy of e stamped with t, for callers running on an injected
// clock.
func (e Event) At(t time.Time) Event {
	e.Time = t.UTC()
	return e
}
