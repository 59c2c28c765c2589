package analytics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"levelbot/core"
)

// Hook receives leveling events for KPI aggregation.
type Hook interface {
	OnEvent(e core.Event)
}

// Handler adapts a Hook to the engine handler signature.
func Handler(h Hook) func(context.Context, core.Event) {
	return func(_ context.Context, e core.Event) { h.OnEvent(e) }
}

// DAU tracks daily active users.
type DAU struct {
	mu   sync.Mutex
	days map[string]map[core.UserID]struct{}
}

func NewDAU() *DAU { return &DAU{days: map[string]map[core.UserID]struct{}{}} }

func (d *DAU) OnEvent(e core.Event) {
	day := dayKey(e.Time)
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.days[day]
	if m == nil {
		m = map[core.UserID]struct{}{}
		d.days[day] = m
	}
	m[e.UserID] = struct{}{}
}

func (d *DAU) Count(day string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.days[day])
}

// Metrics aggregates XP, level-up and achievement counters.
type Metrics struct {
	mu sync.RWMutex

	// user engagement
	weeklyActiveUsers  map[string]map[core.UserID]struct{}
	monthlyActiveUsers map[string]map[core.UserID]struct{}

	xpByDay      map[string]int64
	xpByActivity map[core.Activity]int64
	awardsByDay  map[string]int64

	levelUpsByDay     map[string]int64
	levelDistribution map[int64]int // level reached -> count

	achievementsByType map[core.Achievement]int64
	streakBonuses      int64
	coinsPaid          int64
}

func NewMetrics() *Metrics {
	return &Metrics{
		weeklyActiveUsers:  make(map[string]map[core.UserID]struct{}),
		monthlyActiveUsers: make(map[string]map[core.UserID]struct{}),
		xpByDay:            make(map[string]int64),
		xpByActivity:       make(map[core.Activity]int64),
		awardsByDay:        make(map[string]int64),
		levelUpsByDay:      make(map[string]int64),
		levelDistribution:  make(map[int64]int),
		achievementsByType: make(map[core.Achievement]int64),
	}
}

func (m *Metrics) OnEvent(e core.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	day := dayKey(e.Time)
	track(m.weeklyActiveUsers, weekKey(e.Time), e.UserID)
	track(m.monthlyActiveUsers, monthKey(e.Time), e.UserID)

	switch e.Type {
	case core.EventXPAwarded:
		if e.Delta > 0 {
			m.xpByDay[day] += e.Delta
			m.xpByActivity[e.Activity] += e.Delta
		}
		m.awardsByDay[day]++
	case core.EventLevelUp:
		m.levelUpsByDay[day]++
		m.levelDistribution[e.Level]++
		m.coinsPaid += e.Coins
	case core.EventAchievementUnlocked:
		m.achievementsByType[e.Achievement]++
	case core.EventStreakBonus:
		m.streakBonuses++
		m.coinsPaid += e.Coins
	}
}

func track(buckets map[string]map[core.UserID]struct{}, key string, user core.UserID) {
	if buckets[key] == nil {
		buckets[key] = make(map[core.UserID]struct{})
	}
	buckets[key][user] = struct{}{}
}

// ActivityXP is one row of the per-activity ranking.
type ActivityXP struct {
	Activity core.Activity `json:"activity"`
	XP       int64         `json:"xp"`
}

// Snapshot is a point-in-time view served by the stats endpoint.
type Snapshot struct {
	Day                string                     `json:"day"`
	WeeklyActiveUsers  int                        `json:"weekly_active_users"`
	MonthlyActiveUsers int                        `json:"monthly_active_users"`
	XPToday            int64                      `json:"xp_today"`
	AwardsToday        int64                      `json:"awards_today"`
	LevelUpsToday      int64                      `json:"level_ups_today"`
	TopActivities      []ActivityXP               `json:"top_activities"`
	LevelDistribution  map[int64]int              `json:"level_distribution"`
	Achievements       map[core.Achievement]int64 `json:"achievements"`
	StreakBonuses      int64                      `json:"streak_bonuses"`
	CoinsPaid          int64                      `json:"coins_paid"`
}

// Snapshot reports counters for the day containing now.
func (m *Metrics) Snapshot(now time.Time) Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	day := dayKey(now)
	s := Snapshot{
		Day:                day,
		WeeklyActiveUsers:  len(m.weeklyActiveUsers[weekKey(now)]),
		MonthlyActiveUsers: len(m.monthlyActiveUsers[monthKey(now)]),
		XPToday:            m.xpByDay[day],
		AwardsToday:        m.awardsByDay[day],
		LevelUpsToday:      m.levelUpsByDay[day],
		LevelDistribution:  make(map[int64]int, len(m.levelDistribution)),
		Achievements:       make(map[core.Achievement]int64, len(m.achievementsByType)),
		StreakBonuses:      m.streakBonuses,
		CoinsPaid:          m.coinsPaid,
	}
	for k, v := range m.levelDistribution {
		s.LevelDistribution[k] = v
	}
	for k, v := range m.achievementsByType {
		s.Achievements[k] = v
	}
	for a, xp := range m.xpByActivity {
		s.TopActivities = append(s.TopActivities, ActivityXP{Activity: a, XP: xp})
	}
	sort.Slice(s.TopActivities, func(i, j int) bool {
		if s.TopActivities[i].XP != s.TopActivities[j].XP {
			return s.TopActivities[i].XP > s.TopActivities[j].XP
		}
		return s.TopActivities[i].Activity < s.TopActivities[j].Activity
	})
	return s
}

// XPByActivity returns total XP awarded for one activity.
func (m *Metrics) XPByActivity(a core.Activity) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.xpByActivity[a]
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

func weekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func monthKey(t time.Time) string { return t.UTC().Format("2006-01") }
