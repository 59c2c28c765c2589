package engine

import (
	"context"
	"fmt"
	"time"

	"levelbot/core"
)

// Award grants XP for an activity and returns the resulting level up, or nil
// when the award was skipped (feature disabled, cooldown, daily already
// claimed), did not level the user up, or failed.
func (s *Service) Award(ctx context.Context, user core.UserID, activity core.Activity, group core.GroupID) *core.LevelUp {
	return guard(s.log, "award", (*core.LevelUp)(nil), func() (*core.LevelUp, error) {
		return s.award(ctx, user, activity, group)
	})
}

func (s *Service) award(ctx context.Context, user core.UserID, activity core.Activity, group core.GroupID) (*core.LevelUp, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	act, known := core.ParseActivity(string(activity))
	if !known {
		s.log.Warn("unknown activity, using message range", "activity", activity, "user", user)
	}

	if group != "" && s.groups != nil {
		enabled, err := s.groups.IsFeatureEnabled(ctx, group, core.FeatureLeveling)
		if err != nil {
			return nil, fmt.Errorf("leveling flag for %s: %w", group, err)
		}
		if !enabled {
			return nil, nil
		}
	}

	// The window is checked and recorded under the user lock, and only
	// recorded once the profile write succeeded.
	unlock := s.locks.lock(user)
	defer unlock()
	limited := !act.Exempt()
	if limited && !s.cooldowns.Allow(user, group) {
		return nil, nil
	}

	prev, _, err := s.loadProfile(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	now := s.now().UTC()
	next := prev.Clone()
	var events []core.Event

	xp := core.RangeFor(act).Roll(s.roller)
	if act == core.ActivityDaily {
		var claimed bool
		xp, claimed = s.applyDaily(&next, xp, now, &events)
		if !claimed {
			return nil, nil
		}
	}
	xp = max(1, core.ApplyMultiplier(xp, core.LevelMultiplier(prev.Level)))

	total, err := core.AddSafe(prev.XP, xp)
	if err != nil {
		return nil, err
	}
	next.XP = total
	stat := next.ActivityStats[act]
	stat.Count++
	stat.XP += xp
	next.ActivityStats[act] = stat
	next.Level = core.LevelFor(total)
	next.RankTitle = core.RankTitleFor(next.Level)

	var result *core.LevelUp
	if next.Level > prev.Level {
		result = levelUp(&next, prev.Level, &events)
	}

	patch := next.Patch()
	patch.Name = nil
	if err := s.profiles.SetProfile(ctx, user, patch); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	if limited {
		s.cooldowns.Commit(user, group)
	}
	if result != nil {
		s.cards.Delete(user)
		s.log.Info("user leveled up", "user", user, "from", result.OldLevel, "to", result.NewLevel, "coins", result.CoinReward)
	}

	s.bus.Publish(ctx, core.NewXPAwarded(user, group, act, xp, total).At(now))
	for _, ev := range events {
		s.bus.Publish(ctx, ev.At(now))
	}
	return result, nil
}

// applyDaily advances the streak and returns the multiplied roll. It reports
// false when today's claim was already made.
func (s *Service) applyDaily(p *core.Profile, xp int64, now time.Time, events *[]core.Event) (int64, bool) {
	if !p.LastDaily.IsZero() && sameDay(p.LastDaily, now) {
		return 0, false
	}
	streak := int64(1)
	if !p.LastDaily.IsZero() && sameDay(p.LastDaily.AddDate(0, 0, 1), now) {
		streak = p.DailyStreak + 1
	}
	p.DailyStreak = streak
	p.LastDaily = now

	tier, ok := core.StreakTierFor(streak)
	if !ok {
		return xp, true
	}
	for _, t := range core.StreakTiers {
		if t.Days > streak || p.HasAchievement(t.Achievement()) {
			continue
		}
		p.Achievements[t.Achievement()] = struct{}{}
		p.Coins = addCoins(p.Coins, t.BonusCoins)
		*events = append(*events,
			core.NewStreakBonus(p.ID, streak, t.BonusCoins),
			core.NewAchievementUnlocked(p.ID, t.Achievement(), t.BonusCoins))
	}
	return core.ApplyMultiplier(xp, tier.Multiplier), true
}

// levelUp pays level and milestone rewards into p, which already carries the
// new XP and level.
func levelUp(p *core.Profile, oldLevel int64, events *[]core.Event) *core.LevelUp {
	coins := core.LevelUpCoins(p.Level)
	res := &core.LevelUp{
		UserID:            p.ID,
		OldLevel:          oldLevel,
		NewLevel:          p.Level,
		TotalXP:           p.XP,
		RequiredXPForNext: core.RequiredXPFor(p.Level + 1),
		RankTitle:         core.RankTitleFor(p.Level),
	}
	for _, m := range core.MilestonesBetween(oldLevel, p.Level) {
		a := m.Achievement()
		if p.HasAchievement(a) {
			continue
		}
		p.Achievements[a] = struct{}{}
		res.Milestone = m.Level
		coins += m.BonusCoins
		res.AchievementUnlocked = a
		*events = append(*events, core.NewAchievementUnlocked(p.ID, a, m.BonusCoins))
	}
	res.CoinReward = coins
	p.Coins = addCoins(p.Coins, coins)
	p.RankTitle = res.RankTitle
	*events = append(*events, core.NewLevelUp(p.ID, *res))
	return res
}

func addCoins(balance, delta int64) int64 {
	v, err := core.AddSafe(balance, delta)
	if err != nil {
		return balance
	}
	return v
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
