package engine

import (
	"context"
	"errors"
	"fmt"

	"levelbot/core"
)

// SetXP overrides the user's XP total, keeping level and rank title
// consistent. Achievements already unlocked are kept, so re-earning a
// milestone later does not unlock it twice. No rewards are paid.
func (s *Service) SetXP(ctx context.Context, user core.UserID, xp int64) (core.Profile, error) {
	return guardErr(s.log, "set_xp", func() (core.Profile, error) {
		if xp < 0 {
			return core.Profile{}, errors.New("xp cannot be negative")
		}
		id, err := core.NormalizeUserID(user)
		if err != nil {
			return core.Profile{}, err
		}
		unlock := s.locks.lock(id)
		defer unlock()

		p, _, err := s.loadProfile(ctx, id)
		if err != nil {
			return core.Profile{}, fmt.Errorf("load profile: %w", err)
		}
		old := p.XP
		p.XP = xp
		p.Level = core.LevelFor(xp)
		p.RankTitle = core.RankTitleFor(p.Level)
		err = s.profiles.SetProfile(ctx, id, core.ProfilePatch{
			XP:        core.Ptr(p.XP),
			Level:     core.Ptr(p.Level),
			RankTitle: core.Ptr(p.RankTitle),
		})
		if err != nil {
			return core.Profile{}, fmt.Errorf("save profile: %w", err)
		}
		s.cards.Delete(id)
		s.log.Info("xp overridden", "user", id, "from", old, "to", xp)
		return p, nil
	})
}

// FixLevels rewrites every stored profile whose level, rank title or numeric
// fields disagree with its XP. It returns the number of profiles repaired.
// Each profile is re-read under its user lock, so awards landing while the
// sweep runs are kept.
func (s *Service) FixLevels(ctx context.Context) (int, error) {
	return guardErr(s.log, "fix_levels", func() (int, error) {
		profiles, err := s.profiles.ListProfiles(ctx)
		if err != nil {
			return 0, fmt.Errorf("list profiles: %w", err)
		}
		fixed := 0
		for _, listed := range profiles {
			repaired, err := s.fixProfile(ctx, listed.ID)
			if err != nil {
				return fixed, fmt.Errorf("fix %s: %w", listed.ID, err)
			}
			if repaired {
				fixed++
			}
		}
		if fixed > 0 {
			s.log.Info("levels repaired", "count", fixed)
		}
		return fixed, nil
	})
}

func (s *Service) fixProfile(ctx context.Context, id core.UserID) (bool, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	stored, found, err := s.profiles.GetProfile(ctx, id)
	if err != nil || !found {
		return false, err
	}
	p := stored.Clone()
	p.ID = id
	defects := p.Normalize()
	if len(defects) == 0 && p.Level == stored.Level && p.RankTitle == stored.RankTitle {
		return false, nil
	}
	err = s.profiles.SetProfile(ctx, id, core.ProfilePatch{
		XP:          core.Ptr(p.XP),
		Level:       core.Ptr(p.Level),
		Coins:       core.Ptr(p.Coins),
		DailyStreak: core.Ptr(p.DailyStreak),
		RankTitle:   core.Ptr(p.RankTitle),
	})
	if err != nil {
		return false, err
	}
	s.cards.Delete(id)
	return true, nil
}

// SetGroupFeature toggles a feature flag for a group chat.
func (s *Service) SetGroupFeature(ctx context.Context, group core.GroupID, feature string, enabled bool) error {
	_, err := guardErr(s.log, "set_group_feature", func() (struct{}, error) {
		if s.groups == nil {
			return struct{}{}, errors.New("no group store configured")
		}
		if group == "" || feature == "" {
			return struct{}{}, errors.New("group and feature are required")
		}
		if err := s.groups.SetFeature(ctx, group, feature, enabled); err != nil {
			return struct{}{}, err
		}
		s.log.Info("group feature updated", "group", group, "feature", feature, "enabled", enabled)
		return struct{}{}, nil
	})
	return err
}

// Ping checks that the profile store answers.
func (s *Service) Ping(ctx context.Context) error {
	_, err := guardErr(s.log, "ping", func() (bool, error) {
		_, found, err := s.profiles.GetProfile(ctx, "healthcheck")
		return found, err
	})
	return err
}
