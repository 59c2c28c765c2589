package engine

import (
	"context"
	"errors"

	"levelbot/core"
)

var errNoRenderer = errors.New("no card renderer configured")

// GetOrRenderLevelCard returns the cached card for user or renders a new one
// from data. It returns nil when rendering fails.
func (s *Service) GetOrRenderLevelCard(ctx context.Context, user core.UserID, data core.CardData) []byte {
	return guard(s.log, "level_card", []byte(nil), func() ([]byte, error) {
		id, err := core.NormalizeUserID(user)
		if err != nil {
			return nil, err
		}
		if e, ok := s.cards.Get(id); ok {
			return e.Image, nil
		}
		if s.renderer == nil {
			return nil, errNoRenderer
		}
		if data.UserID == "" {
			data.UserID = id
		}
		card, err := s.renderer.Render(ctx, data)
		if err != nil {
			return nil, err
		}
		s.cards.Set(id, card.Image, card.Path)
		return card.Image, nil
	})
}

// CardData assembles the display data of user's level card.
func (s *Service) CardData(ctx context.Context, user core.UserID) core.CardData {
	p := s.GetProfile(ctx, user)
	prog := core.ProgressFor(p.XP)
	rank, _ := s.GetRank(ctx, p.ID)
	return core.CardData{
		UserID:          p.ID,
		Name:            p.Name,
		Level:           p.Level,
		XP:              p.XP,
		RequiredXP:      prog.RequiredXP,
		ProgressPercent: prog.ProgressPercent,
		Rank:            rank,
		RankTitle:       p.RankTitle,
		Coins:           p.Coins,
	}
}
