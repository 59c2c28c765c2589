package engine

import (
	"context"

	"levelbot/core"
)

// ProfileStore persists leveling profiles. Implementations must be safe for
// concurrent use; SetProfile creates the profile when absent.
type ProfileStore interface {
	GetProfile(ctx context.Context, user core.UserID) (core.Profile, bool, error)
	SetProfile(ctx context.Context, user core.UserID, patch core.ProfilePatch) error
	ListProfiles(ctx context.Context) ([]core.Profile, error)
}

// GroupStore exposes per-group feature flags. Unknown groups and features are
// enabled.
type GroupStore interface {
	IsFeatureEnabled(ctx context.Context, group core.GroupID, feature string) (bool, error)
	SetFeature(ctx context.Context, group core.GroupID, feature string, enabled bool) error
}

// CardRenderer draws level cards.
type CardRenderer interface {
	Render(ctx context.Context, data core.CardData) (core.Card, error)
}
