// Package library fetches what the scoring engine needs from the game
// library service: owned games per account, store metadata per game and
// achievement state per account and game.
//
// SteamClient is the HTTP implementation. CachedSource wraps any Source with
// a shared-store cache (multi-hour TTLs, visible to every process) and a
// small in-process cache in front of it. Gather fans the lookups for one
// interaction out concurrently.
package library

import (
	"context"

	"github.com/roach88/gamesincommon/internal/scoring"
)

// Source is the read-only view of the game library service.
type Source interface {
	OwnedGames(ctx context.Context, accountID string) (scoring.Library, error)
	Game(ctx context.Context, gameID int) (scoring.Game, error)
	Achievements(ctx context.Context, accountID string, gameID int) (scoring.Achievements, error)
}

// Popular lists game ids worth pre-fetching.
type Popular interface {
	PopularGameIDs(ctx context.Context) ([]int, error)
}
