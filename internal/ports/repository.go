package ports

import (
	"context"

	"neptunebot/internal/domain"
)

// PositionRepository persists the registry's positions so that live state
// survives a restart. The registry is the single writer; the repository is
// never consulted on the hot path.
type PositionRepository interface {
	// Save inserts a new position (with its legs) and returns its assigned ID.
	Save(ctx context.Context, pos *domain.Position) (int64, error)
	// Update rewrites an existing position and its legs.
	Update(ctx context.Context, pos *domain.Position) error
	// FindLive retrieves every position whose state is still live,
	// used to rebuild the registry at startup.
	FindLive(ctx context.Context) ([]*domain.Position, error)
}
