// Package registry tracks live positions keyed by (user, symbol) and owns
// every lifecycle transition. Creation and lookup are mutually exclusive
// across the dispatcher's account tasks so that two concurrent signals can
// never both decide "no live position" and double-open.
package registry

import (
	"context"
	"fmt"
	"sync"

	"neptunebot/internal/domain"
	"neptunebot/internal/ports"
)

type key struct {
	user   string
	symbol string
}

// Registry is the in-memory table of live positions, optionally written
// through to a repository so state survives restarts.
type Registry struct {
	logger ports.Logger
	repo   ports.PositionRepository // nil disables persistence

	mu        sync.Mutex
	positions map[key]*domain.Position
}

// New creates a registry. repo may be nil for a purely in-memory registry.
func New(logger ports.Logger, repo ports.PositionRepository) (*Registry, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for registry")
	}
	return &Registry{
		logger:    logger,
		repo:      repo,
		positions: make(map[key]*domain.Position),
	}, nil
}

// Load rebuilds the live-position table from the repository. Call once at
// startup, before any dispatch.
func (r *Registry) Load(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}
	live, err := r.repo.FindLive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load live positions: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pos := range live {
		r.positions[key{pos.User, pos.Symbol}] = pos
	}
	r.logger.Info(ctx, "Position registry loaded", map[string]interface{}{"livePositions": len(live)})
	return nil
}

// TryBegin reserves the (user, symbol) slot with an OPENING placeholder.
// If a live position already occupies the slot (including CLOSING ones),
// it returns ports.ErrDuplicatePosition and the signal is skipped. The
// returned position is private to the caller: only the placeholder is
// visible through the registry until Commit swaps the built position in,
// so the caller mutates its copy without holding the lock.
func (r *Registry) TryBegin(user, symbol string, side domain.PositionSide) (*domain.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{user, symbol}
	if existing, ok := r.positions[k]; ok && existing.State.Live() {
		return nil, fmt.Errorf("%w: %s %s in state %s", ports.ErrDuplicatePosition, user, symbol, existing.State)
	}
	r.positions[k] = &domain.Position{
		User:   user,
		Symbol: symbol,
		Side:   side,
		State:  domain.StateOpening,
	}
	return &domain.Position{
		User:   user,
		Symbol: symbol,
		Side:   side,
		State:  domain.StateOpening,
	}, nil
}

// Commit publishes an opened position (entry confirmed, legs attached by the
// caller), replacing the slot's OPENING placeholder, and persists it. After
// Commit the position is shared; further mutations must go through registry
// methods.
func (r *Registry) Commit(ctx context.Context, pos *domain.Position) error {
	if pos.State != domain.StateOpen {
		return fmt.Errorf("cannot commit position %s/%s in state %s", pos.User, pos.Symbol, pos.State)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.repo != nil {
		id, err := r.repo.Save(ctx, pos)
		if err != nil {
			// The exchange position exists either way. Keep tracking it in
			// memory and let the monitor repair persistence drift.
			r.logger.Error(ctx, err, "Failed to persist opened position", map[string]interface{}{"user": pos.User, "symbol": pos.Symbol})
		} else {
			pos.ID = id
		}
	}
	r.positions[key{pos.User, pos.Symbol}] = pos
	return nil
}

// Abort releases the OPENING slot after an entry that never confirmed.
func (r *Registry) Abort(ctx context.Context, pos *domain.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := pos.MarkFailed(); err != nil {
		r.logger.Warn(ctx, "Abort on non-opening position", map[string]interface{}{"user": pos.User, "symbol": pos.Symbol, "state": pos.State})
	}
	delete(r.positions, key{pos.User, pos.Symbol})
}

// Get returns the tracked position for (user, symbol), or nil.
func (r *Registry) Get(user, symbol string) *domain.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.positions[key{user, symbol}]
}

// SnapshotForUser returns deep copies of the user's tracked positions for
// lock-free inspection, e.g. by the reconciliation loop.
func (r *Registry) SnapshotForUser(user string) []domain.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Position
	for k, pos := range r.positions {
		if k.user == user {
			cp := *pos
			cp.Legs = append([]domain.Leg(nil), pos.Legs...)
			out = append(out, cp)
		}
	}
	return out
}

// RecordLegPlacement updates a leg's order ids after the reconciliation loop
// placed or re-placed its venue order.
func (r *Registry) RecordLegPlacement(ctx context.Context, user, symbol string, kind domain.LegKind, orderID int64, clientOrderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.positions[key{user, symbol}]
	if !ok {
		return fmt.Errorf("%w: no tracked position for %s/%s", ports.ErrNotFound, user, symbol)
	}
	leg := pos.Leg(kind)
	if leg == nil {
		return fmt.Errorf("position %s/%s has no %s leg", user, symbol, kind)
	}
	leg.OrderID = orderID
	if clientOrderID != "" {
		leg.ClientOrderID = clientOrderID
	}
	leg.Status = domain.LegPlaced
	r.persist(ctx, pos)
	return nil
}

// ApplyLegFill applies a fill notification for one leg of a tracked
// position. Re-applying the same notification is a no-op (applied=false).
// A position whose remaining quantity reaches zero transitions to CLOSED
// and leaves the registry.
func (r *Registry) ApplyLegFill(ctx context.Context, user, symbol string, kind domain.LegKind) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.positions[key{user, symbol}]
	if !ok {
		return false, fmt.Errorf("%w: no tracked position for %s/%s", ports.ErrNotFound, user, symbol)
	}
	applied, err := pos.ApplyLegFill(kind)
	if err != nil || !applied {
		return applied, err
	}

	r.persist(ctx, pos)
	if pos.State == domain.StateClosed {
		delete(r.positions, key{user, symbol})
		r.logger.Info(ctx, "Position fully closed by leg fill", map[string]interface{}{"user": user, "symbol": symbol, "leg": kind})
	}
	return true, nil
}

// BeginClose transitions a tracked position to CLOSING and returns it.
// The position stays in the registry (blocking re-opens) until the close
// confirms via CompleteClose.
func (r *Registry) BeginClose(ctx context.Context, user, symbol string) (*domain.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.positions[key{user, symbol}]
	if !ok {
		return nil, fmt.Errorf("%w: no tracked position for %s/%s", ports.ErrNotFound, user, symbol)
	}
	if err := pos.BeginClose(); err != nil {
		return nil, err
	}
	r.persist(ctx, pos)
	return pos, nil
}

// CompleteClose records a confirmed close and removes the position.
func (r *Registry) CompleteClose(ctx context.Context, user, symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.positions[key{user, symbol}]
	if !ok {
		return
	}
	pos.MarkClosed()
	r.persist(ctx, pos)
	delete(r.positions, key{user, symbol})
	r.logger.Info(ctx, "Position closed", map[string]interface{}{"user": user, "symbol": symbol})
}

// persist writes the position through to the repository if one is set.
// Callers hold r.mu.
func (r *Registry) persist(ctx context.Context, pos *domain.Position) {
	if r.repo == nil || pos.ID == 0 {
		return
	}
	if err := r.repo.Update(ctx, pos); err != nil {
		r.logger.Error(ctx, err, "Failed to persist position update", map[string]interface{}{"user": pos.User, "symbol": pos.Symbol, "state": pos.State})
	}
}
