package executor

import (
	"context"

	"neptunebot/internal/domain"
	"neptunebot/internal/ports"
)

const qtyEpsilon = 1e-9

// Reconcile compares every tracked position against the exchange's view and
// repairs drift: positions the venue closed are released, protective orders
// that left the book without filling are re-placed, and quantity reductions
// are applied as leg fills. Called periodically by the monitor.
func (e *Executor) Reconcile(ctx context.Context) {
	if e.halted.Load() {
		return
	}
	for _, pos := range e.registry.SnapshotForUser(e.user) {
		// OPENING positions are owned by an in-flight intent.
		if pos.State == domain.StateOpening {
			continue
		}
		e.reconcilePosition(ctx, pos)
	}
}

func (e *Executor) reconcilePosition(ctx context.Context, pos domain.Position) {
	fields := map[string]interface{}{"user": e.user, "symbol": pos.Symbol}

	var snapshots []ports.PositionSnapshot
	err := e.retry.Do(ctx, func() error {
		var err error
		snapshots, err = e.client.GetOpenPositions(ctx, pos.Symbol)
		return err
	})
	if err != nil {
		e.noteAuthFailure(ctx, err)
		e.logger.Warn(ctx, "Reconcile: position lookup failed", fields)
		return
	}
	if len(snapshots) == 0 {
		// the venue no longer has the position: a stop or the last TP took
		// everything out while we were not looking
		e.logger.Info(ctx, "Reconcile: position closed on exchange, releasing", fields)
		e.registry.CompleteClose(ctx, e.user, pos.Symbol)
		return
	}
	if pos.State == domain.StateClosing {
		// a close is in flight and the venue still shows exposure; leave the
		// legs to the closing task
		return
	}
	venueQty := snapshots[0].Quantity

	orders, err := e.client.GetOpenOrders(ctx, pos.Symbol)
	if err != nil {
		e.noteAuthFailure(ctx, err)
		e.logger.Warn(ctx, "Reconcile: open order lookup failed", fields)
		return
	}
	resting := make(map[int64]bool, len(orders))
	for _, o := range orders {
		resting[o.OrderID] = true
	}

	spec, err := e.contractSpec(ctx, pos.Symbol)
	if err != nil {
		e.logger.Warn(ctx, "Reconcile: contract metadata unavailable", fields)
		return
	}

	remaining := pos.RemainingQuantity
	for _, leg := range pos.Legs {
		switch leg.Status {
		case domain.LegPending:
			e.replaceLeg(ctx, pos, leg, remaining, spec)

		case domain.LegPlaced:
			if leg.OrderID != 0 && resting[leg.OrderID] {
				continue
			}
			// the order left the book
			if isTakeProfit(leg.Kind) && venueQty < remaining-qtyEpsilon {
				applied, err := e.registry.ApplyLegFill(ctx, e.user, pos.Symbol, leg.Kind)
				if err != nil {
					e.logger.Warn(ctx, "Reconcile: could not record leg fill", map[string]interface{}{
						"user": e.user, "symbol": pos.Symbol, "leg": leg.Kind, "error": err.Error(),
					})
					continue
				}
				if applied {
					e.logger.Info(ctx, "Reconcile: recorded take-profit fill", map[string]interface{}{
						"user": e.user, "symbol": pos.Symbol, "leg": leg.Kind, "quantity": leg.Quantity,
					})
					remaining -= leg.Quantity
				}
				continue
			}
			// vanished without a fill: put the protection back
			e.logger.Warn(ctx, "Reconcile: protective order missing, re-placing", map[string]interface{}{
				"user": e.user, "symbol": pos.Symbol, "leg": leg.Kind,
			})
			e.replaceLeg(ctx, pos, leg, remaining, spec)
		}
	}
}

// replaceLeg places (or re-places) a leg's venue order and records the new
// order ids. The trailing stop always protects the current remainder.
func (e *Executor) replaceLeg(ctx context.Context, pos domain.Position, leg domain.Leg, remaining float64, spec *domain.ContractSpec) {
	leg.ClientOrderID = newClientOrderID(legTag(leg.Kind))
	if leg.Kind == domain.LegTrailing || leg.Kind == domain.LegStopLoss {
		leg.Quantity = remaining
	}
	resp, err := e.placeLegOrder(ctx, pos.Symbol, pos.Side.ExitSide(), pos.Side, leg, spec)
	if err != nil {
		e.noteAuthFailure(ctx, err)
		e.logger.Error(ctx, err, "Reconcile: leg placement failed", map[string]interface{}{
			"user": e.user, "symbol": pos.Symbol, "leg": leg.Kind,
		})
		return
	}
	if err := e.registry.RecordLegPlacement(ctx, e.user, pos.Symbol, leg.Kind, resp.OrderID, leg.ClientOrderID); err != nil {
		e.logger.Warn(ctx, "Reconcile: could not record leg placement", map[string]interface{}{
			"user": e.user, "symbol": pos.Symbol, "leg": leg.Kind, "error": err.Error(),
		})
	}
}

func isTakeProfit(kind domain.LegKind) bool {
	return kind == domain.LegTP1 || kind == domain.LegTP2 || kind == domain.LegTP3
}
