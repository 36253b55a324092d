package domain

import (
	"fmt"
	"time"
)

// quantity residue below this is treated as zero. Leg quantities are rounded
// to the contract's precision before they ever reach a position, so anything
// smaller is float noise.
const qtyEpsilon = 1e-9

// Leg is one conditional order attached to a live position.
type Leg struct {
	Kind          LegKind
	OrderID       int64
	ClientOrderID string
	TriggerPrice  float64 // activation price for the trailing leg
	Quantity      float64
	CallbackRate  float64 // trailing leg only
	Status        LegStatus
}

// Position is the lifecycle record for one (user, symbol) exposure.
// During the open it is private to the task that reserved the slot; once
// committed it is shared through the registry and mutated only under the
// registry's lock via the transition methods below.
type Position struct {
	ID                int64 // repository id, 0 until persisted
	User              string
	Symbol            string
	Side              PositionSide
	OpenQuantity      float64
	RemainingQuantity float64
	EntryPrice        float64
	Leverage          int
	Legs              []Leg
	State             PositionState
	OpenedAt          time.Time
	ClosedAt          time.Time
}

// Leg returns the leg of the given kind, or nil.
func (p *Position) Leg(kind LegKind) *Leg {
	for i := range p.Legs {
		if p.Legs[i].Kind == kind {
			return &p.Legs[i]
		}
	}
	return nil
}

// LegByOrderID returns the leg carrying the given exchange order id, or nil.
func (p *Position) LegByOrderID(orderID int64) *Leg {
	for i := range p.Legs {
		if p.Legs[i].OrderID == orderID {
			return &p.Legs[i]
		}
	}
	return nil
}

// MarkOpen confirms the entry fill: OPENING -> OPEN.
func (p *Position) MarkOpen(entryPrice, quantity float64) error {
	if p.State != StateOpening {
		return fmt.Errorf("cannot mark position %s/%s open from state %s", p.User, p.Symbol, p.State)
	}
	p.EntryPrice = entryPrice
	p.OpenQuantity = quantity
	p.RemainingQuantity = quantity
	p.State = StateOpen
	p.OpenedAt = time.Now().UTC()
	return nil
}

// AttachLeg records a placed conditional order on the position.
func (p *Position) AttachLeg(leg Leg) {
	leg.Status = LegPlaced
	p.Legs = append(p.Legs, leg)
}

// AttachPendingLeg records a leg whose order could not be placed yet. The
// monitor places pending legs on its next pass.
func (p *Position) AttachPendingLeg(leg Leg) {
	leg.Status = LegPending
	p.Legs = append(p.Legs, leg)
}

// ApplyLegFill applies a fill notification for one leg. It is idempotent:
// a leg transitions PLACED -> FILLED at most once, and a second notification
// for an already-filled leg returns false without touching quantities.
func (p *Position) ApplyLegFill(kind LegKind) (bool, error) {
	leg := p.Leg(kind)
	if leg == nil {
		return false, fmt.Errorf("position %s/%s has no %s leg", p.User, p.Symbol, kind)
	}
	if leg.Status == LegFilled {
		return false, nil
	}
	if leg.Status != LegPlaced {
		return false, fmt.Errorf("%s leg of %s/%s is %s, cannot fill", kind, p.User, p.Symbol, leg.Status)
	}
	if !p.State.Live() || p.State == StateOpening {
		return false, fmt.Errorf("cannot apply %s fill in state %s", kind, p.State)
	}
	leg.Status = LegFilled

	switch kind {
	case LegStopLoss, LegTrailing:
		// Protective legs close the whole remaining amount.
		p.RemainingQuantity = 0
	default:
		p.RemainingQuantity -= leg.Quantity
		if p.RemainingQuantity < qtyEpsilon {
			p.RemainingQuantity = 0
		}
		// The trailing stop must protect exactly the open amount.
		if trailing := p.Leg(LegTrailing); trailing != nil && trailing.Status == LegPlaced {
			trailing.Quantity = p.RemainingQuantity
		}
	}

	if p.RemainingQuantity == 0 {
		p.State = StateClosed
		p.ClosedAt = time.Now().UTC()
	} else if p.State == StateOpen {
		p.State = StatePartiallyClosed
	}
	return true, nil
}

// BeginClose moves a live position to CLOSING ahead of leg cancellation and
// the market close order.
func (p *Position) BeginClose() error {
	if !p.State.Live() {
		return fmt.Errorf("cannot close position %s/%s in state %s", p.User, p.Symbol, p.State)
	}
	p.State = StateClosing
	return nil
}

// MarkClosed confirms the close fill. Remaining quantity drops to zero and
// unfilled legs are recorded as cancelled.
func (p *Position) MarkClosed() {
	p.RemainingQuantity = 0
	p.State = StateClosed
	p.ClosedAt = time.Now().UTC()
	for i := range p.Legs {
		if p.Legs[i].Status == LegPlaced || p.Legs[i].Status == LegPending {
			p.Legs[i].Status = LegCancelled
		}
	}
}

// MarkFailed records an entry that never confirmed: OPENING -> FAILED.
func (p *Position) MarkFailed() error {
	if p.State != StateOpening {
		return fmt.Errorf("cannot fail position %s/%s from state %s", p.User, p.Symbol, p.State)
	}
	p.State = StateFailed
	return nil
}
