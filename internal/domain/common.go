package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the closing side for an order placed with this side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// PositionSide represents the direction of a position.
type PositionSide string

const (
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
)

// EntrySide returns the order side that opens a position in this direction.
func (p PositionSide) EntrySide() OrderSide {
	if p == Long {
		return Buy
	}
	return Sell
}

// ExitSide returns the order side that reduces a position in this direction.
func (p PositionSide) ExitSide() OrderSide {
	return p.EntrySide().Opposite()
}

// PositionState represents where a position is in its lifecycle.
type PositionState string

const (
	StateOpening         PositionState = "OPENING"
	StateOpen            PositionState = "OPEN"
	StatePartiallyClosed PositionState = "PARTIALLY_CLOSED"
	StateClosing         PositionState = "CLOSING"
	StateClosed          PositionState = "CLOSED"
	StateFailed          PositionState = "FAILED"
)

// Live reports whether the position still holds (or may still acquire) exposure.
// CLOSING counts as live: a second open signal must not layer on top of it.
func (s PositionState) Live() bool {
	return s != StateClosed && s != StateFailed
}

// LegKind identifies one conditional order belonging to a position's plan.
type LegKind string

const (
	LegTP1      LegKind = "TP1"
	LegTP2      LegKind = "TP2"
	LegTP3      LegKind = "TP3"
	LegStopLoss LegKind = "SL"
	LegTrailing LegKind = "TRAILING"
)

// LegStatus represents the lifecycle of a single leg order.
type LegStatus string

const (
	LegPending   LegStatus = "PENDING"
	LegPlaced    LegStatus = "PLACED"
	LegFilled    LegStatus = "FILLED"
	LegCancelled LegStatus = "CANCELLED"
)
