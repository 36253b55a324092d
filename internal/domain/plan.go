package domain

// PlannedLeg is one conditional order in an OrderPlan.
type PlannedLeg struct {
	Kind         LegKind
	TriggerPrice float64 // rounded to the contract's price precision; activation price for the trailing leg
	Quantity     float64
	CallbackRate float64 // trailing leg only, percent
}

// OrderPlan is a fully-specified set of orders for one account: a market
// entry plus the protective ladder. Composition is pure; nothing here has
// been sent to the exchange yet.
type OrderPlan struct {
	Symbol   string
	Side     PositionSide
	Quantity float64 // entry quantity, rounded down to quantity precision
	Leverage int
	Margin   float64 // USDT margin the plan commits
	Legs     []PlannedLeg
}

// Leg returns the planned leg of the given kind, or nil.
func (p *OrderPlan) Leg(kind LegKind) *PlannedLeg {
	for i := range p.Legs {
		if p.Legs[i].Kind == kind {
			return &p.Legs[i]
		}
	}
	return nil
}
