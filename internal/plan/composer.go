// Package plan turns an open intent plus a user's risk parameters into a
// fully-specified order plan. Composition is pure computation; nothing here
// touches the exchange or the registry.
package plan

import (
	"fmt"

	"github.com/shopspring/decimal"

	"neptunebot/internal/domain"
)

// SizingReason says why a plan could not be composed.
type SizingReason string

const (
	ReasonQuantityTooSmall SizingReason = "QUANTITY_TOO_SMALL"
	ReasonNotionalTooSmall SizingReason = "NOTIONAL_TOO_SMALL"
)

// SizingError reports a quantity below the contract's minimums. Sizing
// failures are final for the signal and account: bumping to the minimum
// would silently change the user's risk, so the plan is rejected instead.
type SizingError struct {
	Reason   SizingReason
	Symbol   string
	Computed float64
	Minimum  float64
}

func (e *SizingError) Error() string {
	return fmt.Sprintf("sizing %s failed (%s): computed %v, exchange minimum %v", e.Symbol, e.Reason, e.Computed, e.Minimum)
}

// Compose builds the order plan for one account: entry quantity from the
// profile's margin and leverage, a three-rung take-profit ladder, a stop
// loss, and a trailing stop. All prices are rounded to the contract's price
// precision; the quantity is rounded down to its quantity precision. TP rungs
// the venue would reject as too small are folded together, so small entries
// may carry fewer than three rungs.
func Compose(side domain.PositionSide, profile domain.RiskProfile, spec *domain.ContractSpec, markPrice float64) (*domain.OrderPlan, error) {
	if markPrice <= 0 {
		return nil, fmt.Errorf("mark price must be positive, got %v", markPrice)
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk profile: %w", err)
	}

	price := decimal.NewFromFloat(markPrice)
	notional := decimal.NewFromFloat(profile.MarginPerTrade).Mul(decimal.NewFromInt(int64(profile.Leverage)))
	quantity := notional.Div(price).RoundFloor(int32(spec.QuantityPrecision))

	if quantity.LessThan(decimal.NewFromFloat(spec.MinQuantity)) {
		return nil, &SizingError{
			Reason:   ReasonQuantityTooSmall,
			Symbol:   spec.Symbol,
			Computed: quantity.InexactFloat64(),
			Minimum:  spec.MinQuantity,
		}
	}
	if quantity.Mul(price).LessThan(decimal.NewFromFloat(spec.MinNotional)) {
		return nil, &SizingError{
			Reason:   ReasonNotionalTooSmall,
			Symbol:   spec.Symbol,
			Computed: quantity.Mul(price).InexactFloat64(),
			Minimum:  spec.MinNotional,
		}
	}

	legs := make([]domain.PlannedLeg, 0, 5)
	tpKinds := [3]domain.LegKind{domain.LegTP1, domain.LegTP2, domain.LegTP3}
	tpQtys := splitQuantity(quantity, profile.TPDistribution, int32(spec.QuantityPrecision), decimal.NewFromFloat(spec.MinQuantity))
	for i, pct := range profile.TPPcts() {
		if tpQtys[i].IsZero() {
			continue
		}
		legs = append(legs, domain.PlannedLeg{
			Kind:         tpKinds[i],
			TriggerPrice: triggerPrice(price, pct, side, true, int32(spec.PricePrecision)),
			Quantity:     tpQtys[i].InexactFloat64(),
		})
	}
	legs = append(legs, domain.PlannedLeg{
		Kind:         domain.LegStopLoss,
		TriggerPrice: triggerPrice(price, profile.SLPct, side, false, int32(spec.PricePrecision)),
		Quantity:     quantity.InexactFloat64(),
	})
	legs = append(legs, domain.PlannedLeg{
		Kind:         domain.LegTrailing,
		TriggerPrice: triggerPrice(price, profile.TrailingActivationPct, side, true, int32(spec.PricePrecision)),
		Quantity:     quantity.InexactFloat64(),
		CallbackRate: profile.TrailingCallbackPct,
	})

	return &domain.OrderPlan{
		Symbol:   spec.Symbol,
		Side:     side,
		Quantity: quantity.InexactFloat64(),
		Leverage: profile.Leverage,
		Margin:   profile.MarginPerTrade,
		Legs:     legs,
	}, nil
}

// triggerPrice computes entry ± pct%, signed by side and by whether the
// trigger sits on the profitable side of the entry.
func triggerPrice(entry decimal.Decimal, pct float64, side domain.PositionSide, profit bool, precision int32) float64 {
	offset := decimal.NewFromFloat(pct).Div(decimal.NewFromInt(100))
	up := profit == (side == domain.Long)
	if !up {
		offset = offset.Neg()
	}
	return entry.Mul(decimal.NewFromInt(1).Add(offset)).Round(precision).InexactFloat64()
}

// splitQuantity divides the entry quantity across the three TP rungs. The
// first two rungs are rounded down to the contract's precision and the last
// absorbs the remainder, so the rungs always sum to exactly the entry
// quantity and no exposure is left untracked. A rung that rounds to zero or
// lands below the venue's minimum quantity is not placeable; its amount is
// folded into a neighbouring rung, so a minimum-size entry yields a single
// take-profit rung for the whole quantity.
func splitQuantity(total decimal.Decimal, distribution [3]float64, precision int32, minQty decimal.Decimal) [3]decimal.Decimal {
	var fractions [3]decimal.Decimal
	if distribution == [3]float64{} {
		third := decimal.NewFromInt(1).Div(decimal.NewFromInt(3))
		fractions = [3]decimal.Decimal{third, third, third}
	} else {
		hundred := decimal.NewFromInt(100)
		for i, d := range distribution {
			fractions[i] = decimal.NewFromFloat(d).Div(hundred)
		}
	}

	var out [3]decimal.Decimal
	out[0] = total.Mul(fractions[0]).RoundFloor(precision)
	out[1] = total.Mul(fractions[1]).RoundFloor(precision)
	out[2] = total.Sub(out[0]).Sub(out[1])

	for i := 0; i < 2; i++ {
		if out[i].IsPositive() && out[i].LessThan(minQty) {
			out[i+1] = out[i+1].Add(out[i])
			out[i] = decimal.Zero
		}
	}
	if out[2].IsPositive() && out[2].LessThan(minQty) {
		for i := 1; i >= 0; i-- {
			if out[i].IsPositive() {
				out[i] = out[i].Add(out[2])
				out[2] = decimal.Zero
				break
			}
		}
	}
	return out
}
