package domain

import "fmt"

// RiskProfile holds one user's sizing and protection parameters.
// It is immutable for the duration of a signal's processing.
type RiskProfile struct {
	MarginPerTrade     float64 // USDT margin committed per trade
	Leverage           int
	MinBalanceRequired float64 // available balance gate before opening

	TP1Pct float64 // take-profit distances from entry, percent
	TP2Pct float64
	TP3Pct float64
	SLPct  float64 // stop-loss distance from entry, percent

	// TPDistribution splits the filled quantity across TP1/TP2/TP3 in
	// percent. Zero value means equal thirds. Configured values must sum
	// to 100; the last leg absorbs rounding remainder either way.
	TPDistribution [3]float64

	TrailingActivationPct float64 // profit distance at which the trailing stop arms
	TrailingCallbackPct   float64 // callback rate once armed
}

// Validate checks the profile's invariants.
func (p RiskProfile) Validate() error {
	if p.MarginPerTrade <= 0 {
		return fmt.Errorf("marginPerTrade must be positive, got %v", p.MarginPerTrade)
	}
	if p.Leverage < 1 {
		return fmt.Errorf("leverage must be at least 1, got %d", p.Leverage)
	}
	if p.MinBalanceRequired < 0 {
		return fmt.Errorf("minBalanceRequired cannot be negative, got %v", p.MinBalanceRequired)
	}
	if !(0 < p.TP1Pct && p.TP1Pct < p.TP2Pct && p.TP2Pct < p.TP3Pct) {
		return fmt.Errorf("take-profit percents must satisfy 0 < tp1 < tp2 < tp3, got %v/%v/%v", p.TP1Pct, p.TP2Pct, p.TP3Pct)
	}
	if p.SLPct <= 0 {
		return fmt.Errorf("slPct must be positive, got %v", p.SLPct)
	}
	if p.TrailingActivationPct <= 0 {
		return fmt.Errorf("trailingActivationPct must be positive, got %v", p.TrailingActivationPct)
	}
	if p.TrailingCallbackPct <= 0 {
		return fmt.Errorf("trailingCallbackPct must be positive, got %v", p.TrailingCallbackPct)
	}
	if d := p.TPDistribution; d != [3]float64{} {
		sum := d[0] + d[1] + d[2]
		if d[0] <= 0 || d[1] <= 0 || d[2] <= 0 || sum != 100 {
			return fmt.Errorf("tpDistribution must be three positive percents summing to 100, got %v", d)
		}
	}
	return nil
}

// TPPcts returns the three take-profit distances in leg order.
func (p RiskProfile) TPPcts() [3]float64 {
	return [3]float64{p.TP1Pct, p.TP2Pct, p.TP3Pct}
}
