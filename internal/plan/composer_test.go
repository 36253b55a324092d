package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neptunebot/internal/domain"
)

func testProfile() domain.RiskProfile {
	return domain.RiskProfile{
		MarginPerTrade:        10,
		Leverage:              15,
		MinBalanceRequired:    50,
		TP1Pct:                2.5,
		TP2Pct:                4.0,
		TP3Pct:                6.0,
		SLPct:                 2.0,
		TrailingActivationPct: 2.5,
		TrailingCallbackPct:   1.0,
	}
}

func testSpec() *domain.ContractSpec {
	return &domain.ContractSpec{
		Symbol:             "XRP-USDT",
		PricePrecision:     4,
		QuantityPrecision:  1,
		MinQuantity:        0.1,
		MinNotional:        1,
		ContractMultiplier: 1,
	}
}

func TestCompose_ShortScenario(t *testing.T) {
	// margin=10, leverage=15, entry=1.56, SHORT:
	// quantity = 150/1.56 = 96.15..., TP1 = 1.56*0.975, SL = 1.56*1.02
	p, err := Compose(domain.Short, testProfile(), testSpec(), 1.56)
	require.NoError(t, err)

	assert.Equal(t, 96.1, p.Quantity)
	assert.Equal(t, domain.Short, p.Side)

	tp1 := p.Leg(domain.LegTP1)
	require.NotNil(t, tp1)
	assert.Equal(t, 1.521, tp1.TriggerPrice)

	sl := p.Leg(domain.LegStopLoss)
	require.NotNil(t, sl)
	assert.Equal(t, 1.5912, sl.TriggerPrice)
	assert.Equal(t, p.Quantity, sl.Quantity)

	trailing := p.Leg(domain.LegTrailing)
	require.NotNil(t, trailing)
	assert.Equal(t, 1.0, trailing.CallbackRate)
	// SHORT: trailing arms below entry.
	assert.Equal(t, 1.521, trailing.TriggerPrice)
	assert.Equal(t, p.Quantity, trailing.Quantity)
}

func TestCompose_LongTriggerSides(t *testing.T) {
	p, err := Compose(domain.Long, testProfile(), testSpec(), 1.56)
	require.NoError(t, err)

	assert.Greater(t, p.Leg(domain.LegTP1).TriggerPrice, 1.56)
	assert.Greater(t, p.Leg(domain.LegTP2).TriggerPrice, p.Leg(domain.LegTP1).TriggerPrice)
	assert.Greater(t, p.Leg(domain.LegTP3).TriggerPrice, p.Leg(domain.LegTP2).TriggerPrice)
	assert.Less(t, p.Leg(domain.LegStopLoss).TriggerPrice, 1.56)
	assert.Greater(t, p.Leg(domain.LegTrailing).TriggerPrice, 1.56)
}

func TestCompose_TPQuantitiesSumExactly(t *testing.T) {
	specs := []struct {
		name         string
		distribution [3]float64
		markPrice    float64
	}{
		{name: "equal thirds", markPrice: 1.56},
		{name: "configured 30/35/35", distribution: [3]float64{30, 35, 35}, markPrice: 1.56},
		{name: "awkward precision", markPrice: 0.07},
	}

	for _, tc := range specs {
		t.Run(tc.name, func(t *testing.T) {
			profile := testProfile()
			profile.TPDistribution = tc.distribution
			p, err := Compose(domain.Long, profile, testSpec(), tc.markPrice)
			require.NoError(t, err)

			sum := p.Leg(domain.LegTP1).Quantity + p.Leg(domain.LegTP2).Quantity + p.Leg(domain.LegTP3).Quantity
			assert.InDelta(t, p.Quantity, sum, 1e-9, "TP rungs must cover the full entry quantity")
		})
	}
}

func TestCompose_MinimumEntryFoldsLadder(t *testing.T) {
	// margin=10, leverage=10, mark=100000: quantity 0.001 is exactly the
	// exchange minimum. Equal thirds would round to 0/0/0.001; the zero
	// rungs must be dropped so no unplaceable order reaches the exchange.
	profile := testProfile()
	profile.MarginPerTrade = 10
	profile.Leverage = 10

	spec := &domain.ContractSpec{
		Symbol:            "BTC-USDT",
		PricePrecision:    1,
		QuantityPrecision: 3,
		MinQuantity:       0.001,
		MinNotional:       5,
	}

	p, err := Compose(domain.Long, profile, spec, 100000)
	require.NoError(t, err)
	assert.Equal(t, 0.001, p.Quantity)

	assert.Nil(t, p.Leg(domain.LegTP1))
	assert.Nil(t, p.Leg(domain.LegTP2))
	tp3 := p.Leg(domain.LegTP3)
	require.NotNil(t, tp3)
	assert.Equal(t, 0.001, tp3.Quantity)

	for _, leg := range p.Legs {
		assert.GreaterOrEqual(t, leg.Quantity, spec.MinQuantity, string(leg.Kind))
	}
}

func TestCompose_SubMinimumRungsFoldForward(t *testing.T) {
	// quantity 0.021 with min 0.01: equal thirds give 0.007 per rung, all
	// below the minimum, so everything collapses onto one placeable rung.
	profile := testProfile()
	profile.MarginPerTrade = 21
	profile.Leverage = 1

	spec := &domain.ContractSpec{
		Symbol:            "ETH-USDT",
		PricePrecision:    2,
		QuantityPrecision: 3,
		MinQuantity:       0.01,
		MinNotional:       5,
	}

	p, err := Compose(domain.Long, profile, spec, 1000)
	require.NoError(t, err)
	assert.Equal(t, 0.021, p.Quantity)

	var tpSum float64
	tpRungs := 0
	for _, kind := range []domain.LegKind{domain.LegTP1, domain.LegTP2, domain.LegTP3} {
		if leg := p.Leg(kind); leg != nil {
			tpRungs++
			tpSum += leg.Quantity
			assert.GreaterOrEqual(t, leg.Quantity, spec.MinQuantity)
		}
	}
	assert.Equal(t, 1, tpRungs)
	assert.InDelta(t, p.Quantity, tpSum, 1e-9, "folded rungs still cover the full entry quantity")
}

func TestCompose_QuantityTooSmall(t *testing.T) {
	// margin=1, leverage=1, mark=100000: raw quantity 0.00001 is below the
	// exchange minimum. Must fail, never silently bump.
	profile := testProfile()
	profile.MarginPerTrade = 1
	profile.Leverage = 1

	spec := &domain.ContractSpec{
		Symbol:            "BTC-USDT",
		PricePrecision:    1,
		QuantityPrecision: 5,
		MinQuantity:       0.001,
		MinNotional:       5,
	}

	p, err := Compose(domain.Long, profile, spec, 100000)
	assert.Nil(t, p)

	var sizingErr *SizingError
	require.ErrorAs(t, err, &sizingErr)
	assert.Equal(t, ReasonQuantityTooSmall, sizingErr.Reason)
}

func TestCompose_NotionalTooSmall(t *testing.T) {
	profile := testProfile()
	profile.MarginPerTrade = 2
	profile.Leverage = 1

	spec := testSpec()
	spec.MinNotional = 5
	spec.MinQuantity = 0.1

	p, err := Compose(domain.Long, profile, spec, 1.0)
	assert.Nil(t, p)

	var sizingErr *SizingError
	require.ErrorAs(t, err, &sizingErr)
	assert.Equal(t, ReasonNotionalTooSmall, sizingErr.Reason)
}

func TestCompose_InvalidProfile(t *testing.T) {
	profile := testProfile()
	profile.TP2Pct = profile.TP1Pct // violates tp1 < tp2

	_, err := Compose(domain.Long, profile, testSpec(), 1.56)
	assert.Error(t, err)
}

func TestCompose_InvalidMarkPrice(t *testing.T) {
	_, err := Compose(domain.Long, testProfile(), testSpec(), 0)
	assert.Error(t, err)
}
