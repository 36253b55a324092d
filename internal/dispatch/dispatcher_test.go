package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neptunebot/internal/domain"
	"neptunebot/internal/executor"
	"neptunebot/internal/ports"
	"neptunebot/internal/registry"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// stubClient is the minimal exchange surface for fan-out tests: a fixed
// balance and mark price, recording entry orders. Failures are injected per
// stub.
type stubClient struct {
	mu          sync.Mutex
	balanceErr  error
	entryErr    error
	entryCalls  int
	entryDelay  time.Duration
	entryPanics bool
}

func (s *stubClient) GetContractSpec(ctx context.Context, symbol string) (*domain.ContractSpec, error) {
	return &domain.ContractSpec{Symbol: symbol, PricePrecision: 2, QuantityPrecision: 1, MinQuantity: 0.1, MinNotional: 5}, nil
}

func (s *stubClient) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	return 100, nil
}

func (s *stubClient) GetBalance(ctx context.Context) (ports.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balanceErr != nil {
		return ports.Balance{}, s.balanceErr
	}
	return ports.Balance{Available: 1000, Total: 1000}, nil
}

func (s *stubClient) GetOpenPositions(ctx context.Context, symbol string) ([]ports.PositionSnapshot, error) {
	return nil, nil
}

func (s *stubClient) GetOpenOrders(ctx context.Context, symbol string) ([]ports.OpenOrder, error) {
	return nil, nil
}

func (s *stubClient) SetIsolatedMargin(ctx context.Context, symbol string) error { return nil }

func (s *stubClient) SetLeverage(ctx context.Context, symbol string, leverage int) error { return nil }

func (s *stubClient) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, posSide domain.PositionSide, quantity, clientOrderID string) (*ports.OrderResponse, error) {
	s.mu.Lock()
	s.entryCalls++
	err := s.entryErr
	delay := s.entryDelay
	panics := s.entryPanics
	s.mu.Unlock()
	if panics {
		panic("stub exchange blew up")
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return &ports.OrderResponse{OrderID: 1, Symbol: symbol, AvgPrice: 100, Status: "FILLED"}, nil
}

func (s *stubClient) PlaceStopMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, posSide domain.PositionSide, quantity, stopPrice, clientOrderID string) (*ports.OrderResponse, error) {
	return &ports.OrderResponse{OrderID: 2, Status: "NEW"}, nil
}

func (s *stubClient) PlaceTakeProfitMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, posSide domain.PositionSide, quantity, stopPrice, clientOrderID string) (*ports.OrderResponse, error) {
	return &ports.OrderResponse{OrderID: 3, Status: "NEW"}, nil
}

func (s *stubClient) PlaceTrailingStopOrder(ctx context.Context, symbol string, side domain.OrderSide, posSide domain.PositionSide, quantity, activationPrice, callbackRate, clientOrderID string) (*ports.OrderResponse, error) {
	return &ports.OrderResponse{OrderID: 4, Status: "NEW"}, nil
}

func (s *stubClient) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	return &ports.OrderResponse{OrderID: orderID, Status: "CANCELED"}, nil
}

var fastRetry = executor.RetryPolicy{MaxAttempts: 1, MinBackoff: time.Millisecond, MaxBackoff: time.Millisecond}

func profile() domain.RiskProfile {
	return domain.RiskProfile{
		MarginPerTrade: 100, Leverage: 10, MinBalanceRequired: 50,
		TP1Pct: 2, TP2Pct: 3.5, TP3Pct: 5, SLPct: 1.8,
		TrailingActivationPct: 2.5, TrailingCallbackPct: 1,
	}
}

func newDispatcher(t *testing.T, clients ...*stubClient) (*Dispatcher, *registry.Registry) {
	t.Helper()
	reg, err := registry.New(nopLogger{}, nil)
	require.NoError(t, err)

	names := []string{"alice", "bob", "carol", "dave"}
	execs := make([]*executor.Executor, 0, len(clients))
	for i, c := range clients {
		e, err := executor.New(names[i], names[i], c, profile(), reg, fastRetry, nopLogger{})
		require.NoError(t, err)
		execs = append(execs, e)
	}
	d, err := New(execs, nopLogger{})
	require.NoError(t, err)
	return d, reg
}

func open() domain.Intent {
	return domain.Intent{Kind: domain.IntentOpen, Side: domain.Long, Symbol: "ETH-USDT"}
}

func TestDispatch_ResultsInConfigurationOrder(t *testing.T) {
	// alice is slow; she must still come first in the results
	slow := &stubClient{entryDelay: 50 * time.Millisecond}
	fast := &stubClient{}
	d, _ := newDispatcher(t, slow, fast)

	results := d.Dispatch(context.Background(), open())
	require.Len(t, results, 2)
	assert.Equal(t, "alice", results[0].User)
	assert.Equal(t, "bob", results[1].User)
	assert.True(t, results[0].Success)
	assert.True(t, results[1].Success)
}

func TestDispatch_FailureIsolation(t *testing.T) {
	failing := &stubClient{entryErr: ports.ErrOrderPlacementFailed}
	healthy := &stubClient{}
	d, reg := newDispatcher(t, failing, healthy)

	results := d.Dispatch(context.Background(), open())
	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.ErrorIs(t, results[0].Err, ports.ErrOrderPlacementFailed)
	assert.True(t, results[1].Success)

	assert.Nil(t, reg.Get("alice", "ETH-USDT"))
	assert.NotNil(t, reg.Get("bob", "ETH-USDT"))
}

func TestDispatch_PanicIsolation(t *testing.T) {
	exploding := &stubClient{entryPanics: true}
	healthy := &stubClient{}
	d, _ := newDispatcher(t, exploding, healthy)

	results := d.Dispatch(context.Background(), open())
	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Err.Error(), "panicked")
	assert.True(t, results[1].Success)
}

func TestDispatch_DuplicateSignalOpensOnce(t *testing.T) {
	client := &stubClient{}
	d, _ := newDispatcher(t, client)

	first := d.Dispatch(context.Background(), open())
	require.True(t, first[0].Success)

	second := d.Dispatch(context.Background(), open())
	assert.True(t, second[0].Success, "repeat signal is a skip, not a failure")
	assert.Equal(t, "already open, skipped", second[0].Message)

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, 1, client.entryCalls)
}

func TestDispatch_CloseFansOut(t *testing.T) {
	a, b := &stubClient{}, &stubClient{}
	d, reg := newDispatcher(t, a, b)

	require.True(t, d.Dispatch(context.Background(), open())[0].Success)

	results := d.Dispatch(context.Background(), domain.Intent{Kind: domain.IntentClose, Symbol: "ETH-USDT", Scope: domain.CloseAll})
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.True(t, results[1].Success)
	assert.Nil(t, reg.Get("alice", "ETH-USDT"))
	assert.Nil(t, reg.Get("bob", "ETH-USDT"))
}

func TestByIdentity(t *testing.T) {
	d, _ := newDispatcher(t, &stubClient{}, &stubClient{})
	require.NotNil(t, d.ByIdentity("bob"))
	assert.Equal(t, "bob", d.ByIdentity("bob").User())
	assert.Nil(t, d.ByIdentity("nobody"))
}
