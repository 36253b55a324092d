package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neptunebot/internal/domain"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(Config{
		DBPath: filepath.Join(t.TempDir(), "test.db"),
		Logger: nopLogger{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func samplePosition(user, symbol string) *domain.Position {
	return &domain.Position{
		User:              user,
		Symbol:            symbol,
		Side:              domain.Long,
		OpenQuantity:      9.0,
		RemainingQuantity: 9.0,
		EntryPrice:        100.5,
		Leverage:          10,
		State:             domain.StateOpen,
		OpenedAt:          time.Now().UTC().Truncate(time.Second),
		Legs: []domain.Leg{
			{Kind: domain.LegTP1, OrderID: 11, ClientOrderID: "nb-tp1-a", TriggerPrice: 102.5, Quantity: 3.0, Status: domain.LegPlaced},
			{Kind: domain.LegTP2, OrderID: 12, ClientOrderID: "nb-tp2-a", TriggerPrice: 104.0, Quantity: 3.0, Status: domain.LegPlaced},
			{Kind: domain.LegTP3, OrderID: 13, ClientOrderID: "nb-tp3-a", TriggerPrice: 105.5, Quantity: 3.0, Status: domain.LegPlaced},
			{Kind: domain.LegStopLoss, OrderID: 14, ClientOrderID: "nb-sl-a", TriggerPrice: 98.7, Quantity: 9.0, Status: domain.LegPlaced},
			{Kind: domain.LegTrailing, OrderID: 15, ClientOrderID: "nb-trail-a", TriggerPrice: 103.0, Quantity: 9.0, CallbackRate: 1.0, Status: domain.LegPlaced},
		},
	}
}

func TestSaveAndFindLive(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	pos := samplePosition("alice", "BTC-USDT")
	id, err := repo.Save(ctx, pos)
	require.NoError(t, err)
	require.NotZero(t, id)
	pos.ID = id

	live, err := repo.FindLive(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)

	got := live[0]
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "alice", got.User)
	assert.Equal(t, "BTC-USDT", got.Symbol)
	assert.Equal(t, domain.Long, got.Side)
	assert.Equal(t, domain.StateOpen, got.State)
	assert.Equal(t, 9.0, got.RemainingQuantity)
	require.Len(t, got.Legs, 5)
	assert.Equal(t, domain.LegTP1, got.Legs[0].Kind)
	assert.Equal(t, int64(15), got.Legs[4].OrderID)
	assert.Equal(t, 1.0, got.Legs[4].CallbackRate)
}

func TestUpdateRewritesLegs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	pos := samplePosition("bob", "ETH-USDT")
	id, err := repo.Save(ctx, pos)
	require.NoError(t, err)
	pos.ID = id

	// TP1 filled: quantity down, trailing re-synced to the remainder
	pos.State = domain.StatePartiallyClosed
	pos.RemainingQuantity = 6.0
	pos.Legs[0].Status = domain.LegFilled
	pos.Legs[4].Quantity = 6.0
	require.NoError(t, repo.Update(ctx, pos))

	live, err := repo.FindLive(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)
	got := live[0]
	assert.Equal(t, domain.StatePartiallyClosed, got.State)
	assert.Equal(t, 6.0, got.RemainingQuantity)
	assert.Equal(t, domain.LegFilled, got.Legs[0].Status)
	assert.Equal(t, 6.0, got.Legs[4].Quantity)
}

func TestFindLiveExcludesClosed(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	open := samplePosition("alice", "BTC-USDT")
	openID, err := repo.Save(ctx, open)
	require.NoError(t, err)
	open.ID = openID

	closed := samplePosition("alice", "ETH-USDT")
	closedID, err := repo.Save(ctx, closed)
	require.NoError(t, err)
	closed.ID = closedID
	closed.State = domain.StateClosed
	closed.RemainingQuantity = 0
	closed.ClosedAt = time.Now().UTC()
	require.NoError(t, repo.Update(ctx, closed))

	live, err := repo.FindLive(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, openID, live[0].ID)
}

func TestFindLiveIncludesClosing(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	pos := samplePosition("carol", "SOL-USDT")
	id, err := repo.Save(ctx, pos)
	require.NoError(t, err)
	pos.ID = id
	pos.State = domain.StateClosing
	require.NoError(t, repo.Update(ctx, pos))

	live, err := repo.FindLive(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, domain.StateClosing, live[0].State)
}

func TestUpdateUnknownPosition(t *testing.T) {
	repo := newTestRepo(t)
	pos := samplePosition("alice", "BTC-USDT")
	pos.ID = 999
	err := repo.Update(context.Background(), pos)
	require.Error(t, err)
}
