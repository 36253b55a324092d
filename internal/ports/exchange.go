package ports

import (
	"context"
	"time"

	"neptunebot/internal/domain"
)

// Balance holds an account's USDT margin balance.
type Balance struct {
	Available float64
	Total     float64
}

// OrderResponse represents the essential details returned after placing an order.
type OrderResponse struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Price         float64 // order price (0 for market orders initially)
	AvgPrice      float64 // average filled price
	OrigQuantity  float64
	ExecutedQty   float64
	Status        string // e.g. NEW, FILLED, CANCELED
	Type          string // e.g. MARKET, STOP_MARKET
	Side          string
	Timestamp     time.Time
}

// OpenOrder is a resting conditional order as reported by the exchange.
type OpenOrder struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Type          string // STOP_MARKET, TAKE_PROFIT_MARKET, TRAILING_STOP_MARKET
	Side          domain.OrderSide
	Quantity      float64
	StopPrice     float64
	CallbackRate  float64
}

// PositionSnapshot is the exchange's view of one open position.
type PositionSnapshot struct {
	Symbol        string
	Side          domain.PositionSide
	Quantity      float64 // absolute position amount
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Leverage      int
}

// ExchangeClient is the functional surface of the derivatives exchange,
// scoped to a single account (one client per configured account, carrying
// that account's credentials). Symbols are in the engine's dash form
// ("BTC-USDT"); adapters translate to the venue's native form.
type ExchangeClient interface {
	// GetContractSpec retrieves precision and minimum-size metadata for a symbol.
	GetContractSpec(ctx context.Context, symbol string) (*domain.ContractSpec, error)

	// GetMarkPrice retrieves the current mark price for a symbol.
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)

	// GetBalance retrieves the account's available and total USDT margin.
	GetBalance(ctx context.Context) (Balance, error)

	// GetOpenPositions lists the account's open positions. An empty symbol
	// lists all of them.
	GetOpenPositions(ctx context.Context, symbol string) ([]PositionSnapshot, error)

	// GetOpenOrders lists the account's resting orders for a symbol.
	GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)

	// SetIsolatedMargin switches the symbol to isolated margin accounting.
	SetIsolatedMargin(ctx context.Context, symbol string) error

	// SetLeverage sets the leverage for a symbol.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// PlaceMarketOrder places a market order. Quantity is pre-formatted to
	// the contract's precision.
	PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, posSide domain.PositionSide, quantity, clientOrderID string) (*OrderResponse, error)

	// PlaceStopMarketOrder places a stop-market order triggering at stopPrice.
	PlaceStopMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, posSide domain.PositionSide, quantity, stopPrice, clientOrderID string) (*OrderResponse, error)

	// PlaceTakeProfitMarketOrder places a take-profit-market order triggering at stopPrice.
	PlaceTakeProfitMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, posSide domain.PositionSide, quantity, stopPrice, clientOrderID string) (*OrderResponse, error)

	// PlaceTrailingStopOrder places a trailing-stop-market order that arms at
	// activationPrice and trails with the given percentage callback.
	PlaceTrailingStopOrder(ctx context.Context, symbol string, side domain.OrderSide, posSide domain.PositionSide, quantity, activationPrice, callbackRate, clientOrderID string) (*OrderResponse, error)

	// CancelOrder cancels an open order by its exchange id.
	CancelOrder(ctx context.Context, symbol string, orderID int64) (*OrderResponse, error)
}
