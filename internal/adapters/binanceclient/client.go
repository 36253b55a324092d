package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"neptunebot/internal/domain"
	"neptunebot/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	marginAsset = "USDT"
)

// Client implements ports.ExchangeClient for Binance USDT-margined futures,
// scoped to one account's credentials. The engine works with dash-form
// symbols ("BTC-USDT"); this adapter translates to Binance's "BTCUSDT".
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: API key and secret are required", ports.ErrConfigurationError)
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
	} else {
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{"baseURL": client.BaseURL, "testnet": cfg.UseTestnet})

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
	}, nil
}

// venueSymbol converts the engine's dash form to Binance's concatenated form.
func venueSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "-", "")
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1007: // Timeout waiting for response from backend server
			mappedErr = ports.ErrTimeout
		case -1021: // Timestamp outside of recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Invalid signature
			mappedErr = ports.ErrAuthenticationFailed
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -2011: // Cancel order rejected
			mappedErr = ports.ErrOrderCancelFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014, -2015: // API-key format invalid / invalid key, IP or permissions
			mappedErr = ports.ErrInvalidAPIKeys
		case -2019, -3005, -3041, -4047: // Margin or balance insufficient
			mappedErr = ports.ErrInsufficientFunds
		case -2022: // ReduceOnly order rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -4003, -4014, -4015: // Qty/price/leverage out of range
			mappedErr = ports.ErrInvalidRequest
		case -4044: // Position not found
			mappedErr = ports.ErrPositionNotFound
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// GetContractSpec retrieves precision and minimum-size metadata for a symbol.
func (c *Client) GetContractSpec(ctx context.Context, symbol string) (*domain.ContractSpec, error) {
	op := "GetContractSpec"
	info, err := c.futuresClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	venue := venueSymbol(symbol)
	for _, s := range info.Symbols {
		if s.Symbol != venue {
			continue
		}
		spec := &domain.ContractSpec{
			Symbol:             symbol,
			PricePrecision:     s.PricePrecision,
			QuantityPrecision:  s.QuantityPrecision,
			ContractMultiplier: 1,
		}
		if f := s.LotSizeFilter(); f != nil {
			spec.MinQuantity, _ = strconv.ParseFloat(f.MinQuantity, 64)
		}
		if f := s.MinNotionalFilter(); f != nil {
			spec.MinNotional, _ = strconv.ParseFloat(f.Notional, 64)
		}
		c.logger.Debug(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "pricePrecision": spec.PricePrecision, "quantityPrecision": spec.QuantityPrecision})
		return spec, nil
	}

	err = fmt.Errorf("%w: symbol %s not listed on exchange", ports.ErrNotFound, symbol)
	c.logger.Error(ctx, err, op+" failed", map[string]interface{}{"symbol": symbol})
	return nil, err
}

// GetMarkPrice retrieves the current mark price for a given symbol.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetMarkPrice"
	tickers, err := c.futuresClient.NewPremiumIndexService().Symbol(venueSymbol(symbol)).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		err := fmt.Errorf("no price data returned for symbol %s", symbol)
		return 0, c.handleError(ctx, err, op)
	}

	price, err := strconv.ParseFloat(tickers[0].MarkPrice, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", tickers[0].MarkPrice, err)
		return 0, c.handleError(ctx, parseErr, op)
	}
	return price, nil
}

// GetBalance retrieves the account's available and total USDT margin.
func (c *Client) GetBalance(ctx context.Context) (ports.Balance, error) {
	op := "GetBalance"
	account, err := c.futuresClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return ports.Balance{}, c.handleError(ctx, err, op)
	}

	for _, asset := range account.Assets {
		if asset.Asset != marginAsset {
			continue
		}
		available, err := strconv.ParseFloat(asset.AvailableBalance, 64)
		if err != nil {
			parseErr := fmt.Errorf("could not parse available balance '%s': %w", asset.AvailableBalance, err)
			return ports.Balance{}, c.handleError(ctx, parseErr, op)
		}
		total, err := strconv.ParseFloat(asset.WalletBalance, 64)
		if err != nil {
			parseErr := fmt.Errorf("could not parse wallet balance '%s': %w", asset.WalletBalance, err)
			return ports.Balance{}, c.handleError(ctx, parseErr, op)
		}
		return ports.Balance{Available: available, Total: total}, nil
	}

	err = fmt.Errorf("asset %s not found in account balance", marginAsset)
	return ports.Balance{}, c.handleError(ctx, err, op)
}

// GetOpenPositions lists the account's open positions. An empty symbol lists
// all of them.
func (c *Client) GetOpenPositions(ctx context.Context, symbol string) ([]ports.PositionSnapshot, error) {
	op := "GetOpenPositions"
	svc := c.futuresClient.NewGetPositionRiskService()
	if symbol != "" {
		svc = svc.Symbol(venueSymbol(symbol))
	}
	positions, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	var snapshots []ports.PositionSnapshot
	for _, p := range positions {
		amt, _ := strconv.ParseFloat(p.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		side := domain.Long
		if amt < 0 {
			side = domain.Short
			amt = -amt
		}
		entryPrice, _ := strconv.ParseFloat(p.EntryPrice, 64)
		markPrice, _ := strconv.ParseFloat(p.MarkPrice, 64)
		pnl, _ := strconv.ParseFloat(p.UnRealizedProfit, 64)
		leverage, _ := strconv.Atoi(p.Leverage)

		snapshots = append(snapshots, ports.PositionSnapshot{
			Symbol:        engineSymbol(p.Symbol),
			Side:          side,
			Quantity:      amt,
			EntryPrice:    entryPrice,
			MarkPrice:     markPrice,
			UnrealizedPnL: pnl,
			Leverage:      leverage,
		})
	}
	return snapshots, nil
}

// GetOpenOrders lists the account's resting orders for a symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]ports.OpenOrder, error) {
	op := "GetOpenOrders"
	orders, err := c.futuresClient.NewListOpenOrdersService().Symbol(venueSymbol(symbol)).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	out := make([]ports.OpenOrder, 0, len(orders))
	for _, o := range orders {
		quantity, _ := strconv.ParseFloat(o.OrigQuantity, 64)
		stopPrice, _ := strconv.ParseFloat(o.StopPrice, 64)
		callbackRate, _ := strconv.ParseFloat(o.PriceRate, 64)
		out = append(out, ports.OpenOrder{
			OrderID:       o.OrderID,
			ClientOrderID: o.ClientOrderID,
			Symbol:        engineSymbol(o.Symbol),
			Type:          string(o.Type),
			Side:          domain.OrderSide(o.Side),
			Quantity:      quantity,
			StopPrice:     stopPrice,
			CallbackRate:  callbackRate,
		})
	}
	return out, nil
}

// SetIsolatedMargin switches the symbol to isolated margin accounting. The
// exchange rejects a no-op change with code -4046; that counts as success.
func (c *Client) SetIsolatedMargin(ctx context.Context, symbol string) error {
	op := "SetIsolatedMargin"
	err := c.futuresClient.NewChangeMarginTypeService().
		Symbol(venueSymbol(symbol)).
		MarginType(futures.MarginTypeIsolated).
		Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == -4046 { // No need to change margin type
			return nil
		}
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol})
	return nil
}

// SetLeverage sets the leverage for a specific symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	op := "SetLeverage"
	_, err := c.futuresClient.NewChangeLeverageService().
		Symbol(venueSymbol(symbol)).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "leverage": leverage})
	return nil
}

// PlaceMarketOrder places a market order.
// The account runs in one-way position mode, so posSide is informational
// here; direction is fully captured by side.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, posSide domain.PositionSide, quantity, clientOrderID string) (*ports.OrderResponse, error) {
	op := "PlaceMarketOrder"
	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(venueSymbol(symbol)).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(quantity).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateOrderResponse(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "side": side, "quantity": quantity, "orderID": resp.OrderID, "avgPrice": resp.AvgPrice})
	return resp, nil
}

// PlaceStopMarketOrder places a reduce-only stop-market order for part or all
// of the position.
func (c *Client) PlaceStopMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, posSide domain.PositionSide, quantity, stopPrice, clientOrderID string) (*ports.OrderResponse, error) {
	op := "PlaceStopMarketOrder"
	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(venueSymbol(symbol)).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeStopMarket).
		Quantity(quantity).
		StopPrice(stopPrice).
		ReduceOnly(true).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateOrderResponse(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "side": side, "quantity": quantity, "stopPrice": stopPrice, "orderID": resp.OrderID})
	return resp, nil
}

// PlaceTakeProfitMarketOrder places a reduce-only take-profit-market order.
func (c *Client) PlaceTakeProfitMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, posSide domain.PositionSide, quantity, stopPrice, clientOrderID string) (*ports.OrderResponse, error) {
	op := "PlaceTakeProfitMarketOrder"
	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(venueSymbol(symbol)).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeTakeProfitMarket).
		Quantity(quantity).
		StopPrice(stopPrice).
		ReduceOnly(true).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateOrderResponse(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "side": side, "quantity": quantity, "stopPrice": stopPrice, "orderID": resp.OrderID, "status": resp.Status})
	return resp, nil
}

// PlaceTrailingStopOrder places a reduce-only trailing-stop-market order
// arming at activationPrice with the given percentage callback.
func (c *Client) PlaceTrailingStopOrder(ctx context.Context, symbol string, side domain.OrderSide, posSide domain.PositionSide, quantity, activationPrice, callbackRate, clientOrderID string) (*ports.OrderResponse, error) {
	op := "PlaceTrailingStopOrder"
	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(venueSymbol(symbol)).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeTrailingStopMarket).
		Quantity(quantity).
		ActivationPrice(activationPrice).
		CallbackRate(callbackRate).
		ReduceOnly(true).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateOrderResponse(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "side": side, "quantity": quantity, "activationPrice": activationPrice, "callbackRate": callbackRate, "orderID": resp.OrderID})
	return resp, nil
}

// CancelOrder cancels an open order on Binance.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	op := "CancelOrder"
	c.logger.Debug(ctx, "Attempting to cancel order", map[string]interface{}{"symbol": symbol, "orderID": orderID})

	res, err := c.futuresClient.NewCancelOrderService().
		Symbol(venueSymbol(symbol)).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	// CancelOrderResponse is not a CreateOrderResponse; copy the shared fields.
	createOrderResp := &futures.CreateOrderResponse{
		OrderID:       res.OrderID,
		Symbol:        res.Symbol,
		ClientOrderID: res.ClientOrderID,
		Price:         res.Price,
		OrigQuantity:  res.OrigQuantity,
		Status:        res.Status,
		Type:          res.Type,
		Side:          res.Side,
	}

	resp := translateOrderResponse(createOrderResp)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "orderID": orderID, "status": resp.Status})
	return resp, nil
}

// --- Translation Helpers ---

// engineSymbol converts Binance's concatenated form back to the engine's
// dash form, assuming USDT-margined contracts.
func engineSymbol(venue string) string {
	if base, ok := strings.CutSuffix(venue, marginAsset); ok {
		return base + "-" + marginAsset
	}
	return venue
}

func translateOrderResponse(order *futures.CreateOrderResponse) *ports.OrderResponse {
	if order == nil {
		return nil
	}
	price, _ := strconv.ParseFloat(order.Price, 64)
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	origQty, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	return &ports.OrderResponse{
		OrderID:       order.OrderID,
		Symbol:        engineSymbol(order.Symbol),
		ClientOrderID: order.ClientOrderID,
		Price:         price,
		AvgPrice:      avgPrice,
		OrigQuantity:  origQty,
		ExecutedQty:   execQty,
		Status:        string(order.Status),
		Type:          string(order.Type),
		Side:          string(order.Side),
		Timestamp:     time.UnixMilli(order.UpdateTime),
	}
}
