// Package executor runs trading intents against a single account: sizing via
// the account's risk profile, entry placement, the protective leg ladder and
// position closes. One executor per configured account; the dispatcher fans
// intents out across them.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"neptunebot/internal/domain"
	"neptunebot/internal/plan"
	"neptunebot/internal/ports"
	"neptunebot/internal/registry"
)

// Result is the outcome of one intent on one account.
type Result struct {
	User     string
	Success  bool
	Position *domain.Position
	Message  string // human-readable summary for status replies
	Err      error
}

// Executor executes intents for one account.
type Executor struct {
	user     string
	identity string
	client   ports.ExchangeClient
	profile  domain.RiskProfile
	registry *registry.Registry
	retry    RetryPolicy
	logger   ports.Logger

	halted atomic.Bool

	specMu sync.Mutex
	specs  map[string]*domain.ContractSpec
}

// New creates an executor for one account.
func New(user, identity string, client ports.ExchangeClient, profile domain.RiskProfile, reg *registry.Registry, retry RetryPolicy, logger ports.Logger) (*Executor, error) {
	if user == "" {
		return nil, fmt.Errorf("user is required for executor")
	}
	if client == nil || reg == nil || logger == nil {
		return nil, fmt.Errorf("client, registry and logger are required for executor")
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk profile for %s: %w", user, err)
	}
	if identity == "" {
		identity = user
	}
	return &Executor{
		user:     user,
		identity: identity,
		client:   client,
		profile:  profile,
		registry: reg,
		retry:    retry,
		logger:   logger,
		specs:    make(map[string]*domain.ContractSpec),
	}, nil
}

// User returns the account's display name.
func (e *Executor) User() string { return e.user }

// Identity returns the messaging identity commands are routed by.
func (e *Executor) Identity() string { return e.identity }

// Halted reports whether the account stopped accepting intents after an
// authentication failure.
func (e *Executor) Halted() bool { return e.halted.Load() }

// ExecuteOpen opens a position for an open intent: balance gate, duplicate
// check, sizing, isolated margin and leverage setup, market entry, then the
// TP ladder, stop loss and trailing stop.
func (e *Executor) ExecuteOpen(ctx context.Context, intent domain.Intent) Result {
	if e.halted.Load() {
		return e.failure(fmt.Errorf("%w: %s", ports.ErrAccountHalted, e.user), "account halted after authentication failure")
	}

	fields := map[string]interface{}{"user": e.user, "symbol": intent.Symbol, "side": intent.Side}

	var balance ports.Balance
	err := e.retry.Do(ctx, func() error {
		var err error
		balance, err = e.client.GetBalance(ctx)
		return err
	})
	if err != nil {
		e.noteAuthFailure(ctx, err)
		return e.failure(err, "balance check failed")
	}
	if balance.Available < e.profile.MinBalanceRequired {
		e.logger.Warn(ctx, "ExecuteOpen: balance below minimum, skipping", map[string]interface{}{
			"user": e.user, "available": balance.Available, "required": e.profile.MinBalanceRequired,
		})
		return e.failure(
			fmt.Errorf("%w: available %.2f below minimum %.2f", ports.ErrInsufficientFunds, balance.Available, e.profile.MinBalanceRequired),
			fmt.Sprintf("insufficient balance (%.2f < %.2f)", balance.Available, e.profile.MinBalanceRequired),
		)
	}

	pos, err := e.registry.TryBegin(e.user, intent.Symbol, intent.Side)
	if err != nil {
		if errors.Is(err, ports.ErrDuplicatePosition) {
			// A live position for the key is a no-op skip, not a failure.
			e.logger.Info(ctx, "ExecuteOpen: position already live, skipping", fields)
			return Result{User: e.user, Success: true, Message: "already open, skipped"}
		}
		return e.failure(err, "could not reserve position slot")
	}

	spec, err := e.contractSpec(ctx, intent.Symbol)
	if err != nil {
		e.registry.Abort(ctx, pos)
		e.noteAuthFailure(ctx, err)
		return e.failure(err, "contract metadata unavailable")
	}

	var markPrice float64
	err = e.retry.Do(ctx, func() error {
		var err error
		markPrice, err = e.client.GetMarkPrice(ctx, intent.Symbol)
		return err
	})
	if err != nil {
		e.registry.Abort(ctx, pos)
		return e.failure(err, "mark price unavailable")
	}

	orderPlan, err := plan.Compose(intent.Side, e.profile, spec, markPrice)
	if err != nil {
		e.registry.Abort(ctx, pos)
		var sizing *plan.SizingError
		if errors.As(err, &sizing) {
			// Never bump undersized orders up to the venue minimum.
			e.logger.Warn(ctx, "ExecuteOpen: computed size below venue minimum, skipping", map[string]interface{}{
				"user": e.user, "symbol": intent.Symbol, "reason": sizing.Reason, "computed": sizing.Computed, "minimum": sizing.Minimum,
			})
			return e.failure(err, "position size below venue minimum")
		}
		return e.failure(err, "order plan rejected")
	}

	if err := e.prepareSymbol(ctx, intent.Symbol, orderPlan.Leverage); err != nil {
		e.registry.Abort(ctx, pos)
		e.noteAuthFailure(ctx, err)
		return e.failure(err, "margin/leverage setup failed")
	}

	entrySide := intent.Side.EntrySide()
	quantityStr := formatFloat(orderPlan.Quantity, spec.QuantityPrecision)
	var entry *ports.OrderResponse
	err = e.retry.Do(ctx, func() error {
		var err error
		entry, err = e.client.PlaceMarketOrder(ctx, intent.Symbol, entrySide, intent.Side, quantityStr, newClientOrderID("entry"))
		return err
	})
	if err != nil {
		e.registry.Abort(ctx, pos)
		e.noteAuthFailure(ctx, err)
		e.logger.Error(ctx, err, "ExecuteOpen: entry order failed", fields)
		return e.failure(err, "entry order failed")
	}

	entryPrice := entry.AvgPrice
	if entryPrice == 0 {
		entryPrice = markPrice
	}
	entryQty := entry.ExecutedQty
	if entryQty == 0 {
		entryQty = orderPlan.Quantity
	}
	if err := pos.MarkOpen(entryPrice, entryQty); err != nil {
		return e.failure(err, "position state error")
	}

	e.logger.Info(ctx, "ExecuteOpen: entry filled", map[string]interface{}{
		"user": e.user, "symbol": intent.Symbol, "side": intent.Side,
		"quantity": entryQty, "entryPrice": entryPrice, "leverage": orderPlan.Leverage,
	})

	e.placeLegs(ctx, pos, orderPlan, spec)

	if err := e.registry.Commit(ctx, pos); err != nil {
		return e.failure(err, "position commit failed")
	}
	return Result{
		User:     e.user,
		Success:  true,
		Position: pos,
		Message:  fmt.Sprintf("opened %s %s qty %s @ %.*f", intent.Side, intent.Symbol, quantityStr, spec.PricePrecision, entryPrice),
	}
}

// placeLegs places the protective ladder. A leg that fails to place is
// attached pending and the monitor re-places it; the position itself is
// already live so this never unwinds the entry.
func (e *Executor) placeLegs(ctx context.Context, pos *domain.Position, orderPlan *domain.OrderPlan, spec *domain.ContractSpec) {
	exitSide := pos.Side.ExitSide()
	for _, pl := range orderPlan.Legs {
		leg := domain.Leg{
			Kind:          pl.Kind,
			ClientOrderID: newClientOrderID(legTag(pl.Kind)),
			TriggerPrice:  pl.TriggerPrice,
			Quantity:      pl.Quantity,
			CallbackRate:  pl.CallbackRate,
		}
		resp, err := e.placeLegOrder(ctx, pos.Symbol, exitSide, pos.Side, leg, spec)
		if err != nil {
			e.noteAuthFailure(ctx, err)
			e.logger.Error(ctx, err, "ExecuteOpen: leg placement failed, leaving for monitor", map[string]interface{}{
				"user": e.user, "symbol": pos.Symbol, "leg": pl.Kind,
			})
			pos.AttachPendingLeg(leg)
			continue
		}
		leg.OrderID = resp.OrderID
		pos.AttachLeg(leg)
	}
}

// placeLegOrder places the venue order for a single leg.
func (e *Executor) placeLegOrder(ctx context.Context, symbol string, side domain.OrderSide, posSide domain.PositionSide, leg domain.Leg, spec *domain.ContractSpec) (*ports.OrderResponse, error) {
	qty := formatFloat(leg.Quantity, spec.QuantityPrecision)
	price := formatFloat(leg.TriggerPrice, spec.PricePrecision)

	var resp *ports.OrderResponse
	err := e.retry.Do(ctx, func() error {
		var err error
		switch leg.Kind {
		case domain.LegStopLoss:
			resp, err = e.client.PlaceStopMarketOrder(ctx, symbol, side, posSide, qty, price, leg.ClientOrderID)
		case domain.LegTrailing:
			callback := strconv.FormatFloat(leg.CallbackRate, 'f', 1, 64)
			resp, err = e.client.PlaceTrailingStopOrder(ctx, symbol, side, posSide, qty, price, callback, leg.ClientOrderID)
		default:
			resp, err = e.client.PlaceTakeProfitMarketOrder(ctx, symbol, side, posSide, qty, price, leg.ClientOrderID)
		}
		return err
	})
	return resp, err
}

// ExecuteClose closes the account's position in a symbol: cancel resting
// legs, market-close the remainder, release the slot. When the registry has
// no record it falls back to the exchange's view so manual or recovered
// positions still close.
func (e *Executor) ExecuteClose(ctx context.Context, intent domain.Intent) Result {
	if e.halted.Load() {
		return e.failure(fmt.Errorf("%w: %s", ports.ErrAccountHalted, e.user), "account halted after authentication failure")
	}

	pos, err := e.registry.BeginClose(ctx, e.user, intent.Symbol)
	if err == nil {
		return e.closeTracked(ctx, pos)
	}
	if errors.Is(err, ports.ErrNotFound) {
		return e.closeUntracked(ctx, intent.Symbol)
	}
	return e.failure(err, "position not closable")
}

func (e *Executor) closeTracked(ctx context.Context, pos *domain.Position) Result {
	for i := range pos.Legs {
		leg := &pos.Legs[i]
		if leg.Status != domain.LegPlaced || leg.OrderID == 0 {
			continue
		}
		err := e.retry.Do(ctx, func() error {
			_, err := e.client.CancelOrder(ctx, pos.Symbol, leg.OrderID)
			return err
		})
		if err != nil && !errors.Is(err, ports.ErrOrderNotFound) {
			e.logger.Warn(ctx, "ExecuteClose: leg cancel failed", map[string]interface{}{
				"user": e.user, "symbol": pos.Symbol, "leg": leg.Kind, "orderID": leg.OrderID, "error": err.Error(),
			})
		}
	}

	if pos.RemainingQuantity > 0 {
		spec, err := e.contractSpec(ctx, pos.Symbol)
		if err != nil {
			return e.failure(err, "contract metadata unavailable")
		}
		qty := formatFloat(pos.RemainingQuantity, spec.QuantityPrecision)
		err = e.retry.Do(ctx, func() error {
			_, err := e.client.PlaceMarketOrder(ctx, pos.Symbol, pos.Side.ExitSide(), pos.Side, qty, newClientOrderID("close"))
			return err
		})
		if err != nil {
			e.noteAuthFailure(ctx, err)
			e.logger.Error(ctx, err, "ExecuteClose: close order failed", map[string]interface{}{"user": e.user, "symbol": pos.Symbol})
			return e.failure(err, "close order failed")
		}
	}

	e.registry.CompleteClose(ctx, e.user, pos.Symbol)
	return Result{User: e.user, Success: true, Message: fmt.Sprintf("closed %s", pos.Symbol)}
}

func (e *Executor) closeUntracked(ctx context.Context, symbol string) Result {
	var snapshots []ports.PositionSnapshot
	err := e.retry.Do(ctx, func() error {
		var err error
		snapshots, err = e.client.GetOpenPositions(ctx, symbol)
		return err
	})
	if err != nil {
		e.noteAuthFailure(ctx, err)
		return e.failure(err, "position lookup failed")
	}
	if len(snapshots) == 0 {
		return e.failure(fmt.Errorf("%w: no open %s position for %s", ports.ErrNotFound, symbol, e.user), "no open position")
	}

	orders, err := e.client.GetOpenOrders(ctx, symbol)
	if err != nil {
		e.logger.Warn(ctx, "ExecuteClose: open order lookup failed", map[string]interface{}{"user": e.user, "symbol": symbol, "error": err.Error()})
	}
	for _, o := range orders {
		if _, err := e.client.CancelOrder(ctx, symbol, o.OrderID); err != nil && !errors.Is(err, ports.ErrOrderNotFound) {
			e.logger.Warn(ctx, "ExecuteClose: order cancel failed", map[string]interface{}{"user": e.user, "symbol": symbol, "orderID": o.OrderID, "error": err.Error()})
		}
	}

	spec, err := e.contractSpec(ctx, symbol)
	if err != nil {
		return e.failure(err, "contract metadata unavailable")
	}
	for _, snap := range snapshots {
		qty := formatFloat(snap.Quantity, spec.QuantityPrecision)
		err = e.retry.Do(ctx, func() error {
			_, err := e.client.PlaceMarketOrder(ctx, symbol, snap.Side.ExitSide(), snap.Side, qty, newClientOrderID("close"))
			return err
		})
		if err != nil {
			e.noteAuthFailure(ctx, err)
			return e.failure(err, "close order failed")
		}
	}
	e.logger.Info(ctx, "ExecuteClose: closed untracked exchange position", map[string]interface{}{"user": e.user, "symbol": symbol})
	return Result{User: e.user, Success: true, Message: fmt.Sprintf("closed %s", symbol)}
}

// Balance returns the account's margin balance.
func (e *Executor) Balance(ctx context.Context) (ports.Balance, error) {
	var balance ports.Balance
	err := e.retry.Do(ctx, func() error {
		var err error
		balance, err = e.client.GetBalance(ctx)
		return err
	})
	if err != nil {
		e.noteAuthFailure(ctx, err)
	}
	return balance, err
}

// Positions returns the exchange's view of the account's open positions.
func (e *Executor) Positions(ctx context.Context) ([]ports.PositionSnapshot, error) {
	var snapshots []ports.PositionSnapshot
	err := e.retry.Do(ctx, func() error {
		var err error
		snapshots, err = e.client.GetOpenPositions(ctx, "")
		return err
	})
	if err != nil {
		e.noteAuthFailure(ctx, err)
	}
	return snapshots, err
}

// prepareSymbol switches the symbol to isolated margin and sets leverage.
func (e *Executor) prepareSymbol(ctx context.Context, symbol string, leverage int) error {
	if err := e.retry.Do(ctx, func() error { return e.client.SetIsolatedMargin(ctx, symbol) }); err != nil {
		return fmt.Errorf("set isolated margin: %w", err)
	}
	if err := e.retry.Do(ctx, func() error { return e.client.SetLeverage(ctx, symbol, leverage) }); err != nil {
		return fmt.Errorf("set leverage: %w", err)
	}
	return nil
}

// contractSpec returns the cached contract spec for a symbol, fetching it on
// first use.
func (e *Executor) contractSpec(ctx context.Context, symbol string) (*domain.ContractSpec, error) {
	e.specMu.Lock()
	if spec, ok := e.specs[symbol]; ok {
		e.specMu.Unlock()
		return spec, nil
	}
	e.specMu.Unlock()

	var spec *domain.ContractSpec
	err := e.retry.Do(ctx, func() error {
		var err error
		spec, err = e.client.GetContractSpec(ctx, symbol)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.specMu.Lock()
	e.specs[symbol] = spec
	e.specMu.Unlock()
	return spec, nil
}

// noteAuthFailure halts the account on credential errors so later intents
// fail fast instead of hammering the exchange.
func (e *Executor) noteAuthFailure(ctx context.Context, err error) {
	if err == nil || !ports.IsAuthFailure(err) {
		return
	}
	if e.halted.CompareAndSwap(false, true) {
		e.logger.Error(ctx, err, "Account halted: authentication failure", map[string]interface{}{"user": e.user})
	}
}

func (e *Executor) failure(err error, message string) Result {
	return Result{User: e.user, Success: false, Message: message, Err: err}
}

func formatFloat(v float64, precision int) string {
	return strconv.FormatFloat(v, 'f', precision, 64)
}

func legTag(kind domain.LegKind) string {
	switch kind {
	case domain.LegTP1:
		return "tp1"
	case domain.LegTP2:
		return "tp2"
	case domain.LegTP3:
		return "tp3"
	case domain.LegStopLoss:
		return "sl"
	case domain.LegTrailing:
		return "trail"
	default:
		return "leg"
	}
}

// newClientOrderID builds a venue-safe client order id: short tag plus a
// random suffix, well under the 36-character limit.
func newClientOrderID(tag string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
	return fmt.Sprintf("nb-%s-%s", tag, suffix)
}
