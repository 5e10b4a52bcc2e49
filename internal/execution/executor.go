// Package execution implements C11: the post-only limit-order executor
// and its move-cancel / wick-invalidate / timeout monitor loop (§4.9).
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/hunter-core/hunter/internal/herrors"
	"github.com/hunter-core/hunter/pkg/types"
)

// Config tunes the §4.9 monitor thresholds.
type Config struct {
	MonitorTimeout    time.Duration   // cancel the resting order after this long unfilled
	MoveCancelPct     decimal.Decimal // cancel if price runs this far away from the limit
	WickInvalidatePct decimal.Decimal // cancel if a wick trades this far through the stop
	MaxRetries        int
}

// DefaultConfig returns the §4.9 defaults.
func DefaultConfig() Config {
	return Config{
		MonitorTimeout:    60 * time.Second,
		MoveCancelPct:     decimal.NewFromFloat(0.002),
		WickInvalidatePct: decimal.NewFromFloat(0.005),
		MaxRetries:        3,
	}
}

// Result is the outcome of one Execute call. A partial fill is still
// Filled=true with Partial=true and FillSize less than the signal's
// requested size; the caller sizes the resulting position off FillSize,
// not the signal's PositionSize.
type Result struct {
	OrderID   string
	Filled    bool
	Partial   bool
	FillPrice decimal.Decimal
	FillSize  decimal.Decimal
	Cancelled bool
	Reason    string
}

// PriceFeed streams live prices for the monitor loop to watch.
type PriceFeed interface {
	Prices(ctx context.Context, symbol string) (<-chan decimal.Decimal, error)
}

// Executor places a post-only limit order against the signal's entry price
// and babysits it until fill, cancellation, or timeout. A circuit breaker
// guards PlaceOrder so a persistently failing adapter trips open rather
// than being hammered (§7 ExternalPersistent).
type Executor struct {
	logger  *zap.Logger
	config  Config
	adapter ExchangeAdapter
	prices  PriceFeed
	breaker *gobreaker.CircuitBreaker
}

// NewExecutor constructs a limit-order executor.
func NewExecutor(logger *zap.Logger, config Config, adapter ExchangeAdapter, prices PriceFeed) *Executor {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "exchange-adapter",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Executor{
		logger:  logger.Named("executor"),
		config:  config,
		adapter: adapter,
		prices:  prices,
		breaker: breaker,
	}
}

// Execute places the signal's entry as a post-only limit order and
// monitors it until fill, a move-away cancel, a wick-invalidate cancel, or
// the monitor timeout, whichever comes first.
func (e *Executor) Execute(ctx context.Context, sig *types.HunterSignal) (*Result, error) {
	orderID, err := e.placeWithRetry(ctx, OrderParams{
		Symbol:   sig.Symbol,
		Side:     sideFor(sig.Direction),
		Type:     types.OrderTypeLimit,
		Price:    sig.EntryPrice,
		Quantity: sig.PositionSize,
		PostOnly: true,
	})
	if err != nil {
		return nil, herrors.Persistent("executor", sig.Symbol, fmt.Errorf("order placement exhausted retries: %w", err))
	}

	monitorCtx, cancel := context.WithTimeout(ctx, e.config.MonitorTimeout)
	defer cancel()

	priceCh, err := e.prices.Prices(monitorCtx, sig.Symbol)
	if err != nil {
		e.cancelOrder(ctx, orderID)
		return nil, herrors.Transient("executor", sig.Symbol, fmt.Errorf("subscribing to price feed: %w", err))
	}

	for {
		select {
		case <-monitorCtx.Done():
			e.cancelOrder(ctx, orderID)
			e.logger.Info("order timed out unfilled, cancelled", zap.String("orderId", orderID), zap.String("symbol", sig.Symbol))
			return &Result{OrderID: orderID, Cancelled: true, Reason: "monitor timeout"}, nil

		case price, ok := <-priceCh:
			if !ok {
				e.cancelOrder(ctx, orderID)
				return &Result{OrderID: orderID, Cancelled: true, Reason: "price feed closed"}, nil
			}

			if e.wickInvalidated(sig, price) {
				e.cancelOrder(ctx, orderID)
				e.logger.Warn("order cancelled: wick invalidated setup", zap.String("orderId", orderID), zap.String("price", price.String()))
				return &Result{OrderID: orderID, Cancelled: true, Reason: "wick invalidate"}, nil
			}
			if e.movedAway(sig, price) {
				e.cancelOrder(ctx, orderID)
				e.logger.Info("order cancelled: price moved away from limit", zap.String("orderId", orderID), zap.String("price", price.String()))
				return &Result{OrderID: orderID, Cancelled: true, Reason: "move cancel"}, nil
			}
			if e.filledAt(sig, price) {
				return e.resolveFill(ctx, orderID, sig)
			}
		}
	}
}

// resolveFill queries the adapter for the order's actual filled quantity
// once the limit price has been touched. A quantity short of the full
// requested size is accepted as a partial fill (§4.9) rather than treated
// as a failure; the position manager sizes off FillSize downstream. If the
// adapter can't report fill state, the executor falls back to assuming a
// full fill at the signal's requested size.
func (e *Executor) resolveFill(ctx context.Context, orderID string, sig *types.HunterSignal) (*Result, error) {
	update, err := e.adapter.OrderStatus(ctx, orderID)
	if err != nil {
		e.logger.Warn("order status query failed, assuming full fill", zap.String("orderId", orderID), zap.Error(err))
		return &Result{OrderID: orderID, Filled: true, FillPrice: sig.EntryPrice, FillSize: sig.PositionSize}, nil
	}
	if update.FilledQty.LessThanOrEqual(decimal.Zero) {
		return &Result{OrderID: orderID, Filled: true, FillPrice: sig.EntryPrice, FillSize: sig.PositionSize}, nil
	}
	if update.FilledQty.LessThan(sig.PositionSize) {
		e.logger.Info("order partially filled, accepting", zap.String("orderId", orderID),
			zap.String("filled", update.FilledQty.String()), zap.String("requested", sig.PositionSize.String()))
		return &Result{OrderID: orderID, Filled: true, Partial: true, FillPrice: update.FillPrice, FillSize: update.FilledQty}, nil
	}
	return &Result{OrderID: orderID, Filled: true, FillPrice: sig.EntryPrice, FillSize: sig.PositionSize}, nil
}

// movedAway reports whether price has run away from the resting limit by
// more than MoveCancelPct without touching it, invalidating the entry.
func (e *Executor) movedAway(sig *types.HunterSignal, price decimal.Decimal) bool {
	move := price.Sub(sig.EntryPrice).Abs().Div(sig.EntryPrice)
	if !move.GreaterThan(e.config.MoveCancelPct) {
		return false
	}
	if sig.Direction == types.DirectionLong {
		return price.GreaterThan(sig.EntryPrice)
	}
	return price.LessThan(sig.EntryPrice)
}

// wickInvalidated reports whether price has already traded through the
// stop by more than WickInvalidatePct, meaning the fill (if it happened)
// would be on a dead setup.
func (e *Executor) wickInvalidated(sig *types.HunterSignal, price decimal.Decimal) bool {
	buffer := sig.StopLoss.Mul(e.config.WickInvalidatePct)
	if sig.Direction == types.DirectionLong {
		return price.LessThan(sig.StopLoss.Sub(buffer))
	}
	return price.GreaterThan(sig.StopLoss.Add(buffer))
}

func (e *Executor) filledAt(sig *types.HunterSignal, price decimal.Decimal) bool {
	if sig.Direction == types.DirectionLong {
		return price.LessThanOrEqual(sig.EntryPrice)
	}
	return price.GreaterThanOrEqual(sig.EntryPrice)
}

func (e *Executor) placeWithRetry(ctx context.Context, params OrderParams) (string, error) {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(e.config.MaxRetries))
	var orderID string
	op := func() error {
		result, err := e.breaker.Execute(func() (interface{}, error) {
			return e.adapter.PlaceOrder(ctx, params)
		})
		if err != nil {
			if err == gobreaker.ErrOpenState {
				return backoff.Permanent(err)
			}
			return err
		}
		orderID = result.(string)
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return "", err
	}
	return orderID, nil
}

func (e *Executor) cancelOrder(ctx context.Context, orderID string) {
	if err := e.adapter.CancelOrder(ctx, orderID); err != nil {
		e.logger.Warn("cancel order failed", zap.String("orderId", orderID), zap.Error(err))
	}
}

func sideFor(dir types.Direction) types.OrderSide {
	if dir == types.DirectionLong {
		return types.OrderSideBuy
	}
	return types.OrderSideSell
}
