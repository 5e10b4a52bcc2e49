// Package execution implements C11's post-only limit-order executor
// against the §6 exchange-capability contract, and the exchange-adapter
// interface itself (the concrete Binance transport lives in the adapters
// subpackage).
package execution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/hunter-core/hunter/pkg/types"
)

// OrderParams is the input to PlaceOrder.
type OrderParams struct {
	Symbol   string
	Side     types.OrderSide
	Type     types.OrderType
	Price    decimal.Decimal
	Quantity decimal.Decimal
	PostOnly bool
}

// ExchangeAdapter is the §6 capability contract the Hunter core consumes.
// Concrete implementations (REST/WS transports, e.g.
// adapters.BinanceFuturesAdapter) satisfy it; this interface is the full
// surface the core depends on.
type ExchangeAdapter interface {
	FetchOHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.OHLCV, error)
	GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetEquity(ctx context.Context) (decimal.Decimal, error)
	SubscribeAggTrades(ctx context.Context, symbol string, onTrade func(types.Tick)) error
	PlaceOrder(ctx context.Context, params OrderParams) (orderID string, err error)
	CancelOrder(ctx context.Context, orderID string) error
	OrderStatus(ctx context.Context, orderID string) (*OrderUpdate, error)
	SetStopLoss(ctx context.Context, symbol string, price decimal.Decimal) error
	SetTakeProfit(ctx context.Context, symbol string, price decimal.Decimal) error
	SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal) error
	IsConnected(ctx context.Context) bool
}

// OrderUpdate is a fill/cancel/reject notification pushed by the adapter.
type OrderUpdate struct {
	OrderID    string
	Symbol     string
	Status     types.OrderStatus
	FilledQty  decimal.Decimal
	FillPrice  decimal.Decimal
	UpdatedAt  time.Time
}
