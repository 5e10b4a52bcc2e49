package execution

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hunter-core/hunter/pkg/types"
)

// ReturnBridge derives the hologram scanner's ReturnSource (4h returns) and
// the executor's PriceFeed (live price channel) from a single
// ExchangeAdapter, so callers only need to wire one concrete adapter.
type ReturnBridge struct {
	adapter ExchangeAdapter
}

// NewReturnBridge wraps an adapter as both a ReturnSource and a PriceFeed.
func NewReturnBridge(adapter ExchangeAdapter) *ReturnBridge {
	return &ReturnBridge{adapter: adapter}
}

// Return4h computes the trailing 4h close-to-close return from two 4h bars.
func (b *ReturnBridge) Return4h(ctx context.Context, symbol string) (decimal.Decimal, error) {
	bars, err := b.adapter.FetchOHLCV(ctx, symbol, types.Timeframe4h, 2)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch 4h bars: %w", err)
	}
	if len(bars) < 2 {
		return decimal.Zero, fmt.Errorf("insufficient 4h history for %s", symbol)
	}
	prev := bars[len(bars)-2].Close
	last := bars[len(bars)-1].Close
	if prev.IsZero() {
		return decimal.Zero, fmt.Errorf("zero prior close for %s", symbol)
	}
	return last.Sub(prev).Div(prev), nil
}

// Prices subscribes to aggregated trades and republishes their price as a
// stream, satisfying the executor's PriceFeed contract.
func (b *ReturnBridge) Prices(ctx context.Context, symbol string) (<-chan decimal.Decimal, error) {
	ch := make(chan decimal.Decimal, 64)
	err := b.adapter.SubscribeAggTrades(ctx, symbol, func(tick types.Tick) {
		select {
		case ch <- tick.Price:
		default:
		}
	})
	if err != nil {
		close(ch)
		return nil, fmt.Errorf("subscribe agg trades: %w", err)
	}
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}
