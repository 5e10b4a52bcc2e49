package backtester

import (
	"context"
	"fmt"
	"time"

	"github.com/hunter-core/hunter/pkg/types"
)

// BarFetcher is the subset of execution.ExchangeAdapter the backtester
// needs to pull historical OHLCV for replay; declared narrowly here so
// this package does not import internal/execution.
type BarFetcher interface {
	FetchOHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.OHLCV, error)
}

// AdapterDataLoader implements DataLoader by paging an exchange adapter's
// FetchOHLCV for historical bars. It does not replay raw ticks: tick-level
// backtests are out of scope for the live adapters this module ships.
type AdapterDataLoader struct {
	adapter BarFetcher
	symbols []string
}

// NewAdapterDataLoader builds a DataLoader backed by a live exchange
// adapter's historical-bar endpoint.
func NewAdapterDataLoader(adapter BarFetcher, symbols []string) *AdapterDataLoader {
	return &AdapterDataLoader{adapter: adapter, symbols: symbols}
}

// LoadOHLCV fetches bars covering [start, end] for symbol/timeframe,
// trimming the adapter's most-recent-N response to the requested window.
func (l *AdapterDataLoader) LoadOHLCV(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time) ([]*types.OHLCV, error) {
	bars, err := l.adapter.FetchOHLCV(ctx, symbol, timeframe, 1500)
	if err != nil {
		return nil, fmt.Errorf("backtester: fetch bars for %s: %w", symbol, err)
	}
	out := make([]*types.OHLCV, 0, len(bars))
	for i := range bars {
		b := bars[i]
		if b.Timestamp.Before(start) || b.Timestamp.After(end) {
			continue
		}
		out = append(out, &b)
	}
	return out, nil
}

// LoadTicks is unimplemented: replay runs on OHLCV bars only.
func (l *AdapterDataLoader) LoadTicks(ctx context.Context, symbol string, start, end time.Time) ([]*types.Tick, error) {
	return nil, nil
}

// GetAvailableSymbols returns the symbols this loader was configured with.
func (l *AdapterDataLoader) GetAvailableSymbols() []string {
	return l.symbols
}

// GetDataRange is unsupported for a live-adapter-backed loader: the
// adapter only exposes its most recent N bars, not a queryable range.
func (l *AdapterDataLoader) GetDataRange(symbol string) (start, end time.Time, err error) {
	return time.Time{}, time.Time{}, fmt.Errorf("backtester: data range query unsupported for live-adapter loader")
}
