package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hunter-core/hunter/internal/api"
	"github.com/hunter-core/hunter/internal/hologram"
	"github.com/hunter-core/hunter/internal/portfolio"
	"github.com/hunter-core/hunter/internal/position"
	"github.com/hunter-core/hunter/pkg/types"
)

type nopBarSource struct{}

func (nopBarSource) FetchOHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.OHLCV, error) {
	return nil, nil
}

func newTestServer(t *testing.T) *api.Server {
	t.Helper()
	logger := zap.NewNop()
	holoEngine := hologram.NewEngine(logger, hologram.DefaultConfig(), nopBarSource{})
	positions := position.NewManager(logger, position.DefaultConfig())
	book := portfolio.NewManager(logger, portfolio.DefaultConfig())

	return api.NewServer(logger, api.DefaultConfig(), api.StateSources{
		Hologram:  holoEngine,
		Positions: positions,
		Portfolio: book,
	})
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleHologramState_NotFound(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/hologram/BTCUSDT", nil)
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlePositions_Empty(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/positions", nil)
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlePortfolio(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/portfolio", nil)
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
