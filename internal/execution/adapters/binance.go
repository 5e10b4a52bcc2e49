// Package adapters provides concrete exchange-adapter implementations of
// execution.ExchangeAdapter.
package adapters

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hunter-core/hunter/internal/execution"
	"github.com/hunter-core/hunter/pkg/types"
	"github.com/hunter-core/hunter/pkg/utils"
)

// BinanceConfig configures the Binance USDT-M futures adapter.
type BinanceConfig struct {
	APIKey    string
	APISecret string
	Testnet   bool
}

// BinanceFuturesAdapter implements execution.ExchangeAdapter against
// Binance's USDT-M perpetual futures API.
type BinanceFuturesAdapter struct {
	logger     *zap.Logger
	apiKey     string
	apiSecret  string
	baseURL    string
	wsURL      string
	httpClient *http.Client

	mu        sync.RWMutex
	wsConn    *websocket.Conn
	connected bool

	rateLimiter *RateLimiter
}

// RateLimiter is a simple token-bucket limiter for REST calls.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
}

// NewRateLimiter constructs a token-bucket limiter.
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	return &RateLimiter{tokens: maxTokens, maxTokens: maxTokens, refillRate: refillRate, lastRefill: time.Now()}
}

// Acquire blocks until a token is available.
func (rl *RateLimiter) Acquire() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if refills := int(now.Sub(rl.lastRefill) / rl.refillRate); refills > 0 {
		rl.tokens = min(rl.maxTokens, rl.tokens+refills)
		rl.lastRefill = now
	}
	for rl.tokens <= 0 {
		rl.mu.Unlock()
		time.Sleep(rl.refillRate)
		rl.mu.Lock()
		rl.tokens++
	}
	rl.tokens--
}

// NewBinanceFuturesAdapter constructs a Binance USDT-M futures adapter.
func NewBinanceFuturesAdapter(logger *zap.Logger, config BinanceConfig) *BinanceFuturesAdapter {
	baseURL := "https://fapi.binance.com"
	wsURL := "wss://fstream.binance.com/ws"
	if config.Testnet {
		baseURL = "https://testnet.binancefuture.com"
		wsURL = "wss://stream.binancefuture.com/ws"
	}
	return &BinanceFuturesAdapter{
		logger:      logger.Named("binance-futures"),
		apiKey:      config.APIKey,
		apiSecret:   config.APISecret,
		baseURL:     baseURL,
		wsURL:       wsURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		rateLimiter: NewRateLimiter(1200, time.Minute),
	}
}

var _ execution.ExchangeAdapter = (*BinanceFuturesAdapter)(nil)

// FetchOHLCV retrieves historical klines for a symbol/timeframe.
func (b *BinanceFuturesAdapter) FetchOHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.OHLCV, error) {
	b.rateLimiter.Acquire()

	interval := binanceInterval(tf)
	reqURL := fmt.Sprintf("%s/fapi/v1/klines?symbol=%s&interval=%s&limit=%d", b.baseURL, symbol, interval, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch klines: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch klines failed with status %d: %s", resp.StatusCode, string(body))
	}

	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse klines: %w", err)
	}

	bars := make([]types.OHLCV, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		openTimeMs, _ := k[0].(float64)
		open, _ := decimal.NewFromString(fmt.Sprint(k[1]))
		high, _ := decimal.NewFromString(fmt.Sprint(k[2]))
		low, _ := decimal.NewFromString(fmt.Sprint(k[3]))
		close_, _ := decimal.NewFromString(fmt.Sprint(k[4]))
		vol, _ := decimal.NewFromString(fmt.Sprint(k[5]))
		bars = append(bars, types.OHLCV{
			Symbol:    symbol,
			Timestamp: time.UnixMilli(int64(openTimeMs)),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close_,
			Volume:    vol,
		})
	}
	return bars, nil
}

// GetCurrentPrice returns the latest mark price.
func (b *BinanceFuturesAdapter) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	b.rateLimiter.Acquire()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/fapi/v1/ticker/price?symbol="+symbol, nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	var out struct {
		Price string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(out.Price)
}

// GetEquity returns the account's total USDT margin balance.
func (b *BinanceFuturesAdapter) GetEquity(ctx context.Context) (decimal.Decimal, error) {
	b.rateLimiter.Acquire()
	resp, err := b.signedRequest(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{})
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, err
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("get balance failed with status %d: %s", resp.StatusCode, string(body))
	}

	var balances []struct {
		Asset      string `json:"asset"`
		Balance    string `json:"balance"`
	}
	if err := json.Unmarshal(body, &balances); err != nil {
		return decimal.Zero, err
	}
	for _, bal := range balances {
		if bal.Asset == "USDT" {
			return decimal.NewFromString(bal.Balance)
		}
	}
	return decimal.Zero, nil
}

// SubscribeAggTrades streams aggregated trades over a websocket and
// invokes onTrade for each one until ctx is cancelled.
func (b *BinanceFuturesAdapter) SubscribeAggTrades(ctx context.Context, symbol string, onTrade func(types.Tick)) error {
	stream := strings.ToLower(symbol) + "@aggTrade"
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, b.wsURL+"/"+stream, nil)
	if err != nil {
		return fmt.Errorf("dial aggTrade stream: %w", err)
	}

	b.mu.Lock()
	b.wsConn = conn
	b.connected = true
	b.mu.Unlock()

	go func() {
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			_, message, err := conn.ReadMessage()
			if err != nil {
				b.logger.Warn("aggTrade stream read error", zap.Error(err))
				b.mu.Lock()
				b.connected = false
				b.mu.Unlock()
				return
			}
			var evt struct {
				Price    string `json:"p"`
				Quantity string `json:"q"`
				TradeID  int64  `json:"a"`
				Time     int64  `json:"T"`
				IsBuyer  bool   `json:"m"`
			}
			if err := json.Unmarshal(message, &evt); err != nil {
				continue
			}
			price, _ := decimal.NewFromString(evt.Price)
			qty, _ := decimal.NewFromString(evt.Quantity)
			side := types.OrderSideBuy
			if evt.IsBuyer {
				side = types.OrderSideSell
			}
			onTrade(types.Tick{
				Timestamp: time.UnixMilli(evt.Time),
				Price:     price,
				Size:      qty,
				Side:      side,
				TradeID:   strconv.FormatInt(evt.TradeID, 10),
			})
		}
	}()
	return nil
}

// PlaceOrder places a futures order, honoring PostOnly via Binance's GTX
// (good-till-crossing) time-in-force.
func (b *BinanceFuturesAdapter) PlaceOrder(ctx context.Context, params execution.OrderParams) (string, error) {
	b.rateLimiter.Acquire()

	form := url.Values{}
	form.Set("symbol", params.Symbol)
	form.Set("side", strings.ToUpper(string(params.Side)))
	form.Set("quantity", params.Quantity.String())
	form.Set("newClientOrderId", utils.GenerateOrderID())

	switch params.Type {
	case types.OrderTypeMarket:
		form.Set("type", "MARKET")
	default:
		form.Set("type", "LIMIT")
		form.Set("price", params.Price.String())
		if params.PostOnly {
			form.Set("timeInForce", "GTX")
		} else {
			form.Set("timeInForce", "GTC")
		}
	}

	resp, err := b.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", form)
	if err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("place order failed with status %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		OrderID int64 `json:"orderId"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", params.Symbol, out.OrderID), nil
}

// CancelOrder cancels a resting order by its "SYMBOL:orderId" identifier.
func (b *BinanceFuturesAdapter) CancelOrder(ctx context.Context, orderID string) error {
	b.rateLimiter.Acquire()
	symbol, id, err := splitOrderID(orderID)
	if err != nil {
		return err
	}
	form := url.Values{}
	form.Set("symbol", symbol)
	form.Set("orderId", id)

	resp, err := b.signedRequest(ctx, http.MethodDelete, "/fapi/v1/order", form)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cancel order failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// OrderStatus queries a resting or recently-closed order's fill state by
// its "SYMBOL:orderId" identifier.
func (b *BinanceFuturesAdapter) OrderStatus(ctx context.Context, orderID string) (*execution.OrderUpdate, error) {
	b.rateLimiter.Acquire()
	symbol, id, err := splitOrderID(orderID)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("symbol", symbol)
	form.Set("orderId", id)

	resp, err := b.signedRequest(ctx, http.MethodGet, "/fapi/v1/order", form)
	if err != nil {
		return nil, fmt.Errorf("order status: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("order status failed with status %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		Status          string `json:"status"`
		ExecutedQty     string `json:"executedQty"`
		AvgPrice        string `json:"avgPrice"`
		UpdateTime      int64  `json:"updateTime"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	filledQty, err := decimal.NewFromString(out.ExecutedQty)
	if err != nil {
		return nil, fmt.Errorf("order status: bad executedQty: %w", err)
	}
	fillPrice, err := decimal.NewFromString(out.AvgPrice)
	if err != nil {
		return nil, fmt.Errorf("order status: bad avgPrice: %w", err)
	}
	return &execution.OrderUpdate{
		OrderID:   orderID,
		Symbol:    symbol,
		Status:    binanceOrderStatus(out.Status),
		FilledQty: filledQty,
		FillPrice: fillPrice,
		UpdatedAt: time.UnixMilli(out.UpdateTime),
	}, nil
}

func binanceOrderStatus(status string) types.OrderStatus {
	switch status {
	case "FILLED":
		return types.OrderStatusFilled
	case "PARTIALLY_FILLED":
		return types.OrderStatusPartiallyFilled
	case "CANCELED", "EXPIRED":
		return types.OrderStatusCancelled
	case "REJECTED":
		return types.OrderStatusRejected
	default:
		return types.OrderStatusOpen
	}
}

// SetStopLoss places a reduce-only STOP_MARKET order.
func (b *BinanceFuturesAdapter) SetStopLoss(ctx context.Context, symbol string, price decimal.Decimal) error {
	return b.placeReduceOnlyStop(ctx, symbol, "STOP_MARKET", price)
}

// SetTakeProfit places a reduce-only TAKE_PROFIT_MARKET order.
func (b *BinanceFuturesAdapter) SetTakeProfit(ctx context.Context, symbol string, price decimal.Decimal) error {
	return b.placeReduceOnlyStop(ctx, symbol, "TAKE_PROFIT_MARKET", price)
}

func (b *BinanceFuturesAdapter) placeReduceOnlyStop(ctx context.Context, symbol, orderType string, price decimal.Decimal) error {
	b.rateLimiter.Acquire()
	form := url.Values{}
	form.Set("symbol", symbol)
	form.Set("type", orderType)
	form.Set("stopPrice", price.String())
	form.Set("closePosition", "true")

	resp, err := b.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", form)
	if err != nil {
		return fmt.Errorf("place %s: %w", orderType, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s failed with status %d: %s", orderType, resp.StatusCode, string(body))
	}
	return nil
}

// SetLeverage sets the symbol's leverage; the margin type is left as is.
func (b *BinanceFuturesAdapter) SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal) error {
	b.rateLimiter.Acquire()
	form := url.Values{}
	form.Set("symbol", symbol)
	form.Set("leverage", leverage.StringFixed(0))

	resp, err := b.signedRequest(ctx, http.MethodPost, "/fapi/v1/leverage", form)
	if err != nil {
		return fmt.Errorf("set leverage: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("set leverage failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// IsConnected reports whether the aggTrade websocket is live.
func (b *BinanceFuturesAdapter) IsConnected(ctx context.Context) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

func (b *BinanceFuturesAdapter) signedRequest(ctx context.Context, method, endpoint string, params url.Values) (*http.Response, error) {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query := params.Encode()
	params.Set("signature", b.sign(query))

	reqURL := b.baseURL + endpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", b.apiKey)
	return b.httpClient.Do(req)
}

func (b *BinanceFuturesAdapter) sign(data string) string {
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

func splitOrderID(orderID string) (symbol, id string, err error) {
	parts := strings.SplitN(orderID, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid order id format: %s", orderID)
	}
	return parts[0], parts[1], nil
}

func binanceInterval(tf types.Timeframe) string {
	switch tf {
	case types.Timeframe1m:
		return "1m"
	case types.Timeframe5m:
		return "5m"
	case types.Timeframe15m:
		return "15m"
	case types.Timeframe1h:
		return "1h"
	case types.Timeframe4h:
		return "4h"
	case types.Timeframe1d:
		return "1d"
	default:
		return "15m"
	}
}
