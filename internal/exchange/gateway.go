// Package exchange adapts trading venues to one capability interface.
// Adapters translate venue errors into the internal taxonomy and share a
// request rate limiter per connection.
package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/gpreviti/cryptomind/internal/config"
	"github.com/gpreviti/cryptomind/internal/errors"
	"github.com/gpreviti/cryptomind/pkg/types"
)

// Fill is the executed result of an order.
type Fill struct {
	OrderID  string
	Quantity float64
	AvgPrice float64
	Fees     float64 // in quote currency
}

// OpenOrder is a resting order on the venue.
type OpenOrder struct {
	ID        string
	Pair      string
	Side      string
	Type      string
	Price     float64
	Quantity  float64
	CreatedAt time.Time
}

// Gateway is the capability surface the trading core needs from a venue.
// Implementations are safe for concurrent use after Connect.
type Gateway interface {
	Name() string
	Connect(ctx context.Context) error
	Close() error

	FetchCandles(ctx context.Context, pair, timeframe string, limit int) ([]types.Candle, error)
	FetchTicker(ctx context.Context, pair string) (types.Ticker, error)
	FetchTickers(ctx context.Context) ([]types.Ticker, error)
	FetchBalances(ctx context.Context) (map[string]float64, error)

	PlaceMarketOrder(ctx context.Context, pair, side string, quantity float64) (Fill, error)
	PlaceLimitOrder(ctx context.Context, pair, side string, quantity, price float64) (string, error)
	PlaceStopOrder(ctx context.Context, pair, side string, quantity, stopPrice float64) (string, error)
	CancelOrder(ctx context.Context, pair, orderID string) error
	ListOpenOrders(ctx context.Context, pair string) ([]OpenOrder, error)
	MinOrderQty(ctx context.Context, pair string) (float64, error)
}

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// requestsPerSecond keeps both venues well under their public limits.
const requestsPerSecond = 10

// New builds a gateway for the account's venue. quote is the account's
// quote currency, used to turn venue symbols back into pairs.
func New(account config.AccountConfig, quote string) (Gateway, error) {
	limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	switch strings.ToLower(account.Exchange) {
	case "binance":
		return newBinanceGateway(account, quote, limiter), nil
	case "bybit":
		return newBybitGateway(account, quote, limiter), nil
	default:
		return nil, fmt.Errorf("unsupported exchange %q", account.Exchange)
	}
}

// venueSymbol turns "BTC/USDT" into "BTCUSDT".
func venueSymbol(pair string) string {
	return strings.ReplaceAll(pair, "/", "")
}

// pairFromSymbol turns "BTCUSDT" back into "BTC/USDT" when the symbol
// trades against quote; ok is false otherwise.
func pairFromSymbol(symbol, quote string) (string, bool) {
	if !strings.HasSuffix(symbol, quote) || len(symbol) == len(quote) {
		return "", false
	}
	return symbol[:len(symbol)-len(quote)] + "/" + quote, true
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func formatQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

func strconv64(id int64) string {
	return strconv.FormatInt(id, 10)
}

// wait blocks on the shared limiter, translating cancellation.
func wait(ctx context.Context, limiter *rate.Limiter, op, pair string) error {
	if err := limiter.Wait(ctx); err != nil {
		return errors.E(errors.KindNetwork, op, pair, err)
	}
	return nil
}
