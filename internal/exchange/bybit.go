package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"golang.org/x/time/rate"

	"github.com/gpreviti/cryptomind/internal/config"
	"github.com/gpreviti/cryptomind/internal/errors"
	"github.com/gpreviti/cryptomind/pkg/types"
)

const bybitCategorySpot = "spot"

// bybitIntervals maps internal timeframes onto Bybit kline intervals.
var bybitIntervals = map[string]string{
	"1m":  "1",
	"5m":  "5",
	"15m": "15",
	"30m": "30",
	"1h":  "60",
	"2h":  "120",
	"4h":  "240",
	"12h": "720",
	"1d":  "D",
	"1w":  "W",
}

type bybitGateway struct {
	account config.AccountConfig
	quote   string
	client  *bybit_api.Client
	limiter *rate.Limiter

	mu     sync.Mutex
	minQty map[string]float64
}

func newBybitGateway(account config.AccountConfig, quote string, limiter *rate.Limiter) *bybitGateway {
	return &bybitGateway{
		account: account,
		quote:   quote,
		limiter: limiter,
		minQty:  make(map[string]float64),
	}
}

func (g *bybitGateway) Name() string { return "bybit" }

func (g *bybitGateway) Connect(ctx context.Context) error {
	baseURL := bybit_api.MAINNET
	if g.account.Testnet {
		baseURL = bybit_api.TESTNET
	}
	g.client = bybit_api.NewBybitHttpClient(
		g.account.APIKey,
		g.account.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)

	// A public market call doubles as the connectivity check.
	if err := wait(ctx, g.limiter, "bybit.Connect", ""); err != nil {
		return err
	}
	_, err := g.client.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category": bybitCategorySpot,
		"symbol":   "BTC" + g.quote,
	}).GetMarketTickers(ctx)
	if err != nil {
		return errors.Wrap("bybit.Connect", "", err)
	}
	return nil
}

func (g *bybitGateway) Close() error { return nil }

// decodeResult checks the response wrapper and unmarshals Result into out.
func decodeResult(response interface{}, out interface{}) error {
	resp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return fmt.Errorf("unexpected response type %T", response)
	}
	if resp.RetCode != 0 {
		return fmt.Errorf("%s (code %d)", resp.RetMsg, resp.RetCode)
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return json.Unmarshal(raw, out)
}

func (g *bybitGateway) FetchCandles(ctx context.Context, pair, timeframe string, limit int) ([]types.Candle, error) {
	const op = "bybit.FetchCandles"
	interval, ok := bybitIntervals[timeframe]
	if !ok {
		return nil, errors.E(errors.KindInternal, op, pair, fmt.Errorf("unsupported timeframe %q", timeframe))
	}
	if err := wait(ctx, g.limiter, op, pair); err != nil {
		return nil, err
	}

	result, err := g.client.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category": bybitCategorySpot,
		"symbol":   venueSymbol(pair),
		"interval": interval,
		"limit":    limit,
	}).GetMarketKline(ctx)
	if err != nil {
		return nil, errors.Wrap(op, pair, err)
	}

	var klines struct {
		List [][]string `json:"list"`
	}
	if err := decodeResult(result, &klines); err != nil {
		return nil, errors.Wrap(op, pair, err)
	}

	// Kline rows arrive newest first: [startTime, open, high, low,
	// close, volume, turnover]. Reverse into ascending order.
	candles := make([]types.Candle, 0, len(klines.List))
	for i := len(klines.List) - 1; i >= 0; i-- {
		row := klines.List[i]
		if len(row) < 6 {
			continue
		}
		candles = append(candles, types.Candle{
			Timestamp: time.UnixMilli(parseInt(row[0])),
			Open:      parseFloat(row[1]),
			High:      parseFloat(row[2]),
			Low:       parseFloat(row[3]),
			Close:     parseFloat(row[4]),
			Volume:    parseFloat(row[5]),
		})
	}
	return candles, nil
}

type bybitTickerRow struct {
	Symbol       string `json:"symbol"`
	LastPrice    string `json:"lastPrice"`
	Turnover24h  string `json:"turnover24h"`
	Price24hPcnt string `json:"price24hPcnt"`
}

func (g *bybitGateway) FetchTicker(ctx context.Context, pair string) (types.Ticker, error) {
	const op = "bybit.FetchTicker"
	if err := wait(ctx, g.limiter, op, pair); err != nil {
		return types.Ticker{}, err
	}

	result, err := g.client.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category": bybitCategorySpot,
		"symbol":   venueSymbol(pair),
	}).GetMarketTickers(ctx)
	if err != nil {
		return types.Ticker{}, errors.Wrap(op, pair, err)
	}

	var tickers struct {
		List []bybitTickerRow `json:"list"`
	}
	if err := decodeResult(result, &tickers); err != nil {
		return types.Ticker{}, errors.Wrap(op, pair, err)
	}
	if len(tickers.List) == 0 {
		return types.Ticker{}, errors.E(errors.KindPairNotPermitted, op, pair, nil)
	}
	return g.ticker(tickers.List[0], pair), nil
}

func (g *bybitGateway) FetchTickers(ctx context.Context) ([]types.Ticker, error) {
	const op = "bybit.FetchTickers"
	if err := wait(ctx, g.limiter, op, ""); err != nil {
		return nil, err
	}

	result, err := g.client.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category": bybitCategorySpot,
	}).GetMarketTickers(ctx)
	if err != nil {
		return nil, errors.Wrap(op, "", err)
	}

	var tickers struct {
		List []bybitTickerRow `json:"list"`
	}
	if err := decodeResult(result, &tickers); err != nil {
		return nil, errors.Wrap(op, "", err)
	}

	var out []types.Ticker
	for _, row := range tickers.List {
		pair, ok := pairFromSymbol(row.Symbol, g.quote)
		if !ok {
			continue
		}
		out = append(out, g.ticker(row, pair))
	}
	return out, nil
}

func (g *bybitGateway) ticker(row bybitTickerRow, pair string) types.Ticker {
	return types.Ticker{
		Symbol:       pair,
		Price:        parseFloat(row.LastPrice),
		QuoteVolume:  parseFloat(row.Turnover24h),
		ChangePct24h: parseFloat(row.Price24hPcnt) * 100,
		Timestamp:    time.Now(),
	}
}

func (g *bybitGateway) FetchBalances(ctx context.Context) (map[string]float64, error) {
	const op = "bybit.FetchBalances"
	if err := wait(ctx, g.limiter, op, ""); err != nil {
		return nil, err
	}

	result, err := g.client.NewUtaBybitServiceWithParams(map[string]interface{}{
		"accountType": "UNIFIED",
	}).GetAccountWallet(ctx)
	if err != nil {
		return nil, errors.Wrap(op, "", err)
	}

	var wallet struct {
		List []struct {
			Coin []struct {
				Coin          string `json:"coin"`
				WalletBalance string `json:"walletBalance"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := decodeResult(result, &wallet); err != nil {
		return nil, errors.Wrap(op, "", err)
	}

	balances := make(map[string]float64)
	for _, account := range wallet.List {
		for _, coin := range account.Coin {
			if v := parseFloat(coin.WalletBalance); v > 0 {
				balances[coin.Coin] = v
			}
		}
	}
	return balances, nil
}

func bybitSide(side string) string {
	if side == SideSell {
		return "Sell"
	}
	return "Buy"
}

func (g *bybitGateway) PlaceMarketOrder(ctx context.Context, pair, side string, quantity float64) (Fill, error) {
	const op = "bybit.PlaceMarketOrder"
	if err := wait(ctx, g.limiter, op, pair); err != nil {
		return Fill{}, err
	}

	result, err := g.client.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category":   bybitCategorySpot,
		"symbol":     venueSymbol(pair),
		"side":       bybitSide(side),
		"orderType":  "Market",
		"qty":        formatQty(quantity),
		"marketUnit": "baseCoin",
	}).PlaceOrder(ctx)
	if err != nil {
		return Fill{}, errors.Wrap(op, pair, err)
	}

	var placed struct {
		OrderID string `json:"orderId"`
	}
	if err := decodeResult(result, &placed); err != nil {
		return Fill{}, errors.Wrap(op, pair, err)
	}

	fill, err := g.fetchExecution(ctx, pair, side, placed.OrderID)
	if err != nil {
		return Fill{}, err
	}
	return fill, nil
}

// fetchExecution reads the executed quantity, average price and fee for
// an order just placed. Market orders on spot fill immediately but the
// history endpoint can lag a moment, so poll briefly.
func (g *bybitGateway) fetchExecution(ctx context.Context, pair, side, orderID string) (Fill, error) {
	const op = "bybit.fetchExecution"

	var row struct {
		OrderID    string `json:"orderId"`
		CumExecQty string `json:"cumExecQty"`
		AvgPrice   string `json:"avgPrice"`
		CumExecFee string `json:"cumExecFee"`
	}
	for attempt := 0; attempt < 3; attempt++ {
		if err := wait(ctx, g.limiter, op, pair); err != nil {
			return Fill{}, err
		}
		result, err := g.client.NewUtaBybitServiceWithParams(map[string]interface{}{
			"category": bybitCategorySpot,
			"symbol":   venueSymbol(pair),
			"orderId":  orderID,
		}).GetOrderHistory(ctx)
		if err != nil {
			return Fill{}, errors.Wrap(op, pair, err)
		}

		var history struct {
			List []json.RawMessage `json:"list"`
		}
		if err := decodeResult(result, &history); err != nil {
			return Fill{}, errors.Wrap(op, pair, err)
		}
		if len(history.List) > 0 {
			if err := json.Unmarshal(history.List[0], &row); err != nil {
				return Fill{}, errors.Wrap(op, pair, err)
			}
			if parseFloat(row.CumExecQty) > 0 {
				break
			}
		}

		select {
		case <-ctx.Done():
			return Fill{}, errors.E(errors.KindNetwork, op, pair, ctx.Err())
		case <-time.After(200 * time.Millisecond):
		}
	}

	fill := Fill{
		OrderID:  orderID,
		Quantity: parseFloat(row.CumExecQty),
		AvgPrice: parseFloat(row.AvgPrice),
	}
	// Spot fees come out of the received currency: base coin on buys,
	// quote on sells. Normalize to quote.
	fee := parseFloat(row.CumExecFee)
	if side == SideBuy {
		fee *= fill.AvgPrice
	}
	fill.Fees = fee
	return fill, nil
}

func (g *bybitGateway) PlaceLimitOrder(ctx context.Context, pair, side string, quantity, price float64) (string, error) {
	const op = "bybit.PlaceLimitOrder"
	if err := wait(ctx, g.limiter, op, pair); err != nil {
		return "", err
	}

	result, err := g.client.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category":    bybitCategorySpot,
		"symbol":      venueSymbol(pair),
		"side":        bybitSide(side),
		"orderType":   "Limit",
		"qty":         formatQty(quantity),
		"price":       formatQty(price),
		"timeInForce": "GTC",
	}).PlaceOrder(ctx)
	if err != nil {
		return "", errors.Wrap(op, pair, err)
	}

	var placed struct {
		OrderID string `json:"orderId"`
	}
	if err := decodeResult(result, &placed); err != nil {
		return "", errors.Wrap(op, pair, err)
	}
	return placed.OrderID, nil
}

func (g *bybitGateway) PlaceStopOrder(ctx context.Context, pair, side string, quantity, stopPrice float64) (string, error) {
	const op = "bybit.PlaceStopOrder"
	if err := wait(ctx, g.limiter, op, pair); err != nil {
		return "", err
	}

	result, err := g.client.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category":     bybitCategorySpot,
		"symbol":       venueSymbol(pair),
		"side":         bybitSide(side),
		"orderType":    "Market",
		"qty":          formatQty(quantity),
		"triggerPrice": formatQty(stopPrice),
		"orderFilter":  "StopOrder",
	}).PlaceOrder(ctx)
	if err != nil {
		return "", errors.Wrap(op, pair, err)
	}

	var placed struct {
		OrderID string `json:"orderId"`
	}
	if err := decodeResult(result, &placed); err != nil {
		return "", errors.Wrap(op, pair, err)
	}
	return placed.OrderID, nil
}

func (g *bybitGateway) CancelOrder(ctx context.Context, pair, orderID string) error {
	const op = "bybit.CancelOrder"
	if err := wait(ctx, g.limiter, op, pair); err != nil {
		return err
	}

	_, err := g.client.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category": bybitCategorySpot,
		"symbol":   venueSymbol(pair),
		"orderId":  orderID,
	}).CancelOrder(ctx)
	if err != nil {
		return errors.Wrap(op, pair, err)
	}
	return nil
}

func (g *bybitGateway) ListOpenOrders(ctx context.Context, pair string) ([]OpenOrder, error) {
	const op = "bybit.ListOpenOrders"
	if err := wait(ctx, g.limiter, op, pair); err != nil {
		return nil, err
	}

	result, err := g.client.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category": bybitCategorySpot,
		"symbol":   venueSymbol(pair),
	}).GetOpenOrders(ctx)
	if err != nil {
		return nil, errors.Wrap(op, pair, err)
	}

	var open struct {
		List []struct {
			OrderID     string `json:"orderId"`
			Side        string `json:"side"`
			OrderType   string `json:"orderType"`
			Price       string `json:"price"`
			Qty         string `json:"qty"`
			CreatedTime string `json:"createdTime"`
		} `json:"list"`
	}
	if err := decodeResult(result, &open); err != nil {
		return nil, errors.Wrap(op, pair, err)
	}

	out := make([]OpenOrder, 0, len(open.List))
	for _, o := range open.List {
		side := SideBuy
		if o.Side == "Sell" {
			side = SideSell
		}
		out = append(out, OpenOrder{
			ID:        o.OrderID,
			Pair:      pair,
			Side:      side,
			Type:      o.OrderType,
			Price:     parseFloat(o.Price),
			Quantity:  parseFloat(o.Qty),
			CreatedAt: time.UnixMilli(parseInt(o.CreatedTime)),
		})
	}
	return out, nil
}

func (g *bybitGateway) MinOrderQty(ctx context.Context, pair string) (float64, error) {
	const op = "bybit.MinOrderQty"

	g.mu.Lock()
	if qty, ok := g.minQty[pair]; ok {
		g.mu.Unlock()
		return qty, nil
	}
	g.mu.Unlock()

	if err := wait(ctx, g.limiter, op, pair); err != nil {
		return 0, err
	}
	result, err := g.client.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category": bybitCategorySpot,
		"symbol":   venueSymbol(pair),
	}).GetInstrumentInfo(ctx)
	if err != nil {
		return 0, errors.Wrap(op, pair, err)
	}

	var info struct {
		List []struct {
			LotSizeFilter struct {
				MinOrderQty string `json:"minOrderQty"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	if err := decodeResult(result, &info); err != nil {
		return 0, errors.Wrap(op, pair, err)
	}
	if len(info.List) == 0 {
		return 0, errors.E(errors.KindPairNotPermitted, op, pair, nil)
	}

	qty := parseFloat(info.List[0].LotSizeFilter.MinOrderQty)
	g.mu.Lock()
	g.minQty[pair] = qty
	g.mu.Unlock()
	return qty, nil
}
