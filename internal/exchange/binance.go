package exchange

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"

	"github.com/gpreviti/cryptomind/internal/config"
	"github.com/gpreviti/cryptomind/internal/errors"
	"github.com/gpreviti/cryptomind/pkg/types"
)

const binanceTestnetURL = "https://testnet.binance.vision"

type binanceGateway struct {
	account config.AccountConfig
	quote   string
	client  *binance.Client
	limiter *rate.Limiter

	mu     sync.Mutex
	minQty map[string]float64
}

func newBinanceGateway(account config.AccountConfig, quote string, limiter *rate.Limiter) *binanceGateway {
	return &binanceGateway{
		account: account,
		quote:   quote,
		limiter: limiter,
		minQty:  make(map[string]float64),
	}
}

func (g *binanceGateway) Name() string { return "binance" }

func (g *binanceGateway) Connect(ctx context.Context) error {
	client := binance.NewClient(g.account.APIKey, g.account.APISecret)
	if g.account.Testnet {
		client.SetApiEndpoint(binanceTestnetURL)
	}
	g.client = client

	if err := wait(ctx, g.limiter, "binance.Connect", ""); err != nil {
		return err
	}
	if err := client.NewPingService().Do(ctx); err != nil {
		return errors.Wrap("binance.Connect", "", err)
	}
	return nil
}

func (g *binanceGateway) Close() error { return nil }

// binanceInterval maps internal timeframes onto Binance kline intervals,
// which happen to use the same notation.
func binanceInterval(timeframe string) string { return timeframe }

func (g *binanceGateway) FetchCandles(ctx context.Context, pair, timeframe string, limit int) ([]types.Candle, error) {
	const op = "binance.FetchCandles"
	if err := wait(ctx, g.limiter, op, pair); err != nil {
		return nil, err
	}

	klines, err := g.client.NewKlinesService().
		Symbol(venueSymbol(pair)).
		Interval(binanceInterval(timeframe)).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrap(op, pair, err)
	}

	candles := make([]types.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, types.Candle{
			Timestamp: time.UnixMilli(k.OpenTime),
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
		})
	}
	return candles, nil
}

func (g *binanceGateway) FetchTicker(ctx context.Context, pair string) (types.Ticker, error) {
	const op = "binance.FetchTicker"
	if err := wait(ctx, g.limiter, op, pair); err != nil {
		return types.Ticker{}, err
	}

	stats, err := g.client.NewListPriceChangeStatsService().
		Symbol(venueSymbol(pair)).
		Do(ctx)
	if err != nil {
		return types.Ticker{}, errors.Wrap(op, pair, err)
	}
	if len(stats) == 0 {
		return types.Ticker{}, errors.E(errors.KindPairNotPermitted, op, pair, nil)
	}
	return binanceTicker(stats[0], pair), nil
}

func (g *binanceGateway) FetchTickers(ctx context.Context) ([]types.Ticker, error) {
	const op = "binance.FetchTickers"
	if err := wait(ctx, g.limiter, op, ""); err != nil {
		return nil, err
	}

	stats, err := g.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(op, "", err)
	}

	var tickers []types.Ticker
	for _, s := range stats {
		pair, ok := pairFromSymbol(s.Symbol, g.quote)
		if !ok {
			continue
		}
		tickers = append(tickers, binanceTicker(s, pair))
	}
	return tickers, nil
}

func binanceTicker(s *binance.PriceChangeStats, pair string) types.Ticker {
	return types.Ticker{
		Symbol:       pair,
		Price:        parseFloat(s.LastPrice),
		QuoteVolume:  parseFloat(s.QuoteVolume),
		ChangePct24h: parseFloat(s.PriceChangePercent),
		Timestamp:    time.UnixMilli(s.CloseTime),
	}
}

func (g *binanceGateway) FetchBalances(ctx context.Context) (map[string]float64, error) {
	const op = "binance.FetchBalances"
	if err := wait(ctx, g.limiter, op, ""); err != nil {
		return nil, err
	}

	account, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(op, "", err)
	}

	balances := make(map[string]float64)
	for _, b := range account.Balances {
		total := parseFloat(b.Free) + parseFloat(b.Locked)
		if total > 0 {
			balances[b.Asset] = total
		}
	}
	return balances, nil
}

func binanceSide(side string) binance.SideType {
	if side == SideSell {
		return binance.SideTypeSell
	}
	return binance.SideTypeBuy
}

func (g *binanceGateway) PlaceMarketOrder(ctx context.Context, pair, side string, quantity float64) (Fill, error) {
	const op = "binance.PlaceMarketOrder"
	if err := wait(ctx, g.limiter, op, pair); err != nil {
		return Fill{}, err
	}

	resp, err := g.client.NewCreateOrderService().
		Symbol(venueSymbol(pair)).
		Side(binanceSide(side)).
		Type(binance.OrderTypeMarket).
		Quantity(formatQty(quantity)).
		Do(ctx)
	if err != nil {
		return Fill{}, errors.Wrap(op, pair, err)
	}

	executed := parseFloat(resp.ExecutedQuantity)
	quoteSpent := parseFloat(resp.CummulativeQuoteQuantity)
	fill := Fill{
		OrderID:  strconv64(resp.OrderID),
		Quantity: executed,
	}
	if executed > 0 {
		fill.AvgPrice = quoteSpent / executed
	}
	fill.Fees = binanceFillFees(resp.Fills, pair, g.quote, fill.AvgPrice)
	return fill, nil
}

// binanceFillFees sums commissions in quote terms. Commission paid in the
// base asset is valued at the fill's average price; commission in a third
// asset (BNB discounts) cannot be priced here and is ignored.
func binanceFillFees(fills []*binance.Fill, pair, quote string, avgPrice float64) float64 {
	base := strings.TrimSuffix(venueSymbol(pair), quote)
	var fees float64
	for _, f := range fills {
		commission := parseFloat(f.Commission)
		switch f.CommissionAsset {
		case quote:
			fees += commission
		case base:
			fees += commission * avgPrice
		}
	}
	return fees
}

func (g *binanceGateway) PlaceLimitOrder(ctx context.Context, pair, side string, quantity, price float64) (string, error) {
	const op = "binance.PlaceLimitOrder"
	if err := wait(ctx, g.limiter, op, pair); err != nil {
		return "", err
	}

	resp, err := g.client.NewCreateOrderService().
		Symbol(venueSymbol(pair)).
		Side(binanceSide(side)).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(formatQty(quantity)).
		Price(formatQty(price)).
		Do(ctx)
	if err != nil {
		return "", errors.Wrap(op, pair, err)
	}
	return strconv64(resp.OrderID), nil
}

func (g *binanceGateway) PlaceStopOrder(ctx context.Context, pair, side string, quantity, stopPrice float64) (string, error) {
	const op = "binance.PlaceStopOrder"
	if err := wait(ctx, g.limiter, op, pair); err != nil {
		return "", err
	}

	// Stop-loss-limit with the limit set at the trigger. Spot has no
	// plain stop-market order type.
	resp, err := g.client.NewCreateOrderService().
		Symbol(venueSymbol(pair)).
		Side(binanceSide(side)).
		Type(binance.OrderTypeStopLossLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(formatQty(quantity)).
		Price(formatQty(stopPrice)).
		StopPrice(formatQty(stopPrice)).
		Do(ctx)
	if err != nil {
		return "", errors.Wrap(op, pair, err)
	}
	return strconv64(resp.OrderID), nil
}

func (g *binanceGateway) CancelOrder(ctx context.Context, pair, orderID string) error {
	const op = "binance.CancelOrder"
	if err := wait(ctx, g.limiter, op, pair); err != nil {
		return err
	}

	_, err := g.client.NewCancelOrderService().
		Symbol(venueSymbol(pair)).
		OrderID(parseInt(orderID)).
		Do(ctx)
	if err != nil {
		return errors.Wrap(op, pair, err)
	}
	return nil
}

func (g *binanceGateway) ListOpenOrders(ctx context.Context, pair string) ([]OpenOrder, error) {
	const op = "binance.ListOpenOrders"
	if err := wait(ctx, g.limiter, op, pair); err != nil {
		return nil, err
	}

	orders, err := g.client.NewListOpenOrdersService().
		Symbol(venueSymbol(pair)).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrap(op, pair, err)
	}

	out := make([]OpenOrder, 0, len(orders))
	for _, o := range orders {
		out = append(out, OpenOrder{
			ID:        strconv64(o.OrderID),
			Pair:      pair,
			Side:      strings.ToLower(string(o.Side)),
			Type:      strings.ToLower(string(o.Type)),
			Price:     parseFloat(o.Price),
			Quantity:  parseFloat(o.OrigQuantity),
			CreatedAt: time.UnixMilli(o.Time),
		})
	}
	return out, nil
}

func (g *binanceGateway) MinOrderQty(ctx context.Context, pair string) (float64, error) {
	const op = "binance.MinOrderQty"

	g.mu.Lock()
	if qty, ok := g.minQty[pair]; ok {
		g.mu.Unlock()
		return qty, nil
	}
	g.mu.Unlock()

	if err := wait(ctx, g.limiter, op, pair); err != nil {
		return 0, err
	}
	info, err := g.client.NewExchangeInfoService().
		Symbol(venueSymbol(pair)).
		Do(ctx)
	if err != nil {
		return 0, errors.Wrap(op, pair, err)
	}
	if len(info.Symbols) == 0 {
		return 0, errors.E(errors.KindPairNotPermitted, op, pair, nil)
	}

	var qty float64
	if f := info.Symbols[0].LotSizeFilter(); f != nil {
		qty = parseFloat(f.MinQuantity)
	}
	g.mu.Lock()
	g.minQty[pair] = qty
	g.mu.Unlock()
	return qty, nil
}
