// Package orchestrator runs the periodic decision loop: build the
// watchlist, aggregate signals per pair, and execute the resulting
// trades through the exchange gateway and the ledger.
package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gpreviti/cryptomind/internal/config"
	"github.com/gpreviti/cryptomind/internal/errors"
	"github.com/gpreviti/cryptomind/internal/exchange"
	"github.com/gpreviti/cryptomind/internal/guards"
	"github.com/gpreviti/cryptomind/internal/market"
	"github.com/gpreviti/cryptomind/internal/monitoring"
	"github.com/gpreviti/cryptomind/internal/portfolio"
	"github.com/gpreviti/cryptomind/internal/pricecache"
	"github.com/gpreviti/cryptomind/internal/risk"
	"github.com/gpreviti/cryptomind/internal/signal"
	"github.com/gpreviti/cryptomind/pkg/logger"
)

// Account bundles one venue connection with its signal pipeline.
type Account struct {
	Name       string
	Gateway    exchange.Gateway
	Aggregator *signal.Aggregator
}

// Deps are the injected collaborators of the loop.
type Deps struct {
	Config     *config.Config
	Accounts   []*Account
	Ledger     *portfolio.Ledger
	Reconciler *portfolio.Reconciler
	Sizer      *risk.Sizer
	Cooldown   *guards.Cooldown
	Blacklist  *guards.Blacklist
	Cache      *pricecache.Cache
	Refresher  *market.Refresher // optional
	Health     *monitoring.HealthChecker
	Journal    *Journal
}

// Orchestrator owns the trading loop lifecycle.
type Orchestrator struct {
	Deps

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	now func() time.Time
}

func New(deps Deps) *Orchestrator {
	if deps.Journal == nil {
		deps.Journal = NewJournal()
	}
	return &Orchestrator{Deps: deps, now: time.Now}
}

// Start launches the loop. Calling Start on a running loop is a no-op.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})
	o.running = true
	go o.run(loopCtx)
}

// Stop cancels the loop and waits for the current cycle to finish.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel, done := o.cancel, o.done
	o.mu.Unlock()

	cancel()
	<-done

	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Events exposes the journal for the facade.
func (o *Orchestrator) Events(limit int) []Event {
	return o.Journal.Recent(limit)
}

func (o *Orchestrator) run(ctx context.Context) {
	defer close(o.done)

	interval := o.Config.CycleInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var failures int
	for {
		if err := o.safeCycle(ctx); err != nil {
			failures++
			logger.Error("cycle failed", zap.Int("consecutive", failures), zap.Error(err))
			if o.Health != nil {
				o.Health.ReportError(err)
			}
			// Backoff grows with consecutive failures, capped at the
			// cycle interval.
			backoff := time.Duration(failures) * 5 * time.Second
			if backoff > interval {
				backoff = interval
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		} else {
			failures = 0
			if o.Health != nil {
				o.Health.CycleCompleted()
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// safeCycle converts a panicking cycle into an error so one poisoned
// pair or venue response cannot kill the loop.
func (o *Orchestrator) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	return o.Cycle(ctx)
}

// Cycle runs one full decision pass over every account and pair.
func (o *Orchestrator) Cycle(ctx context.Context) error {
	start := o.now()

	for _, account := range o.Accounts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := o.cycleAccount(ctx, account); err != nil {
			// A dead venue connection skips the account this cycle;
			// anything else aborts.
			if errors.KindOf(err) == errors.KindNetwork {
				o.Journal.Warn("", fmt.Sprintf("account %s skipped: %v", account.Name, err))
				monitoring.RecordError(errors.KindNetwork.String())
				continue
			}
			return err
		}
	}

	o.publishPortfolio()
	monitoring.RecordCycle(o.now().Sub(start))
	return nil
}

func (o *Orchestrator) cycleAccount(ctx context.Context, account *Account) error {
	if o.Reconciler != nil {
		fetch := tickerPriceFetch(account.Gateway)
		if err := o.Reconciler.Reconcile(ctx, account.Gateway, fetch); err != nil {
			return err
		}
	}

	pairs, err := o.watchlist(ctx, account)
	if err != nil {
		return err
	}
	if o.Refresher != nil {
		o.Refresher.SetWatchlist(pairs)
	}

	var wg sync.WaitGroup
	for _, pair := range pairs {
		if o.Blacklist != nil && o.Blacklist.Contains(pair) {
			continue
		}
		wg.Add(1)
		go func(pair string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Error("pair processing panic",
						zap.String("pair", pair), zap.Any("panic", r))
					o.Journal.Error(pair, fmt.Sprintf("panic: %v", r))
				}
			}()
			o.processPair(ctx, account, pair)
		}(pair)
	}
	wg.Wait()
	return nil
}

// watchlist merges the configured preferred assets with the dynamic
// momentum selection when enabled.
func (o *Orchestrator) watchlist(ctx context.Context, account *Account) ([]string, error) {
	quote := o.Config.Trading.QuoteCurrency
	seen := make(map[string]bool)
	var pairs []string
	for _, asset := range o.Config.Trading.PreferredAssets {
		pair := asset + "/" + quote
		if !seen[pair] {
			seen[pair] = true
			pairs = append(pairs, pair)
		}
	}

	dyn := o.Config.Trading.DynamicSelection
	if !dyn.Enabled {
		return pairs, nil
	}

	tickers, err := account.Gateway.FetchTickers(ctx)
	if err != nil {
		// Dynamic selection is best effort: fall back to the static list.
		logger.Warn("dynamic selection unavailable", zap.Error(err))
		return pairs, nil
	}

	candidates := tickers[:0]
	for _, t := range tickers {
		if t.QuoteVolume >= dyn.MinQuoteVolume {
			candidates = append(candidates, t)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ChangePct24h > candidates[j].ChangePct24h
	})

	added := 0
	for _, t := range candidates {
		if added >= dyn.TopN {
			break
		}
		if seen[t.Symbol] || (o.Blacklist != nil && o.Blacklist.Contains(t.Symbol)) {
			continue
		}
		seen[t.Symbol] = true
		pairs = append(pairs, t.Symbol)
		added++
	}
	return pairs, nil
}

func (o *Orchestrator) processPair(ctx context.Context, account *Account, pair string) {
	sigStart := o.now()
	sig, err := account.Aggregator.Analyze(ctx, pair)
	monitoring.RecordSignalEvaluation(pair, o.now().Sub(sigStart))
	if err != nil {
		kind := errors.KindOf(err)
		monitoring.RecordError(kind.String())
		if kind == errors.KindPairNotPermitted && o.Blacklist != nil {
			o.Blacklist.Add(pair, err.Error())
			monitoring.RecordBlacklistInsertion()
			o.Journal.Warn(pair, "blacklisted: pair not permitted")
			return
		}
		o.Journal.Error(pair, fmt.Sprintf("analysis failed: %v", err))
		return
	}
	if !sig.DataIsReal {
		o.Journal.Info(pair, "held: no timeframe produced data")
		return
	}

	monitoring.UpdatePrice(pair, sig.LastPrice)
	o.Cache.Put(pair, sig.LastPrice)

	// Take-profit and stop-loss fire regardless of what the
	// indicators say.
	if pos, ok := o.Ledger.Position(pair); ok {
		switch {
		case pos.TakeProfitPrice > 0 && sig.LastPrice >= pos.TakeProfitPrice:
			o.executeSell(ctx, account, pair, sig.LastPrice, 0, "take_profit")
			return
		case pos.StopLossPrice > 0 && sig.LastPrice <= pos.StopLossPrice:
			o.executeSell(ctx, account, pair, sig.LastPrice, 0, "stop_loss")
			return
		}
	}

	switch sig.Decision {
	case signal.DecisionBuy:
		o.executeBuy(ctx, account, pair, sig)
	case signal.DecisionSell:
		o.executeSell(ctx, account, pair, sig.LastPrice, 0, "signal")
	}
}

func (o *Orchestrator) executeBuy(ctx context.Context, account *Account, pair string, sig *signal.AggregatedSignal) {
	if o.Cooldown != nil && o.Cooldown.Active(pair, o.now()) {
		o.Journal.Info(pair, "buy suppressed: cooldown active")
		return
	}

	minQty, err := account.Gateway.MinOrderQty(ctx, pair)
	if err != nil {
		logger.Debug("min order quantity unavailable", zap.String("pair", pair), zap.Error(err))
		minQty = 0
	}

	snap := o.Ledger.Snapshot()
	view := risk.PortfolioView{
		Liquid:     snap.Liquid,
		TotalValue: o.Ledger.TotalValue(o.assetPrices()),
	}
	order, err := o.Sizer.SizeBuy(view, sig.LastPrice, minQty)
	if err != nil {
		if errors.IsKind(err, errors.KindInsufficientFunds) {
			o.Journal.Info(pair, "buy skipped: insufficient funds")
			return
		}
		o.Journal.Error(pair, fmt.Sprintf("buy sizing failed: %v", err))
		return
	}

	o.cancelOpenOrders(ctx, account, pair)

	fill, err := account.Gateway.PlaceMarketOrder(ctx, pair, exchange.SideBuy, order.Quantity)
	if err != nil {
		o.handleOrderError(pair, "buy", err)
		return
	}

	if _, err := o.Ledger.ExecuteBuy(account.Name, pair, fill.Quantity, fill.AvgPrice, fill.Fees, sig.StopLossPrice); err != nil {
		logger.Error("buy fill not recorded", zap.String("pair", pair), zap.Error(err))
		o.Journal.Error(pair, fmt.Sprintf("buy fill not recorded: %v", err))
		return
	}
	o.placeProtectiveStop(ctx, account, pair, fill, sig.StopLossPrice)
	monitoring.RecordTrade(pair, exchange.SideBuy)
	o.Journal.Info(pair, fmt.Sprintf("bought %.8f at %.8f", fill.Quantity, fill.AvgPrice))
}

// placeProtectiveStop rests a static stop sell on the venue after a
// filled buy, enabled by the trailing-stop configuration. Placement is
// best effort: the loop-level breach check still covers the position
// when the venue rejects the order.
func (o *Orchestrator) placeProtectiveStop(ctx context.Context, account *Account, pair string, fill exchange.Fill, stopPrice float64) {
	trailingPct := o.Config.Trading.TrailingStopPercent
	if trailingPct <= 0 || fill.Quantity <= 0 {
		return
	}
	if stopPrice <= 0 {
		stopPrice = fill.AvgPrice * (1 - trailingPct/100)
	}
	orderID, err := account.Gateway.PlaceStopOrder(ctx, pair, exchange.SideSell, fill.Quantity, stopPrice)
	if err != nil {
		logger.Warn("protective stop not placed",
			zap.String("pair", pair), zap.Float64("stop", stopPrice), zap.Error(err))
		return
	}
	o.Journal.Info(pair, fmt.Sprintf("protective stop %s resting at %.8f", orderID, stopPrice))
}

func (o *Orchestrator) executeSell(ctx context.Context, account *Account, pair string, lastPrice, overrideQty float64, reason string) {
	held := o.heldQuantity(pair)
	order, err := o.Sizer.SizeSell(held, lastPrice, overrideQty)
	if err != nil {
		switch {
		case stderrors.Is(err, risk.ErrNothingToSell):
			// Nothing held, nothing to do.
		case stderrors.Is(err, risk.ErrBelowMinNotional):
			o.Journal.Info(pair, "sell deferred: below minimum notional")
		default:
			o.Journal.Error(pair, fmt.Sprintf("sell sizing failed: %v", err))
		}
		return
	}

	o.cancelOpenOrders(ctx, account, pair)

	fill, err := account.Gateway.PlaceMarketOrder(ctx, pair, exchange.SideSell, order.Quantity)
	if err != nil {
		o.handleOrderError(pair, "sell", err)
		return
	}

	if _, err := o.Ledger.ExecuteSell(account.Name, pair, fill.Quantity, fill.AvgPrice, fill.Fees, reason); err != nil {
		logger.Error("sell fill not recorded", zap.String("pair", pair), zap.Error(err))
		o.Journal.Error(pair, fmt.Sprintf("sell fill not recorded: %v", err))
		return
	}
	if o.Cooldown != nil {
		o.Cooldown.RecordSale(pair, o.now())
	}
	monitoring.RecordTrade(pair, exchange.SideSell)
	o.Journal.Info(pair, fmt.Sprintf("sold %.8f at %.8f (%s)", fill.Quantity, fill.AvgPrice, reason))
}

// ForceBuy places an operator-initiated market buy on the primary
// account, bypassing signal and cooldown checks. A zero notional falls
// back to the risk-sized amount.
func (o *Orchestrator) ForceBuy(ctx context.Context, pair string, notional float64) (portfolio.Trade, error) {
	if len(o.Accounts) == 0 {
		return portfolio.Trade{}, fmt.Errorf("no active accounts")
	}
	account := o.Accounts[0]

	ticker, err := account.Gateway.FetchTicker(ctx, pair)
	if err != nil {
		return portfolio.Trade{}, err
	}

	quantity := notional / ticker.Price
	if notional <= 0 {
		snap := o.Ledger.Snapshot()
		view := risk.PortfolioView{
			Liquid:     snap.Liquid,
			TotalValue: o.Ledger.TotalValue(o.assetPrices()),
		}
		minQty, _ := account.Gateway.MinOrderQty(ctx, pair)
		order, err := o.Sizer.SizeBuy(view, ticker.Price, minQty)
		if err != nil {
			return portfolio.Trade{}, err
		}
		quantity = order.Quantity
	}

	fill, err := account.Gateway.PlaceMarketOrder(ctx, pair, exchange.SideBuy, quantity)
	if err != nil {
		return portfolio.Trade{}, err
	}

	var stopLoss float64
	if pct := o.Config.Trading.StopLossPercent; pct > 0 {
		stopLoss = fill.AvgPrice * (1 - pct/100)
	}
	trade, err := o.Ledger.ExecuteBuy(account.Name, pair, fill.Quantity, fill.AvgPrice, fill.Fees, stopLoss)
	if err != nil {
		return portfolio.Trade{}, err
	}
	o.placeProtectiveStop(ctx, account, pair, fill, stopLoss)
	monitoring.RecordTrade(pair, exchange.SideBuy)
	o.Journal.Info(pair, fmt.Sprintf("manual buy %.8f at %.8f", fill.Quantity, fill.AvgPrice))
	return trade, nil
}

// ForceSell places an operator-initiated market sell on the primary
// account. A zero quantity sells the full holding.
func (o *Orchestrator) ForceSell(ctx context.Context, pair string, quantity float64) (portfolio.Trade, error) {
	if len(o.Accounts) == 0 {
		return portfolio.Trade{}, fmt.Errorf("no active accounts")
	}
	account := o.Accounts[0]

	ticker, err := account.Gateway.FetchTicker(ctx, pair)
	if err != nil {
		return portfolio.Trade{}, err
	}
	order, err := o.Sizer.SizeSell(o.heldQuantity(pair), ticker.Price, quantity)
	if err != nil {
		return portfolio.Trade{}, err
	}

	o.cancelOpenOrders(ctx, account, pair)
	fill, err := account.Gateway.PlaceMarketOrder(ctx, pair, exchange.SideSell, order.Quantity)
	if err != nil {
		return portfolio.Trade{}, err
	}

	trade, err := o.Ledger.ExecuteSell(account.Name, pair, fill.Quantity, fill.AvgPrice, fill.Fees, "manual")
	if err != nil {
		return portfolio.Trade{}, err
	}
	if o.Cooldown != nil {
		o.Cooldown.RecordSale(pair, o.now())
	}
	monitoring.RecordTrade(pair, exchange.SideSell)
	o.Journal.Info(pair, fmt.Sprintf("manual sell %.8f at %.8f", fill.Quantity, fill.AvgPrice))
	return trade, nil
}

// SignalFor computes the aggregated signal for one pair on demand.
func (o *Orchestrator) SignalFor(ctx context.Context, pair string) (*signal.AggregatedSignal, error) {
	if len(o.Accounts) == 0 {
		return nil, fmt.Errorf("no active accounts")
	}
	return o.Accounts[0].Aggregator.Analyze(ctx, pair)
}

func (o *Orchestrator) handleOrderError(pair, side string, err error) {
	kind := errors.KindOf(err)
	monitoring.RecordError(kind.String())
	switch kind {
	case errors.KindPairNotPermitted:
		if o.Blacklist != nil {
			o.Blacklist.Add(pair, err.Error())
			monitoring.RecordBlacklistInsertion()
		}
		o.Journal.Warn(pair, "blacklisted: order rejected as not permitted")
	case errors.KindInsufficientFunds, errors.KindInvalidOrder:
		o.Journal.Info(pair, fmt.Sprintf("%s skipped: %s", side, kind))
	default:
		o.Journal.Error(pair, fmt.Sprintf("%s failed: %v", side, err))
	}
}

// cancelOpenOrders clears resting orders for the pair so they cannot
// race the market order about to be placed.
func (o *Orchestrator) cancelOpenOrders(ctx context.Context, account *Account, pair string) {
	open, err := account.Gateway.ListOpenOrders(ctx, pair)
	if err != nil {
		logger.Debug("open order listing failed", zap.String("pair", pair), zap.Error(err))
		return
	}
	for _, order := range open {
		if err := account.Gateway.CancelOrder(ctx, pair, order.ID); err != nil {
			logger.Warn("open order not cancelled",
				zap.String("pair", pair), zap.String("order", order.ID), zap.Error(err))
		}
	}
}

// heldQuantity is the sellable base quantity for a pair: the open
// position when one exists, otherwise the reconciled asset balance.
func (o *Orchestrator) heldQuantity(pair string) float64 {
	if pos, ok := o.Ledger.Position(pair); ok {
		return pos.Quantity
	}
	snap := o.Ledger.Snapshot()
	return snap.Assets[baseOf(pair)]
}

// assetPrices projects the price cache onto base symbols for valuation.
func (o *Orchestrator) assetPrices() map[string]float64 {
	prices := make(map[string]float64)
	for pair, price := range o.Cache.Snapshot() {
		prices[baseOf(pair)] = price
	}
	return prices
}

func (o *Orchestrator) publishPortfolio() {
	snap := o.Ledger.Snapshot()
	total := o.Ledger.TotalValue(o.assetPrices())
	monitoring.UpdatePortfolio(snap.Liquid, total, len(snap.Positions))
}

func baseOf(pair string) string {
	if i := strings.IndexByte(pair, '/'); i > 0 {
		return pair[:i]
	}
	return pair
}

func tickerPriceFetch(gateway exchange.Gateway) pricecache.FetchFunc {
	return func(ctx context.Context, pair string) (float64, error) {
		ticker, err := gateway.FetchTicker(ctx, pair)
		if err != nil {
			return 0, err
		}
		return ticker.Price, nil
	}
}
