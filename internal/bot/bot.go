// Package bot is the operator facade: a thin direct-call surface over
// the orchestrator, ledger, guards and reporting. It holds no business
// logic of its own.
package bot

import (
	"context"
	"fmt"

	"github.com/gpreviti/cryptomind/internal/guards"
	"github.com/gpreviti/cryptomind/internal/orchestrator"
	"github.com/gpreviti/cryptomind/internal/portfolio"
	"github.com/gpreviti/cryptomind/internal/reporting"
	"github.com/gpreviti/cryptomind/internal/signal"
	"github.com/gpreviti/cryptomind/internal/storage"
)

// Bot exposes the running system to the operator.
type Bot struct {
	orch      *orchestrator.Orchestrator
	ledger    *portfolio.Ledger
	blacklist *guards.Blacklist
	store     *storage.Store // nil when persistence is disabled
}

func New(orch *orchestrator.Orchestrator, ledger *portfolio.Ledger, blacklist *guards.Blacklist, store *storage.Store) *Bot {
	return &Bot{
		orch:      orch,
		ledger:    ledger,
		blacklist: blacklist,
		store:     store,
	}
}

// PortfolioSnapshot returns the current ledger state.
func (b *Bot) PortfolioSnapshot() portfolio.Snapshot {
	return b.ledger.Snapshot()
}

// OpenPositions lists the open positions.
func (b *Bot) OpenPositions() []portfolio.Position {
	snap := b.ledger.Snapshot()
	out := make([]portfolio.Position, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		out = append(out, p)
	}
	return out
}

// SignalFor computes the current aggregated signal for a pair.
func (b *Bot) SignalFor(ctx context.Context, pair string) (*signal.AggregatedSignal, error) {
	return b.orch.SignalFor(ctx, pair)
}

// ForceBuy executes a manual market buy. Zero notional means risk-sized.
func (b *Bot) ForceBuy(ctx context.Context, pair string, notional float64) (portfolio.Trade, error) {
	return b.orch.ForceBuy(ctx, pair, notional)
}

// ForceSell executes a manual market sell. Zero quantity sells all.
func (b *Bot) ForceSell(ctx context.Context, pair string, quantity float64) (portfolio.Trade, error) {
	return b.orch.ForceSell(ctx, pair, quantity)
}

// StartLoop starts the trading loop.
func (b *Bot) StartLoop(ctx context.Context) {
	b.orch.Start(ctx)
}

// StopLoop stops the trading loop, blocking until the cycle in flight
// finishes.
func (b *Bot) StopLoop() {
	b.orch.Stop()
}

// LoopStatus reports whether the loop is running.
func (b *Bot) LoopStatus() bool {
	return b.orch.Running()
}

// BlacklistEntries lists the excluded pairs.
func (b *Bot) BlacklistEntries() []storage.BlacklistEntry {
	return b.blacklist.Entries()
}

// RemoveBlacklistEntry lifts a pair exclusion.
func (b *Bot) RemoveBlacklistEntry(pair string) error {
	return b.blacklist.Remove(pair)
}

// TradeHistory returns the most recent trades, newest first.
func (b *Bot) TradeHistory(limit int) ([]storage.TradeRecord, error) {
	if b.store == nil {
		return nil, fmt.Errorf("trade history requires persistence")
	}
	return b.store.Trades(limit)
}

// Events returns recent loop events, newest first.
func (b *Bot) Events(limit int) []orchestrator.Event {
	return b.orch.Events(limit)
}

// PerformanceReport builds the portfolio performance summary.
func (b *Bot) PerformanceReport() (reporting.PerformanceReport, error) {
	var trades []storage.TradeRecord
	if b.store != nil {
		var err error
		trades, err = b.store.Trades(0)
		if err != nil {
			return reporting.PerformanceReport{}, err
		}
	}
	snap := b.ledger.Snapshot()
	current := b.ledger.TotalValue(lastKnownPrices(snap))
	return reporting.Build(trades, snap.InitialValue, current), nil
}

// lastKnownPrices values assets at their position average entry when no
// fresher price is at hand. The report header shows the reconciled
// total once the loop has priced the assets.
func lastKnownPrices(snap portfolio.Snapshot) map[string]float64 {
	prices := make(map[string]float64, len(snap.Positions))
	for base, pos := range snap.Positions {
		prices[base] = pos.AvgPrice
	}
	return prices
}
