// Package portfolio owns the position ledger: balances, open positions,
// realized P&L and the trade log. All mutation goes through ExecuteBuy
// and ExecuteSell, which serialize updates under one lock and persist
// the resulting state.
package portfolio

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gpreviti/cryptomind/internal/config"
	"github.com/gpreviti/cryptomind/internal/storage"
	"github.com/gpreviti/cryptomind/pkg/logger"
)

// PositionEpsilon is the quantity below which a position counts as
// closed. 1e-9 is strict enough that dust on low-precision assets is
// not silently discarded.
const PositionEpsilon = 1e-9

// Position is the open holding for one base asset.
type Position struct {
	Pair            string
	Quantity        float64
	AvgPrice        float64
	Fees            float64 // accumulated acquisition fees
	OpenedAt        time.Time
	TakeProfitPrice float64 // 0 when unset
	StopLossPrice   float64 // 0 when unset
}

// Trade is an immutable ledger entry.
type Trade struct {
	ID          string
	Timestamp   time.Time
	Account     string
	Pair        string
	Side        string // "buy"/"sell"
	Quantity    float64
	Price       float64
	Notional    float64
	Fees        float64
	RealizedPnL float64
	PnLPercent  *float64 // nil when cost basis is unknown
	Reason      string
}

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Snapshot is a point-in-time copy of the ledger for readers.
type Snapshot struct {
	InitialValue float64
	Liquid       float64
	RealizedPnL  float64
	Assets       map[string]float64
	Positions    map[string]Position
}

// Persistence is what the ledger needs from the store. Satisfied by
// *storage.Store; nil disables persistence (tests, dry runs).
type Persistence interface {
	SaveTrade(storage.TradeRecord) error
	SavePortfolio(storage.PortfolioRecord, []storage.PositionRecord, map[string]float64) error
}

// Loader restores persisted ledger state at construction.
type Loader interface {
	LoadPortfolio() (storage.PortfolioRecord, []storage.PositionRecord, map[string]float64, bool, error)
}

type Ledger struct {
	mu sync.Mutex

	store         Persistence
	takeProfitPct float64

	initialValue float64
	liquid       float64
	realizedPnL  float64
	assets       map[string]float64
	positions    map[string]*Position

	now   func() time.Time
	newID func() string
}

// NewLedger builds the ledger from persisted state when available,
// otherwise from the configured initial budget.
func NewLedger(store *storage.Store, cfg config.TradingConfig, initialBudget float64) (*Ledger, error) {
	l := &Ledger{
		takeProfitPct: cfg.TakeProfitPercent,
		initialValue:  initialBudget,
		liquid:        initialBudget,
		assets:        make(map[string]float64),
		positions:     make(map[string]*Position),
		now:           time.Now,
		newID:         func() string { return uuid.NewString() },
	}
	if store != nil {
		l.store = store
		record, positions, assets, ok, err := store.LoadPortfolio()
		if err != nil {
			return nil, fmt.Errorf("load portfolio: %w", err)
		}
		if ok {
			l.initialValue = record.InitialValue
			l.liquid = record.Liquid
			l.realizedPnL = record.RealizedPnL
			for s, q := range assets {
				l.assets[s] = q
			}
			for _, p := range positions {
				pos := &Position{
					Pair:     p.Pair,
					Quantity: p.Quantity,
					AvgPrice: p.AvgPrice,
					Fees:     p.Fees,
					OpenedAt: p.OpenedAt,
				}
				if p.TakeProfit != nil {
					pos.TakeProfitPrice = *p.TakeProfit
				}
				if p.StopLoss != nil {
					pos.StopLossPrice = *p.StopLoss
				}
				l.positions[baseSymbol(p.Pair)] = pos
			}
		}
	}
	return l, nil
}

func baseSymbol(pair string) string {
	if i := strings.IndexByte(pair, '/'); i > 0 {
		return pair[:i]
	}
	return pair
}

// ExecuteBuy records a filled buy: deducts cost from the liquid balance,
// grows the asset quantity and creates or averages up the position.
func (l *Ledger) ExecuteBuy(account, pair string, quantity, price, fees, stopLossPrice float64) (Trade, error) {
	if quantity <= 0 || price <= 0 {
		return Trade{}, fmt.Errorf("invalid buy %s: quantity=%v price=%v", pair, quantity, price)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cost := quantity*price + fees
	if cost > l.liquid+PositionEpsilon {
		return Trade{}, fmt.Errorf("buy %s costs %.8f but liquid is %.8f", pair, cost, l.liquid)
	}

	base := baseSymbol(pair)
	l.liquid -= cost
	l.assets[base] += quantity

	pos, ok := l.positions[base]
	if !ok || pos.Quantity < PositionEpsilon {
		pos = &Position{
			Pair:     pair,
			Quantity: quantity,
			AvgPrice: price,
			Fees:     fees,
			OpenedAt: l.now(),
		}
		l.positions[base] = pos
	} else {
		total := pos.Quantity + quantity
		pos.AvgPrice = (pos.Quantity*pos.AvgPrice + quantity*price) / total
		pos.Quantity = total
		pos.Fees += fees
	}
	if l.takeProfitPct > 0 {
		pos.TakeProfitPrice = price * (1 + l.takeProfitPct/100)
	}
	if stopLossPrice > 0 {
		pos.StopLossPrice = stopLossPrice
	}

	trade := Trade{
		ID:        l.newID(),
		Timestamp: l.now(),
		Account:   account,
		Pair:      pair,
		Side:      SideBuy,
		Quantity:  quantity,
		Price:     price,
		Notional:  quantity * price,
		Fees:      fees,
	}
	l.persist(trade)
	return trade, nil
}

// ExecuteSell records a filled sell. Realized P&L is proceeds minus the
// proportional fee-inclusive cost basis; with no open position the full
// proceeds are realized (cost basis unknown, treated as zero) and
// PnLPercent stays nil.
func (l *Ledger) ExecuteSell(account, pair string, quantity, price, fees float64, reason string) (Trade, error) {
	if quantity <= 0 || price <= 0 {
		return Trade{}, fmt.Errorf("invalid sell %s: quantity=%v price=%v", pair, quantity, price)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	base := baseSymbol(pair)
	pos := l.positions[base]

	// Sizing caps sell quantity at the holding; exceeding it here is a
	// caller bug, not something to clamp.
	if pos != nil && quantity > pos.Quantity+PositionEpsilon {
		return Trade{}, fmt.Errorf("sell %s for %.10f exceeds held %.10f", pair, quantity, pos.Quantity)
	}

	proceeds := quantity*price - fees

	var costBasis float64
	if pos != nil && pos.Quantity > PositionEpsilon {
		fraction := quantity / pos.Quantity
		costBasis = fraction * (pos.Quantity*pos.AvgPrice + pos.Fees)
		pos.Fees -= fraction * pos.Fees
		pos.Quantity -= quantity
		if pos.Quantity < PositionEpsilon {
			delete(l.positions, base)
		}
	}

	realized := proceeds - costBasis
	var pnlPercent *float64
	if costBasis > 0 {
		pct := realized / costBasis * 100
		pnlPercent = &pct
	}

	l.liquid += proceeds
	l.realizedPnL += realized
	l.assets[base] -= quantity
	if l.assets[base] < PositionEpsilon {
		delete(l.assets, base)
	}

	trade := Trade{
		ID:          l.newID(),
		Timestamp:   l.now(),
		Account:     account,
		Pair:        pair,
		Side:        SideSell,
		Quantity:    quantity,
		Price:       price,
		Notional:    quantity * price,
		Fees:        fees,
		RealizedPnL: realized,
		PnLPercent:  pnlPercent,
		Reason:      reason,
	}
	l.persist(trade)
	return trade, nil
}

// ReplaceBalances is the reconciliation entry point: the external
// account state replaces the tracked liquid value and asset map
// wholesale. When the initial value was never really set (zero or still
// the configured default) it becomes the reconciled total.
func (l *Ledger) ReplaceBalances(liquid float64, assets map[string]float64, total, configuredDefault float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.liquid = liquid
	l.assets = make(map[string]float64, len(assets))
	for s, q := range assets {
		l.assets[s] = q
	}
	if l.initialValue == 0 || l.initialValue == configuredDefault {
		l.initialValue = total
	}
	l.persistLocked()
}

// Snapshot copies the ledger state for readers.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := Snapshot{
		InitialValue: l.initialValue,
		Liquid:       l.liquid,
		RealizedPnL:  l.realizedPnL,
		Assets:       make(map[string]float64, len(l.assets)),
		Positions:    make(map[string]Position, len(l.positions)),
	}
	for s, q := range l.assets {
		snap.Assets[s] = q
	}
	for s, p := range l.positions {
		snap.Positions[s] = *p
	}
	return snap
}

// Position returns the open position for a pair's base asset.
func (l *Ledger) Position(pair string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[baseSymbol(pair)]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// TotalValue prices the asset map (symbol -> unit price) and adds the
// liquid balance. Assets without a price contribute nothing.
func (l *Ledger) TotalValue(prices map[string]float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := l.liquid
	for s, q := range l.assets {
		total += q * prices[s]
	}
	return total
}

func (l *Ledger) persist(trade Trade) {
	if l.store == nil {
		return
	}
	record := storage.TradeRecord{
		ID:          trade.ID,
		Timestamp:   trade.Timestamp,
		Account:     trade.Account,
		Pair:        trade.Pair,
		Side:        trade.Side,
		Quantity:    trade.Quantity,
		Price:       trade.Price,
		Notional:    trade.Notional,
		Fees:        trade.Fees,
		RealizedPnL: trade.RealizedPnL,
		PnLPercent:  trade.PnLPercent,
		Reason:      trade.Reason,
	}
	if err := l.store.SaveTrade(record); err != nil {
		logger.Error("trade not persisted", zap.String("trade", trade.ID), zap.Error(err))
	}
	l.persistLocked()
}

// persistLocked writes the portfolio state; the caller holds the lock.
func (l *Ledger) persistLocked() {
	if l.store == nil {
		return
	}
	positions := make([]storage.PositionRecord, 0, len(l.positions))
	for _, p := range l.positions {
		record := storage.PositionRecord{
			Pair:     p.Pair,
			Quantity: p.Quantity,
			AvgPrice: p.AvgPrice,
			Fees:     p.Fees,
			OpenedAt: p.OpenedAt,
		}
		if p.TakeProfitPrice > 0 {
			v := p.TakeProfitPrice
			record.TakeProfit = &v
		}
		if p.StopLossPrice > 0 {
			v := p.StopLossPrice
			record.StopLoss = &v
		}
		positions = append(positions, record)
	}
	err := l.store.SavePortfolio(storage.PortfolioRecord{
		InitialValue: l.initialValue,
		Liquid:       l.liquid,
		RealizedPnL:  l.realizedPnL,
	}, positions, l.assets)
	if err != nil {
		logger.Error("portfolio state not persisted", zap.Error(err))
	}
}
