package portfolio

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gpreviti/cryptomind/internal/pricecache"
	"github.com/gpreviti/cryptomind/pkg/logger"
)

// Stablecoins are counted at face value as liquid balance during
// reconciliation instead of being priced.
var Stablecoins = []string{"USDT", "BUSD", "USDC", "DAI", "EUR"}

func isStablecoin(symbol string) bool {
	for _, s := range Stablecoins {
		if s == symbol {
			return true
		}
	}
	return false
}

// BalanceSource supplies authoritative account balances; implemented by
// the exchange gateway.
type BalanceSource interface {
	FetchBalances(ctx context.Context) (map[string]float64, error)
}

// Reconciler rebuilds the ledger's balances from the external account.
type Reconciler struct {
	ledger            *Ledger
	cache             *pricecache.Cache
	quote             string
	configuredDefault float64
}

func NewReconciler(ledger *Ledger, cache *pricecache.Cache, quote string, configuredDefault float64) *Reconciler {
	return &Reconciler{
		ledger:            ledger,
		cache:             cache,
		quote:             quote,
		configuredDefault: configuredDefault,
	}
}

// Reconcile replaces the ledger's liquid value and asset quantities with
// the exchange's account state. Asset prices come from the cache,
// refreshed as needed through fetch; an asset that cannot be priced
// keeps its quantity and contributes zero value this round. Positions
// and trade history are untouched. Running twice against unchanged
// balances yields an unchanged ledger.
func (r *Reconciler) Reconcile(ctx context.Context, source BalanceSource, fetch pricecache.FetchFunc) error {
	balances, err := source.FetchBalances(ctx)
	if err != nil {
		return fmt.Errorf("fetch balances: %w", err)
	}

	var liquid float64
	assets := make(map[string]float64)
	for symbol, qty := range balances {
		if qty <= 0 {
			continue
		}
		if isStablecoin(symbol) {
			liquid += qty
			continue
		}
		assets[symbol] = qty
	}

	pairs := make([]string, 0, len(assets))
	for symbol := range assets {
		pairs = append(pairs, symbol+"/"+r.quote)
	}
	r.cache.RefreshStale(ctx, pairs, fetch)

	total := liquid
	for symbol, qty := range assets {
		price, ok := r.cache.Get(symbol + "/" + r.quote)
		if !ok {
			logger.Warn("asset not priced during reconciliation",
				zap.String("symbol", symbol))
			continue
		}
		total += qty * price
	}

	r.ledger.ReplaceBalances(liquid, assets, total, r.configuredDefault)
	logger.Info("balances reconciled",
		zap.Float64("liquid", liquid),
		zap.Int("assets", len(assets)),
		zap.Float64("total", total))
	return nil
}
