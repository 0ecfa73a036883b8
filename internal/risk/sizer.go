// Package risk converts a buy/sell decision into an order size bounded
// by portfolio-relative risk and exchange minimums.
package risk

import (
	stderrors "errors"
	"fmt"

	"github.com/gpreviti/cryptomind/internal/config"
	"github.com/gpreviti/cryptomind/internal/errors"
)

// ErrBelowMinNotional marks a sell whose value is under the configured
// floor; the caller defers it to a later cycle.
var ErrBelowMinNotional = stderrors.New("notional below configured minimum")

// ErrNothingToSell marks a sell request against a zero holding.
var ErrNothingToSell = stderrors.New("no held quantity to sell")

// PortfolioView is the snapshot the sizer prices against.
type PortfolioView struct {
	Liquid     float64 // quote currency available
	TotalValue float64 // liquid plus priced asset value
}

// Order is a sized request: quantity of base asset and its cash value.
type Order struct {
	Quantity float64
	Notional float64
}

type Sizer struct {
	riskPercent     float64
	minBuyNotional  float64
	minSellNotional float64
}

func NewSizer(cfg config.TradingConfig) *Sizer {
	return &Sizer{
		riskPercent:     cfg.RiskPercent,
		minBuyNotional:  cfg.MinBuyNotional,
		minSellNotional: cfg.MinSellNotional,
	}
}

// SizeBuy sizes a buy as a risk-percent slice of total portfolio value,
// floored at the minimum buy notional and raised to the exchange minimum
// quantity when one applies. A notional the liquid balance cannot cover
// is an insufficient-funds skip, not a fatal error.
func (s *Sizer) SizeBuy(view PortfolioView, lastPrice, minExchangeQty float64) (Order, error) {
	if lastPrice <= 0 {
		return Order{}, fmt.Errorf("invalid last price %v", lastPrice)
	}

	notional := view.TotalValue * s.riskPercent / 100
	if notional < s.minBuyNotional {
		notional = s.minBuyNotional
	}
	quantity := notional / lastPrice

	if minExchangeQty > 0 && quantity < minExchangeQty {
		quantity = minExchangeQty
		notional = quantity * lastPrice
	}

	if notional > view.Liquid {
		return Order{}, errors.E(errors.KindInsufficientFunds, "risk.SizeBuy", "",
			fmt.Errorf("notional %.2f exceeds liquid %.2f", notional, view.Liquid))
	}

	return Order{Quantity: quantity, Notional: notional}, nil
}

// SizeSell sizes a sell, defaulting to the full held quantity and always
// capping at it. Sells below the minimum sell notional are deferred.
func (s *Sizer) SizeSell(heldQty, lastPrice, overrideQty float64) (Order, error) {
	if lastPrice <= 0 {
		return Order{}, fmt.Errorf("invalid last price %v", lastPrice)
	}
	if heldQty <= 0 {
		return Order{}, ErrNothingToSell
	}

	quantity := heldQty
	if overrideQty > 0 && overrideQty < heldQty {
		quantity = overrideQty
	}

	notional := quantity * lastPrice
	if notional < s.minSellNotional {
		return Order{}, fmt.Errorf("%w: %.2f < %.2f", ErrBelowMinNotional, notional, s.minSellNotional)
	}

	return Order{Quantity: quantity, Notional: notional}, nil
}
