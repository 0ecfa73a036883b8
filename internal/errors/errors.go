// Package errors defines the error taxonomy for the trading core.
// Fallible boundaries return a TradingError carrying a Kind so callers
// branch on kind instead of matching message text.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure for recovery decisions.
type Kind int

const (
	// KindInternal is the zero value: an unexpected failure.
	KindInternal Kind = iota

	// KindDataInsufficient marks too few candles or an undefined
	// indicator value. Degrades a timeframe or asset, never fatal.
	KindDataInsufficient

	// KindPairNotPermitted marks an exchange rejection of the pair
	// itself. Triggers a permanent blacklist insertion.
	KindPairNotPermitted

	// KindInsufficientFunds marks a buy the account cannot cover.
	KindInsufficientFunds

	// KindInvalidOrder marks precision or minimum-amount rejections.
	KindInvalidOrder

	// KindAuth marks credential failures.
	KindAuth

	// KindRateLimit marks throttling by the exchange.
	KindRateLimit

	// KindNetwork marks connectivity and generic exchange failures.
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindDataInsufficient:
		return "data_insufficient"
	case KindPairNotPermitted:
		return "pair_not_permitted"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindInvalidOrder:
		return "invalid_order"
	case KindAuth:
		return "auth"
	case KindRateLimit:
		return "rate_limit"
	case KindNetwork:
		return "network"
	default:
		return "internal"
	}
}

// TradingError is the error type used across the trading core.
type TradingError struct {
	Kind      Kind
	Op        string // operation that failed, e.g. "exchange.FetchCandles"
	Pair      string // trading pair, when relevant
	Err       error
	Retryable bool
}

func (e *TradingError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Pair != "" {
		fmt.Fprintf(&b, " [%s]", e.Pair)
	}
	fmt.Fprintf(&b, ": %s", e.Kind)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *TradingError) Unwrap() error { return e.Err }

// E builds a TradingError with the default retryability for the kind.
func E(kind Kind, op, pair string, err error) *TradingError {
	return &TradingError{
		Kind:      kind,
		Op:        op,
		Pair:      pair,
		Err:       err,
		Retryable: defaultRetryable(kind),
	}
}

func defaultRetryable(kind Kind) bool {
	switch kind {
	case KindNetwork, KindRateLimit:
		return true
	default:
		return false
	}
}

// KindOf extracts the Kind from an error chain, KindInternal otherwise.
func KindOf(err error) Kind {
	var te *TradingError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var te *TradingError
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	var te *TradingError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}

// Categorize maps a raw exchange error message onto a Kind by substring.
// "-2010" is the Binance code for order rejections, which in practice
// accompanies both not-permitted pairs and balance problems; the phrase
// checks run first so the more specific kind wins.
func Categorize(err error) Kind {
	if err == nil {
		return KindInternal
	}
	if te := (*TradingError)(nil); errors.As(err, &te) {
		return te.Kind
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "not permitted"),
		strings.Contains(msg, "not supported"),
		strings.Contains(msg, "invalid symbol"),
		strings.Contains(msg, "-2010"):
		return KindPairNotPermitted
	case strings.Contains(msg, "insufficient"),
		strings.Contains(msg, "balance"):
		return KindInsufficientFunds
	case strings.Contains(msg, "lot_size"),
		strings.Contains(msg, "min_notional"),
		strings.Contains(msg, "precision"),
		strings.Contains(msg, "minimum amount"):
		return KindInvalidOrder
	case strings.Contains(msg, "api-key"),
		strings.Contains(msg, "api key"),
		strings.Contains(msg, "signature"),
		strings.Contains(msg, "unauthorized"):
		return KindAuth
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "-1003"):
		return KindRateLimit
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection"),
		strings.Contains(msg, "network"),
		strings.Contains(msg, "eof"):
		return KindNetwork
	}
	return KindInternal
}

// Wrap categorizes a raw error and wraps it as a TradingError.
func Wrap(op, pair string, err error) error {
	if err == nil {
		return nil
	}
	var te *TradingError
	if errors.As(err, &te) {
		return err
	}
	return E(Categorize(err), op, pair, err)
}
