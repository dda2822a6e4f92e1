// Package limits enforces dealer-side trade limits: a notional cap on any
// single buy and an aggregate exposure cap per metal. Both exist for risk
// and compliance review thresholds, not customer tiering.
package limits

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/bullionworks/trade-engine/internal/model"
)

var (
	// ErrPerTradeLimitExceeded is returned when a single buy's notional
	// exceeds the per-trade maximum.
	ErrPerTradeLimitExceeded = errors.New("limits: per-trade notional limit exceeded")

	// ErrExposureLimitExceeded is returned when a buy would push the
	// customer's holdings in one metal beyond the exposure maximum.
	ErrExposureLimitExceeded = errors.New("limits: per-metal exposure limit exceeded")
)

// TradeLimiter holds the configured caps. A zero cap disables that check.
type TradeLimiter struct {
	// MaxPerTrade is the maximum notional of a single buy, in USD.
	MaxPerTrade decimal.Decimal

	// MaxExposure is the maximum aggregate holding value per metal, in
	// USD, valued at current spot.
	MaxExposure decimal.Decimal
}

// NewTradeLimiter creates a limiter with the given caps.
func NewTradeLimiter(maxPerTrade, maxExposure decimal.Decimal) *TradeLimiter {
	return &TradeLimiter{MaxPerTrade: maxPerTrade, MaxExposure: maxExposure}
}

// CheckBuy validates a prospective buy of notional USD against the caps.
// exposure is the customer's current holding value per metal; a nil map
// means no existing holdings.
func (l *TradeLimiter) CheckBuy(metal model.Metal, notional decimal.Decimal, exposure map[model.Metal]decimal.Decimal) error {
	if l.MaxPerTrade.IsPositive() && notional.GreaterThan(l.MaxPerTrade) {
		return ErrPerTradeLimitExceeded
	}
	if l.MaxExposure.IsPositive() {
		if exposure[metal].Add(notional).GreaterThan(l.MaxExposure) {
			return ErrExposureLimitExceeded
		}
	}
	return nil
}
