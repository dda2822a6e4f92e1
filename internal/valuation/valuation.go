// Package valuation computes current market values of holdings from a spot
// price snapshot. All functions are pure: no I/O, no mutable state, and
// monotonic non-decreasing in the spot price.
package valuation

import (
	"github.com/shopspring/decimal"

	"github.com/bullionworks/trade-engine/internal/model"
	"github.com/bullionworks/trade-engine/internal/weight"
)

// ItemValue returns the current market value of one holding line:
// spot price per troy ounce times pure-metal ounce content.
func ItemValue(item model.HoldingItem, spotPerOz decimal.Decimal) decimal.Decimal {
	return spotPerOz.Mul(weight.PureOunces(item))
}

// PortfolioValue returns cash balance plus the mark-to-market value of all
// holdings. Metals missing from the snapshot contribute zero.
func PortfolioValue(cash decimal.Decimal, holdings []model.HoldingItem, spots map[model.Metal]decimal.Decimal) decimal.Decimal {
	total := cash
	for _, h := range holdings {
		total = total.Add(ItemValue(h, spots[h.Metal]))
	}
	return total
}

// AllocationByMetal returns the mark-to-market value of holdings grouped by
// metal, for allocation breakdowns.
func AllocationByMetal(holdings []model.HoldingItem, spots map[model.Metal]decimal.Decimal) map[model.Metal]decimal.Decimal {
	alloc := make(map[model.Metal]decimal.Decimal)
	for _, h := range holdings {
		alloc[h.Metal] = alloc[h.Metal].Add(ItemValue(h, spots[h.Metal]))
	}
	return alloc
}
