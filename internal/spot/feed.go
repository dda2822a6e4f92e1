// Package spot maintains the engine's view of market spot prices.
//
// A Feed polls an external Source on a fixed cadence and keeps the
// last-known snapshot. Source failures are a silent, logged degradation:
// the previous snapshot (or the static defaults, before the first
// successful poll) keeps serving and the engine never crashes.
package spot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bullionworks/trade-engine/internal/model"
)

// Source is an external spot price provider: metal → USD per troy ounce.
type Source interface {
	Fetch(ctx context.Context) (map[model.Metal]decimal.Decimal, error)
}

// Snapshot is a read-only view of spot prices at one instant. Trades lock
// in the snapshot they quoted against and never re-read mid-flow.
type Snapshot struct {
	Prices map[model.Metal]decimal.Decimal `json:"prices"`
	AsOf   time.Time                       `json:"as_of"`
	Stale  bool                            `json:"stale"` // serving defaults or an old poll
}

// Price returns the price for one metal, zero if absent.
func (s Snapshot) Price(metal model.Metal) decimal.Decimal {
	return s.Prices[metal]
}

// StaticDefaults are the hardcoded fallback prices used until the first
// successful poll. Deliberately conservative round numbers.
func StaticDefaults() map[model.Metal]decimal.Decimal {
	return map[model.Metal]decimal.Decimal{
		model.Gold:      decimal.NewFromInt(2400),
		model.Silver:    decimal.NewFromInt(28),
		model.Platinum:  decimal.NewFromInt(950),
		model.Palladium: decimal.NewFromInt(1000),
	}
}

// Feed polls a Source and serves the last-known snapshot.
type Feed struct {
	source   Source
	interval time.Duration
	onUpdate func(Snapshot) // optional; invoked after each successful poll

	mu   sync.RWMutex
	snap Snapshot
}

// NewFeed creates a feed seeded with the static defaults. Pass nil for
// onUpdate if no refresh callback is needed.
func NewFeed(source Source, interval time.Duration, onUpdate func(Snapshot)) *Feed {
	return &Feed{
		source:   source,
		interval: interval,
		onUpdate: onUpdate,
		snap: Snapshot{
			Prices: StaticDefaults(),
			AsOf:   time.Now().UTC(),
			Stale:  true,
		},
	}
}

// Snapshot returns a copy of the current snapshot.
func (f *Feed) Snapshot() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()

	prices := make(map[model.Metal]decimal.Decimal, len(f.snap.Prices))
	for m, p := range f.snap.Prices {
		prices[m] = p
	}
	return Snapshot{Prices: prices, AsOf: f.snap.AsOf, Stale: f.snap.Stale}
}

// Refresh polls the source once. On failure the previous snapshot is kept,
// marked stale, and the error is logged — never surfaced to trading.
func (f *Feed) Refresh(ctx context.Context) {
	if f.source == nil {
		return
	}

	prices, err := f.source.Fetch(ctx)
	if err != nil {
		slog.Warn("spot price fetch failed, serving last-known prices", "err", err)
		f.mu.Lock()
		f.snap.Stale = true
		f.mu.Unlock()
		return
	}

	// Merge over the previous snapshot so a partial response does not
	// blank out metals the source omitted this round.
	f.mu.Lock()
	for metal, price := range prices {
		if price.IsNegative() {
			slog.Warn("discarding negative spot price", "metal", metal, "price", price)
			continue
		}
		f.snap.Prices[metal] = price
	}
	f.snap.AsOf = time.Now().UTC()
	f.snap.Stale = false
	f.mu.Unlock()

	if f.onUpdate != nil {
		f.onUpdate(f.Snapshot())
	}
}

// Run polls the source on the feed's cadence until ctx is cancelled.
// Must be called in a goroutine.
func (f *Feed) Run(ctx context.Context) {
	f.Refresh(ctx)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Refresh(ctx)
		}
	}
}
