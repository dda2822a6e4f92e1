// Package pricing computes customer-facing buy/sell quotes and storage fees
// from a spot price and an immutable rule table.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Every calculation is a pure function of (spot, metal, classification,
// rule table): no I/O, no mutable state.
package pricing

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"github.com/bullionworks/trade-engine/internal/model"
)

var (
	// ErrUnknownMetal is returned when the rule table has no entry for a metal.
	ErrUnknownMetal = errors.New("pricing: unknown metal")

	// ErrUnknownStorageClass is returned for a storage class without a rule.
	ErrUnknownStorageClass = errors.New("pricing: unknown storage class")

	// ErrUnknownCondition is returned for a buyback condition that is
	// neither bullion nor scrap.
	ErrUnknownCondition = errors.New("pricing: unknown condition")
)

// MetalRule holds the per-metal markup tiers and buyback rates.
type MetalRule struct {
	// VaultMarkup is applied to the vendor (or estimated vendor) price for
	// storage-fulfilled buys.
	VaultMarkup decimal.Decimal `toml:"vault_markup"`

	// EstimatedVendorPremium estimates the vendor price as
	// spot × (1 + premium) when no live vendor price is available.
	EstimatedVendorPremium decimal.Decimal `toml:"estimated_vendor_premium"`

	// SmallMarkup and LargeMarkup are the own-stock (delivery) markups by
	// size tier. Small products carry proportionally higher
	// fabrication/handling cost, so SmallMarkup > LargeMarkup.
	SmallMarkup decimal.Decimal `toml:"small_markup"`
	LargeMarkup decimal.Decimal `toml:"large_markup"`

	// SmallTierMaxOz is the size threshold separating the tiers.
	SmallTierMaxOz decimal.Decimal `toml:"small_tier_max_oz"`

	// BullionRate and ScrapRate are buyback rates as fractions of spot.
	// Always ≤ 1 so the house never pays more than spot; scrap is strictly
	// lower than bullion (refining cost and uncertainty).
	BullionRate decimal.Decimal `toml:"bullion_rate"`
	ScrapRate   decimal.Decimal `toml:"scrap_rate"`
}

// StorageRule holds the fee schedule for one storage class.
type StorageRule struct {
	AnnualRate    decimal.Decimal `toml:"annual_rate"`     // fraction of portfolio value
	MinAnnualFee  decimal.Decimal `toml:"min_annual_fee"`  // USD floor
	MinMonthlyFee decimal.Decimal `toml:"min_monthly_fee"` // USD floor
	Services      []string        `toml:"services"`
}

// RuleTable is the static, versioned pricing configuration. It is loaded
// once and passed explicitly into the Engine — never referenced as ambient
// state — so multiple rule versions can be tested side by side.
type RuleTable struct {
	Version string                                 `toml:"version"`
	Metals  map[model.Metal]MetalRule              `toml:"metals"`
	Storage map[model.StorageClass]StorageRule     `toml:"storage"`
}

// DefaultRules returns the built-in rule table.
func DefaultRules() *RuleTable {
	return &RuleTable{
		Version: "2025.1",
		Metals: map[model.Metal]MetalRule{
			model.Gold: {
				VaultMarkup:            dec("0.01"),
				EstimatedVendorPremium: dec("0.02"),
				SmallMarkup:            dec("0.05"),
				LargeMarkup:            dec("0.03"),
				SmallTierMaxOz:         dec("1"),
				BullionRate:            dec("0.97"),
				ScrapRate:              dec("0.85"),
			},
			model.Silver: {
				VaultMarkup:            dec("0.03"),
				EstimatedVendorPremium: dec("0.05"),
				SmallMarkup:            dec("0.08"),
				LargeMarkup:            dec("0.05"),
				SmallTierMaxOz:         dec("32.1507"), // kilo bar
				BullionRate:            dec("0.95"),
				ScrapRate:              dec("0.80"),
			},
			model.Platinum: {
				VaultMarkup:            dec("0.02"),
				EstimatedVendorPremium: dec("0.03"),
				SmallMarkup:            dec("0.06"),
				LargeMarkup:            dec("0.04"),
				SmallTierMaxOz:         dec("1"),
				BullionRate:            dec("0.96"),
				ScrapRate:              dec("0.82"),
			},
			model.Palladium: {
				VaultMarkup:            dec("0.02"),
				EstimatedVendorPremium: dec("0.03"),
				SmallMarkup:            dec("0.07"),
				LargeMarkup:            dec("0.05"),
				SmallTierMaxOz:         dec("1"),
				BullionRate:            dec("0.95"),
				ScrapRate:              dec("0.80"),
			},
		},
		Storage: map[model.StorageClass]StorageRule{
			model.StorageCommingled: {
				AnnualRate:    dec("0.005"),
				MinAnnualFee:  dec("100"),
				MinMonthlyFee: dec("10"),
				Services:      []string{"insurance", "quarterly audit"},
			},
			model.StorageSegregated: {
				AnnualRate:    dec("0.0075"),
				MinAnnualFee:  dec("150"),
				MinMonthlyFee: dec("15"),
				Services:      []string{"insurance", "quarterly audit", "serial allocation", "on-demand photo verification"},
			},
		},
	}
}

// LoadRules reads a rule table from a TOML file, starting from the defaults
// so a partial file only overrides what it names. An empty path returns the
// defaults. The result is validated.
func LoadRules(path string) (*RuleTable, error) {
	rules := DefaultRules()
	if path != "" {
		if _, err := toml.DecodeFile(path, rules); err != nil {
			return nil, fmt.Errorf("pricing: load rules %s: %w", path, err)
		}
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

// Validate checks the structural invariants of the rule table.
func (t *RuleTable) Validate() error {
	one := decimal.NewFromInt(1)

	for _, metal := range model.Metals() {
		r, ok := t.Metals[metal]
		if !ok {
			return fmt.Errorf("pricing: rules missing metal %s", metal)
		}
		if r.VaultMarkup.IsNegative() || r.SmallMarkup.IsNegative() ||
			r.LargeMarkup.IsNegative() || r.EstimatedVendorPremium.IsNegative() {
			return fmt.Errorf("pricing: %s has a negative markup", metal)
		}
		if r.SmallMarkup.LessThan(r.LargeMarkup) {
			return fmt.Errorf("pricing: %s small-tier markup below large-tier", metal)
		}
		if r.SmallTierMaxOz.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("pricing: %s size threshold must be positive", metal)
		}
		if r.BullionRate.GreaterThan(one) || r.BullionRate.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("pricing: %s bullion rate must be in (0,1]", metal)
		}
		if r.ScrapRate.GreaterThanOrEqual(r.BullionRate) || r.ScrapRate.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("pricing: %s scrap rate must be in (0, bullion rate)", metal)
		}
	}

	com, okC := t.Storage[model.StorageCommingled]
	seg, okS := t.Storage[model.StorageSegregated]
	if !okC || !okS {
		return errors.New("pricing: rules must define commingled and segregated storage")
	}
	for class, r := range t.Storage {
		if r.AnnualRate.LessThanOrEqual(decimal.Zero) ||
			r.MinAnnualFee.LessThanOrEqual(decimal.Zero) ||
			r.MinMonthlyFee.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("pricing: %s storage rates and minimums must be positive", class)
		}
	}
	// Segregated custody is individualized and always costs strictly more.
	if !seg.AnnualRate.GreaterThan(com.AnnualRate) || !seg.MinAnnualFee.GreaterThan(com.MinAnnualFee) {
		return errors.New("pricing: segregated storage must cost strictly more than commingled")
	}

	return nil
}

// dec parses a decimal constant; panics on malformed literals (programmer error).
func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
