package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bullionworks/trade-engine/internal/model"
)

// Quote sources: whether the buy price was built on a live vendor price, an
// estimated vendor price, or the house's own stock.
const (
	SourceVendor    = "vendor"
	SourceEstimated = "estimated"
	SourceDealer    = "dealer"
)

// MoneyScale is the number of decimal places for quoted USD amounts.
const MoneyScale int32 = 2

var one = decimal.NewFromInt(1)

// Quote is a customer-facing price for one metal at one instant. PricePerOz
// already includes the markup; SpotPerOz is the raw market price it was
// built from.
type Quote struct {
	Metal      model.Metal     `json:"metal"`
	Source     string          `json:"source"`
	SpotPerOz  decimal.Decimal `json:"spot_per_oz"`
	PricePerOz decimal.Decimal `json:"price_per_oz"`
	Markup     decimal.Decimal `json:"markup"`
}

// StorageQuote is the annual/monthly storage fee for one storage class at
// one portfolio value, after floors.
type StorageQuote struct {
	Class      model.StorageClass `json:"class"`
	AnnualRate decimal.Decimal    `json:"annual_rate"`
	AnnualFee  decimal.Decimal    `json:"annual_fee"`
	MonthlyFee decimal.Decimal    `json:"monthly_fee"`
	Services   []string           `json:"services"`
}

// Engine computes quotes from an explicit rule table. It is stateless:
// spot and vendor prices are passed as arguments, never stored.
type Engine struct {
	rules *RuleTable
}

// NewEngine creates a pricing engine over a validated rule table.
func NewEngine(rules *RuleTable) (*Engine, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &Engine{rules: rules}, nil
}

// Rules returns the engine's rule table.
func (e *Engine) Rules() *RuleTable { return e.rules }

// VaultBuyPrice prices a storage-fulfilled buy: the metal is sourced from a
// wholesale vendor and marked up by the vault markup.
//
//	price = vendorPerOz × (1 + vaultMarkup)
//
// When vendorPerOz is not positive (feed unavailable), the vendor price is
// estimated as spot × (1 + estimatedVendorPremium) and the quote is tagged
// Source = "estimated" so the approximation is distinguishable downstream.
func (e *Engine) VaultBuyPrice(metal model.Metal, spotPerOz, vendorPerOz decimal.Decimal) (Quote, error) {
	r, ok := e.rules.Metals[metal]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownMetal, metal)
	}

	source := SourceVendor
	base := vendorPerOz
	if base.LessThanOrEqual(decimal.Zero) {
		source = SourceEstimated
		base = spotPerOz.Mul(one.Add(r.EstimatedVendorPremium))
	}

	return Quote{
		Metal:      metal,
		Source:     source,
		SpotPerOz:  spotPerOz,
		PricePerOz: base.Mul(one.Add(r.VaultMarkup)).Round(MoneyScale),
		Markup:     r.VaultMarkup,
	}, nil
}

// DealerBuyPrice prices a delivery-fulfilled buy from the house's own stock:
//
//	price = spot × (1 + markup)
//
// where the markup is chosen by size tier. Gold, platinum, and palladium
// products at or below the 1 oz threshold take the small-tier markup; silver
// products below the kilo threshold do. Larger units carry proportionally
// lower fabrication and handling cost.
func (e *Engine) DealerBuyPrice(metal model.Metal, spotPerOz, weightOz decimal.Decimal) (Quote, error) {
	r, ok := e.rules.Metals[metal]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownMetal, metal)
	}

	small := weightOz.LessThanOrEqual(r.SmallTierMaxOz)
	if metal == model.Silver {
		// Silver's threshold is the kilo bar itself; kilo and 100 oz
		// products already price at the large tier.
		small = weightOz.LessThan(r.SmallTierMaxOz)
	}

	markup := r.LargeMarkup
	if small {
		markup = r.SmallMarkup
	}

	return Quote{
		Metal:      metal,
		Source:     SourceDealer,
		SpotPerOz:  spotPerOz,
		PricePerOz: spotPerOz.Mul(one.Add(markup)).Round(MoneyScale),
		Markup:     markup,
	}, nil
}

// SellPrice prices a buyback:
//
//	price = spot × buybackRate[metal][condition]
//
// The rate is always ≤ 1, so the house never pays more than spot.
func (e *Engine) SellPrice(metal model.Metal, spotPerOz decimal.Decimal, condition model.Condition) (Quote, error) {
	r, ok := e.rules.Metals[metal]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownMetal, metal)
	}

	var rate decimal.Decimal
	switch condition {
	case model.ConditionBullion:
		rate = r.BullionRate
	case model.ConditionScrap:
		rate = r.ScrapRate
	default:
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownCondition, condition)
	}

	return Quote{
		Metal:      metal,
		Source:     SourceDealer,
		SpotPerOz:  spotPerOz,
		PricePerOz: spotPerOz.Mul(rate).Round(MoneyScale),
		Markup:     rate.Sub(one), // negative: discount from spot
	}, nil
}

// StorageFee computes the fee schedule for storing a portfolio:
//
//	annual  = max(portfolioValue × annualRate, minAnnualFee)
//	monthly = max(annual / 12, minMonthlyFee)
//
// Portfolios below the break-even point are priced at the floor minimums.
func (e *Engine) StorageFee(class model.StorageClass, portfolioValue decimal.Decimal) (StorageQuote, error) {
	r, ok := e.rules.Storage[class]
	if !ok {
		return StorageQuote{}, fmt.Errorf("%w: %s", ErrUnknownStorageClass, class)
	}

	annual := portfolioValue.Mul(r.AnnualRate)
	if annual.LessThan(r.MinAnnualFee) {
		annual = r.MinAnnualFee
	}
	monthly := annual.Div(decimal.NewFromInt(12))
	if monthly.LessThan(r.MinMonthlyFee) {
		monthly = r.MinMonthlyFee
	}

	return StorageQuote{
		Class:      class,
		AnnualRate: r.AnnualRate,
		AnnualFee:  annual.Round(MoneyScale),
		MonthlyFee: monthly.Round(MoneyScale),
		Services:   r.Services,
	}, nil
}
