package pricing

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/bullionworks/trade-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultRules())
	if err != nil {
		t.Fatalf("default rules should validate: %v", err)
	}
	return e
}

func TestDefaultRules_Validate(t *testing.T) {
	if err := DefaultRules().Validate(); err != nil {
		t.Fatalf("default rules invalid: %v", err)
	}
}

func TestValidate_RejectsScrapAtOrAboveBullion(t *testing.T) {
	rules := DefaultRules()
	r := rules.Metals[model.Gold]
	r.ScrapRate = r.BullionRate
	rules.Metals[model.Gold] = r
	if err := rules.Validate(); err == nil {
		t.Error("expected validation error for scrap rate ≥ bullion rate")
	}
}

func TestValidate_RejectsCheapSegregated(t *testing.T) {
	rules := DefaultRules()
	r := rules.Storage[model.StorageSegregated]
	r.AnnualRate = rules.Storage[model.StorageCommingled].AnnualRate
	rules.Storage[model.StorageSegregated] = r
	if err := rules.Validate(); err == nil {
		t.Error("expected validation error when segregated is not strictly pricier")
	}
}

func TestDealerBuyPrice_SmallTierScenario(t *testing.T) {
	// Spot gold $2000/oz, own-stock buy of 1 oz with small-tier markup
	// 2.5% → quoted $2050/oz.
	rules := DefaultRules()
	r := rules.Metals[model.Gold]
	r.SmallMarkup = dec("0.025")
	r.LargeMarkup = dec("0.015")
	rules.Metals[model.Gold] = r

	e, err := NewEngine(rules)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	q, err := e.DealerBuyPrice(model.Gold, d(2000), d(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.PricePerOz.Equal(d(2050)) {
		t.Errorf("expected $2050/oz, got %s", q.PricePerOz)
	}
	if q.Source != SourceDealer {
		t.Errorf("expected dealer source, got %s", q.Source)
	}
}

func TestDealerBuyPrice_TierBoundaries(t *testing.T) {
	e := newTestEngine(t)
	spot := d(2000)

	// Gold at exactly 1 oz is small tier; above it is large tier.
	atThreshold, _ := e.DealerBuyPrice(model.Gold, spot, d(1))
	above, _ := e.DealerBuyPrice(model.Gold, spot, d(1.0001))
	if !atThreshold.Markup.GreaterThan(above.Markup) {
		t.Errorf("1 oz gold should take the higher markup: %s vs %s",
			atThreshold.Markup, above.Markup)
	}

	// Silver at exactly the kilo threshold already prices at the large tier.
	kilo := DefaultRules().Metals[model.Silver].SmallTierMaxOz
	atKilo, _ := e.DealerBuyPrice(model.Silver, d(28), kilo)
	below, _ := e.DealerBuyPrice(model.Silver, d(28), kilo.Sub(d(0.01)))
	if !below.Markup.GreaterThan(atKilo.Markup) {
		t.Errorf("sub-kilo silver should take the higher markup: %s vs %s",
			below.Markup, atKilo.Markup)
	}
}

func TestDealerBuyPrice_NeverBelowSpot(t *testing.T) {
	e := newTestEngine(t)
	for _, metal := range model.Metals() {
		for _, oz := range []float64{0.1, 1, 5, 32.1507, 100} {
			q, err := e.DealerBuyPrice(metal, d(1850.55), d(oz))
			if err != nil {
				t.Fatalf("%s: %v", metal, err)
			}
			if q.PricePerOz.LessThan(q.SpotPerOz) {
				t.Errorf("%s %voz: buy price %s below spot %s", metal, oz, q.PricePerOz, q.SpotPerOz)
			}
		}
	}
}

func TestVaultBuyPrice_VendorSourced(t *testing.T) {
	e := newTestEngine(t)
	q, err := e.VaultBuyPrice(model.Gold, d(2000), d(2030))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Source != SourceVendor {
		t.Errorf("expected vendor source, got %s", q.Source)
	}
	// 2030 × 1.01
	if !q.PricePerOz.Equal(d(2050.30)) {
		t.Errorf("expected $2050.30/oz, got %s", q.PricePerOz)
	}
}

func TestVaultBuyPrice_EstimatedFallback(t *testing.T) {
	e := newTestEngine(t)
	q, err := e.VaultBuyPrice(model.Gold, d(2000), decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Source != SourceEstimated {
		t.Errorf("expected estimated source, got %s", q.Source)
	}
	// spot × 1.02 premium × 1.01 vault markup = 2060.40
	if !q.PricePerOz.Equal(d(2060.40)) {
		t.Errorf("expected $2060.40/oz, got %s", q.PricePerOz)
	}
	if q.PricePerOz.LessThan(q.SpotPerOz) {
		t.Error("estimated buy price should not drop below spot")
	}
}

func TestSellPrice_BullionScenario(t *testing.T) {
	// Sell 1 oz gold bullion at spot $2000 with rate 0.95 → $1900 payout.
	rules := DefaultRules()
	r := rules.Metals[model.Gold]
	r.BullionRate = dec("0.95")
	rules.Metals[model.Gold] = r
	e, _ := NewEngine(rules)

	q, err := e.SellPrice(model.Gold, d(2000), model.ConditionBullion)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.PricePerOz.Equal(d(1900)) {
		t.Errorf("expected $1900/oz, got %s", q.PricePerOz)
	}
}

func TestSellPrice_NeverAboveSpot_ScrapBelowBullion(t *testing.T) {
	e := newTestEngine(t)
	spot := d(1234.56)
	for _, metal := range model.Metals() {
		bullion, err := e.SellPrice(metal, spot, model.ConditionBullion)
		if err != nil {
			t.Fatalf("%s: %v", metal, err)
		}
		scrap, err := e.SellPrice(metal, spot, model.ConditionScrap)
		if err != nil {
			t.Fatalf("%s: %v", metal, err)
		}
		if bullion.PricePerOz.GreaterThan(spot) {
			t.Errorf("%s bullion payout %s above spot", metal, bullion.PricePerOz)
		}
		if !scrap.PricePerOz.LessThan(bullion.PricePerOz) {
			t.Errorf("%s scrap payout %s not below bullion %s", metal, scrap.PricePerOz, bullion.PricePerOz)
		}
	}
}

func TestSellPrice_UnknownCondition(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.SellPrice(model.Gold, d(2000), "numismatic"); err == nil {
		t.Error("expected error for unknown condition")
	}
}

func TestStorageFee_FloorScenario(t *testing.T) {
	// Segregated fee on a $10,000 portfolio: 0.75% → $75, below the $150
	// floor, so the floor is charged.
	e := newTestEngine(t)
	q, err := e.StorageFee(model.StorageSegregated, d(10000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.AnnualFee.Equal(d(150)) {
		t.Errorf("expected floor fee $150, got %s", q.AnnualFee)
	}
	if !q.MonthlyFee.Equal(d(15)) {
		t.Errorf("expected monthly floor $15, got %s", q.MonthlyFee)
	}
}

func TestStorageFee_RateAboveFloor(t *testing.T) {
	e := newTestEngine(t)
	q, err := e.StorageFee(model.StorageSegregated, d(100000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 100000 × 0.0075 = 750, above the floor.
	if !q.AnnualFee.Equal(d(750)) {
		t.Errorf("expected $750, got %s", q.AnnualFee)
	}
	if !q.MonthlyFee.Equal(d(62.50)) {
		t.Errorf("expected $62.50 monthly, got %s", q.MonthlyFee)
	}
}

func TestStorageFee_FloorHoldsForAllValues(t *testing.T) {
	e := newTestEngine(t)
	for _, class := range []model.StorageClass{model.StorageCommingled, model.StorageSegregated} {
		min := e.Rules().Storage[class].MinAnnualFee
		for _, value := range []float64{0, 1, 100, 10000, 1e7} {
			q, err := e.StorageFee(class, d(value))
			if err != nil {
				t.Fatalf("%s: %v", class, err)
			}
			if q.AnnualFee.LessThan(min) {
				t.Errorf("%s at $%v: annual fee %s below floor %s", class, value, q.AnnualFee, min)
			}
		}
	}
}

func TestQuotes_Idempotent(t *testing.T) {
	e := newTestEngine(t)
	a, _ := e.DealerBuyPrice(model.Platinum, d(950.25), d(0.5))
	b, _ := e.DealerBuyPrice(model.Platinum, d(950.25), d(0.5))
	if !a.PricePerOz.Equal(b.PricePerOz) || a.Source != b.Source {
		t.Error("identical inputs should yield identical quotes")
	}
}

func TestUnknownMetal(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.DealerBuyPrice("rhodium", d(5000), d(1)); err == nil {
		t.Error("expected error for unknown metal")
	}
	if _, err := e.VaultBuyPrice("rhodium", d(5000), d(5100)); err == nil {
		t.Error("expected error for unknown metal")
	}
	if _, err := e.SellPrice("rhodium", d(5000), model.ConditionBullion); err == nil {
		t.Error("expected error for unknown metal")
	}
}
