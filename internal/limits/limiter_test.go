package limits

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/bullionworks/trade-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCheckBuy_WithinLimits(t *testing.T) {
	limiter := NewTradeLimiter(d(50000), d(250000))

	if err := limiter.CheckBuy(model.Gold, d(10000), nil); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckBuy_PerTradeExceeded(t *testing.T) {
	limiter := NewTradeLimiter(d(50000), d(250000))

	err := limiter.CheckBuy(model.Gold, d(50001), nil)
	if err != ErrPerTradeLimitExceeded {
		t.Errorf("expected ErrPerTradeLimitExceeded, got %v", err)
	}
}

func TestCheckBuy_ExposureExceeded(t *testing.T) {
	limiter := NewTradeLimiter(d(50000), d(100000))

	exposure := map[model.Metal]decimal.Decimal{
		model.Gold:   d(90000),
		model.Silver: d(90000), // other metals do not count against gold
	}

	err := limiter.CheckBuy(model.Gold, d(20000), exposure)
	if err != ErrExposureLimitExceeded {
		t.Errorf("expected ErrExposureLimitExceeded, got %v", err)
	}
	if err := limiter.CheckBuy(model.Gold, d(10000), exposure); err != nil {
		t.Errorf("exactly at the cap should pass, got %v", err)
	}
}

func TestCheckBuy_ZeroCapsDisable(t *testing.T) {
	limiter := NewTradeLimiter(decimal.Zero, decimal.Zero)

	exposure := map[model.Metal]decimal.Decimal{model.Gold: d(1e9)}
	if err := limiter.CheckBuy(model.Gold, d(1e9), exposure); err != nil {
		t.Errorf("disabled limiter should pass everything, got %v", err)
	}
}
