// Package weight normalizes heterogeneous weight units and purity notations
// into canonical pure-metal troy-ounce content.
//
// Normalization is deliberately lenient: unrecognized units fall back to an
// identity conversion and unparseable purities to 1.0 (pure), logged at Warn
// for audit. Callers validate units upstream.
package weight

import (
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bullionworks/trade-engine/internal/model"
)

// Recognized weight units.
const (
	UnitGram      = "g"
	UnitKilogram  = "kg"
	UnitTroyOunce = "oz"
)

var (
	// OuncesPerGram converts grams to troy ounces (1 / 31.1035).
	OuncesPerGram = decimal.NewFromFloat(0.0321507)

	// OuncesPerKilogram converts kilograms to troy ounces.
	OuncesPerKilogram = decimal.NewFromFloat(32.1507)

	one      = decimal.NewFromInt(1)
	hundred  = decimal.NewFromInt(100)
	thousand = decimal.NewFromInt(1000)
	karats   = decimal.NewFromInt(24)
)

// PurityScale is the number of decimal places for parsed purity fractions.
const PurityScale int32 = 6

// Normalize converts a weight in the given unit to troy ounces.
// An unrecognized unit is treated as troy ounces (identity conversion).
func Normalize(amount decimal.Decimal, unit string) decimal.Decimal {
	switch normalizeUnit(unit) {
	case UnitGram:
		return amount.Mul(OuncesPerGram)
	case UnitKilogram:
		return amount.Mul(OuncesPerKilogram)
	case UnitTroyOunce:
		return amount
	default:
		slog.Warn("unrecognized weight unit, assuming troy ounces", "unit", unit)
		return amount
	}
}

// normalizeUnit maps common spellings onto the canonical unit constants.
func normalizeUnit(unit string) string {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "g", "gram", "grams":
		return UnitGram
	case "kg", "kilo", "kilos", "kilogram", "kilograms":
		return UnitKilogram
	case "oz", "ozt", "troy_oz", "troy oz", "troy ounce", "troy ounces":
		return UnitTroyOunce
	default:
		return unit
	}
}

// ParsePurity parses a purity notation into a fraction in (0, 1].
//
// Three notations are recognized:
//   - karat: "22k" or "22kt" → 22/24
//   - percentage: "99.99%", or a bare number in (1, 100] → value/100
//   - decimal thousandths: ".9999", or a bare number in (1, 1000] → value/1000
//
// A bare value ≤ 1 is already a fraction and is returned unchanged. Missing
// or unparseable input defaults to 1.0 (treated as pure).
//
// The (1,100] vs (1,1000] disambiguation is a heuristic: "925" sterling
// silver reads correctly as 0.925, but a percentage slightly above 100 would
// be misread as thousandths. Preserved as-is pending product review; do not
// change the bucketing here without revisiting downstream valuations.
func ParsePurity(text string) decimal.Decimal {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return one
	}

	// Karat notation: "22k", "22kt", "22 k".
	if k, ok := strings.CutSuffix(s, "kt"); ok {
		s = k + "k"
	}
	if k, ok := strings.CutSuffix(s, "k"); ok {
		kv, err := decimal.NewFromString(strings.TrimSpace(k))
		if err != nil || kv.LessThanOrEqual(decimal.Zero) || kv.GreaterThan(karats) {
			slog.Warn("unparseable karat purity, assuming pure", "purity", text)
			return one
		}
		return kv.Div(karats).Round(PurityScale)
	}

	// Percentage notation: "99.99%".
	if p, ok := strings.CutSuffix(s, "%"); ok {
		pv, err := decimal.NewFromString(strings.TrimSpace(p))
		if err != nil || pv.LessThanOrEqual(decimal.Zero) || pv.GreaterThan(hundred) {
			slog.Warn("unparseable percent purity, assuming pure", "purity", text)
			return one
		}
		return pv.Div(hundred)
	}

	v, err := decimal.NewFromString(s)
	if err != nil || v.LessThanOrEqual(decimal.Zero) {
		slog.Warn("unparseable purity, assuming pure", "purity", text)
		return one
	}

	switch {
	case v.LessThanOrEqual(one):
		return v // already a fraction, e.g. ".9999"
	case v.LessThanOrEqual(hundred):
		return v.Div(hundred) // e.g. "91.67"
	case v.LessThanOrEqual(thousand):
		return v.Div(thousand) // e.g. "925" sterling
	default:
		slog.Warn("purity out of range, assuming pure", "purity", text)
		return one
	}
}

// PureOunces returns the total pure-metal troy-ounce content of a holding:
// per-unit weight normalized to ounces, times purity, times unit count.
func PureOunces(item model.HoldingItem) decimal.Decimal {
	qty := decimal.NewFromInt(int64(item.Quantity))
	return Normalize(item.WeightAmount, item.WeightUnit).
		Mul(ParsePurity(item.Purity)).
		Mul(qty)
}
