// Package tradeflow models the multi-step trade session a client walks
// through: input → review → success. The flow holds the locked quote price
// so the figures shown at review are exactly the figures settled.
package tradeflow

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/bullionworks/trade-engine/internal/model"
	"github.com/bullionworks/trade-engine/internal/pricing"
)

// State is a trade flow stage.
type State string

const (
	// StateInput collects trade parameters. Freely editable.
	StateInput State = "input"
	// StateReview shows the final figures. Only Confirm or Back leave it.
	StateReview State = "review"
	// StateSuccess is terminal. A new trade means a new flow.
	StateSuccess State = "success"
)

var (
	// ErrNotEditable is returned for edits outside the input stage.
	ErrNotEditable = errors.New("tradeflow: flow is not in the input stage")

	// ErrNotReviewable is returned when the flow cannot advance to review.
	ErrNotReviewable = errors.New("tradeflow: nothing to review")

	// ErrFlowFinished is returned for any transition out of success.
	ErrFlowFinished = errors.New("tradeflow: flow already completed")
)

const weightScale int32 = 4

// BuyFlow is a buy session. Weight and cost are two views of one size:
// setting either derives the other from the locked per-ounce price.
type BuyFlow struct {
	state State

	Metal        model.Metal
	Fulfillment  model.Fulfillment
	StorageClass model.StorageClass
	PricePerOz   decimal.Decimal

	weightOz decimal.Decimal
	costUSD  decimal.Decimal
}

// NewBuyFlow starts a buy flow against a locked per-ounce price.
func NewBuyFlow(metal model.Metal, fulfillment model.Fulfillment, class model.StorageClass, pricePerOz decimal.Decimal) (*BuyFlow, error) {
	if pricePerOz.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("tradeflow: price per oz must be positive, got %s", pricePerOz)
	}
	return &BuyFlow{
		state:        StateInput,
		Metal:        metal,
		Fulfillment:  fulfillment,
		StorageClass: class,
		PricePerOz:   pricePerOz,
	}, nil
}

func (f *BuyFlow) State() State              { return f.state }
func (f *BuyFlow) WeightOz() decimal.Decimal { return f.weightOz }
func (f *BuyFlow) CostUSD() decimal.Decimal  { return f.costUSD }

// SetWeight sets the size in ounces and derives the cost.
func (f *BuyFlow) SetWeight(oz decimal.Decimal) error {
	if f.state != StateInput {
		return ErrNotEditable
	}
	if oz.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("tradeflow: weight must be positive, got %s", oz)
	}
	f.weightOz = oz
	f.costUSD = oz.Mul(f.PricePerOz).Round(pricing.MoneyScale)
	return nil
}

// SetCost sets the size as a spend amount and derives the weight.
func (f *BuyFlow) SetCost(usd decimal.Decimal) error {
	if f.state != StateInput {
		return ErrNotEditable
	}
	if usd.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("tradeflow: cost must be positive, got %s", usd)
	}
	f.costUSD = usd
	f.weightOz = usd.Div(f.PricePerOz).Round(weightScale)
	return nil
}

// Review advances input → review. Requires a size.
func (f *BuyFlow) Review() error {
	switch f.state {
	case StateSuccess:
		return ErrFlowFinished
	case StateReview:
		return nil
	}
	if !f.weightOz.IsPositive() {
		return ErrNotReviewable
	}
	f.state = StateReview
	return nil
}

// Back returns review → input. All entered figures are preserved.
func (f *BuyFlow) Back() error {
	if f.state == StateSuccess {
		return ErrFlowFinished
	}
	f.state = StateInput
	return nil
}

// Confirm marks the flow settled. Valid only from review; the caller runs
// the actual settlement and calls this on success.
func (f *BuyFlow) Confirm() error {
	if f.state != StateReview {
		if f.state == StateSuccess {
			return ErrFlowFinished
		}
		return errors.New("tradeflow: confirm requires the review stage")
	}
	f.state = StateSuccess
	return nil
}

// SellSelection is one selected holding line in a sell flow.
type SellSelection struct {
	HoldingID string
	Name      string
	Available int
	Quantity  int
}

// SellFlow is a bulk sell session. All selected holdings must share one
// metal; the first selection fixes it.
type SellFlow struct {
	state State
	metal model.Metal
	lines map[string]*SellSelection
	order []string // selection order, for stable listing
}

// NewSellFlow starts an empty sell flow.
func NewSellFlow() *SellFlow {
	return &SellFlow{state: StateInput, lines: make(map[string]*SellSelection)}
}

func (f *SellFlow) State() State       { return f.state }
func (f *SellFlow) Metal() model.Metal { return f.metal }

// Select adds a holding to the sell with quantity 1. The first selection
// fixes the flow's metal; mixed-metal sells are rejected.
func (f *SellFlow) Select(h model.HoldingItem) error {
	if f.state != StateInput {
		return ErrNotEditable
	}
	if h.Quantity < 1 {
		return fmt.Errorf("tradeflow: holding %s has no units to sell", h.ID)
	}
	if len(f.lines) == 0 {
		f.metal = h.Metal
	} else if h.Metal != f.metal {
		return fmt.Errorf("tradeflow: cannot mix %s into a %s sell", h.Metal, f.metal)
	}
	if _, ok := f.lines[h.ID]; ok {
		return nil // already selected
	}
	f.lines[h.ID] = &SellSelection{
		HoldingID: h.ID,
		Name:      h.Name,
		Available: h.Quantity,
		Quantity:  1,
	}
	f.order = append(f.order, h.ID)
	return nil
}

// SetQuantity adjusts a selected line's unit count, clamped into
// [1, available]. Out-of-range requests are clamped, not rejected.
func (f *SellFlow) SetQuantity(holdingID string, qty int) error {
	if f.state != StateInput {
		return ErrNotEditable
	}
	line, ok := f.lines[holdingID]
	if !ok {
		return fmt.Errorf("tradeflow: holding %s is not selected", holdingID)
	}
	if qty < 1 {
		qty = 1
	}
	if qty > line.Available {
		qty = line.Available
	}
	line.Quantity = qty
	return nil
}

// Deselect removes a holding from the sell. Removing the last line resets
// the metal lock.
func (f *SellFlow) Deselect(holdingID string) error {
	if f.state != StateInput {
		return ErrNotEditable
	}
	if _, ok := f.lines[holdingID]; !ok {
		return nil
	}
	delete(f.lines, holdingID)
	for i, id := range f.order {
		if id == holdingID {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	if len(f.lines) == 0 {
		f.metal = ""
	}
	return nil
}

// Selections returns the current lines in selection order.
func (f *SellFlow) Selections() []SellSelection {
	out := make([]SellSelection, 0, len(f.lines))
	for _, id := range f.order {
		out = append(out, *f.lines[id])
	}
	return out
}

// TotalUnits is the unit count across all selected lines.
func (f *SellFlow) TotalUnits() int {
	var n int
	for _, line := range f.lines {
		n += line.Quantity
	}
	return n
}

// Review advances input → review. Requires at least one selection.
func (f *SellFlow) Review() error {
	switch f.state {
	case StateSuccess:
		return ErrFlowFinished
	case StateReview:
		return nil
	}
	if len(f.lines) == 0 {
		return ErrNotReviewable
	}
	f.state = StateReview
	return nil
}

// Back returns review → input. Selections are preserved.
func (f *SellFlow) Back() error {
	if f.state == StateSuccess {
		return ErrFlowFinished
	}
	f.state = StateInput
	return nil
}

// Confirm marks the flow settled. Valid only from review.
func (f *SellFlow) Confirm() error {
	if f.state != StateReview {
		if f.state == StateSuccess {
			return ErrFlowFinished
		}
		return errors.New("tradeflow: confirm requires the review stage")
	}
	f.state = StateSuccess
	return nil
}

// SelectableHoldings filters a customer's holdings to those sellable in
// this flow: positive quantity and, once a metal is locked, that metal.
// Results are sorted by name for stable presentation.
func (f *SellFlow) SelectableHoldings(holdings []model.HoldingItem) []model.HoldingItem {
	out := make([]model.HoldingItem, 0, len(holdings))
	for _, h := range holdings {
		if h.Quantity < 1 {
			continue
		}
		if len(f.lines) > 0 && h.Metal != f.metal {
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
