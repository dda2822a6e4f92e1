package tradeflow

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/bullionworks/trade-engine/internal/model"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func newGoldBuy(t *testing.T) *BuyFlow {
	t.Helper()
	f, err := NewBuyFlow(model.Gold, model.FulfillmentStorage, model.StorageCommingled, d(2000))
	if err != nil {
		t.Fatalf("NewBuyFlow: %v", err)
	}
	return f
}

func TestBuyFlowWeightDerivesCost(t *testing.T) {
	f := newGoldBuy(t)
	if err := f.SetWeight(d(1.5)); err != nil {
		t.Fatalf("SetWeight: %v", err)
	}
	if want := d(3000); !f.CostUSD().Equal(want) {
		t.Errorf("cost = %s, want %s", f.CostUSD(), want)
	}
}

func TestBuyFlowCostDerivesWeight(t *testing.T) {
	f := newGoldBuy(t)
	if err := f.SetCost(d(500)); err != nil {
		t.Fatalf("SetCost: %v", err)
	}
	if want := d(0.25); !f.WeightOz().Equal(want) {
		t.Errorf("weight = %s, want %s", f.WeightOz(), want)
	}
	// Round-trip through the other field stays consistent.
	if err := f.SetWeight(f.WeightOz()); err != nil {
		t.Fatalf("SetWeight: %v", err)
	}
	if want := d(500); !f.CostUSD().Equal(want) {
		t.Errorf("round-trip cost = %s, want %s", f.CostUSD(), want)
	}
}

func TestBuyFlowRejectsNonPositiveInputs(t *testing.T) {
	f := newGoldBuy(t)
	if err := f.SetWeight(d(0)); err == nil {
		t.Error("SetWeight(0) should fail")
	}
	if err := f.SetCost(d(-10)); err == nil {
		t.Error("SetCost(-10) should fail")
	}
	if _, err := NewBuyFlow(model.Gold, model.FulfillmentDelivery, "", d(0)); err == nil {
		t.Error("NewBuyFlow with zero price should fail")
	}
}

func TestBuyFlowTransitions(t *testing.T) {
	f := newGoldBuy(t)

	// Review without a size is refused.
	if err := f.Review(); !errors.Is(err, ErrNotReviewable) {
		t.Errorf("Review on empty flow = %v, want ErrNotReviewable", err)
	}

	if err := f.SetWeight(d(2)); err != nil {
		t.Fatalf("SetWeight: %v", err)
	}
	if err := f.Review(); err != nil {
		t.Fatalf("Review: %v", err)
	}
	if f.State() != StateReview {
		t.Fatalf("state = %s, want review", f.State())
	}

	// No edits while reviewing.
	if err := f.SetWeight(d(3)); !errors.Is(err, ErrNotEditable) {
		t.Errorf("SetWeight in review = %v, want ErrNotEditable", err)
	}

	// Back preserves the entered figures.
	if err := f.Back(); err != nil {
		t.Fatalf("Back: %v", err)
	}
	if f.State() != StateInput || !f.WeightOz().Equal(d(2)) {
		t.Errorf("after back: state=%s weight=%s, want input/2", f.State(), f.WeightOz())
	}

	// Confirm straight from input is refused.
	if err := f.Confirm(); err == nil {
		t.Error("Confirm from input should fail")
	}

	if err := f.Review(); err != nil {
		t.Fatalf("Review: %v", err)
	}
	if err := f.Confirm(); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if f.State() != StateSuccess {
		t.Fatalf("state = %s, want success", f.State())
	}

	// Success is terminal.
	if err := f.Back(); !errors.Is(err, ErrFlowFinished) {
		t.Errorf("Back from success = %v, want ErrFlowFinished", err)
	}
	if err := f.Review(); !errors.Is(err, ErrFlowFinished) {
		t.Errorf("Review from success = %v, want ErrFlowFinished", err)
	}
}

func holding(id string, metal model.Metal, qty int) model.HoldingItem {
	return model.HoldingItem{ID: id, Name: id, Metal: metal, Quantity: qty}
}

func TestSellFlowMetalLock(t *testing.T) {
	f := NewSellFlow()

	if err := f.Select(holding("h1", model.Silver, 5)); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if f.Metal() != model.Silver {
		t.Errorf("metal = %s, want silver", f.Metal())
	}
	if err := f.Select(holding("h2", model.Gold, 1)); err == nil {
		t.Error("mixed-metal select should fail")
	}
	if err := f.Select(holding("h3", model.Silver, 2)); err != nil {
		t.Errorf("same-metal select: %v", err)
	}

	// Deselecting everything releases the metal lock.
	f.Deselect("h1")
	f.Deselect("h3")
	if f.Metal() != "" {
		t.Errorf("metal = %q after clearing, want unlocked", f.Metal())
	}
	if err := f.Select(holding("h2", model.Gold, 1)); err != nil {
		t.Errorf("select after clearing: %v", err)
	}
}

func TestSellFlowQuantityClamped(t *testing.T) {
	f := NewSellFlow()
	if err := f.Select(holding("h1", model.Silver, 5)); err != nil {
		t.Fatalf("Select: %v", err)
	}

	cases := []struct {
		set  int
		want int
	}{
		{set: 3, want: 3},
		{set: 0, want: 1},
		{set: -2, want: 1},
		{set: 99, want: 5},
	}
	for _, tc := range cases {
		if err := f.SetQuantity("h1", tc.set); err != nil {
			t.Fatalf("SetQuantity(%d): %v", tc.set, err)
		}
		if got := f.Selections()[0].Quantity; got != tc.want {
			t.Errorf("SetQuantity(%d): quantity = %d, want %d", tc.set, got, tc.want)
		}
	}

	if err := f.SetQuantity("nope", 1); err == nil {
		t.Error("SetQuantity on unselected holding should fail")
	}
}

func TestSellFlowSelectionsAndTotals(t *testing.T) {
	f := NewSellFlow()
	f.Select(holding("h1", model.Gold, 3))
	f.Select(holding("h2", model.Gold, 2))
	f.SetQuantity("h1", 3)

	if n := f.TotalUnits(); n != 4 {
		t.Errorf("total units = %d, want 4", n)
	}

	sel := f.Selections()
	if len(sel) != 2 || sel[0].HoldingID != "h1" || sel[1].HoldingID != "h2" {
		t.Errorf("selections = %+v, want h1 then h2 in selection order", sel)
	}

	// Deselect removes the line entirely.
	f.Deselect("h1")
	sel = f.Selections()
	if len(sel) != 1 || sel[0].HoldingID != "h2" {
		t.Errorf("selections after deselect = %+v", sel)
	}
	if n := f.TotalUnits(); n != 1 {
		t.Errorf("total units after deselect = %d, want 1", n)
	}
}

func TestSellFlowTransitions(t *testing.T) {
	f := NewSellFlow()

	if err := f.Review(); !errors.Is(err, ErrNotReviewable) {
		t.Errorf("Review with no selections = %v, want ErrNotReviewable", err)
	}

	f.Select(holding("h1", model.Gold, 1))
	if err := f.Review(); err != nil {
		t.Fatalf("Review: %v", err)
	}
	if err := f.Select(holding("h2", model.Gold, 1)); !errors.Is(err, ErrNotEditable) {
		t.Errorf("Select in review = %v, want ErrNotEditable", err)
	}

	if err := f.Back(); err != nil {
		t.Fatalf("Back: %v", err)
	}
	if len(f.Selections()) != 1 {
		t.Error("selections lost across back")
	}

	f.Review()
	if err := f.Confirm(); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if err := f.Confirm(); !errors.Is(err, ErrFlowFinished) {
		t.Errorf("Confirm twice = %v, want ErrFlowFinished", err)
	}
}

func TestSelectableHoldingsFiltered(t *testing.T) {
	f := NewSellFlow()
	all := []model.HoldingItem{
		holding("b-gold", model.Gold, 2),
		holding("a-silver", model.Silver, 1),
		holding("drained", model.Gold, 0),
	}

	// Unlocked: everything with units, sorted by name.
	got := f.SelectableHoldings(all)
	if len(got) != 2 || got[0].ID != "a-silver" || got[1].ID != "b-gold" {
		t.Errorf("unlocked selectable = %+v", got)
	}

	// Locked to gold: silver drops out.
	f.Select(holding("b-gold", model.Gold, 2))
	got = f.SelectableHoldings(all)
	if len(got) != 1 || got[0].ID != "b-gold" {
		t.Errorf("gold-locked selectable = %+v", got)
	}
}
