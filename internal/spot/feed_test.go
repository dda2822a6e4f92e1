package spot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bullionworks/trade-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type fakeSource struct {
	prices map[model.Metal]decimal.Decimal
	err    error
}

func (s *fakeSource) Fetch(_ context.Context) (map[model.Metal]decimal.Decimal, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.prices, nil
}

func TestFeed_ServesDefaultsBeforeFirstPoll(t *testing.T) {
	f := NewFeed(&fakeSource{}, time.Minute, nil)
	snap := f.Snapshot()
	if !snap.Stale {
		t.Error("pre-poll snapshot should be marked stale")
	}
	for _, metal := range model.Metals() {
		if snap.Price(metal).LessThanOrEqual(decimal.Zero) {
			t.Errorf("default price for %s should be positive", metal)
		}
	}
}

func TestFeed_RefreshUpdatesSnapshot(t *testing.T) {
	src := &fakeSource{prices: map[model.Metal]decimal.Decimal{
		model.Gold:   d(2000),
		model.Silver: d(25),
	}}
	f := NewFeed(src, time.Minute, nil)
	f.Refresh(context.Background())

	snap := f.Snapshot()
	if snap.Stale {
		t.Error("snapshot should not be stale after a successful poll")
	}
	if !snap.Price(model.Gold).Equal(d(2000)) {
		t.Errorf("expected gold 2000, got %s", snap.Price(model.Gold))
	}
	// Metals omitted by the source keep their previous values.
	if snap.Price(model.Platinum).LessThanOrEqual(decimal.Zero) {
		t.Error("partial response should not blank out other metals")
	}
}

func TestFeed_SourceFailureKeepsLastKnown(t *testing.T) {
	src := &fakeSource{prices: map[model.Metal]decimal.Decimal{model.Gold: d(2100)}}
	f := NewFeed(src, time.Minute, nil)
	f.Refresh(context.Background())

	src.err = errors.New("feed down")
	f.Refresh(context.Background())

	snap := f.Snapshot()
	if !snap.Price(model.Gold).Equal(d(2100)) {
		t.Errorf("expected last-known gold 2100, got %s", snap.Price(model.Gold))
	}
	if !snap.Stale {
		t.Error("snapshot should be marked stale after a failed poll")
	}
}

func TestFeed_DiscardsNegativePrices(t *testing.T) {
	src := &fakeSource{prices: map[model.Metal]decimal.Decimal{model.Gold: d(-5)}}
	f := NewFeed(src, time.Minute, nil)
	before := f.Snapshot().Price(model.Gold)
	f.Refresh(context.Background())
	if !f.Snapshot().Price(model.Gold).Equal(before) {
		t.Error("negative price should be discarded")
	}
}

func TestFeed_OnUpdateCallback(t *testing.T) {
	var got Snapshot
	src := &fakeSource{prices: map[model.Metal]decimal.Decimal{model.Gold: d(1999)}}
	f := NewFeed(src, time.Minute, func(s Snapshot) { got = s })
	f.Refresh(context.Background())
	if !got.Price(model.Gold).Equal(d(1999)) {
		t.Errorf("callback should see the refreshed snapshot, got %s", got.Price(model.Gold))
	}
}
