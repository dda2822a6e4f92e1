package spot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/bullionworks/trade-engine/internal/model"
)

func TestHTTPSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"prices": {"gold": "2412.30", "silver": 27.85, "rhodium": "4600"}}`))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, "test-key")
	prices, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if want := decimal.RequireFromString("2412.30"); !prices[model.Gold].Equal(want) {
		t.Errorf("gold = %s, want %s", prices[model.Gold], want)
	}
	if want := decimal.RequireFromString("27.85"); !prices[model.Silver].Equal(want) {
		t.Errorf("silver = %s, want %s", prices[model.Silver], want)
	}
	// Metals the engine does not trade are dropped silently.
	if len(prices) != 2 {
		t.Errorf("prices = %v, want rhodium skipped", prices)
	}
}

func TestHTTPSourceErrorStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if _, err := NewHTTPSource(srv.URL, "").Fetch(context.Background()); err == nil {
		t.Error("non-200 response should fail")
	}
}

func TestHTTPSourceRejectsEmptyPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"prices": {"rhodium": "4600"}}`))
	}))
	defer srv.Close()

	if _, err := NewHTTPSource(srv.URL, "").Fetch(context.Background()); err == nil {
		t.Error("payload with no tradeable metals should fail")
	}
}
