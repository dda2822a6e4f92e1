// Package settle provides the HTTP handlers and the trade settlement
// orchestrator: quoting, buy settlement (as a compensating saga), and bulk
// sell settlement with per-line ledger entries and a single balance credit.
//
// All monetary values use shopspring/decimal — never float64 for money.
package settle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bullionworks/trade-engine/internal/limits"
	"github.com/bullionworks/trade-engine/internal/metrics"
	"github.com/bullionworks/trade-engine/internal/model"
	"github.com/bullionworks/trade-engine/internal/pricing"
	"github.com/bullionworks/trade-engine/internal/spot"
	"github.com/bullionworks/trade-engine/internal/store"
	"github.com/bullionworks/trade-engine/internal/valuation"
	"github.com/bullionworks/trade-engine/internal/weight"
)

// ErrInsufficientFunds is returned when a buy's total cost exceeds the
// customer's cash balance. Detected before any mutation.
var ErrInsufficientFunds = errors.New("settle: insufficient balance")

// WeightScale is the number of decimal places for derived ounce weights.
const WeightScale int32 = 4

// quoteTTL is how long an issued quote's locked price remains executable.
const quoteTTL = 2 * time.Minute

// VendorSource provides live wholesale vendor prices per metal. May be nil;
// absence triggers the estimated-premium fallback in pricing.
type VendorSource interface {
	Price(ctx context.Context, metal model.Metal) (decimal.Decimal, error)
}

// Service handles quoting and trade settlement. Uses a mutex for serialized
// trade execution (single-instance); holding decrements are additionally
// atomic at the store level.
type Service struct {
	store   store.Store
	engine  *pricing.Engine
	feed    *spot.Feed
	vendor  VendorSource // optional
	limiter *limits.TradeLimiter // optional
	quotes  *quoteBook
	wsHub   *WSHub // optional WebSocket hub for real-time broadcasts
	mu      sync.Mutex
}

// NewService creates a new settlement service. vendor, limiter, and hub are
// all optional; pass nil to disable the wholesale feed, trade limits, or
// broadcasting respectively.
func NewService(st store.Store, engine *pricing.Engine, feed *spot.Feed, vendor VendorSource, limiter *limits.TradeLimiter, hub *WSHub) *Service {
	return &Service{
		store:   st,
		engine:  engine,
		feed:    feed,
		vendor:  vendor,
		limiter: limiter,
		quotes:  newQuoteBook(quoteTTL),
		wsHub:   hub,
	}
}

// --- Request/Response types ---

// BuyQuoteRequest is the JSON body for POST /quotes/buy. Exactly one of
// weight_oz and amount_usd must be positive; the other is derived from the
// quoted price (the two are a pure bidirectional derivation).
type BuyQuoteRequest struct {
	Metal        string          `json:"metal"`
	Fulfillment  string          `json:"fulfillment"` // "storage" or "delivery"
	WeightOz     decimal.Decimal `json:"weight_oz"`
	AmountUSD    decimal.Decimal `json:"amount_usd"`
	StorageClass string          `json:"storage_class,omitempty"`
}

// BuyQuoteResponse is a locked, executable quote.
type BuyQuoteResponse struct {
	QuoteID    string          `json:"quote_id"`
	Metal      model.Metal     `json:"metal"`
	Source     string          `json:"source"`
	SpotPerOz  decimal.Decimal `json:"spot_per_oz"`
	PricePerOz decimal.Decimal `json:"price_per_oz"`
	WeightOz   decimal.Decimal `json:"weight_oz"`
	TotalCost  decimal.Decimal `json:"total_cost"`
	ExpiresAt  time.Time       `json:"expires_at"`
}

// SellQuoteRequest is the JSON body for POST /quotes/sell.
type SellQuoteRequest struct {
	Metal     string          `json:"metal"`
	Condition string          `json:"condition"` // "bullion" or "scrap"; default bullion
	WeightOz  decimal.Decimal `json:"weight_oz"`
}

// SellQuoteResponse is a buyback price preview.
type SellQuoteResponse struct {
	Metal      model.Metal     `json:"metal"`
	SpotPerOz  decimal.Decimal `json:"spot_per_oz"`
	PricePerOz decimal.Decimal `json:"price_per_oz"`
	Payout     decimal.Decimal `json:"payout"`
}

// StorageQuoteRequest is the JSON body for POST /quotes/storage. If UserID
// is set, the portfolio value is computed server-side from the customer's
// balance and holdings; otherwise PortfolioValue is used directly.
type StorageQuoteRequest struct {
	StorageClass   string          `json:"storage_class"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	UserID         string          `json:"user_id,omitempty"`
}

// BuyRequest is the JSON body for POST /trades/buy. QuoteID references a
// previously issued locked quote; without it the trade is priced from the
// current snapshot.
type BuyRequest struct {
	UserID       string          `json:"user_id"`
	QuoteID      string          `json:"quote_id,omitempty"`
	Metal        string          `json:"metal"`
	Fulfillment  string          `json:"fulfillment"`
	WeightOz     decimal.Decimal `json:"weight_oz"`
	AmountUSD    decimal.Decimal `json:"amount_usd"`
	StorageClass string          `json:"storage_class,omitempty"`
	DeliveryMethod string        `json:"delivery_method,omitempty"`
	Recurring    bool            `json:"recurring,omitempty"`
}

// BuyResponse is the JSON body returned from POST /trades/buy.
type BuyResponse struct {
	HoldingID  string          `json:"holding_id"`
	LedgerID   string          `json:"ledger_id"`
	VaultID    string          `json:"vault_id,omitempty"`
	Metal      model.Metal     `json:"metal"`
	Source     string          `json:"source"`
	WeightOz   decimal.Decimal `json:"weight_oz"`
	PricePerOz decimal.Decimal `json:"price_per_oz"`
	TotalCost  decimal.Decimal `json:"total_cost"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

// SellLine is one (holding, quantity) pair of a bulk sell.
type SellLine struct {
	HoldingID string `json:"holding_id"`
	Quantity  int    `json:"quantity"`
}

// SellRequest is the JSON body for POST /trades/sell.
type SellRequest struct {
	UserID       string     `json:"user_id"`
	Items        []SellLine `json:"items"`
	PayoutMethod string     `json:"payout_method"`
	Condition    string     `json:"condition,omitempty"` // default bullion
}

// SellLineResult reports the outcome of one sell line. Lines settle
// independently: a failed line does not abort the others.
type SellLineResult struct {
	HoldingID  string            `json:"holding_id"`
	LedgerID   string            `json:"ledger_id,omitempty"`
	WeightOz   decimal.Decimal   `json:"weight_oz"`
	PricePerOz decimal.Decimal   `json:"price_per_oz"`
	Value      decimal.Decimal   `json:"value"`
	Status     model.TradeStatus `json:"status,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// SellResponse is the JSON body returned from POST /trades/sell.
type SellResponse struct {
	TotalPayout  decimal.Decimal    `json:"total_payout"`
	PayoutMethod model.PayoutMethod `json:"payout_method"`
	Lines        []SellLineResult   `json:"lines"`
	NewBalance   decimal.Decimal    `json:"new_balance"`
}

// Portfolio is the JSON body returned from GET /portfolio/{userID}.
type Portfolio struct {
	UserID        string                          `json:"user_id"`
	CashBalance   decimal.Decimal                 `json:"cash_balance"`
	Holdings      []model.HoldingItem             `json:"holdings"`
	VaultHoldings []model.VaultHolding            `json:"vault_holdings"`
	TotalValue    decimal.Decimal                 `json:"total_value"`
	Allocation    map[model.Metal]decimal.Decimal `json:"allocation"`
	SpotAsOf      time.Time                       `json:"spot_as_of"`
}

// --- HTTP Handlers ---

// GetSpot handles GET /api/v1/spot
func (s *Service) GetSpot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.feed.Snapshot())
}

// QuoteBuy handles POST /api/v1/quotes/buy
// Issues a locked quote; executing against its id settles at this price
// even if the spot feed refreshes in between.
func (s *Service) QuoteBuy(w http.ResponseWriter, r *http.Request) {
	var req BuyQuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	lq, err := s.priceBuy(r.Context(), req.Metal, req.Fulfillment, req.WeightOz, req.AmountUSD, req.StorageClass)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := s.quotes.Issue(lq)
	metrics.QuotesIssued.WithLabelValues(lq.Quote.Source).Inc()

	writeJSON(w, http.StatusOK, BuyQuoteResponse{
		QuoteID:    id,
		Metal:      lq.Quote.Metal,
		Source:     lq.Quote.Source,
		SpotPerOz:  lq.Quote.SpotPerOz,
		PricePerOz: lq.Quote.PricePerOz,
		WeightOz:   lq.WeightOz,
		TotalCost:  lq.TotalCost,
		ExpiresAt:  time.Now().Add(quoteTTL),
	})
}

// QuoteSell handles POST /api/v1/quotes/sell
func (s *Service) QuoteSell(w http.ResponseWriter, r *http.Request) {
	var req SellQuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	metal, err := model.ParseMetal(req.Metal)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	condition, err := parseCondition(req.Condition)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	snap := s.feed.Snapshot()
	q, err := s.engine.SellPrice(metal, snap.Price(metal), condition)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, SellQuoteResponse{
		Metal:      metal,
		SpotPerOz:  q.SpotPerOz,
		PricePerOz: q.PricePerOz,
		Payout:     q.PricePerOz.Mul(req.WeightOz).Round(pricing.MoneyScale),
	})
}

// QuoteStorage handles POST /api/v1/quotes/storage
func (s *Service) QuoteStorage(w http.ResponseWriter, r *http.Request) {
	var req StorageQuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	class, err := parseStorageClass(req.StorageClass)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	value := req.PortfolioValue
	if req.UserID != "" {
		balance, err := s.store.GetBalance(r.Context(), req.UserID)
		if err != nil {
			writeError(w, "failed to load balance", http.StatusInternalServerError)
			return
		}
		holdings, err := s.store.ListHoldings(r.Context(), req.UserID)
		if err != nil {
			writeError(w, "failed to load holdings", http.StatusInternalServerError)
			return
		}
		value = valuation.PortfolioValue(balance, holdings, s.feed.Snapshot().Prices)
	}

	q, err := s.engine.StorageFee(class, value)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// ExecuteBuy handles POST /api/v1/trades/buy
// Runs the buy settlement saga; any step failure after the first mutation
// compensates the applied steps in reverse and reports the failure.
func (s *Service) ExecuteBuy(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	// Prefer the locked quote; re-price from the current snapshot when the
	// quote is absent, expired, or unknown.
	lq, ok := s.quotes.Take(req.QuoteID)
	if !ok {
		var err error
		lq, err = s.priceBuy(r.Context(), req.Metal, req.Fulfillment, req.WeightOz, req.AmountUSD, req.StorageClass)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	start := time.Now()

	// Serialize trade execution.
	s.mu.Lock()
	resp, err := s.settleBuy(r.Context(), &req, lq)
	s.mu.Unlock()

	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			metrics.InsufficientFundsTotal.Inc()
			writeError(w, "insufficient balance", http.StatusConflict)
			return
		}
		if errors.Is(err, limits.ErrPerTradeLimitExceeded) || errors.Is(err, limits.ErrExposureLimitExceeded) {
			metrics.TradeLimitRejections.Inc()
			writeError(w, err.Error(), http.StatusConflict)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.TradesTotal.WithLabelValues(string(model.TradeBuy)).Inc()
	metrics.SettlementLatency.WithLabelValues(string(model.TradeBuy)).Observe(time.Since(start).Seconds())

	slog.Info("buy settled",
		"user", req.UserID,
		"metal", resp.Metal,
		"weight_oz", resp.WeightOz.String(),
		"price_per_oz", resp.PricePerOz.String(),
		"total_cost", resp.TotalCost.String(),
		"source", resp.Source,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:       "trade_settled",
			TradeType:  string(model.TradeBuy),
			Metal:      string(resp.Metal),
			WeightOz:   resp.WeightOz.String(),
			PricePerOz: resp.PricePerOz.String(),
			AsOf:       time.Now().UTC(),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// ExecuteSell handles POST /api/v1/trades/sell
// Settles each line independently; the accumulated payout is credited to
// the balance exactly once, only for internal-balance payouts.
func (s *Service) ExecuteSell(w http.ResponseWriter, r *http.Request) {
	var req SellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if len(req.Items) == 0 {
		writeError(w, "items must not be empty", http.StatusBadRequest)
		return
	}
	payout, err := parsePayoutMethod(req.PayoutMethod)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	condition, err := parseCondition(req.Condition)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()

	s.mu.Lock()
	resp, err := s.settleSell(r.Context(), &req, payout, condition)
	s.mu.Unlock()

	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.SettlementLatency.WithLabelValues(string(model.TradeSell)).Observe(time.Since(start).Seconds())

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "trade_settled",
			TradeType: string(model.TradeSell),
			AsOf:      time.Now().UTC(),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	balance, err := s.store.GetBalance(ctx, userID)
	if err != nil {
		writeError(w, "failed to load balance", http.StatusInternalServerError)
		return
	}
	holdings, err := s.store.ListHoldings(ctx, userID)
	if err != nil {
		writeError(w, "failed to load holdings", http.StatusInternalServerError)
		return
	}
	vault, err := s.store.ListVaultHoldings(ctx, userID)
	if err != nil {
		writeError(w, "failed to load vault holdings", http.StatusInternalServerError)
		return
	}
	if holdings == nil {
		holdings = []model.HoldingItem{}
	}
	if vault == nil {
		vault = []model.VaultHolding{}
	}

	snap := s.feed.Snapshot()
	writeJSON(w, http.StatusOK, Portfolio{
		UserID:        userID,
		CashBalance:   balance,
		Holdings:      holdings,
		VaultHoldings: vault,
		TotalValue:    valuation.PortfolioValue(balance, holdings, snap.Prices).Round(pricing.MoneyScale),
		Allocation:    valuation.AllocationByMetal(holdings, snap.Prices),
		SpotAsOf:      snap.AsOf,
	})
}

// GetLedger handles GET /api/v1/ledger/{userID}
func (s *Service) GetLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListLedgerEntries(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "failed to load ledger", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Orchestration ---

// priceBuy builds a locked quote for a buy. The spot snapshot is read once
// here; the resulting price is used for the whole flow.
func (s *Service) priceBuy(ctx context.Context, metalStr, fulfillmentStr string, weightOz, amountUSD decimal.Decimal, storageClassStr string) (lockedQuote, error) {
	metal, err := model.ParseMetal(metalStr)
	if err != nil {
		return lockedQuote{}, err
	}
	fulfillment, err := parseFulfillment(fulfillmentStr)
	if err != nil {
		return lockedQuote{}, err
	}

	var storageClass model.StorageClass
	if fulfillment == model.FulfillmentStorage {
		storageClass, err = parseStorageClass(storageClassStr)
		if err != nil {
			return lockedQuote{}, err
		}
	}

	hasWeight := weightOz.IsPositive()
	hasAmount := amountUSD.IsPositive()
	if hasWeight == hasAmount {
		return lockedQuote{}, errors.New("settle: exactly one of weight_oz and amount_usd must be positive")
	}

	snap := s.feed.Snapshot()
	spotPerOz := snap.Price(metal)
	if spotPerOz.LessThanOrEqual(decimal.Zero) {
		return lockedQuote{}, fmt.Errorf("settle: no spot price for %s", metal)
	}

	// Spend-amount requests derive a provisional size from spot for tier
	// selection, then the exact weight from the quoted price.
	sizeOz := weightOz
	if hasAmount {
		sizeOz = amountUSD.Div(spotPerOz)
	}

	var quote pricing.Quote
	switch fulfillment {
	case model.FulfillmentStorage:
		var vendorPerOz decimal.Decimal
		if s.vendor != nil {
			v, verr := s.vendor.Price(ctx, metal)
			if verr != nil {
				slog.Warn("vendor price unavailable, estimating", "metal", metal, "err", verr)
			} else {
				vendorPerOz = v
			}
		}
		quote, err = s.engine.VaultBuyPrice(metal, spotPerOz, vendorPerOz)
	case model.FulfillmentDelivery:
		quote, err = s.engine.DealerBuyPrice(metal, spotPerOz, sizeOz)
	}
	if err != nil {
		return lockedQuote{}, err
	}

	totalCost := amountUSD
	if hasWeight {
		totalCost = quote.PricePerOz.Mul(weightOz).Round(pricing.MoneyScale)
	} else {
		weightOz = amountUSD.Div(quote.PricePerOz).Round(WeightScale)
	}

	return lockedQuote{
		Quote:        quote,
		Fulfillment:  fulfillment,
		StorageClass: storageClass,
		WeightOz:     weightOz,
		TotalCost:    totalCost,
	}, nil
}

// settleBuy runs the buy settlement saga:
// balance check → debit → holding → ledger → mirror → vault (storage only).
func (s *Service) settleBuy(ctx context.Context, req *BuyRequest, lq lockedQuote) (*BuyResponse, error) {
	if s.limiter != nil {
		holdings, err := s.store.ListHoldings(ctx, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("settle: load holdings: %w", err)
		}
		exposure := valuation.AllocationByMetal(holdings, s.feed.Snapshot().Prices)
		if err := s.limiter.CheckBuy(lq.Quote.Metal, lq.TotalCost, exposure); err != nil {
			return nil, err
		}
	}

	balance, err := s.store.GetBalance(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("settle: load balance: %w", err)
	}
	if balance.LessThan(lq.TotalCost) {
		return nil, ErrInsufficientFunds
	}

	now := time.Now().UTC()
	newBalance := balance.Sub(lq.TotalCost)

	holding := &model.HoldingItem{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		Name:          buyHoldingName(lq),
		Metal:         lq.Quote.Metal,
		Form:          "bar",
		WeightAmount:  lq.WeightOz,
		WeightUnit:    weight.UnitTroyOunce,
		Quantity:      1,
		PurchasePrice: lq.TotalCost,
		AcquiredAt:    now,
		Purity:        defaultPurity(lq.Quote.Metal),
		Notes:         buyHoldingNotes(req, lq),
	}

	ledgerEntry := &model.LedgerEntry{
		ID:         uuid.New().String(),
		UserID:     req.UserID,
		Type:       model.TradeBuy,
		Metal:      lq.Quote.Metal,
		WeightOz:   lq.WeightOz,
		PricePerOz: lq.Quote.PricePerOz,
		TotalValue: lq.TotalCost,
		Timestamp:  now,
		Status:     model.StatusCompleted,
	}

	mirrorEntry := &model.MirrorEntry{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		Type:          model.TradeBuy,
		Metal:         lq.Quote.Metal,
		WeightOz:      lq.WeightOz,
		PricePerOz:    lq.Quote.PricePerOz,
		Amount:        lq.TotalCost,
		Status:        model.StatusCompleted,
		PaymentMethod: string(model.PayoutBalance),
		CreatedAt:     now,
	}

	steps := []sagaStep{
		{
			name: "debit_balance",
			run: func(ctx context.Context) error {
				return s.store.SetBalance(ctx, req.UserID, newBalance)
			},
			compensate: func(ctx context.Context) error {
				return s.store.SetBalance(ctx, req.UserID, balance)
			},
		},
		{
			name: "append_holding",
			run: func(ctx context.Context) error {
				return s.store.CreateHolding(ctx, holding)
			},
			compensate: func(ctx context.Context) error {
				return s.store.DeleteHolding(ctx, holding.ID)
			},
		},
		{
			name: "append_ledger",
			run: func(ctx context.Context) error {
				return s.store.InsertLedgerEntry(ctx, ledgerEntry)
			},
			compensate: func(ctx context.Context) error {
				// The ledger is append-only: unwind with a reversal entry.
				reversal := *ledgerEntry
				reversal.ID = uuid.New().String()
				reversal.TotalValue = ledgerEntry.TotalValue.Neg()
				reversal.Status = model.StatusReversed
				return s.store.InsertLedgerEntry(ctx, &reversal)
			},
		},
		{
			name: "mirror_trade",
			run: func(ctx context.Context) error {
				return s.store.InsertMirrorEntry(ctx, mirrorEntry)
			},
			compensate: func(ctx context.Context) error {
				reversal := *mirrorEntry
				reversal.ID = uuid.New().String()
				reversal.Amount = mirrorEntry.Amount.Neg()
				reversal.Status = model.StatusReversed
				return s.store.InsertMirrorEntry(ctx, &reversal)
			},
		},
	}

	var vaultID string
	if lq.Fulfillment == model.FulfillmentStorage {
		vault := &model.VaultHolding{
			ID:           uuid.New().String(),
			HoldingID:    holding.ID,
			UserID:       req.UserID,
			Metal:        lq.Quote.Metal,
			StorageClass: lq.StorageClass,
			WeightOz:     lq.WeightOz,
			CreatedAt:    now,
		}
		vaultID = vault.ID
		steps = append(steps, sagaStep{
			name: "create_vault_holding",
			run: func(ctx context.Context) error {
				return s.store.CreateVaultHolding(ctx, vault)
			},
		})
	}

	if err := runSaga(ctx, steps); err != nil {
		return nil, err
	}

	return &BuyResponse{
		HoldingID:  holding.ID,
		LedgerID:   ledgerEntry.ID,
		VaultID:    vaultID,
		Metal:      lq.Quote.Metal,
		Source:     lq.Quote.Source,
		WeightOz:   lq.WeightOz,
		PricePerOz: lq.Quote.PricePerOz,
		TotalCost:  lq.TotalCost,
		NewBalance: newBalance,
	}, nil
}

// settleSell processes each sell line independently against one spot
// snapshot, then credits the accumulated payout exactly once.
func (s *Service) settleSell(ctx context.Context, req *SellRequest, payout model.PayoutMethod, condition model.Condition) (*SellResponse, error) {
	snap := s.feed.Snapshot()
	now := time.Now().UTC()

	status := model.StatusPendingFunds
	if payout == model.PayoutBalance {
		// Internal balance settles synchronously; external rails do not.
		status = model.StatusCompleted
	}

	total := decimal.Zero
	results := make([]SellLineResult, 0, len(req.Items))

	for _, line := range req.Items {
		res := s.settleSellLine(ctx, req.UserID, line, snap, condition, payout, status, now)
		if res.Error == "" {
			total = total.Add(res.Value)
			metrics.TradesTotal.WithLabelValues(string(model.TradeSell)).Inc()
		}
		results = append(results, res)
	}

	// Credit the accumulated total exactly once — never per line — and
	// only when the payout method is the internal balance.
	newBalance, err := s.store.GetBalance(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("settle: load balance: %w", err)
	}
	if payout == model.PayoutBalance && total.IsPositive() {
		newBalance = newBalance.Add(total)
		if err := s.store.SetBalance(ctx, req.UserID, newBalance); err != nil {
			return nil, fmt.Errorf("settle: credit payout: %w", err)
		}
	}

	slog.Info("bulk sell settled",
		"user", req.UserID,
		"lines", len(results),
		"total_payout", total.String(),
		"payout_method", payout,
	)

	return &SellResponse{
		TotalPayout:  total,
		PayoutMethod: payout,
		Lines:        results,
		NewBalance:   newBalance,
	}, nil
}

// settleSellLine liquidates one (holding, quantity) pair: decrement or
// remove the holding, append a ledger entry, mirror the line.
func (s *Service) settleSellLine(
	ctx context.Context,
	userID string,
	line SellLine,
	snap spot.Snapshot,
	condition model.Condition,
	payout model.PayoutMethod,
	status model.TradeStatus,
	now time.Time,
) SellLineResult {
	res := SellLineResult{HoldingID: line.HoldingID}

	holding, err := s.store.GetHolding(ctx, line.HoldingID)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if holding.UserID != userID {
		res.Error = "holding does not belong to user"
		return res
	}
	if line.Quantity < 1 {
		res.Error = "quantity must be at least 1"
		return res
	}

	quote, err := s.engine.SellPrice(holding.Metal, snap.Price(holding.Metal), condition)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	// Atomic decrement; remove the holding entirely when drained.
	remaining, err := s.store.DecrementHolding(ctx, line.HoldingID, line.Quantity)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if remaining == 0 {
		if err := s.store.DeleteHolding(ctx, line.HoldingID); err != nil {
			slog.Error("failed to remove drained holding", "holding", line.HoldingID, "err", err)
		}
	}

	sold := *holding
	sold.Quantity = line.Quantity
	oz := weight.PureOunces(sold)
	value := quote.PricePerOz.Mul(oz).Round(pricing.MoneyScale)

	entry := &model.LedgerEntry{
		ID:         uuid.New().String(),
		UserID:     userID,
		Type:       model.TradeSell,
		Metal:      holding.Metal,
		WeightOz:   oz,
		PricePerOz: quote.PricePerOz,
		TotalValue: value,
		Timestamp:  now,
		Status:     status,
	}
	if err := s.store.InsertLedgerEntry(ctx, entry); err != nil {
		// Units already left the holding: the documented mid-sequence
		// consistency gap. Reported, not rolled back.
		res.Error = fmt.Sprintf("holding updated but ledger append failed: %v", err)
		slog.Error("sell line ledger append failed", "holding", line.HoldingID, "err", err)
		return res
	}

	if err := s.store.InsertMirrorEntry(ctx, &model.MirrorEntry{
		ID:            uuid.New().String(),
		UserID:        userID,
		Type:          model.TradeSell,
		Metal:         holding.Metal,
		WeightOz:      oz,
		PricePerOz:    quote.PricePerOz,
		Amount:        value,
		Status:        status,
		PaymentMethod: string(payout),
		CreatedAt:     now,
	}); err != nil {
		slog.Error("sell line mirror append failed", "holding", line.HoldingID, "err", err)
	}

	res.LedgerID = entry.ID
	res.WeightOz = oz
	res.PricePerOz = quote.PricePerOz
	res.Value = value
	res.Status = status
	return res
}

// --- Naming and parsing helpers ---

// buyHoldingName encodes metal, weight, and storage class in the display
// name. Segregated items carry an explicit "(Allocated)" tag; commingled
// items do not.
func buyHoldingName(lq lockedQuote) string {
	name := fmt.Sprintf("%s %s oz", titleMetal(lq.Quote.Metal), lq.WeightOz.String())
	if lq.Fulfillment == model.FulfillmentStorage && lq.StorageClass == model.StorageSegregated {
		name += " (Allocated)"
	}
	return name
}

func buyHoldingNotes(req *BuyRequest, lq lockedQuote) string {
	var notes string
	switch lq.Fulfillment {
	case model.FulfillmentStorage:
		notes = fmt.Sprintf("Vault storage (%s)", lq.StorageClass)
	case model.FulfillmentDelivery:
		notes = "Physical delivery"
		if req.DeliveryMethod != "" {
			notes += ": " + req.DeliveryMethod
		}
	}
	if req.Recurring {
		notes += "; recurring purchase"
	}
	return notes
}

func titleMetal(m model.Metal) string {
	switch m {
	case model.Gold:
		return "Gold"
	case model.Silver:
		return "Silver"
	case model.Platinum:
		return "Platinum"
	case model.Palladium:
		return "Palladium"
	}
	return string(m)
}

// defaultPurity is the fineness of the house's vault and delivery stock.
func defaultPurity(m model.Metal) string {
	switch m {
	case model.Gold:
		return ".9999"
	case model.Silver:
		return ".999"
	default:
		return ".9995"
	}
}

func parseFulfillment(s string) (model.Fulfillment, error) {
	switch model.Fulfillment(s) {
	case model.FulfillmentStorage:
		return model.FulfillmentStorage, nil
	case model.FulfillmentDelivery:
		return model.FulfillmentDelivery, nil
	}
	return "", fmt.Errorf("settle: fulfillment must be %q or %q", model.FulfillmentStorage, model.FulfillmentDelivery)
}

func parseStorageClass(s string) (model.StorageClass, error) {
	switch model.StorageClass(s) {
	case model.StorageCommingled:
		return model.StorageCommingled, nil
	case model.StorageSegregated:
		return model.StorageSegregated, nil
	}
	return "", fmt.Errorf("settle: storage class must be %q or %q", model.StorageCommingled, model.StorageSegregated)
}

func parseCondition(s string) (model.Condition, error) {
	switch model.Condition(s) {
	case "":
		return model.ConditionBullion, nil
	case model.ConditionBullion:
		return model.ConditionBullion, nil
	case model.ConditionScrap:
		return model.ConditionScrap, nil
	}
	return "", fmt.Errorf("settle: condition must be %q or %q", model.ConditionBullion, model.ConditionScrap)
}

func parsePayoutMethod(s string) (model.PayoutMethod, error) {
	switch model.PayoutMethod(s) {
	case model.PayoutBalance:
		return model.PayoutBalance, nil
	case model.PayoutBankWire:
		return model.PayoutBankWire, nil
	case model.PayoutCheck:
		return model.PayoutCheck, nil
	}
	return "", fmt.Errorf("settle: unknown payout method %q", s)
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
