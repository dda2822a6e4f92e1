// Package model defines the core domain types shared across the trade engine.
// All monetary and weight values use shopspring/decimal — never float64 for money.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Metal identifies a precious metal priced per troy ounce.
type Metal string

const (
	Gold      Metal = "gold"
	Silver    Metal = "silver"
	Platinum  Metal = "platinum"
	Palladium Metal = "palladium"
)

// Metals returns all supported metals in a stable order.
func Metals() []Metal {
	return []Metal{Gold, Silver, Platinum, Palladium}
}

// ParseMetal validates and normalizes a metal identifier.
func ParseMetal(s string) (Metal, error) {
	switch Metal(strings.ToLower(strings.TrimSpace(s))) {
	case Gold:
		return Gold, nil
	case Silver:
		return Silver, nil
	case Platinum:
		return Platinum, nil
	case Palladium:
		return Palladium, nil
	}
	return "", fmt.Errorf("model: unknown metal %q", s)
}

// Fulfillment selects how a buy order is delivered, which in turn selects
// the pricing path (vendor-sourced vault storage vs. own-stock delivery).
type Fulfillment string

const (
	FulfillmentStorage  Fulfillment = "storage"
	FulfillmentDelivery Fulfillment = "delivery"
)

// StorageClass distinguishes pooled from individually custodied storage.
type StorageClass string

const (
	StorageCommingled StorageClass = "commingled"
	StorageSegregated StorageClass = "segregated"
)

// Condition classifies sold metal for buyback pricing.
type Condition string

const (
	ConditionBullion Condition = "bullion"
	ConditionScrap   Condition = "scrap"
)

// PayoutMethod is where sale proceeds are sent. Only the internal balance
// settles synchronously; external rails settle asynchronously.
type PayoutMethod string

const (
	PayoutBalance  PayoutMethod = "balance"
	PayoutBankWire PayoutMethod = "bank_wire"
	PayoutCheck    PayoutMethod = "check"
)

// TradeType is the direction of a settled trade leg.
type TradeType string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

// TradeStatus is the settlement status of a ledger entry. Entries are
// append-only; status is the single field allowed to transition
// (PendingFunds → Completed once an external payout rail settles).
type TradeStatus string

const (
	StatusCompleted    TradeStatus = "completed"
	StatusPendingFunds TradeStatus = "pending_funds"

	// StatusReversed marks a compensating entry appended when a settlement
	// step failed mid-sequence and earlier steps were unwound. Reversal
	// entries keep the ledger append-only.
	StatusReversed TradeStatus = "reversed"
)

// HoldingItem is one line of a customer's metal holdings: quantity identical
// units of a product. WeightAmount is the per-unit weight in WeightUnit;
// Purity is kept in its original notation and parsed on valuation.
type HoldingItem struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	Name          string          `json:"name" db:"name"`
	Metal         Metal           `json:"metal" db:"metal"`
	Form          string          `json:"form" db:"form"` // "bar", "coin", "round"
	WeightAmount  decimal.Decimal `json:"weight_amount" db:"weight_amount"`
	WeightUnit    string          `json:"weight_unit" db:"weight_unit"`
	Quantity      int             `json:"quantity" db:"quantity"`
	PurchasePrice decimal.Decimal `json:"purchase_price" db:"purchase_price"` // USD, total paid
	AcquiredAt    time.Time       `json:"acquired_at" db:"acquired_at"`
	Purity        string          `json:"purity" db:"purity"`
	Mint          string          `json:"mint" db:"mint"`
	Notes         string          `json:"notes" db:"notes"`
	SKU           string          `json:"sku,omitempty" db:"sku"`
}

// LedgerEntry is an append-only record of one settled trade leg. Created
// once per leg; never mutated after creation except the status transition.
type LedgerEntry struct {
	ID         string          `json:"id" db:"id"`
	UserID     string          `json:"user_id" db:"user_id"`
	Type       TradeType       `json:"type" db:"type"`
	Metal      Metal           `json:"metal" db:"metal"`
	WeightOz   decimal.Decimal `json:"weight_oz" db:"weight_oz"`
	PricePerOz decimal.Decimal `json:"price_per_oz" db:"price_per_oz"`
	TotalValue decimal.Decimal `json:"total_value" db:"total_value"`
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`
	Status     TradeStatus     `json:"status" db:"status"`
}

// MirrorEntry is the trade record mirrored to the back-office ledger.
// Schema: {type, metal, weightOz, pricePerOz, amount, status, paymentMethod}
type MirrorEntry struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	Type          TradeType       `json:"type" db:"type"`
	Metal         Metal           `json:"metal" db:"metal"`
	WeightOz      decimal.Decimal `json:"weight_oz" db:"weight_oz"`
	PricePerOz    decimal.Decimal `json:"price_per_oz" db:"price_per_oz"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Status        TradeStatus     `json:"status" db:"status"`
	PaymentMethod string          `json:"payment_method" db:"payment_method"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// VaultHolding is the back-office view of a storage-fulfilled buy,
// referencing the customer-facing HoldingItem. Created at buy-settlement
// time and not otherwise mutated by this engine.
type VaultHolding struct {
	ID           string          `json:"id" db:"id"`
	HoldingID    string          `json:"holding_id" db:"holding_id"`
	UserID       string          `json:"user_id" db:"user_id"`
	Metal        Metal           `json:"metal" db:"metal"`
	StorageClass StorageClass    `json:"storage_class" db:"storage_class"`
	WeightOz     decimal.Decimal `json:"weight_oz" db:"weight_oz"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}
