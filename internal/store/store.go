// Package store defines the persistence interface for the trade engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/bullionworks/trade-engine/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrInsufficientQuantity is returned when a decrement would take a
	// holding's quantity below zero. The check-and-decrement is atomic so
	// two concurrent sells cannot both drain the same units.
	ErrInsufficientQuantity = errors.New("store: insufficient holding quantity")
)

// Store is the persistence interface. The settlement orchestrator is the
// only writer during a trade; ledger and mirror writes are append-only.
type Store interface {
	// --- Cash balance ---

	// GetBalance returns the customer's cash balance. Unknown customers
	// have a zero balance.
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)

	// SetBalance overwrites the customer's cash balance. The orchestrator
	// calls this exactly once per settled flow.
	SetBalance(ctx context.Context, userID string, amount decimal.Decimal) error

	// --- Holdings ---

	// CreateHolding persists a new holding line.
	CreateHolding(ctx context.Context, item *model.HoldingItem) error

	// GetHolding retrieves a holding by id.
	GetHolding(ctx context.Context, id string) (*model.HoldingItem, error)

	// ListHoldings returns all holdings for a customer.
	ListHoldings(ctx context.Context, userID string) ([]model.HoldingItem, error)

	// DecrementHolding atomically subtracts qty units from a holding and
	// returns the remaining count. Returns ErrInsufficientQuantity if the
	// holding has fewer than qty units.
	DecrementHolding(ctx context.Context, id string, qty int) (remaining int, err error)

	// DeleteHolding removes a holding entirely.
	DeleteHolding(ctx context.Context, id string) error

	// --- Append-only ledger ---

	// InsertLedgerEntry appends a trade record.
	InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error

	// ListLedgerEntries returns all trade records for a customer.
	ListLedgerEntries(ctx context.Context, userID string) ([]model.LedgerEntry, error)

	// UpdateLedgerStatus transitions an entry's status (the only mutation
	// allowed after creation, e.g. pending_funds → completed).
	UpdateLedgerStatus(ctx context.Context, id string, status model.TradeStatus) error

	// --- External back-office mirror (append-only) ---

	// InsertMirrorEntry appends a record visible to the back-office system.
	InsertMirrorEntry(ctx context.Context, entry *model.MirrorEntry) error

	// ListMirrorEntries returns mirrored records for a customer.
	ListMirrorEntries(ctx context.Context, userID string) ([]model.MirrorEntry, error)

	// --- Vault holdings (storage-fulfilled buys only) ---

	// CreateVaultHolding records the back-office view of a vaulted buy.
	CreateVaultHolding(ctx context.Context, v *model.VaultHolding) error

	// ListVaultHoldings returns vaulted holdings for a customer.
	ListVaultHoldings(ctx context.Context, userID string) ([]model.VaultHolding, error)
}
