package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/bullionworks/trade-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[string]decimal.Decimal
	holdings map[string]*model.HoldingItem
	ledger   []model.LedgerEntry
	mirror   []model.MirrorEntry
	vault    []model.VaultHolding
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]decimal.Decimal),
		holdings: make(map[string]*model.HoldingItem),
	}
}

func (s *MemoryStore) GetBalance(_ context.Context, userID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[userID], nil
}

func (s *MemoryStore) SetBalance(_ context.Context, userID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = amount
	return nil
}

func (s *MemoryStore) CreateHolding(_ context.Context, item *model.HoldingItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.holdings[item.ID]; exists {
		return fmt.Errorf("holding %s already exists", item.ID)
	}
	// Store a copy to avoid external mutation.
	cp := *item
	s.holdings[item.ID] = &cp
	return nil
}

func (s *MemoryStore) GetHolding(_ context.Context, id string) (*model.HoldingItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holdings[id]
	if !ok {
		return nil, fmt.Errorf("holding %s: %w", id, ErrNotFound)
	}
	cp := *h
	return &cp, nil
}

func (s *MemoryStore) ListHoldings(_ context.Context, userID string) ([]model.HoldingItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []model.HoldingItem
	for _, h := range s.holdings {
		if h.UserID == userID {
			items = append(items, *h)
		}
	}
	return items, nil
}

func (s *MemoryStore) DecrementHolding(_ context.Context, id string, qty int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holdings[id]
	if !ok {
		return 0, fmt.Errorf("holding %s: %w", id, ErrNotFound)
	}
	if qty <= 0 || h.Quantity < qty {
		return h.Quantity, ErrInsufficientQuantity
	}
	h.Quantity -= qty
	return h.Quantity, nil
}

func (s *MemoryStore) DeleteHolding(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.holdings[id]; !ok {
		return fmt.Errorf("holding %s: %w", id, ErrNotFound)
	}
	delete(s.holdings, id)
	return nil
}

func (s *MemoryStore) InsertLedgerEntry(_ context.Context, entry *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = append(s.ledger, *entry)
	return nil
}

func (s *MemoryStore) ListLedgerEntries(_ context.Context, userID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) UpdateLedgerStatus(_ context.Context, id string, status model.TradeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.ledger {
		if s.ledger[i].ID == id {
			s.ledger[i].Status = status
			return nil
		}
	}
	return fmt.Errorf("ledger entry %s: %w", id, ErrNotFound)
}

func (s *MemoryStore) InsertMirrorEntry(_ context.Context, entry *model.MirrorEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirror = append(s.mirror, *entry)
	return nil
}

func (s *MemoryStore) ListMirrorEntries(_ context.Context, userID string) ([]model.MirrorEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.MirrorEntry
	for _, e := range s.mirror {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) CreateVaultHolding(_ context.Context, v *model.VaultHolding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vault = append(s.vault, *v)
	return nil
}

func (s *MemoryStore) ListVaultHoldings(_ context.Context, userID string) ([]model.VaultHolding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.VaultHolding
	for _, v := range s.vault {
		if v.UserID == userID {
			result = append(result, v)
		}
	}
	return result, nil
}
