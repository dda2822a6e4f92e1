package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/bullionworks/trade-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot paths: balances and per-user holdings lists. Writes go
// to the primary store and invalidate the cache; reads check Redis first
// then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Balance (read-through, write-invalidate) ---

func (s *CachedStore) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	if raw, err := s.rdb.Get(ctx, balanceKey(userID)).Result(); err == nil {
		if b, perr := decimal.NewFromString(raw); perr == nil {
			return b, nil
		}
	}

	b, err := s.primary.GetBalance(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	s.rdb.Set(ctx, balanceKey(userID), b.String(), s.ttl)
	return b, nil
}

func (s *CachedStore) SetBalance(ctx context.Context, userID string, amount decimal.Decimal) error {
	if err := s.primary.SetBalance(ctx, userID, amount); err != nil {
		return err
	}
	s.rdb.Set(ctx, balanceKey(userID), amount.String(), s.ttl)
	return nil
}

// --- Holdings (list cached per user, invalidated on any write) ---

func (s *CachedStore) CreateHolding(ctx context.Context, item *model.HoldingItem) error {
	if err := s.primary.CreateHolding(ctx, item); err != nil {
		return err
	}
	s.rdb.Del(ctx, holdingsKey(item.UserID))
	return nil
}

func (s *CachedStore) GetHolding(ctx context.Context, id string) (*model.HoldingItem, error) {
	return s.primary.GetHolding(ctx, id)
}

func (s *CachedStore) ListHoldings(ctx context.Context, userID string) ([]model.HoldingItem, error) {
	if data, err := s.rdb.Get(ctx, holdingsKey(userID)).Bytes(); err == nil {
		var items []model.HoldingItem
		if json.Unmarshal(data, &items) == nil {
			return items, nil
		}
	}

	items, err := s.primary.ListHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(items); err == nil {
		s.rdb.Set(ctx, holdingsKey(userID), data, s.ttl)
	}
	return items, nil
}

func (s *CachedStore) DecrementHolding(ctx context.Context, id string, qty int) (int, error) {
	remaining, err := s.primary.DecrementHolding(ctx, id, qty)
	if err != nil {
		return remaining, err
	}
	s.invalidateHoldings(ctx, id)
	return remaining, nil
}

func (s *CachedStore) DeleteHolding(ctx context.Context, id string) error {
	// Resolve the owner before the row disappears.
	s.invalidateHoldings(ctx, id)
	return s.primary.DeleteHolding(ctx, id)
}

// invalidateHoldings drops the owner's cached holdings list.
func (s *CachedStore) invalidateHoldings(ctx context.Context, holdingID string) {
	if h, err := s.primary.GetHolding(ctx, holdingID); err == nil {
		s.rdb.Del(ctx, holdingsKey(h.UserID))
	}
}

// --- Passthrough (append-only streams, not cached) ---

func (s *CachedStore) InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	return s.primary.InsertLedgerEntry(ctx, entry)
}

func (s *CachedStore) ListLedgerEntries(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	return s.primary.ListLedgerEntries(ctx, userID)
}

func (s *CachedStore) UpdateLedgerStatus(ctx context.Context, id string, status model.TradeStatus) error {
	return s.primary.UpdateLedgerStatus(ctx, id, status)
}

func (s *CachedStore) InsertMirrorEntry(ctx context.Context, entry *model.MirrorEntry) error {
	return s.primary.InsertMirrorEntry(ctx, entry)
}

func (s *CachedStore) ListMirrorEntries(ctx context.Context, userID string) ([]model.MirrorEntry, error) {
	return s.primary.ListMirrorEntries(ctx, userID)
}

func (s *CachedStore) CreateVaultHolding(ctx context.Context, v *model.VaultHolding) error {
	return s.primary.CreateVaultHolding(ctx, v)
}

func (s *CachedStore) ListVaultHoldings(ctx context.Context, userID string) ([]model.VaultHolding, error) {
	return s.primary.ListVaultHoldings(ctx, userID)
}

// --- Cache keys ---

func balanceKey(uid string) string  { return fmt.Sprintf("balance:%s", uid) }
func holdingsKey(uid string) string { return fmt.Sprintf("holdings:%s", uid) }
