package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bullionworks/trade-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var amount string
	err := s.pool.QueryRow(ctx,
		`SELECT amount::TEXT FROM balances WHERE user_id = $1`, userID).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance %s: %w", userID, err)
	}
	b, _ := decimal.NewFromString(amount)
	return b, nil
}

func (s *PostgresStore) SetBalance(ctx context.Context, userID string, amount decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO balances (user_id, amount) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (user_id) DO UPDATE SET amount = EXCLUDED.amount`,
		userID, amount.String())
	return err
}

func (s *PostgresStore) CreateHolding(ctx context.Context, h *model.HoldingItem) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO holdings (id, user_id, name, metal, form, weight_amount, weight_unit,
		                       quantity, purchase_price, acquired_at, purity, mint, notes, sku)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8, $9::NUMERIC, $10, $11, $12, $13, $14)`,
		h.ID, h.UserID, h.Name, string(h.Metal), h.Form,
		h.WeightAmount.String(), h.WeightUnit, h.Quantity,
		h.PurchasePrice.String(), h.AcquiredAt, h.Purity, h.Mint, h.Notes, h.SKU,
	)
	return err
}

const holdingColumns = `id, user_id, name, metal, form,
	weight_amount::TEXT, weight_unit, quantity,
	purchase_price::TEXT, acquired_at, purity, mint, notes, sku`

func scanHolding(row pgx.Row) (*model.HoldingItem, error) {
	var h model.HoldingItem
	var metal, weightAmount, purchasePrice string

	err := row.Scan(&h.ID, &h.UserID, &h.Name, &metal, &h.Form,
		&weightAmount, &h.WeightUnit, &h.Quantity,
		&purchasePrice, &h.AcquiredAt, &h.Purity, &h.Mint, &h.Notes, &h.SKU)
	if err != nil {
		return nil, err
	}

	h.Metal = model.Metal(metal)
	h.WeightAmount, _ = decimal.NewFromString(weightAmount)
	h.PurchasePrice, _ = decimal.NewFromString(purchasePrice)
	return &h, nil
}

func (s *PostgresStore) GetHolding(ctx context.Context, id string) (*model.HoldingItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+holdingColumns+` FROM holdings WHERE id = $1`, id)
	h, err := scanHolding(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("holding %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get holding %s: %w", id, err)
	}
	return h, nil
}

func (s *PostgresStore) ListHoldings(ctx context.Context, userID string) ([]model.HoldingItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+holdingColumns+` FROM holdings WHERE user_id = $1 ORDER BY acquired_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.HoldingItem
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *h)
	}
	return items, rows.Err()
}

// DecrementHolding relies on a server-side conditional update so two
// concurrent sells cannot both drain the same units.
func (s *PostgresStore) DecrementHolding(ctx context.Context, id string, qty int) (int, error) {
	if qty <= 0 {
		return 0, ErrInsufficientQuantity
	}

	var remaining int
	err := s.pool.QueryRow(ctx,
		`UPDATE holdings SET quantity = quantity - $2
		 WHERE id = $1 AND quantity >= $2
		 RETURNING quantity`, id, qty).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the holding is missing or it has too few units.
		if _, getErr := s.GetHolding(ctx, id); getErr != nil {
			return 0, getErr
		}
		return 0, ErrInsufficientQuantity
	}
	if err != nil {
		return 0, fmt.Errorf("decrement holding %s: %w", id, err)
	}
	return remaining, nil
}

func (s *PostgresStore) DeleteHolding(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM holdings WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("holding %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_entries (id, user_id, type, metal, weight_oz, price_per_oz, total_value, timestamp, status)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9)`,
		e.ID, e.UserID, string(e.Type), string(e.Metal),
		e.WeightOz.String(), e.PricePerOz.String(), e.TotalValue.String(),
		e.Timestamp, string(e.Status),
	)
	return err
}

func (s *PostgresStore) ListLedgerEntries(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, type, metal,
		        weight_oz::TEXT, price_per_oz::TEXT, total_value::TEXT,
		        timestamp, status
		 FROM ledger_entries WHERE user_id = $1 ORDER BY timestamp`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var typ, metal, weightOz, pricePerOz, totalValue, status string

		if err := rows.Scan(&e.ID, &e.UserID, &typ, &metal,
			&weightOz, &pricePerOz, &totalValue,
			&e.Timestamp, &status); err != nil {
			return nil, err
		}

		e.Type = model.TradeType(typ)
		e.Metal = model.Metal(metal)
		e.Status = model.TradeStatus(status)
		e.WeightOz, _ = decimal.NewFromString(weightOz)
		e.PricePerOz, _ = decimal.NewFromString(pricePerOz)
		e.TotalValue, _ = decimal.NewFromString(totalValue)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) UpdateLedgerStatus(ctx context.Context, id string, status model.TradeStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ledger_entries SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger entry %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) InsertMirrorEntry(ctx context.Context, e *model.MirrorEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO mirror_entries (id, user_id, type, metal, weight_oz, price_per_oz, amount, status, payment_method, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9, $10)`,
		e.ID, e.UserID, string(e.Type), string(e.Metal),
		e.WeightOz.String(), e.PricePerOz.String(), e.Amount.String(),
		string(e.Status), e.PaymentMethod, e.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListMirrorEntries(ctx context.Context, userID string) ([]model.MirrorEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, type, metal,
		        weight_oz::TEXT, price_per_oz::TEXT, amount::TEXT,
		        status, payment_method, created_at
		 FROM mirror_entries WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.MirrorEntry
	for rows.Next() {
		var e model.MirrorEntry
		var typ, metal, weightOz, pricePerOz, amount, status string

		if err := rows.Scan(&e.ID, &e.UserID, &typ, &metal,
			&weightOz, &pricePerOz, &amount,
			&status, &e.PaymentMethod, &e.CreatedAt); err != nil {
			return nil, err
		}

		e.Type = model.TradeType(typ)
		e.Metal = model.Metal(metal)
		e.Status = model.TradeStatus(status)
		e.WeightOz, _ = decimal.NewFromString(weightOz)
		e.PricePerOz, _ = decimal.NewFromString(pricePerOz)
		e.Amount, _ = decimal.NewFromString(amount)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) CreateVaultHolding(ctx context.Context, v *model.VaultHolding) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO vault_holdings (id, holding_id, user_id, metal, storage_class, weight_oz, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7)`,
		v.ID, v.HoldingID, v.UserID, string(v.Metal), string(v.StorageClass),
		v.WeightOz.String(), v.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListVaultHoldings(ctx context.Context, userID string) ([]model.VaultHolding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, holding_id, user_id, metal, storage_class, weight_oz::TEXT, created_at
		 FROM vault_holdings WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []model.VaultHolding
	for rows.Next() {
		var v model.VaultHolding
		var metal, class, weightOz string

		if err := rows.Scan(&v.ID, &v.HoldingID, &v.UserID, &metal, &class,
			&weightOz, &v.CreatedAt); err != nil {
			return nil, err
		}

		v.Metal = model.Metal(metal)
		v.StorageClass = model.StorageClass(class)
		v.WeightOz, _ = decimal.NewFromString(weightOz)

		holdings = append(holdings, v)
	}
	return holdings, rows.Err()
}
