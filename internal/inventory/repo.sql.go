package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Repository persists stock ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the stock writer.
type TxRepository interface {
	// LockStockLevel creates the level row if missing and locks it FOR UPDATE.
	LockStockLevel(ctx context.Context, key StockKey) (StockLevel, error)
	GetStockLevel(ctx context.Context, key StockKey) (StockLevel, error)
	SaveStockLevel(ctx context.Context, level StockLevel) error
	InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (LedgerEntry, error)
	ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error)
	LedgerDrift(ctx context.Context, tenantID int64) ([]Drift, error)
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository binds the stock queries to a transaction owned by another
// module, so its writes commit or roll back together with the caller's.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes fn within a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// ListTenants returns every tenant holding stock levels.
func (r *Repository) ListTenants(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT tenant_id FROM stock_levels ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

const levelColumns = `tenant_id, product_id, variant_id, warehouse_id, on_hand, reserved, avg_cost, updated_at`

func scanLevel(row pgx.Row) (StockLevel, error) {
	var l StockLevel
	err := row.Scan(&l.TenantID, &l.ProductID, &l.VariantID, &l.WarehouseID, &l.OnHand, &l.Reserved, &l.AvgCost, &l.UpdatedAt)
	return l, err
}

func (r *txRepository) LockStockLevel(ctx context.Context, key StockKey) (StockLevel, error) {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_levels (tenant_id, product_id, variant_id, warehouse_id)
VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`, key.TenantID, key.ProductID, key.VariantID, key.WarehouseID)
	if err != nil {
		return StockLevel{}, fmt.Errorf("inventory: ensure stock level: %w", err)
	}
	return scanLevel(r.tx.QueryRow(ctx, `SELECT `+levelColumns+` FROM stock_levels
WHERE tenant_id=$1 AND product_id=$2 AND variant_id=$3 AND warehouse_id=$4 FOR UPDATE`,
		key.TenantID, key.ProductID, key.VariantID, key.WarehouseID))
}

func (r *txRepository) GetStockLevel(ctx context.Context, key StockKey) (StockLevel, error) {
	level, err := scanLevel(r.tx.QueryRow(ctx, `SELECT `+levelColumns+` FROM stock_levels
WHERE tenant_id=$1 AND product_id=$2 AND variant_id=$3 AND warehouse_id=$4`,
		key.TenantID, key.ProductID, key.VariantID, key.WarehouseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return StockLevel{StockKey: key}, nil
	}
	return level, err
}

func (r *txRepository) SaveStockLevel(ctx context.Context, level StockLevel) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_levels SET on_hand=$5, reserved=$6, avg_cost=$7, updated_at=$8
WHERE tenant_id=$1 AND product_id=$2 AND variant_id=$3 AND warehouse_id=$4`,
		level.TenantID, level.ProductID, level.VariantID, level.WarehouseID,
		level.OnHand, level.Reserved, level.AvgCost, level.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("inventory: stock level row missing")
	}
	return nil
}

func (r *txRepository) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (LedgerEntry, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_ledger_entries
(tenant_id, product_id, variant_id, warehouse_id, entry_type, quantity, unit_cost, balance_after,
 reference_type, reference_id, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NULLIF($12::bigint, 0),$13)
RETURNING id`,
		entry.TenantID, entry.ProductID, entry.VariantID, entry.WarehouseID, entry.Type, entry.Quantity,
		entry.UnitCost, entry.BalanceAfter, entry.ReferenceType, entry.ReferenceID, entry.Note,
		entry.CreatedBy, entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("inventory: insert ledger entry: %w", err)
	}
	return entry, nil
}

func (r *txRepository) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	where := []string{"tenant_id=$1"}
	args := []any{filter.TenantID}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.ProductID != 0 {
		add("product_id=$%d", filter.ProductID)
	}
	if filter.WarehouseID != 0 {
		add("warehouse_id=$%d", filter.WarehouseID)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at <= $%d", filter.To)
	}
	args = append(args, filter.Limit)
	query := fmt.Sprintf(`SELECT id, tenant_id, product_id, variant_id, warehouse_id, entry_type, quantity, unit_cost,
balance_after, reference_type, reference_id, note, COALESCE(created_by, 0), created_at
FROM stock_ledger_entries WHERE %s ORDER BY id LIMIT $%d`, strings.Join(where, " AND "), len(args))
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ProductID, &e.VariantID, &e.WarehouseID, &e.Type, &e.Quantity, &e.UnitCost,
			&e.BalanceAfter, &e.ReferenceType, &e.ReferenceID, &e.Note, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *txRepository) LedgerDrift(ctx context.Context, tenantID int64) ([]Drift, error) {
	rows, err := r.tx.Query(ctx, `SELECT l.tenant_id, l.product_id, l.variant_id, l.warehouse_id, l.on_hand, COALESCE(SUM(e.quantity), 0)
FROM stock_levels l
LEFT JOIN stock_ledger_entries e
  ON e.tenant_id = l.tenant_id AND e.product_id = l.product_id
 AND e.variant_id = l.variant_id AND e.warehouse_id = l.warehouse_id
WHERE l.tenant_id = $1
GROUP BY l.tenant_id, l.product_id, l.variant_id, l.warehouse_id, l.on_hand
HAVING l.on_hand <> COALESCE(SUM(e.quantity), 0)
ORDER BY l.warehouse_id, l.product_id, l.variant_id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Drift
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.TenantID, &d.ProductID, &d.VariantID, &d.WarehouseID, &d.OnHand, &d.LedgerTotal); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
