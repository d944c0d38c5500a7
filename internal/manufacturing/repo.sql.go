package manufacturing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Repository persists BOMs and production orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	InsertBOM(ctx context.Context, bom BOM) (BOM, error)
	GetBOM(ctx context.Context, tenantID, id int64) (BOM, error)
	InsertOrder(ctx context.Context, order ProductionOrder) (ProductionOrder, error)
	// GetOrder loads an order, locking the row FOR UPDATE when forUpdate is set.
	GetOrder(ctx context.Context, tenantID, id int64, forUpdate bool) (ProductionOrder, error)
	UpdateOrder(ctx context.Context, order ProductionOrder) error
	ListOrders(ctx context.Context, filter OrderFilter) ([]ProductionOrder, error)
	// Stock returns the stock ledger bound to the same transaction.
	Stock() inventory.TxRepository
}

type txRepository struct {
	tx    pgx.Tx
	stock inventory.TxRepository
}

// WithTx executes fn within a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("manufacturing repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, stock: inventory.NewTxRepository(tx)})
	})
}

func (r *txRepository) Stock() inventory.TxRepository {
	return r.stock
}

func (r *txRepository) InsertBOM(ctx context.Context, bom BOM) (BOM, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO boms (tenant_id, code, product_id, variant_id, output_quantity, is_active, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		bom.TenantID, bom.Code, bom.ProductID, bom.VariantID, bom.OutputQuantity, bom.IsActive, bom.CreatedAt).Scan(&bom.ID)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return BOM{}, fmt.Errorf("%w: bom %s", ErrDuplicateCode, bom.Code)
		}
		return BOM{}, err
	}
	for i := range bom.Components {
		c := &bom.Components[i]
		c.BOMID = bom.ID
		if err := r.tx.QueryRow(ctx, `INSERT INTO bom_components (bom_id, product_id, variant_id, code, quantity)
VALUES ($1, $2, $3, $4, $5) RETURNING id`, c.BOMID, c.ProductID, c.VariantID, c.Code, c.Quantity).Scan(&c.ID); err != nil {
			return BOM{}, err
		}
	}
	return bom, nil
}

func (r *txRepository) GetBOM(ctx context.Context, tenantID, id int64) (BOM, error) {
	var bom BOM
	err := r.tx.QueryRow(ctx, `SELECT id, tenant_id, code, product_id, variant_id, output_quantity, is_active, created_at
FROM boms WHERE tenant_id = $1 AND id = $2`, tenantID, id).
		Scan(&bom.ID, &bom.TenantID, &bom.Code, &bom.ProductID, &bom.VariantID, &bom.OutputQuantity, &bom.IsActive, &bom.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return BOM{}, ErrBOMNotFound
	}
	if err != nil {
		return BOM{}, err
	}
	rows, err := r.tx.Query(ctx, `SELECT id, bom_id, product_id, variant_id, code, quantity
FROM bom_components WHERE bom_id = $1 ORDER BY id`, bom.ID)
	if err != nil {
		return BOM{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var c BOMComponent
		if err := rows.Scan(&c.ID, &c.BOMID, &c.ProductID, &c.VariantID, &c.Code, &c.Quantity); err != nil {
			return BOM{}, err
		}
		bom.Components = append(bom.Components, c)
	}
	return bom, rows.Err()
}

func (r *txRepository) InsertOrder(ctx context.Context, order ProductionOrder) (ProductionOrder, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO production_orders
(tenant_id, number, bom_id, product_id, variant_id, warehouse_id, planned_quantity, status, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9::bigint, 0), $10, $10) RETURNING id`,
		order.TenantID, order.Number, order.BOMID, order.ProductID, order.VariantID, order.WarehouseID,
		order.PlannedQuantity, order.Status, order.CreatedBy, order.CreatedAt).Scan(&order.ID)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return ProductionOrder{}, fmt.Errorf("%w: order %s", ErrDuplicateCode, order.Number)
		}
		return ProductionOrder{}, err
	}
	order.UpdatedAt = order.CreatedAt
	return order, nil
}

const orderColumns = `id, tenant_id, number, bom_id, product_id, variant_id, warehouse_id, planned_quantity,
produced_quantity, status, COALESCE(created_by, 0), started_at, completed_at, cancelled_at, created_at, updated_at`

func scanOrder(row pgx.Row) (ProductionOrder, error) {
	var o ProductionOrder
	err := row.Scan(&o.ID, &o.TenantID, &o.Number, &o.BOMID, &o.ProductID, &o.VariantID, &o.WarehouseID, &o.PlannedQuantity,
		&o.ProducedQuantity, &o.Status, &o.CreatedBy, &o.StartedAt, &o.CompletedAt, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (r *txRepository) GetOrder(ctx context.Context, tenantID, id int64, forUpdate bool) (ProductionOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM production_orders WHERE tenant_id = $1 AND id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	order, err := scanOrder(r.tx.QueryRow(ctx, query, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ProductionOrder{}, ErrOrderNotFound
	}
	return order, err
}

func (r *txRepository) UpdateOrder(ctx context.Context, order ProductionOrder) error {
	tag, err := r.tx.Exec(ctx, `UPDATE production_orders
SET produced_quantity = $3, status = $4, started_at = $5, completed_at = $6, cancelled_at = $7, updated_at = $8
WHERE tenant_id = $1 AND id = $2`,
		order.TenantID, order.ID, order.ProducedQuantity, order.Status,
		order.StartedAt, order.CompletedAt, order.CancelledAt, order.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *txRepository) ListOrders(ctx context.Context, filter OrderFilter) ([]ProductionOrder, error) {
	where := []string{"tenant_id = $1"}
	args := []any{filter.TenantID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	args = append(args, filter.Limit)
	rows, err := r.tx.Query(ctx, fmt.Sprintf(`SELECT %s FROM production_orders WHERE %s ORDER BY id DESC LIMIT $%d`,
		orderColumns, strings.Join(where, " AND "), len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ProductionOrder
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, rows.Err()
}
