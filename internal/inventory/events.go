package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// IntegrationHandler receives valued adjustments for ledger posting. It is
// called after the stock movement has committed.
type IntegrationHandler interface {
	HandleInventoryAdjustmentPosted(ctx context.Context, evt AdjustmentPostedEvent) error
}

// AdjustmentPostedEvent represents a valued stock adjustment ready for ledger posting.
type AdjustmentPostedEvent struct {
	TenantID      int64
	LedgerEntryID int64
	ProductID     int64
	VariantID     int64
	WarehouseID   int64
	Quantity      decimal.Decimal
	UnitCost      decimal.Decimal
	ActorID       int64
	Note          string
	PostedAt      time.Time
}

// Value is the signed cost of the adjustment rounded to cents.
func (e AdjustmentPostedEvent) Value() decimal.Decimal {
	return e.Quantity.Mul(e.UnitCost).Round(2)
}

func adjustmentEvent(entry LedgerEntry) AdjustmentPostedEvent {
	return AdjustmentPostedEvent{
		TenantID:      entry.TenantID,
		LedgerEntryID: entry.ID,
		ProductID:     entry.ProductID,
		VariantID:     entry.VariantID,
		WarehouseID:   entry.WarehouseID,
		Quantity:      entry.Quantity,
		UnitCost:      entry.UnitCost,
		ActorID:       entry.CreatedBy,
		Note:          entry.Note,
		PostedAt:      entry.CreatedAt,
	}
}
