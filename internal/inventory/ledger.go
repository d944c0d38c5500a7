package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ApplyMovement appends one stock ledger row inside tx and folds its signed
// quantity into the stock level. The level row is locked for the rest of the
// transaction. Outbound movements must fit the available quantity unless
// opts.AllowNegative is set.
func ApplyMovement(ctx context.Context, tx TxRepository, m Movement, opts MovementOptions) (LedgerEntry, error) {
	if err := m.Key.validate(); err != nil {
		return LedgerEntry{}, err
	}
	if !m.Type.Valid() {
		return LedgerEntry{}, fmt.Errorf("%w: %q", ErrInvalidEntryType, m.Type)
	}
	if m.Quantity.IsZero() {
		return LedgerEntry{}, fmt.Errorf("%w: quantity must be non zero", ErrInvalidQuantity)
	}
	if err := checkScale(m.Quantity); err != nil {
		return LedgerEntry{}, err
	}
	if m.UnitCost.IsNegative() {
		return LedgerEntry{}, ErrInvalidUnitCost
	}
	at := opts.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	level, err := tx.LockStockLevel(ctx, m.Key)
	if err != nil {
		return LedgerEntry{}, err
	}
	unitCost := m.UnitCost
	onHand := level.OnHand.Add(m.Quantity)
	if m.Quantity.IsNegative() {
		required := m.Quantity.Neg()
		if available := level.Available(); !opts.AllowNegative && available.LessThan(required) {
			return LedgerEntry{}, &InsufficientStockError{Key: m.Key, Label: labelFor(m), Available: available, Required: required}
		}
		unitCost = level.AvgCost
		if !onHand.IsPositive() {
			level.AvgCost = decimal.Zero
		}
	} else {
		level.AvgCost = movingAverage(level.OnHand, level.AvgCost, m.Quantity, unitCost)
	}
	level.OnHand = onHand
	level.UpdatedAt = at

	entry, err := tx.InsertLedgerEntry(ctx, LedgerEntry{
		StockKey:      m.Key,
		Type:          m.Type,
		Quantity:      m.Quantity,
		UnitCost:      unitCost,
		BalanceAfter:  onHand,
		ReferenceType: m.ReferenceType,
		ReferenceID:   m.ReferenceID,
		Note:          m.Note,
		CreatedBy:     m.ActorID,
		CreatedAt:     at,
	})
	if err != nil {
		return LedgerEntry{}, err
	}
	if err := tx.SaveStockLevel(ctx, level); err != nil {
		return LedgerEntry{}, err
	}
	return entry, nil
}

// LockStockLevels locks every distinct key in sorted order and returns the
// locked levels. Callers touching several rows use it before ApplyMovement so
// concurrent transactions queue instead of deadlocking.
func LockStockLevels(ctx context.Context, tx TxRepository, keys []StockKey) (map[StockKey]StockLevel, error) {
	out := make(map[StockKey]StockLevel, len(keys))
	for _, key := range SortKeys(keys) {
		if err := key.validate(); err != nil {
			return nil, err
		}
		level, err := tx.LockStockLevel(ctx, key)
		if err != nil {
			return nil, err
		}
		out[key] = level
	}
	return out, nil
}

func movingAverage(onHand, avgCost, qty, unitCost decimal.Decimal) decimal.Decimal {
	total := onHand.Add(qty)
	if !onHand.IsPositive() || !total.IsPositive() {
		return unitCost
	}
	value := onHand.Mul(avgCost).Add(qty.Mul(unitCost))
	return value.Div(total).Round(quantityScale)
}
