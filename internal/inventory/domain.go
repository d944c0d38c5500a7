package inventory

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// EntryType enumerates supported stock movements.
type EntryType string

const (
	EntryTypeReceipt     EntryType = "RECEIPT"
	EntryTypeAdjustment  EntryType = "ADJUSTMENT"
	EntryTypeTransferOut EntryType = "TRANSFER_OUT"
	EntryTypeTransferIn  EntryType = "TRANSFER_IN"
	EntryTypeConsumption EntryType = "MANUFACTURING_CONSUMPTION"
	EntryTypeOutput      EntryType = "MANUFACTURING_OUTPUT"
)

// quantityScale matches the NUMERIC(20,6) quantity columns.
const quantityScale int32 = 6

const defaultLedgerLimit = 200

// Valid reports whether t is a known movement type.
func (t EntryType) Valid() bool {
	switch t {
	case EntryTypeReceipt, EntryTypeAdjustment, EntryTypeTransferOut, EntryTypeTransferIn, EntryTypeConsumption, EntryTypeOutput:
		return true
	}
	return false
}

// StockKey identifies one stock level row. VariantID 0 means no variant.
type StockKey struct {
	TenantID    int64
	ProductID   int64
	VariantID   int64
	WarehouseID int64
}

// Less orders keys so that row locks are always taken in the same sequence.
func (k StockKey) Less(o StockKey) bool {
	if k.TenantID != o.TenantID {
		return k.TenantID < o.TenantID
	}
	if k.WarehouseID != o.WarehouseID {
		return k.WarehouseID < o.WarehouseID
	}
	if k.ProductID != o.ProductID {
		return k.ProductID < o.ProductID
	}
	return k.VariantID < o.VariantID
}

func (k StockKey) validate() error {
	if k.TenantID == 0 || k.ProductID == 0 || k.WarehouseID == 0 {
		return ErrInvalidInput
	}
	if k.VariantID < 0 {
		return fmt.Errorf("%w: negative variant", ErrInvalidInput)
	}
	return nil
}

// SortKeys returns the distinct keys in lock order.
func SortKeys(keys []StockKey) []StockKey {
	seen := make(map[StockKey]struct{}, len(keys))
	out := make([]StockKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// StockLevel is the derived current quantity for one key.
type StockLevel struct {
	StockKey
	OnHand    decimal.Decimal
	Reserved  decimal.Decimal
	AvgCost   decimal.Decimal
	UpdatedAt time.Time
}

// Available is the on-hand quantity not held by reservations.
func (l StockLevel) Available() decimal.Decimal {
	return l.OnHand.Sub(l.Reserved)
}

// LedgerEntry is one immutable stock movement row.
type LedgerEntry struct {
	ID            int64
	StockKey
	Type          EntryType
	Quantity      decimal.Decimal
	UnitCost      decimal.Decimal
	BalanceAfter  decimal.Decimal
	ReferenceType string
	ReferenceID   string
	Note          string
	CreatedBy     int64
	CreatedAt     time.Time
}

// Value is the signed cost of the movement.
func (e LedgerEntry) Value() decimal.Decimal {
	return e.Quantity.Mul(e.UnitCost).Round(2)
}

// Movement is a signed quantity change applied through ApplyMovement.
type Movement struct {
	Key      StockKey
	Type     EntryType
	Quantity decimal.Decimal
	// UnitCost values inbound quantity; outbound movements leave at the average cost.
	UnitCost      decimal.Decimal
	ReferenceType string
	ReferenceID   string
	Note          string
	ActorID       int64
	// Label names the item in insufficient stock errors. Defaults to the product id.
	Label string
}

// MovementOptions tunes ApplyMovement.
type MovementOptions struct {
	AllowNegative bool
	At            time.Time
}

// ReceiptInput records inbound stock such as a goods receipt.
type ReceiptInput struct {
	TenantID       int64
	ProductID      int64
	VariantID      int64
	WarehouseID    int64
	Quantity       decimal.Decimal
	UnitCost       decimal.Decimal
	ReferenceType  string
	ReferenceID    string
	Note           string
	ActorID        int64
	IdempotencyKey string
}

// AdjustmentInput records a signed correction to on-hand stock.
type AdjustmentInput struct {
	TenantID       int64
	ProductID      int64
	VariantID      int64
	WarehouseID    int64
	Quantity       decimal.Decimal
	UnitCost       decimal.Decimal
	ReferenceType  string
	ReferenceID    string
	Note           string
	ActorID        int64
	IdempotencyKey string
}

// TransferInput moves stock between two warehouses.
type TransferInput struct {
	TenantID          int64
	ProductID         int64
	VariantID         int64
	SourceWarehouseID int64
	DestWarehouseID   int64
	Quantity          decimal.Decimal
	ReferenceType     string
	ReferenceID       string
	Note              string
	ActorID           int64
	IdempotencyKey    string
}

// ReservationInput holds or releases available quantity.
type ReservationInput struct {
	Key      StockKey
	Quantity decimal.Decimal
	ActorID  int64
}

// LedgerFilter narrows ListLedger.
type LedgerFilter struct {
	TenantID    int64
	ProductID   int64
	WarehouseID int64
	From        time.Time
	To          time.Time
	Limit       int
}

// Drift reports a stock level whose on-hand differs from its ledger sum.
type Drift struct {
	StockKey
	OnHand      decimal.Decimal
	LedgerTotal decimal.Decimal
}

// Difference is on-hand minus the ledger sum.
func (d Drift) Difference() decimal.Decimal {
	return d.OnHand.Sub(d.LedgerTotal)
}

var (
	// ErrInsufficientStock indicates available quantity is below what a movement needs.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInvalidQuantity indicates a zero, negative or over-precise quantity.
	ErrInvalidQuantity = errors.New("inventory: invalid quantity")
	// ErrInvalidUnitCost indicates invalid cost value.
	ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")
	// ErrInvalidInput indicates missing tenant, product or warehouse.
	ErrInvalidInput = errors.New("inventory: tenant, product and warehouse required")
	// ErrSameWarehouse indicates a transfer onto its own source.
	ErrSameWarehouse = errors.New("inventory: source and destination warehouse must differ")
	// ErrInvalidEntryType indicates an unknown movement type.
	ErrInvalidEntryType = errors.New("inventory: unknown entry type")
)

// InsufficientStockError names the item and both quantities.
type InsufficientStockError struct {
	Key       StockKey
	Label     string
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Insufficient stock for component %s. Available: %s, required: %s", e.Label, e.Available.String(), e.Required.String())
}

// Is matches ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// ValidateQuantity accepts a positive quantity with at most six decimal places.
func ValidateQuantity(q decimal.Decimal) error {
	if !q.IsPositive() {
		return fmt.Errorf("%w: %s must be greater than zero", ErrInvalidQuantity, q.String())
	}
	return checkScale(q)
}

func checkScale(q decimal.Decimal) error {
	if !q.Equal(q.Round(quantityScale)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidQuantity, q.String(), quantityScale)
	}
	return nil
}

func labelFor(m Movement) string {
	if m.Label != "" {
		return m.Label
	}
	return strconv.FormatInt(m.Key.ProductID, 10)
}

func isInsufficient(err error) bool {
	return errors.Is(err, ErrInsufficientStock)
}

func isValidation(err error) bool {
	for _, target := range []error{ErrInvalidQuantity, ErrInvalidUnitCost, ErrInvalidInput, ErrSameWarehouse, ErrInvalidEntryType} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
