// Package manufacturing turns production orders into stock movements. A
// completion consumes BOM components and books the finished good in one
// transaction shared with the stock ledger.
package manufacturing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
)

// OrderStatus enumerates production order states.
type OrderStatus string

const (
	OrderStatusDraft      OrderStatus = "DRAFT"
	OrderStatusInProgress OrderStatus = "IN_PROGRESS"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// ReferenceType tags stock ledger rows written by production completion.
const ReferenceType = "PRODUCTION_ORDER"

const defaultListLimit = 100

// BOM is a bill of materials for one finished good.
type BOM struct {
	ID             int64
	TenantID       int64
	Code           string
	ProductID      int64
	VariantID      int64
	OutputQuantity decimal.Decimal
	IsActive       bool
	Components     []BOMComponent
	CreatedAt      time.Time
}

// BOMComponent is the quantity of one input per BOM batch.
type BOMComponent struct {
	ID        int64
	BOMID     int64
	ProductID int64
	VariantID int64
	Code      string
	Quantity  decimal.Decimal
}

// ProductionOrder tracks a planned production run.
type ProductionOrder struct {
	ID               int64
	TenantID         int64
	Number           string
	BOMID            int64
	ProductID        int64
	VariantID        int64
	WarehouseID      int64
	PlannedQuantity  decimal.Decimal
	ProducedQuantity decimal.Decimal
	Status           OrderStatus
	CreatedBy        int64
	StartedAt        *time.Time
	CompletedAt      *time.Time
	CancelledAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ComponentInput describes one BOM line.
type ComponentInput struct {
	ProductID int64
	VariantID int64
	Code      string
	Quantity  decimal.Decimal
}

// CreateBOMInput registers a bill of materials.
type CreateBOMInput struct {
	TenantID       int64
	Code           string
	ProductID      int64
	VariantID      int64
	OutputQuantity decimal.Decimal
	Components     []ComponentInput
	ActorID        int64
}

// CreateOrderInput plans a production run in a warehouse.
type CreateOrderInput struct {
	TenantID        int64
	Number          string
	BOMID           int64
	WarehouseID     int64
	PlannedQuantity decimal.Decimal
	ActorID         int64
}

// CompleteInput reports the finished quantity of an order.
type CompleteInput struct {
	TenantID         int64
	OrderID          int64
	ProducedQuantity decimal.Decimal
	ActorID          int64
}

// OrderFilter narrows ListOrders.
type OrderFilter struct {
	TenantID int64
	Status   OrderStatus
	Limit    int
}

// Completion is the outcome of CompleteOrder.
type Completion struct {
	Order       ProductionOrder
	Consumption []inventory.LedgerEntry
	Output      inventory.LedgerEntry
}

// requirement is the aggregated demand for one component stock key.
type requirement struct {
	key      inventory.StockKey
	code     string
	quantity decimal.Decimal
}

var (
	// ErrBOMNotFound indicates the BOM is missing or belongs to another tenant.
	ErrBOMNotFound = errors.New("manufacturing: bom not found")
	// ErrOrderNotFound indicates the production order is missing or belongs to another tenant.
	ErrOrderNotFound = errors.New("manufacturing: production order not found")
	// ErrInvalidStatus indicates the order cannot move to the requested state.
	ErrInvalidStatus = errors.New("manufacturing: invalid order status")
	// ErrInvalidQuantity indicates a zero, negative or over-precise quantity.
	ErrInvalidQuantity = errors.New("manufacturing: quantity must be greater than zero")
	// ErrInvalidBOM indicates a malformed bill of materials.
	ErrInvalidBOM = errors.New("manufacturing: invalid bom")
	// ErrInactiveBOM indicates the BOM may not be used for new orders.
	ErrInactiveBOM = errors.New("manufacturing: bom inactive")
	// ErrDuplicateCode indicates a BOM code or order number already in use.
	ErrDuplicateCode = errors.New("manufacturing: code already exists")
	// ErrOrderBusy indicates another completion of the same order is in flight.
	ErrOrderBusy = errors.New("manufacturing: order completion already in progress")
)

func isValidation(err error) bool {
	for _, target := range []error{ErrInvalidQuantity, ErrInvalidBOM, inventory.ErrInvalidInput} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
