package manufacturing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// LockerPort obtains a cross-instance lock and returns its release function.
type LockerPort interface {
	Obtain(ctx context.Context, key string) (func(context.Context) error, error)
}

// MetricsPort counts completion outcomes.
type MetricsPort interface {
	ProductionCompletion(outcome string)
}

// Service coordinates BOMs and production orders.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	locker  LockerPort
	metrics MetricsPort
	logger  *slog.Logger
	now     func() time.Time
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Locker  LockerPort
	Metrics MetricsPort
	Logger  *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		audit:   audit,
		locker:  cfg.Locker,
		metrics: cfg.Metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateBOM registers a bill of materials. OutputQuantity defaults to one unit.
func (s *Service) CreateBOM(ctx context.Context, input CreateBOMInput) (BOM, error) {
	if input.TenantID == 0 {
		return BOM{}, shared.ErrTenantRequired
	}
	output := input.OutputQuantity
	if output.IsZero() {
		output = decimal.NewFromInt(1)
	}
	bom := BOM{
		TenantID:       input.TenantID,
		Code:           strings.TrimSpace(input.Code),
		ProductID:      input.ProductID,
		VariantID:      input.VariantID,
		OutputQuantity: output,
		IsActive:       true,
		CreatedAt:      s.now(),
	}
	if bom.Code == "" || bom.ProductID <= 0 || bom.VariantID < 0 {
		return BOM{}, fmt.Errorf("%w: code and product required", ErrInvalidBOM)
	}
	if err := inventory.ValidateQuantity(output); err != nil {
		return BOM{}, fmt.Errorf("%w: output %w", ErrInvalidQuantity, err)
	}
	if len(input.Components) == 0 {
		return BOM{}, fmt.Errorf("%w: at least one component required", ErrInvalidBOM)
	}
	for i, c := range input.Components {
		if c.ProductID <= 0 || c.VariantID < 0 {
			return BOM{}, fmt.Errorf("%w: component %d product required", ErrInvalidBOM, i+1)
		}
		if c.ProductID == bom.ProductID && c.VariantID == bom.VariantID {
			return BOM{}, fmt.Errorf("%w: component %d is the finished good", ErrInvalidBOM, i+1)
		}
		if err := inventory.ValidateQuantity(c.Quantity); err != nil {
			return BOM{}, fmt.Errorf("%w: component %d %w", ErrInvalidQuantity, i+1, err)
		}
		code := strings.TrimSpace(c.Code)
		if code == "" {
			code = strconv.FormatInt(c.ProductID, 10)
		}
		bom.Components = append(bom.Components, BOMComponent{
			ProductID: c.ProductID,
			VariantID: c.VariantID,
			Code:      code,
			Quantity:  c.Quantity,
		})
	}

	var created BOM
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertBOM(ctx, bom)
		return err
	})
	if err != nil {
		return BOM{}, err
	}
	s.record(ctx, input.TenantID, input.ActorID, "bom.created", "bom", created.ID, map[string]any{
		"code":       created.Code,
		"components": len(created.Components),
	})
	return created, nil
}

// GetBOM returns a tenant's BOM with its components.
func (s *Service) GetBOM(ctx context.Context, tenantID, id int64) (BOM, error) {
	var bom BOM
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		bom, err = tx.GetBOM(ctx, tenantID, id)
		return err
	})
	return bom, err
}

// CreateOrder plans a DRAFT production order for an active BOM.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (ProductionOrder, error) {
	if input.TenantID == 0 {
		return ProductionOrder{}, shared.ErrTenantRequired
	}
	if input.WarehouseID <= 0 {
		return ProductionOrder{}, fmt.Errorf("%w: warehouse required", inventory.ErrInvalidInput)
	}
	if err := inventory.ValidateQuantity(input.PlannedQuantity); err != nil {
		return ProductionOrder{}, fmt.Errorf("%w: planned %w", ErrInvalidQuantity, err)
	}
	number := strings.TrimSpace(input.Number)
	if number == "" {
		number = "MO-" + strings.ToUpper(uuid.NewString()[:8])
	}

	var order ProductionOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bom, err := tx.GetBOM(ctx, input.TenantID, input.BOMID)
		if err != nil {
			return err
		}
		if !bom.IsActive {
			return ErrInactiveBOM
		}
		order, err = tx.InsertOrder(ctx, ProductionOrder{
			TenantID:        input.TenantID,
			Number:          number,
			BOMID:           bom.ID,
			ProductID:       bom.ProductID,
			VariantID:       bom.VariantID,
			WarehouseID:     input.WarehouseID,
			PlannedQuantity: input.PlannedQuantity,
			Status:          OrderStatusDraft,
			CreatedBy:       input.ActorID,
			CreatedAt:       s.now(),
		})
		return err
	})
	if err != nil {
		return ProductionOrder{}, err
	}
	s.record(ctx, order.TenantID, input.ActorID, "production_order.created", "production_order", order.ID, map[string]any{
		"number":           order.Number,
		"planned_quantity": order.PlannedQuantity.String(),
	})
	return order, nil
}

// StartOrder moves a DRAFT order to IN_PROGRESS.
func (s *Service) StartOrder(ctx context.Context, tenantID, orderID, actorID int64) (ProductionOrder, error) {
	return s.transition(ctx, tenantID, orderID, actorID, "production_order.started", func(order *ProductionOrder, at time.Time) error {
		if order.Status != OrderStatusDraft {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidStatus, order.Number, order.Status)
		}
		order.Status = OrderStatusInProgress
		order.StartedAt = &at
		return nil
	})
}

// CancelOrder cancels an order that has not completed.
func (s *Service) CancelOrder(ctx context.Context, tenantID, orderID, actorID int64) (ProductionOrder, error) {
	return s.transition(ctx, tenantID, orderID, actorID, "production_order.cancelled", func(order *ProductionOrder, at time.Time) error {
		if order.Status != OrderStatusDraft && order.Status != OrderStatusInProgress {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidStatus, order.Number, order.Status)
		}
		order.Status = OrderStatusCancelled
		order.CancelledAt = &at
		return nil
	})
}

func (s *Service) transition(ctx context.Context, tenantID, orderID, actorID int64, action string, apply func(*ProductionOrder, time.Time) error) (ProductionOrder, error) {
	if tenantID == 0 {
		return ProductionOrder{}, shared.ErrTenantRequired
	}
	var order ProductionOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrder(ctx, tenantID, orderID, true)
		if err != nil {
			return err
		}
		at := s.now()
		if err := apply(&order, at); err != nil {
			return err
		}
		order.UpdatedAt = at
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return ProductionOrder{}, err
	}
	s.record(ctx, tenantID, actorID, action, "production_order", order.ID, map[string]any{"number": order.Number})
	return order, nil
}

// GetOrder returns one production order.
func (s *Service) GetOrder(ctx context.Context, tenantID, id int64) (ProductionOrder, error) {
	var order ProductionOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrder(ctx, tenantID, id, false)
		return err
	})
	return order, err
}

// ListOrders lists a tenant's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, filter OrderFilter) ([]ProductionOrder, error) {
	if filter.TenantID == 0 {
		return nil, shared.ErrTenantRequired
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = defaultListLimit
	}
	var orders []ProductionOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		orders, err = tx.ListOrders(ctx, filter)
		return err
	})
	return orders, err
}

// CompleteOrder consumes the scaled BOM components and books the finished
// good. Component availability is verified under row locks before any row is
// written, and every stock row plus the order update commit together or not
// at all. Negative stock is never allowed here.
func (s *Service) CompleteOrder(ctx context.Context, input CompleteInput) (Completion, error) {
	if input.TenantID == 0 {
		return Completion{}, shared.ErrTenantRequired
	}
	if err := inventory.ValidateQuantity(input.ProducedQuantity); err != nil {
		return Completion{}, fmt.Errorf("%w: produced %w", ErrInvalidQuantity, err)
	}
	if s.locker != nil {
		release, err := s.locker.Obtain(ctx, shared.ProductionLockKey(input.TenantID, input.OrderID))
		if errors.Is(err, shared.ErrLockNotObtained) {
			s.observe("busy")
			return Completion{}, ErrOrderBusy
		}
		switch {
		case err != nil:
			// Row locks inside the transaction still guard the stock levels.
			s.logger.Warn("completion lock unavailable, continuing with row locks",
				slog.Int64("order_id", input.OrderID), slog.Any("error", err))
			s.observe("lock_error")
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					s.logger.Warn("release completion lock", slog.Int64("order_id", input.OrderID), slog.Any("error", err))
				}
			}()
		}
	}

	var result Completion
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrder(ctx, input.TenantID, input.OrderID, true)
		if err != nil {
			return err
		}
		if order.Status != OrderStatusInProgress {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidStatus, order.Number, order.Status)
		}
		bom, err := tx.GetBOM(ctx, input.TenantID, order.BOMID)
		if err != nil {
			return err
		}
		reqs := scaleComponents(bom, order, input.ProducedQuantity)
		outputKey := inventory.StockKey{TenantID: order.TenantID, ProductID: order.ProductID, VariantID: order.VariantID, WarehouseID: order.WarehouseID}

		stock := tx.Stock()
		keys := []inventory.StockKey{outputKey}
		for _, req := range reqs {
			keys = append(keys, req.key)
		}
		levels, err := inventory.LockStockLevels(ctx, stock, keys)
		if err != nil {
			return err
		}
		for _, req := range reqs {
			if available := levels[req.key].Available(); available.LessThan(req.quantity) {
				return &inventory.InsufficientStockError{Key: req.key, Label: req.code, Available: available, Required: req.quantity}
			}
		}

		at := s.now()
		ref := strconv.FormatInt(order.ID, 10)
		opts := inventory.MovementOptions{At: at}
		consumed := decimal.Zero
		for _, req := range reqs {
			entry, err := inventory.ApplyMovement(ctx, stock, inventory.Movement{
				Key:           req.key,
				Type:          inventory.EntryTypeConsumption,
				Quantity:      req.quantity.Neg(),
				ReferenceType: ReferenceType,
				ReferenceID:   ref,
				Note:          "Consumed for " + order.Number,
				ActorID:       input.ActorID,
				Label:         req.code,
			}, opts)
			if err != nil {
				return err
			}
			consumed = consumed.Add(req.quantity.Mul(entry.UnitCost))
			result.Consumption = append(result.Consumption, entry)
		}
		result.Output, err = inventory.ApplyMovement(ctx, stock, inventory.Movement{
			Key:           outputKey,
			Type:          inventory.EntryTypeOutput,
			Quantity:      input.ProducedQuantity,
			UnitCost:      consumed.Div(input.ProducedQuantity).Round(6),
			ReferenceType: ReferenceType,
			ReferenceID:   ref,
			Note:          "Output of " + order.Number,
			ActorID:       input.ActorID,
		}, opts)
		if err != nil {
			return err
		}

		order.ProducedQuantity = order.ProducedQuantity.Add(input.ProducedQuantity)
		order.Status = OrderStatusCompleted
		order.CompletedAt = &at
		order.UpdatedAt = at
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		result.Order = order
		return nil
	})
	if err != nil {
		s.observe(outcome(err))
		return Completion{}, err
	}
	s.observe("completed")
	s.logger.Info("production order completed",
		slog.Int64("tenant_id", input.TenantID),
		slog.Int64("order_id", result.Order.ID),
		slog.String("produced", input.ProducedQuantity.String()),
		slog.Int("components", len(result.Consumption)))
	s.record(ctx, input.TenantID, input.ActorID, "production_order.completed", "production_order", result.Order.ID, map[string]any{
		"number":            result.Order.Number,
		"produced_quantity": input.ProducedQuantity.String(),
		"output_entry_id":   result.Output.ID,
	})
	return result, nil
}

// scaleComponents converts per-batch BOM quantities into the demand for the
// produced quantity, merging components that share a stock key. Demand that
// rounds to zero at six decimal places is dropped.
func scaleComponents(bom BOM, order ProductionOrder, produced decimal.Decimal) []requirement {
	index := map[inventory.StockKey]int{}
	var reqs []requirement
	for _, c := range bom.Components {
		key := inventory.StockKey{TenantID: order.TenantID, ProductID: c.ProductID, VariantID: c.VariantID, WarehouseID: order.WarehouseID}
		qty := c.Quantity.Mul(produced).Div(bom.OutputQuantity).Round(6)
		if i, ok := index[key]; ok {
			reqs[i].quantity = reqs[i].quantity.Add(qty)
			continue
		}
		index[key] = len(reqs)
		reqs = append(reqs, requirement{key: key, code: c.Code, quantity: qty})
	}
	out := reqs[:0]
	for _, req := range reqs {
		if req.quantity.IsPositive() {
			out = append(out, req)
		}
	}
	return out
}

func outcome(err error) string {
	switch {
	case errors.Is(err, inventory.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrInvalidStatus):
		return "invalid_status"
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrBOMNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func (s *Service) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.ProductionCompletion(outcome)
	}
}

func (s *Service) record(ctx context.Context, tenantID, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
		At:       s.now(),
	})
}
