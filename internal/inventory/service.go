package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

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

// IdempotencyPort guards client supplied request keys.
type IdempotencyPort interface {
	Claim(ctx context.Context, tenantID int64, key, module string) error
	Release(ctx context.Context, tenantID int64, key string) error
}

// MetricsPort counts stock movements and rejections.
type MetricsPort interface {
	StockMovement(entryType string)
	StockRejected(reason string)
}

// Service coordinates inventory operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	allowNeg    bool
	integration IntegrationHandler
	metrics     MetricsPort
	logger      *slog.Logger
	now         func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
	Logger             *slog.Logger
	Metrics            MetricsPort
}

// NewService builds Service. idem and integration may be nil.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, cfg ServiceConfig, integration IntegrationHandler) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		audit:       audit,
		idempotency: idem,
		allowNeg:    cfg.AllowNegativeStock,
		integration: integration,
		metrics:     cfg.Metrics,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// PostReceipt records inbound stock at the given unit cost.
func (s *Service) PostReceipt(ctx context.Context, input ReceiptInput) (LedgerEntry, error) {
	if err := ValidateQuantity(input.Quantity); err != nil {
		return LedgerEntry{}, err
	}
	if input.UnitCost.IsNegative() {
		return LedgerEntry{}, ErrInvalidUnitCost
	}
	m := Movement{
		Key:           StockKey{TenantID: input.TenantID, ProductID: input.ProductID, VariantID: input.VariantID, WarehouseID: input.WarehouseID},
		Type:          EntryTypeReceipt,
		Quantity:      input.Quantity,
		UnitCost:      input.UnitCost,
		ReferenceType: input.ReferenceType,
		ReferenceID:   input.ReferenceID,
		Note:          input.Note,
		ActorID:       input.ActorID,
	}
	return s.postSingle(ctx, m, input.IdempotencyKey)
}

// PostAdjustment records a signed correction. Adjustments valued at a
// positive unit cost are handed to the integration handler after commit.
func (s *Service) PostAdjustment(ctx context.Context, input AdjustmentInput) (LedgerEntry, error) {
	if input.Quantity.IsZero() {
		return LedgerEntry{}, fmt.Errorf("%w: quantity must be non zero", ErrInvalidQuantity)
	}
	if input.UnitCost.IsNegative() {
		return LedgerEntry{}, ErrInvalidUnitCost
	}
	m := Movement{
		Key:           StockKey{TenantID: input.TenantID, ProductID: input.ProductID, VariantID: input.VariantID, WarehouseID: input.WarehouseID},
		Type:          EntryTypeAdjustment,
		Quantity:      input.Quantity,
		UnitCost:      input.UnitCost,
		ReferenceType: input.ReferenceType,
		ReferenceID:   input.ReferenceID,
		Note:          input.Note,
		ActorID:       input.ActorID,
	}
	entry, err := s.postSingle(ctx, m, input.IdempotencyKey)
	if err != nil {
		return LedgerEntry{}, err
	}
	if s.integration != nil && entry.UnitCost.IsPositive() {
		if err := s.integration.HandleInventoryAdjustmentPosted(ctx, adjustmentEvent(entry)); err != nil {
			s.logger.Error("adjustment ledger hand-off failed",
				slog.Int64("tenant_id", entry.TenantID),
				slog.Int64("ledger_entry_id", entry.ID),
				slog.Any("error", err))
		}
	}
	return entry, nil
}

// PostTransfer moves stock between warehouses. Both legs commit together.
func (s *Service) PostTransfer(ctx context.Context, input TransferInput) (LedgerEntry, LedgerEntry, error) {
	if input.SourceWarehouseID == input.DestWarehouseID {
		return LedgerEntry{}, LedgerEntry{}, ErrSameWarehouse
	}
	if err := ValidateQuantity(input.Quantity); err != nil {
		return LedgerEntry{}, LedgerEntry{}, err
	}
	src := StockKey{TenantID: input.TenantID, ProductID: input.ProductID, VariantID: input.VariantID, WarehouseID: input.SourceWarehouseID}
	dst := src
	dst.WarehouseID = input.DestWarehouseID
	refType, refID := input.ReferenceType, input.ReferenceID
	if refType == "" {
		refType = "TRANSFER"
	}
	if refID == "" {
		refID = uuid.NewString()
	}

	var out, in LedgerEntry
	err := s.execute(ctx, input.TenantID, input.IdempotencyKey, func(ctx context.Context, tx TxRepository) error {
		if _, err := LockStockLevels(ctx, tx, []StockKey{src, dst}); err != nil {
			return err
		}
		opts := MovementOptions{AllowNegative: s.allowNeg, At: s.now()}
		var err error
		out, err = ApplyMovement(ctx, tx, Movement{
			Key:           src,
			Type:          EntryTypeTransferOut,
			Quantity:      input.Quantity.Neg(),
			ReferenceType: refType,
			ReferenceID:   refID,
			Note:          transferNote("to", input.DestWarehouseID, input.Note),
			ActorID:       input.ActorID,
		}, opts)
		if err != nil {
			return err
		}
		in, err = ApplyMovement(ctx, tx, Movement{
			Key:           dst,
			Type:          EntryTypeTransferIn,
			Quantity:      input.Quantity,
			UnitCost:      out.UnitCost,
			ReferenceType: refType,
			ReferenceID:   refID,
			Note:          transferNote("from", input.SourceWarehouseID, input.Note),
			ActorID:       input.ActorID,
		}, opts)
		return err
	})
	if err != nil {
		s.reject(err)
		return LedgerEntry{}, LedgerEntry{}, err
	}
	s.observe(out, in)
	s.record(ctx, input.ActorID, "inventory.transfer", out, map[string]any{
		"reference_id":      refID,
		"dest_warehouse_id": input.DestWarehouseID,
		"quantity":          input.Quantity.String(),
	})
	return out, in, nil
}

// Reserve holds available quantity for a later outbound movement.
func (s *Service) Reserve(ctx context.Context, input ReservationInput) (StockLevel, error) {
	if err := ValidateQuantity(input.Quantity); err != nil {
		return StockLevel{}, err
	}
	return s.adjustReservation(ctx, input, "inventory.reserve", func(level *StockLevel) error {
		if available := level.Available(); available.LessThan(input.Quantity) {
			return &InsufficientStockError{Key: input.Key, Label: labelFor(Movement{Key: input.Key}), Available: available, Required: input.Quantity}
		}
		level.Reserved = level.Reserved.Add(input.Quantity)
		return nil
	})
}

// ReleaseReservation returns reserved quantity to available.
func (s *Service) ReleaseReservation(ctx context.Context, input ReservationInput) (StockLevel, error) {
	if err := ValidateQuantity(input.Quantity); err != nil {
		return StockLevel{}, err
	}
	return s.adjustReservation(ctx, input, "inventory.release", func(level *StockLevel) error {
		if level.Reserved.LessThan(input.Quantity) {
			return fmt.Errorf("%w: release %s exceeds reserved %s", ErrInvalidQuantity, input.Quantity.String(), level.Reserved.String())
		}
		level.Reserved = level.Reserved.Sub(input.Quantity)
		return nil
	})
}

func (s *Service) adjustReservation(ctx context.Context, input ReservationInput, action string, apply func(*StockLevel) error) (StockLevel, error) {
	if err := input.Key.validate(); err != nil {
		return StockLevel{}, err
	}
	var level StockLevel
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		level, err = tx.LockStockLevel(ctx, input.Key)
		if err != nil {
			return err
		}
		if err := apply(&level); err != nil {
			return err
		}
		level.UpdatedAt = s.now()
		return tx.SaveStockLevel(ctx, level)
	})
	if err != nil {
		s.reject(err)
		return StockLevel{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			TenantID: input.Key.TenantID,
			ActorID:  input.ActorID,
			Action:   action,
			Entity:   "stock_level",
			EntityID: fmt.Sprintf("%d:%d:%d", input.Key.WarehouseID, input.Key.ProductID, input.Key.VariantID),
			Meta:     map[string]any{"quantity": input.Quantity.String()},
			At:       s.now(),
		})
	}
	return level, nil
}

// GetStockLevel returns the current level. Unknown keys report zero stock.
func (s *Service) GetStockLevel(ctx context.Context, key StockKey) (StockLevel, error) {
	if err := key.validate(); err != nil {
		return StockLevel{}, err
	}
	var level StockLevel
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		level, err = tx.GetStockLevel(ctx, key)
		return err
	})
	return level, err
}

// ListLedger lists stock ledger rows in posting order.
func (s *Service) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	if filter.TenantID == 0 {
		return nil, shared.ErrTenantRequired
	}
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = defaultLedgerLimit
	}
	var entries []LedgerEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entries, err = tx.ListLedger(ctx, filter)
		return err
	})
	return entries, err
}

// Reconcile recomputes on-hand from the ledger and reports every level that
// disagrees with it.
func (s *Service) Reconcile(ctx context.Context, tenantID int64) ([]Drift, error) {
	if tenantID == 0 {
		return nil, shared.ErrTenantRequired
	}
	var drift []Drift
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		drift, err = tx.LedgerDrift(ctx, tenantID)
		return err
	})
	return drift, err
}

func (s *Service) postSingle(ctx context.Context, m Movement, idemKey string) (LedgerEntry, error) {
	var entry LedgerEntry
	err := s.execute(ctx, m.Key.TenantID, idemKey, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = ApplyMovement(ctx, tx, m, MovementOptions{AllowNegative: s.allowNeg, At: s.now()})
		return err
	})
	if err != nil {
		s.reject(err)
		return LedgerEntry{}, err
	}
	s.observe(entry)
	s.record(ctx, m.ActorID, "inventory."+strings.ToLower(string(m.Type)), entry, map[string]any{
		"quantity":  entry.Quantity.String(),
		"unit_cost": entry.UnitCost.String(),
		"note":      entry.Note,
	})
	return entry, nil
}

// execute runs fn in one transaction, claiming idemKey first and releasing it
// again when the transaction fails.
func (s *Service) execute(ctx context.Context, tenantID int64, idemKey string, fn func(context.Context, TxRepository) error) error {
	guarded := idemKey != "" && s.idempotency != nil
	if guarded {
		if err := s.idempotency.Claim(ctx, tenantID, idemKey, "inventory"); err != nil {
			return err
		}
	}
	err := s.repo.WithTx(ctx, fn)
	if err != nil && guarded {
		_ = s.idempotency.Release(ctx, tenantID, idemKey)
	}
	return err
}

func (s *Service) observe(entries ...LedgerEntry) {
	if s.metrics == nil {
		return
	}
	for _, e := range entries {
		s.metrics.StockMovement(string(e.Type))
	}
}

func (s *Service) reject(err error) {
	if s.metrics == nil {
		return
	}
	reason := "error"
	switch {
	case isInsufficient(err):
		reason = "insufficient_stock"
	case isValidation(err):
		reason = "invalid"
	}
	s.metrics.StockRejected(reason)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, entry LedgerEntry, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["warehouse_id"] = entry.WarehouseID
	meta["product_id"] = entry.ProductID
	meta["variant_id"] = entry.VariantID
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: entry.TenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_ledger_entry",
		EntityID: fmt.Sprintf("%d", entry.ID),
		Meta:     meta,
		At:       s.now(),
	})
}

func transferNote(direction string, warehouseID int64, note string) string {
	if note == "" {
		return fmt.Sprintf("Transfer %s %d", direction, warehouseID)
	}
	return fmt.Sprintf("Transfer %s %d: %s", direction, warehouseID, note)
}
