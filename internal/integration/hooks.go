// Package integration posts general ledger entries for events raised by
// operational modules.
package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
)

// Mapping module and keys used for stock adjustments.
const (
	ModuleInventory        = "INVENTORY"
	KeyAdjustmentInventory = "inventory.adjustment.inventory"
	KeyAdjustmentGain      = "inventory.adjustment.gain"
	KeyAdjustmentLoss      = "inventory.adjustment.loss"

	sourceModuleAdjustment = "INVENTORY.ADJUSTMENT"
)

// Ledger exposes journal posting operations required by integrations.
type Ledger interface {
	PostJournal(ctx context.Context, input accounting.PostingInput) (accounting.JournalEntry, error)
}

// PeriodFinder provides period lookups.
type PeriodFinder interface {
	FindOpenPeriodByDate(ctx context.Context, tenantID int64, date time.Time) (accounting.Period, error)
}

// MappingResolver provides mapping lookups.
type MappingResolver interface {
	GetAccountMapping(ctx context.Context, tenantID int64, module, key string) (accounting.AccountMapping, error)
}

// Hooks wires domain events from operational modules into the general ledger.
type Hooks struct {
	ledger   Ledger
	periods  PeriodFinder
	mappings MappingResolver
}

// NewHooks constructs integration hooks.
func NewHooks(ledger Ledger, periods PeriodFinder, mappings MappingResolver) *Hooks {
	return &Hooks{ledger: ledger, periods: periods, mappings: mappings}
}

func (h *Hooks) resolveAccount(ctx context.Context, tenantID int64, key string) (int64, error) {
	mapping, err := h.mappings.GetAccountMapping(ctx, tenantID, ModuleInventory, key)
	if err != nil {
		return 0, fmt.Errorf("integration: resolve %s: %w", key, err)
	}
	return mapping.AccountID, nil
}

// post submits input, treating an already linked source as success.
func (h *Hooks) post(ctx context.Context, input accounting.PostingInput) error {
	if input.SourceRef == "" {
		return errors.New("integration: source ref required")
	}
	_, err := h.ledger.PostJournal(ctx, input)
	if errors.Is(err, accounting.ErrSourceAlreadyLinked) {
		return nil
	}
	return err
}

// HandleInventoryAdjustmentPosted posts the accounting entry for a valued
// stock adjustment: Dr inventory / Cr gain on a write-up, Dr loss / Cr
// inventory on a write-down.
func (h *Hooks) HandleInventoryAdjustmentPosted(ctx context.Context, evt inventory.AdjustmentPostedEvent) error {
	if h == nil || h.ledger == nil || h.periods == nil || h.mappings == nil {
		return nil
	}
	if evt.PostedAt.IsZero() {
		return errors.New("integration: adjustment post date required")
	}
	amount := adjustmentAmount(evt)
	if amount.IsZero() {
		return nil
	}
	period, err := h.periods.FindOpenPeriodByDate(ctx, evt.TenantID, evt.PostedAt)
	if err != nil {
		return err
	}
	inventoryAccount, err := h.resolveAccount(ctx, evt.TenantID, KeyAdjustmentInventory)
	if err != nil {
		return err
	}
	counterKey := KeyAdjustmentGain
	if evt.Quantity.IsNegative() {
		counterKey = KeyAdjustmentLoss
	}
	counterAccount, err := h.resolveAccount(ctx, evt.TenantID, counterKey)
	if err != nil {
		return err
	}
	return h.post(ctx, accounting.PostingInput{
		TenantID:     evt.TenantID,
		PeriodID:     period.ID,
		Date:         evt.PostedAt,
		SourceModule: sourceModuleAdjustment,
		SourceRef:    adjustmentRef(evt),
		Memo:         adjustmentMemo(evt),
		PostedBy:     evt.ActorID,
		Lines:        adjustmentLines(evt, amount, inventoryAccount, counterAccount),
	})
}

var _ inventory.IntegrationHandler = (*Hooks)(nil)
