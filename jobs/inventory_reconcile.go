package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// TenantLister enumerates tenants holding stock.
type TenantLister interface {
	ListTenants(ctx context.Context) ([]int64, error)
}

// Reconciler reports stock levels that disagree with their ledger.
type Reconciler interface {
	Reconcile(ctx context.Context, tenantID int64) ([]inventory.Drift, error)
}

// InventoryReconcileJob recomputes on-hand quantities from the stock ledger.
type InventoryReconcileJob struct {
	tenants     TenantLister
	reconciler  Reconciler
	logger      *slog.Logger
	metrics     *jobmetrics.Metrics
	concurrency int
}

// NewInventoryReconcileJob initialises the reconcile handler.
func NewInventoryReconcileJob(tenants TenantLister, reconciler Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *InventoryReconcileJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &InventoryReconcileJob{tenants: tenants, reconciler: reconciler, logger: logger, metrics: metrics, concurrency: 4}
}

// Handle executes the reconcile task.
func (j *InventoryReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.reconciler == nil {
		return errors.New("inventory reconcile: handler not configured")
	}
	var payload InventoryReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := j.Run(ctx, payload.TenantID)
	return err
}

// Run reconciles one tenant, or every tenant when tenantID is 0, and returns
// the drift found per tenant.
func (j *InventoryReconcileJob) Run(ctx context.Context, tenantID int64) (drift map[int64][]inventory.Drift, err error) {
	tracker := j.metrics.Track(TaskInventoryReconcile)
	defer func() { err = tracker.End(err) }()

	tenants := []int64{tenantID}
	if tenantID == 0 {
		if j.tenants == nil {
			return nil, errors.New("inventory reconcile: tenant lister not configured")
		}
		if tenants, err = j.tenants.ListTenants(ctx); err != nil {
			return nil, err
		}
	}

	var mu sync.Mutex
	drift = make(map[int64][]inventory.Drift)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)
	for _, id := range tenants {
		g.Go(func() error {
			found, err := j.reconciler.Reconcile(gctx, id)
			if err != nil {
				return err
			}
			if len(found) == 0 {
				return nil
			}
			mu.Lock()
			drift[id] = found
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		j.logger.Error("inventory reconcile failed", slog.Any("error", err))
		return nil, err
	}

	for id, rows := range drift {
		for _, d := range rows {
			j.logger.Warn("stock level drift",
				slog.Int64("tenant_id", id),
				slog.Int64("warehouse_id", d.WarehouseID),
				slog.Int64("product_id", d.ProductID),
				slog.Int64("variant_id", d.VariantID),
				slog.String("on_hand", d.OnHand.String()),
				slog.String("ledger_total", d.LedgerTotal.String()))
		}
		j.metrics.AddFindings(TaskInventoryReconcile, id, len(rows))
	}
	j.logger.Info("inventory reconcile finished", slog.Int("tenants", len(tenants)), slog.Int("drifted", len(drift)))
	return drift, nil
}
