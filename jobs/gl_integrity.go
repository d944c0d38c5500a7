package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// UnbalancedFinder lists posted entries whose debits and credits differ.
type UnbalancedFinder interface {
	FindUnbalancedEntries(ctx context.Context) ([]accounting.UnbalancedEntry, error)
}

// LedgerIntegrityJob reports posted journal entries that violate the
// balance invariant.
type LedgerIntegrityJob struct {
	finder  UnbalancedFinder
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewLedgerIntegrityJob initialises the integrity handler.
func NewLedgerIntegrityJob(finder UnbalancedFinder, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerIntegrityJob{finder: finder, logger: logger, metrics: metrics}
}

// Handle executes the scan. Findings are logged and counted; they do not fail the task.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.finder == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	var payload LedgerIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := j.Run(ctx)
	return err
}

// Run scans once and returns the offending entries.
func (j *LedgerIntegrityJob) Run(ctx context.Context) (found []accounting.UnbalancedEntry, err error) {
	tracker := j.metrics.Track(TaskLedgerIntegrity)
	defer func() { err = tracker.End(err) }()

	found, err = j.finder.FindUnbalancedEntries(ctx)
	if err != nil {
		j.logger.Error("ledger integrity scan failed", slog.Any("error", err))
		return nil, err
	}
	perTenant := map[int64]int{}
	for _, e := range found {
		perTenant[e.TenantID]++
		j.logger.Warn("unbalanced journal entry",
			slog.Int64("tenant_id", e.TenantID),
			slog.Int64("entry_id", e.EntryID),
			slog.String("number", e.Number),
			slog.String("debit", e.Debit.StringFixed(2)),
			slog.String("credit", e.Credit.StringFixed(2)))
	}
	for tenantID, count := range perTenant {
		j.metrics.AddFindings(TaskLedgerIntegrity, tenantID, count)
	}
	j.logger.Info("ledger integrity scan finished", slog.Int("unbalanced", len(found)))
	return found, nil
}
