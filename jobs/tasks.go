package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity scans posted journal entries for imbalance.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskInventoryReconcile compares stock levels with their ledger sums.
	TaskInventoryReconcile = "inventory:reconcile"
)

// LedgerIntegrityPayload carries scheduling metadata.
type LedgerIntegrityPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// InventoryReconcilePayload narrows the reconcile run. TenantID 0 checks every tenant.
type InventoryReconcilePayload struct {
	TenantID     int64     `json:"tenant_id,omitempty"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewLedgerIntegrityTask constructs an Asynq task for the integrity scan.
func NewLedgerIntegrityTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerIntegrityPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

// NewInventoryReconcileTask constructs an Asynq task for stock reconciliation.
func NewInventoryReconcileTask(tenantID int64, at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(InventoryReconcilePayload{TenantID: tenantID, ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventoryReconcile, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

// NewTask builds a task by type name with an empty scope, as used by the CLI trigger.
func NewTask(taskType string, at time.Time) (*asynq.Task, error) {
	switch taskType {
	case TaskLedgerIntegrity:
		return NewLedgerIntegrityTask(at)
	case TaskInventoryReconcile:
		return NewInventoryReconcileTask(0, at)
	default:
		return nil, fmt.Errorf("jobs: unknown task %q", taskType)
	}
}
