package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// Enqueuer submits prepared tasks to the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task) (*asynq.TaskInfo, error)
}

// QueueInspector reads queue statistics.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    Enqueuer
	inspector QueueInspector
	now       func() time.Time
}

// NewJobsCLI builds the helpers. inspector may be nil when only triggering.
func NewJobsCLI(client Enqueuer, inspector QueueInspector) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector, now: time.Now}
}

// Trigger enqueues a supported job by name with its default scope.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := jobs.NewTask(name, c.now().UTC())
	if err != nil {
		return nil, err
	}
	return c.client.Enqueue(ctx, task)
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Failed    int    `json:"failed"`
}

// InspectQueue reports the metrics for the default queue.
func (c *JobsCLI) InspectQueue() (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return stats, nil
	}
	if err != nil {
		return QueueStats{}, err
	}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Failed = info.Failed
	}
	return stats, nil
}

func newJobsCommand(open func() (*JobsCLI, func() error, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger and inspect background jobs",
	}

	trigger := &cobra.Command{
		Use:       "trigger TASK",
		Short:     "Enqueue a background job now",
		Long:      fmt.Sprintf("Enqueue one of %s or %s on the default queue.", jobs.TaskLedgerIntegrity, jobs.TaskInventoryReconcile),
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{jobs.TaskLedgerIntegrity, jobs.TaskInventoryReconcile},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closeFn, err := open()
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()
			info, err := c.Trigger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print default queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closeFn, err := open()
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()
			s, err := c.InspectQueue()
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			return renderStats(cmd.OutOrStdout(), s, asJSON)
		},
	}
	stats.Flags().Bool("json", false, "Print statistics as JSON")

	cmd.AddCommand(trigger, stats)
	return cmd
}

func renderStats(out io.Writer, s QueueStats, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(out).Encode(s)
	}
	_, err := fmt.Fprintf(out, "queue %s: pending=%d active=%d scheduled=%d retry=%d failed=%d\n",
		s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Failed)
	return err
}
