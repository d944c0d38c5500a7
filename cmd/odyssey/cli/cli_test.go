package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

type recordingEnqueuer struct {
	tasks []*asynq.Task
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, task *asynq.Task) (*asynq.TaskInfo, error) {
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{ID: "t-1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func execute(t *testing.T, deps Deps, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(deps)
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(out)
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestJobsTriggerEnqueuesKnownTasks(t *testing.T) {
	enq := &recordingEnqueuer{}
	closed := 0
	deps := Deps{OpenJobs: func() (*JobsCLI, func() error, error) {
		c := NewJobsCLI(enq, nil)
		c.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
		return c, func() error { closed++; return nil }, nil
	}}

	out, err := execute(t, deps, "jobs", "trigger", jobs.TaskInventoryReconcile)
	require.NoError(t, err)
	require.Equal(t, "enqueued inventory:reconcile id=t-1 queue=default\n", out)

	_, err = execute(t, deps, "jobs", "trigger", jobs.TaskLedgerIntegrity)
	require.NoError(t, err)
	require.Len(t, enq.tasks, 2)
	require.Equal(t, 2, closed)

	var payload jobs.LedgerIntegrityPayload
	require.NoError(t, json.Unmarshal(enq.tasks[1].Payload(), &payload))
	require.True(t, payload.ScheduledFor.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))

	_, err = execute(t, deps, "jobs", "trigger", "mail:send")
	require.ErrorContains(t, err, "unknown task")
	require.Len(t, enq.tasks, 2)

	_, err = execute(t, deps, "jobs", "trigger")
	require.Error(t, err)
}

func TestJobsStats(t *testing.T) {
	deps := Deps{OpenJobs: func() (*JobsCLI, func() error, error) {
		return NewJobsCLI(nil, stubInspector{info: &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 3, Failed: 1}}), func() error { return nil }, nil
	}}
	out, err := execute(t, deps, "jobs", "stats")
	require.NoError(t, err)
	require.Equal(t, "queue default: pending=3 active=0 scheduled=0 retry=0 failed=1\n", out)

	out, err = execute(t, deps, "jobs", "stats", "--json")
	require.NoError(t, err)
	require.JSONEq(t, `{"queue":"default","pending":3,"active":0,"scheduled":0,"retry":0,"failed":1}`, out)

	stats, err := NewJobsCLI(nil, stubInspector{err: asynq.ErrQueueNotFound}).InspectQueue()
	require.NoError(t, err)
	require.Equal(t, QueueStats{Queue: jobs.QueueDefault}, stats)

	_, err = NewJobsCLI(nil, stubInspector{err: errors.New("redis down")}).InspectQueue()
	require.EqualError(t, err, "redis down")

	_, err = NewJobsCLI(nil, nil).Trigger(context.Background(), jobs.TaskLedgerIntegrity)
	require.ErrorContains(t, err, "client not configured")
}

func TestRootDispatch(t *testing.T) {
	var served, migrated int
	deps := Deps{
		Serve:   func(context.Context) error { served++; return nil },
		Migrate: func(context.Context) error { migrated++; return nil },
	}

	_, err := execute(t, deps)
	require.NoError(t, err)
	_, err = execute(t, deps, "serve")
	require.NoError(t, err)
	require.Equal(t, 2, served)

	out, err := execute(t, deps, "migrate")
	require.NoError(t, err)
	require.Equal(t, 1, migrated)
	require.Equal(t, "migrations applied\n", out)

	_, err = execute(t, Deps{}, "jobs", "stats")
	require.ErrorContains(t, err, "queue not configured")
	_, err = execute(t, Deps{}, "migrate")
	require.ErrorContains(t, err, "not configured")
}
