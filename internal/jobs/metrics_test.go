package jobmetrics

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	require.NoError(t, m.Track("ledger:integrity").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("ledger:integrity").End(boom), boom)

	require.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues("ledger:integrity", "success")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues("ledger:integrity", "failure")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.failures.WithLabelValues("ledger:integrity")))

	count, err := testutil.GatherAndCount(registry, "odyssey_job_duration_seconds")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestAddFindingsPerTenant(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.AddFindings("inventory:reconcile", 7, 2)
	m.AddFindings("inventory:reconcile", 7, 1)
	m.AddFindings("inventory:reconcile", 8, 0)

	expected := `
# HELP odyssey_job_findings_total Integrity findings reported by background jobs per tenant.
# TYPE odyssey_job_findings_total counter
odyssey_job_findings_total{job="inventory:reconcile",tenant="7"} 3
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "odyssey_job_findings_total"))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.AddFindings("ledger:integrity", 1, 3)
	err := errors.New("x")
	require.Equal(t, err, m.Track("ledger:integrity").End(err))
}
