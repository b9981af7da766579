package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordOutcome(t *testing.T) {
	m := New()
	m.RecordOutcome("publish", "succeeded")
	m.RecordOutcome("publish", "succeeded")
	m.RecordOutcome("publish", "failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("publish", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("publish", "failed")))
}

func TestObserve(t *testing.T) {
	m := New()
	m.ObserveBackendCall("deploy", 3*time.Second)
	m.ObserveRun("deploy", time.Minute)
	m.StateRetry()

	assert.Equal(t, 1, testutil.CollectAndCount(m.backendCalls))
	assert.Equal(t, 1, testutil.CollectAndCount(m.runDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stateRetries))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RecordOutcome("deploy", "failed")
	m.ObserveBackendCall("deploy", time.Second)
	m.ObserveRun("deploy", time.Second)
	m.StateRetry()
}

func TestWriteFile(t *testing.T) {
	m := New()
	m.RecordOutcome("terminate", "skipped-unchanged")

	path := filepath.Join(t.TempDir(), "catalogctl.prom")
	require.NoError(t, m.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `catalogctl_product_operations_total{operation="terminate",outcome="skipped-unchanged"} 1`)
}
