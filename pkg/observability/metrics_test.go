package observability

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justjake/querybench/pkg/config"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordIteration("g", "c", "raw", time.Millisecond, true)
	m.RecordCase("raw", "ok")
	m.RecordInstanceReady("raw", time.Second)
	m.RecordInstanceStopped("raw")
}

func TestMetrics_RecordIteration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordIteration("customers", "raw", "raw", 2*time.Millisecond, true)
	m.RecordIteration("customers", "raw", "raw", 3*time.Millisecond, true)
	m.RecordIteration("customers", "raw", "raw", 0, false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.IterationsTotal.WithLabelValues("customers", "raw", "raw", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IterationsTotal.WithLabelValues("customers", "raw", "raw", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.IterationDuration))
}

func TestMetrics_InstanceGauge(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordInstanceReady("orm", 1500*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InstancesReady.WithLabelValues("orm")))
	m.RecordInstanceStopped("orm")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InstancesReady.WithLabelValues("orm")))
}

func TestMetricsServer_ServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RecordCase("raw", "ok")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewMetricsServer(&config.PrometheusConfig{Listen: "127.0.0.1:0"}, reg, logger)
	require.True(t, srv.Enabled())
	require.NoError(t, srv.Start())
	defer srv.Shutdown(context.Background())

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `querybench_cases_total{status="ok",strategy="raw"} 1`), string(body))
}

func TestMetricsServer_Disabled(t *testing.T) {
	srv := NewMetricsServer(nil, prometheus.NewRegistry(), nil)
	assert.Nil(t, srv)
	assert.False(t, srv.Enabled())
	assert.NoError(t, srv.Start())
	assert.NoError(t, srv.Shutdown(context.Background()))
	assert.Equal(t, "MetricsServer(disabled)", srv.String())
}
