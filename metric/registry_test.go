package metric

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/orchid/errors"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry)
	require.NotNil(t, registry.PrometheusRegistry())
	require.NotNil(t, registry.CoreMetrics())
}

func TestMetricsRegistry_RegisterAndDuplicate(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter_total", Help: "test"})
	require.NoError(t, registry.RegisterCounter("writer", "counter", counter))

	err := registry.RegisterCounter("writer", "counter", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "test"})
	require.NoError(t, registry.RegisterGauge("writer", "gauge", gauge))

	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_hist", Help: "test"})
	require.NoError(t, registry.RegisterHistogram("writer", "hist", histogram))

	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "test_gauge_vec", Help: "test"}, []string{"x"})
	require.NoError(t, registry.RegisterGaugeVec("writer", "gauge_vec", vec))

	cvec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_counter_vec_total", Help: "test"}, []string{"x"})
	require.NoError(t, registry.RegisterCounterVec("writer", "counter_vec", cvec))
}

func TestMetricsRegistry_PrometheusConflict(t *testing.T) {
	registry := NewMetricsRegistry()

	a := prometheus.NewCounter(prometheus.CounterOpts{Name: "same_total", Help: "a"})
	b := prometheus.NewCounter(prometheus.CounterOpts{Name: "same_total", Help: "a"})
	require.NoError(t, registry.RegisterCounter("a", "same", a))

	err := registry.RegisterCounter("b", "same", b)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "gone_total", Help: "test"})
	require.NoError(t, registry.RegisterCounter("svc", "gone", counter))

	assert.True(t, registry.Unregister("svc", "gone"))
	assert.False(t, registry.Unregister("svc", "gone"))

	require.NoError(t, registry.RegisterCounter("svc", "gone", counter), "re-registration after unregister")
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "concurrent_" + string(rune('a'+i))
			g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: "test"})
			assert.NoError(t, registry.RegisterGauge("svc", name, g))
		}(i)
	}
	wg.Wait()
}

func TestCoreMetrics_RecordMethods(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	m.RecordRoleState("acquisition", 1)
	m.RecordBufferAcquired(3)
	m.RecordEvents(3, 10, 2)
	m.RecordWrite(1, 512, 0.001)
	m.RecordWriteError(1)
	m.RecordPoll(true)
	m.RecordPoll(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RoleState.WithLabelValues("acquisition")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BuffersAcquired.WithLabelValues("3")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.EventsProcessed.WithLabelValues("3")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.InvalidEvents.WithLabelValues("3")))
	assert.Equal(t, 512.0, testutil.ToFloat64(m.BytesWritten.WithLabelValues("1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WriteErrors.WithLabelValues("1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SlowControlPoll.WithLabelValues("error")))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() {
		nilMetrics.RecordWrite(0, 1, 0)
		nilMetrics.RecordRoleState("x", 0)
	})
}

func TestServer_ServesMetricsAndHealth(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordWrite(0, 64, 0.0001)

	healthy := true
	srv := NewServer("127.0.0.1:0", "", registry, func() (any, bool) {
		return map[string]any{"status": "ok"}, healthy
	})
	require.NoError(t, srv.Start())
	defer srv.Stop(context.Background())

	require.Error(t, srv.Start(), "second start must fail")

	resp, err := http.Get("http://" + srv.Address() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.Contains(string(body), "orchid_output_bytes_written_total"))

	resp, err = http.Get("http://" + srv.Address() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	healthy = false
	resp, err = http.Get("http://" + srv.Address() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
