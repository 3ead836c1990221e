package metrics

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherFamily(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestNewRegistry_ReturnsSingleton(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()
	assert.Same(t, a, b)
}

func TestRegistry_CountersAreGatherable(t *testing.T) {
	mr := NewRegistry()
	mr.CacheHitsTotal.WithLabelValues("HIT").Inc()
	mr.SchedulerTicksTotal.WithLabelValues("kitchen", "fired").Inc()

	mf := gatherFamily(t, "calendar2image_http_cache_result_total")
	require.NotNil(t, mf)
	assert.Equal(t, dto.MetricType_COUNTER, mf.GetType())

	found := false
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "result" && lp.GetValue() == "HIT" {
				found = true
				assert.GreaterOrEqual(t, m.GetCounter().GetValue(), 1.0)
			}
		}
	}
	assert.True(t, found, "HIT sample must be present after Inc")
}

func TestRetryMetrics_RecordsAttempts(t *testing.T) {
	rm := NewRetryMetrics()
	rm.RecordAttempt("ics_fetch", "retry", "timeout", 0)
	rm.RecordFinalAttempt("ics_fetch", "success", 2)
	rm.RecordBackoff("ics_fetch", 0.2)

	mf := gatherFamily(t, "calendar2image_retry_attempts_total")
	require.NotNil(t, mf)
	assert.NotEmpty(t, mf.GetMetric())
}

func TestRegistry_EncodesInExpositionFormat(t *testing.T) {
	mr := NewRegistry()
	mr.FetchCacheHitsTotal.WithLabelValues("stale").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		require.NoError(t, enc.Encode(mf))
	}

	out := buf.String()
	assert.Contains(t, out, "calendar2image_auxfetch_cache_result_total")
	assert.Contains(t, out, `result="stale"`)
}
