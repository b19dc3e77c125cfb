package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findMetric(t *testing.T, name string) *dto.MetricFamily {
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

func TestMetricsAreRegistered(t *testing.T) {
	// promauto registers on the default registry at package init, but vec
	// metrics only surface after their first label combination is used.
	MessagesProcessedTotal.WithLabelValues("ok").Add(2)
	FiltersMatchedTotal.WithLabelValues("money").Inc()
	OperationsTotal.WithLabelValues("add", "ok").Inc()
	ResolveErrorsTotal.Inc()
	RunDuration.Observe(0.2)
	IndexQueriesTotal.WithLabelValues("enumerate", "ok").Inc()
	IndexQueryDuration.WithLabelValues("enumerate").Observe(0.01)

	for _, name := range []string{
		"filtra_messages_processed_total",
		"filtra_filters_matched_total",
		"filtra_operations_total",
		"filtra_resolve_errors_total",
		"filtra_run_duration_seconds",
		"filtra_index_queries_total",
		"filtra_index_query_duration_seconds",
	} {
		assert.NotNil(t, findMetric(t, name), "metric %s not registered", name)
	}
}

func TestCounterLabels(t *testing.T) {
	OperationsTotal.WithLabelValues("rm", "ok").Inc()
	mf := findMetric(t, "filtra_operations_total")
	require.NotNil(t, mf)
	assert.Equal(t, dto.MetricType_COUNTER, mf.GetType())

	found := false
	for _, m := range mf.GetMetric() {
		labels := make(map[string]string)
		for _, lp := range m.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		if labels["kind"] == "rm" && labels["status"] == "ok" {
			found = true
			assert.GreaterOrEqual(t, m.GetCounter().GetValue(), 1.0)
		}
	}
	assert.True(t, found)
}
