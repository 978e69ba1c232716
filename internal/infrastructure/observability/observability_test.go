package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/Zhima-Mochi/minishop-commerce/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-commerce/internal/observability"
)

func TestNew_FallsBackToNop(t *testing.T) {
	p := New(nil, nil, nil, nil)

	assert.NotNil(t, p.Tracer())
	assert.NotNil(t, p.Logger())
	assert.NotPanics(t, func() {
		p.Metrics().Counter(observability.MUsecaseRequests).Add(1)
		p.Metrics().Histogram(observability.MUsecaseDuration).Observe(1)
	})
}

func TestNew_ResolvesRegisteredMetrics(t *testing.T) {
	counters, histograms := prometrics.Standard(prometrics.New(prometheus.NewRegistry(), "", ""))
	p := New(observability.NopTracer(), observability.NopLogger(), counters, histograms)

	assert.Same(t, counters[observability.MOptimisticConflicts], p.Metrics().Counter(observability.MOptimisticConflicts))
	assert.Equal(t, observability.NopCounter(), p.Metrics().Counter("unknown_total"))
}
