package application

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infraobs "github.com/Zhima-Mochi/minishop-commerce/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minishop-commerce/internal/infrastructure/observability/prometrics"
)

func TestCall_RecordsREDPerUseCase(t *testing.T) {
	reg := prometheus.NewRegistry()
	counters, histograms := prometrics.Standard(prometrics.New(reg, "", ""))
	in := NewInstruments(infraobs.New(nil, nil, counters, histograms), "test-service")

	for _, err := range []error{nil, nil, errors.New("boom")} {
		_, call := in.Begin(context.Background(), "order.ship", "ShipOrder")
		call.End(err)
	}
	_, call := in.Begin(context.Background(), "order.deliver", "DeliverOrder")
	call.Fail("STATE_TRANSITION_FAILED")
	call.End(nil)

	assert.Same(t, in.red.forUseCase("order.ship"), in.red.forUseCase("order.ship"))

	const want = `
# HELP usecase_requests_total Total number of use case invocations.
# TYPE usecase_requests_total counter
usecase_requests_total{outcome="error",use_case="order.deliver"} 1
usecase_requests_total{outcome="error",use_case="order.ship"} 1
usecase_requests_total{outcome="success",use_case="order.ship"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(want), "usecase_requests_total"))

	n, err := testutil.GatherAndCount(reg, "usecase_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
