package prometrics

import (
	"testing"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CounterIsRegisteredOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg, "minishop", "fulfillment")

	c1 := r.Counter("things_total", "things", "outcome")
	c2 := r.Counter("things_total", "things", "outcome")
	c1.Add(1, observability.L("outcome", "success"))
	c2.Bind(observability.L("outcome", "success")).Add(2)

	n, err := testutil.GatherAndCount(reg, "minishop_fulfillment_things_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.InDelta(t, 3, testutil.ToFloat64(r.(*registry).counters["things_total"].WithLabelValues("success")), 0.0001)
}

func TestInstruments_CoversStandardKeys(t *testing.T) {
	reg := prometheus.NewRegistry()
	counters, histograms := Instruments(New(reg, "", ""))

	for _, k := range []observability.MetricKey{
		observability.MUsecaseRequests,
		observability.MHTTPRequests,
		observability.MExternalRequests,
		observability.MStockReservations,
		observability.MCompensations,
		observability.MEventsHandled,
	} {
		assert.Contains(t, counters, k)
	}
	for _, k := range []observability.MetricKey{
		observability.MUsecaseDuration,
		observability.MHTTPRequestDuration,
		observability.MExternalRequestDuration,
		observability.MEventDispatchDuration,
	} {
		assert.Contains(t, histograms, k)
	}
}
