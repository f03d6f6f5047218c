package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewRegistersAll(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.OrdersSubmitted.WithLabelValues("NEW").Inc()
	m.OrdersRejected.Inc()
	m.OrdersFailed.Inc()
	m.SubmitDuration.Observe(0.25)
	m.QueueDepth.Set(3)
	m.WorkersBusy.Set(2)
	m.TokenRefreshes.WithLabelValues("success").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersSubmitted.WithLabelValues("NEW")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersRejected))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.QueueDepth))

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.Len(t, families, 7)
}

func TestNewIsolatedRegistries(t *testing.T) {
	// Two instances on separate registries must not collide.
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}
