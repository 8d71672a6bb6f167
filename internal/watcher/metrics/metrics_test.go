package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Registration(t *testing.T) {
	// init() registers against the global registry; a second MustRegister
	// would panic, so reaching this point with non-nil collectors is the
	// assertion.
	assert.NotNil(t, EventsDispatched)
	assert.NotNil(t, HandlerErrors)
	assert.NotNil(t, DispatchLatency)
	assert.NotNil(t, DecodeErrors)
	assert.NotNil(t, ConnectFailures)
	assert.NotNil(t, Reconnects)
	assert.NotNil(t, CheckpointsSaved)
	assert.NotNil(t, CheckpointErrors)
	assert.NotNil(t, GapsDetected)

	// Exercise label surfaces to catch cardinality mistakes.
	EventsDispatched.WithLabelValues("insert").Inc()
	ConnectFailures.WithLabelValues("unreachable").Inc()
	Reconnects.WithLabelValues("resumed").Inc()
	DispatchLatency.Observe(0.01)
	DecodeErrors.Inc()
}

func TestMetrics_Collectable(t *testing.T) {
	ch := make(chan prometheus.Metric, 100)
	EventsDispatched.Collect(ch)
	assert.NotEmpty(t, ch)
}
