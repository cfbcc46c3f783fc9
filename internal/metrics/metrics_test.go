package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Notification("stop", "sent")
	m.Notification("stop", "sent")
	m.Notification("question", "error")
	m.Inbound("delivered")
	m.RelayPayload("malformed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.notifications.WithLabelValues("stop", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("question", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inbound.WithLabelValues("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relay.WithLabelValues("malformed")))

	count, err := testutil.GatherAndCount(m.Registry(), "jackpoint_notifications_total")
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Notification("stop", "sent")
		m.Inbound("duplicate")
		m.RelayPayload("ok")
	})
	assert.Nil(t, m.Registry())
}
