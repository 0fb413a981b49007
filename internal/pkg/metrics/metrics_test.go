package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsTrackEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed("peer_closed")
	m.Inbound("send_message")
	m.Delivered("new_message")
	m.Dropped("target_unreachable")
	m.Evicted()
	m.SetUsersOnline(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsActive))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.usersOnline))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.closed.WithLabelValues("peer_closed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inbound.WithLabelValues("send_message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues("target_unreachable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evictions))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ConnectionOpened()
		m.ConnectionClosed("shutdown")
		m.Inbound("join")
		m.Delivered("user_online")
		m.Dropped("overflow")
		m.Evicted()
		m.SetUsersOnline(1)
	})
}
