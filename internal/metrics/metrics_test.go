package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncrementIdentify("merged")
	m.IncrementIdentify("merged")
	m.IncrementIdentify("unchanged")
	m.AddDemoted(2)
	m.AddDemoted(0)
	m.AddRelinked(3)
	m.IncrementTxRetry()
	m.ObserveIdentifyLatency(3 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.IdentifyRequests.WithLabelValues("merged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IdentifyRequests.WithLabelValues("unchanged")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ContactsDemoted))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ContactsRelinked))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TxRetries))
	assert.Equal(t, 1, testutil.CollectAndCount(m.IdentifyLatency))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncrementIdentify("merged")
		m.ObserveIdentifyLatency(time.Second)
		m.AddDemoted(1)
		m.AddRelinked(1)
		m.IncrementTxRetry()
	})
}
