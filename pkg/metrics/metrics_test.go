package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNopRegistry(t *testing.T) {
	reg := NewNop()
	c := reg.Counter("noop_total", "ignored")
	c.Inc()
	c.Add(41)
	assert.NotNil(t, c)
}

func TestPrometheusRegistry_Counter(t *testing.T) {
	reg := NewPrometheus(prometheus.NewRegistry())

	c := reg.Counter("ops_total", "Total operations.")
	c.Inc()
	c.Add(2)

	pc, ok := c.(prometheus.Counter)
	assert.True(t, ok)
	assert.InDelta(t, 3, testutil.ToFloat64(pc), 0.001)
}

func TestPrometheusRegistry_SameNameSameInstrument(t *testing.T) {
	reg := NewPrometheus(prometheus.NewRegistry())

	a := reg.Counter("shared_total", "Shared.")
	b := reg.Counter("shared_total", "Shared.")
	a.Inc()
	b.Inc()

	pc := a.(prometheus.Counter)
	assert.InDelta(t, 2, testutil.ToFloat64(pc), 0.001)
}

func TestPrometheusRegistry_AlreadyRegistered(t *testing.T) {
	base := prometheus.NewRegistry()
	existing := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_total", Help: "Dup."})
	base.MustRegister(existing)
	existing.Inc()

	reg := NewPrometheus(base)
	c := reg.Counter("dup_total", "Dup.")
	c.Inc()

	assert.InDelta(t, 2, testutil.ToFloat64(existing), 0.001)
}
