// Package metrics defines a minimal name→instrument registry. The storage
// core does not own a metrics system; it only reports through whatever
// Registry the caller wires in. A prometheus-backed implementation and a
// no-op are provided.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Counter is a monotonically increasing instrument.
type Counter interface {
	Inc()
	Add(v float64)
}

// Registry resolves instruments by name. Registering the same name twice
// returns the same instrument.
type Registry interface {
	Counter(name, help string) Counter
}

type nopCounter struct{}

func (nopCounter) Inc()          {}
func (nopCounter) Add(v float64) {}

type nopRegistry struct{}

func (nopRegistry) Counter(string, string) Counter { return nopCounter{} }

// NewNop returns a registry whose instruments discard every observation.
func NewNop() Registry { return nopRegistry{} }

// promRegistry adapts a prometheus.Registerer.
type promRegistry struct {
	reg prometheus.Registerer

	mu       sync.Mutex
	counters map[string]prometheus.Counter
}

// NewPrometheus returns a Registry backed by the given prometheus
// registerer. Passing nil uses the default registerer.
func NewPrometheus(reg prometheus.Registerer) Registry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &promRegistry{reg: reg, counters: make(map[string]prometheus.Counter)}
}

func (r *promRegistry) Counter(name, help string) Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	if err := r.reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			c = are.ExistingCollector.(prometheus.Counter)
		}
	}
	r.counters[name] = c
	return c
}
