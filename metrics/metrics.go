// Package metrics wraps prometheus registration the way the teacher's
// metrics package does: typed Counter, Gauge and Histogram constructors
// that components register their own collectors through. It defines no
// collectors of its own.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the single point every component registers collectors
// through, avoiding a package-level default registry.
type Registry struct {
	reg prometheus.Registerer
}

// New wraps an existing Registerer (pass prometheus.NewRegistry() for
// isolated tests, or prometheus.DefaultRegisterer in production).
func New(reg prometheus.Registerer) *Registry {
	return &Registry{reg: reg}
}

// Counter registers and returns a counter, panicking if a collector with
// the same name is already registered (a programmer error caught at
// startup, not at request time).
func (r *Registry) Counter(name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	r.reg.MustRegister(c)
	return c
}

// Gauge registers and returns a gauge.
func (r *Registry) Gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	r.reg.MustRegister(g)
	return g
}

// Histogram registers and returns a histogram, used for latency samples
// (gossip delivery latency, challenge response time).
func (r *Registry) Histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labels)
	r.reg.MustRegister(h)
	return h
}

// NewTest returns a Registry backed by a fresh, unexported registry so
// package tests never collide with each other's metric names.
func NewTest() *Registry {
	return New(prometheus.NewRegistry())
}
