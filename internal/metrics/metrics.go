// Package metrics is the thin registry the core records through. Per
// spec §1 the metrics endpoint itself (the HTTP exporter) is an external
// collaborator; this package only provides the interface and counters the
// core updates, plus a default prometheus-backed registry a caller may
// mount behind its own HTTP handler.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is what the store/fetcher/indexer/daemon depend on. Never the
// concrete *Prometheus type, so tests can inject a no-op.
type Registry interface {
	IncCounter(name string, labels prometheus.Labels)
	SetGauge(name string, labels prometheus.Labels, value float64)
	ObserveHistogram(name string, labels prometheus.Labels, value float64)
}

type noop struct{}

func (noop) IncCounter(string, prometheus.Labels)                {}
func (noop) SetGauge(string, prometheus.Labels, float64)         {}
func (noop) ObserveHistogram(string, prometheus.Labels, float64) {}

// Noop is a Registry that discards everything, used by tests and by
// callers that haven't wired a real exporter yet.
var Noop Registry = noop{}

// Prometheus is the default Registry, backed by client_golang collectors
// registered lazily per metric name the first time it's touched.
type Prometheus struct {
	reg        *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheus wraps reg (pass prometheus.NewRegistry() for isolation in
// tests, or prometheus.DefaultRegisterer's registry in production).
func NewPrometheus(reg *prometheus.Registry) *Prometheus {
	return &Prometheus{
		reg:        reg,
		counters:   map[string]*prometheus.CounterVec{},
		gauges:     map[string]*prometheus.GaugeVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
}

func (p *Prometheus) IncCounter(name string, labels prometheus.Labels) {
	c, ok := p.counters[name]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, labelNames(labels))
		p.reg.MustRegister(c)
		p.counters[name] = c
	}
	c.With(labels).Inc()
}

func (p *Prometheus) SetGauge(name string, labels prometheus.Labels, value float64) {
	g, ok := p.gauges[name]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name}, labelNames(labels))
		p.reg.MustRegister(g)
		p.gauges[name] = g
	}
	g.With(labels).Set(value)
}

func (p *Prometheus) ObserveHistogram(name string, labels prometheus.Labels, value float64) {
	h, ok := p.histograms[name]
	if !ok {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name}, labelNames(labels))
		p.reg.MustRegister(h)
		p.histograms[name] = h
	}
	h.With(labels).Observe(value)
}

func labelNames(labels prometheus.Labels) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	return names
}
