// Package metrics exposes prometheus counters for VBoxManage invocations.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vboxdriver"

// Collector holds the driver's counters on a private registry.
type Collector struct {
	registry    *prometheus.Registry
	invocations *prometheus.CounterVec
	retries     *prometheus.CounterVec
	errors      *prometheus.CounterVec
}

// NewCollector creates a Collector with all counters registered.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vboxmanage",
			Name:      "invocations_total",
			Help:      "VBoxManage processes started, by subcommand.",
		}, []string{"subcommand"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vboxmanage",
			Name:      "retries_total",
			Help:      "VBoxManage invocations repeated after a transient error, by subcommand.",
		}, []string{"subcommand"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vboxmanage",
			Name:      "errors_total",
			Help:      "VBoxManage failures surfaced to callers, by subcommand and error kind.",
		}, []string{"subcommand", "kind"}),
	}
	c.registry.MustRegister(c.invocations, c.retries, c.errors)
	return c
}

// ObserveInvocation counts one started process.
func (c *Collector) ObserveInvocation(subcommand string) {
	if c == nil {
		return
	}
	c.invocations.WithLabelValues(subcommand).Inc()
}

// ObserveRetry counts one retry after a transient failure.
func (c *Collector) ObserveRetry(subcommand string) {
	if c == nil {
		return
	}
	c.retries.WithLabelValues(subcommand).Inc()
}

// ObserveError counts one classified failure.
func (c *Collector) ObserveError(subcommand, kind string) {
	if c == nil {
		return
	}
	c.errors.WithLabelValues(subcommand, kind).Inc()
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// NewServer returns an HTTP server exposing the collector on path.
func NewServer(addr, path string, c *Collector) *http.Server {
	mux := http.NewServeMux()

	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, c.Handler())

	return &http.Server{
		Addr:    addr,
		Handler: mux,
	}
}
