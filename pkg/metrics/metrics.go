// Package metrics exposes the worker's Prometheus collectors. A Metrics value
// implements both engine.Observer and dispatch.Observer, so it is wired in
// once and fed by the cache and the dispatcher.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goliatone/go-dataconv/pkg/dispatch"
	"github.com/goliatone/go-dataconv/pkg/engine"
)

const namespace = "dataconv"

// Metrics holds the collectors and the registry they are registered with.
type Metrics struct {
	registry *prometheus.Registry

	Messages         *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	CacheLookups     *prometheus.CounterVec
	InstancesBuilt   *prometheus.CounterVec
	Invalidations    prometheus.Counter
}

var (
	_ engine.Observer   = (*Metrics)(nil)
	_ dispatch.Observer = (*Metrics)(nil)
)

// New creates the collectors on a dedicated registry. Go runtime and process
// collectors are included when withRuntime is true.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "messages_total",
				Help:      "Handled messages by operation kind and reply status.",
			},
			[]string{"op", "status"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "duration_seconds",
				Help:      "Time spent handling a message.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "template_cache",
				Name:      "lookups_total",
				Help:      "Compiled-template cache lookups by format and result.",
			},
			[]string{"format", "result"},
		),
		InstancesBuilt: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "instances_built_total",
				Help:      "Engine instances constructed, split by override use.",
			},
			[]string{"format", "override"},
		),
		Invalidations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "template_cache",
				Name:      "invalidations_total",
				Help:      "Whole-cache invalidations.",
			},
		),
	}

	m.registry.MustRegister(
		m.Messages,
		m.DispatchDuration,
		m.CacheLookups,
		m.InstancesBuilt,
		m.Invalidations,
	)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) Dispatched(op dispatch.OperationKind, status int, elapsed time.Duration) {
	m.Messages.WithLabelValues(string(op), strconv.Itoa(status)).Inc()
	m.DispatchDuration.WithLabelValues(string(op)).Observe(elapsed.Seconds())
}

func (m *Metrics) TemplateCacheHit(identifier string) {
	m.CacheLookups.WithLabelValues(formatOf(identifier), "hit").Inc()
}

func (m *Metrics) TemplateCacheMiss(identifier string) {
	m.CacheLookups.WithLabelValues(formatOf(identifier), "miss").Inc()
}

func (m *Metrics) InstanceBuilt(format string, override bool) {
	m.InstancesBuilt.WithLabelValues(format, strconv.FormatBool(override)).Inc()
}

func (m *Metrics) Invalidated() {
	m.Invalidations.Inc()
}

// formatOf keeps label cardinality bounded by dropping the template name from
// a "<format>/<name>" identifier.
func formatOf(identifier string) string {
	if i := strings.IndexByte(identifier, '/'); i > 0 {
		return identifier[:i]
	}
	return identifier
}
