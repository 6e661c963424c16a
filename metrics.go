package datasaver

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Trim outcomes, the values of the action label of datasaver_trim_total.
const (
	trimDeleted = "deleted"
	trimResized = "resized"
	trimKept    = "kept"
	trimFailed  = "failed"
)

// saverMetrics holds the Prometheus collectors a Saver updates. Collectors
// are registered on the registry given with WithRegistry; savers sharing a
// registry share collectors.
type saverMetrics struct {
	writes        *prometheus.CounterVec // datasaver_writes_total{dataset,status}
	writeDuration prometheus.Histogram   // datasaver_write_duration_seconds
	trims         *prometheus.CounterVec // datasaver_trim_total{action}
	metadata      *prometheus.CounterVec // datasaver_metadata_values_total{status}
	sessions      *prometheus.GaugeVec   // datasaver_sessions{state}
}

func newSaverMetrics(reg prometheus.Registerer) *saverMetrics {
	m := &saverMetrics{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datasaver_writes_total",
			Help: "Dataset writes by dataset and status",
		}, []string{"dataset", "status"}),
		writeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "datasaver_write_duration_seconds",
			Help:    "Time to write and flush one slab",
			Buckets: prometheus.DefBuckets,
		}),
		trims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datasaver_trim_total",
			Help: "Datasets handled at session close, by action",
		}, []string{"action"}),
		metadata: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datasaver_metadata_values_total",
			Help: "Metadata attributes written, by status",
		}, []string{"status"}),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "datasaver_sessions",
			Help: "Write sessions by state",
		}, []string{"state"}),
	}
	if reg == nil {
		return m
	}
	m.writes = register(reg, m.writes)
	m.writeDuration = register(reg, m.writeDuration)
	m.trims = register(reg, m.trims)
	m.metadata = register(reg, m.metadata)
	m.sessions = register(reg, m.sessions)
	return m
}

// register adds c to reg, returning the collector already registered under
// the same name if there is one.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	ProblemLogger.Printf("Could not register metrics: %v", err)
	return c
}

func (m *saverMetrics) recordWrite(dataset string, err error, seconds float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.writes.WithLabelValues(dataset, status).Inc()
	m.writeDuration.Observe(seconds)
}

func (m *saverMetrics) recordMetadata(err error) {
	var tooLarge *ValueTooLargeError
	var unsupported *TypeUnsupportedError
	switch {
	case err == nil:
		m.metadata.WithLabelValues("ok").Inc()
	case errors.As(err, &tooLarge):
		m.metadata.WithLabelValues("too_large").Inc()
	case errors.As(err, &unsupported):
		m.metadata.WithLabelValues("unsupported").Inc()
	default:
		m.metadata.WithLabelValues("error").Inc()
	}
}
