package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector backed by Prometheus.
// Metrics are created and registered on first use.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	snapshotsCreated  prometheus.Counter
	snapshotLatency   prometheus.Histogram
	snapshotsDeleted  prometheus.Counter
	assignments       *prometheus.CounterVec
	componentAttempts *prometheus.CounterVec
	flowsCompleted    prometheus.Counter
	factsPublished    *prometheus.CounterVec
	operationErrors   *prometheus.CounterVec
}

var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheus creates a collector. A nil registerer means prometheus.DefaultRegisterer
// and an empty namespace means "flowtrack".
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "flowtrack"
	}
	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.snapshotsCreated = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "snapshot",
			Name:      "created_total",
			Help:      "Total flow snapshots created.",
		})
		p.snapshotLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "snapshot",
			Name:      "create_seconds",
			Help:      "Time spent copying a flow graph into a snapshot.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		})
		p.snapshotsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "snapshot",
			Name:      "deleted_total",
			Help:      "Total snapshots removed by retention.",
		})
		p.assignments = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "assignment",
			Name:      "requests_total",
			Help:      "Assignment requests by result (created, conflict, rejected).",
		}, []string{"result"})
		p.componentAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "progress",
			Name:      "component_attempts_total",
			Help:      "Component attempts by variant and resulting status.",
		}, []string{"variant", "status"})
		p.flowsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "progress",
			Name:      "flows_completed_total",
			Help:      "Total assignments that reached 100%.",
		})
		p.factsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "facts",
			Name:      "published_total",
			Help:      "Facts handed to the dispatcher by type.",
		}, []string{"type"})
		p.operationErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "errors_total",
			Help:      "Failed operations by operation and error kind.",
		}, []string{"op", "kind"})

		p.reg.MustRegister(
			p.snapshotsCreated, p.snapshotLatency, p.snapshotsDeleted, p.assignments,
			p.componentAttempts, p.flowsCompleted, p.factsPublished, p.operationErrors,
		)
	})
}

func (p *PrometheusCollector) RecordSnapshotCreated(seconds float64) {
	p.ensureRegistered()
	p.snapshotsCreated.Inc()
	p.snapshotLatency.Observe(seconds)
}

func (p *PrometheusCollector) RecordSnapshotsDeleted(n int) {
	p.ensureRegistered()
	p.snapshotsDeleted.Add(float64(n))
}

func (p *PrometheusCollector) RecordAssignment(result string) {
	p.ensureRegistered()
	p.assignments.WithLabelValues(result).Inc()
}

func (p *PrometheusCollector) RecordComponentAttempt(variant, status string) {
	p.ensureRegistered()
	p.componentAttempts.WithLabelValues(variant, status).Inc()
}

func (p *PrometheusCollector) RecordFlowCompleted() {
	p.ensureRegistered()
	p.flowsCompleted.Inc()
}

func (p *PrometheusCollector) RecordFactPublished(factType string) {
	p.ensureRegistered()
	p.factsPublished.WithLabelValues(factType).Inc()
}

func (p *PrometheusCollector) RecordOperationError(op, kind string) {
	p.ensureRegistered()
	if kind == "" {
		kind = "INTERNAL"
	}
	p.operationErrors.WithLabelValues(op, kind).Inc()
}
