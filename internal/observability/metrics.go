package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/yungbote/fooddata-graph/internal/data/graph"
	"github.com/yungbote/fooddata-graph/internal/pkg/importerr"
	"github.com/yungbote/fooddata-graph/internal/platform/logger"
)

const namespace = "fdcimport"

// ImportMetrics collects per-run counters on a private registry. A one-shot
// process has nothing to scrape it, so Push sends it to a Pushgateway.
type ImportMetrics struct {
	reg *prometheus.Registry

	batches        *prometheus.CounterVec
	batchFailures  *prometheus.CounterVec
	batchLatency   *prometheus.HistogramVec
	nodesCreated   *prometheus.CounterVec
	edgesCreated   *prometheus.CounterVec
	recordsSkipped *prometheus.CounterVec
	notices        *prometheus.CounterVec
	lastRunSuccess prometheus.Gauge
	lastRunSeconds prometheus.Gauge
}

func NewImportMetrics() *ImportMetrics {
	m := &ImportMetrics{
		reg: prometheus.NewRegistry(),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "batches_committed_total",
			Help: "Batches committed, by phase.",
		}, []string{"phase"}),
		batchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "batches_failed_total",
			Help: "Batches that failed to commit, by phase.",
		}, []string{"phase"}),
		batchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "batch_duration_seconds",
			Help:    "Time to commit one batch, by phase.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"phase"}),
		nodesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "nodes_created_total",
			Help: "Nodes created by committed batches, by phase.",
		}, []string{"phase"}),
		edgesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "relationships_created_total",
			Help: "Relationships created by committed batches, by phase.",
		}, []string{"phase"}),
		recordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_skipped_total",
			Help: "Records or measurements dropped, by error code.",
		}, []string{"code"}),
		notices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "record_notices_total",
			Help: "Non-fatal record notices, by reason.",
		}, []string{"reason"}),
		lastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_run_success",
			Help: "1 if the last run completed without a fatal error.",
		}),
		lastRunSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_run_duration_seconds",
			Help: "Wall time of the last run.",
		}),
	}
	m.reg.MustRegister(
		m.batches, m.batchFailures, m.batchLatency,
		m.nodesCreated, m.edgesCreated,
		m.recordsSkipped, m.notices,
		m.lastRunSuccess, m.lastRunSeconds,
	)
	return m
}

func (m *ImportMetrics) Registry() *prometheus.Registry { return m.reg }

func (m *ImportMetrics) BatchCommitted(phase string, elapsed time.Duration, sum graph.BatchSummary) {
	m.batches.WithLabelValues(phase).Inc()
	m.batchLatency.WithLabelValues(phase).Observe(elapsed.Seconds())
	m.nodesCreated.WithLabelValues(phase).Add(float64(sum.NodesCreated))
	m.edgesCreated.WithLabelValues(phase).Add(float64(sum.RelationshipsCreated))
}

func (m *ImportMetrics) BatchFailed(phase string) {
	m.batchFailures.WithLabelValues(phase).Inc()
}

func (m *ImportMetrics) RecordSkipped(code importerr.Code) {
	m.recordsSkipped.WithLabelValues(string(code)).Inc()
}

func (m *ImportMetrics) Notice(reason string) {
	m.notices.WithLabelValues(reason).Inc()
}

// RunFinished records the outcome of a run.
func (m *ImportMetrics) RunFinished(elapsed time.Duration, err error) {
	m.lastRunSeconds.Set(elapsed.Seconds())
	if err != nil {
		m.lastRunSuccess.Set(0)
		return
	}
	m.lastRunSuccess.Set(1)
}

// Push sends the registry to the Pushgateway at url, grouped by run id.
// An empty url is a no-op.
func (m *ImportMetrics) Push(ctx context.Context, url, runID string, log *logger.Logger) error {
	if url == "" {
		return nil
	}
	p := push.New(url, namespace).Gatherer(m.reg)
	if runID != "" {
		p = p.Grouping("run_id", runID)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	if log != nil {
		log.Debug("metrics pushed", "url", url, "run_id", runID)
	}
	return nil
}
