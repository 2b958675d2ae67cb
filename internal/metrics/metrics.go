// Package metrics defines the prometheus collectors for the bulk-import
// pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5,
	1, 2.5, 5, 10,
	20, 40, 80, 120,
}

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg prometheus.Gatherer

	runsClaimed    prometheus.Counter
	runsProcessed  *prometheus.CounterVec
	runsSwept      *prometheus.CounterVec
	finalizes      *prometheus.CounterVec
	purges         *prometheus.CounterVec
	itemDecisions  *prometheus.CounterVec
	processLatency *prometheus.HistogramVec
	agentLatency   *prometheus.HistogramVec
}

// New registers the collectors with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWith(reg, reg)
}

// NewWith registers the collectors with reg and serves them from g.
func NewWith(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: g,
		runsClaimed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "bulkimport",
			Name:      "runs_claimed_total",
			Help:      "Total number of runs claimed by workers.",
		}),
		runsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bulkimport",
			Name:      "runs_processed_total",
			Help:      "Total number of processing attempts broken down by outcome.",
		}, []string{"outcome"}),
		runsSwept: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bulkimport",
			Name:      "runs_swept_total",
			Help:      "Total number of runs requeued or failed by the sweeper.",
		}, []string{"action"}),
		finalizes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bulkimport",
			Name:      "finalize_total",
			Help:      "Total number of finalize calls broken down by result.",
		}, []string{"result"}),
		purges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bulkimport",
			Name:      "purge_total",
			Help:      "Total number of artifact purges broken down by result.",
		}, []string{"result"}),
		itemDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bulkimport",
			Name:      "item_decisions_total",
			Help:      "Total number of review decisions applied to items.",
		}, []string{"action"}),
		processLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bulkimport",
			Name:      "process_duration_seconds",
			Help:      "Latency distribution of ProcessRun.",
			Buckets:   latencyBuckets,
		}, []string{"outcome"}),
		agentLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bulkimport",
			Name:      "agent_duration_seconds",
			Help:      "Latency distribution of extraction agent calls.",
			Buckets:   latencyBuckets,
		}, []string{"route", "result"}),
	}
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) RunClaimed() {
	if m != nil {
		m.runsClaimed.Inc()
	}
}

// RunProcessed records one ProcessRun outcome: review_ready, no_data,
// requeued or failed.
func (m *Metrics) RunProcessed(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsProcessed.WithLabelValues(outcome).Inc()
	m.processLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) RunsSwept(action string, n int) {
	if m != nil && n > 0 {
		m.runsSwept.WithLabelValues(action).Add(float64(n))
	}
}

func (m *Metrics) Finalized(result string) {
	if m != nil {
		m.finalizes.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Purged(result string) {
	if m != nil {
		m.purges.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ItemDecision(action string, n int) {
	if m != nil && n > 0 {
		m.itemDecisions.WithLabelValues(action).Add(float64(n))
	}
}

// AgentCall records the latency of one extraction agent call.
func (m *Metrics) AgentCall(route, result string, d time.Duration) {
	if m != nil {
		m.agentLatency.WithLabelValues(route, result).Observe(d.Seconds())
	}
}
