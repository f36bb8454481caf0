package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects execution metrics for production
// monitoring. All metrics are namespaced "agentflow".
//
// Exposed series:
//   - inflight_nodes (gauge): behaviors currently executing.
//   - frontier_depth (gauge): tasks pending on the frontier.
//   - node_latency_ms (histogram, labels node_id/status): behavior
//     duration from dispatch to completion.
//   - gate_wait_ms (histogram, label queue_id): time spent awaiting a
//     rate-limiter admission.
//   - node_errors_total (counter, labels node_id/kind).
//   - tokens_total (counter): tokens reported by llm/image invocations.
//
// Wire a custom registry and expose it with promhttp:
//
//	registry := prometheus.NewRegistry()
//	metrics := flow.NewPrometheusMetrics(registry)
//	graph, _ := flow.Compile(spec, flow.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type PrometheusMetrics struct {
	inflightNodes prometheus.Gauge
	frontierDepth prometheus.Gauge
	nodeLatency   *prometheus.HistogramVec
	gateWait      *prometheus.HistogramVec
	nodeErrors    *prometheus.CounterVec
	tokens        prometheus.Counter
}

// NewPrometheusMetrics creates and registers the execution metrics with
// the provided registry (prometheus.DefaultRegisterer when nil).
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		inflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentflow",
			Name:      "inflight_nodes",
			Help:      "Number of node behaviors currently executing",
		}),
		frontierDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentflow",
			Name:      "frontier_depth",
			Help:      "Number of tasks pending on the execution frontier",
		}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentflow",
			Name:      "node_latency_ms",
			Help:      "Node behavior duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"node_id", "status"}),
		gateWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentflow",
			Name:      "gate_wait_ms",
			Help:      "Time spent awaiting rate-limiter admission in milliseconds",
			Buckets:   []float64{1, 10, 100, 500, 1000, 5000, 30000},
		}, []string{"queue_id"}),
		nodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "node_errors_total",
			Help:      "Node failures by node id and error kind",
		}, []string{"node_id", "kind"}),
		tokens: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "tokens_total",
			Help:      "Tokens reported by llm and image invocations",
		}),
	}
}

func (pm *PrometheusMetrics) recordNodeLatency(nodeID string, d time.Duration, status string) {
	if pm == nil {
		return
	}
	pm.nodeLatency.WithLabelValues(nodeID, status).Observe(float64(d.Milliseconds()))
}

func (pm *PrometheusMetrics) recordGateWait(queueID string, d time.Duration) {
	if pm == nil {
		return
	}
	pm.gateWait.WithLabelValues(queueID).Observe(float64(d.Milliseconds()))
}

func (pm *PrometheusMetrics) recordNodeError(nodeID string, kind ErrorKind) {
	if pm == nil {
		return
	}
	pm.nodeErrors.WithLabelValues(nodeID, string(kind)).Inc()
}

func (pm *PrometheusMetrics) addTokens(n int) {
	if pm == nil || n <= 0 {
		return
	}
	pm.tokens.Add(float64(n))
}

func (pm *PrometheusMetrics) addInflight(delta float64) {
	if pm == nil {
		return
	}
	pm.inflightNodes.Add(delta)
}

func (pm *PrometheusMetrics) setFrontierDepth(depth int) {
	if pm == nil {
		return
	}
	pm.frontierDepth.Set(float64(depth))
}
