package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for operator self-monitoring.
// It uses a custom registry to avoid polluting the global default.
type Metrics struct {
	Registry *prometheus.Registry

	// Queue and execution-state metrics
	QueueLength prometheus.Gauge
	WorkerState *prometheus.GaugeVec
	MutexState  *prometheus.GaugeVec

	// Command outcome metrics
	CommandsTotal *prometheus.CounterVec

	// Kubernetes adapter metrics
	K8sAdapterCallDuration *prometheus.HistogramVec

	// Identity/quota metrics
	QuotaRemaining *prometheus.GaugeVec

	// HTTP surface metrics
	HTTPRequestsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all Prometheus metrics
// registered on a custom registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatops_command_queue_length",
			Help: "Current number of commands waiting in the priority queue.",
		}),

		WorkerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatops_worker_state",
			Help: "Current worker state (1 = active, 0 = inactive), labeled by state name.",
		}, []string{"state"}),

		MutexState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatops_mutex_state",
			Help: "Current execution mutex state (1 = active, 0 = inactive), labeled by state name.",
		}, []string{"state"}),

		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatops_commands_total",
			Help: "Total number of commands processed, labeled by action and outcome.",
		}, []string{"action", "status"}),

		K8sAdapterCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatops_k8s_adapter_call_duration_seconds",
			Help:    "Duration of Kubernetes API calls made by the adapter, labeled by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		QuotaRemaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatops_quota_remaining",
			Help: "Remaining FREE-tier command quota, labeled by user.",
		}, []string{"user"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatops_http_requests_total",
			Help: "Total number of HTTP requests served, labeled by path and status.",
		}, []string{"path", "status"}),
	}

	// Register all metrics with the custom registry.
	reg.MustRegister(
		m.QueueLength,
		m.WorkerState,
		m.MutexState,
		m.CommandsTotal,
		m.K8sAdapterCallDuration,
		m.QuotaRemaining,
		m.HTTPRequestsTotal,
	)

	return m
}

// SetQueueLength implements queue.LengthPublisher so the priority queue
// can report its length directly to Prometheus.
func (m *Metrics) SetQueueLength(n int) {
	m.QueueLength.Set(float64(n))
}
