// Package metrics exposes sync and server counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/schaermu/nbpuller/internal/sync"
)

const (
	namespace = "nbpuller"

	outcomeLabel = "outcome"
	kindLabel    = "kind"
	triggerLabel = "trigger"
)

// Metrics holds every collector the service exports
type Metrics struct {
	syncs         *prometheus.CounterVec
	syncDuration  *prometheus.HistogramVec
	activeSockets prometheus.Gauge
	autoPullRuns  *prometheus.CounterVec
	webhookEvents *prometheus.CounterVec
	activeWorkers prometheus.GaugeFunc
}

// New creates the collectors and registers them with reg. activeWorkers
// reports the number of busy worker slots at scrape time.
func New(reg prometheus.Registerer, activeWorkers func() float64) (*Metrics, error) {
	m := &Metrics{
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syncs_total",
			Help:      "Count of finished syncs by outcome and error kind",
		}, []string{outcomeLabel, kindLabel}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Wall time of finished syncs",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{outcomeLabel}),
		activeSockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sockets",
			Help:      "Number of open progress sockets",
		}),
		autoPullRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autopull_runs_total",
			Help:      "Count of auto-pull runs by trigger",
		}, []string{triggerLabel}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Count of webhook deliveries by outcome",
		}, []string{outcomeLabel}),
		activeWorkers: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workers",
			Help:      "Number of busy sync worker slots",
		}, activeWorkers),
	}

	for _, c := range []prometheus.Collector{m.syncs, m.syncDuration, m.activeSockets, m.autoPullRuns, m.webhookEvents, m.activeWorkers} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SyncFinished implements sync.Observer
func (m *Metrics) SyncFinished(outcome sync.Outcome, elapsed time.Duration) {
	kind := ""
	if outcome.Err != nil {
		kind = string(outcome.Err.Kind)
	}
	m.syncs.WithLabelValues(string(outcome.Kind), kind).Inc()
	m.syncDuration.WithLabelValues(string(outcome.Kind)).Observe(elapsed.Seconds())
}

// SocketOpened records a new progress socket
func (m *Metrics) SocketOpened() {
	m.activeSockets.Inc()
}

// SocketClosed records a closed progress socket
func (m *Metrics) SocketClosed() {
	m.activeSockets.Dec()
}

// AutoPullRun records an auto-pull run started by trigger
func (m *Metrics) AutoPullRun(trigger string) {
	m.autoPullRuns.WithLabelValues(trigger).Inc()
}

// WebhookEvent records a webhook delivery with its outcome
func (m *Metrics) WebhookEvent(outcome string) {
	m.webhookEvents.WithLabelValues(outcome).Inc()
}
