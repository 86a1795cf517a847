package ingest

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts worker outcomes per feed. One instance is shared by all workers.
type Metrics struct {
	EventsReceived       *prometheus.CounterVec
	RecordsPersisted     *prometheus.CounterVec
	RecordsSkipped       *prometheus.CounterVec
	PersistFailures      *prometheus.CounterVec
	SubscriptionFailures *prometheus.CounterVec
	Restarts             *prometheus.CounterVec
	WorkerState          *prometheus.GaugeVec
	PersistDuration      *prometheus.HistogramVec

	mu     sync.RWMutex
	states map[string]State
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedgrep",
			Subsystem: "ingest",
			Name:      "events_received_total",
			Help:      "Events pulled from a feed subscription.",
		}, []string{"feed"}),
		RecordsPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedgrep",
			Subsystem: "ingest",
			Name:      "records_persisted_total",
			Help:      "Records committed to the store.",
		}, []string{"feed"}),
		RecordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedgrep",
			Subsystem: "ingest",
			Name:      "records_skipped_total",
			Help:      "Records not inserted because the same source id was already stored.",
		}, []string{"feed"}),
		PersistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedgrep",
			Subsystem: "ingest",
			Name:      "persist_failures_total",
			Help:      "Events that could not be transformed or inserted.",
		}, []string{"feed"}),
		SubscriptionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedgrep",
			Subsystem: "ingest",
			Name:      "subscription_failures_total",
			Help:      "Subscriptions that stopped with an unrecoverable error.",
		}, []string{"feed"}),
		Restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedgrep",
			Subsystem: "ingest",
			Name:      "worker_restarts_total",
			Help:      "Worker restarts after a subscription failure.",
		}, []string{"feed"}),
		WorkerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "feedgrep",
			Subsystem: "ingest",
			Name:      "worker_state",
			Help:      "Current worker state: 0 idle, 1 authenticated, 2 streaming, 3 item error recovered, 4 stopped, 5 failed.",
		}, []string{"feed"}),
		PersistDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "feedgrep",
			Subsystem: "ingest",
			Name:      "persist_duration_seconds",
			Help:      "Time spent in the insert transaction.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"feed"}),
		states: make(map[string]State),
	}

	reg.MustRegister(
		m.EventsReceived,
		m.RecordsPersisted,
		m.RecordsSkipped,
		m.PersistFailures,
		m.SubscriptionFailures,
		m.Restarts,
		m.WorkerState,
		m.PersistDuration,
	)
	return m
}

func (m *Metrics) setState(feed string, state State) {
	m.mu.Lock()
	m.states[feed] = state
	m.mu.Unlock()
	m.WorkerState.WithLabelValues(feed).Set(float64(state))
}

// States returns the last reported state of every worker by feed name.
func (m *Metrics) States() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.states))
	for feed, state := range m.states {
		out[feed] = state.String()
	}
	return out
}
