package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type RelayMetrics struct {
	polls          *prometheus.CounterVec
	deposits       *prometheus.CounterVec
	refunds        *prometheus.CounterVec
	activeWatchers prometheus.Gauge
	lastSynced     prometheus.Gauge
}

var (
	relayOnce     sync.Once
	relayRegistry *RelayMetrics
)

// Relay returns the process-wide metrics, registering them with the default
// registry on first use.
func Relay() *RelayMetrics {
	relayOnce.Do(func() {
		relayRegistry = &RelayMetrics{
			polls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "relay_watcher_polls_total",
				Help: "Deposit watcher sync cycles by phase and outcome.",
			}, []string{"phase", "outcome"}),
			deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "relay_deposits_recorded_total",
				Help: "Deposits added to a ledger by refund eligibility.",
			}, []string{"eligibility"}),
			refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "relay_refunds_total",
				Help: "Refund requests by outcome.",
			}, []string{"outcome"}),
			activeWatchers: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "relay_active_watchers",
				Help: "Number of sessions with a running poll loop.",
			}),
			lastSynced: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "relay_last_synced_block",
				Help: "Highest block any watcher has synced to.",
			}),
		}
		prometheus.MustRegister(
			relayRegistry.polls,
			relayRegistry.deposits,
			relayRegistry.refunds,
			relayRegistry.activeWatchers,
			relayRegistry.lastSynced,
		)
	})
	return relayRegistry
}

func (m *RelayMetrics) ObservePoll(phase string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.polls.WithLabelValues(phase, outcome).Inc()
}

func (m *RelayMetrics) ObserveDeposit(ready bool) {
	if m == nil {
		return
	}
	eligibility := "not_ready"
	if ready {
		eligibility = "ready"
	}
	m.deposits.WithLabelValues(eligibility).Inc()
}

func (m *RelayMetrics) ObserveRefund(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.refunds.WithLabelValues(outcome).Inc()
}

func (m *RelayMetrics) WatcherStarted() {
	if m == nil {
		return
	}
	m.activeWatchers.Inc()
}

func (m *RelayMetrics) WatcherStopped() {
	if m == nil {
		return
	}
	m.activeWatchers.Dec()
}

func (m *RelayMetrics) ObserveSyncedBlock(block uint64) {
	if m == nil {
		return
	}
	m.lastSynced.Set(float64(block))
}
