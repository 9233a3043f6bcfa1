package engine

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ehr/clinicqueue/internal/domain/queue"
)

const namespace = "clinicqueue"

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_cycles_total",
			Help:      "Count of synchronization cycles by result.",
		},
		[]string{"result"},
	)
	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_cycle_duration_seconds",
			Help:      "Duration of completed synchronization cycles.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
	profileLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_lookups_total",
			Help:      "Count of treatment profile lookups by result.",
		},
		[]string{"result"},
	)
	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Count of consultation signals emitted.",
		},
		[]string{"kind"},
	)
	mutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Count of queue mutations by operation and result.",
		},
		[]string{"op", "result"},
	)
	waitingGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "waiting_patients",
			Help:      "Waiting patients in the latest snapshot.",
		},
	)
	availableGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "available_doctors",
			Help:      "Available doctors in the latest snapshot.",
		},
	)
)

var registerMetrics sync.Once

// Register registers the engine metrics with the default registry.
func Register() {
	registerMetrics.Do(func() {
		prometheus.MustRegister(cyclesTotal, cycleDuration, profileLookups, signalsTotal, mutationsTotal, waitingGauge, availableGauge)
	})
}

// RecordCycle records the outcome of a synchronization cycle. Dropped cycles
// have no duration.
func RecordCycle(result string, d time.Duration) {
	cyclesTotal.WithLabelValues(result).Inc()
	if d > 0 {
		cycleDuration.Observe(d.Seconds())
	}
}

// RecordProfileLookup records one treatment profile lookup.
func RecordProfileLookup(result string) {
	profileLookups.WithLabelValues(result).Inc()
}

// RecordSignal records an emitted signal.
func RecordSignal(kind queue.SignalKind) {
	signalsTotal.WithLabelValues(string(kind)).Inc()
}

// RecordMutation records a queue mutation.
func RecordMutation(op, result string) {
	mutationsTotal.WithLabelValues(op, result).Inc()
}

// RecordSnapshot updates the queue gauges.
func RecordSnapshot(s *Snapshot) {
	waitingGauge.Set(float64(len(s.Waiting)))
	availableGauge.Set(float64(len(s.Available)))
}
