package ingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric outcomes recorded per processed message.
const (
	OutcomeStored       = "stored"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeRequeued     = "requeued"
)

// Metrics collects pipeline counters. A nil *Metrics is valid and records
// nothing, so wiring stays unconditional.
type Metrics struct {
	processedTotal    *prometheus.CounterVec
	retriesTotal      *prometheus.CounterVec
	deadLetteredTotal *prometheus.CounterVec
	inFlight          *prometheus.GaugeVec
	processingSeconds *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

func newPipelineCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalogflow",
			Subsystem: "pipeline",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates the pipeline metrics collectors. A nil registerer falls
// back to the default Prometheus registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		registerer:        registerer,
		processedTotal:    newPipelineCounterVec("processed_total", "Messages that reached a terminal outcome", []string{"queue", "outcome"}),
		retriesTotal:      newPipelineCounterVec("retries_total", "Persistence retries performed", []string{"queue"}),
		deadLetteredTotal: newPipelineCounterVec("dead_lettered_total", "Messages routed to a dead-letter queue", []string{"queue", "reason"}),
		inFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "catalogflow",
				Subsystem: "pipeline",
				Name:      "in_flight",
				Help:      "Messages currently being processed",
			},
			[]string{"queue"},
		),
		processingSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "catalogflow",
				Subsystem: "pipeline",
				Name:      "processing_seconds",
				Help:      "Wall-clock time from receipt to terminal outcome",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"queue"},
		),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil || m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.processedTotal,
		m.retriesTotal,
		m.deadLetteredTotal,
		m.inFlight,
		m.processingSeconds,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// MessageStarted marks a message as in flight.
func (m *Metrics) MessageStarted(queue string) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(queue).Inc()
}

// MessageFinished records the terminal outcome and releases the in-flight slot.
func (m *Metrics) MessageFinished(queue, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(queue).Dec()
	m.processedTotal.WithLabelValues(queue, outcome).Inc()
	m.processingSeconds.WithLabelValues(queue).Observe(elapsed.Seconds())
}

// RetryScheduled records one persistence retry.
func (m *Metrics) RetryScheduled(queue string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(queue).Inc()
}

// DeadLettered records a message routed to the dead-letter queue.
func (m *Metrics) DeadLettered(queue string, reason Reason) {
	if m == nil {
		return
	}
	m.deadLetteredTotal.WithLabelValues(queue, string(reason)).Inc()
}
