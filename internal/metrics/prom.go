package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PromMetrics exports pipeline metrics to Prometheus.
type PromMetrics struct {
	stageOutcomes *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	stageRetries  *prometheus.CounterVec
	conflicts     *prometheus.CounterVec
	eventsRaised  *prometheus.CounterVec
	enqueued      *prometheus.CounterVec
	reclaimed     prometheus.Counter
}

// NewPromMetrics registers the pipeline collectors on reg.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	m := &PromMetrics{
		stageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pubpipe_stage_outcomes_total",
			Help: "Number of processed stage messages by outcome",
		}, []string{"stage", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pubpipe_stage_duration_seconds",
			Help:    "Duration of stage work",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		stageRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pubpipe_stage_retries_total",
			Help: "Number of stage re-arms after retryable faults",
		}, []string{"stage"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pubpipe_concurrency_conflicts_total",
			Help: "Number of optimistic concurrency conflicts",
		}, []string{"operation"}),
		eventsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pubpipe_events_raised_total",
			Help: "Number of domain events raised",
		}, []string{"type"}),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pubpipe_stage_messages_enqueued_total",
			Help: "Number of stage messages enqueued by the batch driver and trigger",
		}, []string{"stage"}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pubpipe_stages_reclaimed_total",
			Help: "Number of started stages re-enqueued by the timeout sweep",
		}),
	}
	reg.MustRegister(m.stageOutcomes, m.stageDuration, m.stageRetries, m.conflicts, m.eventsRaised, m.enqueued, m.reclaimed)
	return m
}

func (m *PromMetrics) StageOutcome(stage, outcome string) {
	m.stageOutcomes.WithLabelValues(stage, outcome).Inc()
}

func (m *PromMetrics) StageDuration(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *PromMetrics) StageRetried(stage string) {
	m.stageRetries.WithLabelValues(stage).Inc()
}

func (m *PromMetrics) ConcurrencyConflict(operation string) {
	m.conflicts.WithLabelValues(operation).Inc()
}

func (m *PromMetrics) EventRaised(eventType string) {
	m.eventsRaised.WithLabelValues(eventType).Inc()
}

func (m *PromMetrics) AttemptsEnqueued(stage string, n int) {
	m.enqueued.WithLabelValues(stage).Add(float64(n))
}

func (m *PromMetrics) StagesReclaimed(n int) {
	m.reclaimed.Add(float64(n))
}
