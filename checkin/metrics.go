package checkin

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the orchestrator
type Metrics struct {
	Outcomes       *prometheus.CounterVec
	Transitions    *prometheus.CounterVec
	RecordRetries  prometheus.Counter
	FinalityWait   prometheus.Histogram
	CoalescedStart prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_checkin_attempts_total",
			Help: "Terminal check-in attempt outcomes by result",
		}, []string{"outcome"}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_checkin_transitions_total",
			Help: "State transitions entered by check-in attempts",
		}, []string{"state"}),
		RecordRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "presence_checkin_record_retries_total",
			Help: "Recording calls repeated after a transient backend failure",
		}),
		FinalityWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "presence_checkin_finality_wait_seconds",
			Help:    "Time spent waiting for ledger finality",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60},
		}),
		CoalescedStart: factory.NewCounter(prometheus.CounterOpts{
			Name: "presence_checkin_coalesced_starts_total",
			Help: "Start calls joined to an attempt already in flight",
		}),
	}
}

func (m *Metrics) observeOutcome(s Snapshot) {
	if m == nil {
		return
	}
	outcome := string(s.State)
	switch {
	case s.Err != nil:
		outcome = string(s.Err.Kind)
	case s.AlreadyCheckedIn:
		outcome = "already_checked_in"
	}
	m.Outcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeTransition(state State) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) observeRetries(calls int) {
	if m == nil || calls <= 1 {
		return
	}
	m.RecordRetries.Add(float64(calls - 1))
}

func (m *Metrics) observeFinality(d time.Duration) {
	if m == nil {
		return
	}
	m.FinalityWait.Observe(d.Seconds())
}

func (m *Metrics) observeCoalesced() {
	if m == nil {
		return
	}
	m.CoalescedStart.Inc()
}
