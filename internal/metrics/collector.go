package zinometrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "zino"
	subsystem = "monitor"
)

// Label names for Zino metrics.
const (
	labelRouter    = "router"
	labelEventKind = "kind"
	labelState     = "state"
	labelFromState = "from_state"
	labelToState   = "to_state"
	labelTask      = "task"
)

// -------------------------------------------------------------------------
// Collector — Prometheus Zino Metrics
// -------------------------------------------------------------------------

// Collector holds all Zino Prometheus metrics.
//
//   - OpenEvents tracks how many events are currently open, by kind and state.
//   - EventTransitions counts state-machine transitions for alerting.
//   - FlapScore reports the last flap damping score set for each router
//     (labelled by router only, not by interface).
//   - TaskDuration records how long each scheduler poll task took.
//   - TrapsReceived counts accepted SNMP traps by trap identity ("MIB::name").
//   - OperatorSessions tracks currently connected operator-protocol clients.
type Collector struct {
	// OpenEvents tracks the number of currently open events, by kind and state.
	OpenEvents *prometheus.GaugeVec

	// EventTransitions counts event state-machine transitions.
	EventTransitions *prometheus.CounterVec

	// FlapScore reports the last damping score set for a router; the
	// router is the only label, so interfaces of one router share a series.
	FlapScore *prometheus.GaugeVec

	// TaskDuration records poll task latency by task name.
	TaskDuration *prometheus.HistogramVec

	// TrapsReceived counts accepted SNMP traps, by trap identity ("MIB::name").
	TrapsReceived *prometheus.CounterVec

	// OperatorSessions tracks currently connected operator-protocol clients.
	OperatorSessions prometheus.Gauge

	// PollErrors counts failed SNMP polls per router.
	PollErrors *prometheus.CounterVec
}

// NewCollector creates a Collector with all Zino metrics registered against
// the provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.OpenEvents,
		c.EventTransitions,
		c.FlapScore,
		c.TaskDuration,
		c.TrapsReceived,
		c.OperatorSessions,
		c.PollErrors,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	eventLabels := []string{labelEventKind, labelState}
	transitionLabels := []string{labelEventKind, labelFromState, labelToState}
	flapLabels := []string{labelRouter}
	taskLabels := []string{labelTask}
	trapLabels := []string{labelEventKind}
	routerLabels := []string{labelRouter}

	return &Collector{
		OpenEvents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "open_events",
			Help:      "Number of currently open events, by kind and state.",
		}, eventLabels),

		EventTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "event_transitions_total",
			Help:      "Total event state-machine transitions.",
		}, transitionLabels),

		FlapScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "flap_score",
			Help:      "Current flap-damping score for a router's interfaces.",
		}, flapLabels),

		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "task_duration_seconds",
			Help:      "Poll task execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, taskLabels),

		TrapsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "traps_received_total",
			Help:      "Total SNMP traps accepted for dispatch, by trap identity (MIB::name).",
		}, trapLabels),

		OperatorSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operator_sessions",
			Help:      "Number of currently connected operator-protocol command sessions.",
		}),

		PollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "poll_errors_total",
			Help:      "Total failed SNMP polls per router.",
		}, routerLabels),
	}
}

// -------------------------------------------------------------------------
// Open Event Gauge
// -------------------------------------------------------------------------

// SetOpenEvents sets the open-event gauge for a given kind/state pair.
func (c *Collector) SetOpenEvents(kind, state string, n float64) {
	c.OpenEvents.WithLabelValues(kind, state).Set(n)
}

// -------------------------------------------------------------------------
// Event Transitions
// -------------------------------------------------------------------------

// RecordEventTransition increments the transition counter for an event kind
// moving from one state to another.
func (c *Collector) RecordEventTransition(kind, from, to string) {
	c.EventTransitions.WithLabelValues(kind, from, to).Inc()
}

// -------------------------------------------------------------------------
// Flap Damping
// -------------------------------------------------------------------------

// SetFlapScore reports the current damping score for a router.
func (c *Collector) SetFlapScore(router string, score float64) {
	c.FlapScore.WithLabelValues(router).Set(score)
}

// -------------------------------------------------------------------------
// Scheduler Tasks
// -------------------------------------------------------------------------

// ObserveTaskDuration records how long a named poll task took.
func (c *Collector) ObserveTaskDuration(task string, seconds float64) {
	c.TaskDuration.WithLabelValues(task).Observe(seconds)
}

// -------------------------------------------------------------------------
// Traps
// -------------------------------------------------------------------------

// IncTrapsReceived increments the trap counter for one trap identity,
// given as "MIB::name". Traps the dispatcher drops are not counted.
func (c *Collector) IncTrapsReceived(kind string) {
	c.TrapsReceived.WithLabelValues(kind).Inc()
}

// -------------------------------------------------------------------------
// Operator Sessions
// -------------------------------------------------------------------------

// IncOperatorSessions increments the connected-session gauge.
func (c *Collector) IncOperatorSessions() {
	c.OperatorSessions.Inc()
}

// DecOperatorSessions decrements the connected-session gauge.
func (c *Collector) DecOperatorSessions() {
	c.OperatorSessions.Dec()
}

// -------------------------------------------------------------------------
// Poll Errors
// -------------------------------------------------------------------------

// IncPollErrors increments the failed-poll counter for a router.
func (c *Collector) IncPollErrors(router string) {
	c.PollErrors.WithLabelValues(router).Inc()
}
