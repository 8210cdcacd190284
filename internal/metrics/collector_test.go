package zinometrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	zinometrics "github.com/zinolabs/zino/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := zinometrics.NewCollector(reg)

	if c.OpenEvents == nil {
		t.Error("OpenEvents is nil")
	}
	if c.EventTransitions == nil {
		t.Error("EventTransitions is nil")
	}
	if c.FlapScore == nil {
		t.Error("FlapScore is nil")
	}
	if c.TaskDuration == nil {
		t.Error("TaskDuration is nil")
	}
	if c.TrapsReceived == nil {
		t.Error("TrapsReceived is nil")
	}
	if c.OperatorSessions == nil {
		t.Error("OperatorSessions is nil")
	}
	if c.PollErrors == nil {
		t.Error("PollErrors is nil")
	}

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestOpenEventsGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := zinometrics.NewCollector(reg)

	c.SetOpenEvents("portstate", "open", 3)
	if val := gaugeVecValue(t, c.OpenEvents, "portstate", "open"); val != 3 {
		t.Errorf("OpenEvents(portstate,open) = %v, want 3", val)
	}

	c.SetOpenEvents("portstate", "open", 1)
	if val := gaugeVecValue(t, c.OpenEvents, "portstate", "open"); val != 1 {
		t.Errorf("OpenEvents(portstate,open) after update = %v, want 1", val)
	}
}

func TestEventTransitions(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := zinometrics.NewCollector(reg)

	c.RecordEventTransition("bfd", "open", "ack")
	c.RecordEventTransition("bfd", "open", "ack")
	c.RecordEventTransition("bfd", "ack", "closed")

	if val := counterVecValue(t, c.EventTransitions, "bfd", "open", "ack"); val != 2 {
		t.Errorf("EventTransitions(bfd,open,ack) = %v, want 2", val)
	}
	if val := counterVecValue(t, c.EventTransitions, "bfd", "ack", "closed"); val != 1 {
		t.Errorf("EventTransitions(bfd,ack,closed) = %v, want 1", val)
	}
}

func TestFlapScoreGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := zinometrics.NewCollector(reg)

	c.SetFlapScore("router1.example.net", 12.5)
	if val := gaugeVecValue(t, c.FlapScore, "router1.example.net"); val != 12.5 {
		t.Errorf("FlapScore(router1) = %v, want 12.5", val)
	}
}

func TestTrapsReceivedCounter(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := zinometrics.NewCollector(reg)

	c.IncTrapsReceived("linkstate")
	c.IncTrapsReceived("linkstate")
	c.IncTrapsReceived("ignored")

	if val := counterVecValue(t, c.TrapsReceived, "linkstate"); val != 2 {
		t.Errorf("TrapsReceived(linkstate) = %v, want 2", val)
	}
	if val := counterVecValue(t, c.TrapsReceived, "ignored"); val != 1 {
		t.Errorf("TrapsReceived(ignored) = %v, want 1", val)
	}
}

func TestOperatorSessionsGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := zinometrics.NewCollector(reg)

	c.IncOperatorSessions()
	c.IncOperatorSessions()
	c.DecOperatorSessions()

	if val := gaugeValue(t, c.OperatorSessions); val != 1 {
		t.Errorf("OperatorSessions = %v, want 1", val)
	}
}

func TestPollErrorsCounter(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := zinometrics.NewCollector(reg)

	c.IncPollErrors("router1.example.net")
	c.IncPollErrors("router1.example.net")

	if val := counterVecValue(t, c.PollErrors, "router1.example.net"); val != 2 {
		t.Errorf("PollErrors(router1) = %v, want 2", val)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func gaugeVecValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

func counterVecValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}
