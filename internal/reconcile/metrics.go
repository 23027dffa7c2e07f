package reconcile

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rflorenc/oafctl/internal/models"
)

const metricsNamespace = "oafctl"

// Metrics holds the counters and gauges of one run. Each run owns its own
// registry so the textfile export contains nothing else.
type Metrics struct {
	Registry *prometheus.Registry

	// DeleteAttempts counts DELETE requests by class and result (ok, error).
	DeleteAttempts *prometheus.CounterVec

	// Deleted and Failed count identifiers by final outcome.
	Deleted *prometheus.CounterVec
	Failed  *prometheus.CounterVec

	// Found and Remaining are the listing sizes before and after deletion.
	Found     *prometheus.GaugeVec
	Remaining *prometheus.GaugeVec

	// GateAttempts counts health polls by result.
	GateAttempts *prometheus.CounterVec

	// MemoryCleared is 1 if the last memory clear succeeded.
	MemoryCleared prometheus.Gauge
}

// NewMetrics creates and registers the run metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		DeleteAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "reconcile",
			Name:      "delete_attempts_total",
			Help:      "DELETE requests sent, by resource class and result.",
		}, []string{"class", "result"}),
		Deleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "reconcile",
			Name:      "deleted_total",
			Help:      "Identifiers deleted, by resource class.",
		}, []string{"class"}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "reconcile",
			Name:      "failed_total",
			Help:      "Identifiers whose delete exhausted all attempts, by resource class.",
		}, []string{"class"}),
		Found: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "reconcile",
			Name:      "found",
			Help:      "Identifiers listed before deletion, by resource class.",
		}, []string{"class"}),
		Remaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "reconcile",
			Name:      "remaining",
			Help:      "Identifiers listed by the verification pass, by resource class.",
		}, []string{"class"}),
		GateAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "gate",
			Name:      "attempts_total",
			Help:      "Health checks sent, by result.",
		}, []string{"result"}),
		MemoryCleared: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "reconcile",
			Name:      "memory_cleared",
			Help:      "1 if the memory store clear succeeded.",
		}),
	}
	reg.MustRegister(m.DeleteAttempts, m.Deleted, m.Failed, m.Found, m.Remaining, m.GateAttempts, m.MemoryCleared)
	return m
}

func (m *Metrics) observeAttempt(class models.ResourceClass, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.DeleteAttempts.WithLabelValues(string(class), result).Inc()
}

func (m *Metrics) observeGate(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.GateAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) observeClass(c models.ClassReport) {
	if m == nil {
		return
	}
	if c.Cleared != nil {
		v := 0.0
		if *c.Cleared {
			v = 1
		}
		m.MemoryCleared.Set(v)
		return
	}
	class := string(c.Class)
	m.Found.WithLabelValues(class).Set(float64(c.Found))
	m.Deleted.WithLabelValues(class).Add(float64(c.Deleted))
	m.Failed.WithLabelValues(class).Add(float64(c.Failed))
	if c.Remaining >= 0 {
		m.Remaining.WithLabelValues(class).Set(float64(c.Remaining))
	}
}

// WriteFile writes the metrics in text exposition format, suitable for the
// node exporter textfile collector.
func (m *Metrics) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
