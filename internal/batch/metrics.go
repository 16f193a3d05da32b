package batch

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for the scanning workflow.
type Metrics struct {
	scans  *prometheus.CounterVec
	events *prometheus.CounterVec
}

// NewMetrics registers batch collectors on registerer. A nil registerer
// falls back to the default Prometheus registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	scans := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "receiving_scans_total",
		Help: "Serial scans partitioned by outcome.",
	}, []string{"result"})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "receiving_batch_events_total",
		Help: "Accepted workflow mutations partitioned by event kind.",
	}, []string{"event"})
	registerer.MustRegister(scans, events)
	return &Metrics{scans: scans, events: events}
}

// ObserveScan counts one scan attempt.
func (m *Metrics) ObserveScan(err error) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(scanResult(err)).Inc()
}

// ObserveEvent counts one workflow event.
func (m *Metrics) ObserveEvent(evt Event) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(evt.Kind)).Inc()
}

func scanResult(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, ErrDuplicateSerial):
		return "duplicate"
	case errors.Is(err, ErrOverCapacity):
		return "over_capacity"
	case errors.Is(err, ErrStaleWorkflow):
		return "stale"
	case errors.Is(err, ErrInternalConsistency):
		return "inconsistent"
	case errors.Is(err, ErrNoActiveBatch):
		return "no_batch"
	default:
		return "invalid"
	}
}
