package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the booking core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	BookingRequests      *prometheus.CounterVec
	Cancellations        *prometheus.CounterVec
	PenaltiesLogged      prometheus.Counter
	Reprograms           prometheus.Counter
	StatusTransitions    *prometheus.CounterVec
	SlotBlocksCreated    *prometheus.CounterVec
	NotificationFailures *prometheus.CounterVec
	OperationDuration    *prometheus.HistogramVec
}

// New registers all collectors on reg. Pass prometheus.DefaultRegisterer in
// binaries and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		BookingRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "teleconsult_booking_requests_total",
			Help: "Appointment requests by outcome",
		}, []string{"outcome"}),
		Cancellations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "teleconsult_cancellations_total",
			Help: "Appointment cancellations by cancelling role",
		}, []string{"role"}),
		PenaltiesLogged: f.NewCounter(prometheus.CounterOpts{
			Name: "teleconsult_late_cancellation_penalties_total",
			Help: "Late-cancellation penalty entries appended",
		}),
		Reprograms: f.NewCounter(prometheus.CounterOpts{
			Name: "teleconsult_institutional_reprograms_total",
			Help: "Institutional reprograms committed",
		}),
		StatusTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "teleconsult_appointment_transitions_total",
			Help: "Committed appointment status transitions by target status",
		}, []string{"to"}),
		SlotBlocksCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "teleconsult_slot_blocks_created_total",
			Help: "Slot blocks programmed by initial status",
		}, []string{"status"}),
		NotificationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "teleconsult_notification_failures_total",
			Help: "Notification events that could not be handed to the gateway",
		}, []string{"event"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "teleconsult_operation_duration_seconds",
			Help:    "Duration of core operations including the transaction",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncBooking(outcome string) {
	if m == nil {
		return
	}
	m.BookingRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncCancellation(role string, penalty bool) {
	if m == nil {
		return
	}
	m.Cancellations.WithLabelValues(role).Inc()
	if penalty {
		m.PenaltiesLogged.Inc()
	}
}

func (m *Metrics) IncReprogram() {
	if m == nil {
		return
	}
	m.Reprograms.Inc()
}

func (m *Metrics) IncTransition(to string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) IncSlotBlock(status string) {
	if m == nil {
		return
	}
	m.SlotBlocksCreated.WithLabelValues(status).Inc()
}

func (m *Metrics) IncNotificationFailure(event string) {
	if m == nil {
		return
	}
	m.NotificationFailures.WithLabelValues(event).Inc()
}

// ObserveOperation records the duration of op. Call with time.Now() taken at
// the start of the operation.
func (m *Metrics) ObserveOperation(op string, start time.Time) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
