package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackgods/teleconsult-booking/internal/appointment"
	"github.com/hackgods/teleconsult-booking/internal/authz"
)

// BookingService is the subset of *appointment.Service the HTTP layer uses.
type BookingService interface {
	CreateSlotBlock(ctx context.Context, actor authz.Actor, in appointment.CreateSlotBlockInput) (*appointment.Slot, error)
	ApproveSlotBlock(ctx context.Context, actor authz.Actor, slotID uuid.UUID) (*appointment.Slot, error)
	DeleteSlotBlock(ctx context.Context, actor authz.Actor, slotID uuid.UUID) error
	ListAvailableSlots(ctx context.Context, specialtyID *uuid.UUID, date *time.Time) ([]appointment.Slot, error)
	GetSlot(ctx context.Context, slotID uuid.UUID) (*appointment.Slot, error)

	RequestAppointment(ctx context.Context, actor authz.Actor, in appointment.RequestAppointmentInput) (*appointment.Appointment, error)
	Confirm(ctx context.Context, actor authz.Actor, appointmentID, staffID uuid.UUID) (*appointment.Appointment, error)
	Complete(ctx context.Context, actor authz.Actor, appointmentID uuid.UUID, notes string) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, actor authz.Actor, appointmentID uuid.UUID) (*appointment.Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, actor authz.Actor, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error)
	ListAppointmentsBySlot(ctx context.Context, actor authz.Actor, slotID uuid.UUID) ([]appointment.Appointment, error)
	ListPenalties(ctx context.Context, actor authz.Actor, patientID uuid.UUID) ([]appointment.PenaltyLogEntry, error)

	CancelAppointment(ctx context.Context, actor authz.Actor, appointmentID uuid.UUID) (*appointment.CancellationResult, error)
	ReassignStaff(ctx context.Context, actor authz.Actor, appointmentID, staffID uuid.UUID) (*appointment.Appointment, error)
	ReprogramInstitutional(ctx context.Context, actor authz.Actor, originalID, newSlotID uuid.UUID, reason string) (*appointment.ReprogramResult, error)
}

var _ BookingService = (*appointment.Service)(nil)

type RouterConfig struct {
	Service BookingService
	// PostgresPing and RedisPing back the readiness check. RedisPing may be
	// nil when notifications are disabled.
	PostgresPing PingFunc
	RedisPing    PingFunc
	Gatherer     prometheus.Gatherer
	Logger       zerolog.Logger
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PostgresPing, cfg.RedisPing, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)

		r.Route("/slots", func(r chi.Router) {
			r.Get("/", listSlotsHandler(cfg.Service))
			r.Post("/", createSlotHandler(cfg.Service))
			r.Get("/{id}", getSlotHandler(cfg.Service))
			r.Delete("/{id}", deleteSlotHandler(cfg.Service))
			r.Post("/{id}/approve", approveSlotHandler(cfg.Service))
			r.Get("/{id}/appointments", listSlotAppointmentsHandler(cfg.Service))
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", createAppointmentHandler(cfg.Service))
			r.Get("/", listAppointmentsHandler(cfg.Service))
			r.Get("/{id}", getAppointmentHandler(cfg.Service))
			r.Post("/{id}/confirm", confirmAppointmentHandler(cfg.Service))
			r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Service))
			r.Post("/{id}/complete", completeAppointmentHandler(cfg.Service))
			r.Post("/{id}/reassign", reassignStaffHandler(cfg.Service))
			r.Post("/{id}/reprogram", reprogramAppointmentHandler(cfg.Service))
		})

		r.Get("/patients/{id}/penalties", listPenaltiesHandler(cfg.Service))
	})

	return r
}
