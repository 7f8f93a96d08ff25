package appointment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/teleconsult-booking/internal/authz"
	"github.com/hackgods/teleconsult-booking/internal/config"
	"github.com/hackgods/teleconsult-booking/internal/metrics"
	"github.com/hackgods/teleconsult-booking/internal/notify"
)

// Audit event types written to event_logs.
const (
	EventSlotCreated            = "SLOT_CREATED"
	EventSlotApproved           = "SLOT_APPROVED"
	EventSlotDeleted            = "SLOT_DELETED"
	EventAppointmentCreated     = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventStaffReassigned        = "APPOINTMENT_STAFF_REASSIGNED"
	EventAppointmentReprogramed = "APPOINTMENT_REPROGRAMMED"
)

// Policy holds the tunable business rules.
type Policy struct {
	MonthlyQuota         int
	PatientCancelMinDays int
	// PenaltyWindowDays is the lead time under which a cancellation is logged
	// as late.
	PenaltyWindowDays int
	// ReprogramDecrementsCapacity makes an institutional reprogram take a unit
	// from the new slot and give back the original's unit.
	ReprogramDecrementsCapacity bool
}

func DefaultPolicy() Policy {
	return Policy{
		MonthlyQuota:         3,
		PatientCancelMinDays: 3,
		PenaltyWindowDays:    3,
	}
}

func PolicyFromConfig(cfg config.Config) Policy {
	p := DefaultPolicy()
	p.MonthlyQuota = cfg.MonthlyQuota
	p.PatientCancelMinDays = cfg.PatientCancelMinDays
	p.ReprogramDecrementsCapacity = cfg.ReprogramCapacityPolicy == config.ReprogramDecrement
	return p
}

// Service is the booking core. Every mutating method takes the acting user
// explicitly and runs as a single store transaction.
type Service struct {
	store         Store
	clock         func() time.Time
	loc           *time.Location
	policy        Policy
	publisher     notify.Publisher
	notifyTimeout time.Duration
	metrics       *metrics.Metrics
	log           zerolog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.clock = now }
}

// WithLocation sets the zone in which "today" is evaluated.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy = p }
}

func WithPublisher(p notify.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithNotifyTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:         store,
		clock:         time.Now,
		loc:           time.UTC,
		policy:        DefaultPolicy(),
		notifyTimeout: 3 * time.Second,
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// today is the current civil date in the configured location.
func (s *Service) today() time.Time {
	return CivilDate(s.clock().In(s.loc))
}

func authorize(actor authz.Actor, c authz.Capability) error {
	if !actor.Valid() {
		return forbiddenf("missing or invalid actor")
	}
	if !actor.Can(c) {
		return forbiddenf("role %s may not %s", actor.Role, c)
	}
	return nil
}

// fail passes typed errors through untouched. Anything else is logged with
// its cause and collapsed to ErrInternal.
func (s *Service) fail(op string, err error) error {
	if IsDomainError(err) {
		return err
	}
	s.log.Error().Err(err).Str("op", op).Msg("booking core failure")
	return fmt.Errorf("%s: %w", op, ErrInternal)
}

// audit writes an event_logs row inside tx.
func (s *Service) audit(ctx context.Context, tx Tx, actor authz.Actor, eventType string, appointmentID, slotID *uuid.UUID, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Msg("failed to marshal audit payload")
		data = nil
	}
	return tx.InsertEvent(ctx, EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		SlotID:        slotID,
		ActorID:       actor.ID,
		Payload:       data,
		CreatedAt:     s.clock(),
	})
}

// emit publishes a notification for a committed change. It never fails the
// caller: errors are logged and counted, and the wait is bounded by
// notifyTimeout even if the request context is already gone.
func (s *Service) emit(ctx context.Context, typ notify.EventType, appointmentID uuid.UUID) {
	if s.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()

	err := func() error {
		d, err := s.store.GetNotificationDetails(ctx, appointmentID)
		if err != nil {
			return fmt.Errorf("load notification details: %w", err)
		}
		return s.publisher.Publish(ctx, notify.Event{
			Type:          typ,
			AppointmentID: d.AppointmentID,
			PatientID:     d.PatientID,
			PatientName:   d.PatientName,
			PatientEmail:  d.PatientEmail,
			PatientPhone:  d.PatientPhone,
			Specialty:     d.Specialty,
			Date:          d.Date.Format("2006-01-02"),
			Time:          d.Time.String(),
			Institutional: d.Institutional,
			OccurredAt:    s.clock().UTC(),
		})
	}()
	if err != nil {
		s.metrics.IncNotificationFailure(string(typ))
		s.log.Warn().Err(err).
			Str("event", string(typ)).
			Str("appointment_id", appointmentID.String()).
			Msg("notification not dispatched")
	}
}
