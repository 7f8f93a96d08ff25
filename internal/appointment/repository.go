package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the transactional relational store behind the booking core.
// Readers run outside any transaction; every mutation goes through RunInTx.
type Store interface {
	Reader

	// RunInTx executes fn in a single transaction. A non-nil error from fn
	// rolls back everything fn did. Implementations must not be re-entered
	// from inside fn; use the Tx handle instead.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Reader interface {
	GetSpecialty(ctx context.Context, id uuid.UUID) (*Specialty, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	ListAvailableSlots(ctx context.Context, f SlotFilter) ([]Slot, error)

	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListAppointmentsBySlot(ctx context.Context, slotID uuid.UUID) ([]Appointment, error)

	ListPenaltiesByPatient(ctx context.Context, patientID uuid.UUID) ([]PenaltyLogEntry, error)

	GetNotificationDetails(ctx context.Context, appointmentID uuid.UUID) (*NotificationDetails, error)
}

// Tx is the write side, valid only for the duration of a RunInTx callback.
type Tx interface {
	// LockSlot reads the slot holding a row lock until the transaction ends.
	LockSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	InsertSlot(ctx context.Context, s *Slot) error
	HasOverlappingSlot(ctx context.Context, specialtyID uuid.UUID, date time.Time, start, end TimeOfDay) (bool, error)
	// UpdateSlotStatus is conditional on the current status being from.
	UpdateSlotStatus(ctx context.Context, id uuid.UUID, from, to SlotStatus, approvedBy uuid.UUID, at time.Time) (*Slot, error)
	// AdjustCapacity adds delta to available_capacity; it returns ErrStaleState
	// rather than leave the 0..total range.
	AdjustCapacity(ctx context.Context, id uuid.UUID, delta int) (*Slot, error)
	DeleteSlot(ctx context.Context, id uuid.UUID) error
	CountActiveAppointmentsForSlot(ctx context.Context, slotID uuid.UUID) (int, error)

	// AdvisoryLock serializes transactions that share key until commit.
	AdvisoryLock(ctx context.Context, key string) error

	CountActiveAppointmentsInRange(ctx context.Context, patientID uuid.UUID, from, to time.Time) (int, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	InsertAppointment(ctx context.Context, a *Appointment) error
	// UpdateAppointment is conditional on the current status being from.
	UpdateAppointment(ctx context.Context, id uuid.UUID, from AppointmentStatus, upd AppointmentUpdate) (*Appointment, error)

	InsertPenalty(ctx context.Context, p *PenaltyLogEntry) error
	InsertEvent(ctx context.Context, ev EventLog) error
}
