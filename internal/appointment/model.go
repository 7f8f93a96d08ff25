package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending                AppointmentStatus = "pending"
	StatusConfirmed              AppointmentStatus = "confirmed"
	StatusRescheduled            AppointmentStatus = "rescheduled"
	StatusCancelled              AppointmentStatus = "cancelled"
	StatusCancelledInstitutional AppointmentStatus = "cancelled_institutional"
	StatusCompleted              AppointmentStatus = "completed"
)

// TerminalStatuses never transition again and do not count against quota or
// block slot deletion.
var TerminalStatuses = []AppointmentStatus{
	StatusCancelled,
	StatusCancelledInstitutional,
	StatusCompleted,
}

// transitions is the complete set of legal status moves. A rescheduled
// appointment behaves exactly like a pending one.
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:     {StatusConfirmed, StatusCancelled, StatusCancelledInstitutional},
	StatusRescheduled: {StatusConfirmed, StatusCancelled, StatusCancelledInstitutional},
	StatusConfirmed:   {StatusCompleted, StatusCancelled, StatusCancelledInstitutional},
}

func CanTransition(from, to AppointmentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s AppointmentStatus) Terminal() bool {
	for _, t := range TerminalStatuses {
		if s == t {
			return true
		}
	}
	return false
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusRescheduled,
		StatusCancelled, StatusCancelledInstitutional, StatusCompleted:
		return true
	}
	return false
}

type SlotStatus string

const (
	SlotPendingApproval SlotStatus = "pending_approval"
	SlotApproved        SlotStatus = "approved"
)

type PenaltyType string

const PenaltyLateCancellation PenaltyType = "late_cancellation"

// TimeOfDay is a wall-clock time expressed in minutes after midnight.
type TimeOfDay int

const endOfDay = TimeOfDay(24 * 60)

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS". "24:00" is end of day and
// only makes sense as the end of a block.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if s == "24:00" || s == "24:00:00" {
		return endOfDay, nil
	}
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return NewTimeOfDay(t.Hour(), t.Minute()), nil
		}
	}
	return 0, fmt.Errorf("%w: invalid time of day %q", ErrValidation, s)
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

type Specialty struct {
	ID          uuid.UUID
	Name        string
	Description string
}

// Patient holds the contact data notification events carry. Patient records
// are owned by the account-management collaborator; the core only reads them.
type Patient struct {
	ID       uuid.UUID
	FullName string
	Email    *string
	Phone    *string
}

type Slot struct {
	ID                uuid.UUID
	SpecialtyID       uuid.UUID
	Date              time.Time // civil date, midnight UTC
	StartTime         TimeOfDay
	EndTime           TimeOfDay
	DurationMinutes   int
	TotalCapacity     int
	AvailableCapacity int
	Status            SlotStatus
	CreatedBy         uuid.UUID
	ApprovedBy        *uuid.UUID
	ApprovedAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Appointment struct {
	ID                       uuid.UUID
	PatientID                uuid.UUID
	SlotID                   uuid.UUID
	AssignedStaffID          *uuid.UUID
	Date                     time.Time // civil date, midnight UTC
	Time                     TimeOfDay
	Reason                   string
	Status                   AppointmentStatus
	Notes                    string
	IsInstitutionalReprogram bool
	OriginalAppointmentID    *uuid.UUID
	// HoldsCapacity records whether creating this appointment decremented its
	// slot; only such appointments give a unit back when cancelled.
	HoldsCapacity bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type PenaltyLogEntry struct {
	ID            int64
	PatientID     uuid.UUID
	Date          time.Time
	Type          PenaltyType
	AppointmentID uuid.UUID
	Notes         string
	CreatedAt     time.Time
}

// EventLog is the audit trail row written in the same transaction as the
// change it describes.
type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	SlotID        *uuid.UUID
	ActorID       uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// AppointmentUpdate lists the fields a conditional write may change. Zero
// values leave the column untouched.
type AppointmentUpdate struct {
	Status          AppointmentStatus
	AssignedStaffID *uuid.UUID
	Notes           *string
}

// NotificationDetails is the read model joined for outgoing events.
type NotificationDetails struct {
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	PatientName   string
	PatientEmail  string
	PatientPhone  string
	Specialty     string
	Date          time.Time
	Time          TimeOfDay
	Institutional bool
}

type SlotFilter struct {
	SpecialtyID *uuid.UUID
	Date        *time.Time
	From        time.Time // earliest slot date included
}

// ReprogramResult links the closed original appointment and its replacement.
type ReprogramResult struct {
	Original    *Appointment
	Rescheduled *Appointment
}
