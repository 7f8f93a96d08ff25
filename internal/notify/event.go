// Package notify models the appointment events emitted after a booking-core
// transaction commits, and delivers them to patients by email and SMS.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type EventType string

const (
	EventAppointmentConfirmed   EventType = "appointment.confirmed"
	EventAppointmentCancelled   EventType = "appointment.cancelled"
	EventAppointmentRescheduled EventType = "appointment.rescheduled"
)

// Event carries everything a delivery channel needs; consumers never read the store.
type Event struct {
	Type          EventType `json:"type"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	PatientName   string    `json:"patient_name"`
	PatientEmail  string    `json:"patient_email,omitempty"`
	PatientPhone  string    `json:"patient_phone,omitempty"`
	Specialty     string    `json:"specialty"`
	Date          string    `json:"date"` // YYYY-MM-DD
	Time          string    `json:"time"` // HH:MM
	Institutional bool      `json:"institutional,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher hands an event to the external notification gateway.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// LogPublisher only logs events; used when no gateway is configured.
type LogPublisher struct {
	Logger zerolog.Logger
}

func (p LogPublisher) Publish(_ context.Context, ev Event) error {
	p.Logger.Info().
		Str("event", string(ev.Type)).
		Str("appointment_id", ev.AppointmentID.String()).
		Str("date", ev.Date).
		Str("time", ev.Time).
		Msg("notification event")
	return nil
}
