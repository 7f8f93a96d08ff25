package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/teleconsult-booking/internal/appointment"
)

const dateLayout = "2006-01-02"

type CreateSlotRequest struct {
	SpecialtyID     string `json:"specialty_id"`
	Date            string `json:"date"`       // YYYY-MM-DD
	StartTime       string `json:"start_time"` // HH:MM
	EndTime         string `json:"end_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

type CreateAppointmentRequest struct {
	SlotID    string `json:"slot_id"`
	PatientID string `json:"patient_id,omitempty"` // defaults to the caller
	Reason    string `json:"reason,omitempty"`
}

type StaffRequest struct {
	StaffID string `json:"staff_id"`
}

type CompleteRequest struct {
	Notes string `json:"notes,omitempty"`
}

type ReprogramRequest struct {
	SlotID string `json:"slot_id"`
	Reason string `json:"reason,omitempty"`
}

type SlotResponse struct {
	ID                uuid.UUID  `json:"id"`
	SpecialtyID       uuid.UUID  `json:"specialty_id"`
	Date              string     `json:"date"`
	StartTime         string     `json:"start_time"`
	EndTime           string     `json:"end_time"`
	DurationMinutes   int        `json:"duration_minutes"`
	TotalCapacity     int        `json:"total_capacity"`
	AvailableCapacity int        `json:"available_capacity"`
	Status            string     `json:"status"`
	CreatedBy         uuid.UUID  `json:"created_by"`
	ApprovedBy        *uuid.UUID `json:"approved_by,omitempty"`
	ApprovedAt        *time.Time `json:"approved_at,omitempty"`
}

type AppointmentResponse struct {
	ID                       uuid.UUID  `json:"id"`
	PatientID                uuid.UUID  `json:"patient_id"`
	SlotID                   uuid.UUID  `json:"slot_id"`
	AssignedStaffID          *uuid.UUID `json:"assigned_staff_id,omitempty"`
	Date                     string     `json:"date"`
	Time                     string     `json:"time"`
	Reason                   string     `json:"reason,omitempty"`
	Status                   string     `json:"status"`
	Notes                    string     `json:"notes,omitempty"`
	IsInstitutionalReprogram bool       `json:"is_institutional_reprogram"`
	OriginalAppointmentID    *uuid.UUID `json:"original_appointment_id,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

type CancelResponse struct {
	Appointment      AppointmentResponse `json:"appointment"`
	CapacityReleased bool                `json:"capacity_released"`
	PenaltyLogged    bool                `json:"penalty_logged"`
	DaysBefore       int                 `json:"days_before"`
}

type ReprogramResponse struct {
	Original    AppointmentResponse `json:"original"`
	Rescheduled AppointmentResponse `json:"rescheduled"`
}

type PenaltyResponse struct {
	ID            int64     `json:"id"`
	PatientID     uuid.UUID `json:"patient_id"`
	Date          string    `json:"date"`
	Type          string    `json:"type"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Notes         string    `json:"notes"`
	CreatedAt     time.Time `json:"created_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toSlotResponse(s *appointment.Slot) SlotResponse {
	return SlotResponse{
		ID:                s.ID,
		SpecialtyID:       s.SpecialtyID,
		Date:              s.Date.Format(dateLayout),
		StartTime:         s.StartTime.String(),
		EndTime:           s.EndTime.String(),
		DurationMinutes:   s.DurationMinutes,
		TotalCapacity:     s.TotalCapacity,
		AvailableCapacity: s.AvailableCapacity,
		Status:            string(s.Status),
		CreatedBy:         s.CreatedBy,
		ApprovedBy:        s.ApprovedBy,
		ApprovedAt:        s.ApprovedAt,
	}
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                       a.ID,
		PatientID:                a.PatientID,
		SlotID:                   a.SlotID,
		AssignedStaffID:          a.AssignedStaffID,
		Date:                     a.Date.Format(dateLayout),
		Time:                     a.Time.String(),
		Reason:                   a.Reason,
		Status:                   string(a.Status),
		Notes:                    a.Notes,
		IsInstitutionalReprogram: a.IsInstitutionalReprogram,
		OriginalAppointmentID:    a.OriginalAppointmentID,
		CreatedAt:                a.CreatedAt,
		UpdatedAt:                a.UpdatedAt,
	}
}

func toAppointmentResponses(list []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(list))
	for i := range list {
		out = append(out, toAppointmentResponse(&list[i]))
	}
	return out
}

func toPenaltyResponse(p *appointment.PenaltyLogEntry) PenaltyResponse {
	return PenaltyResponse{
		ID:            p.ID,
		PatientID:     p.PatientID,
		Date:          p.Date.Format(dateLayout),
		Type:          string(p.Type),
		AppointmentID: p.AppointmentID,
		Notes:         p.Notes,
		CreatedAt:     p.CreatedAt,
	}
}
