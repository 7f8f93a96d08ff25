package appointment

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hackgods/teleconsult-booking/internal/authz"
)

const maxReasonLength = 500

type RequestAppointmentInput struct {
	PatientID uuid.UUID // defaults to the acting patient
	SlotID    uuid.UUID
	Reason    string
}

func quotaKey(patientID uuid.UUID, month time.Time) string {
	return "quota:" + patientID.String() + ":" + month.Format("2006-01")
}

func cleanReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) > maxReasonLength {
		return "", validationf("reason must be at most %d characters", maxReasonLength)
	}
	return reason, nil
}

// RequestAppointment books one unit of a slot for a patient. Capacity, quota
// and the new record are decided and written in a single transaction; when
// two requests race for the last unit exactly one of them succeeds.
func (s *Service) RequestAppointment(ctx context.Context, actor authz.Actor, in RequestAppointmentInput) (*Appointment, error) {
	defer s.metrics.ObserveOperation("request_appointment", time.Now())

	appt, err := s.requestAppointment(ctx, actor, in)
	switch {
	case err == nil:
		s.metrics.IncBooking("booked")
	case errors.Is(err, ErrCapacityExhausted):
		s.metrics.IncBooking("capacity_exhausted")
	case errors.Is(err, ErrQuotaExceeded):
		s.metrics.IncBooking("quota_exceeded")
	default:
		s.metrics.IncBooking("rejected")
	}
	return appt, err
}

func (s *Service) requestAppointment(ctx context.Context, actor authz.Actor, in RequestAppointmentInput) (*Appointment, error) {
	if err := authorize(actor, authz.CapBookAppointment); err != nil {
		return nil, err
	}
	if in.PatientID == uuid.Nil {
		in.PatientID = actor.ID
	}
	if in.PatientID != actor.ID {
		return nil, forbiddenf("patients may only book for themselves")
	}
	if in.SlotID == uuid.Nil {
		return nil, validationf("slot is required")
	}
	reason, err := cleanReason(in.Reason)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetPatient(ctx, in.PatientID); err != nil {
		return nil, s.fail("request appointment", err)
	}

	today := s.today()
	monthStart, monthEnd := MonthBounds(today)

	var created *Appointment
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		slot, err := lockBookable(ctx, tx, in.SlotID)
		if err != nil {
			return err
		}
		if slot.Date.Before(today) {
			return validationf("slot %s is in the past", slot.ID)
		}

		// Two bookings by the same patient on different slots do not share a
		// row lock, so the quota count needs its own serialization.
		if err := tx.AdvisoryLock(ctx, quotaKey(in.PatientID, monthStart)); err != nil {
			return err
		}
		active, err := tx.CountActiveAppointmentsInRange(ctx, in.PatientID, monthStart, monthEnd)
		if err != nil {
			return err
		}
		if active >= s.policy.MonthlyQuota {
			return ErrQuotaExceeded
		}

		a := &Appointment{
			ID:            uuid.New(),
			PatientID:     in.PatientID,
			SlotID:        slot.ID,
			Date:          slot.Date,
			Time:          slot.StartTime,
			Reason:        reason,
			Status:        StatusPending,
			HoldsCapacity: true,
		}
		if err := tx.InsertAppointment(ctx, a); err != nil {
			return err
		}
		if _, err := s.ReserveCapacity(ctx, tx, slot.ID); err != nil {
			return err
		}
		created = a
		return s.audit(ctx, tx, actor, EventAppointmentCreated, &a.ID, &slot.ID, map[string]any{
			"patient_id": in.PatientID,
			"date":       a.Date.Format("2006-01-02"),
			"time":       a.Time.String(),
		})
	})
	if err != nil {
		return nil, s.fail("request appointment", err)
	}

	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("slot_id", created.SlotID.String()).
		Str("patient_id", created.PatientID.String()).
		Msg("appointment requested")
	return created, nil
}
