package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/teleconsult-booking/internal/authz"
	"github.com/hackgods/teleconsult-booking/internal/notify"
)

type CancellationResult struct {
	Appointment      *Appointment
	CapacityReleased bool
	// Penalty is set when the cancellation was logged as late.
	Penalty *PenaltyLogEntry
	// DaysBefore is the signed number of days between today and the
	// appointment date.
	DaysBefore int
}

// CancelAppointment cancels a live appointment. Patients may only cancel their
// own appointments and need the configured lead time; staff may cancel at any
// time. Capacity goes back to the slot when the appointment held a unit, and
// short-notice cancellations are recorded in the penalty log.
func (s *Service) CancelAppointment(ctx context.Context, actor authz.Actor, appointmentID uuid.UUID) (*CancellationResult, error) {
	defer s.metrics.ObserveOperation("cancel_appointment", time.Now())

	if !actor.Valid() {
		return nil, forbiddenf("missing or invalid actor")
	}
	staff := actor.Can(authz.CapCancelAny)
	if !staff && !actor.Can(authz.CapCancelOwn) {
		return nil, forbiddenf("role %s may not cancel appointments", actor.Role)
	}

	today := s.today()
	res := &CancellationResult{}

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		*res = CancellationResult{}

		a, err := tx.GetAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if !staff && a.PatientID != actor.ID {
			return forbiddenf("appointment %s does not belong to %s", a.ID, actor)
		}
		if !CanTransition(a.Status, StatusCancelled) {
			return conflictf("appointment %s is %s and cannot be cancelled", a.ID, a.Status)
		}

		days := DaysBetween(today, a.Date)
		if !staff && days < s.policy.PatientCancelMinDays {
			return fmt.Errorf("%w: patients must cancel at least %d days ahead, appointment is in %d",
				ErrTooLateToCancel, s.policy.PatientCancelMinDays, days)
		}

		cancelled, err := transition(ctx, tx, a, StatusCancelled, AppointmentUpdate{})
		if err != nil {
			return err
		}

		if a.HoldsCapacity {
			if _, err := s.ReleaseCapacity(ctx, tx, a.SlotID); err != nil {
				return err
			}
			res.CapacityReleased = true
		}

		if days >= 0 && days < s.policy.PenaltyWindowDays && !a.IsInstitutionalReprogram {
			p := &PenaltyLogEntry{
				PatientID:     a.PatientID,
				Date:          today,
				Type:          PenaltyLateCancellation,
				AppointmentID: a.ID,
				Notes:         fmt.Sprintf("cancelled by %s %d day(s) before the appointment", actor.Role, days),
			}
			if err := tx.InsertPenalty(ctx, p); err != nil {
				return err
			}
			res.Penalty = p
		}

		res.Appointment = cancelled
		res.DaysBefore = days
		return s.audit(ctx, tx, actor, EventAppointmentCancelled, &a.ID, &a.SlotID, map[string]any{
			"from":              a.Status,
			"days_before":       days,
			"capacity_released": res.CapacityReleased,
			"penalty":           res.Penalty != nil,
		})
	})
	if err != nil {
		return nil, s.fail("cancel appointment", err)
	}

	s.metrics.IncCancellation(string(actor.Role), res.Penalty != nil)
	s.metrics.IncTransition(string(StatusCancelled))
	s.log.Info().
		Str("appointment_id", appointmentID.String()).
		Str("actor", actor.String()).
		Int("days_before", res.DaysBefore).
		Bool("penalty", res.Penalty != nil).
		Msg("appointment cancelled")
	s.emit(ctx, notify.EventAppointmentCancelled, appointmentID)
	return res, nil
}
