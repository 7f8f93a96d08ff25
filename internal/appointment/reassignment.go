package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/teleconsult-booking/internal/authz"
	"github.com/hackgods/teleconsult-booking/internal/notify"
)

// ReassignStaff hands a confirmed appointment to another staff member.
func (s *Service) ReassignStaff(ctx context.Context, actor authz.Actor, appointmentID, staffID uuid.UUID) (*Appointment, error) {
	if err := authorize(actor, authz.CapReassignStaff); err != nil {
		return nil, err
	}
	if staffID == uuid.Nil {
		return nil, validationf("new staff member is required")
	}

	var updated *Appointment
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		a, err := tx.GetAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if a.Status != StatusConfirmed {
			return conflictf("appointment %s is %s, staff can only be reassigned while confirmed", a.ID, a.Status)
		}
		updated, err = tx.UpdateAppointment(ctx, a.ID, StatusConfirmed, AppointmentUpdate{AssignedStaffID: &staffID})
		if err != nil {
			return err
		}
		payload := map[string]any{"staff_id": staffID}
		if a.AssignedStaffID != nil {
			payload["previous_staff_id"] = *a.AssignedStaffID
		}
		return s.audit(ctx, tx, actor, EventStaffReassigned, &a.ID, &a.SlotID, payload)
	})
	if err != nil {
		return nil, s.fail("reassign staff", err)
	}
	return updated, nil
}

// ReprogramInstitutional moves a patient's live appointment to another slot
// on the institution's initiative. The original ends as
// cancelled_institutional and a new rescheduled appointment points back at
// it. Capacity follows Policy.ReprogramDecrementsCapacity.
func (s *Service) ReprogramInstitutional(ctx context.Context, actor authz.Actor, originalID, newSlotID uuid.UUID, reason string) (*ReprogramResult, error) {
	defer s.metrics.ObserveOperation("reprogram_institutional", time.Now())

	if err := authorize(actor, authz.CapReprogram); err != nil {
		return nil, err
	}
	if newSlotID == uuid.Nil {
		return nil, validationf("new slot is required")
	}
	reason, err := cleanReason(reason)
	if err != nil {
		return nil, err
	}

	today := s.today()
	decrement := s.policy.ReprogramDecrementsCapacity
	var res ReprogramResult

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		orig, err := tx.GetAppointment(ctx, originalID)
		if err != nil {
			return err
		}
		if !CanTransition(orig.Status, StatusCancelledInstitutional) {
			return conflictf("appointment %s is %s and cannot be reprogrammed", orig.ID, orig.Status)
		}

		release := decrement && orig.HoldsCapacity
		if release {
			if err := lockSlotsInOrder(ctx, tx, orig.SlotID, newSlotID); err != nil {
				return err
			}
		}
		slot, err := lockBookable(ctx, tx, newSlotID)
		if err != nil {
			return err
		}
		if slot.Date.Before(today) {
			return validationf("slot %s is in the past", slot.ID)
		}

		if reason == "" {
			reason = orig.Reason
		}
		next := &Appointment{
			ID:                       uuid.New(),
			PatientID:                orig.PatientID,
			SlotID:                   slot.ID,
			Date:                     slot.Date,
			Time:                     slot.StartTime,
			Reason:                   reason,
			Status:                   StatusRescheduled,
			IsInstitutionalReprogram: true,
			OriginalAppointmentID:    &orig.ID,
			HoldsCapacity:            decrement,
		}
		if err := tx.InsertAppointment(ctx, next); err != nil {
			return err
		}
		if decrement {
			if _, err := s.ReserveCapacity(ctx, tx, slot.ID); err != nil {
				return err
			}
		}

		closed, err := transition(ctx, tx, orig, StatusCancelledInstitutional, AppointmentUpdate{})
		if err != nil {
			return err
		}
		if release {
			if _, err := s.ReleaseCapacity(ctx, tx, orig.SlotID); err != nil {
				return err
			}
		}

		res = ReprogramResult{Original: closed, Rescheduled: next}
		return s.audit(ctx, tx, actor, EventAppointmentReprogramed, &next.ID, &slot.ID, map[string]any{
			"original_appointment_id": orig.ID,
			"original_slot_id":        orig.SlotID,
			"capacity_moved":          release,
		})
	})
	if err != nil {
		return nil, s.fail("reprogram appointment", err)
	}

	s.metrics.IncReprogram()
	s.metrics.IncTransition(string(StatusCancelledInstitutional))
	s.log.Info().
		Str("original_id", originalID.String()).
		Str("appointment_id", res.Rescheduled.ID.String()).
		Str("slot_id", newSlotID.String()).
		Msg("appointment reprogrammed")
	s.emit(ctx, notify.EventAppointmentRescheduled, res.Rescheduled.ID)
	return &res, nil
}
