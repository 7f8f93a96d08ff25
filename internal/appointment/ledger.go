package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/teleconsult-booking/internal/authz"
	"github.com/hackgods/teleconsult-booking/internal/notify"
)

// transition is the only path that changes an appointment's status. The
// write is conditional on the status read under lock, so a concurrent change
// surfaces as ErrStaleState instead of being overwritten.
func transition(ctx context.Context, tx Tx, a *Appointment, to AppointmentStatus, upd AppointmentUpdate) (*Appointment, error) {
	if !CanTransition(a.Status, to) {
		return nil, conflictf("appointment %s cannot move from %s to %s", a.ID, a.Status, to)
	}
	upd.Status = to
	return tx.UpdateAppointment(ctx, a.ID, a.Status, upd)
}

// canView reports whether actor may read records belonging to patientID.
func canView(actor authz.Actor, patientID uuid.UUID, c authz.Capability) error {
	if !actor.Valid() {
		return forbiddenf("missing or invalid actor")
	}
	if actor.Can(c) || actor.ID == patientID {
		return nil
	}
	return forbiddenf("%s may not view records of patient %s", actor, patientID)
}

// Confirm accepts a pending or rescheduled appointment and assigns the staff
// member who will attend it.
func (s *Service) Confirm(ctx context.Context, actor authz.Actor, appointmentID, staffID uuid.UUID) (*Appointment, error) {
	defer s.metrics.ObserveOperation("confirm", time.Now())

	if err := authorize(actor, authz.CapConfirm); err != nil {
		return nil, err
	}
	if staffID == uuid.Nil {
		return nil, validationf("assigned staff is required to confirm")
	}

	var confirmed *Appointment
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		a, err := tx.GetAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		confirmed, err = transition(ctx, tx, a, StatusConfirmed, AppointmentUpdate{AssignedStaffID: &staffID})
		if err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, EventAppointmentConfirmed, &a.ID, &a.SlotID, map[string]any{
			"from":     a.Status,
			"staff_id": staffID,
		})
	})
	if err != nil {
		return nil, s.fail("confirm appointment", err)
	}

	s.metrics.IncTransition(string(StatusConfirmed))
	s.log.Info().
		Str("appointment_id", appointmentID.String()).
		Str("staff_id", staffID.String()).
		Msg("appointment confirmed")
	s.emit(ctx, notify.EventAppointmentConfirmed, appointmentID)
	return confirmed, nil
}

// Complete closes a confirmed appointment. Only the assigned staff member
// may do it.
func (s *Service) Complete(ctx context.Context, actor authz.Actor, appointmentID uuid.UUID, notes string) (*Appointment, error) {
	if err := authorize(actor, authz.CapComplete); err != nil {
		return nil, err
	}

	var completed *Appointment
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		a, err := tx.GetAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if a.Status != StatusConfirmed {
			return conflictf("appointment %s is %s, only confirmed appointments can be completed", a.ID, a.Status)
		}
		if a.AssignedStaffID == nil || *a.AssignedStaffID != actor.ID {
			return forbiddenf("only the assigned staff member can complete appointment %s", a.ID)
		}
		var upd AppointmentUpdate
		if notes != "" {
			upd.Notes = &notes
		}
		completed, err = transition(ctx, tx, a, StatusCompleted, upd)
		if err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, EventAppointmentCompleted, &a.ID, &a.SlotID, nil)
	})
	if err != nil {
		return nil, s.fail("complete appointment", err)
	}

	s.metrics.IncTransition(string(StatusCompleted))
	return completed, nil
}

func (s *Service) GetAppointment(ctx context.Context, actor authz.Actor, appointmentID uuid.UUID) (*Appointment, error) {
	a, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, s.fail("get appointment", err)
	}
	if err := canView(actor, a.PatientID, authz.CapViewAllAppts); err != nil {
		return nil, err
	}
	return a, nil
}

// ListAppointmentsByPatient returns a page of the patient's appointments,
// most recent first.
func (s *Service) ListAppointmentsByPatient(ctx context.Context, actor authz.Actor, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if err := canView(actor, patientID, authz.CapViewAllAppts); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := s.store.ListAppointmentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, s.fail("list appointments by patient", err)
	}
	return appointments, nil
}

func (s *Service) ListAppointmentsBySlot(ctx context.Context, actor authz.Actor, slotID uuid.UUID) ([]Appointment, error) {
	if err := authorize(actor, authz.CapViewAllAppts); err != nil {
		return nil, err
	}
	appointments, err := s.store.ListAppointmentsBySlot(ctx, slotID)
	if err != nil {
		return nil, s.fail("list appointments by slot", err)
	}
	return appointments, nil
}

func (s *Service) ListPenalties(ctx context.Context, actor authz.Actor, patientID uuid.UUID) ([]PenaltyLogEntry, error) {
	if err := canView(actor, patientID, authz.CapViewPenalties); err != nil {
		return nil, err
	}
	entries, err := s.store.ListPenaltiesByPatient(ctx, patientID)
	if err != nil {
		return nil, s.fail("list penalties", err)
	}
	return entries, nil
}
