package appointment

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/teleconsult-booking/internal/authz"
)

// slotGranularity is the smallest unit a slot duration may be expressed in.
const slotGranularity = 5

type CreateSlotBlockInput struct {
	SpecialtyID     uuid.UUID
	Date            time.Time
	Start           TimeOfDay
	End             TimeOfDay
	DurationMinutes int
}

func (in CreateSlotBlockInput) validate(today time.Time) (int, error) {
	var problems []string
	if in.SpecialtyID == uuid.Nil {
		problems = append(problems, "specialty is required")
	}
	if !CivilDate(in.Date).After(today) {
		problems = append(problems, "date must be strictly in the future")
	}
	if in.Start < 0 || in.End > endOfDay {
		problems = append(problems, "times must fall within one day")
	}
	if in.Start >= in.End {
		problems = append(problems, "start must be before end")
	}
	if in.DurationMinutes <= 0 || in.DurationMinutes%slotGranularity != 0 {
		problems = append(problems, fmt.Sprintf("duration must be a positive multiple of %d minutes", slotGranularity))
	}
	if len(problems) > 0 {
		return 0, validationf("%s", strings.Join(problems, "; "))
	}

	span := int(in.End - in.Start)
	if span%in.DurationMinutes != 0 {
		return 0, validationf("block of %d minutes is not divisible into %d-minute units", span, in.DurationMinutes)
	}
	total := span / in.DurationMinutes
	if total <= 0 {
		return 0, validationf("block yields no capacity")
	}
	return total, nil
}

// overlapKey serializes slot programming per specialty and day so two
// concurrent blocks cannot both pass the overlap check.
func overlapKey(specialtyID uuid.UUID, date time.Time) string {
	return "slots:" + specialtyID.String() + ":" + date.Format("2006-01-02")
}

// CreateSlotBlock programs a new block of capacity. Blocks created by a role
// with auto-approval are bookable immediately.
func (s *Service) CreateSlotBlock(ctx context.Context, actor authz.Actor, in CreateSlotBlockInput) (*Slot, error) {
	defer s.metrics.ObserveOperation("create_slot_block", time.Now())

	if err := authorize(actor, authz.CapProgramSlots); err != nil {
		return nil, err
	}
	total, err := in.validate(s.today())
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetSpecialty(ctx, in.SpecialtyID); err != nil {
		return nil, s.fail("create slot block", err)
	}

	date := CivilDate(in.Date)
	slot := &Slot{
		ID:                uuid.New(),
		SpecialtyID:       in.SpecialtyID,
		Date:              date,
		StartTime:         in.Start,
		EndTime:           in.End,
		DurationMinutes:   in.DurationMinutes,
		TotalCapacity:     total,
		AvailableCapacity: total,
		Status:            SlotPendingApproval,
		CreatedBy:         actor.ID,
	}
	if actor.Can(authz.CapAutoApproveSlots) {
		now := s.clock()
		slot.Status = SlotApproved
		slot.ApprovedBy = &actor.ID
		slot.ApprovedAt = &now
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.AdvisoryLock(ctx, overlapKey(slot.SpecialtyID, date)); err != nil {
			return err
		}
		overlap, err := tx.HasOverlappingSlot(ctx, slot.SpecialtyID, date, slot.StartTime, slot.EndTime)
		if err != nil {
			return err
		}
		if overlap {
			return ErrSlotOverlap
		}
		if err := tx.InsertSlot(ctx, slot); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, EventSlotCreated, nil, &slot.ID, map[string]any{
			"date":     date.Format("2006-01-02"),
			"start":    slot.StartTime.String(),
			"end":      slot.EndTime.String(),
			"capacity": total,
			"status":   slot.Status,
		})
	})
	if err != nil {
		return nil, s.fail("create slot block", err)
	}

	s.metrics.IncSlotBlock(string(slot.Status))
	s.log.Info().
		Str("slot_id", slot.ID.String()).
		Str("status", string(slot.Status)).
		Int("capacity", total).
		Msg("slot block created")
	return slot, nil
}

func (s *Service) ApproveSlotBlock(ctx context.Context, actor authz.Actor, slotID uuid.UUID) (*Slot, error) {
	if err := authorize(actor, authz.CapApproveSlots); err != nil {
		return nil, err
	}

	var approved *Slot
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		slot, err := tx.LockSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if slot.Status != SlotPendingApproval {
			return conflictf("slot %s is %s, not pending approval", slotID, slot.Status)
		}
		approved, err = tx.UpdateSlotStatus(ctx, slotID, SlotPendingApproval, SlotApproved, actor.ID, s.clock())
		if err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, EventSlotApproved, nil, &slotID, nil)
	})
	if err != nil {
		return nil, s.fail("approve slot block", err)
	}
	return approved, nil
}

// ListAvailableSlots returns approved slots from today onwards that still
// have capacity. Both filters are optional.
func (s *Service) ListAvailableSlots(ctx context.Context, specialtyID *uuid.UUID, date *time.Time) ([]Slot, error) {
	f := SlotFilter{SpecialtyID: specialtyID, From: s.today()}
	if date != nil {
		d := CivilDate(*date)
		f.Date = &d
	}
	slots, err := s.store.ListAvailableSlots(ctx, f)
	if err != nil {
		return nil, s.fail("list available slots", err)
	}
	return slots, nil
}

func (s *Service) GetSlot(ctx context.Context, slotID uuid.UUID) (*Slot, error) {
	slot, err := s.store.GetSlot(ctx, slotID)
	if err != nil {
		return nil, s.fail("get slot", err)
	}
	return slot, nil
}

// lockBookable locks the slot row and checks it can take one more booking.
func lockBookable(ctx context.Context, tx Tx, slotID uuid.UUID) (*Slot, error) {
	slot, err := tx.LockSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if slot.Status != SlotApproved {
		return nil, ErrSlotNotBookable
	}
	if slot.AvailableCapacity <= 0 {
		return nil, ErrCapacityExhausted
	}
	return slot, nil
}

// ReserveCapacity takes one unit from the slot. It must run inside the
// caller's transaction; the slot row stays locked until that commits.
func (s *Service) ReserveCapacity(ctx context.Context, tx Tx, slotID uuid.UUID) (*Slot, error) {
	if _, err := lockBookable(ctx, tx, slotID); err != nil {
		return nil, err
	}
	return tx.AdjustCapacity(ctx, slotID, -1)
}

// ReleaseCapacity gives one unit back to the slot inside the caller's
// transaction.
func (s *Service) ReleaseCapacity(ctx context.Context, tx Tx, slotID uuid.UUID) (*Slot, error) {
	slot, err := tx.LockSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if slot.AvailableCapacity >= slot.TotalCapacity {
		return nil, conflictf("slot %s is already at full capacity", slotID)
	}
	return tx.AdjustCapacity(ctx, slotID, 1)
}

// lockSlotsInOrder locks several slots in a fixed order so two transactions
// touching the same pair cannot deadlock.
func lockSlotsInOrder(ctx context.Context, tx Tx, ids ...uuid.UUID) error {
	sorted := append([]uuid.UUID(nil), ids...)
	slices.SortFunc(sorted, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	for i, id := range sorted {
		if i > 0 && id == sorted[i-1] {
			continue
		}
		if _, err := tx.LockSlot(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// DeleteSlotBlock removes a block that no live appointment references.
func (s *Service) DeleteSlotBlock(ctx context.Context, actor authz.Actor, slotID uuid.UUID) error {
	if err := authorize(actor, authz.CapDeleteSlots); err != nil {
		return err
	}

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.LockSlot(ctx, slotID); err != nil {
			return err
		}
		active, err := tx.CountActiveAppointmentsForSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if active > 0 {
			return ErrSlotInUse
		}
		if err := tx.DeleteSlot(ctx, slotID); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, EventSlotDeleted, nil, &slotID, nil)
	})
	if err != nil {
		return s.fail("delete slot block", err)
	}

	s.log.Info().Str("slot_id", slotID.String()).Msg("slot block deleted")
	return nil
}
