package appointment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/hackgods/teleconsult-booking/internal/authz"
	"github.com/hackgods/teleconsult-booking/internal/metrics"
	"github.com/hackgods/teleconsult-booking/internal/notify"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
	block  bool
}

func (p *recordingPublisher) Publish(ctx context.Context, ev notify.Event) error {
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Events() []notify.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notify.Event(nil), p.events...)
}

type ServiceSuite struct {
	suite.Suite

	ctx       context.Context
	now       time.Time
	store     *MemoryStore
	pub       *recordingPublisher
	metrics   *metrics.Metrics
	svc       *Service
	specialty Specialty

	admin     authz.Actor
	admission authz.Actor
	doctor    authz.Actor
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)
	s.store = NewMemoryStore()
	s.pub = &recordingPublisher{}
	s.metrics = metrics.New(prometheus.NewRegistry())

	s.specialty = Specialty{ID: uuid.New(), Name: "Cardiology"}
	s.store.AddSpecialty(s.specialty)

	s.admin = authz.Actor{ID: uuid.New(), Role: authz.RoleAdmin}
	s.admission = authz.Actor{ID: uuid.New(), Role: authz.RoleAdmission}
	s.doctor = authz.Actor{ID: uuid.New(), Role: authz.RoleDoctor}

	s.svc = s.newService(DefaultPolicy())
}

func (s *ServiceSuite) newService(p Policy) *Service {
	return NewService(s.store,
		WithClock(func() time.Time { return s.now }),
		WithPolicy(p),
		WithPublisher(s.pub),
		WithMetrics(s.metrics),
		WithNotifyTimeout(50*time.Millisecond),
	)
}

func (s *ServiceSuite) day(n int) time.Time {
	return CivilDate(s.now).AddDate(0, 0, n)
}

func (s *ServiceSuite) newPatient() authz.Actor {
	email := "patient@example.com"
	phone := "987 654 321"
	p := Patient{ID: uuid.New(), FullName: "Ana Torres", Email: &email, Phone: &phone}
	s.store.AddPatient(p)
	return authz.Actor{ID: p.ID, Role: authz.RolePatient}
}

// insertSlot writes a slot directly so tests can place it on any date,
// including today.
func (s *ServiceSuite) insertSlot(daysAhead, capacity int, status SlotStatus) *Slot {
	slot := &Slot{
		ID:                uuid.New(),
		SpecialtyID:       s.specialty.ID,
		Date:              s.day(daysAhead),
		StartTime:         NewTimeOfDay(9, 0),
		EndTime:           NewTimeOfDay(9, 0) + TimeOfDay(capacity*15),
		DurationMinutes:   15,
		TotalCapacity:     capacity,
		AvailableCapacity: capacity,
		Status:            status,
		CreatedBy:         s.admin.ID,
	}
	s.Require().NoError(s.store.RunInTx(s.ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertSlot(ctx, slot)
	}))
	return slot
}

func (s *ServiceSuite) book(patient authz.Actor, slotID uuid.UUID) *Appointment {
	a, err := s.svc.RequestAppointment(s.ctx, patient, RequestAppointmentInput{SlotID: slotID, Reason: "chest pain"})
	s.Require().NoError(err)
	return a
}

func (s *ServiceSuite) available(slotID uuid.UUID) int {
	slot, err := s.store.GetSlot(s.ctx, slotID)
	s.Require().NoError(err)
	return slot.AvailableCapacity
}

func (s *ServiceSuite) status(id uuid.UUID) AppointmentStatus {
	a, err := s.store.GetAppointment(s.ctx, id)
	s.Require().NoError(err)
	return a.Status
}

func (s *ServiceSuite) TearDownTest() {
	// Capacity never leaves [0, total], whatever the test did.
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	for _, slot := range s.store.state.slots {
		s.GreaterOrEqual(slot.AvailableCapacity, 0)
		s.LessOrEqual(slot.AvailableCapacity, slot.TotalCapacity)
	}
}

// SlotCatalog

func (s *ServiceSuite) TestCreateSlotBlock_ComputesCapacity() {
	slot, err := s.svc.CreateSlotBlock(s.ctx, s.admin, CreateSlotBlockInput{
		SpecialtyID:     s.specialty.ID,
		Date:            s.day(3),
		Start:           NewTimeOfDay(9, 0),
		End:             NewTimeOfDay(10, 0),
		DurationMinutes: 20,
	})
	s.Require().NoError(err)
	s.Equal(3, slot.TotalCapacity)
	s.Equal(3, slot.AvailableCapacity)
	s.Equal(SlotApproved, slot.Status)
	s.Require().NotNil(slot.ApprovedBy)
	s.Equal(s.admin.ID, *slot.ApprovedBy)
}

func (s *ServiceSuite) TestCreateSlotBlock_EndsAtMidnight() {
	end, err := ParseTimeOfDay("24:00")
	s.Require().NoError(err)

	slot, err := s.svc.CreateSlotBlock(s.ctx, s.admin, CreateSlotBlockInput{
		SpecialtyID:     s.specialty.ID,
		Date:            s.day(3),
		Start:           NewTimeOfDay(23, 0),
		End:             end,
		DurationMinutes: 15,
	})
	s.Require().NoError(err)
	s.Equal(4, slot.TotalCapacity)
	s.Equal("24:00", slot.EndTime.String())

	_, err = s.svc.CreateSlotBlock(s.ctx, s.admin, CreateSlotBlockInput{
		SpecialtyID:     s.specialty.ID,
		Date:            s.day(4),
		Start:           NewTimeOfDay(23, 0),
		End:             end + 15,
		DurationMinutes: 15,
	})
	s.ErrorIs(err, ErrValidation)
}

func (s *ServiceSuite) TestCreateSlotBlock_NonAdminNeedsApproval() {
	slot, err := s.svc.CreateSlotBlock(s.ctx, s.admission, CreateSlotBlockInput{
		SpecialtyID:     s.specialty.ID,
		Date:            s.day(3),
		Start:           NewTimeOfDay(14, 0),
		End:             NewTimeOfDay(16, 0),
		DurationMinutes: 30,
	})
	s.Require().NoError(err)
	s.Equal(SlotPendingApproval, slot.Status)
	s.Nil(slot.ApprovedBy)

	patient := s.newPatient()
	_, err = s.svc.RequestAppointment(s.ctx, patient, RequestAppointmentInput{SlotID: slot.ID})
	s.ErrorIs(err, ErrCapacityExhausted)

	_, err = s.svc.ApproveSlotBlock(s.ctx, s.admission, slot.ID)
	s.ErrorIs(err, ErrAuthorization)

	approved, err := s.svc.ApproveSlotBlock(s.ctx, s.admin, slot.ID)
	s.Require().NoError(err)
	s.Equal(SlotApproved, approved.Status)
	s.Require().NotNil(approved.ApprovedAt)

	_, err = s.svc.ApproveSlotBlock(s.ctx, s.admin, slot.ID)
	s.ErrorIs(err, ErrStateConflict)

	s.book(patient, slot.ID)
	s.Equal(3, s.available(slot.ID))
}

func (s *ServiceSuite) TestCreateSlotBlock_Validation() {
	base := CreateSlotBlockInput{
		SpecialtyID:     s.specialty.ID,
		Date:            s.day(2),
		Start:           NewTimeOfDay(9, 0),
		End:             NewTimeOfDay(10, 0),
		DurationMinutes: 20,
	}

	cases := map[string]func(in *CreateSlotBlockInput){
		"today":             func(in *CreateSlotBlockInput) { in.Date = s.day(0) },
		"past":              func(in *CreateSlotBlockInput) { in.Date = s.day(-1) },
		"start after end":   func(in *CreateSlotBlockInput) { in.Start, in.End = in.End, in.Start },
		"empty window":      func(in *CreateSlotBlockInput) { in.End = in.Start },
		"not divisible":     func(in *CreateSlotBlockInput) { in.DurationMinutes = 25 },
		"zero duration":     func(in *CreateSlotBlockInput) { in.DurationMinutes = 0 },
		"off granularity":   func(in *CreateSlotBlockInput) { in.DurationMinutes = 7 },
		"missing specialty": func(in *CreateSlotBlockInput) { in.SpecialtyID = uuid.Nil },
	}
	for name, mutate := range cases {
		s.Run(name, func() {
			in := base
			mutate(&in)
			_, err := s.svc.CreateSlotBlock(s.ctx, s.admin, in)
			s.ErrorIs(err, ErrValidation)
		})
	}

	in := base
	in.SpecialtyID = uuid.New()
	_, err := s.svc.CreateSlotBlock(s.ctx, s.admin, in)
	s.ErrorIs(err, ErrNotFound)

	_, err = s.svc.CreateSlotBlock(s.ctx, s.doctor, base)
	s.ErrorIs(err, ErrAuthorization)
}

func (s *ServiceSuite) TestCreateSlotBlock_RejectsOverlap() {
	in := CreateSlotBlockInput{
		SpecialtyID:     s.specialty.ID,
		Date:            s.day(4),
		Start:           NewTimeOfDay(9, 0),
		End:             NewTimeOfDay(10, 0),
		DurationMinutes: 20,
	}
	_, err := s.svc.CreateSlotBlock(s.ctx, s.admin, in)
	s.Require().NoError(err)

	overlapping := in
	overlapping.Start, overlapping.End = NewTimeOfDay(9, 30), NewTimeOfDay(10, 30)
	overlapping.DurationMinutes = 30
	_, err = s.svc.CreateSlotBlock(s.ctx, s.admin, overlapping)
	s.ErrorIs(err, ErrSlotOverlap)
	s.ErrorIs(err, ErrStateConflict)

	adjacent := in
	adjacent.Start, adjacent.End = NewTimeOfDay(10, 0), NewTimeOfDay(11, 0)
	_, err = s.svc.CreateSlotBlock(s.ctx, s.admin, adjacent)
	s.NoError(err)

	other := Specialty{ID: uuid.New(), Name: "Dermatology"}
	s.store.AddSpecialty(other)
	elsewhere := in
	elsewhere.SpecialtyID = other.ID
	_, err = s.svc.CreateSlotBlock(s.ctx, s.admin, elsewhere)
	s.NoError(err)
}

func (s *ServiceSuite) TestListAvailableSlots() {
	open := s.insertSlot(2, 2, SlotApproved)
	tomorrow := s.insertSlot(1, 1, SlotApproved)
	s.insertSlot(2, 2, SlotPendingApproval)
	s.insertSlot(-1, 2, SlotApproved)
	full := s.insertSlot(3, 1, SlotApproved)
	s.book(s.newPatient(), full.ID)

	slots, err := s.svc.ListAvailableSlots(s.ctx, nil, nil)
	s.Require().NoError(err)
	s.Require().Len(slots, 2)
	s.Equal(tomorrow.ID, slots[0].ID)
	s.Equal(open.ID, slots[1].ID)

	date := s.day(2)
	slots, err = s.svc.ListAvailableSlots(s.ctx, &s.specialty.ID, &date)
	s.Require().NoError(err)
	s.Require().Len(slots, 1)
	s.Equal(open.ID, slots[0].ID)

	other := uuid.New()
	slots, err = s.svc.ListAvailableSlots(s.ctx, &other, nil)
	s.Require().NoError(err)
	s.Empty(slots)
}

func (s *ServiceSuite) TestDeleteSlotBlock() {
	slot := s.insertSlot(5, 2, SlotApproved)
	patient := s.newPatient()
	a := s.book(patient, slot.ID)

	err := s.svc.DeleteSlotBlock(s.ctx, s.admission, slot.ID)
	s.ErrorIs(err, ErrAuthorization)

	err = s.svc.DeleteSlotBlock(s.ctx, s.admin, slot.ID)
	s.ErrorIs(err, ErrSlotInUse)

	_, err = s.svc.CancelAppointment(s.ctx, patient, a.ID)
	s.Require().NoError(err)

	s.Require().NoError(s.svc.DeleteSlotBlock(s.ctx, s.admin, slot.ID))

	_, err = s.svc.GetSlot(s.ctx, slot.ID)
	s.ErrorIs(err, ErrNotFound)
	s.ErrorIs(s.svc.DeleteSlotBlock(s.ctx, s.admin, slot.ID), ErrNotFound)

	// Appointments survive the block they referenced.
	got, err := s.svc.GetAppointment(s.ctx, patient, a.ID)
	s.Require().NoError(err)
	s.Equal(StatusCancelled, got.Status)
}

// BookingCoordinator

func (s *ServiceSuite) TestRequestAppointment_TwentyMinuteExample() {
	slot, err := s.svc.CreateSlotBlock(s.ctx, s.admin, CreateSlotBlockInput{
		SpecialtyID:     s.specialty.ID,
		Date:            s.day(6),
		Start:           NewTimeOfDay(9, 0),
		End:             NewTimeOfDay(10, 0),
		DurationMinutes: 20,
	})
	s.Require().NoError(err)

	for i := 0; i < 3; i++ {
		a := s.book(s.newPatient(), slot.ID)
		s.Equal(StatusPending, a.Status)
		s.Equal(slot.Date, a.Date)
		s.Equal(slot.StartTime, a.Time)
		s.True(a.HoldsCapacity)
	}
	s.Equal(0, s.available(slot.ID))

	_, err = s.svc.RequestAppointment(s.ctx, s.newPatient(), RequestAppointmentInput{SlotID: slot.ID})
	s.ErrorIs(err, ErrCapacityExhausted)
	s.Equal(0, s.available(slot.ID))

	s.Equal(3.0, testutil.ToFloat64(s.metrics.BookingRequests.WithLabelValues("booked")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.BookingRequests.WithLabelValues("capacity_exhausted")))
}

func (s *ServiceSuite) TestRequestAppointment_LastUnitRace() {
	slot := s.insertSlot(4, 1, SlotApproved)
	p1, p2 := s.newPatient(), s.newPatient()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, p := range []authz.Actor{p1, p2} {
		wg.Add(1)
		go func(i int, p authz.Actor) {
			defer wg.Done()
			_, errs[i] = s.svc.RequestAppointment(s.ctx, p, RequestAppointmentInput{SlotID: slot.ID})
		}(i, p)
	}
	wg.Wait()

	var ok, exhausted int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrCapacityExhausted):
			exhausted++
		}
	}
	s.Equal(1, ok)
	s.Equal(1, exhausted)
	s.Equal(0, s.available(slot.ID))

	booked, err := s.store.ListAppointmentsBySlot(s.ctx, slot.ID)
	s.Require().NoError(err)
	s.Len(booked, 1)
}

func (s *ServiceSuite) TestRequestAppointment_ManyContenders() {
	slot := s.insertSlot(4, 5, SlotApproved)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 20; i++ {
		p := s.newPatient()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.RequestAppointment(s.ctx, p, RequestAppointmentInput{SlotID: slot.ID})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.ErrorIs(s.T(), err, ErrCapacityExhausted)
		}()
	}
	wg.Wait()

	s.Equal(5, successes)
	s.Equal(0, s.available(slot.ID))
}

func (s *ServiceSuite) TestRequestAppointment_MonthlyQuota() {
	patient := s.newPatient()
	var booked []*Appointment
	for i := 0; i < 3; i++ {
		booked = append(booked, s.book(patient, s.insertSlot(5+i, 2, SlotApproved).ID))
	}

	fourth := s.insertSlot(9, 2, SlotApproved)
	_, err := s.svc.RequestAppointment(s.ctx, patient, RequestAppointmentInput{SlotID: fourth.ID})
	s.ErrorIs(err, ErrQuotaExceeded)
	s.Equal(2, s.available(fourth.ID))

	_, err = s.svc.CancelAppointment(s.ctx, patient, booked[0].ID)
	s.Require().NoError(err)

	s.book(patient, fourth.ID)
	s.Equal(1, s.available(fourth.ID))
}

func (s *ServiceSuite) TestRequestAppointment_QuotaIgnoresOtherMonths() {
	patient := s.newPatient()
	for i := 0; i < 3; i++ {
		// 2026-11-01 onwards
		s.book(patient, s.insertSlot(16+i, 1, SlotApproved).ID)
	}
	s.book(patient, s.insertSlot(5, 1, SlotApproved).ID)
}

func (s *ServiceSuite) TestRequestAppointment_Rejections() {
	patient := s.newPatient()
	slot := s.insertSlot(3, 1, SlotApproved)

	_, err := s.svc.RequestAppointment(s.ctx, s.admission, RequestAppointmentInput{SlotID: slot.ID})
	s.ErrorIs(err, ErrAuthorization)

	_, err = s.svc.RequestAppointment(s.ctx, patient, RequestAppointmentInput{PatientID: uuid.New(), SlotID: slot.ID})
	s.ErrorIs(err, ErrAuthorization)

	_, err = s.svc.RequestAppointment(s.ctx, patient, RequestAppointmentInput{SlotID: uuid.New()})
	s.ErrorIs(err, ErrNotFound)

	stranger := authz.Actor{ID: uuid.New(), Role: authz.RolePatient}
	_, err = s.svc.RequestAppointment(s.ctx, stranger, RequestAppointmentInput{SlotID: slot.ID})
	s.ErrorIs(err, ErrPatientNotFound)

	past := s.insertSlot(-2, 1, SlotApproved)
	_, err = s.svc.RequestAppointment(s.ctx, patient, RequestAppointmentInput{SlotID: past.ID})
	s.ErrorIs(err, ErrValidation)

	long := make([]byte, maxReasonLength+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = s.svc.RequestAppointment(s.ctx, patient, RequestAppointmentInput{SlotID: slot.ID, Reason: string(long)})
	s.ErrorIs(err, ErrValidation)

	s.Equal(1, s.available(slot.ID))
}

func (s *ServiceSuite) TestRequestAppointment_RollsBackOnFailure() {
	patient := s.newPatient()
	slot := s.insertSlot(3, 2, SlotApproved)

	s.store.FailOn("AdjustCapacity", errors.New("connection reset"))
	_, err := s.svc.RequestAppointment(s.ctx, patient, RequestAppointmentInput{SlotID: slot.ID})
	s.ErrorIs(err, ErrInternal)
	s.store.FailOn("AdjustCapacity", nil)

	s.Equal(2, s.available(slot.ID))
	booked, err := s.store.ListAppointmentsByPatient(s.ctx, patient.ID, 10, 0)
	s.Require().NoError(err)
	s.Empty(booked)
}

// AppointmentLedger

func (s *ServiceSuite) TestConfirm() {
	patient := s.newPatient()
	a := s.book(patient, s.insertSlot(5, 2, SlotApproved).ID)

	_, err := s.svc.Confirm(s.ctx, patient, a.ID, s.doctor.ID)
	s.ErrorIs(err, ErrAuthorization)

	_, err = s.svc.Confirm(s.ctx, s.admission, a.ID, uuid.Nil)
	s.ErrorIs(err, ErrValidation)

	confirmed, err := s.svc.Confirm(s.ctx, s.admission, a.ID, s.doctor.ID)
	s.Require().NoError(err)
	s.Equal(StatusConfirmed, confirmed.Status)
	s.Require().NotNil(confirmed.AssignedStaffID)
	s.Equal(s.doctor.ID, *confirmed.AssignedStaffID)

	_, err = s.svc.Confirm(s.ctx, s.admission, a.ID, s.doctor.ID)
	s.ErrorIs(err, ErrStateConflict)

	_, err = s.svc.Confirm(s.ctx, s.admission, uuid.New(), s.doctor.ID)
	s.ErrorIs(err, ErrAppointmentNotFound)

	events := s.pub.Events()
	s.Require().Len(events, 1)
	ev := events[0]
	s.Equal(notify.EventAppointmentConfirmed, ev.Type)
	s.Equal(a.ID, ev.AppointmentID)
	s.Equal("patient@example.com", ev.PatientEmail)
	s.Equal("Cardiology", ev.Specialty)
	s.Equal(s.day(5).Format("2006-01-02"), ev.Date)
	s.Equal("09:00", ev.Time)
}

func (s *ServiceSuite) TestComplete() {
	patient := s.newPatient()
	a := s.book(patient, s.insertSlot(5, 2, SlotApproved).ID)

	_, err := s.svc.Complete(s.ctx, s.doctor, a.ID, "")
	s.ErrorIs(err, ErrStateConflict)

	_, err = s.svc.Confirm(s.ctx, s.admission, a.ID, s.doctor.ID)
	s.Require().NoError(err)

	otherDoctor := authz.Actor{ID: uuid.New(), Role: authz.RoleDoctor}
	_, err = s.svc.Complete(s.ctx, otherDoctor, a.ID, "")
	s.ErrorIs(err, ErrAuthorization)

	_, err = s.svc.Complete(s.ctx, s.admission, a.ID, "")
	s.ErrorIs(err, ErrAuthorization)

	done, err := s.svc.Complete(s.ctx, s.doctor, a.ID, "follow up in 3 months")
	s.Require().NoError(err)
	s.Equal(StatusCompleted, done.Status)
	s.Equal("follow up in 3 months", done.Notes)

	_, err = s.svc.CancelAppointment(s.ctx, s.admission, a.ID)
	s.ErrorIs(err, ErrStateConflict)
}

func (s *ServiceSuite) TestViewAuthorization() {
	owner, other := s.newPatient(), s.newPatient()
	slot := s.insertSlot(5, 3, SlotApproved)
	a := s.book(owner, slot.ID)

	_, err := s.svc.GetAppointment(s.ctx, other, a.ID)
	s.ErrorIs(err, ErrAuthorization)

	got, err := s.svc.GetAppointment(s.ctx, owner, a.ID)
	s.Require().NoError(err)
	s.Equal(a.ID, got.ID)

	_, err = s.svc.GetAppointment(s.ctx, s.doctor, a.ID)
	s.NoError(err)

	_, err = s.svc.ListAppointmentsByPatient(s.ctx, other, owner.ID, 10, 0)
	s.ErrorIs(err, ErrAuthorization)

	_, err = s.svc.ListAppointmentsBySlot(s.ctx, owner, slot.ID)
	s.ErrorIs(err, ErrAuthorization)

	bySlot, err := s.svc.ListAppointmentsBySlot(s.ctx, s.admission, slot.ID)
	s.Require().NoError(err)
	s.Len(bySlot, 1)

	_, err = s.svc.ListPenalties(s.ctx, other, owner.ID)
	s.ErrorIs(err, ErrAuthorization)
	_, err = s.svc.ListPenalties(s.ctx, s.doctor, owner.ID)
	s.ErrorIs(err, ErrAuthorization)
}

func (s *ServiceSuite) TestListAppointmentsByPatient_Paging() {
	patient := s.newPatient()
	for i := 0; i < 3; i++ {
		s.book(patient, s.insertSlot(3+i, 1, SlotApproved).ID)
	}

	page, err := s.svc.ListAppointmentsByPatient(s.ctx, patient, patient.ID, 2, 0)
	s.Require().NoError(err)
	s.Require().Len(page, 2)
	s.Equal(s.day(5), page[0].Date)

	page, err = s.svc.ListAppointmentsByPatient(s.ctx, patient, patient.ID, 2, 2)
	s.Require().NoError(err)
	s.Require().Len(page, 1)
	s.Equal(s.day(3), page[0].Date)

	page, err = s.svc.ListAppointmentsByPatient(s.ctx, s.admission, patient.ID, 0, -5)
	s.Require().NoError(err)
	s.Len(page, 3)
}

// CancellationProcessor

func (s *ServiceSuite) TestCancel_PenaltyWindow() {
	cases := []struct {
		days    int
		penalty bool
	}{
		{0, true},
		{1, true},
		{2, true},
		{3, false},
		{7, false},
	}
	for _, tc := range cases {
		s.Run(fmt.Sprintf("days=%d", tc.days), func() {
			patient := s.newPatient()
			slot := s.insertSlot(tc.days, 2, SlotApproved)
			a := s.book(patient, slot.ID)

			res, err := s.svc.CancelAppointment(s.ctx, s.admission, a.ID)
			s.Require().NoError(err)
			s.Equal(tc.days, res.DaysBefore)
			s.True(res.CapacityReleased)
			s.Equal(2, s.available(slot.ID))

			penalties, err := s.svc.ListPenalties(s.ctx, s.admission, patient.ID)
			s.Require().NoError(err)
			if tc.penalty {
				s.Require().Len(penalties, 1)
				s.Equal(PenaltyLateCancellation, penalties[0].Type)
				s.Equal(a.ID, penalties[0].AppointmentID)
				s.Equal(s.day(0), penalties[0].Date)
				s.NotNil(res.Penalty)
			} else {
				s.Empty(penalties)
				s.Nil(res.Penalty)
			}
		})
	}
}

func (s *ServiceSuite) TestCancel_PatientLeadTime() {
	patient := s.newPatient()
	soon := s.insertSlot(2, 2, SlotApproved)
	a := s.book(patient, soon.ID)

	_, err := s.svc.CancelAppointment(s.ctx, patient, a.ID)
	s.ErrorIs(err, ErrTooLateToCancel)
	s.ErrorIs(err, ErrStateConflict)
	s.Equal(StatusPending, s.status(a.ID))
	s.Equal(1, s.available(soon.ID))

	res, err := s.svc.CancelAppointment(s.ctx, s.admission, a.ID)
	s.Require().NoError(err)
	s.NotNil(res.Penalty)
	s.Equal(2, s.available(soon.ID))

	later := s.insertSlot(5, 2, SlotApproved)
	b := s.book(patient, later.ID)
	s.Equal(1, s.available(later.ID))

	res, err = s.svc.CancelAppointment(s.ctx, patient, b.ID)
	s.Require().NoError(err)
	s.Nil(res.Penalty)
	s.Equal(StatusCancelled, res.Appointment.Status)
	s.Equal(2, s.available(later.ID))

	s.Equal(1.0, testutil.ToFloat64(s.metrics.PenaltiesLogged))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Cancellations.WithLabelValues("patient")))
}

func (s *ServiceSuite) TestCancel_Authorization() {
	owner, other := s.newPatient(), s.newPatient()
	a := s.book(owner, s.insertSlot(6, 1, SlotApproved).ID)

	_, err := s.svc.CancelAppointment(s.ctx, other, a.ID)
	s.ErrorIs(err, ErrAuthorization)

	_, err = s.svc.CancelAppointment(s.ctx, s.doctor, a.ID)
	s.ErrorIs(err, ErrAuthorization)

	_, err = s.svc.CancelAppointment(s.ctx, authz.Actor{}, a.ID)
	s.ErrorIs(err, ErrAuthorization)

	_, err = s.svc.CancelAppointment(s.ctx, owner, uuid.New())
	s.ErrorIs(err, ErrNotFound)

	_, err = s.svc.CancelAppointment(s.ctx, owner, a.ID)
	s.Require().NoError(err)

	_, err = s.svc.CancelAppointment(s.ctx, owner, a.ID)
	s.ErrorIs(err, ErrStateConflict)
}

func (s *ServiceSuite) TestCancel_IsAtomic() {
	patient := s.newPatient()
	slot := s.insertSlot(1, 1, SlotApproved)
	a := s.book(patient, slot.ID)

	s.store.FailOn("InsertPenalty", errors.New("disk full"))
	_, err := s.svc.CancelAppointment(s.ctx, s.admin, a.ID)
	s.ErrorIs(err, ErrInternal)
	s.store.FailOn("InsertPenalty", nil)

	s.Equal(StatusPending, s.status(a.ID))
	s.Equal(0, s.available(slot.ID))
	penalties, err := s.store.ListPenaltiesByPatient(s.ctx, patient.ID)
	s.Require().NoError(err)
	s.Empty(penalties)
}

func (s *ServiceSuite) TestCancel_ConcurrentWithConfirm() {
	patient := s.newPatient()
	a := s.book(patient, s.insertSlot(6, 1, SlotApproved).ID)

	var wg sync.WaitGroup
	var cancelErr, confirmErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, cancelErr = s.svc.CancelAppointment(s.ctx, patient, a.ID)
	}()
	go func() {
		defer wg.Done()
		_, confirmErr = s.svc.Confirm(s.ctx, s.admission, a.ID, s.doctor.ID)
	}()
	wg.Wait()

	// Both orders are legal: pending -> confirmed -> cancelled, or the
	// confirm loses to an already cancelled appointment.
	s.NoError(cancelErr)
	if confirmErr != nil {
		s.ErrorIs(confirmErr, ErrStateConflict)
	}
	s.Equal(StatusCancelled, s.status(a.ID))
}

// ReassignmentCoordinator

func (s *ServiceSuite) TestReassignStaff() {
	patient := s.newPatient()
	a := s.book(patient, s.insertSlot(5, 1, SlotApproved).ID)
	nurse := uuid.New()

	_, err := s.svc.ReassignStaff(s.ctx, s.admission, a.ID, nurse)
	s.ErrorIs(err, ErrStateConflict)

	_, err = s.svc.Confirm(s.ctx, s.admission, a.ID, s.doctor.ID)
	s.Require().NoError(err)

	_, err = s.svc.ReassignStaff(s.ctx, s.doctor, a.ID, nurse)
	s.ErrorIs(err, ErrAuthorization)

	_, err = s.svc.ReassignStaff(s.ctx, s.admission, a.ID, uuid.Nil)
	s.ErrorIs(err, ErrValidation)

	updated, err := s.svc.ReassignStaff(s.ctx, s.admission, a.ID, nurse)
	s.Require().NoError(err)
	s.Equal(StatusConfirmed, updated.Status)
	s.Equal(nurse, *updated.AssignedStaffID)
}

func (s *ServiceSuite) TestReprogram_PreservesCapacity() {
	patient := s.newPatient()
	origSlot := s.insertSlot(5, 2, SlotApproved)
	newSlot := s.insertSlot(8, 2, SlotApproved)
	orig := s.book(patient, origSlot.ID)
	_, err := s.svc.Confirm(s.ctx, s.admission, orig.ID, s.doctor.ID)
	s.Require().NoError(err)

	res, err := s.svc.ReprogramInstitutional(s.ctx, s.admission, orig.ID, newSlot.ID, "")
	s.Require().NoError(err)

	s.Equal(StatusCancelledInstitutional, res.Original.Status)
	s.Equal(StatusRescheduled, res.Rescheduled.Status)
	s.True(res.Rescheduled.IsInstitutionalReprogram)
	s.False(res.Rescheduled.HoldsCapacity)
	s.Require().NotNil(res.Rescheduled.OriginalAppointmentID)
	s.Equal(orig.ID, *res.Rescheduled.OriginalAppointmentID)
	s.Equal(newSlot.Date, res.Rescheduled.Date)
	s.Equal("chest pain", res.Rescheduled.Reason)

	s.Equal(1, s.available(origSlot.ID))
	s.Equal(2, s.available(newSlot.ID))

	all, err := s.store.ListAppointmentsByPatient(s.ctx, patient.ID, 10, 0)
	s.Require().NoError(err)
	s.Len(all, 2)

	// The rescheduled appointment behaves like a pending one.
	_, err = s.svc.Confirm(s.ctx, s.admission, res.Rescheduled.ID, s.doctor.ID)
	s.Require().NoError(err)

	s.now = s.now.AddDate(0, 0, 7)
	cres, err := s.svc.CancelAppointment(s.ctx, s.admission, res.Rescheduled.ID)
	s.Require().NoError(err)
	s.False(cres.CapacityReleased)
	s.Nil(cres.Penalty)
	s.Equal(1, s.available(origSlot.ID))
	s.Equal(2, s.available(newSlot.ID))

	events := s.pub.Events()
	s.Require().Len(events, 4)
	s.Equal(notify.EventAppointmentRescheduled, events[1].Type)
	s.True(events[1].Institutional)
}

func (s *ServiceSuite) TestReprogram_DecrementPolicy() {
	svc := s.newService(Policy{
		MonthlyQuota:                3,
		PatientCancelMinDays:        3,
		PenaltyWindowDays:           3,
		ReprogramDecrementsCapacity: true,
	})
	patient := s.newPatient()
	origSlot := s.insertSlot(5, 2, SlotApproved)
	newSlot := s.insertSlot(8, 2, SlotApproved)
	orig := s.book(patient, origSlot.ID)

	res, err := svc.ReprogramInstitutional(s.ctx, s.admission, orig.ID, newSlot.ID, "doctor unavailable")
	s.Require().NoError(err)
	s.True(res.Rescheduled.HoldsCapacity)
	s.Equal("doctor unavailable", res.Rescheduled.Reason)
	s.Equal(2, s.available(origSlot.ID))
	s.Equal(1, s.available(newSlot.ID))

	cres, err := svc.CancelAppointment(s.ctx, patient, res.Rescheduled.ID)
	s.Require().NoError(err)
	s.True(cres.CapacityReleased)
	s.Equal(2, s.available(newSlot.ID))
}

func (s *ServiceSuite) TestReprogram_Rejections() {
	patient := s.newPatient()
	origSlot := s.insertSlot(5, 2, SlotApproved)
	full := s.insertSlot(6, 1, SlotApproved)
	s.book(s.newPatient(), full.ID)
	orig := s.book(patient, origSlot.ID)

	_, err := s.svc.ReprogramInstitutional(s.ctx, s.doctor, orig.ID, full.ID, "")
	s.ErrorIs(err, ErrAuthorization)

	_, err = s.svc.ReprogramInstitutional(s.ctx, s.admission, orig.ID, full.ID, "")
	s.ErrorIs(err, ErrCapacityExhausted)

	pending := s.insertSlot(7, 2, SlotPendingApproval)
	_, err = s.svc.ReprogramInstitutional(s.ctx, s.admission, orig.ID, pending.ID, "")
	s.ErrorIs(err, ErrCapacityExhausted)

	s.Equal(StatusPending, s.status(orig.ID))

	_, err = s.svc.CancelAppointment(s.ctx, patient, orig.ID)
	s.Require().NoError(err)
	_, err = s.svc.ReprogramInstitutional(s.ctx, s.admission, orig.ID, s.insertSlot(7, 2, SlotApproved).ID, "")
	s.ErrorIs(err, ErrStateConflict)
}

func (s *ServiceSuite) TestReprogram_RollsBackBothRecords() {
	patient := s.newPatient()
	orig := s.book(patient, s.insertSlot(5, 2, SlotApproved).ID)
	newSlot := s.insertSlot(8, 2, SlotApproved)

	s.store.FailOn("UpdateAppointment", errors.New("lock timeout"))
	_, err := s.svc.ReprogramInstitutional(s.ctx, s.admission, orig.ID, newSlot.ID, "")
	s.ErrorIs(err, ErrInternal)
	s.store.FailOn("UpdateAppointment", nil)

	s.Equal(StatusPending, s.status(orig.ID))
	bySlot, err := s.store.ListAppointmentsBySlot(s.ctx, newSlot.ID)
	s.Require().NoError(err)
	s.Empty(bySlot)
}

// Notifications

func (s *ServiceSuite) TestNotificationFailureDoesNotFailCaller() {
	s.pub.err = errors.New("gateway down")
	patient := s.newPatient()
	a := s.book(patient, s.insertSlot(5, 1, SlotApproved).ID)

	_, err := s.svc.Confirm(s.ctx, s.admission, a.ID, s.doctor.ID)
	s.Require().NoError(err)
	s.Equal(StatusConfirmed, s.status(a.ID))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.NotificationFailures.WithLabelValues(string(notify.EventAppointmentConfirmed))))
}

func (s *ServiceSuite) TestNotificationIsBounded() {
	s.pub.block = true
	patient := s.newPatient()
	a := s.book(patient, s.insertSlot(5, 1, SlotApproved).ID)

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	start := time.Now()
	_, err := s.svc.CancelAppointment(ctx, s.admission, a.ID)
	// A cancelled request context is rejected before the transaction starts.
	s.Require().Error(err)

	_, err = s.svc.CancelAppointment(s.ctx, s.admission, a.ID)
	s.Require().NoError(err)
	s.Less(time.Since(start), 2*time.Second)
	s.Equal(StatusCancelled, s.status(a.ID))
}

func (s *ServiceSuite) TestAuditTrail() {
	patient := s.newPatient()
	slot := s.insertSlot(5, 1, SlotApproved)
	a := s.book(patient, slot.ID)
	_, err := s.svc.CancelAppointment(s.ctx, patient, a.ID)
	s.Require().NoError(err)

	events := s.store.Events()
	s.Require().Len(events, 2)
	s.Equal(EventAppointmentCreated, events[0].EventType)
	s.Equal(EventAppointmentCancelled, events[1].EventType)
	s.Equal(patient.ID, events[1].ActorID)
	s.JSONEq(`{"from":"pending","days_before":5,"capacity_released":true,"penalty":false}`, string(events[1].Payload))
}

func TestService_TodayUsesLocation(t *testing.T) {
	lima := time.FixedZone("PET", -5*60*60)

	// 02:00 UTC on the 17th is still the 16th in Lima.
	svc := NewService(NewMemoryStore(),
		WithClock(func() time.Time { return time.Date(2026, 10, 17, 2, 0, 0, 0, time.UTC) }),
		WithLocation(lima),
	)
	assert.Equal(t, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), svc.today())
}
