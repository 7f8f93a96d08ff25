package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. A transaction works on a private copy
// of the whole state under one coarse lock and swaps it in on success, so a
// failed transaction leaves nothing behind.
type MemoryStore struct {
	mu     sync.Mutex
	state  *memState
	now    func() time.Time
	faults map[string]error
}

type memState struct {
	specialties  map[uuid.UUID]Specialty
	patients     map[uuid.UUID]Patient
	slots        map[uuid.UUID]Slot
	deletedSlots map[uuid.UUID]time.Time
	appointments map[uuid.UUID]Appointment
	penalties    []PenaltyLogEntry
	events       []EventLog
	nextID       int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memState{
			specialties:  make(map[uuid.UUID]Specialty),
			patients:     make(map[uuid.UUID]Patient),
			slots:        make(map[uuid.UUID]Slot),
			deletedSlots: make(map[uuid.UUID]time.Time),
			appointments: make(map[uuid.UUID]Appointment),
		},
		now:    time.Now,
		faults: make(map[string]error),
	}
}

func (st *memState) clone() *memState {
	c := &memState{
		specialties:  make(map[uuid.UUID]Specialty, len(st.specialties)),
		patients:     make(map[uuid.UUID]Patient, len(st.patients)),
		slots:        make(map[uuid.UUID]Slot, len(st.slots)),
		deletedSlots: make(map[uuid.UUID]time.Time, len(st.deletedSlots)),
		appointments: make(map[uuid.UUID]Appointment, len(st.appointments)),
		penalties:    append([]PenaltyLogEntry(nil), st.penalties...),
		events:       append([]EventLog(nil), st.events...),
		nextID:       st.nextID,
	}
	for k, v := range st.specialties {
		c.specialties[k] = v
	}
	for k, v := range st.patients {
		c.patients[k] = v
	}
	for k, v := range st.slots {
		c.slots[k] = v
	}
	for k, v := range st.deletedSlots {
		c.deletedSlots[k] = v
	}
	for k, v := range st.appointments {
		c.appointments[k] = v
	}
	return c
}

// Seeding helpers for reference data owned by other collaborators.

func (m *MemoryStore) AddSpecialty(sp Specialty) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.specialties[sp.ID] = sp
}

func (m *MemoryStore) AddPatient(p Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.patients[p.ID] = p
}

// FailOn makes the named Tx method return err until cleared with a nil err.
func (m *MemoryStore) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, method)
		return
	}
	m.faults[method] = err
}

// Events returns the audit trail in insertion order.
func (m *MemoryStore) Events() []EventLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EventLog(nil), m.state.events...)
}

func (m *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(ctx, &memTx{st: work, now: m.now, faults: m.faults}); err != nil {
		return err
	}
	m.state = work
	return nil
}

// Readers

func (m *MemoryStore) GetSpecialty(_ context.Context, id uuid.UUID) (*Specialty, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sp, ok := m.state.specialties[id]
	if !ok {
		return nil, ErrSpecialtyNotFound
	}
	return &sp, nil
}

func (m *MemoryStore) GetPatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (m *MemoryStore) GetSlot(_ context.Context, id uuid.UUID) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.liveSlot(id)
}

func (m *MemoryStore) ListAvailableSlots(_ context.Context, f SlotFilter) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Slot
	for id, s := range m.state.slots {
		if _, gone := m.state.deletedSlots[id]; gone {
			continue
		}
		if s.Status != SlotApproved || s.AvailableCapacity <= 0 || s.Date.Before(f.From) {
			continue
		}
		if f.SpecialtyID != nil && s.SpecialtyID != *f.SpecialtyID {
			continue
		}
		if f.Date != nil && !s.Date.Equal(*f.Date) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

func (m *MemoryStore) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.state.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *MemoryStore) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []Appointment
	for _, a := range m.state.appointments {
		if a.PatientID == patientID {
			all = append(all, a)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].Date.Equal(all[j].Date) {
			return all[i].Date.After(all[j].Date)
		}
		if all[i].Time != all[j].Time {
			return all[i].Time > all[j].Time
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *MemoryStore) ListAppointmentsBySlot(_ context.Context, slotID uuid.UUID) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Appointment
	for _, a := range m.state.appointments {
		if a.SlotID == slotID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) ListPenaltiesByPatient(_ context.Context, patientID uuid.UUID) ([]PenaltyLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []PenaltyLogEntry
	for i := len(m.state.penalties) - 1; i >= 0; i-- {
		if p := m.state.penalties[i]; p.PatientID == patientID {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

func (m *MemoryStore) GetNotificationDetails(_ context.Context, appointmentID uuid.UUID) (*NotificationDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.state.appointments[appointmentID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	p, ok := m.state.patients[a.PatientID]
	if !ok {
		return nil, ErrPatientNotFound
	}
	s, ok := m.state.slots[a.SlotID]
	if !ok {
		return nil, ErrSlotNotFound
	}
	sp, ok := m.state.specialties[s.SpecialtyID]
	if !ok {
		return nil, ErrSpecialtyNotFound
	}

	d := &NotificationDetails{
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		PatientName:   p.FullName,
		Specialty:     sp.Name,
		Date:          a.Date,
		Time:          a.Time,
		Institutional: a.IsInstitutionalReprogram,
	}
	if p.Email != nil {
		d.PatientEmail = *p.Email
	}
	if p.Phone != nil {
		d.PatientPhone = *p.Phone
	}
	return d, nil
}

func (st *memState) liveSlot(id uuid.UUID) (*Slot, error) {
	if _, gone := st.deletedSlots[id]; gone {
		return nil, ErrSlotNotFound
	}
	s, ok := st.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

// memTx mutates a private copy of the state.
type memTx struct {
	st     *memState
	now    func() time.Time
	faults map[string]error
}

func (t *memTx) fault(method string) error {
	return t.faults[method]
}

func (t *memTx) LockSlot(_ context.Context, id uuid.UUID) (*Slot, error) {
	if err := t.fault("LockSlot"); err != nil {
		return nil, err
	}
	return t.st.liveSlot(id)
}

func (t *memTx) InsertSlot(_ context.Context, s *Slot) error {
	if err := t.fault("InsertSlot"); err != nil {
		return err
	}
	now := t.now()
	s.CreatedAt, s.UpdatedAt = now, now
	t.st.slots[s.ID] = *s
	return nil
}

func (t *memTx) HasOverlappingSlot(_ context.Context, specialtyID uuid.UUID, date time.Time, start, end TimeOfDay) (bool, error) {
	for id, s := range t.st.slots {
		if _, gone := t.st.deletedSlots[id]; gone {
			continue
		}
		if s.SpecialtyID == specialtyID && s.Date.Equal(date) && s.StartTime < end && s.EndTime > start {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) UpdateSlotStatus(_ context.Context, id uuid.UUID, from, to SlotStatus, approvedBy uuid.UUID, at time.Time) (*Slot, error) {
	s, err := t.st.liveSlot(id)
	if err != nil || s.Status != from {
		return nil, ErrStaleState
	}
	s.Status = to
	s.ApprovedBy = &approvedBy
	s.ApprovedAt = &at
	s.UpdatedAt = t.now()
	t.st.slots[id] = *s
	return s, nil
}

func (t *memTx) AdjustCapacity(_ context.Context, id uuid.UUID, delta int) (*Slot, error) {
	if err := t.fault("AdjustCapacity"); err != nil {
		return nil, err
	}
	s, err := t.st.liveSlot(id)
	if err != nil {
		return nil, ErrStaleState
	}
	next := s.AvailableCapacity + delta
	if next < 0 || next > s.TotalCapacity {
		return nil, ErrStaleState
	}
	s.AvailableCapacity = next
	s.UpdatedAt = t.now()
	t.st.slots[id] = *s
	return s, nil
}

func (t *memTx) DeleteSlot(_ context.Context, id uuid.UUID) error {
	if _, err := t.st.liveSlot(id); err != nil {
		return err
	}
	t.st.deletedSlots[id] = t.now()
	return nil
}

func (t *memTx) CountActiveAppointmentsForSlot(_ context.Context, slotID uuid.UUID) (int, error) {
	n := 0
	for _, a := range t.st.appointments {
		if a.SlotID == slotID && !a.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

// AdvisoryLock is a no-op: every memory transaction is already exclusive.
func (t *memTx) AdvisoryLock(context.Context, string) error {
	return nil
}

func (t *memTx) CountActiveAppointmentsInRange(_ context.Context, patientID uuid.UUID, from, to time.Time) (int, error) {
	n := 0
	for _, a := range t.st.appointments {
		if a.PatientID != patientID || a.Status.Terminal() {
			continue
		}
		if a.Date.Before(from) || a.Date.After(to) {
			continue
		}
		n++
	}
	return n, nil
}

func (t *memTx) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := t.st.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (t *memTx) InsertAppointment(_ context.Context, a *Appointment) error {
	if err := t.fault("InsertAppointment"); err != nil {
		return err
	}
	now := t.now()
	a.CreatedAt, a.UpdatedAt = now, now
	t.st.appointments[a.ID] = *a
	return nil
}

func (t *memTx) UpdateAppointment(_ context.Context, id uuid.UUID, from AppointmentStatus, upd AppointmentUpdate) (*Appointment, error) {
	if err := t.fault("UpdateAppointment"); err != nil {
		return nil, err
	}
	a, ok := t.st.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrStaleState
	}
	if upd.Status != "" {
		a.Status = upd.Status
	}
	if upd.AssignedStaffID != nil {
		staff := *upd.AssignedStaffID
		a.AssignedStaffID = &staff
	}
	if upd.Notes != nil {
		a.Notes = *upd.Notes
	}
	a.UpdatedAt = t.now()
	t.st.appointments[id] = a
	return &a, nil
}

func (t *memTx) InsertPenalty(_ context.Context, p *PenaltyLogEntry) error {
	if err := t.fault("InsertPenalty"); err != nil {
		return err
	}
	t.st.nextID++
	p.ID = t.st.nextID
	p.CreatedAt = t.now()
	t.st.penalties = append(t.st.penalties, *p)
	return nil
}

func (t *memTx) InsertEvent(_ context.Context, ev EventLog) error {
	if err := t.fault("InsertEvent"); err != nil {
		return err
	}
	t.st.nextID++
	ev.ID = t.st.nextID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = t.now()
	}
	t.st.events = append(t.st.events, ev)
	return nil
}
