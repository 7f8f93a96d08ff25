package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// queryable is satisfied by both the pool and an open transaction.
type queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const slotColumns = `id, specialty_id, date, start_time, end_time, duration_minutes,
	total_capacity, available_capacity, status, created_by, approved_by, approved_at,
	created_at, updated_at`

const appointmentColumns = `id, patient_id, slot_id, assigned_staff_id, date, time, reason,
	status, notes, is_institutional_reprogram, original_appointment_id, holds_capacity,
	created_at, updated_at`

// Helpers

func toPgTime(t TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * int64(time.Minute/time.Microsecond), Valid: true}
}

func fromPgTime(t pgtype.Time) TimeOfDay {
	return TimeOfDay(t.Microseconds / int64(time.Minute/time.Microsecond))
}

func terminalStatusNames() []string {
	out := make([]string, len(TerminalStatuses))
	for i, s := range TerminalStatuses {
		out[i] = string(s)
	}
	return out
}

func scanSlot(row pgx.Row, noRows error) (*Slot, error) {
	var s Slot
	var start, end pgtype.Time

	err := row.Scan(
		&s.ID,
		&s.SpecialtyID,
		&s.Date,
		&start,
		&end,
		&s.DurationMinutes,
		&s.TotalCapacity,
		&s.AvailableCapacity,
		&s.Status,
		&s.CreatedBy,
		&s.ApprovedBy,
		&s.ApprovedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, noRows
		}
		return nil, err
	}

	s.StartTime = fromPgTime(start)
	s.EndTime = fromPgTime(end)
	return &s, nil
}

func scanAppointment(row pgx.Row, noRows error) (*Appointment, error) {
	var a Appointment
	var at pgtype.Time

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.SlotID,
		&a.AssignedStaffID,
		&a.Date,
		&at,
		&a.Reason,
		&a.Status,
		&a.Notes,
		&a.IsInstitutionalReprogram,
		&a.OriginalAppointmentID,
		&a.HoldsCapacity,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, noRows
		}
		return nil, err
	}

	a.Time = fromPgTime(at)
	return &a, nil
}

func collectSlots(rows pgx.Rows, err error) ([]Slot, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows, ErrSlotNotFound)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func collectAppointments(rows pgx.Rows, err error) ([]Appointment, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows, ErrAppointmentNotFound)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Transactions

func (r *PgStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	// Rollback after a successful commit is a no-op.
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(ctx, &pgTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Readers

func (r *PgStore) GetSpecialty(ctx context.Context, id uuid.UUID) (*Specialty, error) {
	var sp Specialty
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, description
		FROM specialties
		WHERE id = $1
	`, id).Scan(&sp.ID, &sp.Name, &sp.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSpecialtyNotFound
		}
		return nil, err
	}
	return &sp, nil
}

func (r *PgStore) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.pool.QueryRow(ctx, `
		SELECT id, full_name, email, phone
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.FullName, &p.Email, &p.Phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgStore) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	return scanSlot(row, ErrSlotNotFound)
}

func (r *PgStore) ListAvailableSlots(ctx context.Context, f SlotFilter) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE deleted_at IS NULL
		  AND status = 'approved'
		  AND available_capacity > 0
		  AND date >= $1
		  AND ($2::uuid IS NULL OR specialty_id = $2)
		  AND ($3::date IS NULL OR date = $3)
		ORDER BY date, start_time
	`, f.From, f.SpecialtyID, f.Date)
	return collectSlots(rows, err)
}

func (r *PgStore) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row, ErrAppointmentNotFound)
}

func (r *PgStore) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY date DESC, time DESC, created_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	return collectAppointments(rows, err)
}

func (r *PgStore) ListAppointmentsBySlot(ctx context.Context, slotID uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE slot_id = $1
		ORDER BY time, created_at
	`, slotID)
	return collectAppointments(rows, err)
}

func (r *PgStore) ListPenaltiesByPatient(ctx context.Context, patientID uuid.UUID) ([]PenaltyLogEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, patient_id, date, type, appointment_id, notes, created_at
		FROM penalty_log
		WHERE patient_id = $1
		ORDER BY date DESC, id DESC
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []PenaltyLogEntry
	for rows.Next() {
		var p PenaltyLogEntry
		if err := rows.Scan(&p.ID, &p.PatientID, &p.Date, &p.Type, &p.AppointmentID, &p.Notes, &p.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgStore) GetNotificationDetails(ctx context.Context, appointmentID uuid.UUID) (*NotificationDetails, error) {
	var d NotificationDetails
	var at pgtype.Time

	err := r.pool.QueryRow(ctx, `
		SELECT a.id, a.patient_id, p.full_name, COALESCE(p.email, ''), COALESCE(p.phone, ''),
		       sp.name, a.date, a.time, a.is_institutional_reprogram
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		JOIN slots s ON s.id = a.slot_id
		JOIN specialties sp ON sp.id = s.specialty_id
		WHERE a.id = $1
	`, appointmentID).Scan(
		&d.AppointmentID,
		&d.PatientID,
		&d.PatientName,
		&d.PatientEmail,
		&d.PatientPhone,
		&d.Specialty,
		&d.Date,
		&at,
		&d.Institutional,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	d.Time = fromPgTime(at)
	return &d, nil
}

// Transaction-scoped writes

type pgTx struct {
	q queryable
}

func (t *pgTx) LockSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, id)
	return scanSlot(row, ErrSlotNotFound)
}

func (t *pgTx) InsertSlot(ctx context.Context, s *Slot) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO slots (id, specialty_id, date, start_time, end_time, duration_minutes,
		                   total_capacity, available_capacity, status, created_by, approved_by,
		                   approved_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		RETURNING created_at, updated_at
	`,
		s.ID, s.SpecialtyID, s.Date, toPgTime(s.StartTime), toPgTime(s.EndTime), s.DurationMinutes,
		s.TotalCapacity, s.AvailableCapacity, s.Status, s.CreatedBy, s.ApprovedBy, s.ApprovedAt,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert slot: %w", err)
	}
	return nil
}

func (t *pgTx) HasOverlappingSlot(ctx context.Context, specialtyID uuid.UUID, date time.Time, start, end TimeOfDay) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM slots
			WHERE deleted_at IS NULL
			  AND specialty_id = $1
			  AND date = $2
			  AND start_time < $4
			  AND end_time > $3
		)
	`, specialtyID, date, toPgTime(start), toPgTime(end)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check slot overlap: %w", err)
	}
	return exists, nil
}

func (t *pgTx) UpdateSlotStatus(ctx context.Context, id uuid.UUID, from, to SlotStatus, approvedBy uuid.UUID, at time.Time) (*Slot, error) {
	row := t.q.QueryRow(ctx, `
		UPDATE slots
		SET status = $3,
		    approved_by = $4,
		    approved_at = $5,
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		  AND deleted_at IS NULL
		RETURNING `+slotColumns, id, from, to, approvedBy, at)
	return scanSlot(row, ErrStaleState)
}

func (t *pgTx) AdjustCapacity(ctx context.Context, id uuid.UUID, delta int) (*Slot, error) {
	row := t.q.QueryRow(ctx, `
		UPDATE slots
		SET available_capacity = available_capacity + $2,
		    updated_at = now()
		WHERE id = $1
		  AND deleted_at IS NULL
		  AND available_capacity + $2 BETWEEN 0 AND total_capacity
		RETURNING `+slotColumns, id, delta)
	return scanSlot(row, ErrStaleState)
}

func (t *pgTx) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE slots
		SET deleted_at = now(),
		    updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (t *pgTx) CountActiveAppointmentsForSlot(ctx context.Context, slotID uuid.UUID) (int, error) {
	var n int
	err := t.q.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE slot_id = $1
		  AND status <> ALL($2)
	`, slotID, terminalStatusNames()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count slot appointments: %w", err)
	}
	return n, nil
}

func (t *pgTx) AdvisoryLock(ctx context.Context, key string) error {
	if _, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("advisory lock %q: %w", key, err)
	}
	return nil
}

func (t *pgTx) CountActiveAppointmentsInRange(ctx context.Context, patientID uuid.UUID, from, to time.Time) (int, error) {
	var n int
	err := t.q.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE patient_id = $1
		  AND date BETWEEN $2 AND $3
		  AND status <> ALL($4)
	`, patientID, from, to, terminalStatusNames()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count patient appointments: %w", err)
	}
	return n, nil
}

// GetAppointment locks the appointment row for the rest of the transaction.
func (t *pgTx) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row, ErrAppointmentNotFound)
}

func (t *pgTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, slot_id, assigned_staff_id, date, time, reason,
		                          status, notes, is_institutional_reprogram,
		                          original_appointment_id, holds_capacity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		RETURNING created_at, updated_at
	`,
		a.ID, a.PatientID, a.SlotID, a.AssignedStaffID, a.Date, toPgTime(a.Time), a.Reason,
		a.Status, a.Notes, a.IsInstitutionalReprogram, a.OriginalAppointmentID, a.HoldsCapacity,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateAppointment(ctx context.Context, id uuid.UUID, from AppointmentStatus, upd AppointmentUpdate) (*Appointment, error) {
	row := t.q.QueryRow(ctx, `
		UPDATE appointments
		SET status = COALESCE(NULLIF($3::text, ''), status),
		    assigned_staff_id = COALESCE($4, assigned_staff_id),
		    notes = COALESCE($5, notes),
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+appointmentColumns, id, from, string(upd.Status), upd.AssignedStaffID, upd.Notes)
	return scanAppointment(row, ErrStaleState)
}

func (t *pgTx) InsertPenalty(ctx context.Context, p *PenaltyLogEntry) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO penalty_log (patient_id, date, type, appointment_id, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING id, created_at
	`, p.PatientID, p.Date, p.Type, p.AppointmentID, p.Notes).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert penalty: %w", err)
	}
	return nil
}

func (t *pgTx) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, slot_id, actor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
	`, ev.EventType, ev.AppointmentID, ev.SlotID, ev.ActorID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
