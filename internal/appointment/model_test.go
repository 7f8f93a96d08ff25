package appointment

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	all := []AppointmentStatus{
		StatusPending, StatusConfirmed, StatusRescheduled,
		StatusCancelled, StatusCancelledInstitutional, StatusCompleted,
	}
	legal := map[[2]AppointmentStatus]bool{
		{StatusPending, StatusConfirmed}:                  true,
		{StatusPending, StatusCancelled}:                  true,
		{StatusPending, StatusCancelledInstitutional}:     true,
		{StatusRescheduled, StatusConfirmed}:              true,
		{StatusRescheduled, StatusCancelled}:              true,
		{StatusRescheduled, StatusCancelledInstitutional}: true,
		{StatusConfirmed, StatusCompleted}:                true,
		{StatusConfirmed, StatusCancelled}:                true,
		{StatusConfirmed, StatusCancelledInstitutional}:   true,
	}

	for _, from := range all {
		for _, to := range all {
			want := legal[[2]AppointmentStatus{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}

	for _, s := range TerminalStatuses {
		assert.True(t, s.Terminal())
		for _, to := range all {
			assert.False(t, CanTransition(s, to), "terminal %s must not move", s)
		}
	}
	assert.False(t, StatusPending.Terminal())
	assert.False(t, AppointmentStatus("expired").Valid())
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{"09:00", NewTimeOfDay(9, 0), false},
		{"17:45:00", NewTimeOfDay(17, 45), false},
		{"00:05", 5, false},
		{"24:00", NewTimeOfDay(24, 0), false},
		{"24:00:00", NewTimeOfDay(24, 0), false},
		{"24:30", 0, true},
		{"24:00:01", 0, true},
		{"9am", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "07:05", NewTimeOfDay(7, 5).String())
}

func TestDates(t *testing.T) {
	today := time.Date(2026, 10, 16, 23, 30, 0, 0, time.UTC)

	assert.Equal(t, 0, DaysBetween(today, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 2, DaysBetween(today, time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, -1, DaysBetween(today, time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, 16, DaysBetween(today, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)))

	first, last := MonthBounds(today)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), first)
	assert.Equal(t, time.Date(2026, 10, 31, 0, 0, 0, 0, time.UTC), last)

	first, last = MonthBounds(time.Date(2028, 2, 10, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 1, first.Day())
	assert.Equal(t, 29, last.Day())

	_, err := ParseDate("16/10/2026")
	assert.ErrorIs(t, err, ErrValidation)
	d, err := ParseDate("2026-10-16")
	require.NoError(t, err)
	assert.Equal(t, CivilDate(today), d)
}

func TestErrorTaxonomy(t *testing.T) {
	assert.ErrorIs(t, ErrSlotNotBookable, ErrCapacityExhausted)
	assert.ErrorIs(t, ErrTooLateToCancel, ErrStateConflict)
	assert.ErrorIs(t, ErrStaleState, ErrStateConflict)
	assert.ErrorIs(t, ErrPatientNotFound, ErrNotFound)

	assert.True(t, IsDomainError(fmt.Errorf("wrapped: %w", ErrQuotaExceeded)))
	assert.False(t, IsDomainError(errors.New("connection refused")))
}
