package appointment

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers classify with errors.Is; everything else the
// service returns wraps ErrInternal.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrStateConflict     = errors.New("state conflict")
	ErrCapacityExhausted = errors.New("slot capacity exhausted")
	ErrQuotaExceeded     = errors.New("monthly appointment quota exceeded")
	ErrAuthorization     = errors.New("not authorized")
	ErrInternal          = errors.New("internal error")
)

var (
	ErrSlotNotFound        = fmt.Errorf("slot %w", ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)
	ErrSpecialtyNotFound   = fmt.Errorf("specialty %w", ErrNotFound)
	ErrPatientNotFound     = fmt.Errorf("patient %w", ErrNotFound)

	// ErrStaleState is returned by stores when a conditional write matched no
	// row because another transaction changed it first.
	ErrStaleState = fmt.Errorf("%w: record was modified concurrently", ErrStateConflict)

	ErrSlotNotBookable = fmt.Errorf("%w: slot is not approved for booking", ErrCapacityExhausted)
	ErrSlotOverlap     = fmt.Errorf("%w: slot block overlaps an existing block", ErrStateConflict)
	ErrSlotInUse       = fmt.Errorf("%w: slot has active appointments", ErrStateConflict)
	ErrTooLateToCancel = fmt.Errorf("%w: cancellation lead time not met", ErrStateConflict)
)

var taxonomy = []error{
	ErrValidation,
	ErrNotFound,
	ErrStateConflict,
	ErrCapacityExhausted,
	ErrQuotaExceeded,
	ErrAuthorization,
	ErrInternal,
}

// IsDomainError reports whether err belongs to the typed taxonomy.
func IsDomainError(err error) bool {
	for _, t := range taxonomy {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStateConflict, fmt.Sprintf(format, args...))
}

func forbiddenf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuthorization, fmt.Sprintf(format, args...))
}
