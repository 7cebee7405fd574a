package domain

import "errors"

// Booking and lifecycle refusals. Callers branch on identity with errors.Is.
var (
	ErrInvalidSpecialty       = errors.New("doctor is not associated with the requested specialty")
	ErrOutsideWorkingHours    = errors.New("requested time is outside the doctor's working hours")
	ErrScheduleBlocked        = errors.New("doctor is unavailable during the requested time")
	ErrScheduleConflict       = errors.New("requested time conflicts with an existing appointment")
	ErrInvalidStateTransition = errors.New("invalid appointment state transition")
	ErrAccessDenied           = errors.New("access denied")
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// NewValidationError builds a ValidationError for malformed input detected outside this package.
func NewValidationError(msg string) error {
	return validationError(msg)
}
