package invoice

import "errors"

// ErrNotFound is returned when an invoice id or number matches no record.
var ErrNotFound = errors.New("invoice not found")

// ValidationError rejects bad input before any mutation happens.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return "validation failed: " + e.Field + ": " + e.Msg
	}
	return "validation failed: " + e.Msg
}

// ConflictError signals an attempted illegal transition, such as replacing
// an already-recorded document location with a different one.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Msg
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
