package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals that a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyPaid signals an attempt to settle an installment twice.
	ErrAlreadyPaid = errors.New("installment already paid")
	// ErrLoanActive signals that the member already has a loan that is not
	// yet fully repaid.
	ErrLoanActive = errors.New("member already has an active loan")
)

// ValidationError reports a malformed or missing input field. It is
// recoverable: the caller fixes the field and retries.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validationf builds a ValidationError for field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
