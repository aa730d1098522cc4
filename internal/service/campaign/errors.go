package campaign

import (
	"errors"
	"fmt"
)

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid campaign state")
	ErrValidation   = errors.New("validation failed")

	ErrNoCredentials     = fmt.Errorf("%w: owner has no outbound credentials", ErrInvalidState)
	ErrNoRecipients      = fmt.Errorf("%w: campaign has no recipients", ErrInvalidState)
	ErrRecipientsPresent = fmt.Errorf("%w: recipients already attached", ErrInvalidState)
)

// ValidationError describes a caller input problem. It matches ErrValidation
// under errors.Is.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}
