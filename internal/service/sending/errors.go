package sending

import (
	"errors"
	"fmt"
)

// ErrAuth marks a transport authentication failure.
var ErrAuth = errors.New("transport authentication failed")

// ErrorClass groups transport failures by how the dispatcher should treat them.
type ErrorClass string

const (
	// ClassRecipient is a rejection scoped to one message: bad address, mailbox full.
	ClassRecipient ErrorClass = "recipient"
	// ClassTransport is a session or network level failure: timeouts, throttling, 5xx.
	ClassTransport ErrorClass = "transport"
	// ClassAuth is an invalid or expired credential.
	ClassAuth ErrorClass = "auth"
)

// Error is a classified transport failure.
type Error struct {
	Class ErrorClass
	Code  string // provider error code, if any
	Err   error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s error (%s): %v", e.Class, e.Code, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrAuth) match auth-class errors.
func (e *Error) Is(target error) bool {
	return target == ErrAuth && e.Class == ClassAuth
}

// RecipientError wraps err as a per-recipient rejection.
func RecipientError(code string, err error) *Error {
	return &Error{Class: ClassRecipient, Code: code, Err: err}
}

// TransportError wraps err as a transport-level failure.
func TransportError(code string, err error) *Error {
	return &Error{Class: ClassTransport, Code: code, Err: err}
}

// AuthError wraps err as an authentication failure.
func AuthError(code string, err error) *Error {
	return &Error{Class: ClassAuth, Code: code, Err: err}
}

// Classify returns the class of err. Unclassified errors, including context
// deadlines, are treated as transport failures.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Class
	}
	if errors.Is(err, ErrAuth) {
		return ClassAuth
	}
	return ClassTransport
}
