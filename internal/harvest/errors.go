package harvest

import (
	"errors"
	"fmt"
)

// Error kinds. Callers branch with errors.Is against these.
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrExternal          = errors.New("external service error")
	ErrCrypto            = errors.New("decryption error")
	ErrPersistence       = errors.New("persistence error")
	ErrExport            = errors.New("export error")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Error carries a kind, the failing operation and a human-readable message.
// It unwraps to both the kind and the underlying cause.
type Error struct {
	Kind    error
	Op      string
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Kind != nil {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Unwrap exposes the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	var out []error
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Validation reports a malformed request.
func Validation(field, message string) *Error {
	return &Error{Kind: ErrValidation, Field: field, Message: message}
}

// NotFound reports a missing or foreign resource.
func NotFound(resource, id string) *Error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf("%s not found with id %s", resource, id)}
}

// Conflict reports a request that collides with current state.
func Conflict(message string) *Error {
	return &Error{Kind: ErrConflict, Message: message}
}

// Unauthorized reports missing or invalid caller identity.
func Unauthorized(message string) *Error {
	return &Error{Kind: ErrUnauthorized, Message: message}
}

// External wraps a collaborator failure.
func External(op string, err error) *Error {
	return &Error{Kind: ErrExternal, Op: op, Err: err}
}

// Persistence wraps a store failure.
func Persistence(op string, err error) *Error {
	return &Error{Kind: ErrPersistence, Op: op, Err: err}
}

// Crypto wraps a decryption failure.
func Crypto(op string, err error) *Error {
	return &Error{Kind: ErrCrypto, Op: op, Err: err}
}

// Export wraps a renderer failure.
func Export(op string, err error) *Error {
	return &Error{Kind: ErrExport, Op: op, Err: err}
}

// KindOf returns the first known kind err matches, or nil.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrValidation,
		ErrNotFound,
		ErrConflict,
		ErrUnauthorized,
		ErrCrypto,
		ErrExport,
		ErrExternal,
		ErrInvalidTransition,
		ErrPersistence,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
