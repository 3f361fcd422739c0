package services

import (
	"database/sql"
	"errors"
	"fmt"
)

// Error kinds. Every error a service returns for a business rule matches
// exactly one of these under errors.Is.
var (
	ErrValidation             = errors.New("validation failed")
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInvalidStateTransition = errors.New("invalid state transition")
)

type Error struct {
	Kind error
	Op   string
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Op + ": " + e.Kind.Error()
	}
	return e.Op + ": " + e.Msg
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func validationf(op, format string, args ...any) error {
	return newError(ErrValidation, op, format, args...)
}

func conflictf(op, format string, args ...any) error {
	return newError(ErrConflict, op, format, args...)
}

func insufficientf(op, format string, args ...any) error {
	return newError(ErrInsufficientFunds, op, format, args...)
}

func invalidStatef(op, format string, args ...any) error {
	return newError(ErrInvalidStateTransition, op, format, args...)
}

// notFound maps sql.ErrNoRows to ErrNotFound and wraps anything else.
func notFound(err error, op, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return newError(ErrNotFound, op, "%s not found", what)
	}
	return fmt.Errorf("%s: load %s: %w", op, what, err)
}

// Kind reports which taxonomy kind err belongs to, or nil for infrastructure errors.
func Kind(err error) error {
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrConflict, ErrInsufficientFunds, ErrInvalidStateTransition} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
