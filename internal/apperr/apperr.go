// Package apperr defines the error taxonomy shared by services and the HTTP
// layer. Every error that reaches a client is an *Error.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Error struct {
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on status code and message so sentinel errors compare equal to
// wrapped copies of themselves.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.StatusCode == t.StatusCode && e.Message == t.Message
}

func newError(status int, format string, args ...any) *Error {
	return &Error{StatusCode: status, Message: fmt.Sprintf(format, args...)}
}

func BadRequest(format string, args ...any) *Error {
	return newError(http.StatusBadRequest, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return newError(http.StatusUnauthorized, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return newError(http.StatusForbidden, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newError(http.StatusNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return newError(http.StatusConflict, format, args...)
}

func Internal(cause error, format string, args ...any) *Error {
	e := newError(http.StatusInternalServerError, format, args...)
	e.Cause = cause
	return e
}

// WithCause returns a copy of e carrying cause.
func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.Cause = cause
	return &cp
}

const (
	pgUniqueViolation     = "23505"
	pgNotNullViolation    = "23502"
	pgCheckViolation      = "23514"
	pgForeignKeyViolation = "23503"
	pgInvalidTextRepr     = "22P02"
)

// From converts any error into an *Error. Database failures are mapped onto
// the taxonomy; anything unrecognised becomes Internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return NotFound("resource not found").WithCause(err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return Conflict("duplicate value violates %s", constraintName(pgErr)).WithCause(err)
		case pgNotNullViolation, pgCheckViolation, pgForeignKeyViolation, pgInvalidTextRepr:
			return BadRequest("invalid value: %s", pgErr.Message).WithCause(err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Internal(err, "operation timed out")
	}

	return Internal(err, "internal server error")
}

func constraintName(pgErr *pgconn.PgError) string {
	if pgErr.ConstraintName != "" {
		return pgErr.ConstraintName
	}
	return "unique constraint"
}

// StatusText is the short reason phrase written next to the status code.
func StatusText(status int) string {
	return http.StatusText(status)
}
