package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestFromPassesTypedErrorsThrough(t *testing.T) {
	orig := Forbidden("insufficient role")
	wrapped := fmt.Errorf("handler: %w", orig)

	got := From(wrapped)
	assert.Same(t, orig, got)
	assert.Equal(t, http.StatusForbidden, got.StatusCode)
}

func TestFromMapsDatabaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"no rows", pgx.ErrNoRows, http.StatusNotFound},
		{"unique", &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}, http.StatusConflict},
		{"check", &pgconn.PgError{Code: "23514", Message: "battery_level"}, http.StatusBadRequest},
		{"not null", &pgconn.PgError{Code: "23502"}, http.StatusBadRequest},
		{"other pg", &pgconn.PgError{Code: "40001"}, http.StatusInternalServerError},
		{"deadline", context.DeadlineExceeded, http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := From(fmt.Errorf("wrapped: %w", tc.err))
			assert.Equal(t, tc.status, got.StatusCode)
			assert.ErrorIs(t, got, tc.err)
		})
	}
}

func TestUniqueViolationNamesConstraint(t *testing.T) {
	got := From(&pgconn.PgError{Code: "23505", ConstraintName: "devices_id_device_key"})
	assert.Contains(t, got.Message, "devices_id_device_key")
}

func TestIsComparesStatusAndMessage(t *testing.T) {
	sentinel := Unauthorized("invalid email or password")
	other := Unauthorized("invalid email or password").WithCause(errors.New("no rows"))

	assert.ErrorIs(t, other, sentinel)
	assert.NotErrorIs(t, Unauthorized("invalid or expired token"), sentinel)
	assert.Nil(t, From(nil))
}
