package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsRetryableError(t *testing.T) {
	var syntaxErr error
	if err := json.Unmarshal([]byte("{"), &struct{}{}); err != nil {
		syntaxErr = err
	}

	tests := []struct {
		name      string
		err       error
		retryable bool
		reason    string
	}{
		{"nil", nil, false, ""},
		{"json", syntaxErr, false, "json_decode_error"},
		{"no rows", pgx.ErrNoRows, false, "not_found"},
		{"serialization", &pgconn.PgError{Code: PgSerializationFailure}, true, "serialization_failure"},
		{"wrapped deadlock", fmt.Errorf("update: %w", &pgconn.PgError{Code: PgDeadlockDetected}), true, "deadlock_detected"},
		{"lock", &pgconn.PgError{Code: PgLockNotAvailable}, true, "lock_not_available"},
		{"unique", &pgconn.PgError{Code: PgUniqueViolation}, false, "duplicate_key"},
		{"other pg", &pgconn.PgError{Code: "42P01"}, false, "db_error"},
		{"canceled", context.Canceled, false, "context_canceled"},
		{"deadline", context.DeadlineExceeded, true, "timeout"},
		{"conn refused", errors.New("dial tcp: connection refused"), true, "db_connection_error"},
		{"unknown", errors.New("boom"), false, "unknown_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retryable, reason := IsRetryableError(tt.err)
			if retryable != tt.retryable || reason != tt.reason {
				t.Errorf("IsRetryableError(%v) = (%v, %q), want (%v, %q)", tt.err, retryable, reason, tt.retryable, tt.reason)
			}
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: PgUniqueViolation, ConstraintName: "users_email_key"})

	if !IsUniqueViolation(err, "users_email_key") {
		t.Error("expected match on users_email_key")
	}
	if !IsUniqueViolation(err, "") {
		t.Error("expected match with empty constraint")
	}
	if IsUniqueViolation(err, "tasks_pkey") {
		t.Error("unexpected match on other constraint")
	}
	if IsUniqueViolation(errors.New("boom"), "") {
		t.Error("plain error must not be a unique violation")
	}
}
