package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/puddle/v2"
)

var (
	// ErrConstraint reports that a write violated a store rule (unique,
	// check, foreign key or not-null) or carried a value the column cannot
	// hold (SQLSTATE class 22, e.g. string_data_right_truncation).
	ErrConstraint = errors.New("store constraint violation")
	// ErrBusy reports a transient store failure; the caller may retry.
	ErrBusy = errors.New("store temporarily unavailable")
)

// SQLSTATE codes that signal contention or an unavailable server.
var busyCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57P03": true, // cannot_connect_now
	"53300": true, // too_many_connections
}

// Classify wraps a driver error with ErrConstraint or ErrBusy when it
// matches one of those classes, keeping the driver error in the chain.
// Other errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "23"), strings.HasPrefix(pgErr.Code, "22"):
			return fmt.Errorf("%w: %w", ErrConstraint, err)
		case busyCodes[pgErr.Code]:
			return fmt.Errorf("%w: %w", ErrBusy, err)
		}
		return err
	}

	if errors.Is(err, puddle.ErrClosedPool) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrBusy, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %w", ErrBusy, err)
	}
	return err
}

// IsUniqueViolation reports whether err came from the named unique index.
// An empty constraint matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
