package db

import (
	"errors"
	"fmt"

	"flowtrack/internal/apperr"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// mapError turns driver errors into business kinds. what describes the
// operation, e.g. "get snapshot %s".
func mapError(err error, what string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	desc := fmt.Sprintf(what, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("%s: not found", desc)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return apperr.Wrap(apperr.KindConflict, err, "%s: duplicate %s", desc, pgErr.ConstraintName)
		case foreignKeyViolation:
			return apperr.Wrap(apperr.KindConflict, err, "%s: still referenced", desc)
		}
	}
	return fmt.Errorf("failed to %s: %w", desc, err)
}

// expectRow returns NotFound when an update touched nothing.
func expectRow(tag pgconn.CommandTag, err error, what string, args ...interface{}) error {
	if err != nil {
		return mapError(err, what, args...)
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows, what, args...)
	}
	return nil
}
