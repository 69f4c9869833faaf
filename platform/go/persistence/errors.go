package persistence

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Store-level sentinels. Domain services translate these into their own
// error vocabulary before they reach a caller.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a uniqueness violation.
	ErrConflict = errors.New("record conflicts with an existing one")
	// ErrReferenced indicates a delete was blocked by dependent rows.
	ErrReferenced = errors.New("record is referenced by dependent rows")
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}
