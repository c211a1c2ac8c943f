package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"service-dispatch/internal/apperr"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// IsDuplicate reports a unique constraint violation. The only unique index
// written without ON CONFLICT is drivers.active_request_id.
func IsDuplicate(err error) bool {
	return hasCode(err, codeUniqueViolation)
}

// IsMissingParent reports a foreign key violation, e.g. a trip for a request
// that was never stored.
func IsMissingParent(err error) bool {
	return hasCode(err, codeForeignKeyViolation)
}

// IsNotFound reports a query that matched no row.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func hasCode(err error, code string) bool {
	var pgerr *pgconn.PgError
	return errors.As(err, &pgerr) && pgerr.Code == code
}

// classify attaches the apperr sentinel matching a storage error, keeping
// the driver error in the chain.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case IsDuplicate(err):
		// another driver row already holds the request
		return fmt.Errorf("%w: %w", apperr.ErrAlreadyClaimed, err)
	case IsMissingParent(err):
		return fmt.Errorf("%w: %w", apperr.ErrPreconditionFailed, err)
	case IsNotFound(err):
		return fmt.Errorf("%w: %w", apperr.ErrNotFound, err)
	default:
		return err
	}
}
