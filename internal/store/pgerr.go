package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	UniqueViolationCode     = "23505"
	ForeignKeyViolationCode = "23503"
	CheckViolationCode      = "23514"
)

var (
	ErrConflict         = errors.New("conflict")
	ErrInvalidReference = errors.New("invalid reference")
	ErrConstraint       = errors.New("constraint violation")
)

// ConstraintError carries the violated constraint name alongside one of the
// sentinel errors above.
type ConstraintError struct {
	Kind       error
	Constraint string
	cause      error
}

func (e *ConstraintError) Error() string {
	return e.Kind.Error() + ": " + e.Constraint
}

func (e *ConstraintError) Unwrap() []error {
	return []error{e.Kind, e.cause}
}

func AsPgError(err error) (*pgconn.PgError, bool) {
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

func translate(err error) error {
	pe, ok := AsPgError(err)
	if !ok {
		return err
	}
	switch pe.Code {
	case UniqueViolationCode:
		return &ConstraintError{Kind: ErrConflict, Constraint: pe.ConstraintName, cause: err}
	case ForeignKeyViolationCode:
		return &ConstraintError{Kind: ErrInvalidReference, Constraint: pe.ConstraintName, cause: err}
	case CheckViolationCode:
		return &ConstraintError{Kind: ErrConstraint, Constraint: pe.ConstraintName, cause: err}
	default:
		return err
	}
}
