package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeRaiseException       = "P0001"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports whether err is a unique constraint violation. When
// constraint is non-empty the violated constraint name must match too.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func IsForeignKeyViolation(err error) bool {
	return pgCode(err) == codeForeignKeyViolation
}

// IsGuardViolation reports whether err was raised by a CHECK constraint or by
// one of the schema's guard triggers.
func IsGuardViolation(err error) bool {
	code := pgCode(err)
	return code == codeCheckViolation || code == codeRaiseException
}

// IsRetryable reports whether the transaction failed because it waited too
// long for a lock, ran past its statement timeout, or lost a serialization
// race. Retrying the whole operation is safe in all of these cases.
func IsRetryable(err error) bool {
	switch pgCode(err) {
	case codeLockNotAvailable, codeQueryCanceled, codeSerializationFailure, codeDeadlockDetected:
		return true
	}
	return false
}
