package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edvin/mailcore/internal/db"
	"github.com/edvin/mailcore/internal/mailerr"
	"github.com/edvin/mailcore/internal/metrics"
	"github.com/edvin/mailcore/internal/platform"
)

// Querier is implemented by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is the database handle the services are built on. *pgxpool.Pool
// satisfies it.
type DB interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// classify turns err into a *mailerr.Error carrying the op and ids in e.
// Errors that are already classified keep their kind and only have blank
// fields filled in. Datastore errors are mapped onto the taxonomy where they
// have an obvious meaning; anything else keeps a nil Kind and is treated as an
// infrastructure failure. A write refused by a CHECK constraint or guard
// trigger means the row changed state under the caller and is reported as an
// invalid transition.
func classify(err error, e mailerr.Error) error {
	if err == nil {
		return nil
	}

	var merr *mailerr.Error
	if errors.As(err, &merr) {
		fillBlank(&merr.Op, e.Op)
		fillBlank(&merr.OrgID, e.OrgID)
		fillBlank(&merr.UserID, e.UserID)
		fillBlank(&merr.MailID, e.MailID)
		fillBlank(&merr.FolderID, e.FolderID)
		return err
	}

	e.Err = err
	switch {
	case db.IsRetryable(err):
		e.Kind = mailerr.ErrBusy
		metrics.RecordBusy(e.Op)
	case errors.Is(err, pgx.ErrNoRows):
		e.Kind = mailerr.ErrNotFound
	case db.IsUniqueViolation(err, ""):
		e.Kind = mailerr.ErrConflict
	case db.IsGuardViolation(err):
		e.Kind = mailerr.ErrInvalidTransition
		metrics.RecordGuardViolation(e.Op)
	}
	return &e
}

func fillBlank(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// requireIDs rejects malformed ids before they reach a query. A malformed id
// can never name an existing row, so it is reported as not found.
func requireIDs(e mailerr.Error, ids ...string) error {
	for _, id := range ids {
		if !platform.ValidID(id) {
			e.Kind = mailerr.ErrNotFound
			e.Err = fmt.Errorf("malformed id %q", id)
			return &e
		}
	}
	return nil
}

// fail builds a classified error from a template and a detail message. Inner
// helpers pass an empty template and let classify fill in the op and ids.
func fail(e mailerr.Error, kind error, format string, args ...any) error {
	e.Kind = kind
	e.Err = fmt.Errorf(format, args...)
	return &e
}
