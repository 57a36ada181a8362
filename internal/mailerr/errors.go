// Package mailerr defines the error taxonomy shared by the mail core and its
// adapters. Every failure returned by a core operation matches exactly one of
// the Err* kinds with errors.Is.
package mailerr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrCrossTenantFolder = errors.New("folder belongs to another organization")
	ErrPartialDelivery   = errors.New("partial delivery")
	ErrBusy              = errors.New("datastore busy")
	ErrOrgSuspended      = errors.New("organization suspended")

	ErrDuplicateDomain = fmt.Errorf("domain already claimed: %w", ErrConflict)
	ErrDuplicateName   = fmt.Errorf("duplicate folder name: %w", ErrConflict)
	ErrFolderNotEmpty  = fmt.Errorf("folder not empty: %w", ErrConflict)
)

// kinds is ordered so that refinements are reported before the broader kind
// they wrap.
var kinds = []error{
	ErrValidation,
	ErrNotFound,
	ErrQuotaExceeded,
	ErrOrgSuspended,
	ErrInvalidTransition,
	ErrCrossTenantFolder,
	ErrBusy,
	ErrPartialDelivery,
	ErrDuplicateDomain,
	ErrDuplicateName,
	ErrFolderNotEmpty,
	ErrConflict,
}

// Error is a classified failure of a core operation. It carries the ids
// involved so the violated invariant can be reconstructed from logs.
type Error struct {
	Kind     error
	Op       string
	OrgID    string
	UserID   string
	MailID   string
	FolderID string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Kind != nil {
		b.WriteString(": ")
		b.WriteString(e.Kind.Error())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	var ids []string
	for _, id := range [][2]string{{"org", e.OrgID}, {"user", e.UserID}, {"mail", e.MailID}, {"folder", e.FolderID}} {
		if id[1] != "" {
			ids = append(ids, id[0]+"="+id[1])
		}
	}
	if len(ids) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(ids, " "))
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// MarshalZerologObject lets an *Error be logged with zerolog's Object/EmbedObject.
func (e *Error) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("op", e.Op)
	if e.Kind != nil {
		ev.Str("kind", e.Kind.Error())
	}
	if e.OrgID != "" {
		ev.Str("org_id", e.OrgID)
	}
	if e.UserID != "" {
		ev.Str("user_id", e.UserID)
	}
	if e.MailID != "" {
		ev.Str("mail_id", e.MailID)
	}
	if e.FolderID != "" {
		ev.Str("folder_id", e.FolderID)
	}
	if e.Err != nil {
		ev.Str("cause", e.Err.Error())
	}
}

// New returns an *Error of the given kind with a formatted detail message.
func New(kind error, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// PartialDeliveryError reports recipients of a sent mail that did not
// resolve to a local mailbox. The send itself was committed.
type PartialDeliveryError struct {
	MailID     string
	Unresolved []string
}

func (e *PartialDeliveryError) Error() string {
	return fmt.Sprintf("mail %s: %d recipient(s) not delivered locally: %s",
		e.MailID, len(e.Unresolved), strings.Join(e.Unresolved, ", "))
}

func (e *PartialDeliveryError) Is(target error) bool {
	return target == ErrPartialDelivery
}

// KindOf returns the most specific taxonomy kind err matches, or nil for
// unclassified (infrastructure) errors.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// IsRetryable reports whether the caller may retry the whole operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy)
}
