package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/edvin/mailcore/internal/db"
	"github.com/edvin/mailcore/internal/mailerr"
	"github.com/edvin/mailcore/internal/metrics"
	"github.com/edvin/mailcore/internal/model"
	"github.com/edvin/mailcore/internal/platform"
)

const mailColumns = `id, org_id, sender_user_id, subject, body, size_bytes, status, failure_reason, created_at, updated_at, sent_at`

// MaxPageSize bounds ListFolder pages.
const MaxPageSize = 200

// MailService owns the mail lifecycle: drafts are created and edited, then
// either sent or marked failed. Nothing leaves SENT or FAILED.
type MailService struct {
	db          DB
	timeouts    db.Timeouts
	logger      zerolog.Logger
	orgs        *OrganizationService
	folders     *FolderService
	recipients  *RecipientService
	assignments *AssignmentService
}

func NewMailService(pool DB, timeouts db.Timeouts, logger zerolog.Logger, orgs *OrganizationService,
	folders *FolderService, recipients *RecipientService, assignments *AssignmentService) *MailService {
	return &MailService{
		db:          pool,
		timeouts:    timeouts,
		logger:      logger.With().Str("component", "mail").Logger(),
		orgs:        orgs,
		folders:     folders,
		recipients:  recipients,
		assignments: assignments,
	}
}

func scanMail(row pgx.Row) (*model.Mail, error) {
	var m model.Mail
	err := row.Scan(&m.ID, &m.OrgID, &m.SenderUserID, &m.Subject, &m.Body, &m.SizeBytes, &m.Status,
		&m.FailureReason, &m.CreatedAt, &m.UpdatedAt, &m.SentAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// lockMail locks a mail row FOR UPDATE. Callers that also touch the
// organization row must call this first.
func lockMail(ctx context.Context, q Querier, orgID, mailID string) (*model.Mail, error) {
	m, err := scanMail(q.QueryRow(ctx,
		`SELECT `+mailColumns+` FROM mails WHERE id = $1 AND org_id = $2 FOR UPDATE`, mailID, orgID))
	if err != nil {
		return nil, fmt.Errorf("lock mail %s: %w", mailID, err)
	}
	return m, nil
}

// lockDraft locks a mail owned by senderID and checks it is still a draft. A
// mail of another sender is reported as missing.
func lockDraft(ctx context.Context, q Querier, orgID, senderID, mailID string) (*model.Mail, error) {
	m, err := lockMail(ctx, q, orgID, mailID)
	if err != nil {
		return nil, err
	}
	if m.SenderUserID != senderID {
		return nil, fail(mailerr.Error{}, mailerr.ErrNotFound, "mail does not exist")
	}
	if m.Status != model.MailStatusDraft {
		return nil, fail(mailerr.Error{}, mailerr.ErrInvalidTransition, "mail is %s, not a draft", m.Status)
	}
	return m, nil
}

func mailSize(subject, body string) int64 {
	return int64(len(subject) + len(body))
}

// CreateDraft stores a new draft and files it in the sender's Drafts folder.
// Its size is charged against the organization's storage quota.
func (s *MailService) CreateDraft(ctx context.Context, orgID, senderID, subject, body string) (*model.Mail, error) {
	e := mailerr.Error{Op: "create draft", OrgID: orgID, UserID: senderID}
	if err := requireIDs(e, orgID, senderID); err != nil {
		return nil, err
	}

	var m *model.Mail
	err := db.InTx(ctx, s.db, s.timeouts, func(tx pgx.Tx) error {
		var active bool
		err := tx.QueryRow(ctx,
			`SELECT active FROM mail_users WHERE id = $1 AND org_id = $2`, senderID, orgID,
		).Scan(&active)
		if errors.Is(err, pgx.ErrNoRows) {
			return fail(mailerr.Error{}, mailerr.ErrNotFound, "mailbox does not exist")
		}
		if err != nil {
			return fmt.Errorf("get mailbox %s: %w", senderID, err)
		}
		if !active {
			return fail(mailerr.Error{}, mailerr.ErrValidation, "mailbox is disabled")
		}

		size := mailSize(subject, body)
		if err := s.orgs.chargeStorage(ctx, tx, orgID, size); err != nil {
			return err
		}

		m, err = scanMail(tx.QueryRow(ctx,
			`INSERT INTO mails (id, org_id, sender_user_id, subject, body, size_bytes, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, 'DRAFT', now(), now())
			 RETURNING `+mailColumns,
			platform.NewID(), orgID, senderID, subject, body, size))
		if err != nil {
			return fmt.Errorf("insert mail: %w", err)
		}

		drafts, err := s.folders.ensureSystemFolder(ctx, tx, orgID, senderID, model.FolderDraft)
		if err != nil {
			return err
		}
		_, err = insertPlacement(ctx, tx, orgID, m.ID, senderID, drafts.ID, true)
		return err
	})
	if err != nil {
		return nil, classify(err, e)
	}
	return m, nil
}

// UpdateDraft replaces subject and body of a draft and adjusts the storage
// charge by the size difference.
func (s *MailService) UpdateDraft(ctx context.Context, orgID, senderID, mailID, subject, body string) (*model.Mail, error) {
	e := mailerr.Error{Op: "update draft", OrgID: orgID, UserID: senderID, MailID: mailID}
	if err := requireIDs(e, orgID, senderID, mailID); err != nil {
		return nil, err
	}

	var m *model.Mail
	err := db.InTx(ctx, s.db, s.timeouts, func(tx pgx.Tx) error {
		draft, err := lockDraft(ctx, tx, orgID, senderID, mailID)
		if err != nil {
			return err
		}

		size := mailSize(subject, body)
		if delta := size - draft.SizeBytes; delta != 0 {
			if err := s.orgs.chargeStorage(ctx, tx, orgID, delta); err != nil {
				return err
			}
		}

		m, err = scanMail(tx.QueryRow(ctx,
			`UPDATE mails SET subject = $3, body = $4, size_bytes = $5, updated_at = now()
			 WHERE id = $1 AND org_id = $2
			 RETURNING `+mailColumns,
			mailID, orgID, subject, body, size))
		if err != nil {
			return fmt.Errorf("update mail %s: %w", mailID, err)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err, e)
	}
	return m, nil
}

// SendResult is the outcome of a committed send.
type SendResult struct {
	Mail       *model.Mail         `json:"mail"`
	Assignment *model.AssignResult `json:"assignment"`
}

// Err reports recipients that have no local mailbox as a
// *mailerr.PartialDeliveryError. The send itself has been committed.
func (r *SendResult) Err() error {
	if r.Assignment == nil || len(r.Assignment.Unresolved) == 0 {
		return nil
	}
	return &mailerr.PartialDeliveryError{MailID: r.Mail.ID, Unresolved: r.Assignment.Unresolved}
}

// Send moves a draft to SENT. Recipient audit rows, the status change and the
// folder assignment for every participant commit together or not at all.
func (s *MailService) Send(ctx context.Context, orgID, senderID, mailID string, recipients []model.Recipient) (*SendResult, error) {
	e := mailerr.Error{Op: "send", OrgID: orgID, UserID: senderID, MailID: mailID}
	if err := requireIDs(e, orgID, senderID, mailID); err != nil {
		metrics.RecordSend(metrics.SendFailed)
		return nil, err
	}
	normalized, err := normalizeRecipients(recipients)
	if err != nil {
		metrics.RecordSend(metrics.SendFailed)
		return nil, fail(e, mailerr.ErrValidation, "%v", err)
	}

	result := &SendResult{}
	err = db.InTx(ctx, s.db, s.timeouts, func(tx pgx.Tx) error {
		draft, err := lockDraft(ctx, tx, orgID, senderID, mailID)
		if err != nil {
			return err
		}
		if strings.TrimSpace(draft.Subject) == "" && strings.TrimSpace(draft.Body) == "" {
			return fail(mailerr.Error{}, mailerr.ErrValidation, "mail has neither subject nor body")
		}
		if err := s.orgs.admitSend(ctx, tx, orgID, len(distinctAddresses(normalized))); err != nil {
			return err
		}
		if err := s.recipients.record(ctx, tx, orgID, mailID, normalized); err != nil {
			return err
		}

		result.Mail, err = scanMail(tx.QueryRow(ctx,
			`UPDATE mails SET status = 'SENT', sent_at = now(), updated_at = now()
			 WHERE id = $1 AND org_id = $2
			 RETURNING `+mailColumns, mailID, orgID))
		if err != nil {
			return fmt.Errorf("mark mail %s sent: %w", mailID, err)
		}

		result.Assignment, err = s.assignments.assignSent(ctx, tx, orgID, mailID)
		return err
	})
	if err != nil {
		metrics.RecordSend(metrics.SendFailed)
		err = classify(err, e)
		var merr *mailerr.Error
		if errors.As(err, &merr) && merr.Kind == nil {
			s.logger.Error().Object("error", merr).Msg("send failed")
		}
		return nil, err
	}

	metrics.RecordAssignment(result.Assignment)
	if len(result.Assignment.Unresolved) > 0 {
		metrics.RecordSend(metrics.SendPartial)
		s.assignments.logUnresolved(orgID, mailID, result.Assignment)
	} else {
		metrics.RecordSend(metrics.SendDelivered)
	}
	s.logger.Info().
		Str("org_id", orgID).
		Str("mail_id", mailID).
		Int("recipients", len(normalized)).
		Int("created", result.Assignment.Created).
		Msg("mail sent")
	return result, nil
}

// Fail marks a draft as FAILED with the given reason. The mail stays in the
// sender's Drafts folder.
func (s *MailService) Fail(ctx context.Context, orgID, senderID, mailID, reason string) (*model.Mail, error) {
	e := mailerr.Error{Op: "fail mail", OrgID: orgID, UserID: senderID, MailID: mailID}
	if err := requireIDs(e, orgID, senderID, mailID); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fail(e, mailerr.ErrValidation, "a failure reason is required")
	}

	var m *model.Mail
	err := db.InTx(ctx, s.db, s.timeouts, func(tx pgx.Tx) error {
		if _, err := lockDraft(ctx, tx, orgID, senderID, mailID); err != nil {
			return err
		}
		var err error
		m, err = scanMail(tx.QueryRow(ctx,
			`UPDATE mails SET status = 'FAILED', failure_reason = $3, updated_at = now()
			 WHERE id = $1 AND org_id = $2
			 RETURNING `+mailColumns, mailID, orgID, reason))
		if err != nil {
			return fmt.Errorf("mark mail %s failed: %w", mailID, err)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err, e)
	}

	s.logger.Warn().Str("org_id", orgID).Str("mail_id", mailID).Str("reason", reason).Msg("mail marked failed")
	return m, nil
}

// Get returns a mail as userID sees it. Mail the user has no placement for is
// reported as missing. Bcc recipients are only listed for the sender.
func (s *MailService) Get(ctx context.Context, orgID, userID, mailID string) (*model.MailView, error) {
	e := mailerr.Error{Op: "get mail", OrgID: orgID, UserID: userID, MailID: mailID}
	if err := requireIDs(e, orgID, userID, mailID); err != nil {
		return nil, err
	}

	var v model.MailView
	m := &v.Mail
	err := s.db.QueryRow(ctx,
		`SELECT m.id, m.org_id, m.sender_user_id, m.subject, m.body, m.size_bytes, m.status, m.failure_reason,
		        m.created_at, m.updated_at, m.sent_at, u.email, mif.folder_id, f.type, mif.is_read, mif.read_at
		 FROM mail_in_folder mif
		 JOIN mails m ON m.id = mif.mail_id
		 JOIN mail_folders f ON f.id = mif.folder_id
		 JOIN mail_users u ON u.id = m.sender_user_id
		 WHERE mif.mail_id = $1 AND mif.user_id = $2 AND mif.org_id = $3 AND mif.purged_at IS NULL`,
		mailID, userID, orgID,
	).Scan(&m.ID, &m.OrgID, &m.SenderUserID, &m.Subject, &m.Body, &m.SizeBytes, &m.Status, &m.FailureReason,
		&m.CreatedAt, &m.UpdatedAt, &m.SentAt, &v.SenderEmail, &v.FolderID, &v.FolderType, &v.IsRead, &v.ReadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fail(e, mailerr.ErrNotFound, "mail is not visible to this mailbox")
	}
	if err != nil {
		return nil, classify(fmt.Errorf("get mail %s: %w", mailID, err), e)
	}

	v.Recipients, err = s.recipients.visibleTo(ctx, s.db, orgID, mailID, userID == m.SenderUserID)
	if err != nil {
		return nil, classify(err, e)
	}
	return &v, nil
}

// FolderRef names a folder either by system type or by id.
type FolderRef struct {
	Type string
	ID   string
}

// ParseFolderRef reads a path segment that is either a folder id or a system
// folder type such as "inbox".
func ParseFolderRef(ref string) FolderRef {
	if platform.ValidID(ref) {
		return FolderRef{ID: ref}
	}
	return FolderRef{Type: strings.ToUpper(strings.TrimSpace(ref))}
}

func (r FolderRef) String() string {
	if r.ID != "" {
		return r.ID
	}
	return r.Type
}

// ListFolder returns one page of the folder's mail, newest first, from the
// latest committed state. Pages are numbered from 1.
func (s *MailService) ListFolder(ctx context.Context, orgID, userID string, ref FolderRef, page, pageSize int) ([]model.FolderEntry, bool, error) {
	e := mailerr.Error{Op: "list folder", OrgID: orgID, UserID: userID, FolderID: ref.ID}
	if err := requireIDs(e, orgID, userID); err != nil {
		return nil, false, err
	}
	if page < 1 || pageSize < 1 || pageSize > MaxPageSize {
		return nil, false, fail(e, mailerr.ErrValidation, "page must be at least 1 and page size between 1 and %d", MaxPageSize)
	}

	folderID, err := s.resolveFolder(ctx, orgID, userID, ref)
	if err != nil {
		return nil, false, classify(err, e)
	}
	if folderID == "" {
		return []model.FolderEntry{}, false, nil
	}

	rows, err := s.db.Query(ctx,
		`SELECT m.id, u.email, m.subject, m.status, m.size_bytes, mif.is_read, mif.read_at, m.created_at, m.sent_at
		 FROM mail_in_folder mif
		 JOIN mails m ON m.id = mif.mail_id
		 JOIN mail_users u ON u.id = m.sender_user_id
		 WHERE mif.folder_id = $1 AND mif.user_id = $2 AND mif.purged_at IS NULL
		 ORDER BY COALESCE(m.sent_at, m.created_at) DESC, m.id DESC
		 LIMIT $3 OFFSET $4`,
		folderID, userID, pageSize+1, (page-1)*pageSize)
	if err != nil {
		return nil, false, classify(fmt.Errorf("list folder %s: %w", folderID, err), e)
	}
	defer rows.Close()

	entries := []model.FolderEntry{}
	for rows.Next() {
		var f model.FolderEntry
		if err := rows.Scan(&f.MailID, &f.SenderEmail, &f.Subject, &f.Status, &f.SizeBytes,
			&f.IsRead, &f.ReadAt, &f.CreatedAt, &f.SentAt); err != nil {
			return nil, false, fmt.Errorf("scan folder entry: %w", err)
		}
		entries = append(entries, f)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate folder entries: %w", err)
	}

	hasMore := len(entries) > pageSize
	if hasMore {
		entries = entries[:pageSize]
	}
	return entries, hasMore, nil
}

// resolveFolder maps ref onto a folder id of userID without creating
// anything. A system folder that was never created yields "" for an existing
// mailbox.
func (s *MailService) resolveFolder(ctx context.Context, orgID, userID string, ref FolderRef) (string, error) {
	if ref.ID != "" {
		f, err := s.folders.folderOf(ctx, s.db, orgID, userID, ref.ID)
		if err != nil {
			return "", err
		}
		return f.ID, nil
	}

	if !model.IsSystemFolderType(ref.Type) {
		return "", fail(mailerr.Error{}, mailerr.ErrValidation, "unknown folder %q", ref.Type)
	}
	var id string
	err := s.db.QueryRow(ctx,
		`SELECT id FROM mail_folders WHERE org_id = $1 AND owner_user_id = $2 AND type = $3 AND is_system`,
		orgID, userID, ref.Type,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", s.folders.requireMailbox(ctx, s.db, orgID, userID)
	}
	if err != nil {
		return "", fmt.Errorf("get %s folder of user %s: %w", ref.Type, userID, err)
	}
	return id, nil
}
