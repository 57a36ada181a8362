package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/edvin/mailcore/internal/archive"
	"github.com/edvin/mailcore/internal/db"
	"github.com/edvin/mailcore/internal/mailerr"
	"github.com/edvin/mailcore/internal/metrics"
	"github.com/edvin/mailcore/internal/model"
	"github.com/edvin/mailcore/internal/platform"
)

const placementColumns = `mail_id, user_id, org_id, folder_id, is_read, read_at, restore_hint, restore_folder_id, purged_at, created_at, updated_at`

// AssignmentService maintains the per-participant placement rows that make a
// mail visible in exactly one folder per participant, and moves mail between
// folders.
type AssignmentService struct {
	db         DB
	timeouts   db.Timeouts
	logger     zerolog.Logger
	orgs       *OrganizationService
	mailboxes  *MailboxService
	folders    *FolderService
	recipients *RecipientService
	archiver   archive.Archiver
}

func NewAssignmentService(pool DB, timeouts db.Timeouts, logger zerolog.Logger, orgs *OrganizationService,
	mailboxes *MailboxService, folders *FolderService, recipients *RecipientService, archiver archive.Archiver) *AssignmentService {
	return &AssignmentService{
		db:         pool,
		timeouts:   timeouts,
		logger:     logger.With().Str("component", "assignment").Logger(),
		orgs:       orgs,
		mailboxes:  mailboxes,
		folders:    folders,
		recipients: recipients,
		archiver:   archiver,
	}
}

// AssignSent makes a sent mail visible to its sender in Sent and to every
// local recipient in Inbox. Rows that already exist are left alone, so a
// second run writes nothing and reports Created 0.
func (s *AssignmentService) AssignSent(ctx context.Context, orgID, mailID string) (*model.AssignResult, error) {
	e := mailerr.Error{Op: "assign sent", OrgID: orgID, MailID: mailID}
	if err := requireIDs(e, orgID, mailID); err != nil {
		return nil, err
	}

	var result *model.AssignResult
	err := db.InTx(ctx, s.db, s.timeouts, func(tx pgx.Tx) error {
		var err error
		result, err = s.assignSent(ctx, tx, orgID, mailID)
		return err
	})
	if err != nil {
		return nil, classify(err, e)
	}

	metrics.RecordAssignment(result)
	s.logUnresolved(orgID, mailID, result)
	return result, nil
}

func (s *AssignmentService) assignSent(ctx context.Context, tx pgx.Tx, orgID, mailID string) (*model.AssignResult, error) {
	var senderID, status string
	err := tx.QueryRow(ctx,
		`SELECT sender_user_id, status FROM mails WHERE id = $1 AND org_id = $2 FOR SHARE`, mailID, orgID,
	).Scan(&senderID, &status)
	if err != nil {
		return nil, fmt.Errorf("get mail %s: %w", mailID, err)
	}
	if status != model.MailStatusSent {
		return nil, fail(mailerr.Error{}, mailerr.ErrInvalidTransition, "mail is %s; only sent mail is assigned", status)
	}

	result := &model.AssignResult{Unresolved: []string{}}

	// The sender's placement from the draft stage is replaced by the Sent one.
	// A draft that was discarded to Trash counts as a draft. Purged placements
	// stay, so the inserts below leave those participants alone.
	_, err = tx.Exec(ctx,
		`DELETE FROM mail_in_folder mif USING mail_folders f
		 WHERE mif.mail_id = $1 AND mif.user_id = $2 AND f.id = mif.folder_id AND mif.purged_at IS NULL
		   AND (f.type = 'DRAFT' OR (f.type = 'TRASH' AND mif.restore_hint = 'DRAFT'))`,
		mailID, senderID)
	if err != nil {
		return nil, fmt.Errorf("remove draft placement of mail %s: %w", mailID, err)
	}

	sent, err := s.folders.ensureSystemFolder(ctx, tx, orgID, senderID, model.FolderSent)
	if err != nil {
		return nil, err
	}
	created, err := insertPlacement(ctx, tx, orgID, mailID, senderID, sent.ID, true)
	if err != nil {
		return nil, err
	}
	result.Count(created)

	emails, err := s.recipients.addresses(ctx, tx, orgID, mailID)
	if err != nil {
		return nil, err
	}
	for _, email := range emails {
		user, err := s.mailboxes.resolve(ctx, tx, orgID, email)
		if err != nil {
			return nil, err
		}
		if user == nil {
			result.Unresolved = append(result.Unresolved, email)
			continue
		}
		if user.ID == senderID {
			// Sending to yourself: the Sent placement already covers it.
			result.Skipped++
			continue
		}

		inbox, err := s.folders.ensureSystemFolder(ctx, tx, orgID, user.ID, model.FolderInbox)
		if err != nil {
			return nil, err
		}
		created, err := insertPlacement(ctx, tx, orgID, mailID, user.ID, inbox.ID, false)
		if err != nil {
			return nil, err
		}
		result.Count(created)
	}

	return result, nil
}

func insertPlacement(ctx context.Context, q Querier, orgID, mailID, userID, folderID string, read bool) (bool, error) {
	tag, err := q.Exec(ctx,
		`INSERT INTO mail_in_folder (mail_id, user_id, org_id, folder_id, is_read, read_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, CASE WHEN $5 THEN now() END, now(), now())
		 ON CONFLICT (mail_id, user_id) DO NOTHING`,
		mailID, userID, orgID, folderID, read)
	if err != nil {
		return false, fmt.Errorf("insert placement of mail %s for user %s: %w", mailID, userID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *AssignmentService) logUnresolved(orgID, mailID string, r *model.AssignResult) {
	if len(r.Unresolved) == 0 {
		return
	}
	s.logger.Warn().
		Str("org_id", orgID).
		Str("mail_id", mailID).
		Strs("unresolved", r.Unresolved).
		Msg("recipients without a local mailbox")
}

// placementState is a participant's locked placement row together with the
// facts about its folder and mail that the moves need.
type placementState struct {
	FolderID        string
	FolderType      string
	IsRead          bool
	RestoreHint     *string
	RestoreFolderID *string
	SenderID        string
	MailStatus      string
}

// lockPlacement locks the single placement row of (mail, user) FOR UPDATE, so
// concurrent moves and read toggles on it apply one after the other. A purged
// placement is not visible.
func lockPlacement(ctx context.Context, tx pgx.Tx, orgID, mailID, userID string) (*placementState, error) {
	var p placementState
	err := tx.QueryRow(ctx,
		`SELECT mif.folder_id, f.type, mif.is_read, mif.restore_hint, mif.restore_folder_id, m.sender_user_id, m.status
		 FROM mail_in_folder mif
		 JOIN mail_folders f ON f.id = mif.folder_id
		 JOIN mails m ON m.id = mif.mail_id
		 WHERE mif.mail_id = $1 AND mif.user_id = $2 AND mif.org_id = $3 AND mif.purged_at IS NULL
		 FOR UPDATE OF mif`, mailID, userID, orgID,
	).Scan(&p.FolderID, &p.FolderType, &p.IsRead, &p.RestoreHint, &p.RestoreFolderID, &p.SenderID, &p.MailStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fail(mailerr.Error{}, mailerr.ErrNotFound, "mail is not visible to this mailbox")
	}
	if err != nil {
		return nil, fmt.Errorf("lock placement of mail %s for user %s: %w", mailID, userID, err)
	}
	return &p, nil
}

// withPlacement runs fn in a transaction holding the (mail, user) placement
// lock.
func (s *AssignmentService) withPlacement(ctx context.Context, op, orgID, mailID, userID string, fn func(tx pgx.Tx, p *placementState) error) error {
	e := mailerr.Error{Op: op, OrgID: orgID, UserID: userID, MailID: mailID}
	if err := requireIDs(e, orgID, mailID, userID); err != nil {
		return err
	}

	err := db.InTx(ctx, s.db, s.timeouts, func(tx pgx.Tx) error {
		p, err := lockPlacement(ctx, tx, orgID, mailID, userID)
		if err != nil {
			return err
		}
		return fn(tx, p)
	})
	return classify(err, e)
}

// MoveToTrash moves the user's copy of a mail to their Trash and remembers
// where it came from. Mail already in Trash stays put.
func (s *AssignmentService) MoveToTrash(ctx context.Context, orgID, mailID, userID string) error {
	return s.withPlacement(ctx, "move to trash", orgID, mailID, userID, func(tx pgx.Tx, p *placementState) error {
		return s.trash(ctx, tx, orgID, mailID, userID, p)
	})
}

func (s *AssignmentService) trash(ctx context.Context, tx pgx.Tx, orgID, mailID, userID string, p *placementState) error {
	if p.FolderType == model.FolderTrash {
		return nil
	}

	trash, err := s.folders.ensureSystemFolder(ctx, tx, orgID, userID, model.FolderTrash)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE mail_in_folder SET folder_id = $3, restore_hint = $4, restore_folder_id = $5, updated_at = now()
		 WHERE mail_id = $1 AND user_id = $2`,
		mailID, userID, trash.ID, p.FolderType, p.FolderID)
	if err != nil {
		return fmt.Errorf("move mail %s to trash: %w", mailID, err)
	}
	return nil
}

// Restore moves a trashed mail back to the folder it was trashed from. When
// that folder has since been deleted the mail goes to the system folder of
// the same type, or for a custom folder to Sent for the sender and Inbox for
// everyone else. Mail that is not in Trash stays put.
func (s *AssignmentService) Restore(ctx context.Context, orgID, mailID, userID string) error {
	return s.withPlacement(ctx, "restore", orgID, mailID, userID, func(tx pgx.Tx, p *placementState) error {
		if p.FolderType != model.FolderTrash {
			return nil
		}

		target, err := s.restoreTarget(ctx, tx, orgID, userID, p)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE mail_in_folder SET folder_id = $3, restore_hint = NULL, restore_folder_id = NULL, updated_at = now()
			 WHERE mail_id = $1 AND user_id = $2`,
			mailID, userID, target)
		if err != nil {
			return fmt.Errorf("restore mail %s: %w", mailID, err)
		}
		return nil
	})
}

func (s *AssignmentService) restoreTarget(ctx context.Context, tx pgx.Tx, orgID, userID string, p *placementState) (string, error) {
	if p.RestoreFolderID != nil {
		return *p.RestoreFolderID, nil
	}

	folderType := model.FolderInbox
	switch {
	case p.RestoreHint != nil && model.IsSystemFolderType(*p.RestoreHint):
		folderType = *p.RestoreHint
	case userID == p.SenderID && p.MailStatus == model.MailStatusSent:
		folderType = model.FolderSent
	case userID == p.SenderID:
		folderType = model.FolderDraft
	}

	f, err := s.folders.ensureSystemFolder(ctx, tx, orgID, userID, folderType)
	if err != nil {
		return "", err
	}
	return f.ID, nil
}

// MarkRead marks the user's copy of a mail as read. Marking an already read
// mail writes nothing.
func (s *AssignmentService) MarkRead(ctx context.Context, orgID, mailID, userID string) error {
	return s.setRead(ctx, "mark read", orgID, mailID, userID, true)
}

// MarkUnread clears the read state of the user's copy of a mail.
func (s *AssignmentService) MarkUnread(ctx context.Context, orgID, mailID, userID string) error {
	return s.setRead(ctx, "mark unread", orgID, mailID, userID, false)
}

func (s *AssignmentService) setRead(ctx context.Context, op, orgID, mailID, userID string, read bool) error {
	return s.withPlacement(ctx, op, orgID, mailID, userID, func(tx pgx.Tx, p *placementState) error {
		if p.IsRead == read {
			return nil
		}
		_, err := tx.Exec(ctx,
			`UPDATE mail_in_folder SET is_read = $3, read_at = CASE WHEN $3 THEN now() END, updated_at = now()
			 WHERE mail_id = $1 AND user_id = $2`,
			mailID, userID, read)
		if err != nil {
			return fmt.Errorf("set read state of mail %s: %w", mailID, err)
		}
		return nil
	})
}

// MoveToFolder files the user's copy of a mail into one of their folders.
// Moving into Trash behaves like MoveToTrash. Drafts can only live in Drafts
// or Trash, and only drafts may be moved into Drafts.
func (s *AssignmentService) MoveToFolder(ctx context.Context, orgID, mailID, userID, folderID string) error {
	e := mailerr.Error{Op: "move to folder", OrgID: orgID, UserID: userID, MailID: mailID, FolderID: folderID}
	if err := requireIDs(e, orgID, mailID, userID, folderID); err != nil {
		return err
	}

	err := db.InTx(ctx, s.db, s.timeouts, func(tx pgx.Tx) error {
		var folderOrg, owner, folderType string
		err := tx.QueryRow(ctx,
			`SELECT org_id, owner_user_id, type FROM mail_folders WHERE id = $1`, folderID,
		).Scan(&folderOrg, &owner, &folderType)
		if err != nil {
			return fmt.Errorf("get folder %s: %w", folderID, err)
		}
		if folderOrg != orgID {
			return fail(mailerr.Error{}, mailerr.ErrCrossTenantFolder, "folder belongs to organization %s", folderOrg)
		}
		if owner != userID {
			return fail(mailerr.Error{}, mailerr.ErrNotFound, "folder does not belong to this mailbox")
		}

		p, err := lockPlacement(ctx, tx, orgID, mailID, userID)
		if err != nil {
			return err
		}
		if folderType == model.FolderTrash {
			return s.trash(ctx, tx, orgID, mailID, userID, p)
		}
		if p.FolderID == folderID {
			return nil
		}
		if (p.MailStatus == model.MailStatusDraft) != (folderType == model.FolderDraft) {
			return fail(mailerr.Error{}, mailerr.ErrInvalidTransition, "a %s mail cannot be filed into a %s folder", p.MailStatus, folderType)
		}

		_, err = tx.Exec(ctx,
			`UPDATE mail_in_folder SET folder_id = $3, restore_hint = NULL, restore_folder_id = NULL, updated_at = now()
			 WHERE mail_id = $1 AND user_id = $2`,
			mailID, userID, folderID)
		if err != nil {
			return fmt.Errorf("move mail %s: %w", mailID, err)
		}
		return nil
	})
	return classify(err, e)
}

// maxArchiveAttempts bounds how often a mail that keeps changing while it is
// archived is archived again before the delete gives up.
const maxArchiveAttempts = 3

// PermanentDelete removes a mail with all its placements and recipients in
// one transaction and releases its storage. With an archiver configured the
// mail is archived first, outside the transaction; a failed archive aborts
// the delete.
func (s *AssignmentService) PermanentDelete(ctx context.Context, orgID, mailID string) error {
	e := mailerr.Error{Op: "permanent delete", OrgID: orgID, MailID: mailID}
	if err := requireIDs(e, orgID, mailID); err != nil {
		return err
	}

	var err error
	if s.archiver != nil {
		err = s.archiveAndDelete(ctx, orgID, mailID, false)
	} else {
		err = db.InTx(ctx, s.db, s.timeouts, func(tx pgx.Tx) error {
			m, err := lockMail(ctx, tx, orgID, mailID)
			if err != nil {
				return err
			}
			return s.deleteMail(ctx, tx, m)
		})
	}
	if err != nil {
		return classify(err, e)
	}

	s.logger.Info().Str("org_id", orgID).Str("mail_id", mailID).Msg("mail permanently deleted")
	return nil
}

// archiveAndDelete archives a snapshot of the mail without holding any lock,
// then deletes the mail only if it still matches that snapshot. A mail that
// changed in between is archived again. With orphanOnly set, a mail that has
// regained a live placement is kept.
func (s *AssignmentService) archiveAndDelete(ctx context.Context, orgID, mailID string, orphanOnly bool) error {
	for attempt := 1; ; attempt++ {
		m, err := scanMail(s.db.QueryRow(ctx,
			`SELECT `+mailColumns+` FROM mails WHERE id = $1 AND org_id = $2`, mailID, orgID))
		if err != nil {
			return fmt.Errorf("get mail %s: %w", mailID, err)
		}
		snap, err := snapshotMail(ctx, s.db, m)
		if err != nil {
			return err
		}
		if orphanOnly && hasLivePlacement(snap) {
			return nil
		}
		if err := s.archiver.Archive(ctx, snap); err != nil {
			return fmt.Errorf("archive mail %s: %w", mailID, err)
		}

		deleted := false
		err = db.InTx(ctx, s.db, s.timeouts, func(tx pgx.Tx) error {
			locked, err := lockMail(ctx, tx, orgID, mailID)
			if err != nil {
				return err
			}
			current, err := snapshotMail(ctx, tx, locked)
			if err != nil {
				return err
			}
			if !sameVersion(snap, current) {
				return nil
			}
			deleted = true
			return s.deleteMail(ctx, tx, locked)
		})
		if err != nil {
			return err
		}
		if deleted {
			return nil
		}
		if attempt == maxArchiveAttempts {
			return fail(mailerr.Error{}, mailerr.ErrBusy, "mail %s kept changing while it was archived", mailID)
		}
		s.logger.Debug().Str("org_id", orgID).Str("mail_id", mailID).Int("attempt", attempt).
			Msg("mail changed while archived, archiving again")
	}
}

// sameVersion reports whether two snapshots of one mail describe the same
// rows.
func sameVersion(a, b *archive.Snapshot) bool {
	if !a.Mail.UpdatedAt.Equal(b.Mail.UpdatedAt) || len(a.Recipients) != len(b.Recipients) || len(a.Placements) != len(b.Placements) {
		return false
	}
	for i, p := range a.Placements {
		q := b.Placements[i]
		if p.UserID != q.UserID || !p.UpdatedAt.Equal(q.UpdatedAt) || !sameTime(p.PurgedAt, q.PurgedAt) {
			return false
		}
	}
	return true
}

func hasLivePlacement(snap *archive.Snapshot) bool {
	for _, p := range snap.Placements {
		if p.PurgedAt == nil {
			return true
		}
	}
	return false
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// deleteMail removes a locked mail's rows and releases its storage.
func (s *AssignmentService) deleteMail(ctx context.Context, tx pgx.Tx, m *model.Mail) error {
	if _, err := tx.Exec(ctx, `DELETE FROM mail_in_folder WHERE mail_id = $1 AND org_id = $2`, m.ID, m.OrgID); err != nil {
		return fmt.Errorf("delete placements of mail %s: %w", m.ID, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM mail_recipients WHERE mail_id = $1 AND org_id = $2`, m.ID, m.OrgID); err != nil {
		return fmt.Errorf("delete recipients of mail %s: %w", m.ID, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM mails WHERE id = $1 AND org_id = $2`, m.ID, m.OrgID); err != nil {
		return fmt.Errorf("delete mail %s: %w", m.ID, err)
	}
	return s.orgs.chargeStorage(ctx, tx, m.OrgID, -m.SizeBytes)
}

func snapshotMail(ctx context.Context, q Querier, m *model.Mail) (*archive.Snapshot, error) {
	snap := &archive.Snapshot{Mail: *m, DeletedAt: time.Now().UTC()}

	rows, err := q.Query(ctx,
		`SELECT mail_id, org_id, email, type, created_at FROM mail_recipients WHERE mail_id = $1 AND org_id = $2 ORDER BY email, type`,
		m.ID, m.OrgID)
	if err != nil {
		return nil, fmt.Errorf("list recipients of mail %s: %w", m.ID, err)
	}
	for rows.Next() {
		var r model.MailRecipient
		if err := rows.Scan(&r.MailID, &r.OrgID, &r.Email, &r.Type, &r.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		snap.Recipients = append(snap.Recipients, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipients: %w", err)
	}

	rows, err = q.Query(ctx,
		`SELECT `+placementColumns+` FROM mail_in_folder WHERE mail_id = $1 AND org_id = $2 ORDER BY user_id`,
		m.ID, m.OrgID)
	if err != nil {
		return nil, fmt.Errorf("list placements of mail %s: %w", m.ID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var p model.Placement
		if err := rows.Scan(&p.MailID, &p.UserID, &p.OrgID, &p.FolderID, &p.IsRead, &p.ReadAt,
			&p.RestoreHint, &p.RestoreFolderID, &p.PurgedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan placement: %w", err)
		}
		snap.Placements = append(snap.Placements, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate placements: %w", err)
	}
	return snap, nil
}

// EmptyTrash purges everything in the user's Trash. Purged placements stay
// behind as tombstones, hidden from every read, so that reassignment cannot
// put the mail back. Mails that are then visible to nobody are permanently
// deleted: in the same transaction, or with an archiver configured, one by
// one after it commits. A mail whose archive fails stays until the next
// EmptyTrash. It returns the number of placements purged.
func (s *AssignmentService) EmptyTrash(ctx context.Context, orgID, userID string) (int, error) {
	e := mailerr.Error{Op: "empty trash", OrgID: orgID, UserID: userID}
	if err := requireIDs(e, orgID, userID); err != nil {
		return 0, err
	}

	var removed int
	var orphans []*model.Mail
	err := db.InTx(ctx, s.db, s.timeouts, func(tx pgx.Tx) error {
		removed, orphans = 0, nil
		if err := s.folders.requireMailbox(ctx, tx, orgID, userID); err != nil {
			return err
		}
		trash, err := s.folders.ensureSystemFolder(ctx, tx, orgID, userID, model.FolderTrash)
		if err != nil {
			return err
		}

		// Mails are locked before their placements, in id order.
		mailIDs, err := collectIDs(tx.Query(ctx,
			`SELECT m.id FROM mails m
			 JOIN mail_in_folder mif ON mif.mail_id = m.id
			 WHERE mif.folder_id = $1 AND mif.user_id = $2 AND mif.purged_at IS NULL
			 ORDER BY m.id
			 FOR UPDATE OF m`, trash.ID, userID))
		if err != nil {
			return fmt.Errorf("lock trashed mail: %w", err)
		}
		if len(mailIDs) > 0 {
			tag, err := tx.Exec(ctx,
				`UPDATE mail_in_folder SET purged_at = now(), restore_hint = NULL, restore_folder_id = NULL, updated_at = now()
				 WHERE mail_id = ANY($1::uuid[]) AND user_id = $2 AND folder_id = $3 AND purged_at IS NULL`,
				mailIDs, userID, trash.ID)
			if err != nil {
				return fmt.Errorf("purge trashed placements: %w", err)
			}
			removed = int(tag.RowsAffected())
		}

		orphans, err = s.orphansOf(ctx, tx, orgID, userID)
		if err != nil {
			return err
		}
		if s.archiver != nil {
			return nil
		}
		for _, m := range orphans {
			if err := s.deleteMail(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, classify(err, e)
	}

	purged := len(orphans)
	if s.archiver != nil {
		purged = 0
		for _, m := range orphans {
			if err := s.archiveAndDelete(ctx, orgID, m.ID, true); err != nil {
				s.logger.Error().Err(err).Str("org_id", orgID).Str("mail_id", m.ID).
					Msg("purged mail not deleted, kept for the next empty trash")
				continue
			}
			purged++
		}
	}

	s.logger.Info().Str("org_id", orgID).Str("user_id", userID).
		Int("removed", removed).Int("purged", purged).Msg("trash emptied")
	return removed, nil
}

// orphansOf locks the mails the user has purged that no participant can see
// any more. Mails left over by an earlier EmptyTrash are included.
func (s *AssignmentService) orphansOf(ctx context.Context, tx pgx.Tx, orgID, userID string) ([]*model.Mail, error) {
	rows, err := tx.Query(ctx,
		`SELECT `+mailColumns+` FROM mails m
		 WHERE m.org_id = $2
		   AND EXISTS (SELECT 1 FROM mail_in_folder t WHERE t.mail_id = m.id AND t.user_id = $1 AND t.purged_at IS NOT NULL)
		   AND NOT EXISTS (SELECT 1 FROM mail_in_folder l WHERE l.mail_id = m.id AND l.purged_at IS NULL)
		 ORDER BY m.id
		 FOR UPDATE`, userID, orgID)
	if err != nil {
		return nil, fmt.Errorf("find orphaned mail: %w", err)
	}
	defer rows.Close()

	var orphans []*model.Mail
	for rows.Next() {
		m, err := scanMail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mail: %w", err)
		}
		orphans = append(orphans, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orphaned mail: %w", err)
	}
	return orphans, nil
}

func collectIDs(rows pgx.Rows, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// BackfillChunk re-runs assignment over at most limit sent mails of the
// organization whose id sorts after afterMailID, in one bounded transaction.
// Feeding NextCursor back in resumes where the previous chunk stopped; chunks
// that are repeated write nothing.
func (s *AssignmentService) BackfillChunk(ctx context.Context, orgID, afterMailID string, limit int) (*model.BackfillChunkResult, error) {
	e := mailerr.Error{Op: "backfill chunk", OrgID: orgID}
	if err := requireIDs(e, orgID); err != nil {
		return nil, err
	}
	if afterMailID != "" && !platform.ValidID(afterMailID) {
		return nil, fail(e, mailerr.ErrValidation, "invalid cursor %q", afterMailID)
	}
	if limit <= 0 {
		return nil, fail(e, mailerr.ErrValidation, "chunk size must be positive")
	}

	var result *model.BackfillChunkResult
	total := &model.AssignResult{}
	err := db.InTx(ctx, s.db, s.timeouts, func(tx pgx.Tx) error {
		result = &model.BackfillChunkResult{NextCursor: afterMailID}
		total = &model.AssignResult{}

		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM organizations WHERE id = $1)`, orgID).Scan(&exists); err != nil {
			return fmt.Errorf("check organization %s: %w", orgID, err)
		}
		if !exists {
			return fail(mailerr.Error{}, mailerr.ErrNotFound, "organization does not exist")
		}

		query := `SELECT id FROM mails WHERE org_id = $1 AND status = 'SENT'`
		args := []any{orgID}
		argIdx := 2
		if afterMailID != "" {
			query += fmt.Sprintf(` AND id > $%d`, argIdx)
			args = append(args, afterMailID)
			argIdx++
		}
		query += ` ORDER BY id`
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, limit)

		mailIDs, err := collectIDs(tx.Query(ctx, query, args...))
		if err != nil {
			return fmt.Errorf("list sent mail: %w", err)
		}

		for _, mailID := range mailIDs {
			r, err := s.assignSent(ctx, tx, orgID, mailID)
			if err != nil {
				return err
			}
			total.Created += r.Created
			total.Skipped += r.Skipped
			total.Unresolved = append(total.Unresolved, r.Unresolved...)
			result.NextCursor = mailID
		}

		result.Processed = len(mailIDs)
		result.Done = len(mailIDs) < limit
		return nil
	})
	if err != nil {
		return nil, classify(err, e)
	}

	result.Created = total.Created
	result.Skipped = total.Skipped
	result.Unresolved = len(total.Unresolved)

	metrics.RecordBackfillChunk()
	metrics.RecordAssignment(total)
	s.logger.Info().
		Str("org_id", orgID).
		Int("processed", result.Processed).
		Int("created", result.Created).
		Str("cursor", result.NextCursor).
		Bool("done", result.Done).
		Msg("backfill chunk committed")
	return result, nil
}
