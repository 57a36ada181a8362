package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/mailcore/internal/db"
	"github.com/edvin/mailcore/internal/mailerr"
	"github.com/edvin/mailcore/internal/model"
	"github.com/edvin/mailcore/internal/platform"
)

const folderColumns = `id, org_id, owner_user_id, name, type, parent_id, is_system, created_at, updated_at`

const maxFolderNameLength = 255

// FolderService owns the per-mailbox folder set: the four system folders and
// any custom folders the owner creates.
type FolderService struct {
	db       DB
	timeouts db.Timeouts
}

func NewFolderService(pool DB, timeouts db.Timeouts) *FolderService {
	return &FolderService{db: pool, timeouts: timeouts}
}

func scanFolder(row pgx.Row) (*model.MailFolder, error) {
	var f model.MailFolder
	err := row.Scan(&f.ID, &f.OrgID, &f.OwnerUserID, &f.Name, &f.Type, &f.ParentID, &f.IsSystem, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// GetOrCreateSystemFolder returns the user's folder of a system type, creating
// it if it is missing. There is never more than one per (user, type).
func (s *FolderService) GetOrCreateSystemFolder(ctx context.Context, orgID, userID, folderType string) (*model.MailFolder, error) {
	e := mailerr.Error{Op: "get system folder", OrgID: orgID, UserID: userID}
	if err := requireIDs(e, orgID, userID); err != nil {
		return nil, err
	}
	if !model.IsSystemFolderType(folderType) {
		return nil, fail(e, mailerr.ErrValidation, "%q is not a system folder type", folderType)
	}

	var f *model.MailFolder
	err := db.InTx(ctx, s.db, s.timeouts, func(tx pgx.Tx) error {
		var err error
		f, err = s.ensureSystemFolder(ctx, tx, orgID, userID, folderType)
		return err
	})
	if err != nil {
		return nil, classify(err, e)
	}
	return f, nil
}

// ensureSystemFolder looks the folder up first so that the common case writes
// nothing. The insert relies on the partial unique index over system folders,
// so concurrent callers converge on one row.
func (s *FolderService) ensureSystemFolder(ctx context.Context, q Querier, orgID, userID, folderType string) (*model.MailFolder, error) {
	const lookup = `SELECT ` + folderColumns + ` FROM mail_folders
		 WHERE org_id = $1 AND owner_user_id = $2 AND type = $3 AND is_system`

	f, err := scanFolder(q.QueryRow(ctx, lookup, orgID, userID, folderType))
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get %s folder of user %s: %w", folderType, userID, err)
	}

	_, err = q.Exec(ctx,
		`INSERT INTO mail_folders (id, org_id, owner_user_id, name, type, is_system, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, TRUE, now(), now())
		 ON CONFLICT (org_id, owner_user_id, type) WHERE is_system DO NOTHING`,
		platform.NewID(), orgID, userID, model.SystemFolderName(folderType), folderType,
	)
	if db.IsForeignKeyViolation(err) {
		return nil, fail(mailerr.Error{}, mailerr.ErrNotFound, "mailbox %s does not exist", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("insert %s folder of user %s: %w", folderType, userID, err)
	}

	f, err = scanFolder(q.QueryRow(ctx, lookup, orgID, userID, folderType))
	if err != nil {
		return nil, fmt.Errorf("get %s folder of user %s: %w", folderType, userID, err)
	}
	return f, nil
}

func normalizeFolderName(name string) (string, error) {
	n := strings.TrimSpace(name)
	if n == "" {
		return "", fmt.Errorf("folder name is required")
	}
	if utf8.RuneCountInString(n) > maxFolderNameLength {
		return "", fmt.Errorf("folder name is longer than %d characters", maxFolderNameLength)
	}
	if strings.ContainsAny(n, "/\x00") {
		return "", fmt.Errorf("folder name must not contain '/'")
	}
	return n, nil
}

// reservedFolderName reports whether name collides with a system folder's
// display name.
func reservedFolderName(name string) bool {
	for _, t := range model.SystemFolderTypes {
		if strings.EqualFold(name, model.SystemFolderName(t)) || strings.EqualFold(name, t) {
			return true
		}
	}
	return false
}

// CreateCustomFolder creates a user-managed folder, optionally nested under
// another folder of the same user. Names are unique per parent, ignoring case.
func (s *FolderService) CreateCustomFolder(ctx context.Context, orgID, userID, name string, parentID *string) (*model.MailFolder, error) {
	e := mailerr.Error{Op: "create folder", OrgID: orgID, UserID: userID}
	if err := requireIDs(e, orgID, userID); err != nil {
		return nil, err
	}
	if parentID != nil {
		if err := requireIDs(e, *parentID); err != nil {
			return nil, err
		}
	}

	n, err := normalizeFolderName(name)
	if err != nil {
		return nil, fail(e, mailerr.ErrValidation, "%v", err)
	}
	if reservedFolderName(n) {
		return nil, fail(e, mailerr.ErrDuplicateName, "%q is reserved for a system folder", n)
	}

	if err := s.requireMailbox(ctx, s.db, orgID, userID); err != nil {
		return nil, classify(err, e)
	}
	if parentID != nil {
		parent, err := s.folderOf(ctx, s.db, orgID, userID, *parentID)
		if err != nil {
			e.FolderID = *parentID
			return nil, classify(err, e)
		}
		if parent.Type == model.FolderTrash {
			return nil, fail(e, mailerr.ErrValidation, "folders cannot be created inside Trash")
		}
	}

	f, err := scanFolder(s.db.QueryRow(ctx,
		`INSERT INTO mail_folders (id, org_id, owner_user_id, name, type, parent_id, is_system, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 'CUSTOM', $5, FALSE, now(), now())
		 RETURNING `+folderColumns,
		platform.NewID(), orgID, userID, n, parentID))
	if db.IsUniqueViolation(err, "mail_folders_custom_name_key") {
		return nil, fail(e, mailerr.ErrDuplicateName, "folder %q already exists", n)
	}
	if err != nil {
		return nil, classify(fmt.Errorf("insert folder: %w", err), e)
	}
	return f, nil
}

// RenameCustomFolder changes a custom folder's name. System folders keep their
// names.
func (s *FolderService) RenameCustomFolder(ctx context.Context, orgID, userID, folderID, name string) (*model.MailFolder, error) {
	e := mailerr.Error{Op: "rename folder", OrgID: orgID, UserID: userID, FolderID: folderID}
	if err := requireIDs(e, orgID, userID, folderID); err != nil {
		return nil, err
	}

	n, err := normalizeFolderName(name)
	if err != nil {
		return nil, fail(e, mailerr.ErrValidation, "%v", err)
	}
	if reservedFolderName(n) {
		return nil, fail(e, mailerr.ErrDuplicateName, "%q is reserved for a system folder", n)
	}

	existing, err := s.folderOf(ctx, s.db, orgID, userID, folderID)
	if err != nil {
		return nil, classify(err, e)
	}
	if existing.IsSystem {
		return nil, fail(e, mailerr.ErrValidation, "system folders cannot be renamed")
	}

	f, err := scanFolder(s.db.QueryRow(ctx,
		`UPDATE mail_folders SET name = $4, updated_at = now()
		 WHERE id = $1 AND owner_user_id = $2 AND org_id = $3 AND NOT is_system
		 RETURNING `+folderColumns,
		folderID, userID, orgID, n))
	if db.IsUniqueViolation(err, "mail_folders_custom_name_key") {
		return nil, fail(e, mailerr.ErrDuplicateName, "folder %q already exists", n)
	}
	if err != nil {
		return nil, classify(fmt.Errorf("rename folder %s: %w", folderID, err), e)
	}
	return f, nil
}

// DeleteCustomFolder deletes a custom folder. A folder that still holds mail
// can only be deleted when reassignTo names another folder of the same user;
// every placement is then moved there in the same transaction. Child folders
// move up to the deleted folder's parent. It returns the number of mails
// moved.
func (s *FolderService) DeleteCustomFolder(ctx context.Context, orgID, userID, folderID string, reassignTo *string) (int, error) {
	e := mailerr.Error{Op: "delete folder", OrgID: orgID, UserID: userID, FolderID: folderID}
	if err := requireIDs(e, orgID, userID, folderID); err != nil {
		return 0, err
	}
	if reassignTo != nil {
		if err := requireIDs(e, *reassignTo); err != nil {
			return 0, err
		}
	}

	var moved int
	err := db.InTx(ctx, s.db, s.timeouts, func(tx pgx.Tx) error {
		var err error
		moved, err = s.deleteCustomFolder(ctx, tx, e, reassignTo)
		return err
	})
	if err != nil {
		return 0, classify(err, e)
	}
	return moved, nil
}

// DeleteCustomFolderToInbox deletes a custom folder, moving whatever it holds
// to the owner's Inbox.
func (s *FolderService) DeleteCustomFolderToInbox(ctx context.Context, orgID, userID, folderID string) (int, error) {
	e := mailerr.Error{Op: "delete folder", OrgID: orgID, UserID: userID, FolderID: folderID}
	if err := requireIDs(e, orgID, userID, folderID); err != nil {
		return 0, err
	}

	var moved int
	err := db.InTx(ctx, s.db, s.timeouts, func(tx pgx.Tx) error {
		inbox, err := s.ensureSystemFolder(ctx, tx, orgID, userID, model.FolderInbox)
		if err != nil {
			return err
		}
		moved, err = s.deleteCustomFolder(ctx, tx, e, &inbox.ID)
		return err
	})
	if err != nil {
		return 0, classify(err, e)
	}
	return moved, nil
}

func (s *FolderService) deleteCustomFolder(ctx context.Context, tx pgx.Tx, e mailerr.Error, reassignTo *string) (int, error) {
	// Holding the folder row FOR UPDATE blocks the foreign key checks of any
	// concurrent move into it until this transaction ends.
	folder, err := scanFolder(tx.QueryRow(ctx,
		`SELECT `+folderColumns+` FROM mail_folders
		 WHERE id = $1 AND owner_user_id = $2 AND org_id = $3
		 FOR UPDATE`, e.FolderID, e.UserID, e.OrgID))
	if err != nil {
		return 0, fmt.Errorf("lock folder %s: %w", e.FolderID, err)
	}
	if folder.IsSystem {
		return 0, fail(e, mailerr.ErrValidation, "system folders cannot be deleted")
	}

	var count int
	err = tx.QueryRow(ctx, `SELECT count(*) FROM mail_in_folder WHERE folder_id = $1`, folder.ID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count mails in folder %s: %w", folder.ID, err)
	}

	if count > 0 {
		if reassignTo == nil {
			return 0, fail(e, mailerr.ErrFolderNotEmpty, "folder still holds %d mail(s)", count)
		}
		if *reassignTo == folder.ID {
			return 0, fail(e, mailerr.ErrValidation, "cannot reassign a folder's mail to itself")
		}
		target, err := s.folderOf(ctx, tx, e.OrgID, e.UserID, *reassignTo)
		if err != nil {
			return 0, fail(e, mailerr.ErrNotFound, "reassignment folder %s does not exist", *reassignTo)
		}
		if target.Type == model.FolderTrash || target.Type == model.FolderDraft {
			return 0, fail(e, mailerr.ErrValidation, "mail cannot be reassigned to %s", model.SystemFolderName(target.Type))
		}

		tag, err := tx.Exec(ctx,
			`UPDATE mail_in_folder SET folder_id = $2, updated_at = now() WHERE folder_id = $1`,
			folder.ID, target.ID)
		if err != nil {
			return 0, fmt.Errorf("reassign mails of folder %s: %w", folder.ID, err)
		}
		count = int(tag.RowsAffected())
	}

	_, err = tx.Exec(ctx,
		`UPDATE mail_folders SET parent_id = $2, updated_at = now() WHERE parent_id = $1`,
		folder.ID, folder.ParentID)
	if db.IsUniqueViolation(err, "mail_folders_custom_name_key") {
		return 0, fail(e, mailerr.ErrDuplicateName, "a child folder's name clashes with a folder in the parent")
	}
	if err != nil {
		return 0, fmt.Errorf("reparent children of folder %s: %w", folder.ID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM mail_folders WHERE id = $1`, folder.ID); err != nil {
		return 0, fmt.Errorf("delete folder %s: %w", folder.ID, err)
	}
	return count, nil
}

// List returns the user's folders, system folders first, with total and
// unread counts.
func (s *FolderService) List(ctx context.Context, orgID, userID string) ([]model.FolderSummary, error) {
	e := mailerr.Error{Op: "list folders", OrgID: orgID, UserID: userID}
	if err := requireIDs(e, orgID, userID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx,
		`SELECT f.id, f.org_id, f.owner_user_id, f.name, f.type, f.parent_id, f.is_system, f.created_at, f.updated_at,
		        count(mif.mail_id), count(mif.mail_id) FILTER (WHERE NOT mif.is_read)
		 FROM mail_folders f
		 LEFT JOIN mail_in_folder mif ON mif.folder_id = f.id AND mif.purged_at IS NULL
		 WHERE f.org_id = $1 AND f.owner_user_id = $2
		 GROUP BY f.id
		 ORDER BY f.is_system DESC,
		          CASE f.type WHEN 'INBOX' THEN 0 WHEN 'SENT' THEN 1 WHEN 'DRAFT' THEN 2 WHEN 'TRASH' THEN 3 ELSE 4 END,
		          lower(f.name)`, orgID, userID)
	if err != nil {
		return nil, classify(fmt.Errorf("list folders of user %s: %w", userID, err), e)
	}
	defer rows.Close()

	var folders []model.FolderSummary
	for rows.Next() {
		var f model.FolderSummary
		if err := rows.Scan(&f.ID, &f.OrgID, &f.OwnerUserID, &f.Name, &f.Type, &f.ParentID, &f.IsSystem,
			&f.CreatedAt, &f.UpdatedAt, &f.Total, &f.Unread); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		folders = append(folders, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folders: %w", err)
	}

	if len(folders) == 0 {
		if err := s.requireMailbox(ctx, s.db, orgID, userID); err != nil {
			return nil, classify(err, e)
		}
	}
	return folders, nil
}

// folderOf returns a folder owned by userID. Folders of other users, or of
// other organizations, are reported as missing.
func (s *FolderService) folderOf(ctx context.Context, q Querier, orgID, userID, folderID string) (*model.MailFolder, error) {
	f, err := scanFolder(q.QueryRow(ctx,
		`SELECT `+folderColumns+` FROM mail_folders WHERE id = $1 AND owner_user_id = $2 AND org_id = $3`,
		folderID, userID, orgID))
	if err != nil {
		return nil, fmt.Errorf("get folder %s: %w", folderID, err)
	}
	return f, nil
}

func (s *FolderService) requireMailbox(ctx context.Context, q Querier, orgID, userID string) error {
	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM mail_users WHERE id = $1 AND org_id = $2)`, userID, orgID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check mailbox %s: %w", userID, err)
	}
	if !exists {
		return fail(mailerr.Error{}, mailerr.ErrNotFound, "mailbox %s does not exist", userID)
	}
	return nil
}
