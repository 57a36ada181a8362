package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/jackc/pgx/v5"

	"github.com/edvin/mailcore/internal/db"
	"github.com/edvin/mailcore/internal/mailerr"
	"github.com/edvin/mailcore/internal/model"
	"github.com/edvin/mailcore/internal/platform"
)

const mailUserColumns = `id, org_id, email, display_name, active, created_at, updated_at`

// MailboxService resolves addresses to local mailboxes and provisions new
// ones together with their system folders.
type MailboxService struct {
	db       DB
	timeouts db.Timeouts
	folders  *FolderService
}

func NewMailboxService(pool DB, timeouts db.Timeouts, folders *FolderService) *MailboxService {
	return &MailboxService{db: pool, timeouts: timeouts, folders: folders}
}

func scanMailUser(row pgx.Row) (*model.MailUser, error) {
	var u model.MailUser
	if err := row.Scan(&u.ID, &u.OrgID, &u.Email, &u.DisplayName, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// normalizeAddress lower-cases and trims an address and checks its syntax.
func normalizeAddress(email string) (string, error) {
	addr := strings.ToLower(strings.TrimSpace(email))
	if err := checkmail.ValidateFormat(addr); err != nil {
		return "", fmt.Errorf("%q is not a valid address", email)
	}
	return addr, nil
}

func addressDomain(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 {
		return addr[i+1:]
	}
	return ""
}

// Resolve returns the active mailbox for email inside the organization, or
// nil when the address is not local. Addresses match case-insensitively.
func (s *MailboxService) Resolve(ctx context.Context, orgID, email string) (*model.MailUser, error) {
	if !platform.ValidID(orgID) {
		return nil, nil
	}
	u, err := s.resolve(ctx, s.db, orgID, email)
	if err != nil {
		return nil, classify(err, mailerr.Error{Op: "resolve address", OrgID: orgID})
	}
	return u, nil
}

func (s *MailboxService) resolve(ctx context.Context, q Querier, orgID, email string) (*model.MailUser, error) {
	addr := strings.ToLower(strings.TrimSpace(email))
	u, err := scanMailUser(q.QueryRow(ctx,
		`SELECT `+mailUserColumns+` FROM mail_users WHERE org_id = $1 AND email = $2 AND active`, orgID, addr))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	return u, nil
}

// Provision creates a mailbox and its four system folders in one transaction.
// Provisioning an address that already exists returns the existing mailbox
// and makes sure its system folders are present.
func (s *MailboxService) Provision(ctx context.Context, orgID, email, displayName string) (*model.MailUser, error) {
	e := mailerr.Error{Op: "provision mailbox", OrgID: orgID}
	if err := requireIDs(e, orgID); err != nil {
		return nil, err
	}
	addr, err := normalizeAddress(email)
	if err != nil {
		return nil, fail(e, mailerr.ErrValidation, "%v", err)
	}
	displayName = strings.TrimSpace(displayName)

	var user *model.MailUser
	err = db.InTx(ctx, s.db, s.timeouts, func(tx pgx.Tx) error {
		// The organization row lock serializes provisioning within a tenant so
		// the mailbox count cannot race past the quota.
		var domain string
		var active bool
		var maxMailboxes int
		err := tx.QueryRow(ctx,
			`SELECT domain, active, max_mailboxes FROM organizations WHERE id = $1 FOR UPDATE`, orgID,
		).Scan(&domain, &active, &maxMailboxes)
		if err != nil {
			return fmt.Errorf("lock organization %s: %w", orgID, err)
		}
		if addressDomain(addr) != domain {
			return fail(mailerr.Error{}, mailerr.ErrValidation, "address %s is outside the organization's domain %s", addr, domain)
		}

		existing, err := scanMailUser(tx.QueryRow(ctx,
			`SELECT `+mailUserColumns+` FROM mail_users WHERE org_id = $1 AND email = $2`, orgID, addr))
		switch {
		case err == nil:
			user = existing
		case !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("get mailbox %s: %w", addr, err)
		default:
			if !active {
				return fail(mailerr.Error{}, mailerr.ErrOrgSuspended, "organization is suspended")
			}
			if maxMailboxes > 0 {
				var count int
				if err := tx.QueryRow(ctx, `SELECT count(*) FROM mail_users WHERE org_id = $1`, orgID).Scan(&count); err != nil {
					return fmt.Errorf("count mailboxes: %w", err)
				}
				if count >= maxMailboxes {
					return fail(mailerr.Error{}, mailerr.ErrQuotaExceeded, "organization already has %d of %d mailboxes", count, maxMailboxes)
				}
			}

			user, err = scanMailUser(tx.QueryRow(ctx,
				`INSERT INTO mail_users (id, org_id, email, display_name, active, created_at, updated_at)
				 VALUES ($1, $2, $3, $4, TRUE, now(), now())
				 RETURNING `+mailUserColumns,
				platform.NewID(), orgID, addr, displayName))
			if err != nil {
				return fmt.Errorf("insert mailbox %s: %w", addr, err)
			}
		}

		for _, t := range model.SystemFolderTypes {
			if _, err := s.folders.ensureSystemFolder(ctx, tx, orgID, user.ID, t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify(err, e)
	}
	return user, nil
}

func (s *MailboxService) Get(ctx context.Context, orgID, userID string) (*model.MailUser, error) {
	e := mailerr.Error{Op: "get mailbox", OrgID: orgID, UserID: userID}
	if err := requireIDs(e, orgID, userID); err != nil {
		return nil, err
	}

	u, err := scanMailUser(s.db.QueryRow(ctx,
		`SELECT `+mailUserColumns+` FROM mail_users WHERE id = $1 AND org_id = $2`, userID, orgID))
	if err != nil {
		return nil, classify(fmt.Errorf("get mailbox %s: %w", userID, err), e)
	}
	return u, nil
}

func (s *MailboxService) List(ctx context.Context, orgID string, limit int, cursor string) ([]model.MailUser, bool, error) {
	e := mailerr.Error{Op: "list mailboxes", OrgID: orgID}
	if err := requireIDs(e, orgID); err != nil {
		return nil, false, err
	}

	query := `SELECT ` + mailUserColumns + ` FROM mail_users WHERE org_id = $1`
	args := []any{orgID}
	argIdx := 2

	if cursor != "" {
		if !platform.ValidID(cursor) {
			return nil, false, fail(e, mailerr.ErrValidation, "invalid cursor")
		}
		query += fmt.Sprintf(` AND id > $%d`, argIdx)
		args = append(args, cursor)
		argIdx++
	}

	query += ` ORDER BY id`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, classify(fmt.Errorf("list mailboxes for organization %s: %w", orgID, err), e)
	}
	defer rows.Close()

	var users []model.MailUser
	for rows.Next() {
		u, err := scanMailUser(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan mailbox: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate mailboxes: %w", err)
	}

	hasMore := len(users) > limit
	if hasMore {
		users = users[:limit]
	}
	return users, hasMore, nil
}

// SetActive enables or disables a mailbox. A disabled mailbox stops resolving
// for new mail; what it already holds is untouched.
func (s *MailboxService) SetActive(ctx context.Context, orgID, userID string, active bool) error {
	e := mailerr.Error{Op: "set mailbox active", OrgID: orgID, UserID: userID}
	if err := requireIDs(e, orgID, userID); err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE mail_users SET active = $3, updated_at = now() WHERE id = $1 AND org_id = $2`,
		userID, orgID, active)
	if err != nil {
		return classify(fmt.Errorf("update mailbox %s: %w", userID, err), e)
	}
	if tag.RowsAffected() == 0 {
		return fail(e, mailerr.ErrNotFound, "mailbox does not exist")
	}
	return nil
}
