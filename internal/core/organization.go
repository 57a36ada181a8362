package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/mailcore/internal/db"
	"github.com/edvin/mailcore/internal/mailerr"
	"github.com/edvin/mailcore/internal/model"
	"github.com/edvin/mailcore/internal/platform"
)

const orgColumns = `id, code, domain, max_mailboxes, max_storage_bytes, max_recipients_per_mail, storage_used_bytes, active, created_at, updated_at`

// OrganizationService owns the tenant lifecycle and the quota limits every
// other service consults.
type OrganizationService struct {
	db DB
}

func NewOrganizationService(pool DB) *OrganizationService {
	return &OrganizationService{db: pool}
}

func scanOrganization(row pgx.Row) (*model.Organization, error) {
	var o model.Organization
	err := row.Scan(&o.ID, &o.Code, &o.Domain, &o.Quotas.MaxMailboxes, &o.Quotas.MaxStorageBytes,
		&o.Quotas.MaxRecipientsPerMail, &o.StorageUsedBytes, &o.Active, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func validateQuotas(q model.Quotas) error {
	if q.MaxMailboxes < 0 || q.MaxStorageBytes < 0 || q.MaxRecipientsPerMail < 0 {
		return fmt.Errorf("quotas must not be negative")
	}
	return nil
}

// normalizeDomain lower-cases a domain and checks it looks like a hostname.
func normalizeDomain(domain string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(domain))
	if d == "" || len(d) > 253 || !strings.Contains(d, ".") || strings.ContainsAny(d, "@ /") ||
		strings.HasPrefix(d, ".") || strings.HasSuffix(d, ".") {
		return "", fmt.Errorf("invalid domain %q", domain)
	}
	return d, nil
}

// Create registers a new organization. The domain is claimed case-insensitively.
func (s *OrganizationService) Create(ctx context.Context, code, domain string, quotas model.Quotas) (*model.Organization, error) {
	e := mailerr.Error{Op: "create organization"}

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fail(e, mailerr.ErrValidation, "code is required")
	}
	d, err := normalizeDomain(domain)
	if err != nil {
		return nil, fail(e, mailerr.ErrValidation, "%v", err)
	}
	if err := validateQuotas(quotas); err != nil {
		return nil, fail(e, mailerr.ErrValidation, "%v", err)
	}

	now := time.Now().UTC()
	o := &model.Organization{
		ID:        platform.NewID(),
		Code:      code,
		Domain:    d,
		Quotas:    quotas,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.OrgID = o.ID

	_, err = s.db.Exec(ctx,
		`INSERT INTO organizations (id, code, domain, max_mailboxes, max_storage_bytes, max_recipients_per_mail, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $7)`,
		o.ID, o.Code, o.Domain, quotas.MaxMailboxes, quotas.MaxStorageBytes, quotas.MaxRecipientsPerMail, now,
	)
	switch {
	case db.IsUniqueViolation(err, "organizations_domain_key"):
		return nil, fail(e, mailerr.ErrDuplicateDomain, "domain %s is already claimed", d)
	case db.IsUniqueViolation(err, "organizations_code_key"):
		return nil, fail(e, mailerr.ErrConflict, "code %s is already taken", code)
	case err != nil:
		return nil, classify(fmt.Errorf("insert organization: %w", err), e)
	}
	return o, nil
}

func (s *OrganizationService) Get(ctx context.Context, orgID string) (*model.Organization, error) {
	e := mailerr.Error{Op: "get organization", OrgID: orgID}
	if err := requireIDs(e, orgID); err != nil {
		return nil, err
	}

	o, err := scanOrganization(s.db.QueryRow(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE id = $1`, orgID))
	if err != nil {
		return nil, classify(fmt.Errorf("get organization %s: %w", orgID, err), e)
	}
	return o, nil
}

// GetByDomain looks an organization up by the domain it claims.
func (s *OrganizationService) GetByDomain(ctx context.Context, domain string) (*model.Organization, error) {
	e := mailerr.Error{Op: "get organization by domain"}
	d, err := normalizeDomain(domain)
	if err != nil {
		return nil, fail(e, mailerr.ErrValidation, "%v", err)
	}

	o, err := scanOrganization(s.db.QueryRow(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE domain = $1`, d))
	if err != nil {
		return nil, classify(fmt.Errorf("get organization for %s: %w", d, err), e)
	}
	return o, nil
}

func (s *OrganizationService) List(ctx context.Context, limit int, cursor string) ([]model.Organization, bool, error) {
	query := `SELECT ` + orgColumns + ` FROM organizations`
	var args []any
	argIdx := 1

	if cursor != "" {
		if !platform.ValidID(cursor) {
			return nil, false, fail(mailerr.Error{Op: "list organizations"}, mailerr.ErrValidation, "invalid cursor")
		}
		query += fmt.Sprintf(` WHERE id > $%d`, argIdx)
		args = append(args, cursor)
		argIdx++
	}

	query += ` ORDER BY id`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, classify(fmt.Errorf("list organizations: %w", err), mailerr.Error{Op: "list organizations"})
	}
	defer rows.Close()

	var orgs []model.Organization
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan organization: %w", err)
		}
		orgs = append(orgs, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate organizations: %w", err)
	}

	hasMore := len(orgs) > limit
	if hasMore {
		orgs = orgs[:limit]
	}
	return orgs, hasMore, nil
}

// Suspend stops the organization from admitting new mail. Existing mail stays
// readable.
func (s *OrganizationService) Suspend(ctx context.Context, orgID string) error {
	return s.setActive(ctx, "suspend organization", orgID, false)
}

func (s *OrganizationService) Activate(ctx context.Context, orgID string) error {
	return s.setActive(ctx, "activate organization", orgID, true)
}

func (s *OrganizationService) setActive(ctx context.Context, op, orgID string, active bool) error {
	e := mailerr.Error{Op: op, OrgID: orgID}
	if err := requireIDs(e, orgID); err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE organizations SET active = $2, updated_at = now() WHERE id = $1`, orgID, active)
	if err != nil {
		return classify(fmt.Errorf("update organization %s: %w", orgID, err), e)
	}
	if tag.RowsAffected() == 0 {
		return fail(e, mailerr.ErrNotFound, "organization does not exist")
	}
	return nil
}

// UpdateQuotas replaces the organization's limits. Lowering a limit below the
// current usage is allowed; it only blocks further growth.
func (s *OrganizationService) UpdateQuotas(ctx context.Context, orgID string, quotas model.Quotas) (*model.Organization, error) {
	e := mailerr.Error{Op: "update quotas", OrgID: orgID}
	if err := requireIDs(e, orgID); err != nil {
		return nil, err
	}
	if err := validateQuotas(quotas); err != nil {
		return nil, fail(e, mailerr.ErrValidation, "%v", err)
	}

	o, err := scanOrganization(s.db.QueryRow(ctx,
		`UPDATE organizations
		 SET max_mailboxes = $2, max_storage_bytes = $3, max_recipients_per_mail = $4, updated_at = now()
		 WHERE id = $1
		 RETURNING `+orgColumns,
		orgID, quotas.MaxMailboxes, quotas.MaxStorageBytes, quotas.MaxRecipientsPerMail))
	if err != nil {
		return nil, classify(fmt.Errorf("update quotas of organization %s: %w", orgID, err), e)
	}
	return o, nil
}

// admitSend is called inside the send transaction. It share-locks the
// organization row so a concurrent suspend or quota change waits for the send
// to commit.
func (s *OrganizationService) admitSend(ctx context.Context, q Querier, orgID string, recipientCount int) error {
	e := mailerr.Error{Op: "send", OrgID: orgID}

	var active bool
	var maxRecipients int
	var maxStorage, used int64
	err := q.QueryRow(ctx,
		`SELECT active, max_recipients_per_mail, max_storage_bytes, storage_used_bytes
		 FROM organizations WHERE id = $1 FOR SHARE`, orgID,
	).Scan(&active, &maxRecipients, &maxStorage, &used)
	if err != nil {
		return classify(fmt.Errorf("lock organization %s: %w", orgID, err), e)
	}

	if !active {
		return fail(e, mailerr.ErrOrgSuspended, "organization is suspended")
	}
	if maxRecipients > 0 && recipientCount > maxRecipients {
		return fail(e, mailerr.ErrQuotaExceeded, "%d recipients exceed the limit of %d per mail", recipientCount, maxRecipients)
	}
	if maxStorage > 0 && used > maxStorage {
		return fail(e, mailerr.ErrQuotaExceeded, "storage used %d exceeds the limit of %d bytes", used, maxStorage)
	}
	return nil
}

// chargeStorage adjusts the organization's stored byte count by delta. A
// non-negative delta is refused when the organization is suspended or the
// result would exceed max_storage_bytes; a negative delta always applies.
func (s *OrganizationService) chargeStorage(ctx context.Context, q Querier, orgID string, delta int64) error {
	e := mailerr.Error{Op: "charge storage", OrgID: orgID}

	if delta < 0 {
		_, err := q.Exec(ctx,
			`UPDATE organizations SET storage_used_bytes = GREATEST(storage_used_bytes + $2, 0), updated_at = now()
			 WHERE id = $1`, orgID, delta)
		if err != nil {
			return classify(fmt.Errorf("release storage of organization %s: %w", orgID, err), e)
		}
		return nil
	}

	var used int64
	err := q.QueryRow(ctx,
		`UPDATE organizations SET storage_used_bytes = storage_used_bytes + $2, updated_at = now()
		 WHERE id = $1 AND active AND (max_storage_bytes = 0 OR storage_used_bytes + $2 <= max_storage_bytes)
		 RETURNING storage_used_bytes`, orgID, delta,
	).Scan(&used)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return classify(fmt.Errorf("charge storage of organization %s: %w", orgID, err), e)
	}

	// The conditional update matched nothing; find out which condition failed.
	var active bool
	var maxStorage, current int64
	err = q.QueryRow(ctx,
		`SELECT active, max_storage_bytes, storage_used_bytes FROM organizations WHERE id = $1`, orgID,
	).Scan(&active, &maxStorage, &current)
	if err != nil {
		return classify(fmt.Errorf("get organization %s: %w", orgID, err), e)
	}
	if !active {
		return fail(e, mailerr.ErrOrgSuspended, "organization is suspended")
	}
	return fail(e, mailerr.ErrQuotaExceeded, "storing %d more bytes would exceed the limit of %d (used %d)", delta, maxStorage, current)
}
