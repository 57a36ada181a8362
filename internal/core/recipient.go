package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/edvin/mailcore/internal/mailerr"
	"github.com/edvin/mailcore/internal/model"
)

// RecipientService keeps the audit trail of every address a mail was sent to,
// whether or not the address is local.
type RecipientService struct {
	db DB
}

func NewRecipientService(pool DB) *RecipientService {
	return &RecipientService{db: pool}
}

// normalizeRecipients validates and canonicalizes a recipient list. Addresses
// are lower-cased, types upper-cased, and repeated (email, type) pairs
// collapse to one.
func normalizeRecipients(recipients []model.Recipient) ([]model.Recipient, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}

	seen := make(map[model.Recipient]bool, len(recipients))
	out := make([]model.Recipient, 0, len(recipients))
	for _, r := range recipients {
		addr, err := normalizeAddress(r.Email)
		if err != nil {
			return nil, err
		}
		typ := strings.ToUpper(strings.TrimSpace(r.Type))
		if typ == "" {
			typ = model.RecipientTo
		}
		if !model.IsRecipientType(typ) {
			return nil, fmt.Errorf("recipient type %q must be TO, CC or BCC", r.Type)
		}

		n := model.Recipient{Email: addr, Type: typ}
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out, nil
}

// distinctAddresses returns each address once, in first-seen order.
func distinctAddresses(recipients []model.Recipient) []string {
	seen := make(map[string]bool, len(recipients))
	var out []string
	for _, r := range recipients {
		if !seen[r.Email] {
			seen[r.Email] = true
			out = append(out, r.Email)
		}
	}
	return out
}

// record writes one audit row per recipient inside the send transaction. The
// rows are never updated afterwards.
func (s *RecipientService) record(ctx context.Context, q Querier, orgID, mailID string, recipients []model.Recipient) error {
	emails := make([]string, len(recipients))
	types := make([]string, len(recipients))
	for i, r := range recipients {
		emails[i] = r.Email
		types[i] = r.Type
	}

	_, err := q.Exec(ctx,
		`INSERT INTO mail_recipients (mail_id, org_id, email, type, created_at)
		 SELECT $1, $2, r.email, r.type, now()
		 FROM unnest($3::text[], $4::text[]) AS r(email, type)
		 ON CONFLICT (mail_id, email, type) DO NOTHING`,
		mailID, orgID, emails, types)
	if err != nil {
		return fmt.Errorf("insert recipients of mail %s: %w", mailID, err)
	}
	return nil
}

// List returns the full audit trail of a mail, Bcc included.
func (s *RecipientService) List(ctx context.Context, orgID, mailID string) ([]model.MailRecipient, error) {
	e := mailerr.Error{Op: "list recipients", OrgID: orgID, MailID: mailID}
	if err := requireIDs(e, orgID, mailID); err != nil {
		return nil, err
	}

	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM mails WHERE id = $1 AND org_id = $2)`, mailID, orgID,
	).Scan(&exists)
	if err != nil {
		return nil, classify(fmt.Errorf("check mail %s: %w", mailID, err), e)
	}
	if !exists {
		return nil, fail(e, mailerr.ErrNotFound, "mail does not exist")
	}

	rows, err := s.db.Query(ctx,
		`SELECT mail_id, org_id, email, type, created_at FROM mail_recipients
		 WHERE mail_id = $1 AND org_id = $2
		 ORDER BY CASE type WHEN 'TO' THEN 0 WHEN 'CC' THEN 1 ELSE 2 END, email`, mailID, orgID)
	if err != nil {
		return nil, classify(fmt.Errorf("list recipients of mail %s: %w", mailID, err), e)
	}
	defer rows.Close()

	var recipients []model.MailRecipient
	for rows.Next() {
		var r model.MailRecipient
		if err := rows.Scan(&r.MailID, &r.OrgID, &r.Email, &r.Type, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		recipients = append(recipients, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipients: %w", err)
	}
	return recipients, nil
}

// addresses returns the distinct recipient addresses of a mail in a stable
// order.
func (s *RecipientService) addresses(ctx context.Context, q Querier, orgID, mailID string) ([]string, error) {
	rows, err := q.Query(ctx,
		`SELECT DISTINCT email FROM mail_recipients WHERE mail_id = $1 AND org_id = $2 ORDER BY email`,
		mailID, orgID)
	if err != nil {
		return nil, fmt.Errorf("list recipient addresses of mail %s: %w", mailID, err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan recipient address: %w", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipient addresses: %w", err)
	}
	return emails, nil
}

// visibleTo returns the recipients of a mail as the given participant may
// see them: Bcc entries are shown to the sender only.
func (s *RecipientService) visibleTo(ctx context.Context, q Querier, orgID, mailID string, isSender bool) ([]model.Recipient, error) {
	rows, err := q.Query(ctx,
		`SELECT email, type FROM mail_recipients
		 WHERE mail_id = $1 AND org_id = $2 AND ($3 OR type <> 'BCC')
		 ORDER BY CASE type WHEN 'TO' THEN 0 WHEN 'CC' THEN 1 ELSE 2 END, email`,
		mailID, orgID, isSender)
	if err != nil {
		return nil, fmt.Errorf("list recipients of mail %s: %w", mailID, err)
	}
	defer rows.Close()

	recipients := []model.Recipient{}
	for rows.Next() {
		var r model.Recipient
		if err := rows.Scan(&r.Email, &r.Type); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		recipients = append(recipients, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipients: %w", err)
	}
	return recipients, nil
}
