// Package seed loads organizations, mailboxes and sample mail from a YAML
// file through the core services.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/edvin/mailcore/internal/core"
	"github.com/edvin/mailcore/internal/mailerr"
	"github.com/edvin/mailcore/internal/model"
)

type Organizations interface {
	Create(ctx context.Context, code, domain string, quotas model.Quotas) (*model.Organization, error)
	GetByDomain(ctx context.Context, domain string) (*model.Organization, error)
}

type Mailboxes interface {
	Provision(ctx context.Context, orgID, email, displayName string) (*model.MailUser, error)
}

type Folders interface {
	CreateCustomFolder(ctx context.Context, orgID, userID, name string, parentID *string) (*model.MailFolder, error)
}

type Mails interface {
	CreateDraft(ctx context.Context, orgID, senderID, subject, body string) (*model.Mail, error)
	Send(ctx context.Context, orgID, senderID, mailID string, recipients []model.Recipient) (*core.SendResult, error)
}

// Seeder applies a Config. Organizations, mailboxes and folders that already
// exist are reused; mail is only seeded into organizations created by this
// run so a rerun does not duplicate it.
type Seeder struct {
	orgs      Organizations
	mailboxes Mailboxes
	folders   Folders
	mails     Mails
	logger    zerolog.Logger
}

func NewSeeder(orgs Organizations, mailboxes Mailboxes, folders Folders, mails Mails, logger zerolog.Logger) *Seeder {
	return &Seeder{orgs: orgs, mailboxes: mailboxes, folders: folders, mails: mails, logger: logger}
}

// NewServicesSeeder builds a Seeder over the core services.
func NewServicesSeeder(s *core.Services, logger zerolog.Logger) *Seeder {
	return NewSeeder(s.Organization, s.Mailbox, s.Folder, s.Mail, logger)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return &cfg, nil
}

func (s *Seeder) Run(ctx context.Context, cfg *Config) error {
	for _, def := range cfg.Organizations {
		if err := s.seedOrganization(ctx, def); err != nil {
			return fmt.Errorf("seed organization %s: %w", def.Domain, err)
		}
	}
	return nil
}

func (s *Seeder) seedOrganization(ctx context.Context, def OrganizationDef) error {
	created := true
	org, err := s.orgs.Create(ctx, def.Code, def.Domain, def.Quotas.model())
	if errors.Is(err, mailerr.ErrConflict) {
		created = false
		org, err = s.orgs.GetByDomain(ctx, def.Domain)
	}
	if err != nil {
		return err
	}
	s.logger.Info().Str("org_id", org.ID).Str("domain", org.Domain).Bool("created", created).Msg("organization")

	users := map[string]string{}
	for _, mb := range def.Mailboxes {
		addr := qualify(mb.Address, org.Domain)
		u, err := s.mailboxes.Provision(ctx, org.ID, addr, mb.DisplayName)
		if err != nil {
			return fmt.Errorf("provision %s: %w", addr, err)
		}
		users[addr] = u.ID

		for _, name := range mb.Folders {
			_, err := s.folders.CreateCustomFolder(ctx, org.ID, u.ID, name, nil)
			if err != nil && !errors.Is(err, mailerr.ErrDuplicateName) {
				return fmt.Errorf("create folder %q for %s: %w", name, addr, err)
			}
		}
	}

	if !created {
		return nil
	}
	for i, m := range def.Mails {
		if err := s.seedMail(ctx, org, users, m); err != nil {
			return fmt.Errorf("mail %d: %w", i, err)
		}
	}
	return nil
}

func (s *Seeder) seedMail(ctx context.Context, org *model.Organization, users map[string]string, m MailDef) error {
	from := qualify(m.From, org.Domain)
	senderID, ok := users[from]
	if !ok {
		return fmt.Errorf("sender %s is not a seeded mailbox", from)
	}

	draft, err := s.mails.CreateDraft(ctx, org.ID, senderID, m.Subject, m.Body)
	if err != nil {
		return err
	}
	if m.Draft {
		return nil
	}

	var recipients []model.Recipient
	for _, group := range []struct {
		typ   string
		addrs []string
	}{{model.RecipientTo, m.To}, {model.RecipientCc, m.Cc}, {model.RecipientBcc, m.Bcc}} {
		for _, a := range group.addrs {
			recipients = append(recipients, model.Recipient{Email: qualify(a, org.Domain), Type: group.typ})
		}
	}

	res, err := s.mails.Send(ctx, org.ID, senderID, draft.ID, recipients)
	if err != nil {
		return err
	}
	if perr := res.Err(); perr != nil {
		s.logger.Warn().Err(perr).Str("mail_id", draft.ID).Msg("seeded mail partially delivered")
	}
	return nil
}

// qualify appends @domain to a bare local part.
func qualify(addr, domain string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if strings.Contains(addr, "@") {
		return addr
	}
	return addr + "@" + domain
}
