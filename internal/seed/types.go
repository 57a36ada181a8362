package seed

import "github.com/edvin/mailcore/internal/model"

type Config struct {
	Organizations []OrganizationDef `yaml:"organizations"`
}

type OrganizationDef struct {
	Code      string       `yaml:"code"`
	Domain    string       `yaml:"domain"`
	Quotas    QuotasDef    `yaml:"quotas"`
	Mailboxes []MailboxDef `yaml:"mailboxes"`
	Mails     []MailDef    `yaml:"mails"`
}

type QuotasDef struct {
	MaxMailboxes         int   `yaml:"max_mailboxes"`
	MaxStorageBytes      int64 `yaml:"max_storage_bytes"`
	MaxRecipientsPerMail int   `yaml:"max_recipients_per_mail"`
}

func (q QuotasDef) model() model.Quotas {
	return model.Quotas{
		MaxMailboxes:         q.MaxMailboxes,
		MaxStorageBytes:      q.MaxStorageBytes,
		MaxRecipientsPerMail: q.MaxRecipientsPerMail,
	}
}

// MailboxDef names a mailbox by local part or full address.
type MailboxDef struct {
	Address     string   `yaml:"address"`
	DisplayName string   `yaml:"display_name"`
	Folders     []string `yaml:"folders"`
}

// MailDef is a mail sent (or left as a draft) by one of the organization's
// mailboxes. Addresses without a domain are completed with the
// organization's domain.
type MailDef struct {
	From    string   `yaml:"from"`
	To      []string `yaml:"to"`
	Cc      []string `yaml:"cc"`
	Bcc     []string `yaml:"bcc"`
	Subject string   `yaml:"subject"`
	Body    string   `yaml:"body"`
	Draft   bool     `yaml:"draft"`
}
