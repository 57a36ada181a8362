package request

import "github.com/edvin/mailcore/internal/model"

type CreateOrganization struct {
	Code   string       `json:"code" validate:"required,slug"`
	Domain string       `json:"domain" validate:"required,fqdn"`
	Quotas model.Quotas `json:"quotas"`
}

type UpdateQuotas struct {
	MaxMailboxes         int   `json:"max_mailboxes" validate:"gte=0"`
	MaxStorageBytes      int64 `json:"max_storage_bytes" validate:"gte=0"`
	MaxRecipientsPerMail int   `json:"max_recipients_per_mail" validate:"gte=0"`
}

type ProvisionMailbox struct {
	Email       string `json:"email" validate:"required,email"`
	DisplayName string `json:"display_name" validate:"max=255"`
}

type SetMailboxActive struct {
	Active *bool `json:"active" validate:"required"`
}

type CreateFolder struct {
	Name     string  `json:"name" validate:"required,max=255"`
	ParentID *string `json:"parent_id" validate:"omitempty,uuid"`
}

type RenameFolder struct {
	Name string `json:"name" validate:"required,max=255"`
}

type Draft struct {
	Subject string `json:"subject" validate:"max=998"`
	Body    string `json:"body"`
}

type RecipientInput struct {
	Email string `json:"email" validate:"required,email"`
	Type  string `json:"type" validate:"recipient_type"`
}

type Send struct {
	Recipients []RecipientInput `json:"recipients" validate:"required,min=1,dive"`
}

type FailMail struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type MoveMail struct {
	FolderID string `json:"folder_id" validate:"required,uuid"`
}

// ToModel converts the request recipients into model recipients.
func (s Send) ToModel() []model.Recipient {
	out := make([]model.Recipient, len(s.Recipients))
	for i, r := range s.Recipients {
		out[i] = model.Recipient{Email: r.Email, Type: r.Type}
	}
	return out
}
