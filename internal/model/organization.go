package model

import "time"

// Quotas limit an organization. Zero means unlimited.
type Quotas struct {
	MaxMailboxes         int   `json:"max_mailboxes" db:"max_mailboxes"`
	MaxStorageBytes      int64 `json:"max_storage_bytes" db:"max_storage_bytes"`
	MaxRecipientsPerMail int   `json:"max_recipients_per_mail" db:"max_recipients_per_mail"`
}

type Organization struct {
	ID               string    `json:"id" db:"id"`
	Code             string    `json:"code" db:"code"`
	Domain           string    `json:"domain" db:"domain"`
	Quotas           Quotas    `json:"quotas"`
	StorageUsedBytes int64     `json:"storage_used_bytes" db:"storage_used_bytes"`
	Active           bool      `json:"active" db:"active"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}
