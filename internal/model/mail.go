package model

import "time"

type Mail struct {
	ID            string     `json:"id" db:"id"`
	OrgID         string     `json:"org_id" db:"org_id"`
	SenderUserID  string     `json:"sender_user_id" db:"sender_user_id"`
	Subject       string     `json:"subject" db:"subject"`
	Body          string     `json:"body" db:"body"`
	SizeBytes     int64      `json:"size_bytes" db:"size_bytes"`
	Status        string     `json:"status" db:"status"`
	FailureReason *string    `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
	SentAt        *time.Time `json:"sent_at,omitempty" db:"sent_at"`
}

// Recipient is one addressee of a mail as supplied by the sender.
type Recipient struct {
	Email string `json:"email" db:"email"`
	Type  string `json:"type" db:"type"`
}

// MailRecipient is the persisted audit record of a recipient. It is written
// once when the mail is sent and never changes.
type MailRecipient struct {
	MailID    string    `json:"mail_id" db:"mail_id"`
	OrgID     string    `json:"org_id" db:"org_id"`
	Email     string    `json:"email" db:"email"`
	Type      string    `json:"type" db:"type"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Placement is the visibility of one mail for one participant: the single
// folder it currently sits in and its read state.
type Placement struct {
	MailID          string     `json:"mail_id" db:"mail_id"`
	UserID          string     `json:"user_id" db:"user_id"`
	OrgID           string     `json:"org_id" db:"org_id"`
	FolderID        string     `json:"folder_id" db:"folder_id"`
	IsRead          bool       `json:"is_read" db:"is_read"`
	ReadAt          *time.Time `json:"read_at,omitempty" db:"read_at"`
	RestoreHint     *string    `json:"restore_hint,omitempty" db:"restore_hint"`
	RestoreFolderID *string    `json:"restore_folder_id,omitempty" db:"restore_folder_id"`
	PurgedAt        *time.Time `json:"purged_at,omitempty" db:"purged_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// MailView is a mail as seen by one participant.
type MailView struct {
	Mail
	SenderEmail string      `json:"sender_email"`
	Recipients  []Recipient `json:"recipients"`
	FolderID    string      `json:"folder_id"`
	FolderType  string      `json:"folder_type"`
	IsRead      bool        `json:"is_read"`
	ReadAt      *time.Time  `json:"read_at,omitempty"`
}

// FolderEntry is one row of a folder listing.
type FolderEntry struct {
	MailID      string     `json:"mail_id"`
	SenderEmail string     `json:"sender_email"`
	Subject     string     `json:"subject"`
	Status      string     `json:"status"`
	SizeBytes   int64      `json:"size_bytes"`
	IsRead      bool       `json:"is_read"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
}
