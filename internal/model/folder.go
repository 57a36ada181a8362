package model

import "time"

type MailFolder struct {
	ID          string    `json:"id" db:"id"`
	OrgID       string    `json:"org_id" db:"org_id"`
	OwnerUserID string    `json:"owner_user_id" db:"owner_user_id"`
	Name        string    `json:"name" db:"name"`
	Type        string    `json:"type" db:"type"`
	ParentID    *string   `json:"parent_id,omitempty" db:"parent_id"`
	IsSystem    bool      `json:"is_system" db:"is_system"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// FolderSummary is a folder together with its message counts.
type FolderSummary struct {
	MailFolder
	Total  int `json:"total"`
	Unread int `json:"unread"`
}
