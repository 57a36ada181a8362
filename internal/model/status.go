package model

// Mail status constants. A mail leaves DRAFT exactly once.
const (
	MailStatusDraft  = "DRAFT"
	MailStatusSent   = "SENT"
	MailStatusFailed = "FAILED"
)

// Folder type constants. Every mailbox has exactly one folder of each
// system type.
const (
	FolderInbox  = "INBOX"
	FolderSent   = "SENT"
	FolderDraft  = "DRAFT"
	FolderTrash  = "TRASH"
	FolderCustom = "CUSTOM"
)

// Recipient type constants.
const (
	RecipientTo  = "TO"
	RecipientCc  = "CC"
	RecipientBcc = "BCC"
)

// SystemFolderTypes lists the folders provisioned for every mailbox, in
// display order.
var SystemFolderTypes = []string{FolderInbox, FolderSent, FolderDraft, FolderTrash}

var systemFolderNames = map[string]string{
	FolderInbox: "Inbox",
	FolderSent:  "Sent",
	FolderDraft: "Drafts",
	FolderTrash: "Trash",
}

// IsSystemFolderType reports whether t is one of the four system folder types.
func IsSystemFolderType(t string) bool {
	_, ok := systemFolderNames[t]
	return ok
}

// SystemFolderName returns the display name of a system folder type, or ""
// for anything else.
func SystemFolderName(t string) string {
	return systemFolderNames[t]
}

func IsRecipientType(t string) bool {
	return t == RecipientTo || t == RecipientCc || t == RecipientBcc
}
