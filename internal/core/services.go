package core

import (
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/mailcore/internal/archive"
	"github.com/edvin/mailcore/internal/db"
)

// Deps are the collaborators shared by the services. Temporal and Archiver
// are optional.
type Deps struct {
	Logger            zerolog.Logger
	Timeouts          db.Timeouts
	Temporal          temporalclient.Client
	Archiver          archive.Archiver
	BackfillTaskQueue string
	BackfillChunkSize int
}

type Services struct {
	Organization *OrganizationService
	Mailbox      *MailboxService
	Folder       *FolderService
	Recipient    *RecipientService
	Mail         *MailService
	Assignment   *AssignmentService
	Backfill     *BackfillService
}

func NewServices(pool DB, deps Deps) *Services {
	orgs := NewOrganizationService(pool)
	folders := NewFolderService(pool, deps.Timeouts)
	mailboxes := NewMailboxService(pool, deps.Timeouts, folders)
	recipients := NewRecipientService(pool)
	assignments := NewAssignmentService(pool, deps.Timeouts, deps.Logger, orgs, mailboxes, folders, recipients, deps.Archiver)
	mails := NewMailService(pool, deps.Timeouts, deps.Logger, orgs, folders, recipients, assignments)

	return &Services{
		Organization: orgs,
		Mailbox:      mailboxes,
		Folder:       folders,
		Recipient:    recipients,
		Mail:         mails,
		Assignment:   assignments,
		Backfill:     NewBackfillService(pool, deps.Temporal, deps.BackfillTaskQueue, deps.BackfillChunkSize),
	}
}
