package handler

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/edvin/mailcore/internal/api/request"
	"github.com/edvin/mailcore/internal/api/response"
	"github.com/edvin/mailcore/internal/core"
)

type Mail struct {
	mails       *core.MailService
	assignments *core.AssignmentService
	recipients  *core.RecipientService
}

func NewMail(mails *core.MailService, assignments *core.AssignmentService, recipients *core.RecipientService) *Mail {
	return &Mail{mails: mails, assignments: assignments, recipients: recipients}
}

func (h *Mail) CreateDraft(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID", "userID")
	if !ok {
		return
	}
	var req request.Draft
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	mail, err := h.mails.CreateDraft(r.Context(), ids[0], ids[1], req.Subject, req.Body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, mail)
}

func (h *Mail) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID", "userID", "mailID")
	if !ok {
		return
	}
	var req request.Draft
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	mail, err := h.mails.UpdateDraft(r.Context(), ids[0], ids[1], ids[2], req.Subject, req.Body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, mail)
}

// Send commits the draft as sent. Recipients without a local mailbox do not
// fail the request; they are listed under assignment.unresolved.
func (h *Mail) Send(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID", "userID", "mailID")
	if !ok {
		return
	}
	var req request.Send
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.mails.Send(r.Context(), ids[0], ids[1], ids[2], req.ToModel())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if perr := res.Err(); perr != nil {
		zerolog.Ctx(r.Context()).Info().Err(perr).Msg("partial delivery")
	}
	response.WriteJSON(w, http.StatusOK, res)
}

func (h *Mail) Fail(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID", "userID", "mailID")
	if !ok {
		return
	}
	var req request.FailMail
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	mail, err := h.mails.Fail(r.Context(), ids[0], ids[1], ids[2], req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, mail)
}

func (h *Mail) Get(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID", "userID", "mailID")
	if !ok {
		return
	}

	view, err := h.mails.Get(r.Context(), ids[0], ids[1], ids[2])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, view)
}

// ListFolder lists one page of a folder. The folder is addressed by id or
// by system type (inbox, sent, draft, trash).
func (h *Mail) ListFolder(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID", "userID", "folderID")
	if !ok {
		return
	}
	pg := request.ParsePage(r)

	entries, hasMore, err := h.mails.ListFolder(r.Context(), ids[0], ids[1], core.ParseFolderRef(ids[2]), pg.Page, pg.PageSize)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, response.PageResponse{
		Items:    entries,
		Page:     pg.Page,
		PageSize: pg.PageSize,
		HasMore:  hasMore,
	})
}

type placementOp func(ctx context.Context, orgID, mailID, userID string) error

// placement runs op on the caller's own placement of the mail.
func (h *Mail) placement(w http.ResponseWriter, r *http.Request, op placementOp) {
	ids, ok := pathIDs(w, r, "orgID", "userID", "mailID")
	if !ok {
		return
	}
	if err := op(r.Context(), ids[0], ids[2], ids[1]); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Mail) Trash(w http.ResponseWriter, r *http.Request) {
	h.placement(w, r, h.assignments.MoveToTrash)
}

func (h *Mail) Restore(w http.ResponseWriter, r *http.Request) {
	h.placement(w, r, h.assignments.Restore)
}

func (h *Mail) MarkRead(w http.ResponseWriter, r *http.Request) {
	h.placement(w, r, h.assignments.MarkRead)
}

func (h *Mail) MarkUnread(w http.ResponseWriter, r *http.Request) {
	h.placement(w, r, h.assignments.MarkUnread)
}

func (h *Mail) Move(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID", "userID", "mailID")
	if !ok {
		return
	}
	var req request.MoveMail
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.assignments.MoveToFolder(r.Context(), ids[0], ids[2], ids[1], req.FolderID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Mail) EmptyTrash(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID", "userID")
	if !ok {
		return
	}

	removed, err := h.assignments.EmptyTrash(r.Context(), ids[0], ids[1])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// PermanentDelete removes a mail for every participant.
func (h *Mail) PermanentDelete(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID", "mailID")
	if !ok {
		return
	}

	if err := h.assignments.PermanentDelete(r.Context(), ids[0], ids[1]); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Recipients returns the full recipient audit of a mail, Bcc included.
func (h *Mail) Recipients(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID", "mailID")
	if !ok {
		return
	}

	recipients, err := h.recipients.List(r.Context(), ids[0], ids[1])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, recipients)
}
