package handler

import (
	"net/http"

	"github.com/edvin/mailcore/internal/api/request"
	"github.com/edvin/mailcore/internal/api/response"
	"github.com/edvin/mailcore/internal/core"
)

type Mailbox struct {
	svc *core.MailboxService
}

func NewMailbox(svc *core.MailboxService) *Mailbox {
	return &Mailbox{svc: svc}
}

// Provision creates a mailbox with its system folders. Provisioning an
// address that already exists returns the existing mailbox.
func (h *Mailbox) Provision(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID")
	if !ok {
		return
	}
	var req request.ProvisionMailbox
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.svc.Provision(r.Context(), ids[0], req.Email, req.DisplayName)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, user)
}

func (h *Mailbox) List(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID")
	if !ok {
		return
	}
	pg := request.ParsePagination(r)

	users, hasMore, err := h.svc.List(r.Context(), ids[0], pg.Limit, pg.Cursor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	var nextCursor string
	if hasMore && len(users) > 0 {
		nextCursor = users[len(users)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, users, nextCursor, hasMore)
}

func (h *Mailbox) Get(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID", "userID")
	if !ok {
		return
	}

	user, err := h.svc.Get(r.Context(), ids[0], ids[1])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, user)
}

func (h *Mailbox) SetActive(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID", "userID")
	if !ok {
		return
	}
	var req request.SetMailboxActive
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.SetActive(r.Context(), ids[0], ids[1], *req.Active); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
