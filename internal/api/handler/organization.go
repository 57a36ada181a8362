package handler

import (
	"net/http"

	"github.com/edvin/mailcore/internal/api/request"
	"github.com/edvin/mailcore/internal/api/response"
	"github.com/edvin/mailcore/internal/core"
	"github.com/edvin/mailcore/internal/model"
)

type Organization struct {
	svc      *core.OrganizationService
	backfill *core.BackfillService
}

func NewOrganization(svc *core.OrganizationService, backfill *core.BackfillService) *Organization {
	return &Organization{svc: svc, backfill: backfill}
}

func (h *Organization) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateOrganization
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	org, err := h.svc.Create(r.Context(), req.Code, req.Domain, req.Quotas)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, org)
}

func (h *Organization) List(w http.ResponseWriter, r *http.Request) {
	pg := request.ParsePagination(r)

	orgs, hasMore, err := h.svc.List(r.Context(), pg.Limit, pg.Cursor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	var nextCursor string
	if hasMore && len(orgs) > 0 {
		nextCursor = orgs[len(orgs)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, orgs, nextCursor, hasMore)
}

func (h *Organization) Get(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID")
	if !ok {
		return
	}

	org, err := h.svc.Get(r.Context(), ids[0])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, org)
}

func (h *Organization) UpdateQuotas(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID")
	if !ok {
		return
	}
	var req request.UpdateQuotas
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	org, err := h.svc.UpdateQuotas(r.Context(), ids[0], model.Quotas{
		MaxMailboxes:         req.MaxMailboxes,
		MaxStorageBytes:      req.MaxStorageBytes,
		MaxRecipientsPerMail: req.MaxRecipientsPerMail,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, org)
}

func (h *Organization) Suspend(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID")
	if !ok {
		return
	}
	if err := h.svc.Suspend(r.Context(), ids[0]); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Organization) Activate(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID")
	if !ok {
		return
	}
	if err := h.svc.Activate(r.Context(), ids[0]); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Backfill starts (or attaches to) the folder assignment backfill of an
// organization.
func (h *Organization) Backfill(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID")
	if !ok {
		return
	}

	workflowID, err := h.backfill.Start(r.Context(), ids[0])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusAccepted, map[string]string{"workflow_id": workflowID})
}
