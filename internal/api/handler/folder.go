package handler

import (
	"net/http"
	"strings"

	"github.com/edvin/mailcore/internal/api/request"
	"github.com/edvin/mailcore/internal/api/response"
	"github.com/edvin/mailcore/internal/core"
	"github.com/edvin/mailcore/internal/model"
)

type Folder struct {
	svc *core.FolderService
}

func NewFolder(svc *core.FolderService) *Folder {
	return &Folder{svc: svc}
}

func (h *Folder) List(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID", "userID")
	if !ok {
		return
	}

	folders, err := h.svc.List(r.Context(), ids[0], ids[1])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, folders)
}

func (h *Folder) Create(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID", "userID")
	if !ok {
		return
	}
	var req request.CreateFolder
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	folder, err := h.svc.CreateCustomFolder(r.Context(), ids[0], ids[1], req.Name, req.ParentID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, folder)
}

func (h *Folder) Rename(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID", "userID", "folderID")
	if !ok {
		return
	}
	var req request.RenameFolder
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	folder, err := h.svc.RenameCustomFolder(r.Context(), ids[0], ids[1], ids[2], req.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, folder)
}

// Delete removes a custom folder. With ?reassign_to=<folder id> its mail is
// moved there first; ?reassign_to=inbox moves it to the owner's Inbox.
func (h *Folder) Delete(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID", "userID", "folderID")
	if !ok {
		return
	}

	var (
		moved int
		err   error
	)
	switch target := r.URL.Query().Get("reassign_to"); {
	case target == "":
		moved, err = h.svc.DeleteCustomFolder(r.Context(), ids[0], ids[1], ids[2], nil)
	case strings.EqualFold(target, model.FolderInbox):
		moved, err = h.svc.DeleteCustomFolderToInbox(r.Context(), ids[0], ids[1], ids[2])
	default:
		moved, err = h.svc.DeleteCustomFolder(r.Context(), ids[0], ids[1], ids[2], &target)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]int{"reassigned": moved})
}
