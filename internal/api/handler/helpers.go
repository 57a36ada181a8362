package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/edvin/mailcore/internal/api/request"
	"github.com/edvin/mailcore/internal/api/response"
	"github.com/edvin/mailcore/internal/mailerr"
)

// statusFor maps an error kind onto an HTTP status. Unclassified errors are
// infrastructure failures.
func statusFor(kind error) int {
	switch {
	case kind == nil:
		return http.StatusInternalServerError
	case errors.Is(kind, mailerr.ErrValidation), errors.Is(kind, mailerr.ErrCrossTenantFolder):
		return http.StatusBadRequest
	case errors.Is(kind, mailerr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(kind, mailerr.ErrConflict), errors.Is(kind, mailerr.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(kind, mailerr.ErrQuotaExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(kind, mailerr.ErrOrgSuspended):
		return http.StatusForbidden
	case errors.Is(kind, mailerr.ErrBusy):
		return http.StatusServiceUnavailable
	case errors.Is(kind, mailerr.ErrPartialDelivery):
		return http.StatusMultiStatus
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err as a JSON error response. Infrastructure
// failures are logged and reported without their cause.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := mailerr.KindOf(err)
	status := statusFor(kind)

	body := response.ErrorBody{Error: err.Error()}
	if kind != nil {
		body.Kind = kind.Error()
	}
	var pd *mailerr.PartialDeliveryError
	if errors.As(err, &pd) {
		body.Unresolved = pd.Unresolved
	}

	switch status {
	case http.StatusInternalServerError:
		logError(r, err)
		body.Error = "internal error"
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
	}
	response.WriteJSON(w, status, body)
}

func logError(r *http.Request, err error) {
	ev := zerolog.Ctx(r.Context()).Error()
	var merr *mailerr.Error
	if errors.As(err, &merr) {
		ev = ev.EmbedObject(merr)
	}
	ev.Err(err).Str("path", r.URL.Path).Msg("request failed")
}

// pathIDs reads the named chi URL params. It writes a 400 and returns false
// when any of them is empty.
func pathIDs(w http.ResponseWriter, r *http.Request, names ...string) ([]string, bool) {
	ids := make([]string, len(names))
	for i, name := range names {
		id, err := request.RequireID(chi.URLParam(r, name))
		if err != nil {
			response.WriteError(w, http.StatusBadRequest, err.Error())
			return nil, false
		}
		ids[i] = id
	}
	return ids, true
}
