package handler

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/edvin/mailcore/internal/mailerr"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind error
		want int
	}{
		{nil, http.StatusInternalServerError},
		{mailerr.ErrValidation, http.StatusBadRequest},
		{mailerr.ErrCrossTenantFolder, http.StatusBadRequest},
		{mailerr.ErrNotFound, http.StatusNotFound},
		{mailerr.ErrConflict, http.StatusConflict},
		{mailerr.ErrFolderNotEmpty, http.StatusConflict},
		{mailerr.ErrInvalidTransition, http.StatusConflict},
		{mailerr.ErrQuotaExceeded, http.StatusUnprocessableEntity},
		{mailerr.ErrOrgSuspended, http.StatusForbidden},
		{mailerr.ErrBusy, http.StatusServiceUnavailable},
		{mailerr.ErrPartialDelivery, http.StatusMultiStatus},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.kind), "%v", tt.kind)
	}
}

func TestWriteServiceError_Busy(t *testing.T) {
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/", nil)

	writeServiceError(rec, r, mailerr.New(mailerr.ErrBusy, "send", "lock timeout"))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "datastore busy", decodeErrorResponse(rec)["kind"])
}

func TestWriteServiceError_HidesInfrastructureCause(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodGet, "/", nil)
	r = r.WithContext(logger.WithContext(r.Context()))

	writeServiceError(rec, r, errors.New("dial tcp 10.0.0.5:5432: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decodeErrorResponse(rec)["error"])
	assert.Contains(t, buf.String(), "connection refused")
}

func TestWriteServiceError_PartialDelivery(t *testing.T) {
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/", nil)

	writeServiceError(rec, r, &mailerr.PartialDeliveryError{MailID: testMailID, Unresolved: []string{"x@elsewhere.org"}})

	assert.Equal(t, http.StatusMultiStatus, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Equal(t, []any{"x@elsewhere.org"}, body["unresolved"])
}
