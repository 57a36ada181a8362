package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalclient "go.temporal.io/sdk/client"
	temporalmocks "go.temporal.io/sdk/mocks"

	"github.com/edvin/mailcore/internal/core"
)

type fakePinger struct {
	err error
}

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestServer(pinger Pinger, tc temporalclient.Client) *Server {
	services := core.NewServices(nil, core.Deps{Logger: zerolog.Nop()})
	return NewServer(zerolog.Nop(), pinger, tc, services)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(fakePinger{}, nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestReadyz(t *testing.T) {
	s := newTestServer(fakePinger{}, nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var checks map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &checks))
	assert.Equal(t, map[string]string{"database": "ok"}, checks)
}

func TestReadyz_DatabaseDown(t *testing.T) {
	tc := &temporalmocks.Client{}
	tc.On("CheckHealth", mock.Anything, mock.Anything).Return(&temporalclient.CheckHealthResponse{}, nil)
	s := newTestServer(fakePinger{err: errors.New("connection refused")}, tc)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var checks map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &checks))
	assert.Equal(t, "connection refused", checks["database"])
	assert.Equal(t, "ok", checks["temporal"])
}

func TestRoutes_ReachHandlers(t *testing.T) {
	s := newTestServer(fakePinger{}, nil)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/v1/organizations/not-a-uuid", http.StatusNotFound},
		{http.MethodGet, "/api/v1/organizations/x/mailboxes/y/folders/inbox/mails", http.StatusNotFound},
		{http.MethodPost, "/api/v1/organizations/x/mailboxes/y/mails/z/trash", http.StatusNotFound},
		{http.MethodDelete, "/api/v1/organizations/x/mails/z", http.StatusNotFound},
		{http.MethodPost, "/api/v1/organizations/x/mailboxes/y/drafts", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/nothing-here", http.StatusNotFound},
		{http.MethodPatch, "/api/v1/organizations/x", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
