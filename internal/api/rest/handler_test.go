package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/demoday/internal/app/admission"
	"github.com/osa030/demoday/internal/app/session"
	"github.com/osa030/demoday/internal/domain/slot"
)

type fakeManager struct {
	err      error
	acquired []slot.Type
	released []string
}

func (m *fakeManager) Acquire(_ context.Context, typ slot.Type) (*session.Grant, error) {
	m.acquired = append(m.acquired, typ)
	if m.err != nil {
		return nil, m.err
	}
	return &session.Grant{SessionToken: "tok", AgentID: "agent-" + string(typ), SlotID: "session_1"}, nil
}

func (m *fakeManager) Release(id string) bool {
	m.released = append(m.released, id)
	return true
}

func (m *fakeManager) Status() admission.Status {
	return admission.Status{ActiveCount: 1, QueueLength: 3, MaxConcurrent: 1}
}

func newRouter(mgr SessionManager) http.Handler {
	r := chi.NewRouter()
	r.Mount("/api", NewHandler(mgr).Routes())
	return r
}

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAcquire(t *testing.T) {
	tests := []struct {
		path      string
		wantType  slot.Type
		wantAgent string
	}{
		{path: "/api/pitch", wantType: slot.TypePitch, wantAgent: "agent-pitch"},
		{path: "/api/feedback", wantType: slot.TypeFeedback, wantAgent: "agent-feedback"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			mgr := &fakeManager{}
			rec := serve(t, newRouter(mgr), http.MethodGet, tt.path, "")

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.JSONEq(t, `{"anamSessionToken":"tok","elevenLabsAgentId":"`+tt.wantAgent+`","queueSessionId":"session_1"}`, rec.Body.String())
			assert.Equal(t, []slot.Type{tt.wantType}, mgr.acquired)
		})
	}
}

func TestAcquire_Errors(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantStatus     int
		wantRetryAfter string
	}{
		{name: "queue timeout", err: errors.Wrap(admission.ErrWaitTimeout, "slot s1"), wantStatus: http.StatusServiceUnavailable, wantRetryAfter: "5"},
		{name: "stale", err: admission.ErrStaleRequest, wantStatus: http.StatusServiceUnavailable, wantRetryAfter: "5"},
		{name: "upstream", err: errors.New("auth endpoint responded 500 with secret detail"), wantStatus: http.StatusInternalServerError},
		{name: "config", err: session.ErrRoleNotConfigured, wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, newRouter(&fakeManager{err: tt.err}), http.MethodGet, "/api/pitch", "")

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantRetryAfter, rec.Header().Get("Retry-After"))

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
			assert.NotContains(t, body["error"], "secret")
		})
	}
}

func TestRelease(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantIDs    []string
	}{
		{name: "ok", body: `{"sessionId":"session_1"}`, wantStatus: http.StatusOK, wantIDs: []string{"session_1"}},
		{name: "missing id", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "malformed", body: `{`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := &fakeManager{}
			rec := serve(t, newRouter(mgr), http.MethodDelete, "/api/feedback", tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantIDs, mgr.released)
			if tt.wantStatus == http.StatusOK {
				assert.JSONEq(t, `{"success":true}`, rec.Body.String())
			}
		})
	}
}

func TestStatus(t *testing.T) {
	rec := serve(t, newRouter(&fakeManager{}), http.MethodGet, "/api/queue/status", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"activeCount":1,"queueLength":3,"maxConcurrent":1}`, rec.Body.String())
}

func TestMethodNotAllowed(t *testing.T) {
	rec := serve(t, newRouter(&fakeManager{}), http.MethodPost, "/api/pitch", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
