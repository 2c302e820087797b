package connect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/demoday/internal/app/admission"
	"github.com/osa030/demoday/internal/app/notification"
	"github.com/osa030/demoday/internal/app/rotation"
	"github.com/osa030/demoday/internal/app/session"
	"github.com/osa030/demoday/internal/domain/slot"
)

type fakeManager struct {
	mu         sync.Mutex
	acquireErr error
	active     map[string]slot.Slot
	released   []string
	sweep      session.SweepResult
}

func newFakeManager() *fakeManager {
	return &fakeManager{active: make(map[string]slot.Slot)}
}

func (m *fakeManager) Acquire(_ context.Context, typ slot.Type) (*session.Grant, error) {
	if m.acquireErr != nil {
		return nil, m.acquireErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := "session_" + string(typ)
	s := slot.New(id, typ, time.Now())
	_ = s.Activate(time.Now())
	m.active[id] = *s
	return &session.Grant{SessionToken: "tok-" + string(typ), AgentID: "agent-" + string(typ), SlotID: id}, nil
}

func (m *fakeManager) Release(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, id)
	if _, ok := m.active[id]; !ok {
		return false
	}
	delete(m.active, id)
	return true
}

func (m *fakeManager) Status() admission.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return admission.Status{ActiveCount: len(m.active), QueueLength: 2, MaxConcurrent: 1}
}

func (m *fakeManager) ActiveSlots() []slot.Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]slot.Slot, 0, len(m.active))
	for _, s := range m.active {
		out = append(out, s)
	}
	return out
}

func (m *fakeManager) Sweep() session.SweepResult {
	return m.sweep
}

func newTestServer(t *testing.T, mgr SessionManager) *httptest.Server {
	t.Helper()
	return newTestServerWithEvents(t, mgr, nil)
}

func newTestServerWithEvents(t *testing.T, mgr SessionManager, events *notification.Manager) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle(NewSessionServiceHandler(NewSessionService(mgr)))
	mux.Handle(NewAdminServiceHandler(NewAdminService(mgr, events),
		connect.WithInterceptors(NewAdminAuthInterceptor("admin-secret"))))
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestSessionService_AcquireRelease(t *testing.T) {
	mgr := newFakeManager()
	server := newTestServer(t, mgr)
	client := NewSessionServiceClient(server.Client(), server.URL)
	ctx := context.Background()

	resp, err := client.Acquire(ctx, connect.NewRequest(&AcquireRequest{Type: "pitch"}))
	require.NoError(t, err)
	assert.Equal(t, AcquireResponse{SessionToken: "tok-pitch", AgentID: "agent-pitch", SlotID: "session_pitch"}, *resp.Msg)

	status, err := client.GetQueueStatus(ctx, connect.NewRequest(&GetQueueStatusRequest{}))
	require.NoError(t, err)
	assert.Equal(t, QueueStatus{ActiveCount: 1, QueueLength: 2, MaxConcurrent: 1}, status.Msg.Status)

	rel, err := client.Release(ctx, connect.NewRequest(&ReleaseRequest{SlotID: "session_pitch"}))
	require.NoError(t, err)
	assert.True(t, rel.Msg.Success)

	// Unknown ids succeed.
	rel, err = client.Release(ctx, connect.NewRequest(&ReleaseRequest{SlotID: "session_unknown"}))
	require.NoError(t, err)
	assert.True(t, rel.Msg.Success)
	assert.Equal(t, []string{"session_pitch", "session_unknown"}, mgr.released)

	_, err = client.Release(ctx, connect.NewRequest(&ReleaseRequest{}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestSessionService_AcquireErrors(t *testing.T) {
	tests := []struct {
		name     string
		typ      string
		err      error
		wantCode connect.Code
	}{
		{name: "unknown type", typ: "demo", wantCode: connect.CodeInvalidArgument},
		{name: "wait timeout", typ: "pitch", err: errors.Wrap(admission.ErrWaitTimeout, "slot s1"), wantCode: connect.CodeUnavailable},
		{name: "stale", typ: "pitch", err: errors.Wrap(admission.ErrStaleRequest, "slot s1"), wantCode: connect.CodeUnavailable},
		{name: "no credential", typ: "feedback", err: errors.Wrap(rotation.ErrNoCredential, "role=coach"), wantCode: connect.CodeFailedPrecondition},
		{name: "role not configured", typ: "feedback", err: session.ErrRoleNotConfigured, wantCode: connect.CodeFailedPrecondition},
		{name: "upstream", typ: "pitch", err: errors.New("auth endpoint responded 500"), wantCode: connect.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := newFakeManager()
			mgr.acquireErr = tt.err
			server := newTestServer(t, mgr)
			client := NewSessionServiceClient(server.Client(), server.URL)

			_, err := client.Acquire(context.Background(), connect.NewRequest(&AcquireRequest{Type: tt.typ}))
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, connect.CodeOf(err))
			if tt.wantCode == connect.CodeInternal {
				assert.NotContains(t, err.Error(), "responded 500")
			}
		})
	}
}

func TestAdminService_Auth(t *testing.T) {
	server := newTestServer(t, newFakeManager())
	client := NewAdminServiceClient(server.Client(), server.URL)
	ctx := context.Background()

	tests := []struct {
		name     string
		token    string
		wantCode connect.Code
	}{
		{name: "missing token", token: "", wantCode: connect.CodeUnauthenticated},
		{name: "wrong token", token: "guess", wantCode: connect.CodeUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := connect.NewRequest(&GetStatusRequest{})
			if tt.token != "" {
				req.Header().Set(AdminTokenHeader, tt.token)
			}
			_, err := client.GetStatus(ctx, req)
			assert.Equal(t, tt.wantCode, connect.CodeOf(err))
		})
	}

	req := connect.NewRequest(&GetStatusRequest{})
	req.Header().Set(AdminTokenHeader, "admin-secret")
	_, err := client.GetStatus(ctx, req)
	assert.NoError(t, err)
}

func TestAdminService(t *testing.T) {
	mgr := newFakeManager()
	mgr.sweep = session.SweepResult{ReleasedLeases: []string{"session_old"}, SweptWaiting: 1}
	server := newTestServer(t, mgr)
	sessions := NewSessionServiceClient(server.Client(), server.URL)
	admin := NewAdminServiceClient(server.Client(), server.URL)
	ctx := context.Background()

	_, err := sessions.Acquire(ctx, connect.NewRequest(&AcquireRequest{Type: "feedback"}))
	require.NoError(t, err)

	statusReq := connect.NewRequest(&GetStatusRequest{})
	statusReq.Header().Set(AdminTokenHeader, "admin-secret")
	status, err := admin.GetStatus(ctx, statusReq)
	require.NoError(t, err)
	assert.Equal(t, int32(1), status.Msg.Status.ActiveCount)
	require.Len(t, status.Msg.ActiveSlots, 1)
	assert.Equal(t, "session_feedback", status.Msg.ActiveSlots[0].SlotID)
	assert.Equal(t, "feedback", status.Msg.ActiveSlots[0].Type)

	sweepReq := connect.NewRequest(&SweepRequest{})
	sweepReq.Header().Set(AdminTokenHeader, "admin-secret")
	sweep, err := admin.Sweep(ctx, sweepReq)
	require.NoError(t, err)
	assert.Equal(t, []string{"session_old"}, sweep.Msg.ReleasedLeases)
	assert.Equal(t, int32(1), sweep.Msg.SweptWaiting)

	for _, want := range []bool{true, false} {
		req := connect.NewRequest(&ForceReleaseRequest{SlotID: "session_feedback"})
		req.Header().Set(AdminTokenHeader, "admin-secret")
		resp, err := admin.ForceRelease(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, want, resp.Msg.Success)
	}
}

func TestAdminService_WatchEvents(t *testing.T) {
	events := notification.NewManager()
	t.Cleanup(events.Close)
	server := newTestServerWithEvents(t, newFakeManager(), events)
	admin := NewAdminServiceClient(server.Client(), server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := connect.NewRequest(&WatchEventsRequest{})
	req.Header().Set(AdminTokenHeader, "admin-secret")
	stream, err := admin.WatchEvents(ctx, req)
	require.NoError(t, err)
	defer stream.Close()

	require.True(t, stream.Receive(), "stream error: %v", stream.Err())
	initial := stream.Msg()
	assert.Equal(t, "initial_state", initial.Kind)
	assert.Equal(t, int64(1), initial.SequenceNo)
	assert.Equal(t, QueueStatus{ActiveCount: 0, QueueLength: 2, MaxConcurrent: 1}, initial.Status)

	require.Eventually(t, func() bool { return events.SubscriberCount() == 1 }, time.Second, time.Millisecond)
	events.Broadcast(notification.Event{
		Kind:          notification.KindGranted,
		SlotID:        "session_1",
		Type:          slot.TypeFeedback,
		ActiveCount:   1,
		MaxConcurrent: 1,
	})

	require.True(t, stream.Receive(), "stream error: %v", stream.Err())
	ev := stream.Msg()
	assert.Equal(t, int64(2), ev.SequenceNo)
	assert.Equal(t, "granted", ev.Kind)
	assert.Equal(t, "session_1", ev.SlotID)
	assert.Equal(t, "feedback", ev.Type)
	assert.Equal(t, QueueStatus{ActiveCount: 1, MaxConcurrent: 1}, ev.Status)

	cancel()
	require.Eventually(t, func() bool { return events.SubscriberCount() == 0 }, time.Second, time.Millisecond)
}

func TestAdminService_WatchEventsErrors(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		events   *notification.Manager
		wantCode connect.Code
	}{
		{name: "missing token", events: notification.NewManager(), wantCode: connect.CodeUnauthenticated},
		{name: "wrong token", token: "guess", events: notification.NewManager(), wantCode: connect.CodeUnauthenticated},
		{name: "disabled", token: "admin-secret", wantCode: connect.CodeUnimplemented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServerWithEvents(t, newFakeManager(), tt.events)
			admin := NewAdminServiceClient(server.Client(), server.URL)

			req := connect.NewRequest(&WatchEventsRequest{})
			if tt.token != "" {
				req.Header().Set(AdminTokenHeader, tt.token)
			}
			stream, err := admin.WatchEvents(context.Background(), req)
			if err == nil {
				assert.False(t, stream.Receive())
				err = stream.Err()
				_ = stream.Close()
			}
			assert.Equal(t, tt.wantCode, connect.CodeOf(err))
		})
	}
}

func TestJSONCodec(t *testing.T) {
	codec := jsonCodec{}
	assert.Equal(t, "json", codec.Name())

	var req AcquireRequest
	require.NoError(t, codec.Unmarshal(nil, &req))
	assert.Empty(t, req.Type)

	data, err := codec.Marshal(&AcquireRequest{Type: "pitch"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pitch"}`, string(data))
}
