package connect

import (
	"context"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"

	"github.com/osa030/demoday/internal/app/admission"
	"github.com/osa030/demoday/internal/app/session"
	"github.com/osa030/demoday/internal/domain/slot"
)

// SessionManager is the application surface used by the RPC services.
type SessionManager interface {
	Acquire(ctx context.Context, typ slot.Type) (*session.Grant, error)
	Release(slotID string) bool
	Status() admission.Status
	ActiveSlots() []slot.Slot
	Sweep() session.SweepResult
}

// SessionService implements the SessionService RPC.
type SessionService struct {
	session SessionManager
}

// NewSessionService creates a new SessionService.
func NewSessionService(session SessionManager) *SessionService {
	return &SessionService{session: session}
}

// Acquire waits for a free slot and returns a live session token.
func (s *SessionService) Acquire(
	ctx context.Context,
	req *connect.Request[AcquireRequest],
) (*connect.Response[AcquireResponse], error) {
	typ, err := slot.ParseType(req.Msg.Type)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	grant, err := s.session.Acquire(ctx, typ)
	if err != nil {
		return nil, toConnectError(SessionServiceAcquireProcedure, err)
	}

	return connect.NewResponse(&AcquireResponse{
		SessionToken: grant.SessionToken,
		AgentID:      grant.AgentID,
		SlotID:       grant.SlotID,
	}), nil
}

// Release returns a slot. Unknown ids succeed.
func (s *SessionService) Release(
	ctx context.Context,
	req *connect.Request[ReleaseRequest],
) (*connect.Response[ReleaseResponse], error) {
	if req.Msg.SlotID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("slot_id is required"))
	}

	s.session.Release(req.Msg.SlotID)
	return connect.NewResponse(&ReleaseResponse{Success: true}), nil
}

// GetQueueStatus returns the admission queue status.
func (s *SessionService) GetQueueStatus(
	ctx context.Context,
	req *connect.Request[GetQueueStatusRequest],
) (*connect.Response[GetQueueStatusResponse], error) {
	return connect.NewResponse(&GetQueueStatusResponse{
		Status: toQueueStatus(s.session.Status()),
	}), nil
}

func toQueueStatus(st admission.Status) QueueStatus {
	return QueueStatus{
		ActiveCount:   int32(st.ActiveCount),
		QueueLength:   int32(st.QueueLength),
		MaxConcurrent: int32(st.MaxConcurrent),
	}
}
