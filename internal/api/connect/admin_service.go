package connect

import (
	"context"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/demoday/internal/app/notification"
)

// AdminService implements the AdminService RPC.
type AdminService struct {
	session SessionManager
	events  *notification.Manager
	now     func() time.Time
}

// NewAdminService creates a new AdminService. A nil events manager
// disables WatchEvents.
func NewAdminService(session SessionManager, events *notification.Manager) *AdminService {
	return &AdminService{
		session: session,
		events:  events,
		now:     time.Now,
	}
}

// GetStatus returns the queue status and the granted slots.
func (s *AdminService) GetStatus(
	ctx context.Context,
	req *connect.Request[GetStatusRequest],
) (*connect.Response[GetStatusResponse], error) {
	now := s.now()
	active := s.session.ActiveSlots()

	infos := make([]SlotInfo, len(active))
	for i, sl := range active {
		infos[i] = SlotInfo{
			SlotID:      sl.ID,
			Type:        string(sl.Type),
			GrantedAt:   sl.GrantedAt,
			HeldSeconds: int64(sl.HeldFor(now).Seconds()),
		}
	}

	return connect.NewResponse(&GetStatusResponse{
		Status:      toQueueStatus(s.session.Status()),
		ActiveSlots: infos,
	}), nil
}

// Sweep runs one janitor pass.
func (s *AdminService) Sweep(
	ctx context.Context,
	req *connect.Request[SweepRequest],
) (*connect.Response[SweepResponse], error) {
	res := s.session.Sweep()

	released := res.ReleasedLeases
	if released == nil {
		released = []string{}
	}
	return connect.NewResponse(&SweepResponse{
		ReleasedLeases: released,
		SweptWaiting:   int32(res.SweptWaiting),
	}), nil
}

// ForceRelease releases a slot on behalf of a client that never did.
func (s *AdminService) ForceRelease(
	ctx context.Context,
	req *connect.Request[ForceReleaseRequest],
) (*connect.Response[ForceReleaseResponse], error) {
	if req.Msg.SlotID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("slot_id is required"))
	}

	if !s.session.Release(req.Msg.SlotID) {
		return connect.NewResponse(&ForceReleaseResponse{
			Success: false,
			Message: "Slot is not active",
		}), nil
	}

	zlog.Info().Msgf("slot force released by admin: slot=%s", req.Msg.SlotID)
	return connect.NewResponse(&ForceReleaseResponse{
		Success: true,
		Message: "Slot released",
	}), nil
}

// WatchEvents streams session lifecycle events, starting with a snapshot
// of the current queue status.
func (s *AdminService) WatchEvents(
	ctx context.Context,
	req *connect.Request[WatchEventsRequest],
	stream *connect.ServerStream[SessionEvent],
) error {
	if s.events == nil {
		return connect.NewError(connect.CodeUnimplemented, errors.New("event stream is disabled"))
	}

	initial := &SessionEvent{
		SequenceNo: s.events.NextSequenceNo(),
		Kind:       string(notification.KindInitialState),
		Status:     toQueueStatus(s.session.Status()),
		At:         s.now(),
	}
	if err := stream.Send(initial); err != nil {
		return err
	}

	id, done := s.events.Subscribe(&eventStreamAdapter{stream: stream})
	// The stream must not be written after the handler returns, so wait
	// for an in-flight Send to finish.
	defer func() {
		s.events.Unsubscribe(id)
		<-done
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
	return nil
}

// eventStreamAdapter adapts connect.ServerStream to notification.Stream.
type eventStreamAdapter struct {
	stream *connect.ServerStream[SessionEvent]
}

func (a *eventStreamAdapter) Send(ev notification.Event) error {
	return a.stream.Send(&SessionEvent{
		SequenceNo: ev.SequenceNo,
		Kind:       string(ev.Kind),
		SlotID:     ev.SlotID,
		Type:       string(ev.Type),
		Reason:     ev.Reason,
		Status: QueueStatus{
			ActiveCount:   int32(ev.ActiveCount),
			QueueLength:   int32(ev.QueueLength),
			MaxConcurrent: int32(ev.MaxConcurrent),
		},
		At: ev.At,
	})
}
