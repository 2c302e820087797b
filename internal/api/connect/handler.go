// Package connect provides Connect RPC service implementations.
package connect

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
)

// NewSessionServiceHandler builds an HTTP handler serving SessionService.
// It returns the path on which to mount the handler.
func NewSessionServiceHandler(svc *SessionService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{WithJSONCodec()}, opts...)

	mux := http.NewServeMux()
	mux.Handle(SessionServiceAcquireProcedure, connect.NewUnaryHandler(
		SessionServiceAcquireProcedure, svc.Acquire, opts...))
	mux.Handle(SessionServiceReleaseProcedure, connect.NewUnaryHandler(
		SessionServiceReleaseProcedure, svc.Release, opts...))
	mux.Handle(SessionServiceGetQueueStatusProcedure, connect.NewUnaryHandler(
		SessionServiceGetQueueStatusProcedure, svc.GetQueueStatus, opts...))
	return "/" + SessionServiceName + "/", mux
}

// NewAdminServiceHandler builds an HTTP handler serving AdminService.
// It returns the path on which to mount the handler.
func NewAdminServiceHandler(svc *AdminService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{WithJSONCodec()}, opts...)

	mux := http.NewServeMux()
	mux.Handle(AdminServiceGetStatusProcedure, connect.NewUnaryHandler(
		AdminServiceGetStatusProcedure, svc.GetStatus, opts...))
	mux.Handle(AdminServiceSweepProcedure, connect.NewUnaryHandler(
		AdminServiceSweepProcedure, svc.Sweep, opts...))
	mux.Handle(AdminServiceForceReleaseProcedure, connect.NewUnaryHandler(
		AdminServiceForceReleaseProcedure, svc.ForceRelease, opts...))
	mux.Handle(AdminServiceWatchEventsProcedure, connect.NewServerStreamHandler(
		AdminServiceWatchEventsProcedure, svc.WatchEvents, opts...))
	return "/" + AdminServiceName + "/", mux
}

// SessionServiceClient is a client for SessionService.
type SessionServiceClient struct {
	acquire        *connect.Client[AcquireRequest, AcquireResponse]
	release        *connect.Client[ReleaseRequest, ReleaseResponse]
	getQueueStatus *connect.Client[GetQueueStatusRequest, GetQueueStatusResponse]
}

// NewSessionServiceClient creates a SessionService client for baseURL.
func NewSessionServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *SessionServiceClient {
	opts = append([]connect.ClientOption{WithJSONCodec()}, opts...)
	return &SessionServiceClient{
		acquire:        connect.NewClient[AcquireRequest, AcquireResponse](httpClient, baseURL+SessionServiceAcquireProcedure, opts...),
		release:        connect.NewClient[ReleaseRequest, ReleaseResponse](httpClient, baseURL+SessionServiceReleaseProcedure, opts...),
		getQueueStatus: connect.NewClient[GetQueueStatusRequest, GetQueueStatusResponse](httpClient, baseURL+SessionServiceGetQueueStatusProcedure, opts...),
	}
}

func (c *SessionServiceClient) Acquire(ctx context.Context, req *connect.Request[AcquireRequest]) (*connect.Response[AcquireResponse], error) {
	return c.acquire.CallUnary(ctx, req)
}

func (c *SessionServiceClient) Release(ctx context.Context, req *connect.Request[ReleaseRequest]) (*connect.Response[ReleaseResponse], error) {
	return c.release.CallUnary(ctx, req)
}

func (c *SessionServiceClient) GetQueueStatus(ctx context.Context, req *connect.Request[GetQueueStatusRequest]) (*connect.Response[GetQueueStatusResponse], error) {
	return c.getQueueStatus.CallUnary(ctx, req)
}

// AdminServiceClient is a client for AdminService.
type AdminServiceClient struct {
	getStatus    *connect.Client[GetStatusRequest, GetStatusResponse]
	sweep        *connect.Client[SweepRequest, SweepResponse]
	forceRelease *connect.Client[ForceReleaseRequest, ForceReleaseResponse]
	watchEvents  *connect.Client[WatchEventsRequest, SessionEvent]
}

// NewAdminServiceClient creates an AdminService client for baseURL.
func NewAdminServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *AdminServiceClient {
	opts = append([]connect.ClientOption{WithJSONCodec()}, opts...)
	return &AdminServiceClient{
		getStatus:    connect.NewClient[GetStatusRequest, GetStatusResponse](httpClient, baseURL+AdminServiceGetStatusProcedure, opts...),
		sweep:        connect.NewClient[SweepRequest, SweepResponse](httpClient, baseURL+AdminServiceSweepProcedure, opts...),
		forceRelease: connect.NewClient[ForceReleaseRequest, ForceReleaseResponse](httpClient, baseURL+AdminServiceForceReleaseProcedure, opts...),
		watchEvents:  connect.NewClient[WatchEventsRequest, SessionEvent](httpClient, baseURL+AdminServiceWatchEventsProcedure, opts...),
	}
}

func (c *AdminServiceClient) GetStatus(ctx context.Context, req *connect.Request[GetStatusRequest]) (*connect.Response[GetStatusResponse], error) {
	return c.getStatus.CallUnary(ctx, req)
}

func (c *AdminServiceClient) Sweep(ctx context.Context, req *connect.Request[SweepRequest]) (*connect.Response[SweepResponse], error) {
	return c.sweep.CallUnary(ctx, req)
}

func (c *AdminServiceClient) ForceRelease(ctx context.Context, req *connect.Request[ForceReleaseRequest]) (*connect.Response[ForceReleaseResponse], error) {
	return c.forceRelease.CallUnary(ctx, req)
}

func (c *AdminServiceClient) WatchEvents(ctx context.Context, req *connect.Request[WatchEventsRequest]) (*connect.ServerStreamForClient[SessionEvent], error) {
	return c.watchEvents.CallServerStream(ctx, req)
}
