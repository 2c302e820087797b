package connect

import (
	"context"
	"crypto/subtle"
	"net/http"

	"connectrpc.com/connect"
	zlog "github.com/rs/zerolog/log"
)

const (
	// AdminTokenHeader is the header name for admin authentication token.
	AdminTokenHeader = "X-Admin-Token"
)

type adminAuthInterceptor struct {
	token string
}

// NewAdminAuthInterceptor creates an interceptor that validates admin tokens
// from request metadata for AdminService methods, unary and streaming.
func NewAdminAuthInterceptor(adminToken string) connect.Interceptor {
	return &adminAuthInterceptor{token: adminToken}
}

func (i *adminAuthInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if err := i.authorize(req.Spec().Procedure, req.Peer().Addr, req.Header()); err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

func (i *adminAuthInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *adminAuthInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		if err := i.authorize(conn.Spec().Procedure, conn.Peer().Addr, conn.RequestHeader()); err != nil {
			return err
		}
		return next(ctx, conn)
	}
}

func (i *adminAuthInterceptor) authorize(procedure, peer string, header http.Header) error {
	token := header.Get(AdminTokenHeader)
	if token == "" || i.token == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(i.token)) != 1 {
		zlog.Warn().Msgf("admin request rejected: procedure=%s peer=%s", procedure, peer)
		return connect.NewError(connect.CodeUnauthenticated, nil)
	}
	return nil
}
