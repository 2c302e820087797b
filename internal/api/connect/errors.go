package connect

import (
	"context"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/demoday/internal/app/admission"
	"github.com/osa030/demoday/internal/app/rotation"
	"github.com/osa030/demoday/internal/app/session"
	"github.com/osa030/demoday/internal/domain/slot"
)

// toConnectError maps application errors to Connect codes.
// Upstream details are logged, never returned to the caller.
func toConnectError(procedure string, err error) error {
	var code connect.Code
	switch {
	case errors.Is(err, admission.ErrWaitTimeout), errors.Is(err, admission.ErrStaleRequest):
		code = connect.CodeUnavailable
	case errors.Is(err, rotation.ErrNoCredential), errors.Is(err, session.ErrRoleNotConfigured):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, session.ErrUnknownSessionType), errors.Is(err, slot.ErrUnknownType):
		code = connect.CodeInvalidArgument
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	default:
		zlog.Error().Msgf("%s failed: %v", procedure, err)
		return connect.NewError(connect.CodeInternal, errors.New("failed to acquire session"))
	}

	zlog.Warn().Msgf("%s rejected: code=%s error=%v", procedure, code, err)
	return connect.NewError(code, err)
}
