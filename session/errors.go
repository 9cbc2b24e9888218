package session

import (
	"errors"

	"github.com/sage-x-project/securestream/errs"
)

// classifyError maps an error to the error-kind label used for metrics.
func classifyError(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, errs.ErrConfig):
		return "config"
	case errors.Is(err, errs.ErrTransportClosed):
		return "transport_closed"
	case errors.Is(err, errs.ErrMalformedRecord):
		return "malformed_record"
	case errors.Is(err, errs.ErrHandshakeFailed):
		return "handshake_failed"
	case errors.Is(err, errs.ErrAuthenticationFailure):
		return "authentication_failure"
	case errors.Is(err, errs.ErrReplayOrReorder):
		return "replay_or_reorder"
	case errors.Is(err, errs.ErrNonceExhausted):
		return "nonce_exhausted"
	case errors.Is(err, errs.ErrTimeout):
		return "timeout"
	default:
		return "other"
	}
}
