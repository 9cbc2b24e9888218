// Package errs defines the closed error taxonomy shared by every layer of
// the session protocol: record codec, AEAD context, handshake, session
// state machine, group distribution, and relay. Every fatal condition in
// those packages wraps one of these sentinels with fmt.Errorf("...: %w").
package errs

import "errors"

// Sentinel errors. A caller can classify any returned error with errors.Is
// against one of these, regardless of which layer produced it.
var (
	// ErrConfig marks an invalid configuration option, fatal before session start.
	ErrConfig = errors.New("config error")

	// ErrTransportClosed marks the peer closing the underlying stream.
	ErrTransportClosed = errors.New("transport closed")

	// ErrMalformedRecord marks a length, framing, or encoding violation.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrHandshakeFailed marks any handshake invariant violation.
	ErrHandshakeFailed = errors.New("handshake failed")

	// ErrAuthenticationFailure marks an AEAD open failure. Never retried.
	ErrAuthenticationFailure = errors.New("authentication failure")

	// ErrReplayOrReorder marks a received counter that does not equal the
	// expected counter exactly.
	ErrReplayOrReorder = errors.New("replay or reorder detected")

	// ErrNonceExhausted marks a nonce counter that was not rekeyed in time.
	ErrNonceExhausted = errors.New("nonce exhausted")

	// ErrTimeout marks a handshake or idle-read timeout.
	ErrTimeout = errors.New("timeout")
)

// ExitCode maps a sentinel error to the process exit code from the
// external-interfaces contract: 0 orderly close, 1 handshake failure,
// 2 authentication failure, 3 transport closure, 4 configuration error.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrConfig):
		return 4
	case errors.Is(err, ErrTransportClosed):
		return 3
	case errors.Is(err, ErrAuthenticationFailure), errors.Is(err, ErrReplayOrReorder):
		return 2
	case errors.Is(err, ErrHandshakeFailed), errors.Is(err, ErrNonceExhausted), errors.Is(err, ErrTimeout), errors.Is(err, ErrMalformedRecord):
		return 1
	default:
		return 1
	}
}
