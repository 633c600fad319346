package upstream

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pscheid92/eventrelay/internal/eventapi"
	"github.com/pscheid92/eventrelay/internal/platform/retry"
)

var (
	ErrStopped            = errors.New("upstream manager stopped")
	ErrReconnectRequested = errors.New("upstream requested reconnect")
	ErrUnexpectedOpcode   = errors.New("unexpected opcode")
	ErrHeartbeatTimeout   = errors.New("heartbeat timeout")
)

// CloseError is a session end announced by the server, either through an
// END_OF_STREAM frame or a close frame carrying a protocol close code.
type CloseError struct {
	Code   eventapi.CloseCode
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("upstream closed session: %s (%s)", e.Code.Name(), e.Code)
	}
	return fmt.Sprintf("upstream closed session: %s: %s", e.Code.Name(), e.Reason)
}

// HandshakeError is a failed WebSocket upgrade with the HTTP status the server answered.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("upstream handshake failed with HTTP %d: %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Classify decides how the reconnect loop treats a connection or session error.
func Classify(err error) retry.Action {
	var closeErr *CloseError
	if errors.As(err, &closeErr) {
		switch {
		case !closeErr.Code.Retryable():
			return retry.Stop
		case closeErr.Code.RateLimited():
			return retry.After
		default:
			return retry.Retry
		}
	}

	var handshakeErr *HandshakeError
	if errors.As(err, &handshakeErr) {
		switch handshakeErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return retry.Stop
		case http.StatusTooManyRequests:
			return retry.After
		}
	}

	return retry.Retry
}

// fromReadError turns a close frame with a protocol code into a CloseError.
func fromReadError(err error) error {
	var wsClose *websocket.CloseError
	if errors.As(err, &wsClose) {
		code := eventapi.CloseCode(wsClose.Code)
		if code.Known() {
			return &CloseError{Code: code, Reason: wsClose.Text}
		}
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrHeartbeatTimeout, err)
	}

	return fmt.Errorf("read upstream: %w", err)
}
