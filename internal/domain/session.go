package domain

import (
	"context"
	"time"
)

// SessionState is the persisted view of the last upstream session.
type SessionState struct {
	SessionID string    `json:"session_id"`
	Instance  string    `json:"instance,omitempty"`
	Topics    []Topic   `json:"topics,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionStore persists upstream session state across relay restarts.
type SessionStore interface {
	SaveSession(ctx context.Context, state SessionState) error
	// LoadSession returns ErrSessionNotFound when nothing was saved.
	LoadSession(ctx context.Context) (*SessionState, error)
	ClearSession(ctx context.Context) error
}

// DispatchMirror forwards dispatches to other consumers.
type DispatchMirror interface {
	MirrorDispatch(ctx context.Context, d Dispatch) error
}
