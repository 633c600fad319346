package upstream

import "time"

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateReady
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time view of the upstream connection.
type Status struct {
	State             State     `json:"state"`
	SessionID         string    `json:"session_id,omitempty"`
	Instance          string    `json:"instance,omitempty"`
	SubscriptionLimit int       `json:"subscription_limit"`
	DesiredTopics     int       `json:"desired_topics"`
	PendingFrames     int       `json:"pending_frames"`
	Resumed           bool      `json:"resumed"`
	ConnectedAt       time.Time `json:"connected_at,omitzero"`
	LastError         string    `json:"last_error,omitempty"`
}
