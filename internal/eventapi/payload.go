package eventapi

import (
	"encoding/json"

	"github.com/pscheid92/eventrelay/internal/domain"
)

type Hello struct {
	// HeartbeatInterval is in milliseconds.
	HeartbeatInterval uint32         `json:"heartbeat_interval"`
	SessionID         string         `json:"session_id"`
	SubscriptionLimit int32          `json:"subscription_limit"`
	Actor             string         `json:"actor,omitempty"`
	Instance          *HelloInstance `json:"instance,omitempty"`
}

type HelloInstance struct {
	Name       string `json:"name"`
	Population int32  `json:"population"`
}

// InstanceName returns the serving instance name, or "" when the server omitted it.
func (h Hello) InstanceName() string {
	if h.Instance == nil {
		return ""
	}
	return h.Instance.Name
}

type Heartbeat struct {
	Count uint64 `json:"count"`
}

type Reconnect struct {
	Reason string `json:"reason"`
}

type Ack struct {
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ResumeResult is the data of the ACK answering a RESUME.
type ResumeResult struct {
	Success               bool `json:"success"`
	DispatchesReplayed    int  `json:"dispatches_replayed"`
	SubscriptionsRestored int  `json:"subscriptions_restored"`
}

type Error struct {
	Message       string         `json:"message"`
	MessageLocale string         `json:"message_locale,omitempty"`
	Fields        map[string]any `json:"fields,omitempty"`
}

type EndOfStream struct {
	Code    CloseCode `json:"code"`
	Message string    `json:"message"`
}

type Resume struct {
	SessionID string `json:"session_id"`
}

// Subscription is the payload of SUBSCRIBE and UNSUBSCRIBE.
type Subscription struct {
	Type      domain.EventType  `json:"type"`
	Condition map[string]string `json:"condition,omitempty"`
}

// SubscriptionFor builds the payload for a topic. Type-wide topics carry no condition.
func SubscriptionFor(topic domain.Topic) Subscription {
	sub := Subscription{Type: topic.Type}
	if topic.ObjectID != "" {
		sub.Condition = map[string]string{"object_id": topic.ObjectID}
	}
	return sub
}

// Topic reverses SubscriptionFor.
func (s Subscription) Topic() domain.Topic {
	return domain.Topic{Type: s.Type, ObjectID: s.Condition["object_id"]}
}
