package domain

import "encoding/json"

// ObjectKind identifies the kind of object a change map describes.
type ObjectKind uint16

const (
	ObjectKindUser        ObjectKind = 1
	ObjectKindEmote       ObjectKind = 2
	ObjectKindEmoteSet    ObjectKind = 3
	ObjectKindRole        ObjectKind = 4
	ObjectKindEntitlement ObjectKind = 5
	ObjectKindBan         ObjectKind = 6
	ObjectKindMessage     ObjectKind = 7
	ObjectKindReport      ObjectKind = 8
	ObjectKindPresence    ObjectKind = 9
	ObjectKindCosmetic    ObjectKind = 10
)

var objectKindNames = map[ObjectKind]string{
	ObjectKindUser:        "USER",
	ObjectKindEmote:       "EMOTE",
	ObjectKindEmoteSet:    "EMOTE_SET",
	ObjectKindRole:        "ROLE",
	ObjectKindEntitlement: "ENTITLEMENT",
	ObjectKindBan:         "BAN",
	ObjectKindMessage:     "MESSAGE",
	ObjectKindReport:      "REPORT",
	ObjectKindPresence:    "PRESENCE",
	ObjectKindCosmetic:    "COSMETIC",
}

func (k ObjectKind) String() string {
	if name, ok := objectKindNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// ChangeField describes a single field mutation. Values stay raw JSON: the relay
// forwards them untouched.
type ChangeField struct {
	Key      string          `json:"key"`
	Index    *int            `json:"index,omitempty"`
	Nested   bool            `json:"nested,omitempty"`
	Type     string          `json:"type,omitempty"`
	OldValue json.RawMessage `json:"old_value,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
}

// ChangeMap is the body of a dispatch.
type ChangeMap struct {
	ID         string          `json:"id"`
	Kind       ObjectKind      `json:"kind"`
	Contextual bool            `json:"contextual,omitempty"`
	Actor      json.RawMessage `json:"actor,omitempty"`
	Added      []ChangeField   `json:"added,omitempty"`
	Updated    []ChangeField   `json:"updated,omitempty"`
	Removed    []ChangeField   `json:"removed,omitempty"`
	Pushed     []ChangeField   `json:"pushed,omitempty"`
	Pulled     []ChangeField   `json:"pulled,omitempty"`
	Object     json.RawMessage `json:"object,omitempty"`
}

// Dispatch is a typed change notification pushed by the upstream event service.
type Dispatch struct {
	Type EventType `json:"type"`
	Body ChangeMap `json:"body"`
}

// Topic returns the exact topic this dispatch was published on.
func (d Dispatch) Topic() Topic {
	return Topic{Type: d.Type, ObjectID: d.Body.ID}
}

// HandlerID identifies a callback registered by a port.
type HandlerID string

// HandlerRef is a handler scoped to the port that registered it.
type HandlerRef struct {
	PortID    string
	HandlerID HandlerID
}
