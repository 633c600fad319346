package domain

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Topic is the subscription key: an event type scoped to one object.
// An empty ObjectID subscribes to the type as a whole.
type Topic struct {
	Type     EventType `json:"type"`
	ObjectID string    `json:"id,omitempty"`
}

func NewTopic(eventType EventType, objectID string) Topic {
	return Topic{Type: eventType, ObjectID: objectID}
}

func (t Topic) String() string {
	return string(t.Type) + ":" + t.ObjectID
}

func (t Topic) Validate() error {
	if t.Type == "" {
		return fmt.Errorf("%w: missing event type", ErrInvalidTopic)
	}
	if !t.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, t.Type)
	}
	if t.ObjectID != "" && !ValidObjectID(t.ObjectID) {
		return fmt.Errorf("%w: malformed object id %q", ErrInvalidTopic, t.ObjectID)
	}
	return nil
}

// ValidObjectID reports whether id is an identifier the event API accepts:
// a ULID, a UUID with or without dashes, or a 24 digit hex ObjectId.
func ValidObjectID(id string) bool {
	switch len(id) {
	case ulid.EncodedSize:
		_, err := ulid.ParseStrict(id)
		return err == nil
	case 32, 36:
		_, err := uuid.Parse(id)
		return err == nil
	case 24:
		_, err := hex.DecodeString(id)
		return err == nil
	default:
		return false
	}
}

// ParseTopic parses "type:id" or a bare "type".
func ParseTopic(s string) (Topic, error) {
	eventType, objectID, _ := strings.Cut(strings.TrimSpace(s), ":")
	topic := Topic{Type: EventType(eventType), ObjectID: objectID}
	if err := topic.Validate(); err != nil {
		return Topic{}, err
	}
	return topic, nil
}

// Less orders topics by type, then object id.
func (t Topic) Less(other Topic) bool {
	if t.Type != other.Type {
		return t.Type < other.Type
	}
	return t.ObjectID < other.ObjectID
}
