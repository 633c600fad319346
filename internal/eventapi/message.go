package eventapi

import (
	"encoding/json"
	"fmt"

	"github.com/pscheid92/eventrelay/internal/domain"
)

// Message is the envelope of every frame in both directions.
type Message struct {
	Op        Opcode          `json:"op"`
	Data      json.RawMessage `json:"d"`
	Timestamp int64           `json:"t,omitempty"`
	Sequence  uint64          `json:"s,omitempty"`
}

// Encode wraps payload in an envelope for op.
func Encode(op Opcode, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", op, err)
	}
	frame, err := json.Marshal(Message{Op: op, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", op, err)
	}
	return frame, nil
}

func Decode(frame []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return Message{}, fmt.Errorf("decode envelope: %w", err)
	}
	return msg, nil
}

// DecodePayload unmarshals the envelope data into T.
func DecodePayload[T any](msg Message) (T, error) {
	var payload T
	if len(msg.Data) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return payload, fmt.Errorf("decode %s payload: %w", msg.Op, err)
	}
	return payload, nil
}

func SubscribeFrame(topic domain.Topic) ([]byte, error) {
	return Encode(OpSubscribe, SubscriptionFor(topic))
}

func UnsubscribeFrame(topic domain.Topic) ([]byte, error) {
	return Encode(OpUnsubscribe, SubscriptionFor(topic))
}

func ResumeFrame(sessionID string) ([]byte, error) {
	return Encode(OpResume, Resume{SessionID: sessionID})
}
