package eventapi

import (
	"encoding/json"
	"testing"

	"github.com/pscheid92/eventrelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Hello(t *testing.T) {
	frame := []byte(`{"op":1,"t":1700000000000,"d":{"heartbeat_interval":45000,"session_id":"abc","subscription_limit":500,"instance":{"name":"event-api-7","population":1200}}}`)

	msg, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, OpHello, msg.Op)
	assert.Equal(t, int64(1700000000000), msg.Timestamp)

	hello, err := DecodePayload[Hello](msg)
	require.NoError(t, err)
	assert.Equal(t, uint32(45000), hello.HeartbeatInterval)
	assert.Equal(t, "abc", hello.SessionID)
	assert.Equal(t, int32(500), hello.SubscriptionLimit)
	assert.Equal(t, "event-api-7", hello.InstanceName())
}

func TestDecode_Dispatch(t *testing.T) {
	frame := []byte(`{"op":0,"s":12,"d":{"type":"emote.update","body":{"id":"e1","kind":2,"updated":[{"key":"name","type":"string","old_value":"a","value":"b"}]}}}`)

	msg, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), msg.Sequence)

	d, err := DecodePayload[domain.Dispatch](msg)
	require.NoError(t, err)
	assert.Equal(t, domain.NewTopic(domain.EventEmoteUpdate, "e1"), d.Topic())
	require.Len(t, d.Body.Updated, 1)
	assert.JSONEq(t, `"b"`, string(d.Body.Updated[0].Value))
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = DecodePayload[Hello](Message{Op: OpHello, Data: json.RawMessage(`[1,2]`)})
	assert.Error(t, err)
}

func TestDecodePayload_EmptyData(t *testing.T) {
	hb, err := DecodePayload[Heartbeat](Message{Op: OpHeartbeat})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), hb.Count)
}

func TestSubscribeFrame(t *testing.T) {
	frame, err := SubscribeFrame(domain.NewTopic(domain.EventEmoteSetUpdate, "set1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":35,"d":{"type":"emote_set.update","condition":{"object_id":"set1"}}}`, string(frame))

	frame, err = UnsubscribeFrame(domain.NewTopic(domain.EventSystemAnnouncement, ""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":36,"d":{"type":"system.announcement"}}`, string(frame))
}

func TestSubscription_Topic(t *testing.T) {
	topic := domain.NewTopic(domain.EventUserUpdate, "u1")
	assert.Equal(t, topic, SubscriptionFor(topic).Topic())
}

func TestCloseCode_Classification(t *testing.T) {
	tests := []struct {
		code        CloseCode
		retryable   bool
		rateLimited bool
		name        string
	}{
		{CloseServerError, true, false, "SERVER_ERROR"},
		{CloseRateLimit, true, true, "RATE_LIMIT"},
		{CloseRestart, true, false, "RESTART"},
		{CloseReconnect, true, false, "RECONNECT"},
		{CloseAuthFailure, false, false, "AUTH_FAILURE"},
		{CloseInvalidPayload, false, false, "INVALID_PAYLOAD"},
		{CloseInsufficientPrivilege, false, false, "INSUFFICIENT_PRIVILEGE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.code.Retryable())
			assert.Equal(t, tt.rateLimited, tt.code.RateLimited())
			assert.Equal(t, tt.name, tt.code.Name())
		})
	}

	assert.Equal(t, "CLOSE(4999)", CloseCode(4999).Name())
	assert.False(t, CloseCode(4999).Known())
}

func TestOpcode_String(t *testing.T) {
	assert.Equal(t, "END_OF_STREAM", OpEndOfStream.String())
	assert.Equal(t, "OPCODE(99)", Opcode(99).String())
	assert.True(t, OpBridge.Known())
}
