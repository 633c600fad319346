package eventapi

import "fmt"

type Opcode uint16

const (
	OpDispatch    Opcode = 0
	OpHello       Opcode = 1
	OpHeartbeat   Opcode = 2
	OpReconnect   Opcode = 4
	OpAck         Opcode = 5
	OpError       Opcode = 6
	OpEndOfStream Opcode = 7
	OpIdentify    Opcode = 33
	OpResume      Opcode = 34
	OpSubscribe   Opcode = 35
	OpUnsubscribe Opcode = 36
	OpSignal      Opcode = 37
	OpBridge      Opcode = 38
)

var opcodeNames = map[Opcode]string{
	OpDispatch:    "DISPATCH",
	OpHello:       "HELLO",
	OpHeartbeat:   "HEARTBEAT",
	OpReconnect:   "RECONNECT",
	OpAck:         "ACK",
	OpError:       "ERROR",
	OpEndOfStream: "END_OF_STREAM",
	OpIdentify:    "IDENTIFY",
	OpResume:      "RESUME",
	OpSubscribe:   "SUBSCRIBE",
	OpUnsubscribe: "UNSUBSCRIBE",
	OpSignal:      "SIGNAL",
	OpBridge:      "BRIDGE",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("OPCODE(%d)", uint16(o))
}

func (o Opcode) Known() bool {
	_, ok := opcodeNames[o]
	return ok
}

// CloseCode is the application close code the event service sends in END_OF_STREAM
// and in the WebSocket close frame.
type CloseCode uint16

const (
	CloseServerError           CloseCode = 4000
	CloseUnknownOperation      CloseCode = 4001
	CloseInvalidPayload        CloseCode = 4002
	CloseAuthFailure           CloseCode = 4003
	CloseAlreadyIdentified     CloseCode = 4004
	CloseRateLimit             CloseCode = 4005
	CloseRestart               CloseCode = 4006
	CloseMaintenance           CloseCode = 4007
	CloseTimeout               CloseCode = 4008
	CloseAlreadySubscribed     CloseCode = 4009
	CloseNotSubscribed         CloseCode = 4010
	CloseInsufficientPrivilege CloseCode = 4011
	CloseReconnect             CloseCode = 4012
)

var closeCodeNames = map[CloseCode][2]string{
	CloseServerError:           {"SERVER_ERROR", "Internal Server Error"},
	CloseUnknownOperation:      {"UNKNOWN_OPERATION", "Unknown Operation"},
	CloseInvalidPayload:        {"INVALID_PAYLOAD", "Invalid Payload"},
	CloseAuthFailure:           {"AUTH_FAILURE", "Authentication Failure"},
	CloseAlreadyIdentified:     {"ALREADY_IDENTIFIED", "Already identified"},
	CloseRateLimit:             {"RATE_LIMIT", "Rate limit reached"},
	CloseRestart:               {"RESTART", "Server is restarting"},
	CloseMaintenance:           {"MAINTENANCE", "Maintenance Mode"},
	CloseTimeout:               {"TIMEOUT", "Timeout"},
	CloseAlreadySubscribed:     {"ALREADY_SUBSCRIBED", "Already Subscribed"},
	CloseNotSubscribed:         {"NOT_SUBSCRIBED", "Not Subscribed"},
	CloseInsufficientPrivilege: {"INSUFFICIENT_PRIVILEGE", "Insufficient Privilege"},
	CloseReconnect:             {"RECONNECT", "Reconnect"},
}

// Name returns the machine-readable code, e.g. "RATE_LIMIT".
func (c CloseCode) Name() string {
	if names, ok := closeCodeNames[c]; ok {
		return names[0]
	}
	return fmt.Sprintf("CLOSE(%d)", uint16(c))
}

func (c CloseCode) String() string {
	if names, ok := closeCodeNames[c]; ok {
		return names[1]
	}
	return fmt.Sprintf("close code %d", uint16(c))
}

func (c CloseCode) Known() bool {
	_, ok := closeCodeNames[c]
	return ok
}

// Retryable reports whether reconnecting after this code can succeed.
// Codes caused by the client's own requests or credentials are not retryable.
func (c CloseCode) Retryable() bool {
	switch c {
	case CloseUnknownOperation, CloseInvalidPayload, CloseAuthFailure, CloseAlreadyIdentified, CloseInsufficientPrivilege:
		return false
	default:
		return true
	}
}

func (c CloseCode) RateLimited() bool {
	return c == CloseRateLimit
}
