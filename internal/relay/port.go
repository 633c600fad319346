package relay

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pscheid92/eventrelay/internal/domain"
	apperrors "github.com/pscheid92/eventrelay/internal/platform/errors"
)

// Port is one local consumer of the relay, e.g. a browser tab or a process.
type Port interface {
	ID() string
	// Send enqueues msg without blocking and reports false when the port
	// cannot take it.
	Send(msg PortMessage) bool
	// Close releases the port. It must be safe to call more than once.
	Close(reason string)
}

// PortMessage is what the relay sends to a port: either a dispatch for the
// listed handlers or an error.
type PortMessage struct {
	HandlerIDs []domain.HandlerID `json:"handlerIds,omitempty"`
	Payload    *domain.Dispatch   `json:"payload,omitempty"`
	Error      *PortError         `json:"error,omitempty"`
}

type PortError struct {
	Type      apperrors.ErrorType `json:"type"`
	Message   string              `json:"message"`
	HandlerID domain.HandlerID    `json:"handlerId,omitempty"`
}

// NewPortError describes err for the port that caused it.
func NewPortError(err error, handlerID domain.HandlerID) *PortError {
	structured := apperrors.AsStructuredError(err)
	return &PortError{
		Type:      structured.Type,
		Message:   structured.Message,
		HandlerID: handlerID,
	}
}

type RequestType int

const (
	RequestSubscribe   RequestType = 0
	RequestUnsubscribe RequestType = 1
)

// Request is a message from a port.
type Request struct {
	Type         RequestType      `json:"type"`
	DispatchType domain.EventType `json:"dispatchType"`
	ID           string           `json:"id"`
	HandlerID    domain.HandlerID `json:"handlerId"`
}

func (r Request) Topic() domain.Topic {
	return domain.NewTopic(r.DispatchType, r.ID)
}

// LocalPort is an in-process port backed by a buffered channel.
type LocalPort struct {
	id       string
	messages chan PortMessage
	closed   chan struct{}
	once     sync.Once

	mu     sync.Mutex
	reason string
}

func NewLocalPort(bufferSize int) *LocalPort {
	return &LocalPort{
		id:       uuid.NewString(),
		messages: make(chan PortMessage, bufferSize),
		closed:   make(chan struct{}),
	}
}

func (p *LocalPort) ID() string { return p.id }

func (p *LocalPort) Send(msg PortMessage) bool {
	select {
	case <-p.closed:
		return false
	default:
	}

	select {
	case p.messages <- msg:
		return true
	default:
		return false
	}
}

func (p *LocalPort) Close(reason string) {
	p.once.Do(func() {
		p.mu.Lock()
		p.reason = reason
		p.mu.Unlock()
		close(p.closed)
	})
}

// Messages delivers what the relay sent. It is never closed; select on Done.
func (p *LocalPort) Messages() <-chan PortMessage { return p.messages }

func (p *LocalPort) Done() <-chan struct{} { return p.closed }

func (p *LocalPort) CloseReason() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason
}
