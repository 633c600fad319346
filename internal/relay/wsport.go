package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/eventrelay/internal/domain"
	apperrors "github.com/pscheid92/eventrelay/internal/platform/errors"
	"golang.org/x/time/rate"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 60 * time.Second
	defaultBufferSize   = 16
	maxRequestSize      = 4096
)

type PortConfig struct {
	BufferSize   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration
	// RateLimit is the sustained number of requests per second a port may send.
	// Zero disables limiting.
	RateLimit float64
	RateBurst int
}

func (c PortConfig) withDefaults() PortConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = defaultPongTimeout
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	return c
}

// wsPort is a Port backed by a WebSocket connection. Writes happen on a
// dedicated goroutine; Send only enqueues.
type wsPort struct {
	id          string
	connection  *websocket.Conn
	clock       clockwork.Clock
	cfg         PortConfig
	sendChannel chan []byte
	doneChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func newWSPort(connection *websocket.Conn, clock clockwork.Clock, cfg PortConfig) *wsPort {
	p := &wsPort{
		id:          uuid.NewString(),
		connection:  connection,
		clock:       clock,
		cfg:         cfg,
		sendChannel: make(chan []byte, cfg.BufferSize),
		doneChannel: make(chan struct{}),
	}
	p.configurePongHandler()
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *wsPort) ID() string { return p.id }

func (p *wsPort) Send(msg PortMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to encode port message", "port_id", p.id, "error", err)
		return true
	}
	return p.enqueue(data)
}

func (p *wsPort) enqueue(data []byte) bool {
	select {
	case <-p.doneChannel:
		return false
	default:
	}

	select {
	case p.sendChannel <- data:
		return true
	default:
		return false
	}
}

// Close stops the writer, flushes what is still buffered and sends a close
// frame with reason. It does not wait for a slow peer.
func (p *wsPort) Close(reason string) {
	p.stopOnce.Do(func() {
		close(p.doneChannel)
		go func() {
			// The close frame must not race the writer goroutine.
			p.wg.Wait()
			if p.drain() {
				closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
				p.updateWriteDeadline()
				_ = p.connection.WriteMessage(websocket.CloseMessage, closeMsg)
			}
			_ = p.connection.Close()
		}()
	})
}

func (p *wsPort) drain() bool {
	for {
		select {
		case msg := <-p.sendChannel:
			p.updateWriteDeadline()
			if err := p.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				return false
			}
		default:
			return true
		}
	}
}

func (p *wsPort) run() {
	ticker := p.clock.NewTicker(p.cfg.PingInterval)
	defer ticker.Stop()
	defer p.wg.Done()

	for {
		select {
		case msg := <-p.sendChannel:
			p.updateWriteDeadline()
			if err := p.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = p.connection.Close()
				return
			}
		case <-ticker.Chan():
			p.updateWriteDeadline()
			if err := p.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = p.connection.Close()
				return
			}
		case <-p.doneChannel:
			return
		}
	}
}

func (p *wsPort) configurePongHandler() {
	p.updateReadDeadline()
	p.connection.SetPongHandler(func(string) error {
		p.updateReadDeadline()
		return nil
	})
}

func (p *wsPort) updateWriteDeadline() {
	_ = p.connection.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
}

func (p *wsPort) updateReadDeadline() {
	_ = p.connection.SetReadDeadline(time.Now().Add(p.cfg.PongTimeout))
}

func (p *wsPort) sendError(err error, handlerID domain.HandlerID) {
	p.Send(PortMessage{Error: NewPortError(err, handlerID)})
}

// ServePort registers connection as a port and reads its requests until the
// connection ends. The port is disconnected before ServePort returns.
func (r *Relay) ServePort(ctx context.Context, connection *websocket.Conn, cfg PortConfig) error {
	cfg = cfg.withDefaults()
	port := newWSPort(connection, r.clock, cfg)

	if err := r.Connect(port); err != nil {
		port.sendError(err, "")
		port.Close(apperrors.AsStructuredError(err).Message)
		return err
	}
	defer r.Disconnect(port.ID())

	slog.InfoContext(ctx, "Port connected", "port_id", port.ID())

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	connection.SetReadLimit(maxRequestSize)
	for {
		_, data, err := connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slog.DebugContext(ctx, "Port read failed", "port_id", port.ID(), "error", err)
			}
			slog.InfoContext(ctx, "Port disconnected", "port_id", port.ID())
			return nil
		}
		port.updateReadDeadline()

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			r.countRequest("invalid", "error")
			port.sendError(apperrors.ValidationError("malformed request"), "")
			continue
		}

		kind := requestKind(req.Type)
		if !limiter.Allow() {
			r.countRequest(kind, "rate_limited")
			port.sendError(apperrors.RateLimitError("too many requests"), req.HandlerID)
			continue
		}

		if err := r.Handle(port.ID(), req); err != nil {
			r.countRequest(kind, "error")
			slog.DebugContext(ctx, "Port request rejected",
				"port_id", port.ID(),
				"topic", req.Topic().String(),
				"handler_id", string(req.HandlerID),
				"error", err)
			port.sendError(err, req.HandlerID)
			continue
		}
		r.countRequest(kind, "ok")
	}
}

func (r *Relay) countRequest(kind, result string) {
	if r.metrics != nil {
		r.metrics.PortMessages.WithLabelValues(kind, result).Inc()
	}
}

func requestKind(t RequestType) string {
	switch t {
	case RequestSubscribe:
		return "subscribe"
	case RequestUnsubscribe:
		return "unsubscribe"
	default:
		return "unknown"
	}
}
