// Package relayclient is the consumer side of the relay port protocol. A
// Client multiplexes any number of callbacks over one WebSocket connection to
// the relay and restores them after the connection drops.
package relayclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/eventrelay/internal/domain"
	"github.com/pscheid92/eventrelay/internal/platform/retry"
	"github.com/pscheid92/eventrelay/internal/relay"
	"golang.org/x/sync/singleflight"
)

const (
	defaultWriteTimeout     = 5 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
)

var ErrClosed = errors.New("relay client closed")

// Handler receives dispatches for one subscription. Handlers run on the
// client's reader goroutine and should return quickly.
type Handler func(domain.Dispatch)

type Config struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// Redial governs reconnecting after the connection drops.
	Redial retry.Policy
	// OnError observes error messages the relay sends back. Optional.
	OnError func(*relay.PortError)
}

type subscription struct {
	topic   domain.Topic
	handler Handler
}

type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	ctx    context.Context
	cancel context.CancelFunc
	dials  singleflight.Group
	wg     sync.WaitGroup

	mu            sync.Mutex
	conn          *websocket.Conn
	subscriptions map[domain.HandlerID]subscription
	closed        bool

	writeMu sync.Mutex
}

type Option func(*Client)

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

func New(cfg Config, clock clockwork.Clock, opts ...Option) *Client {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.Redial.Clock == nil {
		cfg.Redial.Clock = clock
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:           cfg,
		dialer:        websocket.DefaultDialer,
		ctx:           ctx,
		cancel:        cancel,
		subscriptions: make(map[domain.HandlerID]subscription),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers handler for dispatches on (eventType, objectID). The
// first call dials the relay; concurrent first callers share that dial. The
// returned function removes the subscription.
func (c *Client) Subscribe(ctx context.Context, eventType domain.EventType, objectID string, handler Handler) (func() error, error) {
	topic := domain.NewTopic(eventType, objectID)
	if err := topic.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.New("nil handler")
	}

	conn, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}

	id := domain.HandlerID(uuid.NewString())
	c.mu.Lock()
	c.subscriptions[id] = subscription{topic: topic, handler: handler}
	c.mu.Unlock()

	if err := c.write(conn, request(relay.RequestSubscribe, topic, id)); err != nil {
		c.remove(id)
		return nil, fmt.Errorf("send subscribe: %w", err)
	}

	var once sync.Once
	unsubscribe := func() error {
		var err error
		once.Do(func() { err = c.unsubscribe(id, topic) })
		return err
	}
	return unsubscribe, nil
}

func (c *Client) unsubscribe(id domain.HandlerID, topic domain.Topic) error {
	c.remove(id)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		// Nothing to tell the relay; the next dial will not replay id.
		return nil
	}
	if err := c.write(conn, request(relay.RequestUnsubscribe, topic, id)); err != nil {
		return fmt.Errorf("send unsubscribe: %w", err)
	}
	return nil
}

func (c *Client) remove(id domain.HandlerID) {
	c.mu.Lock()
	delete(c.subscriptions, id)
	c.mu.Unlock()
}

// Len returns the number of live subscriptions.
func (c *Client) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions)
}

// Close drops the connection and every subscription. It waits for the reader.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.subscriptions = make(map[domain.HandlerID]subscription)
	c.mu.Unlock()

	c.cancel()
	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = conn.Close()
	}
	c.wg.Wait()
	return err
}

// connection returns the live connection, dialing when there is none. The
// shared dial belongs to the client, ctx only bounds this caller's wait.
func (c *Client) connection(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.conn != nil {
		conn := c.conn
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	result := c.dials.DoChan("dial", func() (any, error) {
		// A dial may have finished between the check above and this call.
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			return conn, nil
		}
		return c.dial(c.ctx)
	})
	select {
	case res := <-result:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*websocket.Conn), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(dialCtx, c.cfg.URL, c.cfg.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, ErrClosed
	}
	c.conn = conn
	replay := make([]relay.Request, 0, len(c.subscriptions))
	for id, sub := range c.subscriptions {
		replay = append(replay, request(relay.RequestSubscribe, sub.topic, id))
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go c.read(conn)

	for _, req := range replay {
		if err := c.write(conn, req); err != nil {
			// The reader notices the broken connection and redials.
			slog.Warn("Failed to replay subscription", "handler_id", string(req.HandlerID), "error", err)
			break
		}
	}
	if len(replay) > 0 {
		slog.Info("Relay subscriptions replayed", "count", len(replay))
	}
	return conn, nil
}

func (c *Client) read(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.lost(conn, err)
			return
		}

		var msg relay.PortMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Malformed relay message", "error", err)
			continue
		}
		if msg.Error != nil {
			slog.Warn("Relay rejected request",
				"type", string(msg.Error.Type),
				"message", msg.Error.Message,
				"handler_id", string(msg.Error.HandlerID))
			// A rejected handler is not registered with the relay; replaying it would fail again.
			if msg.Error.HandlerID != "" {
				c.remove(msg.Error.HandlerID)
			}
			if c.cfg.OnError != nil {
				c.cfg.OnError(msg.Error)
			}
			continue
		}
		if msg.Payload != nil {
			c.deliver(msg.HandlerIDs, *msg.Payload)
		}
	}
}

func (c *Client) deliver(ids []domain.HandlerID, d domain.Dispatch) {
	handlers := make([]Handler, 0, len(ids))
	c.mu.Lock()
	for _, id := range ids {
		if sub, ok := c.subscriptions[id]; ok {
			handlers = append(handlers, sub.handler)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(d)
	}
}

// lost clears conn and, unless the client is closed, redials in the background.
func (c *Client) lost(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	closed := c.closed
	pending := len(c.subscriptions)
	c.mu.Unlock()
	_ = conn.Close()

	if closed {
		return
	}
	slog.Warn("Relay connection lost", "error", cause, "subscriptions", pending)
	if pending == 0 {
		// Dial lazily on the next Subscribe.
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := retry.DoVoid(c.ctx, c.cfg.Redial, classifyDial, func() error {
			_, err := c.connection(c.ctx)
			return err
		})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
			slog.Error("Giving up on relay connection", "error", err)
		}
	}()
}

func classifyDial(err error) retry.Action {
	if errors.Is(err, ErrClosed) {
		return retry.Stop
	}
	return retry.Retry
}

func (c *Client) write(conn *websocket.Conn, req relay.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func request(t relay.RequestType, topic domain.Topic, id domain.HandlerID) relay.Request {
	return relay.Request{Type: t, DispatchType: topic.Type, ID: topic.ObjectID, HandlerID: id}
}
