// Package upstream owns the single WebSocket connection to the event service.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/eventrelay/internal/adapter/metrics"
	"github.com/pscheid92/eventrelay/internal/domain"
	"github.com/pscheid92/eventrelay/internal/eventapi"
	"github.com/pscheid92/eventrelay/internal/platform/retry"
)

const (
	defaultHeartbeatInterval = 45 * time.Second
	defaultSubscriptionLimit = 500
	closeGracePeriod         = time.Second
	sessionSaveTimeout       = 2 * time.Second
)

type Config struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReconnectDelay   time.Duration
	MaxAttempts      int
	MaxBackoff       time.Duration
	RateLimitBackoff time.Duration
	ResumeEnabled    bool
	// SubscriptionLimit is used until the server announces its own in HELLO.
	SubscriptionLimit int
	Instance          string
}

// DispatchFunc receives every decoded dispatch. It runs on the reader
// goroutine and must not block.
type DispatchFunc func(domain.Dispatch)

// RejectFunc is told about a topic the server refused. The topic has
// already left the desired set.
type RejectFunc func(topic domain.Topic, err error)

type pendingFrame struct {
	op    eventapi.Opcode
	topic domain.Topic
	data  []byte
}

type Manager struct {
	cfg        Config
	clock      clockwork.Clock
	dialer     *websocket.Dialer
	store      domain.SessionStore
	metrics    *metrics.UpstreamMetrics
	onDispatch DispatchFunc
	onReject   RejectFunc

	mu                sync.Mutex
	state             State
	desired           map[domain.Topic]struct{}
	pending           []pendingFrame
	inFlight          []pendingFrame
	sessionID         string
	instanceName      string
	subscriptionLimit int
	resumed           bool
	connectedAt       time.Time
	lastErr           error

	demand   chan struct{}
	flush    chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
	done     chan struct{}
}

type Option func(*Manager)

func WithSessionStore(store domain.SessionStore) Option {
	return func(m *Manager) { m.store = store }
}

func WithMetrics(um *metrics.UpstreamMetrics) Option {
	return func(m *Manager) { m.metrics = um }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

func WithRejectHandler(fn RejectFunc) Option {
	return func(m *Manager) { m.onReject = fn }
}

func NewManager(cfg Config, clock clockwork.Clock, onDispatch DispatchFunc, opts ...Option) *Manager {
	if cfg.SubscriptionLimit <= 0 {
		cfg.SubscriptionLimit = defaultSubscriptionLimit
	}
	m := &Manager{
		cfg:               cfg,
		clock:             clock,
		dialer:            websocket.DefaultDialer,
		onDispatch:        onDispatch,
		desired:           make(map[domain.Topic]struct{}),
		subscriptionLimit: cfg.SubscriptionLimit,
		demand:            make(chan struct{}, 1),
		flush:             make(chan struct{}, 1),
		stopCh:            make(chan struct{}),
		done:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Restore loads the previous session id from the session store so the next
// connection can try to resume it.
func (m *Manager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	state, err := m.store.LoadSession(ctx)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load upstream session: %w", err)
	}

	m.mu.Lock()
	m.sessionID = state.SessionID
	m.mu.Unlock()

	slog.Info("Restored upstream session", "session_id", state.SessionID, "topics", len(state.Topics))
	return nil
}

// Subscribe adds topic to the desired set. Subscribing to a topic that is
// already desired does nothing.
func (m *Manager) Subscribe(topic domain.Topic) error {
	if err := topic.Validate(); err != nil {
		return err
	}
	frame, err := eventapi.SubscribeFrame(topic)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return ErrStopped
	}
	if _, ok := m.desired[topic]; ok {
		m.mu.Unlock()
		return nil
	}
	m.desired[topic] = struct{}{}
	m.pending = append(m.pending, pendingFrame{op: eventapi.OpSubscribe, topic: topic, data: frame})
	m.observeQueuesLocked()
	m.mu.Unlock()

	notify(m.demand)
	notify(m.flush)
	return nil
}

// Unsubscribe removes topic from the desired set. Unknown topics are ignored.
func (m *Manager) Unsubscribe(topic domain.Topic) error {
	frame, err := eventapi.UnsubscribeFrame(topic)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if _, ok := m.desired[topic]; !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.desired, topic)
	m.pending = append(m.pending, pendingFrame{op: eventapi.OpUnsubscribe, topic: topic, data: frame})
	m.observeQueuesLocked()
	m.mu.Unlock()

	notify(m.flush)
	return nil
}

// Desired returns the desired topics, sorted.
func (m *Manager) Desired() []domain.Topic {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.desiredLocked()
}

func (m *Manager) desiredLocked() []domain.Topic {
	topics := make([]domain.Topic, 0, len(m.desired))
	for topic := range m.desired {
		topics = append(topics, topic)
	}
	slices.SortFunc(topics, compareTopics)
	return topics
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := Status{
		State:             m.state,
		SessionID:         m.sessionID,
		Instance:          m.instanceName,
		SubscriptionLimit: m.subscriptionLimit,
		DesiredTopics:     len(m.desired),
		PendingFrames:     len(m.pending),
		Resumed:           m.resumed,
		ConnectedAt:       m.connectedAt,
	}
	if m.lastErr != nil {
		status.LastError = m.lastErr.Error()
	}
	return status
}

// SubscriptionLimit is the configured limit, replaced by the server's once
// a HELLO announced one.
func (m *Manager) SubscriptionLimit() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptionLimit
}

// Run connects whenever at least one topic is desired and keeps the session
// alive until ctx is cancelled, Stop is called or the server rejects the
// client permanently.
func (m *Manager) Run(ctx context.Context) error {
	m.running.Store(true)
	defer close(m.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if err := m.waitForDemand(ctx); err != nil {
			m.setStopped(nil)
			return nil
		}

		sess, err := m.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				m.setStopped(nil)
				return nil
			}
			slog.Error("Upstream connection failed permanently", "error", err)
			m.setStopped(err)
			m.clearSession(ctx)
			return err
		}

		err = m.serve(ctx, sess)
		if ctx.Err() != nil {
			m.setStopped(nil)
			return nil
		}

		action := Classify(err)
		if action == retry.Stop && m.rejectInFlight(err) {
			action = retry.Retry
		}
		if action == retry.Stop {
			slog.Error("Upstream closed session permanently", "error", err)
			m.setStopped(err)
			m.clearSession(ctx)
			return &retry.PermanentError{Err: err}
		}

		delay := m.cfg.ReconnectDelay
		if action == retry.After && m.cfg.RateLimitBackoff > delay {
			delay = m.cfg.RateLimitBackoff
		}

		m.setReconnecting(err)
		m.countReconnect(err)
		slog.Warn("Upstream session ended, reconnecting", "error", err, "delay", delay)

		select {
		case <-m.clock.After(delay):
		case <-ctx.Done():
			m.setStopped(nil)
			return nil
		}
	}
}

// Stop closes the connection and waits for Run to return.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	if m.running.Load() {
		<-m.done
	}
	m.setStopped(nil)
}

func (m *Manager) waitForDemand(ctx context.Context) error {
	for {
		m.mu.Lock()
		wanted := len(m.desired) > 0
		if !wanted && m.state != StateStopped {
			m.state = StateIdle
		}
		m.mu.Unlock()

		if wanted {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.demand:
		}
	}
}

type session struct {
	conn    *websocket.Conn
	hello   eventapi.Hello
	resumed bool
}

func (m *Manager) connect(ctx context.Context) (*session, error) {
	policy := retry.Policy{
		MaxAttempts:      m.cfg.MaxAttempts,
		InitialBackoff:   m.cfg.ReconnectDelay,
		MaxBackoff:       m.cfg.MaxBackoff,
		RateLimitBackoff: m.cfg.RateLimitBackoff,
		Clock:            m.clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			m.setReconnecting(err)
			slog.Warn("Upstream connect attempt failed", "attempt", attempt, "error", err, "backoff", backoff)
		},
	}

	sess, err := retry.Do(ctx, policy, Classify, func() (*session, error) {
		return m.dial(ctx)
	})
	if err != nil {
		return nil, err
	}

	m.onReady(ctx, sess)
	return sess, nil
}

func (m *Manager) dial(ctx context.Context) (*session, error) {
	m.setState(StateConnecting)
	start := m.clock.Now()

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer cancel()

	conn, resp, err := m.dialer.DialContext(dialCtx, m.cfg.URL, m.cfg.Header)
	if err != nil {
		m.countAttempt("error")
		if resp != nil {
			return nil, &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("dial upstream: %w", err)
	}

	sess, err := m.handshake(conn)
	if err != nil {
		m.countAttempt("error")
		_ = conn.Close()
		return nil, err
	}

	m.countAttempt("success")
	if m.metrics != nil {
		m.metrics.HandshakeDuration.Observe(m.clock.Since(start).Seconds())
	}
	return sess, nil
}

// handshake waits for HELLO and, when a previous session is known, tries to resume it.
func (m *Manager) handshake(conn *websocket.Conn) (*session, error) {
	deadline := time.Now().Add(m.cfg.HandshakeTimeout)
	_ = conn.SetReadDeadline(deadline)

	msg, err := readFrame(conn)
	if err != nil {
		return nil, err
	}
	m.countFrame(msg.Op)

	switch msg.Op {
	case eventapi.OpHello:
	case eventapi.OpEndOfStream:
		return nil, endOfStream(msg)
	default:
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrUnexpectedOpcode, eventapi.OpHello, msg.Op)
	}

	hello, err := eventapi.DecodePayload[eventapi.Hello](msg)
	if err != nil {
		return nil, err
	}
	sess := &session{conn: conn, hello: hello}

	m.mu.Lock()
	previous := m.sessionID
	m.mu.Unlock()

	if !m.cfg.ResumeEnabled || previous == "" || previous == hello.SessionID {
		return sess, nil
	}

	resumed, err := m.resume(conn, previous, deadline)
	if err != nil {
		return nil, err
	}
	sess.resumed = resumed
	return sess, nil
}

func (m *Manager) resume(conn *websocket.Conn, previous string, deadline time.Time) (bool, error) {
	frame, err := eventapi.ResumeFrame(previous)
	if err != nil {
		return false, err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return false, fmt.Errorf("write %s: %w", eventapi.OpResume, err)
	}
	m.countSent(eventapi.OpResume)

	_ = conn.SetReadDeadline(deadline)
	for {
		msg, err := readFrame(conn)
		if err != nil {
			return false, err
		}
		m.countFrame(msg.Op)

		switch msg.Op {
		case eventapi.OpAck:
			ack, err := eventapi.DecodePayload[eventapi.Ack](msg)
			if err != nil {
				return false, err
			}
			if ack.Command != eventapi.OpResume.String() {
				continue
			}
			result, err := eventapi.DecodePayload[eventapi.ResumeResult](eventapi.Message{Op: msg.Op, Data: ack.Data})
			if err != nil {
				return false, err
			}
			m.countResume(result.Success)
			slog.Info("Upstream resume answered",
				"success", result.Success,
				"dispatches_replayed", result.DispatchesReplayed,
				"subscriptions_restored", result.SubscriptionsRestored)
			return result.Success, nil
		case eventapi.OpDispatch:
			m.handleDispatch(msg)
		case eventapi.OpEndOfStream:
			return false, endOfStream(msg)
		case eventapi.OpError:
			// A rejected resume falls back to a fresh session.
			m.handleError(msg)
			m.countResume(false)
			return false, nil
		}
	}
}

func (m *Manager) onReady(ctx context.Context, sess *session) {
	m.mu.Lock()
	m.state = StateReady
	m.sessionID = sess.hello.SessionID
	m.instanceName = sess.hello.InstanceName()
	if sess.hello.SubscriptionLimit > 0 {
		m.subscriptionLimit = int(sess.hello.SubscriptionLimit)
	}
	m.resumed = sess.resumed
	m.connectedAt = m.clock.Now()
	m.lastErr = nil
	m.inFlight = nil

	// A fresh session has no subscriptions: replay the desired set instead
	// of frames written against the old one.
	if !sess.resumed {
		m.pending = m.pending[:0]
		for _, topic := range m.desiredLocked() {
			frame, err := eventapi.SubscribeFrame(topic)
			if err != nil {
				continue
			}
			m.pending = append(m.pending, pendingFrame{op: eventapi.OpSubscribe, topic: topic, data: frame})
		}
	}
	m.observeQueuesLocked()
	state := domain.SessionState{
		SessionID: m.sessionID,
		Instance:  m.cfg.Instance,
		Topics:    m.desiredLocked(),
		UpdatedAt: m.connectedAt,
	}
	pending := len(m.pending)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.Connected.Set(1)
	}
	slog.Info("Upstream session ready",
		"session_id", state.SessionID,
		"instance", sess.hello.InstanceName(),
		"resumed", sess.resumed,
		"heartbeat_interval_ms", sess.hello.HeartbeatInterval,
		"subscription_limit", sess.hello.SubscriptionLimit,
		"pending_frames", pending)

	m.saveSession(ctx, state)
	notify(m.flush)
}

// clearSession forgets the persisted session after a permanent stop so a
// restart does not try to resume a session the server refused.
func (m *Manager) clearSession(ctx context.Context) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sessionSaveTimeout)
	defer cancel()
	if err := m.store.ClearSession(ctx); err != nil {
		slog.Warn("Failed to clear upstream session", "error", err)
	}
}

func (m *Manager) saveSession(ctx context.Context, state domain.SessionState) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, sessionSaveTimeout)
	defer cancel()
	if err := m.store.SaveSession(ctx, state); err != nil {
		slog.Warn("Failed to save upstream session", "session_id", state.SessionID, "error", err)
	}
}

// serve runs the writer and reader for one session and returns why it ended.
func (m *Manager) serve(ctx context.Context, sess *session) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errCh <- m.writeLoop(ctx, sess.conn)
	}()
	go func() {
		defer wg.Done()
		errCh <- m.readLoop(sess.conn, heartbeatTimeout(sess.hello))
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
	}
	cancel()

	m.mu.Lock()
	if m.state == StateReady {
		m.state = StateReconnecting
	}
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.Connected.Set(0)
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = sess.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(closeGracePeriod))
	_ = sess.conn.Close()
	wg.Wait()
	return err
}

func (m *Manager) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.flush:
		}

		for {
			frame, ok := m.popPending()
			if !ok {
				break
			}
			_ = conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame.data); err != nil {
				m.requeue(frame)
				return fmt.Errorf("write %s %s: %w", frame.op, frame.topic, err)
			}
			m.countSent(frame.op)
			slog.Debug("Upstream frame sent", "op", frame.op.String(), "topic", frame.topic.String())
		}
	}
}

func (m *Manager) readLoop(conn *websocket.Conn, timeout time.Duration) error {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
		msg, err := readFrame(conn)
		if err != nil {
			return err
		}
		m.countFrame(msg.Op)

		if err := m.handle(msg); err != nil {
			return err
		}
	}
}

// handle processes one frame of a ready session. A non-nil error ends the session.
func (m *Manager) handle(msg eventapi.Message) error {
	switch msg.Op {
	case eventapi.OpDispatch:
		m.handleDispatch(msg)
	case eventapi.OpHeartbeat:
		hb, _ := eventapi.DecodePayload[eventapi.Heartbeat](msg)
		slog.Debug("Upstream heartbeat", "count", hb.Count)
	case eventapi.OpReconnect:
		rc, _ := eventapi.DecodePayload[eventapi.Reconnect](msg)
		return fmt.Errorf("%w: %s", ErrReconnectRequested, rc.Reason)
	case eventapi.OpAck:
		ack, _ := eventapi.DecodePayload[eventapi.Ack](msg)
		slog.Debug("Upstream ack", "command", ack.Command)
		m.acknowledge(ack)
	case eventapi.OpError:
		m.handleError(msg)
	case eventapi.OpEndOfStream:
		return endOfStream(msg)
	default:
		slog.Debug("Ignoring upstream frame", "op", msg.Op.String())
	}
	return nil
}

func (m *Manager) handleDispatch(msg eventapi.Message) {
	d, err := eventapi.DecodePayload[domain.Dispatch](msg)
	if err != nil {
		slog.Warn("Dropping malformed dispatch", "error", err)
		return
	}
	if m.onDispatch != nil {
		m.onDispatch(d)
	}
}

func (m *Manager) handleError(msg eventapi.Message) {
	e, err := eventapi.DecodePayload[eventapi.Error](msg)
	if err != nil {
		slog.Warn("Upstream sent malformed error", "error", err)
		return
	}
	slog.Warn("Upstream error", "message", e.Message, "fields", e.Fields)
}

func (m *Manager) popPending() (pendingFrame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady || len(m.pending) == 0 {
		return pendingFrame{}, false
	}
	frame := m.pending[0]
	m.pending = m.pending[1:]
	m.inFlight = append(m.inFlight, frame)
	m.observeQueuesLocked()
	return frame, true
}

// requeue puts a frame that could not be written back at the front.
func (m *Manager) requeue(frame pendingFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.inFlight); n > 0 && m.inFlight[n-1].op == frame.op && m.inFlight[n-1].topic == frame.topic {
		m.inFlight = m.inFlight[:n-1]
	}
	m.pending = slices.Insert(m.pending, 0, frame)
	m.observeQueuesLocked()
}

// acknowledge settles the frame an ACK answers. The server handles commands
// in order and does not ACK a duplicate SUBSCRIBE, so every older frame
// still in flight has been processed as well.
func (m *Manager) acknowledge(ack eventapi.Ack) {
	var op eventapi.Opcode
	switch ack.Command {
	case eventapi.OpSubscribe.String():
		op = eventapi.OpSubscribe
	case eventapi.OpUnsubscribe.String():
		op = eventapi.OpUnsubscribe
	default:
		return
	}
	sub, err := eventapi.DecodePayload[eventapi.Subscription](eventapi.Message{Op: eventapi.OpAck, Data: ack.Data})

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, frame := range m.inFlight {
		if frame.op != op || (err == nil && frame.topic != sub.Topic()) {
			continue
		}
		m.inFlight = m.inFlight[i+1:]
		return
	}
}

// rejectInFlight recovers from an INVALID_PAYLOAD close caused by a
// subscription frame. The oldest unacknowledged frame is the one the
// server refused: its topic leaves the desired set so the next session
// does not replay it, and the manager reconnects.
func (m *Manager) rejectInFlight(err error) bool {
	var closeErr *CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != eventapi.CloseInvalidPayload {
		return false
	}

	m.mu.Lock()
	if len(m.inFlight) == 0 {
		m.mu.Unlock()
		return false
	}
	frame := m.inFlight[0]
	m.inFlight = nil
	_, desired := m.desired[frame.topic]
	rejected := frame.op == eventapi.OpSubscribe && desired
	if rejected {
		delete(m.desired, frame.topic)
		m.observeQueuesLocked()
	}
	m.mu.Unlock()

	slog.Warn("Upstream rejected subscription frame", "op", frame.op.String(), "topic", frame.topic.String(), "error", err)
	if rejected && m.onReject != nil {
		m.onReject(frame.topic, err)
	}
	return true
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateStopped {
		m.state = state
	}
}

func (m *Manager) setReconnecting(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateStopped {
		m.state = StateReconnecting
		m.lastErr = err
	}
}

func (m *Manager) setStopped(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateStopped
	if err != nil {
		m.lastErr = err
	}
	if m.metrics != nil {
		m.metrics.Connected.Set(0)
	}
}

func (m *Manager) observeQueuesLocked() {
	if m.metrics == nil {
		return
	}
	m.metrics.PendingFrames.Set(float64(len(m.pending)))
	m.metrics.DesiredTopics.Set(float64(len(m.desired)))
}

func (m *Manager) countFrame(op eventapi.Opcode) {
	if m.metrics != nil {
		m.metrics.FramesReceived.WithLabelValues(op.String()).Inc()
	}
}

func (m *Manager) countSent(op eventapi.Opcode) {
	if m.metrics != nil {
		m.metrics.FramesSent.WithLabelValues(op.String()).Inc()
	}
}

func (m *Manager) countAttempt(result string) {
	if m.metrics != nil {
		m.metrics.ConnectAttempts.WithLabelValues(result).Inc()
	}
}

func (m *Manager) countResume(success bool) {
	if m.metrics == nil {
		return
	}
	result := "fresh"
	if success {
		result = "resumed"
	}
	m.metrics.ResumeResults.WithLabelValues(result).Inc()
}

func (m *Manager) countReconnect(err error) {
	if m.metrics == nil {
		return
	}
	reason := "error"
	var closeErr *CloseError
	switch {
	case errors.Is(err, ErrReconnectRequested):
		reason = "requested"
	case errors.Is(err, ErrHeartbeatTimeout):
		reason = "heartbeat_timeout"
	case errors.As(err, &closeErr):
		reason = closeErr.Code.Name()
	}
	m.metrics.Reconnects.WithLabelValues(reason).Inc()
}

func readFrame(conn *websocket.Conn) (eventapi.Message, error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return eventapi.Message{}, fromReadError(err)
		}
		msg, err := eventapi.Decode(data)
		if err != nil {
			slog.Warn("Skipping undecodable upstream frame", "error", err)
			continue
		}
		return msg, nil
	}
}

func endOfStream(msg eventapi.Message) error {
	eos, err := eventapi.DecodePayload[eventapi.EndOfStream](msg)
	if err != nil {
		return err
	}
	return &CloseError{Code: eos.Code, Reason: eos.Message}
}

// heartbeatTimeout allows one and a half heartbeat intervals of silence.
func heartbeatTimeout(hello eventapi.Hello) time.Duration {
	interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	return interval + interval/2
}

func compareTopics(a, b domain.Topic) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	default:
		return 0
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
