// Package relay fans upstream dispatches out to local ports and keeps the
// upstream subscription set in step with what the ports asked for.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/eventrelay/internal/adapter/metrics"
	"github.com/pscheid92/eventrelay/internal/dispatch"
	"github.com/pscheid92/eventrelay/internal/domain"
	apperrors "github.com/pscheid92/eventrelay/internal/platform/errors"
	"github.com/pscheid92/eventrelay/internal/subscription"
)

const (
	commandBufferSize = 256
	mirrorTimeout     = time.Second
)

// Upstream is the part of the upstream connection manager the relay drives.
type Upstream interface {
	Subscribe(topic domain.Topic) error
	Unsubscribe(topic domain.Topic) error
	SubscriptionLimit() int
}

// relayCmd is the command interface for the Relay actor.
type relayCmd interface{ isRelayCmd() }

type baseRelayCmd struct{}

func (baseRelayCmd) isRelayCmd() {}

type connectCmd struct {
	baseRelayCmd
	port  Port
	reply chan error
}

type disconnectCmd struct {
	baseRelayCmd
	portID string
	reply  chan struct{}
}

type subscribeCmd struct {
	baseRelayCmd
	portID    string
	topic     domain.Topic
	handlerID domain.HandlerID
	reply     chan error
}

type unsubscribeCmd struct {
	baseRelayCmd
	portID    string
	topic     domain.Topic
	handlerID domain.HandlerID
	reply     chan error
}

type dispatchCmd struct {
	baseRelayCmd
	dispatch domain.Dispatch
}

type rejectCmd struct {
	baseRelayCmd
	topic domain.Topic
	err   error
}

type snapshotCmd struct {
	baseRelayCmd
	reply chan Snapshot
}

type stopCmd struct {
	baseRelayCmd
}

type Config struct {
	MaxPorts int
}

// Relay owns ports and the subscription registry on a single goroutine.
type Relay struct {
	cfg      Config
	clock    clockwork.Clock
	upstream Upstream
	mirror   domain.DispatchMirror
	metrics  *metrics.RelayMetrics

	cmdCh    chan relayCmd
	done     chan struct{}
	stopOnce sync.Once

	ports    map[string]Port
	registry *subscription.Registry
	router   *dispatch.Router
}

type Option func(*Relay)

func WithMirror(mirror domain.DispatchMirror) Option {
	return func(r *Relay) { r.mirror = mirror }
}

func WithMetrics(rm *metrics.RelayMetrics) Option {
	return func(r *Relay) { r.metrics = rm }
}

func New(cfg Config, upstream Upstream, clock clockwork.Clock, opts ...Option) *Relay {
	registry := subscription.NewRegistry()
	r := &Relay{
		cfg:      cfg,
		clock:    clock,
		upstream: upstream,
		cmdCh:    make(chan relayCmd, commandBufferSize),
		done:     make(chan struct{}),
		ports:    make(map[string]Port),
		registry: registry,
		router:   dispatch.NewRouter(registry),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.run()
	return r
}

func (r *Relay) run() {
	for cmd := range r.cmdCh {
		switch c := cmd.(type) {
		case connectCmd:
			c.reply <- r.handleConnect(c.port)
		case disconnectCmd:
			r.removePort(c.portID, "disconnected")
			close(c.reply)
		case subscribeCmd:
			c.reply <- r.handleSubscribe(c)
		case unsubscribeCmd:
			c.reply <- r.handleUnsubscribe(c)
		case dispatchCmd:
			r.handleDispatch(c.dispatch)
		case rejectCmd:
			r.handleReject(c.topic, c.err)
		case snapshotCmd:
			c.reply <- r.snapshot()
		case stopCmd:
			r.handleStop()
			return
		}
	}
}

// --- Public API ---

// Connect registers a port. It fails with ErrPortLimit once MaxPorts ports are connected.
func (r *Relay) Connect(port Port) error {
	reply := make(chan error, 1)
	if err := r.send(connectCmd{port: port, reply: reply}); err != nil {
		return err
	}
	return r.await(reply)
}

// Disconnect removes a port and releases every handler it registered.
func (r *Relay) Disconnect(portID string) {
	reply := make(chan struct{})
	if err := r.send(disconnectCmd{portID: portID, reply: reply}); err != nil {
		return
	}
	select {
	case <-reply:
	case <-r.done:
	}
}

func (r *Relay) Subscribe(portID string, topic domain.Topic, handlerID domain.HandlerID) error {
	reply := make(chan error, 1)
	if err := r.send(subscribeCmd{portID: portID, topic: topic, handlerID: handlerID, reply: reply}); err != nil {
		return err
	}
	return r.await(reply)
}

func (r *Relay) Unsubscribe(portID string, topic domain.Topic, handlerID domain.HandlerID) error {
	reply := make(chan error, 1)
	if err := r.send(unsubscribeCmd{portID: portID, topic: topic, handlerID: handlerID, reply: reply}); err != nil {
		return err
	}
	return r.await(reply)
}

// Handle applies a port request.
func (r *Relay) Handle(portID string, req Request) error {
	switch req.Type {
	case RequestSubscribe:
		return r.Subscribe(portID, req.Topic(), req.HandlerID)
	case RequestUnsubscribe:
		return r.Unsubscribe(portID, req.Topic(), req.HandlerID)
	default:
		return apperrors.ValidationError(fmt.Sprintf("unknown request type %d", req.Type))
	}
}

// OnDispatch queues d for fan-out. Dispatches arriving after Stop are dropped.
func (r *Relay) OnDispatch(d domain.Dispatch) {
	_ = r.send(dispatchCmd{dispatch: d})
}

// RejectTopic drops every handler of a topic the upstream server refused
// and reports the rejection to the ports that registered them.
func (r *Relay) RejectTopic(topic domain.Topic, cause error) {
	_ = r.send(rejectCmd{topic: topic, err: cause})
}

func (r *Relay) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	if err := r.send(snapshotCmd{reply: reply}); err != nil {
		return Snapshot{Topics: []TopicHandlers{}}
	}
	select {
	case s := <-reply:
		return s
	case <-r.done:
		return Snapshot{Topics: []TopicHandlers{}}
	}
}

// Stop closes every port and ends the actor.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() {
		r.cmdCh <- stopCmd{}
	})
	<-r.done
}

func (r *Relay) send(cmd relayCmd) error {
	select {
	case <-r.done:
		return domain.ErrRelayStopped
	default:
	}

	select {
	case r.cmdCh <- cmd:
		return nil
	case <-r.done:
		return domain.ErrRelayStopped
	}
}

func (r *Relay) await(reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-r.done:
		return domain.ErrRelayStopped
	}
}

// --- Actor handlers ---

func (r *Relay) handleConnect(port Port) error {
	if r.cfg.MaxPorts > 0 && len(r.ports) >= r.cfg.MaxPorts {
		if r.metrics != nil {
			r.metrics.PortsRejected.Inc()
		}
		slog.Warn("Rejecting port: limit reached", "port_id", port.ID(), "max_ports", r.cfg.MaxPorts)
		return fmt.Errorf("%w (%d)", domain.ErrPortLimit, r.cfg.MaxPorts)
	}

	r.ports[port.ID()] = port
	slog.Debug("Port connected", "port_id", port.ID(), "ports", len(r.ports))
	r.observe()
	return nil
}

func (r *Relay) handleSubscribe(c subscribeCmd) error {
	if _, ok := r.ports[c.portID]; !ok {
		return domain.ErrUnknownPort
	}
	if err := c.topic.Validate(); err != nil {
		return err
	}
	if c.handlerID == "" {
		return apperrors.ValidationError("missing handler id")
	}

	if !r.registry.Has(c.topic) {
		if limit := r.upstream.SubscriptionLimit(); limit > 0 && r.registry.Len() >= limit {
			return fmt.Errorf("%w (%d topics)", domain.ErrSubscriptionLimit, limit)
		}
	}

	ref := domain.HandlerRef{PortID: c.portID, HandlerID: c.handlerID}
	if first := r.registry.Add(c.topic, ref); first {
		if err := r.upstream.Subscribe(c.topic); err != nil {
			r.registry.Remove(c.topic, ref)
			return fmt.Errorf("subscribe %s upstream: %w", c.topic, err)
		}
		slog.Info("Topic subscribed", "topic", c.topic.String())
	}

	r.observe()
	return nil
}

func (r *Relay) handleUnsubscribe(c unsubscribeCmd) error {
	if _, ok := r.ports[c.portID]; !ok {
		return domain.ErrUnknownPort
	}

	ref := domain.HandlerRef{PortID: c.portID, HandlerID: c.handlerID}
	if last := r.registry.Remove(c.topic, ref); last {
		r.unsubscribeUpstream(c.topic)
	}

	r.observe()
	return nil
}

func (r *Relay) handleDispatch(d domain.Dispatch) {
	start := r.clock.Now()
	deliveries := r.router.Route(d)

	sent := 0
	for _, delivery := range deliveries {
		port, ok := r.ports[delivery.PortID]
		if !ok {
			continue
		}
		if port.Send(PortMessage{HandlerIDs: delivery.HandlerIDs, Payload: &d}) {
			sent++
			continue
		}

		slog.Warn("Evicting slow port", "port_id", delivery.PortID, "type", string(d.Type))
		if r.metrics != nil {
			r.metrics.PortsEvicted.Inc()
		}
		r.removePort(delivery.PortID, "slow consumer")
	}

	r.mirrorDispatch(d)

	if r.metrics != nil {
		matched := "false"
		if len(deliveries) > 0 {
			matched = "true"
		}
		r.metrics.Dispatches.WithLabelValues(d.Type.Category(), matched).Inc()
		r.metrics.Deliveries.Add(float64(sent))
		r.metrics.FanoutDuration.Observe(r.clock.Since(start).Seconds())
	}
}

// handleReject leaves the upstream side alone: the manager already dropped the topic.
func (r *Relay) handleReject(topic domain.Topic, cause error) {
	refs := r.registry.Handlers(topic)
	if len(refs) == 0 {
		return
	}
	slog.Warn("Topic rejected upstream", "topic", topic.String(), "handlers", len(refs), "error", cause)

	rejectErr := fmt.Errorf("%w: %s", domain.ErrTopicRejected, topic)
	for _, ref := range refs {
		r.registry.Remove(topic, ref)
	}
	for _, ref := range refs {
		port, ok := r.ports[ref.PortID]
		if !ok {
			continue
		}
		if !port.Send(PortMessage{Error: NewPortError(rejectErr, ref.HandlerID)}) {
			slog.Warn("Evicting slow port", "port_id", ref.PortID, "topic", topic.String())
			if r.metrics != nil {
				r.metrics.PortsEvicted.Inc()
			}
			r.removePort(ref.PortID, "slow consumer")
		}
	}
	r.observe()
}

func (r *Relay) mirrorDispatch(d domain.Dispatch) {
	if r.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := r.mirror.MirrorDispatch(ctx, d); err != nil {
		slog.Debug("Dispatch not mirrored", "type", string(d.Type), "error", err)
	}
}

func (r *Relay) removePort(portID, reason string) {
	port, ok := r.ports[portID]
	if !ok {
		return
	}
	delete(r.ports, portID)
	port.Close(reason)

	for _, topic := range r.registry.RemovePort(portID) {
		r.unsubscribeUpstream(topic)
	}
	slog.Debug("Port disconnected", "port_id", portID, "reason", reason, "ports", len(r.ports))
	r.observe()
}

func (r *Relay) unsubscribeUpstream(topic domain.Topic) {
	if err := r.upstream.Unsubscribe(topic); err != nil {
		slog.Warn("Failed to unsubscribe upstream", "topic", topic.String(), "error", err)
		return
	}
	slog.Info("Topic unsubscribed", "topic", topic.String())
}

func (r *Relay) handleStop() {
	for id, port := range r.ports {
		port.Close("relay shutting down")
		delete(r.ports, id)
	}
	r.observe()
	close(r.done)
}

func (r *Relay) observe() {
	if r.metrics == nil {
		return
	}
	r.metrics.ActivePorts.Set(float64(len(r.ports)))
	r.metrics.Topics.Set(float64(r.registry.Len()))
	r.metrics.Handlers.Set(float64(r.registry.Total()))
}

// --- Snapshot ---

type TopicHandlers struct {
	Topic    domain.Topic `json:"topic"`
	Handlers int          `json:"handlers"`
}

type Snapshot struct {
	Ports    int             `json:"ports"`
	Handlers int             `json:"handlers"`
	Topics   []TopicHandlers `json:"topics"`
}

func (r *Relay) snapshot() Snapshot {
	topics := r.registry.Topics()
	s := Snapshot{
		Ports:    len(r.ports),
		Handlers: r.registry.Total(),
		Topics:   make([]TopicHandlers, 0, len(topics)),
	}
	for _, topic := range topics {
		s.Topics = append(s.Topics, TopicHandlers{Topic: topic, Handlers: r.registry.HandlerCount(topic)})
	}
	return s
}

// TopicStrings returns the "type:id" form of every topic, sorted.
func (s Snapshot) TopicStrings() []string {
	out := make([]string, 0, len(s.Topics))
	for _, t := range s.Topics {
		out = append(out, t.Topic.String())
	}
	slices.Sort(out)
	return out
}
