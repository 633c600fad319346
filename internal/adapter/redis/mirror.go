package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pscheid92/eventrelay/internal/adapter/metrics"
	"github.com/pscheid92/eventrelay/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	dispatchChannelPrefix   = "eventrelay:dispatch:"
	defaultMirrorBufferSize = 256
)

var ErrMirrorFull = errors.New("dispatch mirror buffer full")

// DispatchChannel is the pub/sub channel a dispatch of type t is published on.
func DispatchChannel(t domain.EventType) string {
	return dispatchChannelPrefix + string(t)
}

// DispatchMirror publishes dispatches to Redis from its own goroutine so a
// slow Redis never holds up fan-out.
type DispatchMirror struct {
	rdb     goredis.Cmdable
	queue   chan domain.Dispatch
	metrics *metrics.RedisMetrics
}

var _ domain.DispatchMirror = (*DispatchMirror)(nil)

func NewDispatchMirror(rdb goredis.Cmdable, bufferSize int, rm *metrics.RedisMetrics) *DispatchMirror {
	if bufferSize <= 0 {
		bufferSize = defaultMirrorBufferSize
	}
	return &DispatchMirror{
		rdb:     rdb,
		queue:   make(chan domain.Dispatch, bufferSize),
		metrics: rm,
	}
}

// MirrorDispatch queues d for publishing. It never blocks.
func (m *DispatchMirror) MirrorDispatch(_ context.Context, d domain.Dispatch) error {
	select {
	case m.queue <- d:
		return nil
	default:
		if m.metrics != nil {
			m.metrics.MirrorDropped.Inc()
		}
		return ErrMirrorFull
	}
}

// Run publishes queued dispatches until ctx is cancelled.
func (m *DispatchMirror) Run(ctx context.Context) {
	for {
		select {
		case d := <-m.queue:
			m.publish(ctx, d)
		case <-ctx.Done():
			return
		}
	}
}

func (m *DispatchMirror) publish(ctx context.Context, d domain.Dispatch) {
	data, err := json.Marshal(d)
	if err != nil {
		slog.Error("Failed to encode dispatch for mirror", "type", string(d.Type), "error", err)
		return
	}
	if err := m.rdb.Publish(ctx, DispatchChannel(d.Type), data).Err(); err != nil {
		if m.metrics != nil {
			m.metrics.MirrorFailed.Inc()
		}
		slog.Debug("Failed to publish dispatch", "type", string(d.Type), "error", err)
		return
	}
	if m.metrics != nil {
		m.metrics.MirrorPublished.Inc()
	}
}

// Subscription follows mirrored dispatches.
type Subscription struct {
	sub    *goredis.PubSub
	Ch     <-chan domain.Dispatch
	cancel context.CancelFunc
}

func (s *Subscription) Close() {
	s.cancel()
	_ = s.sub.Close()
}

// SubscribeDispatches follows dispatches of the given types. Wildcard types
// ("emote_set.*") become channel patterns; no types follows everything.
func SubscribeDispatches(ctx context.Context, rdb *goredis.Client, types ...domain.EventType) (*Subscription, error) {
	patterns := make([]string, 0, len(types))
	for _, t := range types {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnknownEventType, t)
		}
		patterns = append(patterns, DispatchChannel(t))
	}
	if len(patterns) == 0 {
		patterns = append(patterns, dispatchChannelPrefix+"*")
	}

	sub := rdb.PSubscribe(ctx, patterns...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	ch := make(chan domain.Dispatch, 16)

	go func() {
		defer close(ch)
		msgCh := sub.Channel()
		for {
			select {
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				var d domain.Dispatch
				if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
					slog.Warn("Failed to decode mirrored dispatch", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case ch <- d:
				default:
					// Drop if receiver is slow
				}
			case <-subCtx.Done():
				return
			}
		}
	}()

	return &Subscription{sub: sub, Ch: ch, cancel: cancel}, nil
}
