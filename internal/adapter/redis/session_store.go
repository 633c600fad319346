package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pscheid92/eventrelay/internal/adapter/metrics"
	"github.com/pscheid92/eventrelay/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix  = "eventrelay:session:"
	defaultSessionTTL = 10 * time.Minute
)

// SessionStore keeps the last upstream session of one relay instance under a
// single expiring key.
type SessionStore struct {
	rdb     goredis.Cmdable
	key     string
	ttl     time.Duration
	metrics *metrics.RedisMetrics
}

var _ domain.SessionStore = (*SessionStore)(nil)

func NewSessionStore(rdb goredis.Cmdable, instanceID string, ttl time.Duration, rm *metrics.RedisMetrics) *SessionStore {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &SessionStore{
		rdb:     rdb,
		key:     sessionKeyPrefix + instanceID,
		ttl:     ttl,
		metrics: rm,
	}
}

func (s *SessionStore) SaveSession(ctx context.Context, state domain.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		s.count("save", "error")
		return fmt.Errorf("failed to save session: %w", err)
	}
	s.count("save", "ok")
	return nil
}

func (s *SessionStore) LoadSession(ctx context.Context) (*domain.SessionState, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		s.count("load", "miss")
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		s.count("load", "error")
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var state domain.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		s.count("load", "error")
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	s.count("load", "ok")
	return &state, nil
}

func (s *SessionStore) ClearSession(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		s.count("clear", "error")
		return fmt.Errorf("failed to clear session: %w", err)
	}
	s.count("clear", "ok")
	return nil
}

func (s *SessionStore) count(op, result string) {
	if s.metrics != nil {
		s.metrics.SessionOps.WithLabelValues(op, result).Inc()
	}
}
