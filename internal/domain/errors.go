package domain

import "errors"

var (
	ErrInvalidTopic      = errors.New("invalid topic")
	ErrUnknownEventType  = errors.New("unknown event type")
	ErrSessionNotFound   = errors.New("session not found")
	ErrUnknownPort       = errors.New("unknown port")
	ErrPortLimit         = errors.New("port limit reached")
	ErrSubscriptionLimit = errors.New("subscription limit reached")
	ErrRelayStopped      = errors.New("relay stopped")
	ErrTopicRejected     = errors.New("topic rejected upstream")
)
