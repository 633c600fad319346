// Package subscription reference-counts local interest in upstream topics.
package subscription

import (
	"slices"

	"github.com/pscheid92/eventrelay/internal/domain"
)

// Registry maps topics to the ordered set of handlers interested in them.
// Not safe for concurrent use: the relay actor owns it.
type Registry struct {
	topics map[domain.Topic][]domain.HandlerRef
	// ports indexes the topics each port holds handlers on, for RemovePort.
	ports map[string]map[domain.Topic]int
	total int
}

func NewRegistry() *Registry {
	return &Registry{
		topics: make(map[domain.Topic][]domain.HandlerRef),
		ports:  make(map[string]map[domain.Topic]int),
	}
}

// Add registers ref for topic and reports whether this was the first handler
// on the topic. Registering the same ref twice is a no-op.
func (r *Registry) Add(topic domain.Topic, ref domain.HandlerRef) (first bool) {
	handlers := r.topics[topic]
	if slices.Contains(handlers, ref) {
		return false
	}

	r.topics[topic] = append(handlers, ref)
	r.total++

	topics, ok := r.ports[ref.PortID]
	if !ok {
		topics = make(map[domain.Topic]int)
		r.ports[ref.PortID] = topics
	}
	topics[topic]++

	return len(handlers) == 0
}

// Remove unregisters ref and reports whether the topic lost its last handler.
func (r *Registry) Remove(topic domain.Topic, ref domain.HandlerRef) (last bool) {
	handlers, ok := r.topics[topic]
	if !ok {
		return false
	}

	idx := slices.Index(handlers, ref)
	if idx == -1 {
		return false
	}

	r.releasePort(ref.PortID, topic)
	r.total--

	handlers = slices.Delete(handlers, idx, idx+1)
	if len(handlers) == 0 {
		delete(r.topics, topic)
		return true
	}
	r.topics[topic] = handlers
	return false
}

// RemovePort drops every handler owned by portID and returns the topics that
// lost their last handler, sorted.
func (r *Registry) RemovePort(portID string) []domain.Topic {
	topics, ok := r.ports[portID]
	if !ok {
		return nil
	}
	delete(r.ports, portID)

	var emptied []domain.Topic
	for topic, count := range topics {
		handlers := slices.DeleteFunc(r.topics[topic], func(ref domain.HandlerRef) bool {
			return ref.PortID == portID
		})
		r.total -= count
		if len(handlers) == 0 {
			delete(r.topics, topic)
			emptied = append(emptied, topic)
			continue
		}
		r.topics[topic] = handlers
	}

	sortTopics(emptied)
	return emptied
}

func (r *Registry) releasePort(portID string, topic domain.Topic) {
	topics := r.ports[portID]
	topics[topic]--
	if topics[topic] <= 0 {
		delete(topics, topic)
	}
	if len(topics) == 0 {
		delete(r.ports, portID)
	}
}

// Handlers returns a copy of the handlers registered on topic, in registration order.
func (r *Registry) Handlers(topic domain.Topic) []domain.HandlerRef {
	return slices.Clone(r.topics[topic])
}

func (r *Registry) Has(topic domain.Topic) bool {
	_, ok := r.topics[topic]
	return ok
}

// Topics returns every topic with at least one handler, sorted.
func (r *Registry) Topics() []domain.Topic {
	topics := make([]domain.Topic, 0, len(r.topics))
	for topic := range r.topics {
		topics = append(topics, topic)
	}
	sortTopics(topics)
	return topics
}

// Len returns the number of topics with at least one handler.
func (r *Registry) Len() int {
	return len(r.topics)
}

func (r *Registry) HandlerCount(topic domain.Topic) int {
	return len(r.topics[topic])
}

// Total returns the number of registered handlers across all topics.
func (r *Registry) Total() int {
	return r.total
}

func sortTopics(topics []domain.Topic) {
	slices.SortFunc(topics, func(a, b domain.Topic) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		default:
			return 0
		}
	})
}
