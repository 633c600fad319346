// Package dispatch resolves inbound change notifications to the handlers
// interested in them.
package dispatch

import "github.com/pscheid92/eventrelay/internal/domain"

// Delivery is the set of handlers on one port that must receive a dispatch.
type Delivery struct {
	PortID     string
	HandlerIDs []domain.HandlerID
}

// HandlerSource is the read side of the subscription registry.
type HandlerSource interface {
	Handlers(topic domain.Topic) []domain.HandlerRef
}

type Router struct {
	source HandlerSource
}

func NewRouter(source HandlerSource) *Router {
	return &Router{source: source}
}

// Candidates lists the topics whose handlers receive d, most specific first.
func Candidates(d domain.Dispatch) []domain.Topic {
	exact := d.Topic()
	wildcard := d.Type.Wildcard()

	candidates := []domain.Topic{exact}
	if wildcard != d.Type {
		candidates = append(candidates, domain.NewTopic(wildcard, exact.ObjectID))
	}
	if exact.ObjectID != "" {
		candidates = append(candidates, domain.NewTopic(d.Type, ""))
		if wildcard != d.Type {
			candidates = append(candidates, domain.NewTopic(wildcard, ""))
		}
	}
	return candidates
}

// Route returns one Delivery per port, in the order ports were first seen.
// A handler registered on several matching topics is listed once.
func (r *Router) Route(d domain.Dispatch) []Delivery {
	var deliveries []Delivery
	index := make(map[string]int)
	seen := make(map[domain.HandlerRef]struct{})

	for _, topic := range Candidates(d) {
		for _, ref := range r.source.Handlers(topic) {
			if _, dup := seen[ref]; dup {
				continue
			}
			seen[ref] = struct{}{}

			i, ok := index[ref.PortID]
			if !ok {
				i = len(deliveries)
				index[ref.PortID] = i
				deliveries = append(deliveries, Delivery{PortID: ref.PortID})
			}
			deliveries[i].HandlerIDs = append(deliveries[i].HandlerIDs, ref.HandlerID)
		}
	}
	return deliveries
}
