package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/eventrelay/internal/domain"
	apperrors "github.com/pscheid92/eventrelay/internal/platform/errors"
	"github.com/pscheid92/eventrelay/internal/platform/version"
	"github.com/pscheid92/eventrelay/internal/relay"
	"github.com/pscheid92/eventrelay/internal/upstream"
)

type topicsResponse struct {
	Ports    int                   `json:"ports"`
	Handlers int                   `json:"handlers"`
	Topics   []relay.TopicHandlers `json:"topics"`
}

// handleTopics lists the relay's topics. ?type= narrows the list to one event
// type, or to a whole category when given a wildcard.
func (s *Server) handleTopics(c echo.Context) error {
	snapshot := s.relay.Snapshot()

	filter := domain.EventType(c.QueryParam("type"))
	if filter != "" && !filter.Valid() {
		return apperrors.ValidationError(fmt.Sprintf("unknown event type %q", filter))
	}

	topics := make([]relay.TopicHandlers, 0, len(snapshot.Topics))
	for _, t := range snapshot.Topics {
		if filter == "" || filter.Matches(t.Topic.Type) {
			topics = append(topics, t)
		}
	}

	resp := topicsResponse{Ports: snapshot.Ports, Handlers: snapshot.Handlers, Topics: topics}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write topics response: %w", err)
	}
	return nil
}

type statusResponse struct {
	Upstream upstream.Status `json:"upstream"`
	Relay    relayStatus     `json:"relay"`
	Version  version.Info    `json:"version"`
}

type relayStatus struct {
	Ports    int `json:"ports"`
	Handlers int `json:"handlers"`
	Topics   int `json:"topics"`
}

func (s *Server) handleStatus(c echo.Context) error {
	snapshot := s.relay.Snapshot()
	resp := statusResponse{
		Upstream: s.upstream.Status(),
		Relay: relayStatus{
			Ports:    snapshot.Ports,
			Handlers: snapshot.Handlers,
			Topics:   len(snapshot.Topics),
		},
		Version: version.Get(),
	}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write status response: %w", err)
	}
	return nil
}
