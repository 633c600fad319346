package httpserver

import (
	"log/slog"

	"github.com/labstack/echo/v4"
)

// handlePort upgrades the request and serves it as a relay port until the
// connection ends.
func (s *Server) handlePort(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		slog.DebugContext(c.Request().Context(), "Port upgrade failed", "error", err)
		return nil
	}

	if err := s.relay.ServePort(c.Request().Context(), conn, s.portConfig); err != nil {
		slog.InfoContext(c.Request().Context(), "Port rejected", "remote_addr", c.RealIP(), "error", err)
	}
	return nil
}
