package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/eventrelay/internal/adapter/metrics"
	"github.com/pscheid92/eventrelay/internal/platform/config"
	"github.com/pscheid92/eventrelay/internal/relay"
	"github.com/pscheid92/eventrelay/internal/upstream"
)

type relayService interface {
	ServePort(ctx context.Context, conn *websocket.Conn, cfg relay.PortConfig) error
	Snapshot() relay.Snapshot
}

type upstreamService interface {
	Status() upstream.Status
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	relay    relayService
	upstream upstreamService

	upgrader   websocket.Upgrader
	portConfig relay.PortConfig

	registry     *prometheus.Registry
	httpMetrics  *metrics.HTTPMetrics
	healthChecks []HealthCheck
	startTime    time.Time
}

type Option func(*Server)

// WithMetrics exposes registry on /metrics and records HTTP metrics.
func WithMetrics(registry *prometheus.Registry, httpMetrics *metrics.HTTPMetrics) Option {
	return func(s *Server) {
		s.registry = registry
		s.httpMetrics = httpMetrics
	}
}

func WithHealthChecks(checks ...HealthCheck) Option {
	return func(s *Server) { s.healthChecks = append(s.healthChecks, checks...) }
}

func NewServer(cfg *config.Config, relayService relayService, upstreamService upstreamService, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:     e,
		config:   cfg,
		relay:    relayService,
		upstream: upstreamService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     newCheckOrigin(cfg.AppURL, cfg.AllowedOrigins, cfg.IsDevelopment()),
		},
		portConfig: relay.PortConfig{
			BufferSize: cfg.PortBufferSize,
			RateLimit:  cfg.PortRateLimit,
			RateBurst:  cfg.PortRateBurst,
		},
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(srv)
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
