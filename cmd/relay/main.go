package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/eventrelay/internal/adapter/httpserver"
	"github.com/pscheid92/eventrelay/internal/adapter/metrics"
	"github.com/pscheid92/eventrelay/internal/adapter/redis"
	"github.com/pscheid92/eventrelay/internal/domain"
	"github.com/pscheid92/eventrelay/internal/platform/config"
	"github.com/pscheid92/eventrelay/internal/platform/logging"
	"github.com/pscheid92/eventrelay/internal/platform/version"
	"github.com/pscheid92/eventrelay/internal/relay"
	"github.com/pscheid92/eventrelay/internal/upstream"
	goredis "github.com/redis/go-redis/v9"
)

type collectors struct {
	registry *prometheus.Registry
	http     *metrics.HTTPMetrics
	upstream *metrics.UpstreamMetrics
	relay    *metrics.RelayMetrics
	redis    *metrics.RedisMetrics
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupMetrics() collectors {
	reg := metrics.NewRegistry()
	return collectors{
		registry: reg,
		http:     metrics.NewHTTPMetrics(reg),
		upstream: metrics.NewUpstreamMetrics(reg),
		relay:    metrics.NewRelayMetrics(reg),
		redis:    metrics.NewRedisMetrics(reg),
	}
}

func setupRedis(ctx context.Context, cfg *config.Config, rm *metrics.RedisMetrics) *goredis.Client {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.RedisURL, redis.NewMetricsHook(rm), redis.NewCircuitBreakerHook(rm))
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func upstreamConfig(cfg *config.Config) upstream.Config {
	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	return upstream.Config{
		URL:               cfg.UpstreamURL,
		Header:            header,
		HandshakeTimeout:  cfg.UpstreamHandshakeTimeout,
		WriteTimeout:      cfg.UpstreamWriteTimeout,
		ReconnectDelay:    cfg.ReconnectDelay,
		MaxAttempts:       cfg.ReconnectMaxAttempts,
		MaxBackoff:        cfg.ReconnectMaxBackoff,
		RateLimitBackoff:  cfg.RateLimitBackoff,
		ResumeEnabled:     cfg.ResumeEnabled,
		SubscriptionLimit: cfg.SubscriptionLimit,
		Instance:          cfg.InstanceID,
	}
}

func runGracefulShutdown(srv *httpserver.Server, rl *relay.Relay, manager *upstream.Manager, cancel context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		rl.Stop()
		manager.Stop()
		cancel()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().String(), "instance", cfg.InstanceID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := setupMetrics()

	var (
		managerOpts []upstream.Option
		relayOpts   []relay.Option
		serverOpts  []httpserver.Option
	)
	managerOpts = append(managerOpts, upstream.WithMetrics(m.upstream))
	relayOpts = append(relayOpts, relay.WithMetrics(m.relay))
	serverOpts = append(serverOpts, httpserver.WithMetrics(m.registry, m.http))

	if cfg.RedisURL != "" {
		redisClient := setupRedis(ctx, cfg, m.redis)
		defer func() { _ = redisClient.Close() }()

		store := redis.NewSessionStore(redisClient, cfg.InstanceID, cfg.SessionTTL, m.redis)
		mirror := redis.NewDispatchMirror(redisClient, 0, m.redis)
		go mirror.Run(ctx)

		managerOpts = append(managerOpts, upstream.WithSessionStore(store))
		relayOpts = append(relayOpts, relay.WithMirror(mirror))
		serverOpts = append(serverOpts, httpserver.WithHealthChecks(httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		}))
		slog.Info("Redis enabled, persisting upstream session and mirroring dispatches")
	}

	// The relay consumes dispatches from the manager and the manager serves
	// the relay's subscriptions, so the callback is bound after both exist.
	var rl *relay.Relay
	managerOpts = append(managerOpts, upstream.WithRejectHandler(func(t domain.Topic, err error) { rl.RejectTopic(t, err) }))
	manager := upstream.NewManager(upstreamConfig(cfg), clock, func(d domain.Dispatch) { rl.OnDispatch(d) }, managerOpts...)
	rl = relay.New(relay.Config{MaxPorts: cfg.MaxPorts}, manager, clock, relayOpts...)

	restoreCtx, cancelRestore := context.WithTimeout(ctx, 5*time.Second)
	if err := manager.Restore(restoreCtx); err != nil {
		slog.Warn("Failed to restore upstream session, starting fresh", "error", err)
	}
	cancelRestore()

	go func() {
		if err := manager.Run(ctx); err != nil {
			slog.Error("Upstream manager stopped", "error", err)
		}
	}()

	srv := httpserver.NewServer(cfg, rl, manager, serverOpts...)

	done := runGracefulShutdown(srv, rl, manager, cancel)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
