package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	app "github.com/civicmesh/orchestrator"
	"github.com/civicmesh/orchestrator/internal/audit"
	"github.com/civicmesh/orchestrator/internal/breaker"
	"github.com/civicmesh/orchestrator/internal/client"
	"github.com/civicmesh/orchestrator/internal/config"
	"github.com/civicmesh/orchestrator/internal/events"
	"github.com/civicmesh/orchestrator/internal/flow"
	"github.com/civicmesh/orchestrator/internal/health"
	"github.com/civicmesh/orchestrator/internal/registry"
	"github.com/civicmesh/orchestrator/internal/server"
	"github.com/civicmesh/orchestrator/internal/tracing"
	"github.com/civicmesh/orchestrator/pkg/log"
)

type orchestrator struct {
	cfg        *config.Config
	registry   *registry.Registry
	breakers   *breaker.Manager
	caller     *client.HTTPCaller
	audit      *audit.Publisher
	hub        *events.Hub
	flows      *flow.Engine
	prober     *health.Prober
	rdb        *redis.Client
	apiServer  *server.Server
	httpServer *http.Server
	quit       chan os.Signal
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	s := &orchestrator{
		cfg:  cfg,
		quit: make(chan os.Signal, 1),
	}
	s.setupLogging()

	if err := s.run(); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		os.Exit(1)
	}
}

func (s *orchestrator) run() error {
	if s.cfg.TraceEnabled {
		if err := tracing.Init(app.Name, app.Version); err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
	}

	s.initializeCore()
	s.startServer()

	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)
	<-s.quit

	s.shutdown()
	return nil
}

func (s *orchestrator) setupLogging() {
	level, ok := logLevels[s.cfg.LogLevel]
	if !ok {
		level = slog.LevelInfo
	}

	logger := log.NewWithLevel(app.Name, s.cfg.Env, app.Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("Orchestrator starting",
		slog.String("log_level", s.cfg.LogLevel))

	slog.Info("Configuration loaded",
		slog.String("api_host", s.cfg.APIHost),
		slog.Int("api_port", s.cfg.APIPort),
		slog.String("redis_addr", s.cfg.RedisAddr),
		slog.Int("breaker_threshold", s.cfg.BreakerThreshold),
		slog.Duration("breaker_recovery", s.cfg.BreakerRecovery),
		slog.Duration("call_timeout", s.cfg.CallTimeout))
}

func (s *orchestrator) initializeCore() {
	s.registry = registry.New()
	s.breakers = breaker.New(s.cfg.BreakerThreshold, s.cfg.BreakerRecovery)
	s.caller = client.New(s.registry, s.breakers, s.cfg.CallTimeout)

	s.audit = audit.NewPublisher(s.caller, s.cfg.AuditQueueSize)
	s.audit.Start()

	s.hub = events.NewHub()
	s.flows = flow.NewEngine(s.caller, s.audit, s.hub, flow.Catalog()...)
	s.prober = health.NewProber(s.registry, s.cfg.HealthTimeout)

	s.rdb = redis.NewClient(&redis.Options{
		Addr:     s.cfg.RedisAddr,
		Password: s.cfg.RedisPassword,
		DB:       s.cfg.RedisDB,
	})

	slog.Info("Engine registry loaded",
		slog.Int("engines", s.registry.Len()))
}

func (s *orchestrator) startServer() {
	limiter := server.NewLimiter(s.rdb, s.cfg.RatePerMinute, s.cfg.RateBurst)
	slog.Info("Rate limiting enabled",
		slog.String("limits", limiter.String()))

	s.apiServer = server.NewServer(
		s.cfg, s.flows, s.breakers, s.prober, s.registry, s.hub, limiter,
	)
	mux := s.apiServer.SetupRoutes()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler: mux,
	}

	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", log.Error(err))
		}
	}()
}

func (s *orchestrator) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", log.Error(err))
	}

	s.apiServer.CloseWebSockets()
	s.hub.Close()
	s.audit.Flush()

	if err := s.rdb.Close(); err != nil {
		slog.Error("Redis close failed", log.Error(err))
	}

	slog.Info("Server exited")
}
