// Package server exposes the orchestrator's HTTP surface: the composite
// flow routes, system inspection endpoints, and the websocket event stream.
package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	"github.com/civicmesh/orchestrator/internal/breaker"
	"github.com/civicmesh/orchestrator/internal/config"
	"github.com/civicmesh/orchestrator/internal/events"
	"github.com/civicmesh/orchestrator/internal/flow"
	"github.com/civicmesh/orchestrator/internal/health"
	"github.com/civicmesh/orchestrator/internal/registry"
	"github.com/civicmesh/orchestrator/internal/util"
)

// Server implements the HTTP API server for the orchestrator
type Server struct {
	cfg      *config.Config
	flows    *flow.Engine
	breakers *breaker.Manager
	prober   *health.Prober
	registry *registry.Registry
	hub      *events.Hub
	limiter  *Limiter
	sockets  util.Set[*Client]
	started  time.Time
	mu       sync.Mutex
}

// NewServer creates a new HTTP API server
func NewServer(
	cfg *config.Config, flows *flow.Engine, breakers *breaker.Manager,
	prober *health.Prober, reg *registry.Registry, hub *events.Hub,
	limiter *Limiter,
) *Server {
	return &Server{
		cfg:      cfg,
		flows:    flows,
		breakers: breakers,
		prober:   prober,
		registry: reg,
		hub:      hub,
		limiter:  limiter,
		sockets:  util.Set[*Client]{},
		started:  time.Now(),
	}
}

// SetupRoutes configures and returns the HTTP router with all API endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set(
			"Access-Control-Allow-Methods",
			"GET, POST, PUT, DELETE, OPTIONS",
		)
		c.Writer.Header().Set(
			"Access-Control-Allow-Headers",
			"Content-Type, Authorization, X-Trace-ID, X-Request-ID",
		)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	router.Use(s.traceID())

	router.GET("/", s.handleRoot)
	router.GET("/health", s.handleHealth)

	v1 := router.Group("/api/v1")
	v1.Use(s.rateLimit())
	{
		// controller and agent flows
		v1.POST("/query", s.requireAuth(), s.handleQuery)
		v1.POST("/onboard", s.handleOnboard)
		v1.POST("/check-eligibility", s.requireAuth(), s.handleEligibility)
		v1.POST("/ingest-policy", s.requireAuth(), s.handleIngestPolicy)
		v1.POST("/voice-query", s.handleVoiceQuery)
		v1.POST("/simulate", s.requireAuth(), s.handleSimulate)

		// system inspection
		v1.GET("/circuit-breaker/status", s.requireAuth(), s.handleBreakerStatus)
		v1.GET("/engines/health", s.requireAuth(), s.handleEnginesHealth)

		// event stream
		v1.GET("/ws", s.handleWebSocket)
	}

	return router
}

func (s *Server) registerWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Add(c)
}

func (s *Server) unregisterWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Remove(c)
}

// CloseWebSockets closes all active WebSocket connections.
func (s *Server) CloseWebSockets() {
	s.mu.Lock()
	conns := make([]*Client, 0, len(s.sockets))
	for c := range s.sockets {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
