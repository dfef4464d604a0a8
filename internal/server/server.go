// Package server exposes the engine over HTTP: a JSON API for generation,
// deployment and introspection, a websocket event stream fed by protocol
// broadcasts, and the prometheus scrape endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"genesis/internal/config"
	"genesis/internal/deploy"
	"genesis/internal/observability"
	"genesis/internal/orchestrator"
	"genesis/internal/protocol"
)

// sweepInterval is how often closed websocket subscribers are removed.
const sweepInterval = 30 * time.Second

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the version reported by the health endpoint.
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// WithMetricsCollector wires HTTP metrics into the given collector.
func WithMetricsCollector(mc *observability.MetricsCollector) Option {
	return func(s *Server) { s.metrics = mc }
}

// WithTracerProvider wires HTTP spans into the given provider.
func WithTracerProvider(tp *observability.TracerProvider) Option {
	return func(s *Server) { s.tracer = tp }
}

// Server is the HTTP surface over the dispatcher, the orchestrator and the
// deployment executor.
type Server struct {
	cfg          config.Config
	version      string
	dispatcher   *protocol.Dispatcher
	orchestrator *orchestrator.Orchestrator
	executor     *deploy.Executor

	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *eventHub
	limiter    *clientLimiter

	metrics *observability.MetricsCollector
	tracer  *observability.TracerProvider
	logger  *observability.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startTime time.Time
}

// New assembles the server and registers the event stream agent so the
// websocket hub receives protocol broadcasts.
func New(cfg config.Config, dispatcher *protocol.Dispatcher, orch *orchestrator.Orchestrator, executor *deploy.Executor, opts ...Option) (*Server, error) {
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:          cfg,
		version:      "dev",
		dispatcher:   dispatcher,
		orchestrator: orch,
		executor:     executor,
		hub:          newEventHub(),
		limiter:      newClientLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:    observability.NewComponentLogger("server"),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.metrics == nil {
		s.metrics, _ = observability.NewMetricsCollector(observability.MetricsConfig{})
	}
	if s.tracer == nil {
		s.tracer, _ = observability.NewTracerProvider(observability.TracingConfig{})
	}

	if err := dispatcher.Registry().Register(newStreamAgent(s.hub)); err != nil {
		cancel()
		return nil, fmt.Errorf("registering event stream agent: %w", err)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(s.observabilityMiddleware())
	engine.Use(cors.New(s.corsConfig()))
	s.engine = engine
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) corsConfig() cors.Config {
	corsCfg := cors.DefaultConfig()
	origins := s.cfg.Server.CORSOrigins
	if len(origins) == 0 || containsWildcard(origins) {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
	}
	corsCfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
	corsCfg.AllowWebSockets = true
	return corsCfg
}

func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.rateLimitMiddleware())

	api.GET("/health", s.handleHealth)
	api.GET("/agents", s.handleListAgents)
	api.GET("/agents/:id", s.handleGetAgent)
	api.POST("/generate", s.handleGenerate)
	api.GET("/workflows/current", s.handleCurrentWorkflow)
	api.POST("/deployments", s.handleCreateDeployment)
	api.GET("/deployments", s.handleListDeployments)
	api.GET("/stats", s.handleStats)
	api.GET("/events/stream", s.handleEventStream)

	// scrape endpoint stays outside the rate-limited group
	s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start serves until Stop is called. It blocks.
func (s *Server) Start() error {
	s.wg.Add(1)
	go s.sweepLoop()

	s.logger.Info("server listening", "addr", s.httpServer.Addr, "version", s.version)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully within the configured budget.
func (s *Server) Stop() error {
	s.logger.Info("server stopping")
	s.cancel()
	s.hub.closeAll()

	timeout := s.cfg.Server.ShutdownTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// sweepLoop periodically drops websocket subscribers that disconnected.
func (s *Server) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.hub.sweep()
		}
	}
}
