package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aescanero/chatd/internal/application/health"
	"github.com/aescanero/chatd/pkg/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ChatCompleter runs a chat completion
type ChatCompleter interface {
	Complete(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error)
}

// HealthReporter exposes the latest backend health probe
type HealthReporter interface {
	GetStatus() health.Status
}

// Server represents the HTTP API server
type Server struct {
	router *gin.Engine
	server *http.Server
	chat   ChatCompleter
	health HealthReporter
	logger *zap.Logger

	defaultMaxTokens   int
	defaultTemperature float64
}

// Config holds HTTP server configuration
type Config struct {
	Port     int
	Chat     ChatCompleter
	Health   HealthReporter
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger

	// Defaults applied to fields absent from the request body
	DefaultMaxTokens   int
	DefaultTemperature float64
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		router:             router,
		chat:               cfg.Chat,
		health:             cfg.Health,
		logger:             cfg.Logger,
		defaultMaxTokens:   cfg.DefaultMaxTokens,
		defaultTemperature: cfg.DefaultTemperature,
	}

	s.setupRoutes(gatherer)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	s.router.POST("/chat", s.handleChat)
}

// SetupWebSocket adds the event feed handler to the server
func (s *Server) SetupWebSocket(handler interface{}) {
	if wsHandler, ok := handler.(interface {
		HandleEventStream(*gin.Context)
	}); ok {
		s.router.GET("/events/ws", wsHandler.HandleEventStream)
	}
}

// Handler returns the underlying http.Handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}
