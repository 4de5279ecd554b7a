package server

import (
	"log/slog"
	"net/http"

	"github.com/alkime/mp3rec/internal/config"
	"github.com/alkime/mp3rec/internal/format"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server
type Server struct {
	config   *config.Config
	logger   *slog.Logger
	router   *gin.Engine
	registry *format.Registry
	gatherer prometheus.Gatherer
}

// New creates a new Server instance. A nil gatherer serves the default
// Prometheus registry.
func New(cfg *config.Config, logger *slog.Logger, registry *format.Registry, gatherer prometheus.Gatherer) *Server {
	// Set Gin mode based on environment
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	server := &Server{
		config:   cfg,
		logger:   logger,
		router:   router,
		registry: registry,
		gatherer: gatherer,
	}

	// Setup middleware and routes
	router.Use(securityHeaders(cfg, logger))
	server.setupRoutes()

	return server
}

// Router exposes the handler for tests and custom listeners.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run starts the HTTP server
func Run(s *Server) error {
	s.logger.Info("Server listening", "port", s.config.Port)
	return s.router.Run(":" + s.config.Port)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := s.router.Group("/v1")
	{
		api.GET("/formats", s.handleFormats)
		api.POST("/recordings/:name", s.handleRecord)
	}
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "mp3rec",
	})
}

func (s *Server) handleFormats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"formats": s.registry.Formats(),
	})
}
