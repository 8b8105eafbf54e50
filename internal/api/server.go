package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/pipewatch/pipewatch/internal/checks"
	"github.com/pipewatch/pipewatch/pkg/config"
	"github.com/pipewatch/pipewatch/pkg/errors"
	"github.com/pipewatch/pipewatch/pkg/health"
	"github.com/pipewatch/pipewatch/pkg/logging"
	"github.com/pipewatch/pipewatch/pkg/resilience"
)

// ResultReader is what the API needs from the results store
type ResultReader interface {
	RecentResults(ctx context.Context, limit int) ([]*checks.Result, error)
	LatestResults(ctx context.Context) ([]*checks.Result, error)
	LatestResult(ctx context.Context, checkName string) (*checks.Result, error)
}

// Server exposes monitoring status over HTTP
type Server struct {
	config     *config.APIConfig
	router     *gin.Engine
	httpServer *http.Server
	results    ResultReader
	registry   *resilience.CircuitBreakerRegistry
	health     *health.Service
	logger     *logrus.Entry
}

// NewServer builds the router. Health may be nil; its routes are then
// served as plain liveness.
func NewServer(cfg *config.APIConfig, results ResultReader, registry *resilience.CircuitBreakerRegistry, healthSvc *health.Service) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config:   cfg,
		results:  results,
		registry: registry,
		health:   healthSvc,
		logger:   logging.GetLogger().WithComponent("api"),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}))

	s.registerRoutes(router)
	s.router = router

	return s
}

func (s *Server) registerRoutes(router *gin.Engine) {
	if s.health != nil {
		router.GET("/health", s.health.Handler())
		router.GET("/health/live", s.health.LivenessHandler())
		router.GET("/health/ready", s.health.ReadinessHandler())
	} else {
		router.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "alive"})
		})
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.GET("/checks", s.listChecks)
		v1.GET("/checks/:name", s.getCheck)
		v1.GET("/results", s.listResults)
		v1.GET("/circuits", s.listCircuits)
	}
}

// Router exposes the gin engine, used in tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start begins serving. Blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.WithField("addr", s.httpServer.Addr).Info("Status API listening")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) listChecks(c *gin.Context) {
	results, err := s.results.LatestResults(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"checks": results})
}

func (s *Server) getCheck(c *gin.Context) {
	result, err := s.results.LatestResult(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) listResults(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit <= 0 || limit > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
	}

	results, err := s.results.RecentResults(c.Request.Context(), limit)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

func (s *Server) listCircuits(c *gin.Context) {
	if s.registry == nil {
		c.JSON(http.StatusOK, gin.H{"circuits": gin.H{}})
		return
	}

	c.JSON(http.StatusOK, gin.H{"circuits": s.registry.GetAllStats()})
}

func (s *Server) renderError(c *gin.Context, err error) {
	if errors.IsNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	s.logger.WithError(err).Error("Request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
