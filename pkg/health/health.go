package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pipewatch/pipewatch/internal/cache"
	"github.com/pipewatch/pipewatch/internal/connectors"
	"github.com/pipewatch/pipewatch/internal/store"
	"github.com/pipewatch/pipewatch/pkg/logging"
	"github.com/pipewatch/pipewatch/pkg/resilience"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
	StatusUnknown   Status = "unknown"
)

// Check represents a health check
type Check struct {
	Name      string            `json:"name"`
	Status    Status            `json:"status"`
	Message   string            `json:"message,omitempty"`
	Error     string            `json:"error,omitempty"`
	Duration  time.Duration     `json:"duration"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// HealthResponse represents the overall health response
type HealthResponse struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Duration  time.Duration     `json:"duration"`
	Checks    map[string]*Check `json:"checks"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Checker interface for health checks
type Checker interface {
	Check(ctx context.Context) *Check
}

// Service provides health checking functionality
type Service struct {
	checkers map[string]Checker
	logger   *logging.Logger
	metadata map[string]string
	mutex    sync.RWMutex
}

// NewService creates a new health check service
func NewService(logger *logging.Logger, metadata map[string]string) *Service {
	if metadata == nil {
		metadata = make(map[string]string)
	}

	return &Service{
		checkers: make(map[string]Checker),
		logger:   logger,
		metadata: metadata,
	}
}

// RegisterChecker registers a health checker
func (s *Service) RegisterChecker(name string, checker Checker) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.checkers[name] = checker
}

// CheckHealth performs all health checks concurrently
func (s *Service) CheckHealth(ctx context.Context) *HealthResponse {
	start := time.Now()

	s.mutex.RLock()
	checkers := make(map[string]Checker, len(s.checkers))
	for name, checker := range s.checkers {
		checkers[name] = checker
	}
	s.mutex.RUnlock()

	checks := make(map[string]*Check, len(checkers))
	overallStatus := StatusHealthy

	var wg sync.WaitGroup
	var mutex sync.Mutex

	for name, checker := range checkers {
		wg.Add(1)
		go func(name string, checker Checker) {
			defer wg.Done()

			check := checker.Check(ctx)

			mutex.Lock()
			checks[name] = check

			switch check.Status {
			case StatusUnhealthy:
				overallStatus = StatusUnhealthy
			case StatusDegraded:
				if overallStatus == StatusHealthy {
					overallStatus = StatusDegraded
				}
			}
			mutex.Unlock()
		}(name, checker)
	}

	wg.Wait()

	return &HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
		Checks:    checks,
		Metadata:  s.metadata,
	}
}

// Handler returns a Gin handler for the full health report
func (s *Service) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()

		health := s.CheckHealth(ctx)

		statusCode := http.StatusOK
		if health.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, health)
	}
}

// LivenessHandler returns a simple liveness check handler
func (s *Service) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "alive",
			"timestamp": time.Now(),
		})
	}
}

// ReadinessHandler returns a readiness check handler
func (s *Service) ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		health := s.CheckHealth(ctx)

		statusCode := http.StatusOK
		if health.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, gin.H{
			"status":    health.Status,
			"timestamp": health.Timestamp,
			"ready":     health.Status != StatusUnhealthy,
		})
	}
}

// StoreChecker checks the results database
type StoreChecker struct {
	store *store.Store
	name  string
}

// NewStoreChecker creates a results database health checker
func NewStoreChecker(s *store.Store, name string) *StoreChecker {
	return &StoreChecker{store: s, name: name}
}

// Check performs the store health check
func (sc *StoreChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	check := &Check{
		Name:      sc.name,
		Timestamp: start,
	}

	if sc.store == nil {
		check.Status = StatusUnhealthy
		check.Error = "store connection is nil"
		check.Duration = time.Since(start)
		return check
	}

	if err := sc.store.DB().PingContext(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Error = err.Error()
		check.Duration = time.Since(start)
		return check
	}

	stats := sc.store.DB().Stats()
	check.Status = StatusHealthy
	check.Message = "store is healthy"
	check.Duration = time.Since(start)
	check.Metadata = map[string]string{
		"open_connections": fmt.Sprintf("%d", stats.OpenConnections),
		"idle_connections": fmt.Sprintf("%d", stats.Idle),
		"max_connections":  fmt.Sprintf("%d", stats.MaxOpenConnections),
	}

	if stats.MaxOpenConnections > 0 && stats.OpenConnections > int(float64(stats.MaxOpenConnections)*0.8) {
		check.Status = StatusDegraded
		check.Message = "store connection pool is running low"
	}

	return check
}

// ConnectorChecker checks one monitored source's connectivity
type ConnectorChecker struct {
	connector connectors.Connector
	name      string
}

// NewConnectorChecker creates a source database health checker
func NewConnectorChecker(conn connectors.Connector, name string) *ConnectorChecker {
	return &ConnectorChecker{connector: conn, name: name}
}

// Check pings the source directly, bypassing its circuit breaker
func (cc *ConnectorChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	check := &Check{
		Name:      cc.name,
		Timestamp: start,
	}

	if cc.connector == nil {
		check.Status = StatusUnhealthy
		check.Error = "connector is nil"
		check.Duration = time.Since(start)
		return check
	}

	if err := cc.connector.Ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Error = err.Error()
		check.Duration = time.Since(start)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "source is reachable"
	check.Duration = time.Since(start)
	return check
}

// RedisChecker checks Redis connectivity
type RedisChecker struct {
	redis *cache.RedisClient
	name  string
}

// NewRedisChecker creates a Redis health checker
func NewRedisChecker(redis *cache.RedisClient, name string) *RedisChecker {
	return &RedisChecker{redis: redis, name: name}
}

// Check performs the Redis health check
func (rc *RedisChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	check := &Check{
		Name:      rc.name,
		Timestamp: start,
	}

	if rc.redis == nil {
		check.Status = StatusUnhealthy
		check.Error = "redis connection is nil"
		check.Duration = time.Since(start)
		return check
	}

	if err := rc.redis.Ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Error = err.Error()
		check.Duration = time.Since(start)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "redis is healthy"
	check.Duration = time.Since(start)
	return check
}

// BreakerChecker reports degraded health while any circuit breaker is open
type BreakerChecker struct {
	registry *resilience.CircuitBreakerRegistry
	name     string
}

// NewBreakerChecker creates a circuit breaker health checker
func NewBreakerChecker(registry *resilience.CircuitBreakerRegistry, name string) *BreakerChecker {
	return &BreakerChecker{registry: registry, name: name}
}

// Check inspects every registered breaker
func (bc *BreakerChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	check := &Check{
		Name:      bc.name,
		Timestamp: start,
		Metadata:  make(map[string]string),
	}

	open := 0
	for name, stats := range bc.registry.GetAllStats() {
		check.Metadata[name] = stats.State.String()
		if stats.State == resilience.StateOpen {
			open++
		}
	}

	check.Duration = time.Since(start)
	if open > 0 {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("%d circuit breaker(s) open", open)
	} else {
		check.Status = StatusHealthy
		check.Message = "all circuit breakers closed"
	}

	return check
}

// CustomChecker allows for custom health checks
type CustomChecker struct {
	name    string
	checkFn func(ctx context.Context) (Status, string, error)
}

// NewCustomChecker creates a new custom health checker
func NewCustomChecker(name string, checkFn func(ctx context.Context) (Status, string, error)) *CustomChecker {
	return &CustomChecker{name: name, checkFn: checkFn}
}

// Check performs the custom health check
func (cc *CustomChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	check := &Check{
		Name:      cc.name,
		Timestamp: start,
	}

	status, message, err := cc.checkFn(ctx)
	check.Status = status
	check.Message = message
	check.Duration = time.Since(start)

	if err != nil {
		check.Error = err.Error()
		if check.Status == StatusHealthy {
			check.Status = StatusUnhealthy
		}
	}

	return check
}
