package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pipewatch/pipewatch/pkg/logging"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity int

const (
	// SeverityInfo - informational alerts
	SeverityInfo AlertSeverity = iota
	// SeverityWarning - warning alerts that need attention
	SeverityWarning
	// SeverityError - error alerts that need immediate attention
	SeverityError
	// SeverityCritical - critical alerts that need urgent attention
	SeverityCritical
)

func (s AlertSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Alert represents an alert that needs to be sent
type Alert struct {
	ID          string                 `json:"id"`
	Severity    AlertSeverity          `json:"severity"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Source      string                 `json:"source"`
	Timestamp   time.Time              `json:"timestamp"`
	Tags        map[string]string      `json:"tags"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// AlertHandler defines the interface for handling alerts
type AlertHandler interface {
	HandleAlert(ctx context.Context, alert Alert) error
	Name() string
}

// AlertManager manages alert generation and routing
type AlertManager struct {
	handlers []AlertHandler
	mutex    sync.RWMutex
	logger   *logging.Logger

	// Rate limiting
	alertCounts   map[string]int
	lastReset     time.Time
	rateLimit     int
	resetInterval time.Duration
}

// NewAlertManager creates a new alert manager
func NewAlertManager() *AlertManager {
	return &AlertManager{
		handlers:      make([]AlertHandler, 0),
		logger:        logging.GetLogger(),
		alertCounts:   make(map[string]int),
		lastReset:     time.Now(),
		rateLimit:     100, // 100 alerts per source per reset interval
		resetInterval: time.Hour,
	}
}

// AddHandler adds an alert handler
func (am *AlertManager) AddHandler(handler AlertHandler) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	am.handlers = append(am.handlers, handler)
	am.logger.Info("Alert handler added", "handler", handler.Name())
}

// SendAlert sends an alert to all registered handlers
func (am *AlertManager) SendAlert(ctx context.Context, alert Alert) error {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	if !am.checkRateLimit(alert.Source) {
		am.logger.Warn("Alert rate limit exceeded",
			"source", alert.Source,
			"title", alert.Title,
		)
		return fmt.Errorf("alert rate limit exceeded for source: %s", alert.Source)
	}

	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	if alert.ID == "" {
		alert.ID = fmt.Sprintf("%s-%d", alert.Source, alert.Timestamp.UnixNano())
	}

	am.logger.Info("Sending alert",
		"id", alert.ID,
		"severity", alert.Severity.String(),
		"source", alert.Source,
		"title", alert.Title,
	)

	var lastErr error
	successCount := 0

	for _, handler := range am.handlers {
		if err := handler.HandleAlert(ctx, alert); err != nil {
			am.logger.Error("Alert handler failed",
				"handler", handler.Name(),
				"alert_id", alert.ID,
				"error", err,
			)
			lastErr = err
		} else {
			successCount++
		}
	}

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("all alert handlers failed: %w", lastErr)
	}

	return nil
}

func (am *AlertManager) checkRateLimit(source string) bool {
	now := time.Now()

	if now.Sub(am.lastReset) >= am.resetInterval {
		am.alertCounts = make(map[string]int)
		am.lastReset = now
	}

	count := am.alertCounts[source]
	if count >= am.rateLimit {
		return false
	}

	am.alertCounts[source] = count + 1
	return true
}

// LoggingAlertHandler logs alerts to the application logger
type LoggingAlertHandler struct {
	logger *logging.Logger
}

// NewLoggingAlertHandler creates a new logging alert handler
func NewLoggingAlertHandler() *LoggingAlertHandler {
	return &LoggingAlertHandler{
		logger: logging.GetLogger(),
	}
}

// HandleAlert handles an alert by logging it
func (h *LoggingAlertHandler) HandleAlert(ctx context.Context, alert Alert) error {
	fields := []interface{}{
		"alert_id", alert.ID,
		"severity", alert.Severity.String(),
		"source", alert.Source,
		"title", alert.Title,
		"description", alert.Description,
		"timestamp", alert.Timestamp,
	}

	for key, value := range alert.Tags {
		fields = append(fields, fmt.Sprintf("tag_%s", key), value)
	}

	for key, value := range alert.Metadata {
		fields = append(fields, fmt.Sprintf("meta_%s", key), value)
	}

	switch alert.Severity {
	case SeverityInfo:
		h.logger.Info("ALERT: "+alert.Title, fields...)
	case SeverityWarning:
		h.logger.Warn("ALERT: "+alert.Title, fields...)
	case SeverityError:
		h.logger.Error("ALERT: "+alert.Title, fields...)
	case SeverityCritical:
		h.logger.Error("CRITICAL ALERT: "+alert.Title, fields...)
	}

	return nil
}

// Name returns the name of the handler
func (h *LoggingAlertHandler) Name() string {
	return "logging"
}
