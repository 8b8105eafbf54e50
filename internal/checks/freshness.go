package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pipewatch/pipewatch/internal/connectors"
	"github.com/pipewatch/pipewatch/pkg/logging"
	"github.com/pipewatch/pipewatch/pkg/metrics"
)

// defaultWarnRatio marks a table warning once its lag crosses this
// fraction of the allowed maximum
const defaultWarnRatio = 0.75

// FreshnessCheckConfig configures one freshness check
type FreshnessCheckConfig struct {
	Name            string
	Table           string
	TimestampColumn string
	MaxLag          time.Duration
	WarnRatio       float64
	Clock           func() time.Time
}

// FreshnessCheck verifies that a table's newest row is recent enough
type FreshnessCheck struct {
	config    FreshnessCheckConfig
	connector connectors.Connector
	metrics   *metrics.Metrics
	logger    *logrus.Entry
}

// NewFreshnessCheck creates a freshness check against one table
func NewFreshnessCheck(config FreshnessCheckConfig, connector connectors.Connector, m *metrics.Metrics) *FreshnessCheck {
	if config.WarnRatio <= 0 || config.WarnRatio >= 1 {
		config.WarnRatio = defaultWarnRatio
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.Name == "" {
		config.Name = fmt.Sprintf("freshness:%s:%s", connector.Name(), config.Table)
	}

	return &FreshnessCheck{
		config:    config,
		connector: connector,
		metrics:   m,
		logger:    logging.GetLogger().WithComponent("checks.freshness"),
	}
}

// Name returns the check name
func (c *FreshnessCheck) Name() string {
	return c.config.Name
}

// Kind returns the check kind
func (c *FreshnessCheck) Kind() string {
	return "freshness"
}

// ConnectorName returns the name of the source the check queries
func (c *FreshnessCheck) ConnectorName() string {
	return c.connector.Name()
}

// Run measures the table's lag and classifies it against MaxLag
func (c *FreshnessCheck) Run(ctx context.Context) *Result {
	started := c.config.Clock()
	result := &Result{
		CheckName: c.config.Name,
		CheckKind: c.Kind(),
		Connector: c.connector.Name(),
		Table:     c.config.Table,
		RunAt:     started,
	}

	latest, err := c.connector.TableFreshness(ctx, c.config.Table, c.config.TimestampColumn)
	result.Duration = time.Since(started)
	if err != nil {
		result.Status = StatusError
		result.Message = err.Error()
		c.logger.WithError(err).WithField("check", c.config.Name).Warn("Freshness check failed to run")
		return result
	}

	lag := c.config.Clock().Sub(latest)
	if lag < 0 {
		lag = 0
	}
	result.Lag = lag

	switch {
	case lag > c.config.MaxLag:
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("table %s is %s behind, allowed %s", c.config.Table, lag.Round(time.Second), c.config.MaxLag)
	case float64(lag) > float64(c.config.MaxLag)*c.config.WarnRatio:
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("table %s is %s behind, approaching %s", c.config.Table, lag.Round(time.Second), c.config.MaxLag)
	default:
		result.Status = StatusOK
		result.Message = fmt.Sprintf("table %s is %s behind", c.config.Table, lag.Round(time.Second))
	}

	if c.metrics != nil && c.metrics.CheckLag != nil {
		c.metrics.CheckLag.WithLabelValues(c.connector.Name(), c.config.Table).Set(lag.Seconds())
	}

	return result
}
