package checks

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pipewatch/pipewatch/internal/connectors"
	"github.com/pipewatch/pipewatch/pkg/logging"
	"github.com/pipewatch/pipewatch/pkg/metrics"
)

// VolumeCheckConfig configures one volume anomaly check
type VolumeCheckConfig struct {
	Name            string
	Table           string
	TimestampColumn string
	// Window is the bucket each sample covers, ending at run time
	Window time.Duration
	// ZThreshold trips the check when |z| crosses it
	ZThreshold float64
	// BaselineWindow is how many past samples the baseline retains
	BaselineWindow int
	Clock          func() time.Time
}

// VolumeCheck compares a table's recent row volume against its own history
type VolumeCheck struct {
	config    VolumeCheckConfig
	connector connectors.Connector
	baseline  *Baseline
	metrics   *metrics.Metrics
	logger    *logrus.Entry
}

// NewVolumeCheck creates a volume anomaly check against one table
func NewVolumeCheck(config VolumeCheckConfig, connector connectors.Connector, m *metrics.Metrics) *VolumeCheck {
	if config.Window <= 0 {
		config.Window = time.Hour
	}
	if config.ZThreshold <= 0 {
		config.ZThreshold = 3.0
	}
	if config.BaselineWindow <= 0 {
		config.BaselineWindow = 24
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.Name == "" {
		config.Name = fmt.Sprintf("volume:%s:%s", connector.Name(), config.Table)
	}

	return &VolumeCheck{
		config:    config,
		connector: connector,
		baseline:  NewBaseline(config.BaselineWindow),
		metrics:   m,
		logger:    logging.GetLogger().WithComponent("checks.volume"),
	}
}

// Name returns the check name
func (c *VolumeCheck) Name() string {
	return c.config.Name
}

// Kind returns the check kind
func (c *VolumeCheck) Kind() string {
	return "volume"
}

// Baseline exposes the rolling baseline, used to seed it from stored samples
func (c *VolumeCheck) Baseline() *Baseline {
	return c.baseline
}

// Table returns the monitored table name
func (c *VolumeCheck) Table() string {
	return c.config.Table
}

// ConnectorName returns the monitored source's name
func (c *VolumeCheck) ConnectorName() string {
	return c.connector.Name()
}

// Run counts rows in the most recent window and scores the count against
// the baseline. The observation joins the baseline after scoring, so a
// spike cannot mask itself.
func (c *VolumeCheck) Run(ctx context.Context) *Result {
	started := c.config.Clock()
	result := &Result{
		CheckName: c.config.Name,
		CheckKind: c.Kind(),
		Connector: c.connector.Name(),
		Table:     c.config.Table,
		RunAt:     started,
	}

	until := started
	since := until.Add(-c.config.Window)

	count, err := c.connector.RowCount(ctx, c.config.Table, c.config.TimestampColumn, since, until)
	result.Duration = time.Since(started)
	if err != nil {
		result.Status = StatusError
		result.Message = err.Error()
		c.logger.WithError(err).WithField("check", c.config.Name).Warn("Volume check failed to run")
		return result
	}

	result.RowCount = count
	observation := float64(count)

	if !c.baseline.Ready() {
		c.baseline.Add(observation)
		result.Status = StatusOK
		result.Message = fmt.Sprintf("building baseline, %d of %d samples", c.baseline.Count(), minBaselineSamples)
		return result
	}

	z := c.baseline.ZScore(observation)
	c.baseline.Add(observation)
	result.ZScore = z

	if math.Abs(z) >= c.config.ZThreshold {
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("table %s volume %d deviates from baseline (z=%.2f, threshold %.2f)",
			c.config.Table, count, z, c.config.ZThreshold)
	} else {
		result.Status = StatusOK
		result.Message = fmt.Sprintf("table %s volume %d within baseline (z=%.2f)", c.config.Table, count, z)
	}

	if c.metrics != nil && c.metrics.VolumeZScore != nil {
		c.metrics.VolumeZScore.WithLabelValues(c.connector.Name(), c.config.Table).Set(z)
	}

	return result
}
