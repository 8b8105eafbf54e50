package alerting

import (
	"context"
	"fmt"
	"sync"

	"github.com/pipewatch/pipewatch/internal/checks"
	"github.com/pipewatch/pipewatch/pkg/logging"
	"github.com/pipewatch/pipewatch/pkg/resilience"
)

// CheckAlertGenerator turns check results into alerts. It alerts on status
// transitions only, so a table that stays critical for hours produces one
// alert, not one per check interval.
type CheckAlertGenerator struct {
	alertManager *AlertManager
	logger       *logging.Logger

	mutex      sync.Mutex
	lastStatus map[string]checks.Status
}

// NewCheckAlertGenerator creates a generator bound to an alert manager
func NewCheckAlertGenerator(alertManager *AlertManager) *CheckAlertGenerator {
	return &CheckAlertGenerator{
		alertManager: alertManager,
		logger:       logging.GetLogger(),
		lastStatus:   make(map[string]checks.Status),
	}
}

// HandleResult inspects one check result and alerts on status changes
func (g *CheckAlertGenerator) HandleResult(ctx context.Context, result *checks.Result) {
	g.mutex.Lock()
	previous, seen := g.lastStatus[result.CheckName]
	g.lastStatus[result.CheckName] = result.Status
	g.mutex.Unlock()

	if seen && previous == result.Status {
		return
	}

	// A check that starts out healthy is not news
	if !seen && result.Status == checks.StatusOK {
		return
	}

	alert := Alert{
		Severity:    severityForStatus(result.Status),
		Title:       titleForResult(result, previous, seen),
		Description: result.Message,
		Source:      result.CheckName,
		Tags: map[string]string{
			"check_kind": result.CheckKind,
			"connector":  result.Connector,
			"table":      result.Table,
			"status":     string(result.Status),
		},
		Metadata: map[string]interface{}{
			"lag_seconds": result.Lag.Seconds(),
			"row_count":   result.RowCount,
			"run_at":      result.RunAt,
		},
	}

	if err := g.alertManager.SendAlert(ctx, alert); err != nil {
		g.logger.Error("Failed to send check alert",
			"check", result.CheckName,
			"status", string(result.Status),
			"error", err,
		)
	}
}

func severityForStatus(status checks.Status) AlertSeverity {
	switch status {
	case checks.StatusOK:
		return SeverityInfo
	case checks.StatusWarning:
		return SeverityWarning
	case checks.StatusCritical:
		return SeverityCritical
	case checks.StatusError:
		return SeverityError
	default:
		return SeverityError
	}
}

func titleForResult(result *checks.Result, previous checks.Status, seen bool) string {
	if result.Status == checks.StatusOK && seen {
		return fmt.Sprintf("Check Recovered: %s", result.CheckName)
	}

	switch result.CheckKind {
	case "freshness":
		return fmt.Sprintf("Table Freshness %s: %s", result.Status, result.Table)
	case "volume":
		return fmt.Sprintf("Volume Anomaly %s: %s", result.Status, result.Table)
	default:
		return fmt.Sprintf("Check %s: %s", result.Status, result.CheckName)
	}
}

// BreakerAlertGenerator alerts when circuit breakers change state
type BreakerAlertGenerator struct {
	alertManager *AlertManager
	logger       *logging.Logger
}

// NewBreakerAlertGenerator creates a generator bound to an alert manager
func NewBreakerAlertGenerator(alertManager *AlertManager) *BreakerAlertGenerator {
	return &BreakerAlertGenerator{
		alertManager: alertManager,
		logger:       logging.GetLogger(),
	}
}

// OnStateChange is wired as a circuit breaker state change hook
func (g *BreakerAlertGenerator) OnStateChange(name string, from, to resilience.CircuitState) {
	var severity AlertSeverity
	var title string

	switch to {
	case resilience.StateOpen:
		severity = SeverityError
		title = fmt.Sprintf("Circuit Opened: %s", name)
	case resilience.StateHalfOpen:
		severity = SeverityInfo
		title = fmt.Sprintf("Circuit Probing: %s", name)
	case resilience.StateClosed:
		severity = SeverityInfo
		title = fmt.Sprintf("Circuit Recovered: %s", name)
	}

	alert := Alert{
		Severity:    severity,
		Title:       title,
		Description: fmt.Sprintf("circuit breaker %s transitioned from %s to %s", name, from, to),
		Source:      "breaker:" + name,
		Tags: map[string]string{
			"component": "circuit_breaker",
			"breaker":   name,
			"from":      from.String(),
			"to":        to.String(),
		},
	}

	if err := g.alertManager.SendAlert(context.Background(), alert); err != nil {
		g.logger.Error("Failed to send breaker alert", "breaker", name, "error", err)
	}
}
