package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/pipewatch/pipewatch/internal/alerting"
	"github.com/pipewatch/pipewatch/internal/checks"
	"github.com/pipewatch/pipewatch/pkg/config"
	"github.com/pipewatch/pipewatch/pkg/logging"
	"github.com/pipewatch/pipewatch/pkg/metrics"
	"github.com/pipewatch/pipewatch/pkg/resilience"
	"github.com/pipewatch/pipewatch/pkg/tracing"
)

// ResultStore is what the scheduler needs from the persistence layer
type ResultStore interface {
	InsertResult(ctx context.Context, result *checks.Result) error
	InsertVolumeSample(ctx context.Context, connector, table string, rowCount int64, sampledAt time.Time) error
	RecentVolumeSamples(ctx context.Context, connector, table string, limit int) ([]int64, error)
}

// Service schedules checks at a fixed interval and fans results out to the
// store, metrics, and alerting
type Service struct {
	config    *config.MonitorConfig
	store     ResultStore
	registry  *resilience.CircuitBreakerRegistry
	metrics   *metrics.Metrics
	generator *alerting.CheckAlertGenerator
	tracer    *tracing.TracingService
	logger    *logging.Logger

	mutex      sync.Mutex
	checks     []checks.Check
	operations []*resilience.ResilientOperation
	running    bool
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// NewService creates the scheduler. Store, metrics, generator, and tracer may be nil.
func NewService(cfg *config.MonitorConfig, store ResultStore, registry *resilience.CircuitBreakerRegistry, m *metrics.Metrics, generator *alerting.CheckAlertGenerator, tracer *tracing.TracingService) *Service {
	return &Service{
		config:    cfg,
		store:     store,
		registry:  registry,
		metrics:   m,
		generator: generator,
		tracer:    tracer,
		logger:    logging.GetLogger(),
	}
}

// AddCheck registers a check with the scheduler
func (s *Service) AddCheck(check checks.Check) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.checks = append(s.checks, check)
}

// Checks returns the registered checks
func (s *Service) Checks() []checks.Check {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]checks.Check(nil), s.checks...)
}

// ObserveOperation includes the operation's retry and timeout counters in the
// stats export that follows every round
func (s *Service) ObserveOperation(op *resilience.ResilientOperation) {
	if op == nil {
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.operations = append(s.operations, op)
}

// SeedBaselines primes each volume check's baseline from stored samples so
// anomaly detection survives restarts
func (s *Service) SeedBaselines(ctx context.Context) {
	if s.store == nil {
		return
	}

	for _, check := range s.Checks() {
		vc, ok := check.(*checks.VolumeCheck)
		if !ok {
			continue
		}

		samples, err := s.store.RecentVolumeSamples(ctx, vc.ConnectorName(), vc.Table(), s.config.BaselineWindow)
		if err != nil {
			s.logger.Warn("Failed to seed baseline", "check", vc.Name(), "error", err)
			continue
		}

		for _, sample := range samples {
			vc.Baseline().Add(float64(sample))
		}

		if len(samples) > 0 {
			s.logger.Info("Baseline seeded", "check", vc.Name(), "samples", len(samples))
		}
	}
}

// Start begins periodic execution. The first round runs immediately.
func (s *Service) Start(ctx context.Context) {
	s.mutex.Lock()
	if s.running {
		s.mutex.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mutex.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("Monitor started",
		"interval", s.config.CheckInterval.String(),
		"checks", len(s.Checks()),
	)
}

// Stop halts scheduling and waits for the in-flight round to finish
func (s *Service) Stop() {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mutex.Unlock()

	s.wg.Wait()
	s.logger.Info("Monitor stopped")
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes every registered check with bounded concurrency
func (s *Service) RunOnce(ctx context.Context) {
	registered := s.Checks()
	if len(registered) == 0 {
		return
	}

	maxConcurrent := s.config.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup

	for _, check := range registered {
		wg.Add(1)
		sem <- struct{}{}

		go func(check checks.Check) {
			defer wg.Done()
			defer func() { <-sem }()
			s.runCheck(ctx, check)
		}(check)
	}

	wg.Wait()
	s.exportResilienceStats()
}

func (s *Service) runCheck(ctx context.Context, check checks.Check) {
	ctx = logging.WithCorrelationID(ctx, logging.NewCorrelationID())

	var span oteltrace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.StartCheckSpan(ctx, check.Name(), checkConnector(check))
	}

	result := check.Run(ctx)

	if span != nil {
		var runErr error
		if result.Status == checks.StatusError {
			runErr = errors.New(result.Message)
		}
		tracing.EndSpan(span, runErr)
	}

	s.logger.LogCheckEvent(ctx, "check_completed", result.CheckName, result.Connector, map[string]interface{}{
		"status":   string(result.Status),
		"duration": result.Duration.String(),
	})

	if s.metrics != nil {
		s.metrics.RecordCheckRun(result.CheckName, string(result.Status), result.Duration)
	}

	if s.store != nil {
		if err := s.store.InsertResult(ctx, result); err != nil {
			s.logger.Error("Failed to persist check result", "check", result.CheckName, "error", err)
		}

		if result.CheckKind == "volume" && result.Status != checks.StatusError {
			if err := s.store.InsertVolumeSample(ctx, result.Connector, result.Table, result.RowCount, result.RunAt); err != nil {
				s.logger.Error("Failed to persist volume sample", "check", result.CheckName, "error", err)
			}
		}
	}

	if s.generator != nil {
		s.generator.HandleResult(ctx, result)
	}
}

func (s *Service) exportResilienceStats() {
	if s.metrics == nil {
		return
	}

	if s.registry != nil {
		s.metrics.ExportBreakerStats(s.registry)
	}

	s.mutex.Lock()
	operations := append([]*resilience.ResilientOperation(nil), s.operations...)
	s.mutex.Unlock()

	for _, op := range operations {
		if retry := op.RetryPolicy(); retry != nil {
			s.metrics.ExportRetryStats(retry.Name(), retry.Stats())
		}
		if timeout := op.Timeout(); timeout != nil {
			s.metrics.ExportTimeoutStats(timeout.Name(), timeout.Stats())
		}
	}
}

// checkConnector resolves the span's connector label before the check runs
func checkConnector(check checks.Check) string {
	if named, ok := check.(interface{ ConnectorName() string }); ok {
		return named.ConnectorName()
	}
	return ""
}
