package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/pipewatch/pipewatch/internal/checks"
	"github.com/pipewatch/pipewatch/internal/connectors"
	"github.com/pipewatch/pipewatch/pkg/config"
	"github.com/pipewatch/pipewatch/pkg/metrics"
	"github.com/pipewatch/pipewatch/pkg/resilience"
	"github.com/pipewatch/pipewatch/pkg/tracing"
)

// stubCheck returns a fixed result and counts runs
type stubCheck struct {
	name   string
	kind   string
	status checks.Status
	runs   int64
	block  time.Duration
}

func (c *stubCheck) Name() string { return c.name }
func (c *stubCheck) Kind() string { return c.kind }

func (c *stubCheck) Run(ctx context.Context) *checks.Result {
	atomic.AddInt64(&c.runs, 1)
	if c.block > 0 {
		time.Sleep(c.block)
	}
	return &checks.Result{
		CheckName: c.name,
		CheckKind: c.kind,
		Connector: "pg",
		Table:     "events",
		Status:    c.status,
		RowCount:  100,
		RunAt:     time.Now(),
	}
}

// memoryStore records what the scheduler persists
type memoryStore struct {
	mutex   sync.Mutex
	results []*checks.Result
	samples []int64
	history map[string][]int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{history: make(map[string][]int64)}
}

func (m *memoryStore) InsertResult(ctx context.Context, result *checks.Result) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.results = append(m.results, result)
	return nil
}

func (m *memoryStore) InsertVolumeSample(ctx context.Context, connector, table string, rowCount int64, sampledAt time.Time) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.samples = append(m.samples, rowCount)
	return nil
}

func (m *memoryStore) RecentVolumeSamples(ctx context.Context, connector, table string, limit int) ([]int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.history[connector+"/"+table], nil
}

func (m *memoryStore) storedResults() []*checks.Result {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]*checks.Result(nil), m.results...)
}

func (m *memoryStore) storedSamples() []int64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]int64(nil), m.samples...)
}

func testMonitorConfig() *config.MonitorConfig {
	return &config.MonitorConfig{
		CheckInterval:  50 * time.Millisecond,
		QueryTimeout:   time.Second,
		MaxConcurrent:  2,
		BaselineWindow: 24,
	}
}

func TestService_RunOncePersistsResults(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(testMonitorConfig(), store, resilience.NewCircuitBreakerRegistry(), nil, nil, nil)

	svc.AddCheck(&stubCheck{name: "freshness:pg:events", kind: "freshness", status: checks.StatusOK})
	svc.AddCheck(&stubCheck{name: "volume:pg:events", kind: "volume", status: checks.StatusOK})

	svc.RunOnce(context.Background())

	results := store.storedResults()
	require.Len(t, results, 2)

	// Only the volume check contributes a sample
	assert.Equal(t, []int64{100}, store.storedSamples())
}

func TestService_ErroredVolumeCheckSkipsSample(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(testMonitorConfig(), store, nil, nil, nil, nil)

	svc.AddCheck(&stubCheck{name: "volume:pg:events", kind: "volume", status: checks.StatusError})

	svc.RunOnce(context.Background())

	require.Len(t, store.storedResults(), 1)
	assert.Empty(t, store.storedSamples())
}

func TestService_ConcurrencyIsBounded(t *testing.T) {
	cfg := testMonitorConfig()
	cfg.MaxConcurrent = 1

	svc := NewService(cfg, nil, nil, nil, nil, nil)

	first := &stubCheck{name: "a", kind: "freshness", status: checks.StatusOK, block: 30 * time.Millisecond}
	second := &stubCheck{name: "b", kind: "freshness", status: checks.StatusOK, block: 30 * time.Millisecond}
	svc.AddCheck(first)
	svc.AddCheck(second)

	started := time.Now()
	svc.RunOnce(context.Background())

	// With one slot the checks run back to back
	assert.GreaterOrEqual(t, time.Since(started), 60*time.Millisecond)
}

func TestService_StartRunsImmediatelyAndStops(t *testing.T) {
	svc := NewService(testMonitorConfig(), nil, nil, nil, nil, nil)
	check := &stubCheck{name: "a", kind: "freshness", status: checks.StatusOK}
	svc.AddCheck(check)

	svc.Start(context.Background())
	time.Sleep(120 * time.Millisecond)
	svc.Stop()

	runs := atomic.LoadInt64(&check.runs)
	assert.GreaterOrEqual(t, runs, int64(2))

	// No more runs after Stop
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, runs, atomic.LoadInt64(&check.runs))
}

func TestService_StartIsIdempotent(t *testing.T) {
	svc := NewService(testMonitorConfig(), nil, nil, nil, nil, nil)
	svc.AddCheck(&stubCheck{name: "a", kind: "freshness", status: checks.StatusOK})

	svc.Start(context.Background())
	svc.Start(context.Background())
	svc.Stop()
	svc.Stop()
}

func TestService_SeedBaselines(t *testing.T) {
	store := newMemoryStore()
	store.history["pg/events"] = []int64{95, 100, 105}

	svc := NewService(testMonitorConfig(), store, nil, nil, nil, nil)

	conn := &seedConnector{name: "pg", count: 100}
	vc := checks.NewVolumeCheck(checks.VolumeCheckConfig{
		Table:           "events",
		TimestampColumn: "created_at",
		ZThreshold:      3.0,
	}, conn, nil)
	svc.AddCheck(vc)

	svc.SeedBaselines(context.Background())
	assert.True(t, vc.Baseline().Ready())

	// With a seeded baseline the first run scores instead of building
	result := vc.Run(context.Background())
	assert.NotContains(t, result.Message, "building baseline")
}

func TestService_ExportsOperationStats(t *testing.T) {
	m := &metrics.Metrics{
		RetryAttempts: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "retry_total_attempts"}, []string{"name"}),
		OperationTimeouts: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "operation_timeouts_total"}, []string{"name"}),
	}

	op := resilience.NewResilientOperation(
		resilience.TimeoutConfig{Name: "db-query", Duration: time.Second},
		resilience.RetryPolicyConfig{Name: "db-pg", MaxAttempts: 1},
		resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "db-pg"}),
	)
	_, err := op.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)

	svc := NewService(testMonitorConfig(), nil, nil, m, nil, nil)
	svc.ObserveOperation(op)
	svc.AddCheck(&stubCheck{name: "a", kind: "freshness", status: checks.StatusOK})

	svc.RunOnce(context.Background())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetryAttempts.WithLabelValues("db-pg")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.OperationTimeouts.WithLabelValues("db-query")))
}

func TestService_TracesCheckRuns(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	tracer, err := tracing.NewTracingService(&tracing.Config{Enabled: false})
	require.NoError(t, err)

	svc := NewService(testMonitorConfig(), nil, nil, nil, nil, tracer)
	svc.AddCheck(&stubCheck{name: "freshness:pg:events", kind: "freshness", status: checks.StatusOK})

	svc.RunOnce(context.Background())

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "check.run", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("check.name", "freshness:pg:events"))
}

// seedConnector is the minimal connector for the seeding test
type seedConnector struct {
	name  string
	count int64
}

func (s *seedConnector) Name() string { return s.name }

func (s *seedConnector) RowCount(ctx context.Context, table, column string, since, until time.Time) (int64, error) {
	return s.count, nil
}

func (s *seedConnector) TableFreshness(ctx context.Context, table, column string) (time.Time, error) {
	return time.Time{}, nil
}

func (s *seedConnector) ListTables(ctx context.Context) ([]connectors.TableInfo, error) {
	return nil, nil
}

func (s *seedConnector) Ping(ctx context.Context) error { return nil }
func (s *seedConnector) Close() error                   { return nil }
