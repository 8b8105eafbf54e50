package checks

import (
	"context"
	"time"
)

// Status classifies the outcome of one check run
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	// StatusError means the check itself could not run, e.g. the source
	// was unreachable or its circuit was open
	StatusError Status = "error"
)

// Result captures one check execution
type Result struct {
	CheckName string        `json:"check_name" db:"check_name"`
	CheckKind string        `json:"check_kind" db:"check_kind"`
	Connector string        `json:"connector" db:"connector"`
	Table     string        `json:"table" db:"table_name"`
	Status    Status        `json:"status" db:"status"`
	Message   string        `json:"message" db:"message"`
	Lag       time.Duration `json:"lag,omitempty" db:"lag_seconds"`
	RowCount  int64         `json:"row_count,omitempty" db:"row_count"`
	ZScore    float64       `json:"z_score,omitempty" db:"z_score"`
	Duration  time.Duration `json:"duration" db:"duration_ms"`
	RunAt     time.Time     `json:"run_at" db:"run_at"`
}

// Check is one scheduled health probe against a monitored table.
// Run never returns an error; failures are folded into the result so a
// broken source cannot take the scheduler down with it.
type Check interface {
	Name() string
	Kind() string
	Run(ctx context.Context) *Result
}
