package connectors

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/pipewatch/pipewatch/pkg/errors"
)

// TableInfo describes one monitored table
type TableInfo struct {
	Schema        string `json:"schema" db:"table_schema"`
	Name          string `json:"name" db:"table_name"`
	EstimatedRows int64  `json:"estimated_rows" db:"estimated_rows"`
}

// Connector is the boundary between the monitoring checks and one external
// database. Implementations must escape identifiers per engine and pass the
// caller's context down to the driver so in-flight queries are cancellable.
type Connector interface {
	// Name returns the logical resource name, used for breaker correlation
	Name() string
	// TableFreshness returns the newest value in the table's timestamp column
	TableFreshness(ctx context.Context, table, timestampColumn string) (time.Time, error)
	// RowCount counts rows whose timestamp falls in [since, until)
	RowCount(ctx context.Context, table, timestampColumn string, since, until time.Time) (int64, error)
	// ListTables enumerates tables visible to the monitoring user
	ListTables(ctx context.Context) ([]TableInfo, error)
	// Ping verifies connectivity
	Ping(ctx context.Context) error
	// Close releases the connection pool
	Close() error
}

// identifierPattern accepts plain or schema-qualified SQL identifiers.
// Anything else is rejected before it reaches a query string.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*)?$`)

// validateIdentifier rejects table and column names that could smuggle SQL
func validateIdentifier(name string) error {
	if name == "" {
		return errors.NewValidationError("identifier is empty")
	}
	if len(name) > 128 {
		return errors.NewValidationError("identifier exceeds maximum length")
	}
	if !identifierPattern.MatchString(name) {
		return errors.NewValidationError("invalid identifier: " + name)
	}
	return nil
}

// splitQualified splits an optionally schema-qualified identifier
func splitQualified(name string) (schema, object string) {
	if idx := strings.IndexByte(name, '.'); idx >= 0 {
		return name[:idx], name[idx+1:]
	}
	return "", name
}
