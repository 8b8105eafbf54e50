package connectors

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/pipewatch/pipewatch/pkg/config"
	"github.com/pipewatch/pipewatch/pkg/errors"
	"github.com/pipewatch/pipewatch/pkg/logging"
	"github.com/pipewatch/pipewatch/pkg/metrics"
	"github.com/pipewatch/pipewatch/pkg/resilience"
)

// PostgresConnector monitors tables in a PostgreSQL source database.
// Every query runs through a shared per-resource circuit breaker with
// retries and an overall deadline.
type PostgresConnector struct {
	name    string
	db      *sqlx.DB
	op      *resilience.ResilientOperation
	metrics *metrics.Metrics
	logger  *logrus.Entry
}

// NewPostgresConnector opens a connection pool to a PostgreSQL source
func NewPostgresConnector(name string, cfg *config.DatabaseConfig, registry *resilience.CircuitBreakerRegistry, m *metrics.Metrics) (*PostgresConnector, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, errors.NewConnectionError(name, fmt.Sprintf("failed to connect: %v", err))
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return newPostgresConnector(name, db, registry, m), nil
}

func newPostgresConnector(name string, db *sqlx.DB, registry *resilience.CircuitBreakerRegistry, m *metrics.Metrics) *PostgresConnector {
	return &PostgresConnector{
		name:    name,
		db:      db,
		op:      resilience.NewDatabaseOperation(registry, name, "query"),
		metrics: m,
		logger:  logging.GetLogger().WithComponent("connector.postgres"),
	}
}

// recordQuery feeds one query's duration and outcome into the connector metrics
func (c *PostgresConnector) recordQuery(operation string, started time.Time, err error) {
	if c.metrics != nil {
		c.metrics.RecordQuery(c.name, operation, time.Since(started), err)
	}
}

// Name returns the logical resource name
func (c *PostgresConnector) Name() string {
	return c.name
}

// TableFreshness returns the newest value in the table's timestamp column
func (c *PostgresConnector) TableFreshness(ctx context.Context, table, timestampColumn string) (time.Time, error) {
	if err := validateIdentifier(table); err != nil {
		return time.Time{}, err
	}
	if err := validateIdentifier(timestampColumn); err != nil {
		return time.Time{}, err
	}

	query := fmt.Sprintf("SELECT MAX(%s) FROM %s", pq.QuoteIdentifier(timestampColumn), quotePostgresTable(table))

	started := time.Now()
	result, err := c.op.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		var latest sql.NullTime
		if err := c.db.GetContext(ctx, &latest, query); err != nil {
			return nil, errors.NewQueryError(c.name, err.Error())
		}
		return latest, nil
	})
	c.recordQuery("freshness", started, err)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"connector": c.name,
			"table":     table,
		}).Error("Freshness query failed")
		return time.Time{}, err
	}

	latest := result.(sql.NullTime)
	if !latest.Valid {
		return time.Time{}, errors.NewNotFoundError("rows in " + table)
	}
	return latest.Time, nil
}

// RowCount counts rows whose timestamp falls in [since, until)
func (c *PostgresConnector) RowCount(ctx context.Context, table, timestampColumn string, since, until time.Time) (int64, error) {
	if err := validateIdentifier(table); err != nil {
		return 0, err
	}
	if err := validateIdentifier(timestampColumn); err != nil {
		return 0, err
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s >= $1 AND %s < $2",
		quotePostgresTable(table), pq.QuoteIdentifier(timestampColumn), pq.QuoteIdentifier(timestampColumn))

	started := time.Now()
	result, err := c.op.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		var count int64
		if err := c.db.GetContext(ctx, &count, query, since, until); err != nil {
			return nil, errors.NewQueryError(c.name, err.Error())
		}
		return count, nil
	})
	c.recordQuery("row_count", started, err)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"connector": c.name,
			"table":     table,
		}).Error("Row count query failed")
		return 0, err
	}

	return result.(int64), nil
}

// ListTables enumerates user tables with their planner row estimates
func (c *PostgresConnector) ListTables(ctx context.Context) ([]TableInfo, error) {
	query := `
		SELECT schemaname AS table_schema,
		       relname AS table_name,
		       n_live_tup AS estimated_rows
		FROM pg_stat_user_tables
		ORDER BY schemaname, relname`

	started := time.Now()
	result, err := c.op.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		var tables []TableInfo
		if err := c.db.SelectContext(ctx, &tables, query); err != nil {
			return nil, errors.NewQueryError(c.name, err.Error())
		}
		return tables, nil
	})
	c.recordQuery("list_tables", started, err)
	if err != nil {
		return nil, err
	}

	return result.([]TableInfo), nil
}

// Ping verifies connectivity without going through the breaker, so health
// probes keep observing the real database while the circuit is open
func (c *PostgresConnector) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return errors.NewConnectionError(c.name, err.Error())
	}
	return nil
}

// Close releases the connection pool
func (c *PostgresConnector) Close() error {
	return c.db.Close()
}

// Breaker exposes the connector's circuit breaker for status reporting
func (c *PostgresConnector) Breaker() *resilience.CircuitBreaker {
	return c.op.Breaker()
}

// Operation exposes the composed resilience primitives for stats export
func (c *PostgresConnector) Operation() *resilience.ResilientOperation {
	return c.op
}

func quotePostgresTable(table string) string {
	schema, object := splitQualified(table)
	if schema == "" {
		return pq.QuoteIdentifier(object)
	}
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(object)
}
