package connectors

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/pipewatch/pipewatch/pkg/config"
	"github.com/pipewatch/pipewatch/pkg/errors"
	"github.com/pipewatch/pipewatch/pkg/logging"
	"github.com/pipewatch/pipewatch/pkg/metrics"
	"github.com/pipewatch/pipewatch/pkg/resilience"
)

// MySQLConnector monitors tables in a MySQL source database
type MySQLConnector struct {
	name    string
	db      *sqlx.DB
	op      *resilience.ResilientOperation
	metrics *metrics.Metrics
	logger  *logrus.Entry
}

// NewMySQLConnector opens a connection pool to a MySQL source
func NewMySQLConnector(name string, cfg *config.DatabaseConfig, registry *resilience.CircuitBreakerRegistry, m *metrics.Metrics) (*MySQLConnector, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)

	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		return nil, errors.NewConnectionError(name, fmt.Sprintf("failed to connect: %v", err))
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return newMySQLConnector(name, db, registry, m), nil
}

func newMySQLConnector(name string, db *sqlx.DB, registry *resilience.CircuitBreakerRegistry, m *metrics.Metrics) *MySQLConnector {
	return &MySQLConnector{
		name:    name,
		db:      db,
		op:      resilience.NewDatabaseOperation(registry, name, "query"),
		metrics: m,
		logger:  logging.GetLogger().WithComponent("connector.mysql"),
	}
}

// recordQuery feeds one query's duration and outcome into the connector metrics
func (c *MySQLConnector) recordQuery(operation string, started time.Time, err error) {
	if c.metrics != nil {
		c.metrics.RecordQuery(c.name, operation, time.Since(started), err)
	}
}

// Name returns the logical resource name
func (c *MySQLConnector) Name() string {
	return c.name
}

// TableFreshness returns the newest value in the table's timestamp column
func (c *MySQLConnector) TableFreshness(ctx context.Context, table, timestampColumn string) (time.Time, error) {
	if err := validateIdentifier(table); err != nil {
		return time.Time{}, err
	}
	if err := validateIdentifier(timestampColumn); err != nil {
		return time.Time{}, err
	}

	query := fmt.Sprintf("SELECT MAX(%s) FROM %s", quoteMySQLIdentifier(timestampColumn), quoteMySQLTable(table))

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
func (c *MySQLConnector) RowCount(ctx context.Context, table, timestampColumn string, since, until time.Time) (int64, error) {
	if err := validateIdentifier(table); err != nil {
		return 0, err
	}
	if err := validateIdentifier(timestampColumn); err != nil {
		return 0, err
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s >= ? AND %s < ?",
		quoteMySQLTable(table), quoteMySQLIdentifier(timestampColumn), quoteMySQLIdentifier(timestampColumn))

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

// ListTables enumerates base tables with their optimizer row estimates
func (c *MySQLConnector) ListTables(ctx context.Context) ([]TableInfo, error) {
	query := `
		SELECT table_schema AS table_schema,
		       table_name AS table_name,
		       COALESCE(table_rows, 0) AS estimated_rows
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		  AND table_schema NOT IN ('mysql', 'sys', 'information_schema', 'performance_schema')
		ORDER BY table_schema, table_name`

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

// Ping verifies connectivity, bypassing the breaker
func (c *MySQLConnector) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return errors.NewConnectionError(c.name, err.Error())
	}
	return nil
}

// Close releases the connection pool
func (c *MySQLConnector) Close() error {
	return c.db.Close()
}

// Breaker exposes the connector's circuit breaker for status reporting
func (c *MySQLConnector) Breaker() *resilience.CircuitBreaker {
	return c.op.Breaker()
}

// Operation exposes the composed resilience primitives for stats export
func (c *MySQLConnector) Operation() *resilience.ResilientOperation {
	return c.op
}

func quoteMySQLIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func quoteMySQLTable(table string) string {
	schema, object := splitQualified(table)
	if schema == "" {
		return quoteMySQLIdentifier(object)
	}
	return quoteMySQLIdentifier(schema) + "." + quoteMySQLIdentifier(object)
}
