package store

import (
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/pipewatch/pipewatch/pkg/config"
	"github.com/pipewatch/pipewatch/pkg/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store persists check results and volume samples in PostgreSQL
type Store struct {
	db *sqlx.DB
}

// New connects to the results database and applies pending migrations
func New(cfg *config.DatabaseConfig) (*Store, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, errors.NewConnectionError("store", fmt.Sprintf("failed to connect: %v", err))
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// NewWithDB wraps an existing connection, used in tests
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) migrate() error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return errors.NewInternalError(fmt.Sprintf("failed to load migrations: %v", err))
	}

	driver, err := migratepg.WithInstance(s.db.DB, &migratepg.Config{})
	if err != nil {
		return errors.NewInternalError(fmt.Sprintf("failed to create migration driver: %v", err))
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return errors.NewInternalError(fmt.Sprintf("failed to create migrator: %v", err))
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.NewInternalError(fmt.Sprintf("failed to apply migrations: %v", err))
	}

	return nil
}

// DB exposes the underlying handle for health probes
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close releases the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}
