package store

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Store is the persistent store (C2): sessions, executions, reports, backed
// by Postgres through sqlx. Grounded on the teacher's
// internal/platform/database "Open, ping, return *sql.DB" pattern, extended
// with sqlx struct scanning and golang-migrate schema management.
type Store struct {
	db *sqlx.DB
}

// Open establishes a connection to Postgres, verifies it with a ping, and
// applies pending migrations from migrationsPath before returning.
func Open(ctx context.Context, dsn, migrationsPath string, maxOpenConns int, connMaxIdleTime time.Duration) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}

	if migrationsPath != "" {
		if err := applyMigrations(db, migrationsPath); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open *sqlx.DB (for example a sqlmock-backed
// connection) without running migrations.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func applyMigrations(db *sqlx.DB, migrationsPath string) error {
	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("store: migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("store: migration init: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("store: migration up: %w", err)
	}
	return nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
