/*
Package db implements the persistence collaborator of the gateway.

Store is backed by PostgreSQL through a pgx connection pool, with the schema managed by
embedded goose migrations. MemoryStore keeps everything in process for local development
and tests.
*/
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"agora/internal/app/chat"
	"agora/internal/app/notify"
	"agora/internal/pkg/logx"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// MemoryDSN selects the in-process MemoryStore.
const MemoryDSN = "memory://"

// Backend is everything the gateway needs from persistence.
type Backend interface {
	chat.MessageStore
	notify.UnreadStore
	RoomSeeder
	Close()
}

// Open returns the backend named by dsn: MemoryDSN or a PostgreSQL DSN.
func Open(dsn string) (Backend, error) {
	if strings.HasPrefix(dsn, MemoryDSN) {
		logx.Warn("Using in-memory persistence; history is lost on restart.")
		return NewMemoryStore(), nil
	}

	pool, err := NewPool(dsn)
	if err != nil {
		return nil, err
	}
	return NewStore(pool), nil
}

// NewPool initializes a new PostgreSQL connection pool and executes database migrations.
func NewPool(dsn string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	if err := runMigrations(sqlDB); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// runMigrations applies all pending migrations from the embedded file system.
func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	logx.Info("Database migrations applied successfully.")
	return nil
}
