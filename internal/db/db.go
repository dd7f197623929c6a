package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sort"
	"strconv"
	"time"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/arcflow/engine/migrations"
)

// Connect opens the database at dsn, tunes its pool, and applies migrations.
// Unlike the package-global pattern this started from, it threads the
// opened *sql.DB through every step explicitly and returns it plus an
// error instead of stashing it in a package variable and panicking, so
// callers in cmd/arcflow can wire it into a dependency struct the way they
// wire everything else.
func Connect(dsn string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	maxOpenConns := getEnvInt("ARCFLOW_DB_MAX_OPEN_CONNS", 25)
	maxIdleConns := getEnvInt("ARCFLOW_DB_MAX_IDLE_CONNS", 10)
	connMaxLifetime := getEnvDuration("ARCFLOW_DB_CONN_MAX_LIFETIME", 5*time.Minute)
	connMaxIdleTime := getEnvDuration("ARCFLOW_DB_CONN_MAX_IDLE_TIME", 2*time.Minute)

	conn.SetMaxOpenConns(maxOpenConns)
	conn.SetMaxIdleConns(maxIdleConns)
	conn.SetConnMaxLifetime(connMaxLifetime)
	conn.SetConnMaxIdleTime(connMaxIdleTime)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	log.Printf("arcflow: database connected with pool: max_open=%d, max_idle=%d, max_lifetime=%v",
		maxOpenConns, maxIdleConns, connMaxLifetime)

	if err := applyMigrations(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return conn, nil
}

// applyMigrations tracks applied migration filenames in schema_migrations
// and execs each not-yet-applied .sql file from the embedded migrations.FS
// catalog, in filename order, each in its own transaction together with its
// schema_migrations insert.
func applyMigrations(conn *sql.DB) error {
	if _, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	rows, err := conn.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("load applied migrations: %w", err)
	}
	applied := make(map[string]struct{})
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = struct{}{}
	}
	rows.Close()

	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if _, ok := applied[name]; ok {
			continue
		}
		sqlBytes, err := migrations.FS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if err := Tx(context.Background(), conn, func(tx *sql.Tx) error {
			if _, err := tx.Exec(string(sqlBytes)); err != nil {
				return fmt.Errorf("exec %s: %w", name, err)
			}
			_, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES ($1)`, name)
			return err
		}); err != nil {
			return err
		}
		log.Printf("arcflow: applied migration %s", name)
	}
	return nil
}

// Tx runs fn inside a SQL transaction on database, rolling back on error or
// panic and committing otherwise. Unlike the package-global Begin this
// started from, it takes both a context and the *sql.DB to operate on, so
// pkg/persistence can use it against its own connection pool instead of
// reaching for the db package's global.
func Tx(ctx context.Context, database *sql.DB, fn func(*sql.Tx) error) (err error) {
	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Printf("Warning: Invalid integer value for %s: %s, using default: %d", key, value, defaultValue)
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		log.Printf("Warning: Invalid duration value for %s: %s, using default: %v", key, value, defaultValue)
	}
	return defaultValue
}
