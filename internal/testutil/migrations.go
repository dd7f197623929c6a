package testutil

import (
	"database/sql"
	"io/fs"
	"sort"
	"testing"
	"time"

	"github.com/arcflow/engine/migrations"
	"github.com/stretchr/testify/require"
)

// ApplyMigrations applies all embedded migrations with the same file set,
// filename order and schema_migrations bookkeeping as internal/db.Connect.
// Unlike Connect, it does not wrap each migration in a transaction.
func ApplyMigrations(t *testing.T, db *sql.DB) {
	t.Helper()

	// Create schema_migrations table if it doesn't exist
	if _, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS schema_migrations (
            version TEXT PRIMARY KEY,
            applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`); err != nil {
		require.NoError(t, err, "Failed to create schema_migrations table")
	}

	// Read applied versions into a set
	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	require.NoError(t, err, "Failed to query applied migrations")
	defer rows.Close()

	applied := map[string]struct{}{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			require.NoError(t, err, "Failed to scan migration version")
		}
		applied[v] = struct{}{}
	}

	// Collect migration files from embed FS (same as production)
	entries, err := fs.ReadDir(migrations.FS, ".")
	require.NoError(t, err, "Failed to read embedded migrations")

	// Sort by filename to ensure deterministic order
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		name := entry.Name()
		if _, ok := applied[name]; ok {
			continue // already applied
		}

		// Read migration SQL from embedded migrations FS
		sqlBytes, err := migrations.FS.ReadFile(name)
		require.NoError(t, err, "Failed to read migration %s", name)

		// Execute the migration
		if _, err := db.Exec(string(sqlBytes)); err != nil {
			require.NoError(t, err, "Failed to execute migration %s", name)
		}

		// Record the migration as applied
		if _, err := db.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`, name, time.Now()); err != nil {
			require.NoError(t, err, "Failed to record migration %s", name)
		}

		t.Logf("✅ Applied migration: %s", name)
	}
}
