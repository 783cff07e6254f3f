//go:build integration

package integration_test

import (
	"database/sql"
	"os"
	"testing"

	"github.com/getpup/configsync/pkg/migrations"
	_ "github.com/lib/pq"
)

// getTestDB returns a database connection for integration tests.
// It reads the DATABASE_URL environment variable and skips the test if not set.
func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}

	return db
}

func tableNames() []string {
	tables := migrations.DefaultTables()
	return []string{tables.Actions, tables.Alternatives, tables.Profiles, tables.Counters}
}

// setupTables creates the configsync tables using the default names.
func setupTables(t *testing.T, db *sql.DB) {
	t.Helper()

	stmts, err := migrations.Statements(migrations.Postgres, migrations.DefaultTables())
	if err != nil {
		t.Fatalf("failed to build migration: %v", err)
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("failed to create tables: %v", err)
		}
	}
}

// cleanupTables truncates the configsync tables.
// Errors are logged but don't fail the test (cleanup is best-effort).
func cleanupTables(t *testing.T, db *sql.DB) {
	t.Helper()

	for _, table := range tableNames() {
		if _, err := db.Exec("TRUNCATE " + table); err != nil {
			t.Logf("warning: failed to truncate %s: %v", table, err)
		}
	}
}

// teardownTables drops the configsync tables.
// Errors are logged but don't fail the test.
func teardownTables(t *testing.T, db *sql.DB) {
	t.Helper()

	for _, table := range tableNames() {
		if _, err := db.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			t.Logf("warning: failed to drop %s: %v", table, err)
		}
	}
}
