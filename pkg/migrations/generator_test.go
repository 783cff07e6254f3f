package migrations

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGeneratePostgres(t *testing.T) {
	tmpDir := t.TempDir()

	config := Config{
		OutputFolder:   tmpDir,
		OutputFilename: "test_migration.sql",
		Tables:         DefaultTables(),
	}

	err := GeneratePostgres(&config)
	if err != nil {
		t.Fatalf("GeneratePostgres failed: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(tmpDir, config.OutputFilename))
	if err != nil {
		t.Fatalf("Failed to read generated file: %v", err)
	}

	sql := string(content)

	required := []string{
		"-- Database: postgres",
		"CREATE TABLE IF NOT EXISTS configsync_actions",
		"action_id TEXT NOT NULL",
		"logical_time BIGINT NOT NULL",
		"CREATE INDEX IF NOT EXISTS idx_configsync_actions_pending",
		"CREATE TABLE IF NOT EXISTS configsync_alternatives",
		"endpoint_id TEXT PRIMARY KEY",
		"CREATE TABLE IF NOT EXISTS configsync_profiles",
		"last_heartbeat BIGINT NOT NULL",
		"CREATE TABLE IF NOT EXISTS configsync_counters",
		"counter_value BIGINT NOT NULL DEFAULT 0",
	}

	for _, r := range required {
		if !strings.Contains(sql, r) {
			t.Errorf("Generated SQL missing required string: %s", r)
		}
	}
}

func TestGenerateMySQL(t *testing.T) {
	tmpDir := t.TempDir()

	config := Config{
		OutputFolder:   tmpDir,
		OutputFilename: "test_migration.sql",
		Tables:         DefaultTables(),
	}

	if err := GenerateMySQL(&config); err != nil {
		t.Fatalf("GenerateMySQL failed: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(tmpDir, config.OutputFilename))
	if err != nil {
		t.Fatalf("Failed to read generated file: %v", err)
	}

	sql := string(content)

	required := []string{
		"id VARCHAR(64) PRIMARY KEY",
		"config LONGTEXT NOT NULL",
		"INDEX idx_configsync_actions_pending (logical_time, target)",
		"ENGINE=InnoDB",
		"CHARSET=utf8mb4",
	}

	for _, r := range required {
		if !strings.Contains(sql, r) {
			t.Errorf("Generated SQL missing required string: %s", r)
		}
	}

	if strings.Contains(sql, "CREATE INDEX IF NOT EXISTS") {
		t.Error("MySQL does not support CREATE INDEX IF NOT EXISTS")
	}
}

func TestGenerateSQLite(t *testing.T) {
	tmpDir := t.TempDir()

	config := Config{
		OutputFolder:   tmpDir,
		OutputFilename: "test_migration.sql",
		Tables:         DefaultTables(),
	}

	if err := GenerateSQLite(&config); err != nil {
		t.Fatalf("GenerateSQLite failed: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(tmpDir, config.OutputFilename))
	if err != nil {
		t.Fatalf("Failed to read generated file: %v", err)
	}

	sql := string(content)

	if !strings.Contains(sql, "logical_time INTEGER NOT NULL") {
		t.Error("SQLite schema should use INTEGER columns")
	}
	if strings.Contains(sql, "BIGINT") {
		t.Error("SQLite schema should not use BIGINT")
	}
}

func TestGenerate_CustomTableNames(t *testing.T) {
	tmpDir := t.TempDir()

	config := Config{
		OutputFolder:   tmpDir,
		OutputFilename: "custom.sql",
		Tables: Tables{
			Actions:      "ops_actions",
			Alternatives: "ops_alternatives",
			Profiles:     "ops_profiles",
			Counters:     "ops_counters",
		},
	}

	for _, d := range Dialects {
		if err := Generate(d, &config); err != nil {
			t.Fatalf("Generate(%s) failed: %v", d, err)
		}

		content, err := os.ReadFile(filepath.Join(tmpDir, config.OutputFilename))
		if err != nil {
			t.Fatalf("Failed to read generated file: %v", err)
		}

		for _, table := range []string{"ops_actions", "ops_alternatives", "ops_profiles", "ops_counters"} {
			if !strings.Contains(string(content), "CREATE TABLE IF NOT EXISTS "+table) {
				t.Errorf("%s: custom table name %s not used", d, table)
			}
		}
	}
}

func TestGenerate_CreatesOutputFolder(t *testing.T) {
	tmpDir := t.TempDir()
	nested := filepath.Join(tmpDir, "db", "migrations")

	config := DefaultConfig()
	config.OutputFolder = nested

	if err := GeneratePostgres(&config); err != nil {
		t.Fatalf("GeneratePostgres failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(nested, config.OutputFilename)); err != nil {
		t.Errorf("Migration file not created: %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.OutputFolder != "migrations" {
		t.Errorf("Expected OutputFolder 'migrations', got '%s'", config.OutputFolder)
	}
	if !strings.HasSuffix(config.OutputFilename, "_init_configsync.sql") {
		t.Errorf("Unexpected OutputFilename: %s", config.OutputFilename)
	}
	if config.Tables != DefaultTables() {
		t.Errorf("Expected default tables, got %+v", config.Tables)
	}
}

func TestStatements_RejectsUnsafeIdentifiers(t *testing.T) {
	tests := []struct {
		name   string
		tables Tables
	}{
		{"empty", Tables{Actions: "", Alternatives: "a", Profiles: "p", Counters: "c"}},
		{"injection", Tables{Actions: "a; DROP TABLE users", Alternatives: "a", Profiles: "p", Counters: "c"}},
		{"leading digit", Tables{Actions: "a", Alternatives: "1alt", Profiles: "p", Counters: "c"}},
		{"dash", Tables{Actions: "a", Alternatives: "b", Profiles: "p-x", Counters: "c"}},
		{"space", Tables{Actions: "a", Alternatives: "b", Profiles: "p", Counters: "c d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Statements(Postgres, tt.tables); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestStatements_UnknownDialect(t *testing.T) {
	if _, err := Statements(Dialect("oracle"), DefaultTables()); err == nil {
		t.Error("Expected error for unsupported dialect")
	}
}

func TestParseDialect(t *testing.T) {
	tests := map[string]Dialect{
		"postgres":   Postgres,
		"PostgreSQL": Postgres,
		"mysql":      MySQL,
		"sqlite":     SQLite,
		"sqlite3":    SQLite,
	}

	for in, want := range tests {
		got, err := ParseDialect(in)
		if err != nil {
			t.Errorf("ParseDialect(%q) failed: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseDialect(%q) = %s, want %s", in, got, want)
		}
	}

	if _, err := ParseDialect("mssql"); err == nil {
		t.Error("Expected error for unsupported dialect")
	}
}
