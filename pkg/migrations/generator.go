package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Dialect names a supported SQL database.
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
)

// Dialects lists every supported dialect.
var Dialects = []Dialect{Postgres, MySQL, SQLite}

// ParseDialect validates a dialect name.
func ParseDialect(name string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(name)); d {
	case Postgres, MySQL, SQLite:
		return d, nil
	case "postgresql", "pg":
		return Postgres, nil
	case "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported dialect '%s': supported dialects are postgres, mysql, sqlite", name)
	}
}

var identifierRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// validateIdentifier ensures an identifier contains only safe characters for SQL.
// Returns an error if the identifier contains characters that could be used for SQL injection.
func validateIdentifier(name, fieldName string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("%s must start with a letter and contain only letters, numbers, and underscores (got: %s)", fieldName, name)
	}
	return nil
}

// Tables names the tables holding synchronization state.
type Tables struct {
	// Actions holds action records; claimed rows have logical_time 0.
	Actions string

	// Alternatives holds one override per endpoint.
	Alternatives string

	// Profiles holds one row per registered process.
	Profiles string

	// Counters holds cluster-wide counters.
	Counters string
}

// DefaultTables returns the default table names.
func DefaultTables() Tables {
	return Tables{
		Actions:      "configsync_actions",
		Alternatives: "configsync_alternatives",
		Profiles:     "configsync_profiles",
		Counters:     "configsync_counters",
	}
}

// Validate rejects table names that are not plain SQL identifiers.
func (t Tables) Validate() error {
	if err := validateIdentifier(t.Actions, "Actions"); err != nil {
		return err
	}
	if err := validateIdentifier(t.Alternatives, "Alternatives"); err != nil {
		return err
	}
	if err := validateIdentifier(t.Profiles, "Profiles"); err != nil {
		return err
	}
	return validateIdentifier(t.Counters, "Counters")
}

// Config configures migration file generation.
type Config struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// Tables are the table names to create
	Tables Tables
}

// DefaultConfig returns the default configuration for configsync migrations.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:   "migrations",
		OutputFilename: fmt.Sprintf("%s_init_configsync.sql", timestamp),
		Tables:         DefaultTables(),
	}
}

// Statements returns the DDL statements for a dialect, one statement per element
// and without trailing semicolons. Every statement is idempotent.
func Statements(dialect Dialect, tables Tables) ([]string, error) {
	if err := tables.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	switch dialect {
	case Postgres:
		return postgresStatements(tables), nil
	case MySQL:
		return mysqlStatements(tables), nil
	case SQLite:
		return sqliteStatements(tables), nil
	default:
		return nil, fmt.Errorf("unsupported dialect '%s'", dialect)
	}
}

// Generate writes the migration file for a dialect.
func Generate(dialect Dialect, config *Config) error {
	stmts, err := Statements(dialect, config.Tables)
	if err != nil {
		return err
	}

	// Ensure output folder exists
	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "-- configsync synchronization tables\n-- Generated: %s\n-- Database: %s\n\n",
		time.Now().Format(time.RFC3339), dialect)
	for _, stmt := range stmts {
		b.WriteString(stmt)
		b.WriteString(";\n\n")
	}

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}

	return nil
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error {
	return Generate(Postgres, config)
}

// GenerateMySQL generates a MySQL/MariaDB migration file.
func GenerateMySQL(config *Config) error {
	return Generate(MySQL, config)
}

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error {
	return Generate(SQLite, config)
}

func postgresStatements(t Tables) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    action_id TEXT NOT NULL,
    target TEXT NOT NULL,
    logical_time BIGINT NOT NULL
)`, t.Actions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_pending
    ON %s (logical_time, target)`, t.Actions, t.Actions),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    endpoint_id TEXT PRIMARY KEY,
    config TEXT NOT NULL,
    logical_time BIGINT NOT NULL
)`, t.Alternatives),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_logical_time
    ON %s (logical_time)`, t.Alternatives, t.Alternatives),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    process_id TEXT PRIMARY KEY,
    last_heartbeat BIGINT NOT NULL
)`, t.Profiles),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    counter_id TEXT PRIMARY KEY,
    counter_value BIGINT NOT NULL DEFAULT 0
)`, t.Counters),
	}
}

func mysqlStatements(t Tables) []string {
	const engine = ") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci"
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id VARCHAR(64) PRIMARY KEY,
    action_id VARCHAR(255) NOT NULL,
    target VARCHAR(255) NOT NULL,
    logical_time BIGINT NOT NULL,
    INDEX idx_%s_pending (logical_time, target)
%s`, t.Actions, t.Actions, engine),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    endpoint_id VARCHAR(255) PRIMARY KEY,
    config LONGTEXT NOT NULL,
    logical_time BIGINT NOT NULL,
    INDEX idx_%s_logical_time (logical_time)
%s`, t.Alternatives, t.Alternatives, engine),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    process_id VARCHAR(255) PRIMARY KEY,
    last_heartbeat BIGINT NOT NULL
%s`, t.Profiles, engine),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    counter_id VARCHAR(255) PRIMARY KEY,
    counter_value BIGINT NOT NULL DEFAULT 0
%s`, t.Counters, engine),
	}
}

func sqliteStatements(t Tables) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    action_id TEXT NOT NULL,
    target TEXT NOT NULL,
    logical_time INTEGER NOT NULL
)`, t.Actions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_pending
    ON %s (logical_time, target)`, t.Actions, t.Actions),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    endpoint_id TEXT PRIMARY KEY,
    config TEXT NOT NULL,
    logical_time INTEGER NOT NULL
)`, t.Alternatives),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_logical_time
    ON %s (logical_time)`, t.Alternatives, t.Alternatives),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    process_id TEXT PRIMARY KEY,
    last_heartbeat INTEGER NOT NULL
)`, t.Profiles),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    counter_id TEXT PRIMARY KEY,
    counter_value INTEGER NOT NULL DEFAULT 0
)`, t.Counters),
	}
}
