// Package sqlstore implements store.Store on PostgreSQL, MySQL/MariaDB and SQLite
// through database/sql.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getpup/configsync"
	"github.com/getpup/configsync/pkg/migrations"
	"github.com/getpup/configsync/store"
	"github.com/google/uuid"
)

// Dialect selects the SQL flavour.
type Dialect = migrations.Dialect

// Supported dialects.
const (
	Postgres = migrations.Postgres
	MySQL    = migrations.MySQL
	SQLite   = migrations.SQLite
)

// Config configures the SQL store.
type Config struct {
	// Dialect is the SQL flavour of the database.
	Dialect Dialect

	// Tables are the table names. Zero value uses migrations.DefaultTables.
	Tables migrations.Tables
}

// Store is a database/sql implementation of store.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	tables  migrations.Tables
	ownsDB  bool
}

// New creates a SQL store with default table names on an existing pool.
// Close does not close a pool passed in by the caller.
func New(db *sql.DB, dialect Dialect) *Store {
	return NewWithConfig(db, Config{Dialect: dialect})
}

// NewWithConfig creates a SQL store with custom table names.
func NewWithConfig(db *sql.DB, config Config) *Store {
	if config.Tables == (migrations.Tables{}) {
		config.Tables = migrations.DefaultTables()
	}
	return &Store{
		db:      db,
		dialect: config.Dialect,
		tables:  config.Tables,
	}
}

// DriverName returns the database/sql driver registered for a dialect.
func DriverName(dialect Dialect) string {
	if dialect == SQLite {
		return "sqlite3"
	}
	return string(dialect)
}

// Open connects to dsn, verifies the connection and returns a store that owns
// the pool.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	db, err := sql.Open(DriverName(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == SQLite {
		// One connection keeps :memory: databases shared and writes serialized.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", classify(err))
	}

	s := New(db, dialect)
	s.ownsDB = true
	return s, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	stmts, err := migrations.Statements(s.dialect, s.tables)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration: %w", classify(err))
		}
	}
	return nil
}

// Close closes the pool when the store opened it.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// args accumulates positional query arguments and renders their placeholders.
type args struct {
	dialect Dialect
	values  []any
}

func (a *args) add(v any) string {
	a.values = append(a.values, v)
	if a.dialect == Postgres {
		return fmt.Sprintf("$%d", len(a.values))
	}
	return "?"
}

func (a *args) list(vs []string) string {
	ph := make([]string, len(vs))
	for i, v := range vs {
		ph[i] = a.add(v)
	}
	return strings.Join(ph, ", ")
}

// actionWhere renders filter as a WHERE clause. It reports false when the filter
// cannot match any row.
func actionWhere(f store.ActionFilter, a *args) (string, bool) {
	if len(f.Targets) == 0 || (f.ActionIDs != nil && len(f.ActionIDs) == 0) {
		return "", false
	}

	conds := []string{
		"logical_time > " + a.add(max(f.After, 0)),
		"target IN (" + a.list(f.Targets) + ")",
	}
	if f.ActionIDs != nil {
		conds = append(conds, "action_id IN ("+a.list(f.ActionIDs)+")")
	}
	if len(f.ExcludeActionIDs) > 0 {
		conds = append(conds, "action_id NOT IN ("+a.list(f.ExcludeActionIDs)+")")
	}
	return strings.Join(conds, " AND "), true
}

// InsertAction writes a new action record. A record without ID gets a UUID.
func (s *Store) InsertAction(ctx context.Context, rec configsync.ActionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	a := &args{dialect: s.dialect}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, action_id, target, logical_time)
		VALUES (%s, %s, %s, %s)
	`, s.tables.Actions, a.add(rec.ID), a.add(rec.ActionID), a.add(rec.Target), a.add(rec.LogicalTime))

	if _, err := s.db.ExecContext(ctx, query, a.values...); err != nil {
		return fmt.Errorf("failed to insert action: %w", classify(err))
	}

	return nil
}

// ClaimAction zeroes the oldest pending record matching the filter and returns
// it as it was before the claim. PostgreSQL claims with a single statement that
// skips rows locked by concurrent claimers; MySQL and SQLite use a
// compare-and-set on logical_time and retry when another process won.
func (s *Store) ClaimAction(ctx context.Context, filter store.ActionFilter) (configsync.ActionRecord, error) {
	if s.dialect == Postgres {
		return s.claimSkipLocked(ctx, filter)
	}

	for {
		rec, err := s.oldestAction(ctx, filter)
		if err != nil {
			return configsync.ActionRecord{}, err
		}

		a := &args{dialect: s.dialect}
		query := fmt.Sprintf(`
			UPDATE %s SET logical_time = 0
			WHERE id = %s AND logical_time = %s
		`, s.tables.Actions, a.add(rec.ID), a.add(rec.LogicalTime))

		result, err := s.db.ExecContext(ctx, query, a.values...)
		if err != nil {
			return configsync.ActionRecord{}, fmt.Errorf("failed to claim action: %w", classify(err))
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return configsync.ActionRecord{}, fmt.Errorf("failed to check rows affected: %w", err)
		}
		if rowsAffected == 1 {
			return rec, nil
		}

		if err := ctx.Err(); err != nil {
			return configsync.ActionRecord{}, err
		}
	}
}

func (s *Store) claimSkipLocked(ctx context.Context, filter store.ActionFilter) (configsync.ActionRecord, error) {
	a := &args{dialect: s.dialect}
	where, ok := actionWhere(filter, a)
	if !ok {
		return configsync.ActionRecord{}, configsync.ErrNotFound
	}

	query := fmt.Sprintf(`
		WITH candidate AS (
			SELECT id, logical_time
			FROM %s
			WHERE %s
			ORDER BY logical_time, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE %s AS a
		SET logical_time = 0
		FROM candidate
		WHERE a.id = candidate.id
		RETURNING a.id, a.action_id, a.target, candidate.logical_time
	`, s.tables.Actions, where, s.tables.Actions)

	var rec configsync.ActionRecord
	err := s.db.QueryRowContext(ctx, query, a.values...).Scan(&rec.ID, &rec.ActionID, &rec.Target, &rec.LogicalTime)
	if errors.Is(err, sql.ErrNoRows) {
		return configsync.ActionRecord{}, configsync.ErrNotFound
	}
	if err != nil {
		return configsync.ActionRecord{}, fmt.Errorf("failed to claim action: %w", classify(err))
	}

	return rec, nil
}

func (s *Store) oldestAction(ctx context.Context, filter store.ActionFilter) (configsync.ActionRecord, error) {
	a := &args{dialect: s.dialect}
	where, ok := actionWhere(filter, a)
	if !ok {
		return configsync.ActionRecord{}, configsync.ErrNotFound
	}

	query := fmt.Sprintf(`
		SELECT id, action_id, target, logical_time
		FROM %s
		WHERE %s
		ORDER BY logical_time, id
		LIMIT 1
	`, s.tables.Actions, where)

	var rec configsync.ActionRecord
	err := s.db.QueryRowContext(ctx, query, a.values...).Scan(&rec.ID, &rec.ActionID, &rec.Target, &rec.LogicalTime)
	if errors.Is(err, sql.ErrNoRows) {
		return configsync.ActionRecord{}, configsync.ErrNotFound
	}
	if err != nil {
		return configsync.ActionRecord{}, fmt.Errorf("failed to find action: %w", classify(err))
	}

	return rec, nil
}

// FindActions returns the records matching the filter ordered by logical time.
func (s *Store) FindActions(ctx context.Context, filter store.ActionFilter) (actions []configsync.ActionRecord, err error) {
	a := &args{dialect: s.dialect}
	where, ok := actionWhere(filter, a)
	if !ok {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT id, action_id, target, logical_time
		FROM %s
		WHERE %s
		ORDER BY logical_time, id
	`, s.tables.Actions, where)

	rows, err := s.db.QueryContext(ctx, query, a.values...)
	if err != nil {
		return nil, fmt.Errorf("failed to find actions: %w", classify(err))
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close rows: %w", closeErr)
		}
	}()

	for rows.Next() {
		var rec configsync.ActionRecord
		if err := rows.Scan(&rec.ID, &rec.ActionID, &rec.Target, &rec.LogicalTime); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		actions = append(actions, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actions: %w", classify(err))
	}

	return actions, nil
}

// LatestActionTime returns the greatest logical time of any pending record.
func (s *Store) LatestActionTime(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`SELECT COALESCE(MAX(logical_time), 0) FROM %s`, s.tables.Actions)

	var latest int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&latest); err != nil {
		return 0, fmt.Errorf("failed to get latest action time: %w", classify(err))
	}
	if latest == 0 {
		return 0, configsync.ErrNotFound
	}

	return latest, nil
}

// GetAlternative returns the override stored for an endpoint.
func (s *Store) GetAlternative(ctx context.Context, endpointID string) (configsync.AlternativeRecord, error) {
	a := &args{dialect: s.dialect}
	query := fmt.Sprintf(`
		SELECT endpoint_id, config, logical_time
		FROM %s
		WHERE endpoint_id = %s
	`, s.tables.Alternatives, a.add(endpointID))

	var (
		rec configsync.AlternativeRecord
		raw string
	)
	err := s.db.QueryRowContext(ctx, query, a.values...).Scan(&rec.EndpointID, &raw, &rec.LogicalTime)
	if errors.Is(err, sql.ErrNoRows) {
		return configsync.AlternativeRecord{}, configsync.ErrNotFound
	}
	if err != nil {
		return configsync.AlternativeRecord{}, fmt.Errorf("failed to get alternative: %w", classify(err))
	}
	rec.Config, _ = store.UnmarshalConfig([]byte(raw))

	return rec, nil
}

// SaveAlternative upserts the override of rec.EndpointID.
func (s *Store) SaveAlternative(ctx context.Context, rec configsync.AlternativeRecord) error {
	raw, err := store.MarshalConfig(rec.Config)
	if err != nil {
		return err
	}

	a := &args{dialect: s.dialect}
	values := fmt.Sprintf("%s, %s, %s", a.add(rec.EndpointID), a.add(string(raw)), a.add(rec.LogicalTime))

	var query string
	if s.dialect == MySQL {
		query = fmt.Sprintf(`
			INSERT INTO %s (endpoint_id, config, logical_time)
			VALUES (%s)
			ON DUPLICATE KEY UPDATE config = VALUES(config), logical_time = VALUES(logical_time)
		`, s.tables.Alternatives, values)
	} else {
		query = fmt.Sprintf(`
			INSERT INTO %s (endpoint_id, config, logical_time)
			VALUES (%s)
			ON CONFLICT (endpoint_id) DO UPDATE SET config = excluded.config, logical_time = excluded.logical_time
		`, s.tables.Alternatives, values)
	}

	if _, err := s.db.ExecContext(ctx, query, a.values...); err != nil {
		return fmt.Errorf("failed to save alternative: %w", classify(err))
	}

	return nil
}

// DeleteAlternative removes the override of an endpoint if present.
func (s *Store) DeleteAlternative(ctx context.Context, endpointID string) error {
	a := &args{dialect: s.dialect}
	query := fmt.Sprintf(`DELETE FROM %s WHERE endpoint_id = %s`, s.tables.Alternatives, a.add(endpointID))

	if _, err := s.db.ExecContext(ctx, query, a.values...); err != nil {
		return fmt.Errorf("failed to delete alternative: %w", classify(err))
	}

	return nil
}

// FindAlternatives returns the overrides matching the filter sorted by endpoint.
func (s *Store) FindAlternatives(ctx context.Context, filter store.AlternativeFilter) ([]configsync.AlternativeRecord, error) {
	if len(filter.EndpointIDs) == 0 {
		return nil, nil
	}

	a := &args{dialect: s.dialect}
	query := fmt.Sprintf(`
		SELECT endpoint_id, config, logical_time
		FROM %s
		WHERE logical_time > %s AND endpoint_id IN (%s)
		ORDER BY endpoint_id
	`, s.tables.Alternatives, a.add(filter.After), a.list(filter.EndpointIDs))

	return s.queryAlternatives(ctx, query, a.values...)
}

// ListAlternatives returns every override sorted by endpoint.
func (s *Store) ListAlternatives(ctx context.Context) ([]configsync.AlternativeRecord, error) {
	query := fmt.Sprintf(`
		SELECT endpoint_id, config, logical_time
		FROM %s
		ORDER BY endpoint_id
	`, s.tables.Alternatives)

	return s.queryAlternatives(ctx, query)
}

func (s *Store) queryAlternatives(ctx context.Context, query string, values ...any) (alternatives []configsync.AlternativeRecord, err error) {
	rows, err := s.db.QueryContext(ctx, query, values...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alternatives: %w", classify(err))
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close rows: %w", closeErr)
		}
	}()

	for rows.Next() {
		var (
			rec configsync.AlternativeRecord
			raw string
		)
		if err := rows.Scan(&rec.EndpointID, &raw, &rec.LogicalTime); err != nil {
			return nil, fmt.Errorf("failed to scan alternative: %w", err)
		}
		// An undecodable config comes back nil; callers report it as malformed.
		rec.Config, _ = store.UnmarshalConfig([]byte(raw))
		alternatives = append(alternatives, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alternatives: %w", classify(err))
	}

	return alternatives, nil
}

// CountAlternatives counts overrides of endpoints not listed in exclude.
func (s *Store) CountAlternatives(ctx context.Context, exclude []string) (int, error) {
	a := &args{dialect: s.dialect}
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.tables.Alternatives)
	if len(exclude) > 0 {
		query += fmt.Sprintf(` WHERE endpoint_id NOT IN (%s)`, a.list(exclude))
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, a.values...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count alternatives: %w", classify(err))
	}

	return n, nil
}

// SaveProfile upserts the profile of rec.ProcessID. Heartbeats are stored as
// Unix nanoseconds.
func (s *Store) SaveProfile(ctx context.Context, rec configsync.ProfileRecord) error {
	a := &args{dialect: s.dialect}
	values := fmt.Sprintf("%s, %s", a.add(rec.ProcessID), a.add(rec.LastHeartbeat.UnixNano()))

	var query string
	if s.dialect == MySQL {
		query = fmt.Sprintf(`
			INSERT INTO %s (process_id, last_heartbeat)
			VALUES (%s)
			ON DUPLICATE KEY UPDATE last_heartbeat = VALUES(last_heartbeat)
		`, s.tables.Profiles, values)
	} else {
		query = fmt.Sprintf(`
			INSERT INTO %s (process_id, last_heartbeat)
			VALUES (%s)
			ON CONFLICT (process_id) DO UPDATE SET last_heartbeat = excluded.last_heartbeat
		`, s.tables.Profiles, values)
	}

	if _, err := s.db.ExecContext(ctx, query, a.values...); err != nil {
		return fmt.Errorf("failed to save profile: %w", classify(err))
	}

	return nil
}

// ListProfiles returns every profile sorted by process ID.
func (s *Store) ListProfiles(ctx context.Context) (profiles []configsync.ProfileRecord, err error) {
	query := fmt.Sprintf(`
		SELECT process_id, last_heartbeat
		FROM %s
		ORDER BY process_id
	`, s.tables.Profiles)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", classify(err))
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close rows: %w", closeErr)
		}
	}()

	for rows.Next() {
		var (
			rec       configsync.ProfileRecord
			heartbeat int64
		)
		if err := rows.Scan(&rec.ProcessID, &heartbeat); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		rec.LastHeartbeat = time.Unix(0, heartbeat)
		profiles = append(profiles, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", classify(err))
	}

	return profiles, nil
}

// DeleteProfilesBefore removes profiles whose last heartbeat precedes cutoff.
func (s *Store) DeleteProfilesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	a := &args{dialect: s.dialect}
	query := fmt.Sprintf(`DELETE FROM %s WHERE last_heartbeat < %s`, s.tables.Profiles, a.add(cutoff.UnixNano()))

	result, err := s.db.ExecContext(ctx, query, a.values...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete profiles: %w", classify(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

// IncrementCounter adds amount to the counter and returns the new value.
func (s *Store) IncrementCounter(ctx context.Context, counterID string, amount int64) (int64, error) {
	if s.dialect == MySQL {
		return s.incrementInTx(ctx, counterID, amount)
	}

	a := &args{dialect: s.dialect}
	query := fmt.Sprintf(`
		INSERT INTO %s (counter_id, counter_value)
		VALUES (%s, %s)
		ON CONFLICT (counter_id) DO UPDATE SET counter_value = %s.counter_value + excluded.counter_value
		RETURNING counter_value
	`, s.tables.Counters, a.add(counterID), a.add(amount), s.tables.Counters)

	var value int64
	if err := s.db.QueryRowContext(ctx, query, a.values...).Scan(&value); err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", classify(err))
	}

	return value, nil
}

// incrementInTx reads the counter back inside the transaction holding the row
// lock taken by the upsert.
func (s *Store) incrementInTx(ctx context.Context, counterID string, amount int64) (value int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	upsert := fmt.Sprintf(`
		INSERT INTO %s (counter_id, counter_value)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE counter_value = counter_value + VALUES(counter_value)
	`, s.tables.Counters)
	if _, err = tx.ExecContext(ctx, upsert, counterID, amount); err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", classify(err))
	}

	read := fmt.Sprintf(`SELECT counter_value FROM %s WHERE counter_id = ?`, s.tables.Counters)
	if err = tx.QueryRowContext(ctx, read, counterID).Scan(&value); err != nil {
		return 0, fmt.Errorf("failed to read counter: %w", classify(err))
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit counter: %w", classify(err))
	}

	return value, nil
}

var _ store.Store = (*Store)(nil)
