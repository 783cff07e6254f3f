// Package migrations provides SQL schema generation for the configsync tables.
// It generates the actions, alternatives, profiles and counters tables for
// PostgreSQL, MySQL/MariaDB, and SQLite databases, either as migration files or
// as statements applied directly by the SQL store.
package migrations
