// Package driver maps connection strings to database engines and provides
// the dialect-specific SQL the ledger and lock need.
package driver

import (
	"fmt"
	"strings"
)

// Dialect generates engine-specific SQL for the bookkeeping tables.
type Dialect interface {
	// Name returns the dialect name ("postgres" or "sqlite").
	Name() string

	// Placeholder returns the parameter placeholder for a 1-based position.
	// PostgreSQL: $1, $2, ... SQLite: ?.
	Placeholder(position int) string

	// CreateLedgerTableSQL returns DDL for the execution history table.
	CreateLedgerTableSQL(table string) string

	// CreateLockTableSQL returns DDL for the run-lock table, or "" when the
	// engine locks through advisory functions instead.
	CreateLockTableSQL(table string) string

	// SupportsAdvisoryLock reports whether the engine has native advisory
	// locking (PostgreSQL). Engines without it fall back to a lock row.
	SupportsAdvisoryLock() bool
}

// Detect determines the database engine from a connection string.
func Detect(connString string) string {
	lower := strings.ToLower(connString)

	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(lower, "libsql://"), strings.HasPrefix(lower, "wss://"), strings.HasPrefix(lower, "ws://"):
		return "libsql"
	case strings.HasPrefix(lower, "sqlite://"), strings.HasPrefix(lower, "file:"),
		strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"),
		strings.HasSuffix(lower, ".sqlite3"), lower == ":memory:":
		return "sqlite"
	default:
		// Keyword-style postgres connection strings (host=... dbname=...)
		if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
			return "postgres"
		}
		return "sqlite"
	}
}

// SQLDriverName maps a detected engine to the registered database/sql driver.
func SQLDriverName(driverType string) string {
	switch driverType {
	case "postgres", "postgresql":
		return "postgres"
	case "libsql":
		return "libsql"
	default:
		return "sqlite"
	}
}

// New returns the dialect for a detected engine. libSQL speaks the SQLite
// dialect.
func New(driverType string) (Dialect, error) {
	switch driverType {
	case "postgres", "postgresql":
		return &postgresDialect{}, nil
	case "sqlite", "sqlite3", "libsql":
		return &sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driverType)
	}
}

// NormalizeDSN rewrites scheme-only prefixes the underlying drivers do not
// accept (sqlite://path becomes a bare path).
func NormalizeDSN(connString string) string {
	if rest, ok := strings.CutPrefix(connString, "sqlite://"); ok {
		return rest
	}
	return connString
}
