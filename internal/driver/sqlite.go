package driver

import "fmt"

type sqliteDialect struct{}

func (d *sqliteDialect) Name() string { return "sqlite" }

func (d *sqliteDialect) Placeholder(position int) string { return "?" }

func (d *sqliteDialect) CreateLedgerTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id TEXT NOT NULL,
    author TEXT NOT NULL,
    filename TEXT NOT NULL,
    checksum TEXT NOT NULL,
    executed_at TEXT NOT NULL,
    order_executed INTEGER NOT NULL,
    outcome TEXT NOT NULL,
    tag TEXT,
    PRIMARY KEY (id, author, filename)
)`, table)
}

// SQLite has no advisory locks, so runs serialize through a single lock row.
func (d *sqliteDialect) CreateLockTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    locked_by TEXT NOT NULL,
    locked_at TEXT NOT NULL
)`, table)
}

func (d *sqliteDialect) SupportsAdvisoryLock() bool { return false }
