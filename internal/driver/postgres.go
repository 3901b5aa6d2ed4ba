package driver

import "fmt"

type postgresDialect struct{}

func (d *postgresDialect) Name() string { return "postgres" }

func (d *postgresDialect) Placeholder(position int) string {
	return fmt.Sprintf("$%d", position)
}

func (d *postgresDialect) CreateLedgerTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id TEXT NOT NULL,
    author TEXT NOT NULL,
    filename TEXT NOT NULL,
    checksum TEXT NOT NULL,
    executed_at TIMESTAMPTZ NOT NULL,
    order_executed BIGINT NOT NULL,
    outcome TEXT NOT NULL,
    tag TEXT,
    PRIMARY KEY (id, author, filename)
)`, table)
}

// CreateLockTableSQL returns "" because PostgreSQL runs use advisory locks.
func (d *postgresDialect) CreateLockTableSQL(table string) string { return "" }

func (d *postgresDialect) SupportsAdvisoryLock() bool { return true }
