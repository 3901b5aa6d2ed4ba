// Package ledger models the per-target execution history table. Each target
// database owns exactly one ledger; no two targets share ledger state.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/railbed/railbed/internal/changelog"
	"github.com/railbed/railbed/internal/driver"
)

// DefaultTable is the history table name unless configured otherwise.
const DefaultTable = "railbed_changelog"

// Outcome is the terminal state of one applied changeset.
type Outcome string

const (
	OutcomeExecuted   Outcome = "EXECUTED"
	OutcomeFailed     Outcome = "FAILED"
	OutcomeRolledBack Outcome = "ROLLED_BACK"
)

// Record is one row of applied-changeset history.
type Record struct {
	Key           changelog.Key
	Checksum      string
	ExecutedAt    time.Time
	OrderExecuted int64
	Outcome       Outcome
	Tag           string
}

// ChecksumMismatchError reports that an already-executed changeset's source
// was edited after the fact. It is fatal to the run: silently skipping or
// re-running would corrupt deployed history.
type ChecksumMismatchError struct {
	Key     changelog.Key
	Stored  string
	Current string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf(
		"checksum mismatch for executed changeset %s: ledger has %s, changelog now has %s",
		e.Key, shortHash(e.Stored), shortHash(e.Current),
	)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// Executor is the subset of *sql.DB and *sql.Tx the ledger writes through,
// so a record insert can share the transaction of the statements it follows.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Ledger reads and writes the history table of one target.
type Ledger struct {
	db      *sql.DB
	dialect driver.Dialect
	table   string
}

// New creates a ledger over an open target connection. An empty table name
// falls back to DefaultTable.
func New(db *sql.DB, dialect driver.Dialect, table string) *Ledger {
	if table == "" {
		table = DefaultTable
	}
	return &Ledger{db: db, dialect: dialect, table: table}
}

// Table returns the history table name.
func (l *Ledger) Table() string { return l.table }

// Ensure creates the history table if it does not exist yet.
func (l *Ledger) Ensure(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, l.dialect.CreateLedgerTableSQL(l.table)); err != nil {
		return fmt.Errorf("failed to create ledger table %s: %w", l.table, err)
	}
	return nil
}

// History returns all records ordered by order_executed.
func (l *Ledger) History(ctx context.Context) ([]Record, error) {
	query := fmt.Sprintf(
		"SELECT id, author, filename, checksum, executed_at, order_executed, outcome, tag FROM %s ORDER BY order_executed",
		l.table,
	)
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		var (
			rec        Record
			executedAt any
			tag        sql.NullString
		)
		if err := rows.Scan(
			&rec.Key.ID, &rec.Key.Author, &rec.Key.Filename,
			&rec.Checksum, &executedAt, &rec.OrderExecuted, &rec.Outcome, &tag,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		rec.ExecutedAt = parseTimestamp(executedAt)
		rec.Tag = tag.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Pending reports which of the given changesets have not been executed
// against this target, preserving declared order. An executed changeset whose
// checksum no longer matches raises ChecksumMismatchError unless the
// changeset opted into re-execution via runOnChange.
func (l *Ledger) Pending(ctx context.Context, all []*changelog.ChangeSet) ([]*changelog.ChangeSet, error) {
	history, err := l.History(ctx)
	if err != nil {
		return nil, err
	}
	byKey := make(map[changelog.Key]Record, len(history))
	for _, rec := range history {
		byKey[rec.Key] = rec
	}

	var pending []*changelog.ChangeSet
	for _, cs := range all {
		rec, executed := byKey[cs.Key()]
		switch {
		case !executed:
			pending = append(pending, cs)
		case cs.RunAlways:
			pending = append(pending, cs)
		case rec.Outcome != OutcomeExecuted:
			// FAILED and ROLLED_BACK changesets are eligible again.
			pending = append(pending, cs)
		case rec.Checksum != cs.Checksum:
			if cs.RunOnChange {
				pending = append(pending, cs)
				continue
			}
			return nil, &ChecksumMismatchError{Key: cs.Key(), Stored: rec.Checksum, Current: cs.Checksum}
		}
	}
	return pending, nil
}

// NextOrder returns the next order_executed value for this target.
func (l *Ledger) NextOrder(ctx context.Context) (int64, error) {
	query := fmt.Sprintf("SELECT COALESCE(MAX(order_executed), 0) FROM %s", l.table)
	var max int64
	if err := l.db.QueryRowContext(ctx, query).Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to read ledger order: %w", err)
	}
	return max + 1, nil
}

// Record writes the outcome of one changeset execution. It must run on the
// same transaction as the changeset body so the two succeed or fail together.
// An existing row for the key (failed attempt, rollback, runAlways re-run) is
// replaced.
func (l *Ledger) Record(ctx context.Context, exec Executor, cs *changelog.ChangeSet, order int64, outcome Outcome) error {
	p := l.dialect.Placeholder

	// A runAlways/runOnChange re-execution must not erase a tag that a
	// later rollback --to-tag depends on.
	var tag sql.NullString
	sel := fmt.Sprintf("SELECT tag FROM %s WHERE id = %s AND author = %s AND filename = %s",
		l.table, p(1), p(2), p(3))
	err := exec.QueryRowContext(ctx, sel, cs.ID, cs.Author, cs.SourcePath).Scan(&tag)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read previous ledger entry for %s: %w", cs.Key(), err)
	}

	del := fmt.Sprintf("DELETE FROM %s WHERE id = %s AND author = %s AND filename = %s",
		l.table, p(1), p(2), p(3))
	if _, err := exec.ExecContext(ctx, del, cs.ID, cs.Author, cs.SourcePath); err != nil {
		return fmt.Errorf("failed to clear previous ledger entry for %s: %w", cs.Key(), err)
	}

	ins := fmt.Sprintf(
		"INSERT INTO %s (id, author, filename, checksum, executed_at, order_executed, outcome, tag) VALUES (%s, %s, %s, %s, %s, %s, %s, %s)",
		l.table, p(1), p(2), p(3), p(4), p(5), p(6), p(7), p(8),
	)
	executedAt := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := exec.ExecContext(ctx, ins,
		cs.ID, cs.Author, cs.SourcePath, cs.Checksum, executedAt, order, string(outcome), tag,
	); err != nil {
		return fmt.Errorf("failed to record changeset %s: %w", cs.Key(), err)
	}
	return nil
}

// MarkRolledBack flips an executed record's outcome after its rollback
// statements ran. It must share the rollback transaction.
func (l *Ledger) MarkRolledBack(ctx context.Context, exec Executor, key changelog.Key) error {
	p := l.dialect.Placeholder
	query := fmt.Sprintf(
		"UPDATE %s SET outcome = %s WHERE id = %s AND author = %s AND filename = %s",
		l.table, p(1), p(2), p(3), p(4),
	)
	res, err := exec.ExecContext(ctx, query, string(OutcomeRolledBack), key.ID, key.Author, key.Filename)
	if err != nil {
		return fmt.Errorf("failed to mark %s rolled back: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no ledger entry found for %s", key)
	}
	return nil
}

// TagLatest stamps the most recently executed record with a tag, for
// tag-based rollback.
func (l *Ledger) TagLatest(ctx context.Context, tag string) error {
	p := l.dialect.Placeholder
	query := fmt.Sprintf(
		`UPDATE %s SET tag = %s WHERE order_executed = (SELECT MAX(order_executed) FROM %s WHERE outcome = %s)`,
		l.table, p(1), l.table, p(2),
	)
	res, err := l.db.ExecContext(ctx, query, tag, string(OutcomeExecuted))
	if err != nil {
		return fmt.Errorf("failed to tag ledger: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no executed changesets to tag")
	}
	return nil
}

// parseTimestamp tolerates both engines' scan types: lib/pq hands back
// time.Time for TIMESTAMPTZ, sqlite hands back the stored RFC 3339 text.
func parseTimestamp(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed
		}
	case []byte:
		if parsed, err := time.Parse(time.RFC3339Nano, string(t)); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
