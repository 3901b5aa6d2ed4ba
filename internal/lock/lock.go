// Package lock serializes migration runs against a target. At most one
// runner may hold the apply lock for a target at a time; without it two
// concurrent runs could both observe a changeset as pending and double-apply
// it.
package lock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"time"

	"github.com/railbed/railbed/internal/driver"
)

// DefaultTable is the lock table name for engines without advisory locks.
const DefaultTable = "railbed_lock"

// HeldError reports that another run holds the target's apply lock.
type HeldError struct {
	Target string
	Holder string
}

func (e *HeldError) Error() string {
	if e.Holder != "" {
		return fmt.Sprintf("another run is in progress against %s (held by %s)", e.Target, e.Holder)
	}
	return fmt.Sprintf("another run is in progress against %s", e.Target)
}

// Lock is a per-target advisory run lock. PostgreSQL targets use a session
// advisory lock keyed off the ledger table name; SQLite and libSQL targets
// use a single-row lock table.
type Lock struct {
	db         *sql.DB
	dialect    driver.Dialect
	target     string
	table      string
	key        int64
	holder     string
	staleAfter time.Duration
	acquired   bool

	// conn pins the session holding the advisory lock. pg_try_advisory_lock
	// and pg_advisory_unlock are session-scoped, so both must run on the same
	// connection; going through the pool would unlock a different session.
	conn *sql.Conn
}

// New creates a lock for one target. staleAfter > 0 allows force-releasing a
// lock row older than the given age (crash recovery); zero never steals.
func New(db *sql.DB, dialect driver.Dialect, target, ledgerTable string, staleAfter time.Duration) *Lock {
	if ledgerTable == "" {
		ledgerTable = "railbed_changelog"
	}
	host, _ := os.Hostname()
	return &Lock{
		db:         db,
		dialect:    dialect,
		target:     target,
		table:      DefaultTable,
		key:        advisoryKey(ledgerTable),
		holder:     fmt.Sprintf("%s/%d", host, os.Getpid()),
		staleAfter: staleAfter,
	}
}

// Acquire takes the apply lock, returning HeldError when another run holds
// it. It must be called before the first ledger read of a run.
func (l *Lock) Acquire(ctx context.Context) error {
	if l.dialect.SupportsAdvisoryLock() {
		return l.acquireAdvisory(ctx)
	}
	return l.acquireRow(ctx)
}

// Release drops the apply lock. Safe to call when the lock was never
// acquired, so callers can defer it on every exit path.
func (l *Lock) Release(ctx context.Context) error {
	if !l.acquired {
		return nil
	}
	l.acquired = false

	if l.dialect.SupportsAdvisoryLock() {
		conn := l.conn
		l.conn = nil
		var ok bool
		err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", l.key).Scan(&ok)
		_ = conn.Close()
		if err != nil {
			return fmt.Errorf("failed to release advisory lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("advisory lock for %s was not held by this session", l.target)
		}
		return nil
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE id = 1 AND locked_by = %s", l.table, l.dialect.Placeholder(1))
	if _, err := l.db.ExecContext(ctx, query, l.holder); err != nil {
		return fmt.Errorf("failed to release lock row: %w", err)
	}
	return nil
}

func (l *Lock) acquireAdvisory(ctx context.Context) error {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to reserve lock connection: %w", err)
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&ok); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	if !ok {
		_ = conn.Close()
		return &HeldError{Target: l.target}
	}
	l.conn = conn
	l.acquired = true
	return nil
}

func (l *Lock) acquireRow(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, l.dialect.CreateLockTableSQL(l.table)); err != nil {
		return fmt.Errorf("failed to create lock table %s: %w", l.table, err)
	}

	if err := l.tryInsert(ctx); err == nil {
		l.acquired = true
		return nil
	}

	holder, lockedAt, err := l.currentHolder(ctx)
	if err != nil {
		return err
	}

	if l.staleAfter > 0 && !lockedAt.IsZero() && time.Since(lockedAt) > l.staleAfter {
		log.Printf("Warning: force-releasing stale lock on %s held by %s since %s",
			l.target, holder, lockedAt.Format(time.RFC3339))
		del := fmt.Sprintf("DELETE FROM %s WHERE id = 1 AND locked_by = %s", l.table, l.dialect.Placeholder(1))
		if _, err := l.db.ExecContext(ctx, del, holder); err != nil {
			return fmt.Errorf("failed to force-release stale lock: %w", err)
		}
		if err := l.tryInsert(ctx); err == nil {
			l.acquired = true
			return nil
		}
	}

	return &HeldError{Target: l.target, Holder: holder}
}

func (l *Lock) tryInsert(ctx context.Context) error {
	p := l.dialect.Placeholder
	query := fmt.Sprintf("INSERT INTO %s (id, locked_by, locked_at) VALUES (1, %s, %s)", l.table, p(1), p(2))
	_, err := l.db.ExecContext(ctx, query, l.holder, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (l *Lock) currentHolder(ctx context.Context) (string, time.Time, error) {
	query := fmt.Sprintf("SELECT locked_by, locked_at FROM %s WHERE id = 1", l.table)
	var holder, lockedAt string
	err := l.db.QueryRowContext(ctx, query).Scan(&holder, &lockedAt)
	if err == sql.ErrNoRows {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to read lock row: %w", err)
	}
	parsed, _ := time.Parse(time.RFC3339Nano, lockedAt)
	return holder, parsed, nil
}

// advisoryKey derives a stable 64-bit advisory lock key from the ledger
// table name so different history tables in one database lock independently.
func advisoryKey(ledgerTable string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("railbed:" + ledgerTable))
	return int64(h.Sum64())
}
