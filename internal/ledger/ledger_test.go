package ledger

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/railbed/railbed/internal/changelog"
	"github.com/railbed/railbed/internal/driver"
)

func setupLedger(t *testing.T) (*Ledger, *sql.DB) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory sqlite: %v", err)
	}
	// A second pool connection would see a different in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	dialect, err := driver.New("sqlite")
	if err != nil {
		t.Fatalf("Failed to create dialect: %v", err)
	}

	l := New(db, dialect, "")
	if err := l.Ensure(context.Background()); err != nil {
		t.Fatalf("Failed to ensure ledger table: %v", err)
	}
	return l, db
}

func testChangeSet(id string) *changelog.ChangeSet {
	cs := &changelog.ChangeSet{
		ID:         id,
		Author:     "alice",
		SourcePath: "changelog.sql",
		Statements: []string{"CREATE TABLE t_" + id + " (id INT)"},
	}
	cs.Checksum = changelog.ComputeChecksum(cs.Statements)
	return cs
}

func TestLedger_PendingNewChangesets(t *testing.T) {
	l, _ := setupLedger(t)
	ctx := context.Background()

	a, b := testChangeSet("001"), testChangeSet("002")
	pending, err := l.Pending(ctx, []*changelog.ChangeSet{a, b})
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("Expected 2 pending changesets, got %d", len(pending))
	}
}

func TestLedger_RecordThenPendingIsIdempotent(t *testing.T) {
	l, db := setupLedger(t)
	ctx := context.Background()

	a := testChangeSet("001")
	if err := l.Record(ctx, db, a, 1, OutcomeExecuted); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	pending, err := l.Pending(ctx, []*changelog.ChangeSet{a})
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected 0 pending after execution, got %d", len(pending))
	}
}

func TestLedger_ChecksumMismatch(t *testing.T) {
	l, db := setupLedger(t)
	ctx := context.Background()

	a := testChangeSet("001")
	if err := l.Record(ctx, db, a, 1, OutcomeExecuted); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	// Retroactive edit to an already-deployed changeset.
	edited := testChangeSet("001")
	edited.Statements = []string{"CREATE TABLE t_001 (id BIGINT)"}
	edited.Checksum = changelog.ComputeChecksum(edited.Statements)

	_, err := l.Pending(ctx, []*changelog.ChangeSet{edited})
	if err == nil {
		t.Fatal("Expected ChecksumMismatchError, got nil")
	}
	var mismatch *ChecksumMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Expected ChecksumMismatchError, got %T: %v", err, err)
	}
	if mismatch.Key != edited.Key() {
		t.Errorf("Mismatch reported wrong key: %v", mismatch.Key)
	}
}

func TestLedger_RunOnChangeBecomesPendingInsteadOfError(t *testing.T) {
	l, db := setupLedger(t)
	ctx := context.Background()

	a := testChangeSet("001")
	a.RunOnChange = true
	if err := l.Record(ctx, db, a, 1, OutcomeExecuted); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	edited := testChangeSet("001")
	edited.RunOnChange = true
	edited.Statements = []string{"CREATE TABLE t_001 (id BIGINT)"}
	edited.Checksum = changelog.ComputeChecksum(edited.Statements)

	pending, err := l.Pending(ctx, []*changelog.ChangeSet{edited})
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("runOnChange changeset with drifted checksum must be pending again")
	}
}

func TestLedger_RunAlwaysIsAlwaysPending(t *testing.T) {
	l, db := setupLedger(t)
	ctx := context.Background()

	a := testChangeSet("001")
	a.RunAlways = true
	if err := l.Record(ctx, db, a, 1, OutcomeExecuted); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	pending, err := l.Pending(ctx, []*changelog.ChangeSet{a})
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Error("runAlways changeset must stay pending")
	}
}

func TestLedger_FailedChangesetIsPendingAgain(t *testing.T) {
	l, db := setupLedger(t)
	ctx := context.Background()

	a := testChangeSet("001")
	if err := l.Record(ctx, db, a, 1, OutcomeFailed); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	pending, err := l.Pending(ctx, []*changelog.ChangeSet{a})
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Error("Failed changeset must be eligible for re-execution")
	}
}

func TestLedger_HistoryOrderAndNextOrder(t *testing.T) {
	l, db := setupLedger(t)
	ctx := context.Background()

	for i, id := range []string{"001", "002", "003"} {
		if err := l.Record(ctx, db, testChangeSet(id), int64(i+1), OutcomeExecuted); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	history, err := l.History(ctx)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(history))
	}
	for i, rec := range history {
		if rec.OrderExecuted != int64(i+1) {
			t.Errorf("Record %d out of order: order_executed=%d", i, rec.OrderExecuted)
		}
		if rec.ExecutedAt.IsZero() {
			t.Errorf("Record %d has zero timestamp", i)
		}
	}

	next, err := l.NextOrder(ctx)
	if err != nil {
		t.Fatalf("NextOrder failed: %v", err)
	}
	if next != 4 {
		t.Errorf("Expected next order 4, got %d", next)
	}
}

func TestLedger_MarkRolledBack(t *testing.T) {
	l, db := setupLedger(t)
	ctx := context.Background()

	a := testChangeSet("001")
	if err := l.Record(ctx, db, a, 1, OutcomeExecuted); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := l.MarkRolledBack(ctx, db, a.Key()); err != nil {
		t.Fatalf("MarkRolledBack failed: %v", err)
	}

	history, err := l.History(ctx)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if history[0].Outcome != OutcomeRolledBack {
		t.Errorf("Expected ROLLED_BACK, got %s", history[0].Outcome)
	}

	if err := l.MarkRolledBack(ctx, db, changelog.Key{ID: "missing", Author: "x", Filename: "y"}); err == nil {
		t.Error("Expected error for unknown ledger entry")
	}
}

func TestLedger_RecordPreservesTagOnReplacement(t *testing.T) {
	l, db := setupLedger(t)
	ctx := context.Background()

	a := testChangeSet("001")
	a.RunAlways = true
	if err := l.Record(ctx, db, a, 1, OutcomeExecuted); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := l.TagLatest(ctx, "v1"); err != nil {
		t.Fatalf("TagLatest failed: %v", err)
	}

	// A runAlways re-execution replaces the row.
	if err := l.Record(ctx, db, a, 2, OutcomeExecuted); err != nil {
		t.Fatalf("Second record failed: %v", err)
	}

	history, err := l.History(ctx)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(history))
	}
	if history[0].Tag != "v1" {
		t.Errorf("Re-execution must keep the tag, got %q", history[0].Tag)
	}
	if history[0].OrderExecuted != 2 {
		t.Errorf("Expected replaced order 2, got %d", history[0].OrderExecuted)
	}
}

func TestLedger_TagLatest(t *testing.T) {
	l, db := setupLedger(t)
	ctx := context.Background()

	if err := l.TagLatest(ctx, "v1"); err == nil {
		t.Error("Expected error tagging an empty ledger")
	}

	for i, id := range []string{"001", "002"} {
		if err := l.Record(ctx, db, testChangeSet(id), int64(i+1), OutcomeExecuted); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	if err := l.TagLatest(ctx, "v1"); err != nil {
		t.Fatalf("TagLatest failed: %v", err)
	}

	history, err := l.History(ctx)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if history[0].Tag != "" {
		t.Errorf("First record must not be tagged, got %q", history[0].Tag)
	}
	if history[1].Tag != "v1" {
		t.Errorf("Expected tag v1 on latest record, got %q", history[1].Tag)
	}
}
