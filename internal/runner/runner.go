// Package runner orchestrates a migration run: parse results go through the
// filter, the ledger reports what is pending, and each pending changeset
// executes in its own transaction in declared order. Declared order is never
// reshuffled; later changesets may depend on earlier schema changes.
package runner

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/railbed/railbed/internal/changelog"
	"github.com/railbed/railbed/internal/driver"
	"github.com/railbed/railbed/internal/filter"
	"github.com/railbed/railbed/internal/ledger"
	"github.com/railbed/railbed/internal/lock"
	"github.com/railbed/railbed/internal/report"
)

// DbError wraps a database failure with the changeset it occurred in.
type DbError struct {
	Key changelog.Key
	Err error
}

func (e *DbError) Error() string {
	return fmt.Sprintf("changeset %s failed: %v", e.Key, e.Err)
}

func (e *DbError) Unwrap() error { return e.Err }

// RollbackUnsupportedError reports a rollback request that includes a
// changeset without rollback statements. Skipping it instead would
// desynchronize ledger order, so the request fails up front.
type RollbackUnsupportedError struct {
	Key changelog.Key
}

func (e *RollbackUnsupportedError) Error() string {
	return fmt.Sprintf("changeset %s declares no rollback statements", e.Key)
}

// Options control one run.
type Options struct {
	// Contexts and Labels are the run's filter expressions.
	Contexts string
	Labels   string

	// ContinueOnError disables the default fail-fast halt.
	ContinueOnError bool

	// ChangeSetTimeout bounds each changeset's execution; zero means no
	// timeout. A timeout counts as a FAILED transition.
	ChangeSetTimeout time.Duration

	// LockTimeout enables stale-lock takeover when positive.
	LockTimeout time.Duration

	// Table overrides the ledger table name.
	Table string

	// Verbose logs each statement before execution.
	Verbose bool
}

// Result summarizes a run, including the partial-run picture on failure.
type Result struct {
	Applied     []changelog.Key
	RolledBack  []changelog.Key
	Failed      *changelog.Key
	FilteredOut int
}

// Runner applies a changelog to one target database.
type Runner struct {
	db      *sql.DB
	dialect driver.Dialect
	target  string
}

// New creates a runner over an open target connection. target is the
// display name used in errors and reports.
func New(db *sql.DB, dialect driver.Dialect, target string) *Runner {
	return &Runner{db: db, dialect: dialect, target: target}
}

// Update applies every selected, pending changeset in declared order. The
// apply lock is held from before the first ledger read until the run ends.
func (r *Runner) Update(ctx context.Context, changeSets []*changelog.ChangeSet, opts Options) (*Result, error) {
	led := ledger.New(r.db, r.dialect, opts.Table)
	runLock := lock.New(r.db, r.dialect, r.target, led.Table(), opts.LockTimeout)

	if err := runLock.Acquire(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err := runLock.Release(context.WithoutCancel(ctx)); err != nil {
			log.Printf("Warning: failed to release run lock: %v", err)
		}
	}()

	if err := led.Ensure(ctx); err != nil {
		return nil, err
	}

	selected, filteredOut := r.selectChangeSets(changeSets, opts)
	pending, err := led.Pending(ctx, selected)
	if err != nil {
		return nil, err
	}

	order, err := led.NextOrder(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{FilteredOut: filteredOut}
	for _, cs := range pending {
		if err := r.applyOne(ctx, led, cs, order, opts); err != nil {
			key := cs.Key()
			result.Failed = &key
			if !opts.ContinueOnError {
				return result, err
			}
			log.Printf("Continuing past failed changeset %s: %v", key, err)
			order++
			continue
		}
		result.Applied = append(result.Applied, cs.Key())
		order++
	}
	return result, nil
}

// applyOne executes a changeset's statements and its ledger insert in one
// transaction. The transactional boundary is the changeset, not the run.
func (r *Runner) applyOne(ctx context.Context, led *ledger.Ledger, cs *changelog.ChangeSet, order int64, opts Options) error {
	execCtx := ctx
	if opts.ChangeSetTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, opts.ChangeSetTimeout)
		defer cancel()
	}

	tx, err := r.db.BeginTx(execCtx, nil)
	if err != nil {
		return &DbError{Key: cs.Key(), Err: err}
	}

	for _, stmt := range cs.Statements {
		if opts.Verbose {
			log.Printf("Executing %s: %s", cs.Key(), stmt)
		}
		if _, err := tx.ExecContext(execCtx, stmt); err != nil {
			_ = tx.Rollback()
			r.recordFailure(ctx, led, cs, order)
			return &DbError{Key: cs.Key(), Err: err}
		}
	}

	if err := led.Record(execCtx, tx, cs, order, ledger.OutcomeExecuted); err != nil {
		_ = tx.Rollback()
		return &DbError{Key: cs.Key(), Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &DbError{Key: cs.Key(), Err: err}
	}
	return nil
}

// recordFailure writes a FAILED ledger entry outside the rolled-back
// transaction. Best effort: the failure itself is what gets reported.
func (r *Runner) recordFailure(ctx context.Context, led *ledger.Ledger, cs *changelog.ChangeSet, order int64) {
	if err := led.Record(context.WithoutCancel(ctx), r.db, cs, order, ledger.OutcomeFailed); err != nil {
		log.Printf("Warning: failed to record FAILED outcome for %s: %v", cs.Key(), err)
	}
}

// Rollback undoes applied changesets in reverse execution order. count > 0
// limits the number of units; toTag rolls back everything executed after the
// tagged record. The whole request is validated before anything executes.
func (r *Runner) Rollback(ctx context.Context, changeSets []*changelog.ChangeSet, count int, toTag string, opts Options) (*Result, error) {
	led := ledger.New(r.db, r.dialect, opts.Table)
	runLock := lock.New(r.db, r.dialect, r.target, led.Table(), opts.LockTimeout)

	if err := runLock.Acquire(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err := runLock.Release(context.WithoutCancel(ctx)); err != nil {
			log.Printf("Warning: failed to release run lock: %v", err)
		}
	}()

	if err := led.Ensure(ctx); err != nil {
		return nil, err
	}

	targets, err := rollbackTargets(ctx, led, count, toTag)
	if err != nil {
		return nil, err
	}

	byKey := make(map[changelog.Key]*changelog.ChangeSet, len(changeSets))
	for _, cs := range changeSets {
		byKey[cs.Key()] = cs
	}

	// Validate the full request before touching the database.
	units := make([]*changelog.ChangeSet, 0, len(targets))
	for _, rec := range targets {
		cs, ok := byKey[rec.Key]
		if !ok {
			return nil, fmt.Errorf("executed changeset %s is no longer in the changelog", rec.Key)
		}
		if !cs.HasRollback() {
			return nil, &RollbackUnsupportedError{Key: rec.Key}
		}
		units = append(units, cs)
	}

	result := &Result{}
	for _, cs := range units {
		if err := r.rollbackOne(ctx, led, cs, opts); err != nil {
			key := cs.Key()
			result.Failed = &key
			return result, err
		}
		result.RolledBack = append(result.RolledBack, cs.Key())
	}
	return result, nil
}

func (r *Runner) rollbackOne(ctx context.Context, led *ledger.Ledger, cs *changelog.ChangeSet, opts Options) error {
	execCtx := ctx
	if opts.ChangeSetTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, opts.ChangeSetTimeout)
		defer cancel()
	}

	tx, err := r.db.BeginTx(execCtx, nil)
	if err != nil {
		return &DbError{Key: cs.Key(), Err: err}
	}

	for _, stmt := range cs.RollbackStatements {
		if opts.Verbose {
			log.Printf("Rolling back %s: %s", cs.Key(), stmt)
		}
		if _, err := tx.ExecContext(execCtx, stmt); err != nil {
			_ = tx.Rollback()
			return &DbError{Key: cs.Key(), Err: err}
		}
	}

	if err := led.MarkRolledBack(execCtx, tx, cs.Key()); err != nil {
		_ = tx.Rollback()
		return &DbError{Key: cs.Key(), Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &DbError{Key: cs.Key(), Err: err}
	}
	return nil
}

// rollbackTargets picks the EXECUTED records to undo, most recent first.
func rollbackTargets(ctx context.Context, led *ledger.Ledger, count int, toTag string) ([]ledger.Record, error) {
	history, err := led.History(ctx)
	if err != nil {
		return nil, err
	}

	var executed []ledger.Record
	for _, rec := range history {
		if rec.Outcome == ledger.OutcomeExecuted {
			executed = append(executed, rec)
		}
	}

	if toTag != "" {
		tagOrder := int64(-1)
		for _, rec := range executed {
			if rec.Tag == toTag {
				tagOrder = rec.OrderExecuted
			}
		}
		if tagOrder < 0 {
			return nil, fmt.Errorf("tag %q not found in ledger", toTag)
		}
		var after []ledger.Record
		for _, rec := range executed {
			if rec.OrderExecuted > tagOrder {
				after = append(after, rec)
			}
		}
		executed = after
	} else {
		if count <= 0 {
			return nil, fmt.Errorf("rollback requires a positive count or a tag")
		}
		if count < len(executed) {
			executed = executed[len(executed)-count:]
		}
	}

	// Reverse of original application order.
	for i, j := 0, len(executed)-1; i < j; i, j = i+1, j-1 {
		executed[i], executed[j] = executed[j], executed[i]
	}
	return executed, nil
}

// Status builds the dry-run report. It never modifies the target and never
// raises on drift; drifted changesets are reported as such.
func (r *Runner) Status(ctx context.Context, changeSets []*changelog.ChangeSet, opts Options) (*report.Report, error) {
	led := ledger.New(r.db, r.dialect, opts.Table)
	if err := led.Ensure(ctx); err != nil {
		return nil, err
	}
	history, err := led.History(ctx)
	if err != nil {
		return nil, err
	}
	byKey := make(map[changelog.Key]ledger.Record, len(history))
	for _, rec := range history {
		byKey[rec.Key] = rec
	}

	sel := filter.NewSelector(opts.Contexts, opts.Labels)
	rep := report.New(r.target)
	for _, cs := range changeSets {
		row := report.Row{
			ID:       cs.ID,
			Author:   cs.Author,
			File:     cs.SourcePath,
			Contexts: cs.ContextList(),
			Labels:   cs.LabelList(),
		}
		rec, executed := byKey[cs.Key()]
		if executed {
			executedAt := rec.ExecutedAt
			row.OrderExecuted = rec.OrderExecuted
			row.ExecutedAt = &executedAt
		}

		switch {
		case !sel.Matches(cs):
			row.State = report.StateFiltered
		case !executed:
			row.State = report.StatePending
		case rec.Outcome == ledger.OutcomeFailed:
			row.State = report.StateFailed
		case rec.Outcome == ledger.OutcomeRolledBack:
			row.State = report.StateRolledBack
		case rec.Checksum != cs.Checksum && !cs.RunOnChange:
			row.State = report.StateDrifted
		case cs.RunAlways || (rec.Checksum != cs.Checksum && cs.RunOnChange):
			row.State = report.StatePending
		default:
			row.State = report.StateApplied
		}
		rep.Add(row)
	}
	return rep, nil
}

// Tag stamps the most recently executed ledger record for later
// tag-based rollback.
func (r *Runner) Tag(ctx context.Context, name string, opts Options) error {
	led := ledger.New(r.db, r.dialect, opts.Table)
	if err := led.Ensure(ctx); err != nil {
		return err
	}
	return led.TagLatest(ctx, name)
}

func (r *Runner) selectChangeSets(changeSets []*changelog.ChangeSet, opts Options) ([]*changelog.ChangeSet, int) {
	sel := filter.NewSelector(opts.Contexts, opts.Labels)
	var selected []*changelog.ChangeSet
	filteredOut := 0
	for _, cs := range changeSets {
		if sel.Matches(cs) {
			selected = append(selected, cs)
		} else {
			filteredOut++
		}
	}
	return selected, filteredOut
}
