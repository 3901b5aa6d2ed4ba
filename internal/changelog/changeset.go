package changelog

import (
	"fmt"
	"sort"
	"strings"
)

// ChangeSet is the atomic unit of database change. A changeset is uniquely
// identified by the (ID, Author, SourcePath) triple; the path is part of the
// identity, so moving a file produces new changesets as far as the ledger is
// concerned.
type ChangeSet struct {
	ID         string
	Author     string
	SourcePath string

	// Statements is the forward change, in declaration order.
	Statements []string

	// RollbackStatements undo the forward change. Empty means rollback is
	// unsupported for this changeset.
	RollbackStatements []string

	// Contexts and Labels are independent tagging axes. An empty set matches
	// any filter.
	Contexts map[string]struct{}
	Labels   map[string]struct{}

	// RunAlways changesets execute on every run regardless of history.
	// RunOnChange changesets re-execute when their checksum changes instead
	// of raising a drift error.
	RunAlways   bool
	RunOnChange bool

	// Checksum is computed at parse time from the normalized statements.
	Checksum string

	// Line is the 1-based line of the changeset marker, for error reporting.
	Line int
}

// Key identifies a changeset globally.
type Key struct {
	ID       string
	Author   string
	Filename string
}

// Key returns the changeset's identity triple.
func (cs *ChangeSet) Key() Key {
	return Key{ID: cs.ID, Author: cs.Author, Filename: cs.SourcePath}
}

func (k Key) String() string {
	return fmt.Sprintf("%s::%s::%s", k.Filename, k.Author, k.ID)
}

// HasRollback reports whether the changeset declared rollback statements.
func (cs *ChangeSet) HasRollback() bool {
	return len(cs.RollbackStatements) > 0
}

// ContextList returns the contexts as a sorted slice.
func (cs *ChangeSet) ContextList() []string {
	return sortedSet(cs.Contexts)
}

// LabelList returns the labels as a sorted slice.
func (cs *ChangeSet) LabelList() []string {
	return sortedSet(cs.Labels)
}

func sortedSet(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func newSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			set[strings.ToLower(v)] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}
