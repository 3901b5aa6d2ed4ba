// Package sqlcheck validates changeset SQL before it ever reaches a target.
// PostgreSQL statements get a real parse via pg_query; other dialects get
// heuristic checks only, since a portable changelog cannot assume one
// engine's grammar.
package sqlcheck

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/railbed/railbed/internal/changelog"
)

// Issue is one validation finding, tied back to the changeset it came from.
type Issue struct {
	Key      changelog.Key
	Severity string // "error" or "warning"
	Message  string
	SQL      string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Key, i.Severity, i.Message)
}

// ValidateChangeSets checks every statement (forward and rollback) of the
// given changesets. dialect selects the validation depth: "postgres" parses
// with the real grammar, anything else runs heuristics.
func ValidateChangeSets(sets []*changelog.ChangeSet, dialect string) []Issue {
	var issues []Issue
	for _, cs := range sets {
		for _, stmt := range cs.Statements {
			issues = append(issues, validateStatement(cs.Key(), stmt, dialect)...)
		}
		for _, stmt := range cs.RollbackStatements {
			issues = append(issues, validateStatement(cs.Key(), stmt, dialect)...)
		}
	}
	return issues
}

// HasErrors reports whether any issue is severity "error".
func HasErrors(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Severity == "error" {
			return true
		}
	}
	return false
}

func validateStatement(key changelog.Key, stmt, dialect string) []Issue {
	var issues []Issue

	if dialect == "postgres" {
		if _, err := pg_query.Parse(stmt); err != nil {
			msg := strings.TrimPrefix(err.Error(), "failed to parse SQL: ")
			issues = append(issues, Issue{
				Key:      key,
				Severity: "error",
				Message:  fmt.Sprintf("syntax error: %s", msg),
				SQL:      stmt,
			})
			return issues
		}
	}

	issues = append(issues, heuristicIssues(key, stmt)...)
	return issues
}

// heuristicIssues flags statements that are dangerous in a changelog
// regardless of engine.
func heuristicIssues(key changelog.Key, stmt string) []Issue {
	var issues []Issue
	upper := strings.ToUpper(stmt)

	if strings.HasPrefix(upper, "DELETE") && !strings.Contains(upper, "WHERE") {
		issues = append(issues, Issue{
			Key:      key,
			Severity: "warning",
			Message:  "DELETE without WHERE clause affects every row",
			SQL:      stmt,
		})
	}
	if strings.HasPrefix(upper, "UPDATE") && !strings.Contains(upper, "WHERE") {
		issues = append(issues, Issue{
			Key:      key,
			Severity: "warning",
			Message:  "UPDATE without WHERE clause affects every row",
			SQL:      stmt,
		})
	}
	if strings.Contains(upper, "DROP DATABASE") {
		issues = append(issues, Issue{
			Key:      key,
			Severity: "warning",
			Message:  "DROP DATABASE in a changelog is almost certainly a mistake",
			SQL:      stmt,
		})
	}
	return issues
}
