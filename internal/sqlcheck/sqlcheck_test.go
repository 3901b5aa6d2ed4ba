package sqlcheck

import (
	"strings"
	"testing"

	"github.com/railbed/railbed/internal/changelog"
)

func changeSet(t *testing.T, stmts ...string) *changelog.ChangeSet {
	t.Helper()
	return &changelog.ChangeSet{
		ID:         "001",
		Author:     "alice",
		SourcePath: "changelog.sql",
		Statements: stmts,
	}
}

func TestValidateChangeSets_ValidPostgres(t *testing.T) {
	sets := []*changelog.ChangeSet{
		changeSet(t,
			"CREATE TABLE people (id BIGINT PRIMARY KEY, name TEXT NOT NULL)",
			"INSERT INTO people (id, name) VALUES (1, 'ada')",
		),
	}
	issues := ValidateChangeSets(sets, "postgres")
	if len(issues) != 0 {
		t.Errorf("Expected no issues for valid SQL, got: %v", issues)
	}
}

func TestValidateChangeSets_SyntaxError(t *testing.T) {
	sets := []*changelog.ChangeSet{
		changeSet(t, "CREATE TABEL people (id INT)"),
	}
	issues := ValidateChangeSets(sets, "postgres")
	if !HasErrors(issues) {
		t.Fatal("Expected a syntax error for misspelled CREATE TABLE")
	}
	if issues[0].Key.ID != "001" {
		t.Errorf("Issue must carry the changeset key, got %v", issues[0].Key)
	}
	if !strings.Contains(issues[0].Message, "syntax error") {
		t.Errorf("Unexpected message: %s", issues[0].Message)
	}
}

func TestValidateChangeSets_RollbackStatementsChecked(t *testing.T) {
	cs := changeSet(t, "CREATE TABLE t (id INT)")
	cs.RollbackStatements = []string{"DORP TABLE t"}
	issues := ValidateChangeSets([]*changelog.ChangeSet{cs}, "postgres")
	if !HasErrors(issues) {
		t.Error("Expected rollback statements to be validated too")
	}
}

func TestValidateChangeSets_Heuristics(t *testing.T) {
	tests := []struct {
		name    string
		stmt    string
		dialect string
		warn    bool
	}{
		{"delete without where", "DELETE FROM people", "sqlite", true},
		{"delete with where", "DELETE FROM people WHERE id = 1", "sqlite", false},
		{"update without where", "UPDATE people SET name = 'x'", "sqlite", true},
		{"select is fine", "SELECT 1", "sqlite", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := ValidateChangeSets([]*changelog.ChangeSet{changeSet(t, tt.stmt)}, tt.dialect)
			if got := len(issues) > 0; got != tt.warn {
				t.Errorf("Expected warning=%v for %q, got issues: %v", tt.warn, tt.stmt, issues)
			}
			if HasErrors(issues) {
				t.Errorf("Heuristics must warn, not error: %v", issues)
			}
		})
	}
}
