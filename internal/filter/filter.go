// Package filter selects changesets by context and label expressions.
//
// Contexts and labels are independent axes: a changeset must pass both tests
// to be selected. Within one axis the requested terms OR together, a `!term`
// excludes a changeset carrying that term regardless of other matches, an
// empty request passes everything, and a changeset with no declared values is
// treated as global and passes any request.
package filter

import (
	"strings"

	"github.com/railbed/railbed/internal/changelog"
)

// Expression is a parsed comma-separated filter such as "dev,staging,!legacy".
type Expression struct {
	include map[string]struct{}
	exclude map[string]struct{}
}

// Parse parses a comma-separated filter expression. Terms are trimmed and
// case-insensitive; a leading '!' marks an exclusion.
func Parse(raw string) Expression {
	expr := Expression{
		include: make(map[string]struct{}),
		exclude: make(map[string]struct{}),
	}
	for _, term := range strings.Split(raw, ",") {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if negated, ok := strings.CutPrefix(term, "!"); ok {
			if negated != "" {
				expr.exclude[negated] = struct{}{}
			}
			continue
		}
		expr.include[term] = struct{}{}
	}
	return expr
}

// Empty reports whether the expression requests nothing, which passes every
// changeset.
func (e Expression) Empty() bool {
	return len(e.include) == 0 && len(e.exclude) == 0
}

// Matches evaluates the expression against a changeset's declared values for
// one axis.
func (e Expression) Matches(declared map[string]struct{}) bool {
	// Exclusions win regardless of any other match.
	for term := range e.exclude {
		if _, ok := declared[term]; ok {
			return false
		}
	}

	if len(e.include) == 0 {
		return true
	}

	// A changeset with no declared values is global: it runs under any
	// requested filter.
	if len(declared) == 0 {
		return true
	}

	for term := range e.include {
		if _, ok := declared[term]; ok {
			return true
		}
	}
	return false
}

// Selector pairs a context expression with a label expression.
type Selector struct {
	Contexts Expression
	Labels   Expression
}

// NewSelector parses the two filter expressions of a run request.
func NewSelector(contexts, labels string) Selector {
	return Selector{
		Contexts: Parse(contexts),
		Labels:   Parse(labels),
	}
}

// Matches reports whether the changeset passes both the context and the label
// test.
func (s Selector) Matches(cs *changelog.ChangeSet) bool {
	return s.Contexts.Matches(cs.Contexts) && s.Labels.Matches(cs.Labels)
}
