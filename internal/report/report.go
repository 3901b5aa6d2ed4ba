// Package report renders the status/dry-run view of a changelog against a
// target. Every changeset is accounted for: applied, pending, filtered out,
// or drifted. Skips are reported, never inferred after the fact.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// State classifies one changeset relative to the target's ledger.
type State string

const (
	StateApplied    State = "applied"
	StatePending    State = "pending"
	StateFiltered   State = "filtered"
	StateDrifted    State = "drifted"
	StateFailed     State = "failed"
	StateRolledBack State = "rolled_back"
)

// Row is one changeset's status line.
type Row struct {
	ID            string     `json:"id"`
	Author        string     `json:"author"`
	File          string     `json:"file"`
	State         State      `json:"state"`
	Contexts      []string   `json:"contexts,omitempty"`
	Labels        []string   `json:"labels,omitempty"`
	OrderExecuted int64      `json:"order_executed,omitempty"`
	ExecutedAt    *time.Time `json:"executed_at,omitempty"`
}

// Summary aggregates row counts per state.
type Summary struct {
	Total      int `json:"total"`
	Applied    int `json:"applied"`
	Pending    int `json:"pending"`
	Filtered   int `json:"filtered"`
	Drifted    int `json:"drifted"`
	Failed     int `json:"failed"`
	RolledBack int `json:"rolled_back"`
}

// Report is the full status of a changelog against one target.
type Report struct {
	Target      string    `json:"target"`
	GeneratedAt time.Time `json:"generated_at"`
	Rows        []Row     `json:"changesets"`
	Summary     Summary   `json:"summary"`
}

// New creates an empty report for a target.
func New(target string) *Report {
	return &Report{Target: target, GeneratedAt: time.Now().UTC()}
}

// Add appends a row and updates the summary.
func (r *Report) Add(row Row) {
	r.Rows = append(r.Rows, row)
	r.Summary.Total++
	switch row.State {
	case StateApplied:
		r.Summary.Applied++
	case StatePending:
		r.Summary.Pending++
	case StateFiltered:
		r.Summary.Filtered++
	case StateDrifted:
		r.Summary.Drifted++
	case StateFailed:
		r.Summary.Failed++
	case StateRolledBack:
		r.Summary.RolledBack++
	}
}

// WriteText renders a human-readable status listing.
func (r *Report) WriteText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "Target: %s\n\n", r.Target); err != nil {
		return err
	}
	for _, row := range r.Rows {
		marker := " "
		switch row.State {
		case StatePending:
			marker = "*"
		case StateDrifted, StateFailed:
			marker = "!"
		case StateFiltered:
			marker = "-"
		}
		if _, err := fmt.Fprintf(w, "%s %-12s %s (%s)\n", marker, row.State, row.ID, row.Author); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "\n%d total: %d applied, %d pending, %d filtered out, %d drifted, %d failed, %d rolled back\n",
		r.Summary.Total, r.Summary.Applied, r.Summary.Pending, r.Summary.Filtered,
		r.Summary.Drifted, r.Summary.Failed, r.Summary.RolledBack)
	return err
}

// WriteJSON renders the report as indented JSON for IDE and CI consumers.
// The shape is pinned by schema.json.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
