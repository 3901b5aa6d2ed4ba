package report

import (
	"bytes"
	_ "embed"
	"strings"
	"testing"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var reportSchema string

func sampleReport() *Report {
	r := New("postgres://localhost/app")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.Add(Row{ID: "001-create", Author: "alice", File: "changelog/001-create.sql", State: StateApplied, OrderExecuted: 1, ExecutedAt: &now})
	r.Add(Row{ID: "002-seed", Author: "alice", File: "changelog/002-seed.sql", State: StatePending, Contexts: []string{"dev"}})
	r.Add(Row{ID: "003-legacy", Author: "bob", File: "changelog/003-legacy.sql", State: StateFiltered, Labels: []string{"legacy"}})
	return r
}

func TestReport_Summary(t *testing.T) {
	r := sampleReport()
	if r.Summary.Total != 3 {
		t.Errorf("Expected total 3, got %d", r.Summary.Total)
	}
	if r.Summary.Applied != 1 || r.Summary.Pending != 1 || r.Summary.Filtered != 1 {
		t.Errorf("Unexpected summary: %+v", r.Summary)
	}
}

func TestReport_WriteText(t *testing.T) {
	var buf bytes.Buffer
	if err := sampleReport().WriteText(&buf); err != nil {
		t.Fatalf("WriteText failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"001-create", "002-seed", "003-legacy", "1 applied", "1 pending", "1 filtered out"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out)
		}
	}
}

// TestReport_JSONMatchesSchema pins the JSON shape external consumers rely
// on. A failure here means schema.json and the Go structs have diverged.
func TestReport_JSONMatchesSchema(t *testing.T) {
	var buf bytes.Buffer
	if err := sampleReport().WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	schemaLoader := gojsonschema.NewStringLoader(reportSchema)
	documentLoader := gojsonschema.NewBytesLoader(buf.Bytes())

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		t.Fatalf("JSON Schema validation failed to run: %v", err)
	}
	if !result.Valid() {
		t.Errorf("Report JSON does not match schema.json:")
		for _, desc := range result.Errors() {
			t.Errorf("  - %s", desc)
		}
	}
}
