package wizard

import (
	"github.com/charmbracelet/bubbles/textinput"
)

// State represents the current step in the wizard flow
type State int

const (
	StateWelcome State = iota
	StateTargetName
	StateDatabaseType
	StateConnectionDetails
	StateSummary
	StateCreating
	StateDone
	StateError
)

// TargetInput holds user input for a single target
type TargetInput struct {
	Name         string
	DatabaseType string // "postgres", "sqlite", "libsql"

	// PostgreSQL / libSQL connection URL
	URL string

	// SQLite file path
	FilePath string

	ChangelogDir string
}

// ConnectionString builds the target's connection string from its inputs.
func (t TargetInput) ConnectionString() string {
	if t.DatabaseType == "sqlite" {
		return t.FilePath
	}
	return t.URL
}

// InitResult summarizes what the wizard created.
type InitResult struct {
	ConfigPath       string
	ConfigCreated    bool
	ConfigUpdated    bool
	ChangelogDir     string
	ChangelogCreated bool
	EnvFile          string
	GitignoreUpdated bool
}

// Model holds the state for the Bubble Tea wizard
type Model struct {
	state State

	target      TargetInput
	dbTypeIndex int

	inputs     []textinput.Model
	focusIndex int

	result *InitResult
	err    error

	width  int
	height int
}
