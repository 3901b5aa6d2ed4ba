package changelog

import (
	"errors"
	"fmt"
)

// MalformedChangeSetError reports a parse failure with file and line context.
// A malformed file is fatal to that file only; other files in the same parse
// still produce their own results or errors.
type MalformedChangeSetError struct {
	Path   string
	Line   int
	Reason string
}

func (e *MalformedChangeSetError) Error() string {
	return fmt.Sprintf("%s:%d: malformed changeset: %s", e.Path, e.Line, e.Reason)
}

// IsMalformed reports whether err is (or wraps) a MalformedChangeSetError.
func IsMalformed(err error) bool {
	var m *MalformedChangeSetError
	return errors.As(err, &m)
}

func malformedf(path string, line int, format string, args ...any) error {
	return &MalformedChangeSetError{Path: path, Line: line, Reason: fmt.Sprintf(format, args...)}
}
