package changelog

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ComputeChecksum generates a deterministic hash of a changeset's forward
// statements. The hash is insensitive to whitespace-only re-serialization
// (indentation, line breaks, trailing spaces) but changes for any semantic
// edit to the statement text.
func ComputeChecksum(statements []string) string {
	h := sha256.New()
	for _, stmt := range statements {
		h.Write([]byte(normalizeStatement(stmt)))
		// Separator so that ["a b"] and ["a", "b"] hash differently.
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeStatement collapses every run of whitespace to a single space and
// trims the ends, so formatting changes do not count as drift.
func normalizeStatement(stmt string) string {
	return strings.Join(strings.Fields(stmt), " ")
}
