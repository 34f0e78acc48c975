// Package index declares secondary-index entries attached to a record.
// Grounded on original_source/incline/InclineIndex.py.
package index

import "github.com/WrathOfChris/incline/value"

// Declaration names one secondary index a record participates in, and the
// value it is indexed under. Path is the dotted field path within dat the
// value was extracted from, kept for diagnostics; it plays no role in
// lookup.
type Declaration struct {
	Name  string
	Path  string
	Value value.Value
}
