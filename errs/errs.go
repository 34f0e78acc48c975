// Package errs defines the closed error taxonomy shared by every incline
// package. Drivers and the client wrap backend-native failures against one
// of these sentinels with fmt.Errorf("...: %w", err) so callers can
// classify failures with errors.Is regardless of which backend produced
// them.
package errs

import "errors"

var (
	// ErrInterface marks a caller contract violation: a malformed location
	// string, a missing key, invalid metadata. Not retryable.
	ErrInterface = errors.New("incline: interface error")

	// ErrNotFound marks a requested key, version, or log entry absent from
	// every consulted location.
	ErrNotFound = errors.New("incline: not found")

	// ErrExists marks a create that conflicted with an existing live
	// record.
	ErrExists = errors.New("incline: already exists")

	// ErrDataError marks a malformed backend response or a violated
	// structural invariant (for example, Only() called on a multi-element
	// list).
	ErrDataError = errors.New("incline: data error")

	// ErrError is the catch-all base for unclassified failures.
	ErrError = errors.New("incline: error")
)

// Is reports whether err is classified as kind, per the closed taxonomy
// above.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
