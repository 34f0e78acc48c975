// Package driver declares the storage-backend contract every partition
// adapter implements, and the canonical location string that names a
// partition. Grounded on original_source/incline/InclineDatastore.py and
// original_source/incline/datastore.py, generalizing their DynamoDB- and
// memory-specific subclasses into a single Go interface with concrete
// implementations in driver/memory and driver/etcdstore.
package driver

import (
	"context"
	"fmt"
	"strings"

	"github.com/WrathOfChris/incline/errs"
	"github.com/WrathOfChris/incline/record"
)

// CommitMode selects commit semantics, per spec.md section 4.4.
type CommitMode int

const (
	CommitNone CommitMode = iota
	CommitCreate
	CommitDelete
	CommitRefresh
)

// Location is a parsed canonical location string "<dbtype>|<region>|<name>".
type Location struct {
	DBType string
	Region string
	Name   string
}

// String renders the canonical pipe-delimited form.
func (l Location) String() string {
	return fmt.Sprintf("%s|%s|%s", l.DBType, l.Region, l.Name)
}

// ParseLocation parses a canonical location string. It fails with
// errs.ErrInterface (wrapped) if s does not have exactly three
// pipe-delimited parts.
func ParseLocation(s string) (Location, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 3 {
		return Location{}, fmt.Errorf("%w: driver: malformed location %q: expected <dbtype>|<region>|<name>", errs.ErrInterface, s)
	}
	return Location{DBType: parts[0], Region: parts[1], Name: parts[2]}, nil
}

// KidPxn identifies a LOG entry.
type KidPxn struct {
	Kid string
	Pxn string
}

// KidTsv identifies a TXN entry.
type KidTsv struct {
	Kid string
	Tsv string
}

// ScanFilter narrows a ScanLog/ScanTxn call. A zero-value filter matches
// everything.
type ScanFilter struct {
	Kid   string
	Limit int
}

// Driver is the storage contract one partition of one backend type must
// satisfy, per spec.md section 4.4.
type Driver interface {
	// GetLog returns LOG entries for kid. If pxn is empty, returns only
	// the newest entry; otherwise returns at most one entry matching
	// (kid, pxn).
	GetLog(ctx context.Context, kid, pxn string) ([]record.Log, error)

	// GetTxn returns TXN entries for kid, newest-first, bounded by tsv
	// (empty means unbounded) and limit (zero means unbounded).
	GetTxn(ctx context.Context, kid, tsv string, limit int) ([]record.Txn, error)

	// Prepare is an unconditional, idempotent put of a LOG entry.
	Prepare(ctx context.Context, log record.Log) (record.Log, error)

	// Commit persists a TXN entry derived from log, enforcing mode's
	// semantics (spec.md section 4.4).
	Commit(ctx context.Context, log record.Log, mode CommitMode) (record.Txn, error)

	// ScanLog enumerates LOG keys matching filter.
	ScanLog(ctx context.Context, filter ScanFilter) ([]KidPxn, error)

	// ScanTxn enumerates TXN keys matching filter.
	ScanTxn(ctx context.Context, filter ScanFilter) ([]KidTsv, error)

	// DeleteLog removes a single LOG entry. Returns errs.ErrNotFound if
	// absent.
	DeleteLog(ctx context.Context, kid, pxn string) error

	// DeleteTxn removes a single TXN entry. Returns errs.ErrNotFound if
	// absent.
	DeleteTxn(ctx context.Context, kid, tsv string) error

	// GetIndex returns partial TXN projections whose idx_<name> attribute
	// equals value.
	GetIndex(ctx context.Context, name string, value any) ([]record.Txn, error)

	// Location returns this driver's canonical location string.
	Location() string
}
