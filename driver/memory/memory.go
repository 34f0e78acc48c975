// Package memory implements an in-memory driver.Driver for tests and the
// seed scenarios of spec.md section 8. Grounded on
// original_source/incline/InclineDatastoreMemory.py, but scoped to a
// store injected at construction rather than the original's
// module-level DATASTORE_MEMORY global (spec.md section 9, "Global
// mutable state": "forbid module-level singletons").
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/WrathOfChris/incline/driver"
	"github.com/WrathOfChris/incline/errs"
	"github.com/WrathOfChris/incline/pxn"
	"github.com/WrathOfChris/incline/record"
)

// Store is the shared backing state for one or more Drivers. Multiple
// Drivers may share a Store to emulate a single backend observed from
// several locations; tests typically give each Driver its own Store.
type Store struct {
	mu  sync.RWMutex
	log map[string]map[string]record.Log // kid -> pxn string -> Log
	txn map[string]map[string]record.Txn // kid -> tsv string -> Txn
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		log: make(map[string]map[string]record.Log),
		txn: make(map[string]map[string]record.Txn),
	}
}

// Driver is a driver.Driver backed by a Store.
type Driver struct {
	store *Store
	loc   string
}

var _ driver.Driver = (*Driver)(nil)

// New constructs a Driver at canonical location string loc, backed by
// store. If store is nil, a fresh private Store is created.
func New(loc string, store *Store) *Driver {
	if store == nil {
		store = NewStore()
	}
	return &Driver{store: store, loc: loc}
}

func (d *Driver) Location() string { return d.loc }

func (d *Driver) GetLog(_ context.Context, kid, p string) ([]record.Log, error) {
	d.store.mu.RLock()
	defer d.store.mu.RUnlock()

	versions := d.store.log[kid]
	if len(versions) == 0 {
		return nil, nil
	}

	if p != "" {
		l, ok := versions[p]
		if !ok {
			return nil, nil
		}
		return []record.Log{l}, nil
	}

	return []record.Log{newestLog(versions)}, nil
}

func newestLog(versions map[string]record.Log) record.Log {
	var best record.Log
	var bestPxn pxn.PXN
	first := true
	for s, l := range versions {
		p, err := pxn.Parse(s)
		if err != nil {
			continue
		}
		if first || pxn.Less(bestPxn, p) {
			best, bestPxn, first = l, p, false
		}
	}
	return best
}

func (d *Driver) GetTxn(_ context.Context, kid, tsv string, limit int) ([]record.Txn, error) {
	d.store.mu.RLock()
	defer d.store.mu.RUnlock()

	versions := d.store.txn[kid]
	if len(versions) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(versions))
	for k := range versions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		di, _ := decimal.NewFromString(keys[i])
		dj, _ := decimal.NewFromString(keys[j])
		return di.GreaterThan(dj)
	})

	if tsv != "" {
		bound, err := decimal.NewFromString(tsv)
		if err != nil {
			return nil, fmt.Errorf("driver/memory: bad tsv %q: %w", tsv, err)
		}
		filtered := keys[:0:0]
		for _, k := range keys {
			d, _ := decimal.NewFromString(k)
			if !d.GreaterThan(bound) {
				filtered = append(filtered, k)
			}
		}
		keys = filtered
	}

	if limit > 0 && limit < len(keys) {
		keys = keys[:limit]
	}

	out := make([]record.Txn, 0, len(keys))
	for _, k := range keys {
		out = append(out, versions[k])
	}
	return out, nil
}

func (d *Driver) Prepare(_ context.Context, log record.Log) (record.Log, error) {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()

	if d.store.log[log.Kid] == nil {
		d.store.log[log.Kid] = make(map[string]record.Log)
	}
	d.store.log[log.Kid][log.Pxn.String()] = log
	return log, nil
}

func (d *Driver) Commit(_ context.Context, log record.Log, mode driver.CommitMode) (record.Txn, error) {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()

	existing := d.store.txn[log.Kid]

	var orgTsv decimal.Decimal
	var live *record.Txn
	if len(existing) > 0 {
		newest := newestTxnLocked(existing)
		orgTsv = newest.Tsv
		if !newest.IsDeleted(decimal.Decimal{}) {
			live = &newest
		}
	}

	if mode == driver.CommitCreate && live != nil {
		return record.Txn{}, errs.ErrExists
	}

	tmb := decimal.Zero
	if log.Dat.IsNull() {
		tmb = log.Tsv
	}

	org := orgTsv
	if mode == driver.CommitRefresh && live != nil {
		org = live.Org
	}

	txn := record.Txn{
		Kid: log.Kid,
		Tsv: log.Tsv,
		Pxn: log.Pxn,
		Tmb: tmb,
		Cid: log.Cid,
		Uid: log.Uid,
		Rid: log.Rid,
		Org: org,
		Ver: log.Ver,
		Met: log.Met,
		Dat: log.Dat,
		Idx: log.Idx,
	}

	if d.store.txn[log.Kid] == nil {
		d.store.txn[log.Kid] = make(map[string]record.Txn)
	}
	d.store.txn[log.Kid][log.Tsv.String()] = txn
	return txn, nil
}

func newestTxnLocked(versions map[string]record.Txn) record.Txn {
	var best record.Txn
	first := true
	for _, t := range versions {
		if first || t.Tsv.GreaterThan(best.Tsv) {
			best, first = t, false
		}
	}
	return best
}

func (d *Driver) ScanLog(_ context.Context, filter driver.ScanFilter) ([]driver.KidPxn, error) {
	d.store.mu.RLock()
	defer d.store.mu.RUnlock()

	var out []driver.KidPxn
	for kid, versions := range d.store.log {
		if filter.Kid != "" && filter.Kid != kid {
			continue
		}
		for p := range versions {
			out = append(out, driver.KidPxn{Kid: kid, Pxn: p})
		}
	}
	return out, nil
}

func (d *Driver) ScanTxn(_ context.Context, filter driver.ScanFilter) ([]driver.KidTsv, error) {
	d.store.mu.RLock()
	defer d.store.mu.RUnlock()

	var out []driver.KidTsv
	for kid, versions := range d.store.txn {
		if filter.Kid != "" && filter.Kid != kid {
			continue
		}
		for tsv := range versions {
			out = append(out, driver.KidTsv{Kid: kid, Tsv: tsv})
		}
	}
	return out, nil
}

func (d *Driver) DeleteLog(_ context.Context, kid, p string) error {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()

	versions, ok := d.store.log[kid]
	if !ok {
		return errs.ErrNotFound
	}
	if _, ok := versions[p]; !ok {
		return errs.ErrNotFound
	}
	delete(versions, p)
	if len(versions) == 0 {
		delete(d.store.log, kid)
	}
	return nil
}

func (d *Driver) DeleteTxn(_ context.Context, kid, tsv string) error {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()

	versions, ok := d.store.txn[kid]
	if !ok {
		return errs.ErrNotFound
	}
	if _, ok := versions[tsv]; !ok {
		return errs.ErrNotFound
	}
	delete(versions, tsv)
	if len(versions) == 0 {
		delete(d.store.txn, kid)
	}
	return nil
}

func (d *Driver) GetIndex(_ context.Context, name string, value any) ([]record.Txn, error) {
	d.store.mu.RLock()
	defer d.store.mu.RUnlock()

	var out []record.Txn
	for _, versions := range d.store.txn {
		newest := newestTxnLocked(versions)
		decl, ok := newest.Idx[name]
		if !ok {
			continue
		}
		if decl.Value.ToLocal() == value {
			out = append(out, newest)
		}
	}
	return out, nil
}
