// Package client implements incline's transaction engine: the
// atomic multi-key write, the two-round read-atomic get, and the
// create/delete/refresh/history/index operations built on top of it.
// Grounded on original_source/incline/InclineClient.py and
// original_source/incline/client.py, generalizing their single
// InclineRouterOne + InclineDatastoreDynamo wiring into a client that
// accepts any router.Router and opens coordinator.Coordinators through an
// injected driver.Driver factory, cached by location string (spec.md
// section 3, "Ownership").
package client

import (
	"context"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nsf/jsondiff"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/WrathOfChris/incline/coordinator"
	"github.com/WrathOfChris/incline/driver"
	"github.com/WrathOfChris/incline/errs"
	"github.com/WrathOfChris/incline/index"
	"github.com/WrathOfChris/incline/meta"
	"github.com/WrathOfChris/incline/pxn"
	"github.com/WrathOfChris/incline/record"
	"github.com/WrathOfChris/incline/router"
	"github.com/WrathOfChris/incline/tracer"
	"github.com/WrathOfChris/incline/value"
)

var opsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "incline",
	Subsystem: "client",
	Name:      "ops_total",
	Help:      "Count of client operations by name and outcome.",
}, []string{"op", "outcome"})

var repairsTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "incline",
	Subsystem: "client",
	Name:      "read_atomic_repairs_total",
	Help:      "Count of sibling keys pulled forward by the read-atomic repair round.",
})

func init() {
	prometheus.MustRegister(opsTotal, repairsTotal)
}

// DriverOpener constructs a driver.Driver for a canonical location
// string. Supplied by the caller, since only the caller knows which
// concrete backend(s) (driver/memory, driver/etcdstore, ...) a given
// dbtype prefix maps to.
type DriverOpener func(ctx context.Context, location string) (driver.Driver, error)

// Options configures a Client. Router and Open are required; the other
// fields are optional and zero values take the documented defaults
// (spec.md section 6, "Configuration").
type Options struct {
	Name   string
	Region string
	Cid    string
	Uid    string
	Rid    string
	Tracer tracer.Tracer

	Router router.Router
	Open   DriverOpener

	// DriverCacheSize bounds the number of open coordinators cached per
	// client. Defaults to 32.
	DriverCacheSize int

	// Indexes are the index declarations registered on this client. They
	// are stored on the Client only: they are not passed to the
	// coordinators or drivers it opens, and no record's Idx is filled from
	// them at prepare time.
	Indexes []index.Declaration
}

// Client is the transaction engine: one instance should be used per
// request context (spec.md section 5, "Scheduling" — not safe for
// concurrent use by multiple goroutines sharing the same instance).
type Client struct {
	name   string
	region string
	uid    string
	rid    string
	tracer tracer.Tracer
	router router.Router
	open   DriverOpener
	clock  *pxn.Clock
	cache  *lru.Cache[string, *coordinator.Coordinator]
	idx    []index.Declaration
}

// New constructs a Client. opts.Router and opts.Open are required.
func New(opts Options) (*Client, error) {
	if opts.Router == nil {
		return nil, fmt.Errorf("%w: client requires a Router", errs.ErrInterface)
	}
	if opts.Open == nil {
		return nil, fmt.Errorf("%w: client requires a DriverOpener", errs.ErrInterface)
	}
	name := opts.Name
	if name == "" {
		name = "incline"
	}
	region := opts.Region
	if region == "" {
		region = "us-west-2"
	}
	uid := opts.Uid
	if uid == "" {
		uid = "0"
	}
	rid := opts.Rid
	if rid == "" {
		rid = "0"
	}
	tr := opts.Tracer
	if tr == nil {
		tr = tracer.NoopTracer{}
	}
	size := opts.DriverCacheSize
	if size <= 0 {
		size = 32
	}
	cache, err := lru.New[string, *coordinator.Coordinator](size)
	if err != nil {
		return nil, fmt.Errorf("%w: building driver cache: %v", errs.ErrError, err)
	}

	return &Client{
		name:   name,
		region: region,
		uid:    uid,
		rid:    rid,
		tracer: tr,
		router: opts.Router,
		open:   opts.Open,
		clock:  pxn.NewClock(opts.Cid),
		cache:  cache,
		idx:    opts.Indexes,
	}, nil
}

// coordinatorFor returns the cached Coordinator for location, opening and
// caching a fresh one if absent.
func (c *Client) coordinatorFor(ctx context.Context, location string) (*coordinator.Coordinator, error) {
	if co, ok := c.cache.Get(location); ok {
		return co, nil
	}
	drv, err := c.open(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("%w: opening driver for %s: %v", errs.ErrInterface, location, err)
	}
	co := coordinator.New(drv, c.clock, c.uid, c.rid, c.tracer)
	c.cache.Add(location, co)
	return co, nil
}

// Item is one key/value pair in a multi-key write.
type Item struct {
	Kid string
	Dat value.Value
}

// Result is the outcome of an atomic multi-key write: the batch PXN and
// every committed TXN record, keyed by kid.
type Result struct {
	Pxn  pxn.PXN
	Data map[string]record.Txn
}

// Put writes a single key as one atomic batch.
func (c *Client) Put(ctx context.Context, kid string, dat value.Value) (Result, error) {
	return c.putAtomic(ctx, []Item{{Kid: kid, Dat: dat}}, driver.CommitNone)
}

// Puts writes a batch of keys atomically.
func (c *Client) Puts(ctx context.Context, items []Item) (Result, error) {
	return c.putAtomic(ctx, items, driver.CommitNone)
}

// Create writes a single key, failing with errs.ErrExists if it already
// has a live value.
func (c *Client) Create(ctx context.Context, kid string, dat value.Value) (Result, error) {
	return c.putAtomic(ctx, []Item{{Kid: kid, Dat: dat}}, driver.CommitCreate)
}

// Creates writes a batch of keys, failing with errs.ErrExists if any
// already has a live value.
func (c *Client) Creates(ctx context.Context, items []Item) (Result, error) {
	return c.putAtomic(ctx, items, driver.CommitCreate)
}

// Delete writes a tombstone for kid.
func (c *Client) Delete(ctx context.Context, kid string) (Result, error) {
	return c.putAtomic(ctx, []Item{{Kid: kid, Dat: value.Null()}}, driver.CommitDelete)
}

// Refresh re-commits kid's current value under the current router
// configuration, preserving pxn and org (spec.md section 4.6.4). It
// prefers the LOG entry if still present, falling back to the current TXN
// otherwise.
func (c *Client) Refresh(ctx context.Context, kid string) (Result, error) {
	_, span := c.tracer.Span(ctx, "incline.client.refresh")
	defer span.End()

	cur, err := c.getKey(ctx, kid)
	if err != nil {
		opsTotal.WithLabelValues("refresh", "error").Inc()
		return Result{}, err
	}

	locations := uniqueStrings(c.router.Lookup(router.ActionWrite, kid))
	for _, loc := range locations {
		co, err := c.coordinatorFor(ctx, loc)
		if err != nil {
			opsTotal.WithLabelValues("refresh", "error").Inc()
			return Result{}, err
		}
		src := cur
		if l, err := c.getLog(ctx, kid, loc, cur.Pxn); err == nil {
			src = l
		} else if !errs.Is(err, errs.ErrNotFound) {
			opsTotal.WithLabelValues("refresh", "error").Inc()
			return Result{}, err
		}
		var ws meta.Set
		for _, w := range src.Met.Writes {
			ws.Add(w)
		}
		if _, err := co.Prepare(ctx, kid, cur.Pxn, ws, src.Dat); err != nil {
			opsTotal.WithLabelValues("refresh", "error").Inc()
			return Result{}, err
		}
	}

	data := make(map[string]record.Txn, 1)
	for _, loc := range locations {
		co, err := c.coordinatorFor(ctx, loc)
		if err != nil {
			opsTotal.WithLabelValues("refresh", "error").Inc()
			return Result{}, err
		}
		txn, err := co.Commit(ctx, kid, cur.Pxn, driver.CommitRefresh)
		if err != nil {
			opsTotal.WithLabelValues("refresh", "error").Inc()
			return Result{}, err
		}
		data[kid] = txn
	}

	opsTotal.WithLabelValues("refresh", "ok").Inc()
	return Result{Pxn: cur.Pxn, Data: data}, nil
}

// putAtomic implements spec.md section 4.6.1. One PXN is allocated for
// the whole batch; prepare fans out across every location the batch
// touches before any commit begins, preserving the hard phase barrier
// even though each phase parallelizes its own per-location calls.
func (c *Client) putAtomic(ctx context.Context, items []Item, mode driver.CommitMode) (Result, error) {
	ctx, span := c.tracer.Span(ctx, "incline.client.putatomic")
	defer span.End()

	if len(items) == 0 {
		opsTotal.WithLabelValues("putatomic", "error").Inc()
		return Result{}, fmt.Errorf("%w: putAtomic with no items", errs.ErrInterface)
	}

	p := c.clock.Next()
	span.SetAttribute("request.pxn", p.String())

	itemLocations := make(map[string][]string, len(items))
	var allLocations []string
	for _, it := range items {
		locs := uniqueStrings(c.router.Lookup(router.ActionWrite, it.Kid))
		itemLocations[it.Kid] = locs
		allLocations = append(allLocations, locs...)
	}
	allLocations = uniqueStrings(allLocations)

	grp, gctx := errgroup.WithContext(ctx)
	for _, loc := range allLocations {
		loc := loc
		grp.Go(func() error {
			co, err := c.coordinatorFor(gctx, loc)
			if err != nil {
				return err
			}
			for _, it := range items {
				if !contains(itemLocations[it.Kid], loc) {
					continue
				}
				ws := writeSetFor(items, itemLocations, it.Kid, loc, p)
				if _, err := co.Prepare(gctx, it.Kid, p, ws, it.Dat); err != nil {
					return fmt.Errorf("prepare %s at %s: %w", it.Kid, loc, err)
				}
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		opsTotal.WithLabelValues("putatomic", "error").Inc()
		return Result{}, err
	}

	// Commit phase: a hard barrier separates this from prepare above —
	// every location's prepares completed before any commit starts.
	results := make([]map[string]record.Txn, len(allLocations))
	commitGrp, cctx := errgroup.WithContext(ctx)
	for i, loc := range allLocations {
		i, loc := i, loc
		commitGrp.Go(func() error {
			co, err := c.coordinatorFor(cctx, loc)
			if err != nil {
				return err
			}
			committed := make(map[string]record.Txn)
			for _, it := range items {
				if !contains(itemLocations[it.Kid], loc) {
					continue
				}
				txn, err := co.Commit(cctx, it.Kid, p, mode)
				if err != nil {
					return fmt.Errorf("commit %s at %s: %w", it.Kid, loc, err)
				}
				committed[it.Kid] = txn
			}
			results[i] = committed
			return nil
		})
	}
	if err := commitGrp.Wait(); err != nil {
		opsTotal.WithLabelValues("putatomic", "error").Inc()
		return Result{}, err
	}

	data := make(map[string]record.Txn, len(items))
	for _, committed := range results {
		for kid, txn := range committed {
			data[kid] = txn
		}
	}

	opsTotal.WithLabelValues("putatomic", "ok").Inc()
	return Result{Pxn: p, Data: data}, nil
}

// writeSetFor builds the write-set for participant (kid, loc): one entry
// per *other* (kid', loc') pair in the batch, per spec.md section 4.6.1
// "Metadata construction rule".
func writeSetFor(items []Item, itemLocations map[string][]string, kid, loc string, p pxn.PXN) meta.Set {
	var ws meta.Set
	for _, it := range items {
		for _, l := range itemLocations[it.Kid] {
			if it.Kid == kid && l == loc {
				continue
			}
			ws.Add(meta.Write{Kid: it.Kid, Loc: l, Pxn: p})
		}
	}
	return ws
}

// Get resolves the latest consistent value for one or more keys using
// the two-round read-atomic algorithm (spec.md section 4.6.2).
func (c *Client) Get(ctx context.Context, keys []string) (map[string]record.Txn, pxn.PXN, error) {
	ctx, span := c.tracer.Span(ctx, "incline.client.get")
	defer span.End()

	if len(keys) == 0 {
		opsTotal.WithLabelValues("get", "error").Inc()
		return nil, pxn.PXN{}, fmt.Errorf("%w: client get with no keys", errs.ErrInterface)
	}

	vals := make(map[string]record.Txn, len(keys))
	var maxPxn pxn.PXN
	for _, k := range keys {
		v, err := c.getKey(ctx, k)
		if err != nil {
			opsTotal.WithLabelValues("get", "error").Inc()
			return nil, pxn.PXN{}, err
		}
		vals[v.Kid] = v
		if pxn.Less(maxPxn, v.Pxn) {
			maxPxn = v.Pxn
		}
	}

	// Round 2: repair. For each observed write-set entry referencing a
	// sibling also in our request set, pull the sibling forward to its
	// LOG entry if the sibling's committed version lags the write-set's
	// PXN.
	for _, v := range vals {
		for _, m := range v.Met.Writes {
			sib, inSet := vals[m.Kid]
			if !inSet || !pxn.Less(sib.Pxn, m.Pxn) {
				continue
			}
			repaired, err := c.getLog(ctx, m.Kid, m.Loc, m.Pxn)
			if err != nil {
				opsTotal.WithLabelValues("get", "error").Inc()
				return nil, pxn.PXN{}, err
			}
			vals[m.Kid] = repaired
			repairsTotal.Inc()
			if pxn.Less(maxPxn, repaired.Pxn) {
				maxPxn = repaired.Pxn
			}
		}
	}

	opsTotal.WithLabelValues("get", "ok").Inc()
	return vals, maxPxn, nil
}

func (c *Client) getKey(ctx context.Context, kid string) (record.Txn, error) {
	locations := uniqueStrings(c.router.Lookup(router.ActionRead, kid))
	if len(locations) == 0 {
		return record.Txn{}, fmt.Errorf("%w: no read locations for %s", errs.ErrInterface, kid)
	}

	var candidates []record.Txn
	for _, loc := range locations {
		co, err := c.coordinatorFor(ctx, loc)
		if err != nil {
			return record.Txn{}, err
		}
		txn, err := co.Get(ctx, kid, decimal.Decimal{}, pxn.PXN{})
		if err != nil {
			if errs.Is(err, errs.ErrNotFound) {
				continue
			}
			return record.Txn{}, err
		}
		candidates = append(candidates, txn)
	}
	if len(candidates) == 0 {
		return record.Txn{}, errs.ErrNotFound
	}
	return verify(candidates), nil
}

func (c *Client) getLog(ctx context.Context, kid, loc string, p pxn.PXN) (record.Txn, error) {
	co, err := c.coordinatorFor(ctx, loc)
	if err != nil {
		return record.Txn{}, err
	}
	return co.Get(ctx, kid, decimal.Decimal{}, p)
}

// verify picks the newest candidate by tsv; when two candidates at the
// same (or any) tsv disagree on dat, it logs a structured diff but still
// returns the newest one, per spec.md section 4.6.3.
func verify(candidates []record.Txn) record.Txn {
	best := candidates[0]
	for _, cand := range candidates[1:] {
		if cand.Tsv.GreaterThan(best.Tsv) {
			if !valuesEqual(best.Dat, cand.Dat) {
				logMismatch(best, cand)
			}
			best = cand
		} else if !valuesEqual(best.Dat, cand.Dat) {
			logMismatch(best, cand)
		}
	}
	return best
}

func valuesEqual(a, b value.Value) bool {
	return value.Equal(a, b)
}

func logMismatch(a, b record.Txn) {
	aJSON, errA := a.Dat.MarshalJSON()
	bJSON, errB := b.Dat.MarshalJSON()
	if errA != nil || errB != nil {
		log.WithFields(log.Fields{"kid": a.Kid}).Warn("client validation error: dat not comparable as JSON")
		return
	}
	opts := jsondiff.DefaultConsoleOptions()
	_, diff := jsondiff.Compare(aJSON, bJSON, &opts)
	log.WithFields(log.Fields{
		"kid": a.Kid,
		"a":   fmt.Sprintf("tsv=%s pxn=%s", a.Tsv, a.Pxn),
		"b":   fmt.Sprintf("tsv=%s pxn=%s", b.Tsv, b.Pxn),
	}).Warnf("client validation error: %s", diff)
}

// History returns TXN records for kid at or before tsv (or newest if tsv
// is zero), newest-first, limit-bounded, across every read location.
// Records returned by more than one location are not deduplicated.
func (c *Client) History(ctx context.Context, kid string, tsv decimal.Decimal, limit int) ([]record.Txn, error) {
	ctx, span := c.tracer.Span(ctx, "incline.client.history")
	defer span.End()

	locations := uniqueStrings(c.router.Lookup(router.ActionRead, kid))
	tsvStr := ""
	if !tsv.IsZero() {
		tsvStr = tsv.String()
	}

	var out []record.Txn
	for _, loc := range locations {
		co, err := c.coordinatorFor(ctx, loc)
		if err != nil {
			opsTotal.WithLabelValues("history", "error").Inc()
			return nil, err
		}
		txns, err := co.Drv.GetTxn(ctx, kid, tsvStr, limit)
		if err != nil {
			opsTotal.WithLabelValues("history", "error").Inc()
			return nil, err
		}
		out = append(out, txns...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Tsv.GreaterThan(out[j].Tsv) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	opsTotal.WithLabelValues("history", "ok").Inc()
	return out, nil
}

// Index fans out a probe value across every location declared for
// secondary-index lookups and concatenates the results.
func (c *Client) Index(ctx context.Context, name string, probe any) ([]record.Txn, error) {
	ctx, span := c.tracer.Span(ctx, "incline.client.index")
	defer span.End()

	locations := uniqueStrings(c.router.Lookup(router.ActionIndex, name))
	var out []record.Txn
	for _, loc := range locations {
		co, err := c.coordinatorFor(ctx, loc)
		if err != nil {
			opsTotal.WithLabelValues("index", "error").Inc()
			return nil, err
		}
		txns, err := co.Drv.GetIndex(ctx, name, probe)
		if err != nil {
			opsTotal.WithLabelValues("index", "error").Inc()
			return nil, err
		}
		out = append(out, txns...)
	}
	opsTotal.WithLabelValues("index", "ok").Inc()
	return out, nil
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func contains(in []string, s string) bool {
	for _, v := range in {
		if v == s {
			return true
		}
	}
	return false
}
