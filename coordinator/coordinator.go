// Package coordinator implements per-location orchestration over a
// driver.Driver: it canonicalizes write-set metadata, stamps records with
// a fresh PXN/TSV, and applies tombstone filtering on reads. Grounded on
// original_source/incline/InclineDatastore.py, generalizing its
// dynamo/memory subclass split into one coordinator holding a
// driver.Driver interface (spec.md section 9, "Inheritance → interface
// composition").
package coordinator

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/WrathOfChris/incline/driver"
	"github.com/WrathOfChris/incline/errs"
	"github.com/WrathOfChris/incline/meta"
	"github.com/WrathOfChris/incline/pxn"
	"github.com/WrathOfChris/incline/record"
	"github.com/WrathOfChris/incline/tracer"
	"github.com/WrathOfChris/incline/value"
)

var callsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "incline",
	Subsystem: "coordinator",
	Name:      "calls_total",
	Help:      "Count of coordinator operations by name and outcome.",
}, []string{"op", "outcome"})

func init() {
	prometheus.MustRegister(callsTotal)
}

// Coordinator wraps one driver.Driver with the clock, location, and
// tracer needed to translate client requests into LOG/TXN records.
type Coordinator struct {
	Drv    driver.Driver
	Clock  *pxn.Clock
	Loc    string
	Uid    string
	Rid    string
	Tracer tracer.Tracer
}

// New constructs a Coordinator. If tr is nil, tracing is a no-op.
func New(drv driver.Driver, clock *pxn.Clock, uid, rid string, tr tracer.Tracer) *Coordinator {
	if tr == nil {
		tr = tracer.NoopTracer{}
	}
	return &Coordinator{Drv: drv, Clock: clock, Loc: drv.Location(), Uid: uid, Rid: rid, Tracer: tr}
}

// CanonMetadata fills in a missing Loc with this coordinator's own
// location and rejects entries missing Kid or Pxn, per spec.md section
// 4.5 ("canon_metadata").
func (c *Coordinator) CanonMetadata(ws meta.Set) (meta.Set, error) {
	var out meta.Set
	for _, w := range ws.Writes {
		if w.Kid == "" || w.Pxn.IsZero() {
			return meta.Set{}, fmt.Errorf("%w: metadata entry missing kid or pxn", errs.ErrInterface)
		}
		if w.Loc == "" {
			w.Loc = c.Loc
		}
		out.Add(w)
	}
	return out, nil
}

// Prepare constructs a LOG value for kid under p with the given write-set
// and payload, stamps it with a fresh TSV, and persists it via the
// driver.
func (c *Coordinator) Prepare(ctx context.Context, kid string, p pxn.PXN, ws meta.Set, dat value.Value) (record.Log, error) {
	ctx, span := c.Tracer.Span(ctx, "incline.prepare")
	defer span.End()
	span.SetAttribute("request.kid", kid)
	span.SetAttribute("request.pxn", p.String())

	canon, err := c.CanonMetadata(ws)
	if err != nil {
		callsTotal.WithLabelValues("prepare", "error").Inc()
		return record.Log{}, err
	}

	l := record.Log{
		Kid: kid,
		Pxn: p,
		Tsv: c.Clock.Now(),
		Cid: c.Clock.CID(),
		Uid: c.Uid,
		Rid: c.Rid,
		Ver: record.SchemaVersion,
		Met: canon,
		Dat: dat,
	}

	got, err := c.Drv.Prepare(ctx, l)
	if err != nil {
		callsTotal.WithLabelValues("prepare", "error").Inc()
		return record.Log{}, err
	}
	callsTotal.WithLabelValues("prepare", "ok").Inc()
	return got, nil
}

// Commit reads back the unique LOG entry for (kid, p) and commits it via
// the driver under mode.
func (c *Coordinator) Commit(ctx context.Context, kid string, p pxn.PXN, mode driver.CommitMode) (record.Txn, error) {
	ctx, span := c.Tracer.Span(ctx, "incline.commit")
	defer span.End()
	span.SetAttribute("request.kid", kid)
	span.SetAttribute("request.pxn", p.String())

	logs, err := c.Drv.GetLog(ctx, kid, p.String())
	if err != nil {
		callsTotal.WithLabelValues("commit", "error").Inc()
		return record.Txn{}, err
	}
	if len(logs) != 1 {
		callsTotal.WithLabelValues("commit", "error").Inc()
		return record.Txn{}, fmt.Errorf("%w: commit expected exactly one log entry for %s/%s, got %d", errs.ErrDataError, kid, p, len(logs))
	}

	txn, err := c.Drv.Commit(ctx, logs[0], mode)
	if err != nil {
		callsTotal.WithLabelValues("commit", "error").Inc()
		return record.Txn{}, err
	}
	callsTotal.WithLabelValues("commit", "ok").Inc()
	return txn, nil
}

// Get resolves a record for kid: a TSV point lookup if tsv is non-zero, a
// LOG lookup if p is non-zero, else the newest live TXN with tombstone
// filtering applied.
func (c *Coordinator) Get(ctx context.Context, kid string, tsv decimal.Decimal, p pxn.PXN) (record.Txn, error) {
	ctx, span := c.Tracer.Span(ctx, "incline.get")
	defer span.End()
	span.SetAttribute("request.kid", kid)

	if !p.IsZero() {
		logs, err := c.Drv.GetLog(ctx, kid, p.String())
		if err != nil {
			callsTotal.WithLabelValues("get", "error").Inc()
			return record.Txn{}, err
		}
		if len(logs) == 0 {
			callsTotal.WithLabelValues("get", "not_found").Inc()
			return record.Txn{}, errs.ErrNotFound
		}
		callsTotal.WithLabelValues("get", "ok").Inc()
		return logToTxn(logs[0]), nil
	}

	tsvStr := ""
	if !tsv.IsZero() {
		tsvStr = tsv.String()
	}
	txns, err := c.Drv.GetTxn(ctx, kid, tsvStr, 1)
	if err != nil {
		callsTotal.WithLabelValues("get", "error").Inc()
		return record.Txn{}, err
	}
	live := FilterDeleted(txns, decimal.Decimal{})
	if len(live) == 0 {
		callsTotal.WithLabelValues("get", "not_found").Inc()
		return record.Txn{}, errs.ErrNotFound
	}
	callsTotal.WithLabelValues("get", "ok").Inc()
	return live[0], nil
}

func logToTxn(l record.Log) record.Txn {
	return record.Txn{
		Kid: l.Kid,
		Tsv: l.Tsv,
		Pxn: l.Pxn,
		Cid: l.Cid,
		Uid: l.Uid,
		Rid: l.Rid,
		Ver: l.Ver,
		Met: l.Met,
		Dat: l.Dat,
		Idx: l.Idx,
	}
}

// FilterDeleted excludes any record whose tombstone timestamp is non-zero
// and strictly less than asOf (or "now" if asOf is the zero value), per
// spec.md section 4.5. The asymmetric comparison preserves the
// create-after-delete-after-prepare race detection described there.
func FilterDeleted(txns []record.Txn, asOf decimal.Decimal) []record.Txn {
	out := make([]record.Txn, 0, len(txns))
	for _, t := range txns {
		if t.IsDeleted(asOf) {
			continue
		}
		out = append(out, t)
	}
	return out
}
