// Package etcdstore implements driver.Driver over etcd, using its native
// transactional compare-and-swap to satisfy the conditional-create commit
// semantics of spec.md section 4.4 without a read-then-write race window.
// Key layout follows spec.md section 6 "Table layout": LOG keys are
// "<name>-log/<kid>/<pxn>", TXN keys are "<name>-txn/<kid>/<tsv>", with an
// additional "<name>-txn-idx-<indexname>/<value>/<kid>" pointer key per
// declared index. Grounded on estuary-flow's go/flow package for the
// clientv3.Txn().If(Compare(...)) idiom, and on
// original_source/incline/InclineDatastoreDynamo.py for the conditional
// create semantics being ported.
package etcdstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/WrathOfChris/incline/driver"
	"github.com/WrathOfChris/incline/errs"
	"github.com/WrathOfChris/incline/record"
)

// Driver is a driver.Driver backed by an etcd cluster.
type Driver struct {
	etcd *clientv3.Client
	name string
	loc  string
}

var _ driver.Driver = (*Driver)(nil)

// New constructs a Driver at canonical location string loc, named name
// (the logical dataset, used as the etcd key prefix), backed by etcd.
func New(etcd *clientv3.Client, name, loc string) *Driver {
	return &Driver{etcd: etcd, name: name, loc: loc}
}

func (d *Driver) Location() string { return d.loc }

func (d *Driver) logPrefix(kid string) string {
	return fmt.Sprintf("%s-log/%s/", d.name, kid)
}

func (d *Driver) logKey(kid, pxn string) string {
	return d.logPrefix(kid) + pxn
}

func (d *Driver) txnPrefix(kid string) string {
	return fmt.Sprintf("%s-txn/%s/", d.name, kid)
}

func (d *Driver) txnKey(kid, tsv string) string {
	return d.txnPrefix(kid) + tsv
}

func (d *Driver) idxKey(name string, value any, kid string) string {
	return fmt.Sprintf("%s-txn-idx-%s/%v/%s", d.name, name, value, kid)
}

// liveKey is a stable per-kid pointer, present iff kid currently has a
// live (non-tombstoned) TXN. Unlike a TXN key, which is freshly minted
// every commit under that commit's own tsv, this key's CreateRevision is
// meaningful to compare against: it is zero only when no live commit has
// ever claimed kid, and any concurrent create race is resolved by etcd's
// single atomic Txn.
func (d *Driver) liveKey(kid string) string {
	return fmt.Sprintf("%s-live/%s", d.name, kid)
}

func (d *Driver) GetLog(ctx context.Context, kid, pxn string) ([]record.Log, error) {
	if pxn != "" {
		resp, err := d.etcd.Get(ctx, d.logKey(kid, pxn))
		if err != nil {
			return nil, fmt.Errorf("%w: etcd get log: %v", errs.ErrDataError, err)
		}
		if len(resp.Kvs) == 0 {
			return nil, nil
		}
		l, err := unmarshalLog(resp.Kvs[0].Value)
		if err != nil {
			return nil, err
		}
		return []record.Log{l}, nil
	}

	resp, err := d.etcd.Get(ctx, d.logPrefix(kid), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("%w: etcd get log: %v", errs.ErrDataError, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}

	var logs []record.Log
	for _, kv := range resp.Kvs {
		l, err := unmarshalLog(kv.Value)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	sort.Slice(logs, func(i, j int) bool { return logs[j].Pxn.Cnt < logs[i].Pxn.Cnt })
	return []record.Log{logs[0]}, nil
}

func (d *Driver) GetTxn(ctx context.Context, kid, tsv string, limit int) ([]record.Txn, error) {
	resp, err := d.etcd.Get(ctx, d.txnPrefix(kid), clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortDescend))
	if err != nil {
		return nil, fmt.Errorf("%w: etcd get txn: %v", errs.ErrDataError, err)
	}

	var out []record.Txn
	for _, kv := range resp.Kvs {
		key := string(kv.Key)
		keyTsv := key[strings.LastIndex(key, "/")+1:]
		if tsv != "" && keyTsv > tsv {
			continue
		}
		t, err := unmarshalTxn(kv.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (d *Driver) Prepare(ctx context.Context, l record.Log) (record.Log, error) {
	b, err := json.Marshal(l)
	if err != nil {
		return record.Log{}, fmt.Errorf("%w: marshal log: %v", errs.ErrDataError, err)
	}
	if _, err := d.etcd.Put(ctx, d.logKey(l.Kid, l.Pxn.String()), string(b)); err != nil {
		return record.Log{}, fmt.Errorf("%w: etcd put log: %v", errs.ErrDataError, err)
	}
	return l, nil
}

func (d *Driver) Commit(ctx context.Context, l record.Log, mode driver.CommitMode) (record.Txn, error) {
	prior, err := d.newestTxn(ctx, l.Kid)
	if err != nil {
		return record.Txn{}, err
	}

	var orgTsv = zeroDecimalString
	live := false
	if prior != nil {
		orgTsv = prior.Tsv.String()
		live = !prior.IsDeleted(l.Tsv)
	}

	tmb := zeroDecimalString
	if l.Dat.IsNull() {
		tmb = l.Tsv.String()
	}

	org := orgTsv
	if mode == driver.CommitRefresh && prior != nil {
		org = prior.Org.String()
	}

	txn := record.Txn{
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
	if tmb != zeroDecimalString {
		txn.Tmb = l.Tsv
	}
	if org != zeroDecimalString {
		if org == orgTsv && prior != nil {
			txn.Org = prior.Tsv
		} else if prior != nil {
			txn.Org = prior.Org
		}
	}

	b, err := json.Marshal(txn)
	if err != nil {
		return record.Txn{}, fmt.Errorf("%w: marshal txn: %v", errs.ErrDataError, err)
	}

	key := d.txnKey(l.Kid, l.Tsv.String())
	livePtr := d.liveKey(l.Kid)
	ops := []clientv3.Op{clientv3.OpPut(key, string(b))}
	for name, decl := range l.Idx {
		ops = append(ops, clientv3.OpPut(d.idxKey(name, decl.Value.ToLocal(), l.Kid), key))
	}
	if tmb != zeroDecimalString {
		ops = append(ops, clientv3.OpDelete(livePtr))
	} else {
		ops = append(ops, clientv3.OpPut(livePtr, key))
	}

	if mode == driver.CommitCreate {
		if live {
			return record.Txn{}, errs.ErrExists
		}
		// Guard against a racing create between our read and this write by
		// asserting, inside the same atomic transaction, that kid's live
		// pointer still does not exist.
		cmp := clientv3.Compare(clientv3.CreateRevision(livePtr), "=", 0)
		txnResp, err := d.etcd.Txn(ctx).If(cmp).Then(ops...).Commit()
		if err != nil {
			return record.Txn{}, fmt.Errorf("%w: etcd txn commit: %v", errs.ErrDataError, err)
		}
		if !txnResp.Succeeded {
			return record.Txn{}, errs.ErrExists
		}
		return txn, nil
	}

	if _, err := d.etcd.Txn(ctx).Then(ops...).Commit(); err != nil {
		return record.Txn{}, fmt.Errorf("%w: etcd txn commit: %v", errs.ErrDataError, err)
	}
	return txn, nil
}

const zeroDecimalString = "0"

func (d *Driver) newestTxn(ctx context.Context, kid string) (*record.Txn, error) {
	resp, err := d.etcd.Get(ctx, d.txnPrefix(kid), clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortDescend), clientv3.WithLimit(1))
	if err != nil {
		return nil, fmt.Errorf("%w: etcd get txn: %v", errs.ErrDataError, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	t, err := unmarshalTxn(resp.Kvs[0].Value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (d *Driver) ScanLog(ctx context.Context, filter driver.ScanFilter) ([]driver.KidPxn, error) {
	prefix := d.name + "-log/"
	if filter.Kid != "" {
		prefix = d.logPrefix(filter.Kid)
	}
	resp, err := d.etcd.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("%w: etcd scan log: %v", errs.ErrDataError, err)
	}
	var out []driver.KidPxn
	for _, kv := range resp.Kvs {
		kid, p, ok := splitTwo(string(kv.Key), d.name+"-log/")
		if !ok {
			continue
		}
		out = append(out, driver.KidPxn{Kid: kid, Pxn: p})
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (d *Driver) ScanTxn(ctx context.Context, filter driver.ScanFilter) ([]driver.KidTsv, error) {
	prefix := d.name + "-txn/"
	if filter.Kid != "" {
		prefix = d.txnPrefix(filter.Kid)
	}
	resp, err := d.etcd.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("%w: etcd scan txn: %v", errs.ErrDataError, err)
	}
	var out []driver.KidTsv
	for _, kv := range resp.Kvs {
		kid, tsv, ok := splitTwo(string(kv.Key), d.name+"-txn/")
		if !ok {
			continue
		}
		out = append(out, driver.KidTsv{Kid: kid, Tsv: tsv})
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func splitTwo(key, prefix string) (first, second string, ok bool) {
	rest := strings.TrimPrefix(key, prefix)
	if rest == key {
		return "", "", false
	}
	i := strings.Index(rest, "/")
	if i < 0 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

func (d *Driver) DeleteLog(ctx context.Context, kid, pxn string) error {
	resp, err := d.etcd.Delete(ctx, d.logKey(kid, pxn))
	if err != nil {
		return fmt.Errorf("%w: etcd delete log: %v", errs.ErrDataError, err)
	}
	if resp.Deleted == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (d *Driver) DeleteTxn(ctx context.Context, kid, tsv string) error {
	resp, err := d.etcd.Delete(ctx, d.txnKey(kid, tsv))
	if err != nil {
		return fmt.Errorf("%w: etcd delete txn: %v", errs.ErrDataError, err)
	}
	if resp.Deleted == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (d *Driver) GetIndex(ctx context.Context, name string, value any) ([]record.Txn, error) {
	prefix := fmt.Sprintf("%s-txn-idx-%s/%v/", d.name, name, value)
	resp, err := d.etcd.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("%w: etcd get index: %v", errs.ErrDataError, err)
	}

	var out []record.Txn
	for _, kv := range resp.Kvs {
		pointed, err := d.etcd.Get(ctx, string(kv.Value))
		if err != nil {
			return nil, fmt.Errorf("%w: etcd follow index pointer: %v", errs.ErrDataError, err)
		}
		if len(pointed.Kvs) == 0 {
			log.WithField("index", name).Warn("etcdstore: index pointer dangling, skipping")
			continue
		}
		t, err := unmarshalTxn(pointed.Kvs[0].Value)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func unmarshalLog(data []byte) (record.Log, error) {
	var l record.Log
	if err := json.Unmarshal(data, &l); err != nil {
		return record.Log{}, fmt.Errorf("%w: unmarshal log: %v", errs.ErrDataError, err)
	}
	return l, nil
}

func unmarshalTxn(data []byte) (record.Txn, error) {
	var t record.Txn
	if err := json.Unmarshal(data, &t); err != nil {
		return record.Txn{}, fmt.Errorf("%w: unmarshal txn: %v", errs.ErrDataError, err)
	}
	return t, nil
}
