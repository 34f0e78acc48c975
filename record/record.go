// Package record implements incline's two on-wire record shapes, LOG and
// TXN, per spec.md section 3. Grounded on
// original_source/incline/InclineRecord.py, generalizing its single
// dataclass into the two keyed-differently record kinds the spec
// describes, with dat carried as a value.Value tagged union instead of a
// bare Any.
package record

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/WrathOfChris/incline/index"
	"github.com/WrathOfChris/incline/meta"
	"github.com/WrathOfChris/incline/pxn"
	"github.com/WrathOfChris/incline/value"
)

// SchemaVersion is the current on-wire schema version (spec.md section 3
// invariant 5).
const SchemaVersion = 1

// Log is a prepare-phase record, keyed by (Kid, Pxn).
type Log struct {
	Kid string          `json:"kid"`
	Pxn pxn.PXN         `json:"pxn"`
	Tsv decimal.Decimal `json:"tsv"`
	Cid string          `json:"cid"`
	Uid string          `json:"uid"`
	Rid string          `json:"rid"`
	Ver int             `json:"ver"`
	Met meta.Set        `json:"met"`
	Dat value.Value     `json:"dat"`

	Idx map[string]index.Declaration `json:"-"`
}

// Txn is a commit-phase record, keyed by (Kid, Tsv). Tsv equals the
// originating Log's Tsv.
type Txn struct {
	Kid string          `json:"kid"`
	Tsv decimal.Decimal `json:"tsv"`
	Pxn pxn.PXN         `json:"pxn"`
	Tmb decimal.Decimal `json:"tmb"`
	Cid string          `json:"cid"`
	Uid string          `json:"uid"`
	Rid string          `json:"rid"`
	Org decimal.Decimal `json:"org"`
	Ver int             `json:"ver"`
	Met meta.Set        `json:"met"`
	Dat value.Value     `json:"dat"`

	Idx map[string]index.Declaration `json:"-"`
}

// IsDeleted reports whether the record is a tombstone as of asOf (or, if
// asOf is the zero value, as of right now). The comparison is strict
// (tmb < asOf, not <=): a record is still live at its own commit instant,
// per spec.md section 4.5's filter_deleted note on the create-after-
// delete-after-prepare race.
func (t Txn) IsDeleted(asOf decimal.Decimal) bool {
	if t.Tmb.IsZero() {
		return false
	}
	if asOf.IsZero() {
		return true
	}
	return t.Tmb.LessThan(asOf)
}

// String implements fmt.Stringer with the same terse form as
// InclineRecord.__str__/__format__.
func (l Log) String() string {
	return fmt.Sprintf("kid=%s tsv=%s pxn=%s", l.Kid, l.Tsv, l.Pxn)
}

// String implements fmt.Stringer with the same terse form as
// InclineRecord.__str__/__format__.
func (t Txn) String() string {
	return fmt.Sprintf("kid=%s tsv=%s pxn=%s", t.Kid, t.Tsv, t.Pxn)
}

// Indexes returns the declared secondary-index values for this record, in
// deterministic name order.
func (t Txn) Indexes() []index.Declaration {
	return sortedIndexes(t.Idx)
}

// Indexes returns the declared secondary-index values for this record, in
// deterministic name order.
func (l Log) Indexes() []index.Declaration {
	return sortedIndexes(l.Idx)
}

func sortedIndexes(m map[string]index.Declaration) []index.Declaration {
	if len(m) == 0 {
		return nil
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	// Insertion-order doesn't matter to callers; a plain insertion sort
	// keeps this dependency-free and the set is always small.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	out := make([]index.Declaration, 0, len(names))
	for _, name := range names {
		out = append(out, m[name])
	}
	return out
}

// remoteTxn is Txn's wire shape: all decimals and the PXN travel as
// strings, dat travels as whatever value.Value's own JSON codec produces.
// This mirrors InclineRecord.to_dict/from_dict.
type remoteTxn struct {
	Kid string            `json:"kid"`
	Tsv string            `json:"tsv"`
	Pxn string            `json:"pxn"`
	Tmb string            `json:"tmb"`
	Cid string            `json:"cid"`
	Uid string            `json:"uid"`
	Rid string            `json:"rid"`
	Org string            `json:"org"`
	Ver int               `json:"ver"`
	Met []map[string]string `json:"met"`
	Dat value.Value       `json:"dat"`
}

// ToRemote renders t in its wire shape.
func (t Txn) ToRemote() (map[string]any, error) {
	r := remoteTxn{
		Kid: t.Kid,
		Tsv: t.Tsv.String(),
		Pxn: t.Pxn.String(),
		Tmb: t.Tmb.String(),
		Cid: t.Cid,
		Uid: t.Uid,
		Rid: t.Rid,
		Org: t.Org.String(),
		Ver: t.Ver,
		Met: t.Met.ToDict(),
		Dat: t.Dat,
	}
	out := map[string]any{
		"kid": r.Kid,
		"tsv": r.Tsv,
		"pxn": r.Pxn,
		"tmb": r.Tmb,
		"cid": r.Cid,
		"uid": r.Uid,
		"rid": r.Rid,
		"org": r.Org,
		"ver": r.Ver,
		"met": r.Met,
		"dat": r.Dat,
	}
	for name, decl := range t.Idx {
		out["idx_"+name] = decl.Value
	}
	return out, nil
}

// TxnFromDict rebuilds a Txn from its wire map, the Go analog of
// InclineRecord.from_dict. Fields not present in val are left zero-valued.
func TxnFromDict(val map[string]any) (Txn, error) {
	var t Txn
	if kid, ok := val["kid"].(string); ok {
		t.Kid = kid
	}
	if s, ok := val["tsv"].(string); ok && s != "" {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return Txn{}, fmt.Errorf("record: bad tsv: %w", err)
		}
		t.Tsv = d
	}
	if s, ok := val["pxn"].(string); ok && s != "" {
		p, err := pxn.Parse(s)
		if err != nil {
			return Txn{}, fmt.Errorf("record: bad pxn: %w", err)
		}
		t.Pxn = p
	}
	if s, ok := val["tmb"].(string); ok && s != "" {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return Txn{}, fmt.Errorf("record: bad tmb: %w", err)
		}
		t.Tmb = d
	}
	if s, ok := val["cid"].(string); ok {
		t.Cid = s
	}
	if s, ok := val["uid"].(string); ok {
		t.Uid = s
	}
	if s, ok := val["rid"].(string); ok {
		t.Rid = s
	}
	if s, ok := val["org"].(string); ok && s != "" {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return Txn{}, fmt.Errorf("record: bad org: %w", err)
		}
		t.Org = d
	}
	if v, ok := val["ver"].(int); ok {
		t.Ver = v
	}
	if met, ok := val["met"]; ok {
		s, err := meta.FromDict(met)
		if err != nil {
			return Txn{}, err
		}
		t.Met = s
	}
	if dat, ok := val["dat"]; ok && dat != nil {
		if v, ok := dat.(value.Value); ok {
			t.Dat = v
		} else {
			t.Dat = value.FromGoRemote(dat)
		}
	}
	for k, v := range val {
		const prefix = "idx_"
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			name := k[len(prefix):]
			if t.Idx == nil {
				t.Idx = map[string]index.Declaration{}
			}
			vv, ok := v.(value.Value)
			if !ok {
				vv = value.FromGoRemote(v)
			}
			t.Idx[name] = index.Declaration{Name: name, Value: vv}
		}
	}
	return t, nil
}
