// Package meta implements the write-set metadata embedded in a committed
// record: the list of (kid, loc, pxn) triples describing every sibling
// key this record's transaction touched. A read-atomic Get uses this list
// to detect and repair partial commits across partitions, per spec.md
// section 4.6. Grounded on original_source/incline/InclineMeta.py.
package meta

import (
	"encoding/json"
	"errors"

	"github.com/WrathOfChris/incline/pxn"
)

// Write is one entry in a record's write-set: the key, the location
// (partition/driver) it lives at, and the PXN the transaction prepared
// it under.
type Write struct {
	Kid string
	Loc string
	Pxn pxn.PXN
}

// wireWrite is Write's JSON wire shape: pxn travels as its canonical
// string form, matching InclineMetaWrite.to_dict/from_dict.
type wireWrite struct {
	Kid string `json:"kid"`
	Loc string `json:"loc"`
	Pxn string `json:"pxn"`
}

func (w Write) toWire() wireWrite {
	return wireWrite{Kid: w.Kid, Loc: w.Loc, Pxn: w.Pxn.String()}
}

func (w wireWrite) toWrite() (Write, error) {
	p, err := pxn.Parse(w.Pxn)
	if err != nil {
		return Write{}, err
	}
	return Write{Kid: w.Kid, Loc: w.Loc, Pxn: p}, nil
}

// MarshalJSON renders w as {kid, loc, pxn} with pxn in canonical string form.
func (w Write) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.toWire())
}

// UnmarshalJSON parses w from its {kid, loc, pxn} wire shape.
func (w *Write) UnmarshalJSON(data []byte) error {
	var wire wireWrite
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	got, err := wire.toWrite()
	if err != nil {
		return err
	}
	*w = got
	return nil
}

// Set is the ordered write-set of a transaction: one Write per key the
// transaction prepared, across every partition it touched.
type Set struct {
	Writes []Write
}

// Add appends w to the write-set.
func (s *Set) Add(w Write) {
	s.Writes = append(s.Writes, w)
}

// ForKid returns the Write naming kid, if the write-set contains one.
func (s Set) ForKid(kid string) (Write, bool) {
	for _, w := range s.Writes {
		if w.Kid == kid {
			return w, true
		}
	}
	return Write{}, false
}

// MarshalJSON renders the write-set as a bare JSON array of {kid, loc,
// pxn} objects, matching InclineMeta.to_dict's list shape.
func (s Set) MarshalJSON() ([]byte, error) {
	if s.Writes == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Writes)
}

// UnmarshalJSON parses a write-set from a bare JSON array, or from a
// single object (one write), mirroring InclineMeta.from_dict's tolerance
// for a bare dict.
func (s *Set) UnmarshalJSON(data []byte) error {
	var arr []Write
	if err := json.Unmarshal(data, &arr); err == nil {
		s.Writes = arr
		return nil
	}
	var one Write
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	s.Writes = []Write{one}
	return nil
}

// ToDict renders the write-set as its wire representation: a slice of
// {kid, loc, pxn} maps, matching InclineMeta.to_dict.
func (s Set) ToDict() []map[string]string {
	out := make([]map[string]string, 0, len(s.Writes))
	for _, w := range s.Writes {
		wire := w.toWire()
		out = append(out, map[string]string{
			"kid": wire.Kid,
			"loc": wire.Loc,
			"pxn": wire.Pxn,
		})
	}
	return out
}

// FromDict populates a write-set from its wire representation. It accepts
// either a single map (one write) or a slice of maps, mirroring
// InclineMeta.from_dict's tolerance for a bare dict.
func FromDict(val any) (Set, error) {
	var raw []map[string]string
	switch v := val.(type) {
	case nil:
		return Set{}, nil
	case map[string]string:
		raw = []map[string]string{v}
	case []map[string]string:
		raw = v
	default:
		return Set{}, errUnsupportedMeta
	}

	var s Set
	for _, m := range raw {
		wire := wireWrite{Kid: m["kid"], Loc: m["loc"], Pxn: m["pxn"]}
		w, err := wire.toWrite()
		if err != nil {
			return Set{}, err
		}
		s.Add(w)
	}
	return s, nil
}

var errUnsupportedMeta = errors.New("meta: FromDict requires map[string]string or []map[string]string")
