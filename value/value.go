// Package value implements the tagged-union payload tree that flows
// through incline as a record's dat (and a metadata entry's scalar
// fields). Backends such as the etcd driver require fixed-precision
// numbers; Go callers want native ints/floats back. Value carries both
// representations through one type so the remote/local coercion described
// in spec.md section 9 is total rather than an ad-hoc walk of
// interface{}.
package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Kind discriminates the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindDecimal
	KindString
	KindList
	KindMap
)

// Value is a closed sum type over Null, Bool, Int64, Decimal, String,
// List, and Map, mirroring spec.md section 9's tagged-variant design note.
type Value struct {
	kind Kind
	b    bool
	i    int64
	d    decimal.Decimal
	s    string
	list []Value
	m    map[string]Value
}

// Null returns the null Value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps a machine integer.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Dec wraps a fixed-precision decimal.
func Dec(d decimal.Decimal) Value { return Value{kind: KindDecimal, d: d} }

// Str wraps a string.
func Str(s string) Value { return Value{kind: KindString, s: s} }

// List wraps an ordered sequence of values.
func List(items ...Value) Value {
	return Value{kind: KindList, list: append([]Value(nil), items...)}
}

// Map wraps a string-keyed collection of values.
func Map(fields map[string]Value) Value {
	cp := make(map[string]Value, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Value{kind: KindMap, m: cp}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool)          { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool)          { return v.i, v.kind == KindInt }
func (v Value) AsDecimal() (decimal.Decimal, bool) { return v.d, v.kind == KindDecimal }
func (v Value) AsString() (string, bool)      { return v.s, v.kind == KindString }
func (v Value) AsList() ([]Value, bool)       { return v.list, v.kind == KindList }
func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.kind == KindMap }

// Get returns the field named key from a Map Value, and whether it was
// present. Get on a non-Map Value always returns (Null(), false).
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Null(), false
	}
	val, ok := v.m[key]
	return val, ok
}

// Equal reports deep structural equality, used by the client's verify()
// to detect replica disagreement (spec.md section 4.6.3).
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindInt:
		return a.i == b.i
	case KindDecimal:
		return a.d.Equal(b.d)
	case KindString:
		return a.s == b.s
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.m) != len(b.m) {
			return false
		}
		for k, av := range a.m {
			bv, ok := b.m[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// FromGoRemote converts a native Go value (as produced by encoding/json
// unmarshal into interface{}, or hand-built map[string]any/[]any/etc.)
// into a Value tree, promoting every float64 to a 6-decimal Decimal. This
// is the "numbers to remote" half of spec.md section 4.2/9: backends that
// reject floating point receive only Decimal, Int, and the other variants.
func FromGoRemote(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float64:
		return Dec(quantize6(decimal.NewFromFloat(t)))
	case decimal.Decimal:
		return Dec(quantize6(t))
	case string:
		return Str(t)
	case []any:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = FromGoRemote(e)
		}
		return List(items...)
	case []Value:
		return List(t...)
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, e := range t {
			fields[k] = FromGoRemote(e)
		}
		return Map(fields)
	default:
		return Str(fmt.Sprintf("%v", t))
	}
}

func quantize6(d decimal.Decimal) decimal.Decimal {
	return d.Round(6)
}

// ToLocal converts a Value tree back to native Go types for the caller:
// integer-valued decimals demote to int64, fractional decimals demote to
// float64, matching InclineDatastore.numbers_to_local.
func (v Value) ToLocal() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindDecimal:
		if v.d.Exponent() >= 0 || v.d.Equal(v.d.Truncate(0)) {
			return v.d.IntPart()
		}
		f, _ := v.d.Float64()
		return f
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.ToLocal()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.ToLocal()
		}
		return out
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindInt:
		return json.Marshal(v.i)
	case KindDecimal:
		// A bare JSON number, so UnmarshalJSON decodes it back to Decimal.
		return []byte(v.d.String()), nil
	case KindString:
		return json.Marshal(v.s)
	case KindList:
		return json.Marshal(v.list)
	case KindMap:
		// Sort keys for deterministic output (snapshot tests, wire
		// stability) without relying on map iteration order.
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte("{")
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			vb, err := json.Marshal(v.m[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	}
	return nil, fmt.Errorf("value: unknown kind %d", v.kind)
}

// UnmarshalJSON implements json.Unmarshaler, decoding numbers as Decimal
// so remote precision is never lost on the way in.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = fromJSONAny(raw)
	return nil
}

func fromJSONAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case json.Number:
		if d, err := decimal.NewFromString(t.String()); err == nil {
			return Dec(d)
		}
		return Str(t.String())
	case string:
		return Str(t)
	case []any:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = fromJSONAny(e)
		}
		return List(items...)
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, e := range t {
			fields[k] = fromJSONAny(e)
		}
		return Map(fields)
	}
	return Null()
}
