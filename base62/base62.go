// Package base62 implements fixed-alphabet integer <-> string encoding for
// incline identifiers (PXN's cid and cnt halves). It operates on
// arbitrary-precision integers so round trips hold for values far beyond
// a machine word, matching the original Python implementation's reliance
// on native bignums.
package base62

import (
	"math/big"
	"strings"
)

// Alphabet is the fixed 62-character digit set, ordered exactly as
// original_source/incline/base62.py's BASE_LIST: digits, then uppercase,
// then lowercase.
const Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

var base = big.NewInt(int64(len(Alphabet)))

var reverse = func() map[byte]int64 {
	m := make(map[byte]int64, len(Alphabet))
	for i := 0; i < len(Alphabet); i++ {
		m[Alphabet[i]] = int64(i)
	}
	return m
}()

// Encode returns the base62 representation of a non-negative integer.
// Encode panics if n is negative; identifiers in this system are never
// negative.
func Encode(n *big.Int) string {
	if n.Sign() < 0 {
		panic("base62: Encode of negative integer")
	}
	if n.Sign() == 0 {
		return string(Alphabet[0])
	}

	var (
		rem strings.Builder
		cur = new(big.Int).Set(n)
		mod = new(big.Int)
	)
	for cur.Sign() != 0 {
		cur.DivMod(cur, base, mod)
		rem.WriteByte(Alphabet[mod.Int64()])
	}

	// rem was built least-significant-digit first; reverse it.
	s := rem.String()
	out := make([]byte, len(s))
	for i := range s {
		out[len(s)-1-i] = s[i]
	}
	return string(out)
}

// EncodeInt64 is a convenience wrapper around Encode for machine-word
// sized counters such as a nanosecond timestamp.
func EncodeInt64(n int64) string {
	return Encode(big.NewInt(n))
}

// Decode parses a base62 string back into an arbitrary-precision integer.
// It returns an error if s contains a byte outside Alphabet.
func Decode(s string) (*big.Int, error) {
	ret := big.NewInt(0)
	for i := 0; i < len(s); i++ {
		digit, ok := reverse[s[i]]
		if !ok {
			return nil, &InvalidDigitError{Char: s[i], Input: s}
		}
		ret.Mul(ret, base)
		ret.Add(ret, big.NewInt(digit))
	}
	return ret, nil
}

// InvalidDigitError reports a byte that is not part of the base62
// alphabet encountered while decoding.
type InvalidDigitError struct {
	Char  byte
	Input string
}

func (e *InvalidDigitError) Error() string {
	return "base62: invalid digit '" + string(e.Char) + "' in " + e.Input
}

// Pad left-pads s with '0' to the given width. Strings already at or past
// width are returned unchanged, matching Python's str.rjust semantics.
func Pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
