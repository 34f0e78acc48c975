// Package pxn implements incline's prepare-transaction identifiers (PXN)
// and the monotonic clock that produces them. See
// original_source/incline/InclinePrepare.py for the Python implementation
// this package is a Go-native rewrite of.
package pxn

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/WrathOfChris/incline/base62"
)

const (
	// cidWidth is the left-padded width of a PXN's client-id half, per
	// spec.md section 3 ("base62(cid).rjust(9)").
	cidWidth = 9
	// cntWidth is the left-padded width of a PXN's counter half.
	cntWidth = 11
	// quantize is the number of decimal places a TSV is rounded to.
	quantize = 6
)

// PXN is a compound prepare-transaction id: a monotonic counter paired
// with a client id. PXNs from the same client form a strict total order
// matching call order; across clients, order is by counter first, then
// client id.
type PXN struct {
	Cnt int64
	Cid string
}

// String renders the canonical form: base62(cid), left-padded to 9
// characters, a literal '.', then base62(cnt) left-padded to 11
// characters.
func (p PXN) String() string {
	return fmt.Sprintf("%s.%s",
		base62.Pad(p.Cid, cidWidth),
		base62.Pad(base62.EncodeInt64(p.Cnt), cntWidth))
}

// IsZero reports whether p is the zero-value PXN, used as the sentinel
// "no prepare" metadata value (spec.md section 4.4's meta() default pxn='0').
func (p PXN) IsZero() bool {
	return p.Cnt == 0 && p.Cid == ""
}

// MarshalJSON renders p as its canonical string form.
func (p PXN) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON parses p from its canonical string form.
func (p *PXN) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*p = PXN{}
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Parse recovers a PXN from its canonical string form. The '0' padding
// that String adds to the client id is stripped again.
func Parse(s string) (PXN, error) {
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 {
		return PXN{}, fmt.Errorf("pxn: malformed %q: expected <cid>.<cnt>", s)
	}
	cnt, err := base62.Decode(parts[1])
	if err != nil {
		return PXN{}, fmt.Errorf("pxn: malformed counter in %q: %w", s, err)
	}
	return PXN{Cnt: cnt.Int64(), Cid: strings.TrimLeft(parts[0], "0")}, nil
}

// Compare implements PXN's total order: counter first, client id as a
// string tie-break. It returns -1, 0, or 1 the way bytes.Compare does.
func Compare(a, b PXN) int {
	switch {
	case a.Cnt < b.Cnt:
		return -1
	case a.Cnt > b.Cnt:
		return 1
	}
	return strings.Compare(a.Cid, b.Cid)
}

// Less reports whether a strictly precedes b in PXN total order.
func Less(a, b PXN) bool {
	return Compare(a, b) < 0
}

// Clock is a process-wide monotonic source of TSVs (quantized timestamps)
// and PXNs. Successive calls to Now strictly increase; if the wall clock
// does not advance between calls, the previous TSV plus one microsecond is
// returned instead. A Clock is safe for concurrent use.
type Clock struct {
	mu      sync.Mutex
	cid     string
	lastTSV decimal.Decimal
	lastCnt int64
}

// NewClock constructs a Clock. If cid is empty, the client id defaults to
// this host's hardware MAC address (via uuid.NodeID) base62-encoded, or a
// random 48-bit value if no MAC is available — the Go analog of the
// original's uuid.getnode() fallback.
func NewClock(cid string) *Clock {
	if cid == "" {
		cid = defaultClientID()
	}
	return &Clock{cid: cid}
}

// CID returns this clock's client id.
func (c *Clock) CID() string {
	return c.cid
}

// Now returns a strictly increasing, 6-decimal quantized timestamp.
func (c *Clock) Now() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowLocked()
}

func (c *Clock) nowLocked() decimal.Decimal {
	now := Quantize(decimal.New(time.Now().UnixNano(), -9))
	if !now.GreaterThan(c.lastTSV) {
		now = c.lastTSV.Add(decimal.New(1, -quantize))
	}
	c.lastTSV = now
	return now
}

// Cnt returns a strictly increasing nanosecond-resolution counter,
// independent of the TSV clock, per spec.md section 4.1 ("cnt() mirrors
// this using nanosecond integers").
func (c *Clock) Cnt() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UnixNano()
	if now <= c.lastCnt {
		now = c.lastCnt + 1
	}
	c.lastCnt = now
	return now
}

// Next allocates a fresh PXN strictly greater than every PXN previously
// returned by this Clock.
func (c *Clock) Next() PXN {
	return PXN{Cnt: c.Cnt(), Cid: c.cid}
}

// Quantize normalizes a decimal value to 6 decimal places, matching
// InclinePrepare.decimal()'s rounding of both timestamps and coerced
// float payload values.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.Round(quantize)
}

func defaultClientID() string {
	if node := uuid.NodeID(); len(node) == 6 && !isZeroBytes(node) {
		return base62.EncodeInt64(macToInt64(node))
	}
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err == nil {
		return base62.EncodeInt64(macToInt64(buf[:]))
	}
	return base62.EncodeInt64(time.Now().UnixNano())
}

func isZeroBytes(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func macToInt64(mac []byte) int64 {
	var v int64
	for _, b := range mac {
		v = v<<8 | int64(b)
	}
	return v
}
