package client

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WrathOfChris/incline/coordinator"
	"github.com/WrathOfChris/incline/driver"
	"github.com/WrathOfChris/incline/driver/memory"
	"github.com/WrathOfChris/incline/errs"
	"github.com/WrathOfChris/incline/meta"
	"github.com/WrathOfChris/incline/pxn"
	"github.com/WrathOfChris/incline/router"
	"github.com/WrathOfChris/incline/value"
)

func pxnEqual(a, b pxn.PXN) bool {
	return pxn.Compare(a, b) == 0
}

// partitionedRouter routes each kid to its own fixed set of locations,
// letting tests place different keys on different drivers.
type partitionedRouter struct {
	locs map[string][]string
}

func (r partitionedRouter) Lookup(_ router.Action, kid string) []string {
	return r.locs[kid]
}

func newMemoryClient(t *testing.T, rt router.Router) (*Client, map[string]*memory.Store) {
	t.Helper()
	stores := make(map[string]*memory.Store)
	open := func(_ context.Context, location string) (driver.Driver, error) {
		if stores[location] == nil {
			stores[location] = memory.NewStore()
		}
		return memory.New(location, stores[location]), nil
	}
	c, err := New(Options{Router: rt, Open: open, Cid: "test-client"})
	require.NoError(t, err)
	return c, stores
}

func TestPutAtomicThenGetBothKeys(t *testing.T) {
	rt := partitionedRouter{locs: map[string][]string{
		"a": {"memory|local|A"},
		"b": {"memory|local|B"},
	}}
	c, _ := newMemoryClient(t, rt)
	ctx := context.Background()

	res, err := c.Puts(ctx, []Item{
		{Kid: "a", Dat: value.Str("one")},
		{Kid: "b", Dat: value.Str("two")},
	})
	require.NoError(t, err)
	assert.Len(t, res.Data, 2)

	vals, maxPxn, err := c.Get(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.True(t, pxnEqual(maxPxn, res.Pxn))

	av, ok := vals["a"].Dat.AsString()
	require.True(t, ok)
	assert.Equal(t, "one", av)

	bv, ok := vals["b"].Dat.AsString()
	require.True(t, ok)
	assert.Equal(t, "two", bv)

	for _, w := range vals["a"].Met.Writes {
		if w.Kid == "b" {
			assert.True(t, pxnEqual(w.Pxn, res.Pxn))
		}
	}
}

func TestCreateTwiceFailsThroughClient(t *testing.T) {
	rt := partitionedRouter{locs: map[string][]string{"k": {"memory|local|A"}}}
	c, _ := newMemoryClient(t, rt)
	ctx := context.Background()

	_, err := c.Create(ctx, "k", value.Int(1))
	require.NoError(t, err)

	_, err = c.Create(ctx, "k", value.Int(2))
	assert.ErrorIs(t, err, errs.ErrExists)
}

func TestDeleteThenGetNotFound(t *testing.T) {
	rt := partitionedRouter{locs: map[string][]string{"k": {"memory|local|A"}}}
	c, _ := newMemoryClient(t, rt)
	ctx := context.Background()

	_, err := c.Put(ctx, "k", value.Str("x"))
	require.NoError(t, err)

	_, err = c.Delete(ctx, "k")
	require.NoError(t, err)

	_, _, err = c.Get(ctx, []string{"k"})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

// TestGetReadAtomicRepair reproduces spec.md section 8's read-atomic
// repair scenario directly at the driver/coordinator level: a LOG entry
// for "b" exists at a newer PXN than b's committed TXN (simulating a
// replica that saw the prepare but not yet the commit), while "a" has
// already committed at that PXN and references "b" in its write-set.
// client.Get must pull "b" forward to the LOG value rather than returning
// the stale committed TXN.
func TestGetReadAtomicRepair(t *testing.T) {
	const locA = "memory|local|A"
	const locB = "memory|local|B"

	storeA := memory.NewStore()
	storeB := memory.NewStore()
	driverA := memory.New(locA, storeA)
	driverB := memory.New(locB, storeB)
	clock := pxn.NewClock("writer")

	coordA := coordinator.New(driverA, clock, "u1", "r1", nil)
	coordB := coordinator.New(driverB, clock, "u1", "r1", nil)
	ctx := context.Background()

	p1 := clock.Next()
	_, err := coordB.Prepare(ctx, "b", p1, meta.Set{}, value.Str("b-old"))
	require.NoError(t, err)
	_, err = coordB.Commit(ctx, "b", p1, driver.CommitCreate)
	require.NoError(t, err)

	p2 := clock.Next()
	var wsA meta.Set
	wsA.Add(meta.Write{Kid: "b", Loc: locB, Pxn: p2})
	_, err = coordA.Prepare(ctx, "a", p2, wsA, value.Str("a-new"))
	require.NoError(t, err)
	_, err = coordA.Commit(ctx, "a", p2, driver.CommitCreate)
	require.NoError(t, err)

	// b's prepare for p2 lands (the write was visible to the writer) but
	// its commit never arrives at this replica.
	var wsB meta.Set
	wsB.Add(meta.Write{Kid: "a", Loc: locA, Pxn: p2})
	_, err = coordB.Prepare(ctx, "b", p2, wsB, value.Str("b-new"))
	require.NoError(t, err)

	rt := partitionedRouter{locs: map[string][]string{"a": {locA}, "b": {locB}}}
	open := func(_ context.Context, location string) (driver.Driver, error) {
		switch location {
		case locA:
			return driverA, nil
		case locB:
			return driverB, nil
		}
		return nil, errs.ErrInterface
	}
	c, err := New(Options{Router: rt, Open: open})
	require.NoError(t, err)

	vals, maxPxn, err := c.Get(ctx, []string{"a", "b"})
	require.NoError(t, err)

	bv, ok := vals["b"].Dat.AsString()
	require.True(t, ok)
	assert.Equal(t, "b-new", bv, "repair round should pull b forward to its LOG entry at p2")
	assert.True(t, pxnEqual(vals["b"].Pxn, p2))
	assert.True(t, pxnEqual(maxPxn, p2))
}

func TestPutPreservesValueKinds(t *testing.T) {
	rt := partitionedRouter{locs: map[string][]string{"k": {"memory|local|A"}}}
	c, _ := newMemoryClient(t, rt)
	ctx := context.Background()

	original := value.Map(map[string]value.Value{
		"count":   value.FromGoRemote(int64(5)),
		"price":   value.FromGoRemote(3.14),
		"name":    value.Str("widget"),
		"active":  value.Bool(true),
		"missing": value.Null(),
		"tags":    value.List(value.Str("a"), value.Str("b")),
	})

	_, err := c.Put(ctx, "k", original)
	require.NoError(t, err)

	vals, _, err := c.Get(ctx, []string{"k"})
	require.NoError(t, err)

	got := vals["k"].Dat
	assert.True(t, value.Equal(original, got))

	m, ok := got.AsMap()
	require.True(t, ok)

	count := m["count"].ToLocal()
	assert.Equal(t, int64(5), count)

	price := m["price"].ToLocal()
	assert.Equal(t, 3.14, price)
}

func TestHistoryReturnsNewestFirstBoundedByLimit(t *testing.T) {
	rt := partitionedRouter{locs: map[string][]string{"k": {"memory|local|A"}}}
	c, _ := newMemoryClient(t, rt)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.Put(ctx, "k", value.Int(int64(i)))
		require.NoError(t, err)
	}

	hist, err := c.History(ctx, "k", decimal.Decimal{}, 2)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.True(t, hist[0].Tsv.GreaterThan(hist[1].Tsv))
}
