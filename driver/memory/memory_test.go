package memory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WrathOfChris/incline/driver"
	"github.com/WrathOfChris/incline/errs"
	"github.com/WrathOfChris/incline/pxn"
	"github.com/WrathOfChris/incline/record"
	"github.com/WrathOfChris/incline/value"
)

func mkLog(kid string, p pxn.PXN, tsv decimal.Decimal, dat value.Value) record.Log {
	return record.Log{Kid: kid, Pxn: p, Tsv: tsv, Dat: dat, Ver: record.SchemaVersion}
}

// TestCreateGet is scenario 1 from spec.md section 8.
func TestCreateGet(t *testing.T) {
	ctx := context.Background()
	d := New("memory|local|t", nil)

	p := pxn.PXN{Cnt: 1, Cid: "c1"}
	log := mkLog("k", p, decimal.NewFromInt(100), value.Map(map[string]value.Value{"v": value.Int(1)}))

	_, err := d.Prepare(ctx, log)
	require.NoError(t, err)

	txn, err := d.Commit(ctx, log, driver.CommitCreate)
	require.NoError(t, err)
	assert.Equal(t, "k", txn.Kid)

	got, err := d.GetTxn(ctx, "k", "", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Tsv.Equal(txn.Tsv))
}

// TestCreateTwiceFails is scenario 2.
func TestCreateTwiceFails(t *testing.T) {
	ctx := context.Background()
	d := New("memory|local|t", nil)

	p1 := pxn.PXN{Cnt: 1, Cid: "c1"}
	log1 := mkLog("k", p1, decimal.NewFromInt(100), value.Map(nil))
	_, err := d.Prepare(ctx, log1)
	require.NoError(t, err)
	_, err = d.Commit(ctx, log1, driver.CommitCreate)
	require.NoError(t, err)

	p2 := pxn.PXN{Cnt: 2, Cid: "c1"}
	log2 := mkLog("k", p2, decimal.NewFromInt(200), value.Map(nil))
	_, err = d.Prepare(ctx, log2)
	require.NoError(t, err)
	_, err = d.Commit(ctx, log2, driver.CommitCreate)
	assert.ErrorIs(t, err, errs.ErrExists)
}

// TestCreateDeleteCreate is scenario 3.
func TestCreateDeleteCreate(t *testing.T) {
	ctx := context.Background()
	d := New("memory|local|t", nil)

	p1 := pxn.PXN{Cnt: 1, Cid: "c1"}
	log1 := mkLog("k", p1, decimal.NewFromInt(100), value.Map(nil))
	_, err := d.Prepare(ctx, log1)
	require.NoError(t, err)
	t1, err := d.Commit(ctx, log1, driver.CommitCreate)
	require.NoError(t, err)

	p2 := pxn.PXN{Cnt: 2, Cid: "c1"}
	log2 := mkLog("k", p2, decimal.NewFromInt(200), value.Null())
	_, err = d.Prepare(ctx, log2)
	require.NoError(t, err)
	t2, err := d.Commit(ctx, log2, driver.CommitDelete)
	require.NoError(t, err)
	assert.True(t, t2.Tsv.GreaterThan(t1.Tsv))
	assert.True(t, t2.Tmb.Equal(t2.Tsv))

	p3 := pxn.PXN{Cnt: 3, Cid: "c1"}
	log3 := mkLog("k", p3, decimal.NewFromInt(300), value.Map(map[string]value.Value{"v": value.Int(2)}))
	_, err = d.Prepare(ctx, log3)
	require.NoError(t, err)
	t3, err := d.Commit(ctx, log3, driver.CommitCreate)
	require.NoError(t, err)
	assert.True(t, t3.Tsv.GreaterThan(t2.Tsv))

	got, err := d.GetTxn(ctx, "k", "", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Tsv.Equal(t3.Tsv))
}

// TestDeleteGet is scenario 4: GetTxn still returns the tombstone (driver
// layer has no notion of "not found" for a tombstone — filtering happens
// at the coordinator, per spec.md section 4.5 filter_deleted).
func TestDeleteGet(t *testing.T) {
	ctx := context.Background()
	d := New("memory|local|t", nil)

	p1 := pxn.PXN{Cnt: 1, Cid: "c1"}
	log1 := mkLog("k", p1, decimal.NewFromInt(100), value.Map(nil))
	_, err := d.Prepare(ctx, log1)
	require.NoError(t, err)
	_, err = d.Commit(ctx, log1, driver.CommitCreate)
	require.NoError(t, err)

	p2 := pxn.PXN{Cnt: 2, Cid: "c1"}
	log2 := mkLog("k", p2, decimal.NewFromInt(200), value.Null())
	_, err = d.Prepare(ctx, log2)
	require.NoError(t, err)
	tomb, err := d.Commit(ctx, log2, driver.CommitDelete)
	require.NoError(t, err)

	got, err := d.GetTxn(ctx, "k", "", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsDeleted(tomb.Tsv.Add(decimal.NewFromInt(1))))
}

func TestGetLogByPxn(t *testing.T) {
	ctx := context.Background()
	d := New("memory|local|t", nil)
	p := pxn.PXN{Cnt: 1, Cid: "c1"}
	log := mkLog("k", p, decimal.NewFromInt(100), value.Null())
	_, err := d.Prepare(ctx, log)
	require.NoError(t, err)

	got, err := d.GetLog(ctx, "k", p.String())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, p, got[0].Pxn)

	missing, err := d.GetLog(ctx, "k", pxn.PXN{Cnt: 99, Cid: "c1"}.String())
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestDeleteLogNotFound(t *testing.T) {
	ctx := context.Background()
	d := New("memory|local|t", nil)
	err := d.DeleteLog(ctx, "missing", "0.00000000000.000000000")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestScanLogAndTxn(t *testing.T) {
	ctx := context.Background()
	d := New("memory|local|t", nil)
	p := pxn.PXN{Cnt: 1, Cid: "c1"}
	log := mkLog("k", p, decimal.NewFromInt(100), value.Null())
	_, err := d.Prepare(ctx, log)
	require.NoError(t, err)
	_, err = d.Commit(ctx, log, driver.CommitCreate)
	require.NoError(t, err)

	logs, err := d.ScanLog(ctx, driver.ScanFilter{})
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	txns, err := d.ScanTxn(ctx, driver.ScanFilter{})
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestSharedStoreAcrossDrivers(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	d1 := New("memory|local|t1", store)
	d2 := New("memory|local|t2", store)

	p := pxn.PXN{Cnt: 1, Cid: "c1"}
	log := mkLog("k", p, decimal.NewFromInt(100), value.Null())
	_, err := d1.Prepare(ctx, log)
	require.NoError(t, err)

	got, err := d2.GetLog(ctx, "k", p.String())
	require.NoError(t, err)
	require.Len(t, got, 1)
}
