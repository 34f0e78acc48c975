package etcdstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// These cover the key-layout helpers directly; exercising Get/Put/Commit
// requires a live etcd cluster (see go.gazette.dev/core/etcdtest for the
// embedded-cluster approach estuary-flow's own etcd-backed tests use),
// which this module does not pull in as a dependency solely for tests.

func TestKeyLayoutHelpers(t *testing.T) {
	d := &Driver{name: "widgets", loc: "etcd|us-west-2|widgets"}

	assert.Equal(t, "widgets-log/k1/", d.logPrefix("k1"))
	assert.Equal(t, "widgets-log/k1/p1", d.logKey("k1", "p1"))
	assert.Equal(t, "widgets-txn/k1/", d.txnPrefix("k1"))
	assert.Equal(t, "widgets-txn/k1/t1", d.txnKey("k1", "t1"))
	assert.Equal(t, "widgets-txn-idx-color/red/k1", d.idxKey("color", "red", "k1"))
	assert.Equal(t, "widgets-live/k1", d.liveKey("k1"))
}

// TestLiveKeyIsStablePerKid guards against regressing the create-mode
// race fix back to comparing CreateRevision on a freshly-minted txn key:
// unlike txnKey (which embeds the commit's own tsv and is therefore
// always new), liveKey must depend only on kid so two commits racing to
// create the same kid observe the same key.
func TestLiveKeyIsStablePerKid(t *testing.T) {
	d := &Driver{name: "widgets", loc: "etcd|us-west-2|widgets"}

	first := d.liveKey("k1")
	second := d.liveKey("k1")
	assert.Equal(t, first, second)
	assert.NotEqual(t, d.txnKey("k1", "1"), d.txnKey("k1", "2"))
}

func TestSplitTwo(t *testing.T) {
	kid, pxn, ok := splitTwo("widgets-log/k1/p1", "widgets-log/")
	assert.True(t, ok)
	assert.Equal(t, "k1", kid)
	assert.Equal(t, "p1", pxn)

	_, _, ok = splitTwo("other-log/k1/p1", "widgets-log/")
	assert.False(t, ok)

	_, _, ok = splitTwo("widgets-log/k1", "widgets-log/")
	assert.False(t, ok)
}
