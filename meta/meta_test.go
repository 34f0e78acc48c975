package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WrathOfChris/incline/pxn"
)

func TestSetAddAndForKid(t *testing.T) {
	var s Set
	s.Add(Write{Kid: "a", Loc: "etcd|local|tbl", Pxn: pxn.PXN{Cnt: 1, Cid: "c1"}})
	s.Add(Write{Kid: "b", Loc: "etcd|local|tbl", Pxn: pxn.PXN{Cnt: 2, Cid: "c1"}})

	w, ok := s.ForKid("b")
	require.True(t, ok)
	assert.EqualValues(t, 2, w.Pxn.Cnt)

	_, ok = s.ForKid("missing")
	assert.False(t, ok)
}

func TestToDictFromDictRoundTrip(t *testing.T) {
	var s Set
	s.Add(Write{Kid: "a", Loc: "etcd|local|tbl", Pxn: pxn.PXN{Cnt: 42, Cid: "c1"}})

	dict := s.ToDict()
	require.Len(t, dict, 1)

	raw := make([]map[string]string, len(dict))
	copy(raw, dict)

	got, err := FromDict(raw)
	require.NoError(t, err)
	require.Len(t, got.Writes, 1)
	assert.Equal(t, "a", got.Writes[0].Kid)
	assert.EqualValues(t, 42, got.Writes[0].Pxn.Cnt)
}

func TestFromDictSingleMap(t *testing.T) {
	got, err := FromDict(map[string]string{"kid": "a", "loc": "l", "pxn": pxn.PXN{Cnt: 1, Cid: "x"}.String()})
	require.NoError(t, err)
	require.Len(t, got.Writes, 1)
	assert.Equal(t, "a", got.Writes[0].Kid)
}

func TestFromDictNil(t *testing.T) {
	got, err := FromDict(nil)
	require.NoError(t, err)
	assert.Empty(t, got.Writes)
}

func TestFromDictUnsupported(t *testing.T) {
	_, err := FromDict(42)
	assert.Error(t, err)
}
