package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOneReturnsSameLocationForEveryAction(t *testing.T) {
	r := One("memory", "local", "widgets")
	loc := "memory|local|widgets"
	assert.Equal(t, []string{loc}, r.Lookup(ActionRead, "k1"))
	assert.Equal(t, []string{loc}, r.Lookup(ActionWrite, "k1"))
	assert.Equal(t, []string{loc}, r.Lookup(ActionSearch, "k1"))
}

func TestTwoFansOutToBothReplicas(t *testing.T) {
	r := Two("memory", "local", "widgets")
	want := []string{"memory|local|widgets1", "memory|local|widgets2"}
	assert.Equal(t, want, r.Lookup(ActionWrite, "k1"))
	assert.Equal(t, want, r.Lookup(ActionRead, "k1"))
}

func TestUnbalancedReadRoutersPinSingleReplica(t *testing.T) {
	r1 := UnbalancedReadOne("memory", "local", "widgets")
	assert.Equal(t, []string{"memory|local|widgets1"}, r1.Lookup(ActionRead, "k1"))
	assert.Len(t, r1.Lookup(ActionWrite, "k1"), 2)

	r2 := UnbalancedReadTwo("memory", "local", "widgets")
	assert.Equal(t, []string{"memory|local|widgets2"}, r2.Lookup(ActionRead, "k1"))
	assert.Len(t, r2.Lookup(ActionWrite, "k1"), 2)
}

func TestLookupIsPureAndDeterministic(t *testing.T) {
	r := Two("memory", "us-west-2", "orders")
	a := r.Lookup(ActionWrite, "anykey")
	b := r.Lookup(ActionWrite, "anykey")
	assert.Equal(t, a, b)
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "read", ActionRead.String())
	assert.Equal(t, "write", ActionWrite.String())
	assert.Equal(t, "search", ActionSearch.String())
	assert.Equal(t, "index", ActionIndex.String())
}
