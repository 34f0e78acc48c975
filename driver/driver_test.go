package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocationStringRoundTrip(t *testing.T) {
	loc := Location{DBType: "etcd", Region: "us-west-2", Name: "widgets"}
	parsed, err := ParseLocation(loc.String())
	require.NoError(t, err)
	assert.Equal(t, loc, parsed)
}

func TestParseLocationRejectsMalformed(t *testing.T) {
	_, err := ParseLocation("etcd|us-west-2")
	assert.Error(t, err)

	_, err = ParseLocation("etcd|us-west-2|widgets|extra")
	assert.Error(t, err)
}

func TestParseLocationEmptyFieldsAllowed(t *testing.T) {
	loc, err := ParseLocation("memory||t")
	require.NoError(t, err)
	assert.Equal(t, Location{DBType: "memory", Region: "", Name: "t"}, loc)
}
