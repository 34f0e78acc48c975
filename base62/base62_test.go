package base62

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeZero(t *testing.T) {
	assert.Equal(t, "0", Encode(big.NewInt(0)))
}

func TestRoundTripSmall(t *testing.T) {
	for _, n := range []int64{0, 1, 61, 62, 63, 3843, 1000000} {
		enc := EncodeInt64(n)
		dec, err := Decode(enc)
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(n), dec, "round trip of %d via %q", n, enc)
	}
}

// TestRoundTripLarge exercises invariant 6 from spec.md section 8:
// decode(encode(n)) == n for non-negative n, including values where
// modulo arithmetic over a float64 would lose precision.
func TestRoundTripLarge(t *testing.T) {
	values := []*big.Int{
		big.NewInt(1<<31 - 1),
		new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 63), big.NewInt(1)),
		new(big.Int).Lsh(big.NewInt(1), 128),
		new(big.Int).Lsh(big.NewInt(1), 256),
	}
	for _, n := range values {
		enc := Encode(n)
		dec, err := Decode(enc)
		require.NoError(t, err)
		assert.Equal(t, 0, n.Cmp(dec), "round trip of %s via %q got %s", n, enc, dec)
	}
}

func TestDecodeInvalidDigit(t *testing.T) {
	_, err := Decode("abc!")
	require.Error(t, err)
	var invalid *InvalidDigitError
	assert.ErrorAs(t, err, &invalid)
}

func TestPad(t *testing.T) {
	assert.Equal(t, "000000005", Pad("5", 9))
	assert.Equal(t, "123456789", Pad("123456789", 9))
	assert.Equal(t, "1234567890", Pad("1234567890", 9))
}
