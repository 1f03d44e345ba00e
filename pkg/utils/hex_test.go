package utils

import (
	"math/big"
	"testing"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeltToHexPads(t *testing.T) {
	f := new(felt.Felt).SetUint64(0xabc)
	assert.Equal(t, "0x"+pad("abc", 64), FeltToHex(f))
}

func pad(s string, n int) string {
	for len(s) < n {
		s = "0" + s
	}
	return s
}

func TestBigToPaddedHex(t *testing.T) {
	assert.Equal(t, "0x00ff", BigToPaddedHex(big.NewInt(255), 4))
	assert.Equal(t, "0x0000000000000001", BigToPaddedHex(big.NewInt(1), 16))
}

func TestJoinSplitKeysRoundTrip(t *testing.T) {
	keys := []*felt.Felt{
		new(felt.Felt).SetUint64(1),
		new(felt.Felt).SetUint64(0xdeadbeef),
	}

	joined := JoinKeys(keys)
	assert.Equal(t, FeltToHex(keys[0])+"/"+FeltToHex(keys[1])+"/", joined)

	back, err := SplitKeys(joined)
	require.NoError(t, err)
	require.Len(t, back, 2)
	for i := range keys {
		assert.True(t, keys[i].Equal(back[i]))
	}
}

func TestSplitKeysEmpty(t *testing.T) {
	keys, err := SplitKeys("")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestSplitKeysInvalid(t *testing.T) {
	_, err := SplitKeys("zzz/")
	assert.Error(t, err)
}
