package onchain

import (
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHexToBytes32(t *testing.T) {
	cond := "0xab" + strings.Repeat("0", 62)
	b, err := hexToBytes32(cond)
	require.NoError(t, err)
	assert.Equal(t, byte(0xab), b[0])

	_, err = hexToBytes32("0x1234")
	assert.Error(t, err)

	_, err = hexToBytes32("0xzz" + strings.Repeat("0", 62))
	assert.Error(t, err)
}

func TestSharesToWei(t *testing.T) {
	assert.Equal(t, big.NewInt(10_000_000), sharesToWei(10))
	assert.Equal(t, big.NewInt(13_510_000), sharesToWei(13.51))
	assert.Equal(t, big.NewInt(0), sharesToWei(0))
}

func TestMergeCallDataRejectsBadCondition(t *testing.T) {
	_, err := mergeCallData("not-a-condition", 10)
	assert.Error(t, err)

	data, err := mergeCallData("0x4242424242424242424242424242424242424242424242424242424242424242", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
