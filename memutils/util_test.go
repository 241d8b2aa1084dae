package memutils

import (
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestCheckPow2(t *testing.T) {
	require.NoError(t, CheckPow2(1, "one"))
	require.NoError(t, CheckPow2(uint32(1<<31), "high bit"))
	require.NoError(t, CheckPow2(int64(4096), "page"))

	for _, value := range []int{0, -2, 3, 12} {
		err := CheckPow2(value, "value")
		require.True(t, errors.Is(err, PowerOfTwoError))
	}
}

func TestAlign(t *testing.T) {
	require.Equal(t, 0, AlignUp(0, 8))
	require.Equal(t, 8, AlignUp(1, 8))
	require.Equal(t, 8, AlignUp(8, 8))
	require.Equal(t, 136, AlignUp(132, 8))

	require.Equal(t, 0, AlignDown(7, 8))
	require.Equal(t, 4096, AlignDown(4100, 8))
	require.Equal(t, 640000, AlignDown(640000, 8))
}

func TestAddOverflow(t *testing.T) {
	sum, ok := AddOverflow(3, 4)
	require.True(t, ok)
	require.Equal(t, 7, sum)

	_, ok = AddOverflow(math.MaxInt, 1)
	require.False(t, ok)

	_, ok = AddOverflow(-1, 1)
	require.False(t, ok)
}

func TestMulOverflow(t *testing.T) {
	product, ok := MulOverflow(10, 4)
	require.True(t, ok)
	require.Equal(t, 40, product)

	product, ok = MulOverflow(0, math.MaxInt)
	require.True(t, ok)
	require.Equal(t, 0, product)

	product, ok = MulOverflow(math.MaxInt, 1)
	require.True(t, ok)
	require.Equal(t, math.MaxInt, product)

	_, ok = MulOverflow(math.MaxInt/2+1, 2)
	require.False(t, ok)

	_, ok = MulOverflow(1<<32, 1<<32)
	require.False(t, ok)

	_, ok = MulOverflow(-1, 4)
	require.False(t, ok)
}
