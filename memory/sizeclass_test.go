package memory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundSizeFloorsAtMinBlockSize(t *testing.T) {
	require.Equal(t, MinBlockSize, RoundSize(1))
	require.Equal(t, MinBlockSize, RoundSize(0))
}

func TestRoundSizeAlignsUpToMinBlockSize(t *testing.T) {
	got := RoundSize(MinBlockSize + 1)
	require.Zero(t, got%MinBlockSize)
	require.Greater(t, got, MinBlockSize)
}

func TestAllocSizeSmallGetsSmallBuffer(t *testing.T) {
	require.Equal(t, SmallBuffer, AllocSize(RoundSize(1024)))
}

func TestAllocSizeMidRangeGetsLargeBuffer(t *testing.T) {
	require.Equal(t, LargeBuffer, AllocSize(SmallThreshold+1))
}

func TestAllocSizeAboveMinLargeRoundsToLargeRound(t *testing.T) {
	got := AllocSize(MinLargeAlloc + 1)
	require.Zero(t, got%LargeRound)
	require.GreaterOrEqual(t, got, MinLargeAlloc+1)
}

func TestIsSmall(t *testing.T) {
	require.True(t, IsSmall(SmallThreshold))
	require.False(t, IsSmall(SmallThreshold+1))
}
