package memory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockIsHeadAndSplitChild(t *testing.T) {
	head := NewBlock(0, 0x1000, 4096, Small, fakeStream{0})
	require.True(t, head.IsHead())
	require.False(t, head.IsSplitChild())

	tail := NewBlock(0, 0x2000, 2048, Small, fakeStream{0})
	head.Next = tail
	tail.Prev = head

	require.True(t, head.IsHead())
	require.True(t, head.IsSplitChild())
	require.False(t, tail.IsHead())
	require.True(t, tail.IsSplitChild())
}

func TestBlockAddAndRemoveStreamUse(t *testing.T) {
	b := NewBlock(0, 0x1000, 4096, Small, fakeStream{0})
	s := fakeStream{9}

	require.False(t, b.RemoveStreamUse(s))

	b.AddStreamUse(s)
	require.Len(t, b.StreamUses, 1)

	require.True(t, b.RemoveStreamUse(s))
	require.Len(t, b.StreamUses, 0)
}

func TestBlockValidateRejectsBadSize(t *testing.T) {
	b := NewBlock(0, 0x1000, 1, Small, fakeStream{0})
	require.Error(t, b.Validate())
}

func TestBlockValidateRejectsFreeBlockWithStreamUses(t *testing.T) {
	b := NewBlock(0, 0x1000, MinBlockSize, Small, fakeStream{0})
	b.AddStreamUse(fakeStream{1})
	require.Error(t, b.Validate())
}

func TestBlockValidateChecksReciprocalLinks(t *testing.T) {
	head := NewBlock(0, 0x1000, MinBlockSize, Small, fakeStream{0})
	tail := NewBlock(0, 0x1000+MinBlockSize, MinBlockSize, Small, fakeStream{0})
	head.Next = tail
	tail.Prev = head

	require.NoError(t, head.Validate())
	require.NoError(t, tail.Validate())

	tail.Prev = nil
	require.Error(t, head.Validate()) // head.Next no longer points back at head
}
