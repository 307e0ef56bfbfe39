package memory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BrightXiaoHan/pytorch-npu/device"
)

type fakeStream struct{ id uintptr }

func (s fakeStream) ID() uintptr { return s.id }

func TestBlockPoolInsertKeepsSortedOrder(t *testing.T) {
	p := NewBlockPool(Large)
	s0, s1 := fakeStream{0}, fakeStream{1}

	b1 := NewBlock(0, 0x3000, 4096, Large, s0)
	b2 := NewBlock(0, 0x1000, 2048, Large, s0)
	b3 := NewBlock(0, 0x2000, 2048, Large, s1)

	p.Insert(b1)
	p.Insert(b2)
	p.Insert(b3)

	require.Equal(t, 3, p.Len())
	require.NoError(t, p.Validate())

	blocks := p.Blocks()
	require.Equal(t, b2, blocks[0]) // stream 0, size 2048
	require.Equal(t, b1, blocks[1]) // stream 0, size 4096
	require.Equal(t, b3, blocks[2]) // stream 1
}

func TestBlockPoolFindReturnsSmallestFitOnMatchingStream(t *testing.T) {
	p := NewBlockPool(Small)
	s0 := fakeStream{7}

	small := NewBlock(0, 0x1000, 1024, Small, s0)
	big := NewBlock(0, 0x2000, 4096, Small, s0)
	p.Insert(small)
	p.Insert(big)

	got := p.Find(7, 2048)
	require.Equal(t, big, got)
}

func TestBlockPoolFindRejectsOtherStreams(t *testing.T) {
	p := NewBlockPool(Small)
	p.Insert(NewBlock(0, 0x1000, 4096, Small, fakeStream{1}))

	require.Nil(t, p.Find(2, 1024))
}

func TestBlockPoolRemove(t *testing.T) {
	p := NewBlockPool(Small)
	b := NewBlock(0, 0x1000, 1024, Small, fakeStream{0})
	p.Insert(b)
	require.Equal(t, 1, p.Len())

	p.Remove(b)
	require.Equal(t, 0, p.Len())
	require.Nil(t, p.Find(0, 1024))
}

func TestBlockPoolValidateRejectsAllocatedBlock(t *testing.T) {
	p := NewBlockPool(Small)
	b := NewBlock(0, 0x1000, 1024, Small, fakeStream{0})
	b.Allocated = true
	p.Insert(b)

	require.Error(t, p.Validate())
}

func TestBlockPoolValidateRejectsDuplicateAddress(t *testing.T) {
	p := NewBlockPool(Small)
	p.blocks = append(p.blocks,
		NewBlock(0, device.Ptr(0x1000), 1024, Small, fakeStream{0}),
		NewBlock(0, device.Ptr(0x1000), 1024, Small, fakeStream{0}),
	)

	require.Error(t, p.Validate())
}
