package allocator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BrightXiaoHan/pytorch-npu/device"
	"github.com/BrightXiaoHan/pytorch-npu/internal/testdriver"
	"github.com/BrightXiaoHan/pytorch-npu/memory"
)

func TestGarbageCollectReleasesEveryEligibleBlockInAPass(t *testing.T) {
	cfg := memory.DefaultConfig()
	cfg.GarbageCollectionThreshold = 0.5
	drv := testdriver.New(64 << 20)
	a := New(0, drv, cfg, nil, nil)
	a.SetFractionCap(40 << 20)

	s := testdriver.NewStream()
	blocks := make([]*memory.Block, 4)
	for i := range blocks {
		b := memory.NewBlock(0, device.Ptr(0x1000+i*(5<<20)), 5<<20, memory.Large, s)
		blocks[i] = b
		a.largePool.Insert(b)
	}
	blocks[0].GCCount = 10
	blocks[1].GCCount = 10
	blocks[2].GCCount = 1
	blocks[3].GCCount = 1
	a.totalAllocatedByDriver = 25 << 20 // 40 MiB cap * 0.5 threshold = 20 MiB; 25 MiB is above it

	a.garbageCollect()

	// avg_age of the four candidates is 22/4 == 5, so only the two
	// GCCount==10 blocks are eligible in the first pass; both must be
	// released in that pass rather than the loop stopping after one.
	require.Equal(t, 2, a.largePool.Len())
	for _, b := range a.largePool.Blocks() {
		require.LessOrEqual(t, b.GCCount, 1)
	}
}

func TestGarbageCollectStopsWhenNoFractionCapIsSet(t *testing.T) {
	cfg := memory.DefaultConfig()
	cfg.GarbageCollectionThreshold = 0.5
	a := New(0, testdriver.New(64<<20), cfg, nil, nil)

	s := testdriver.NewStream()
	b := memory.NewBlock(0, 0x1000, 5<<20, memory.Large, s)
	a.largePool.Insert(b)
	a.totalAllocatedByDriver = 60 << 20

	a.garbageCollect()

	require.Equal(t, 1, a.largePool.Len(), "gc is a no-op until a fraction cap is configured")
}
