package allocator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BrightXiaoHan/pytorch-npu/internal/testdriver"
	"github.com/BrightXiaoHan/pytorch-npu/memory"
)

func TestShouldSplitNeverSplitsAtOrAboveMaxSplitSize(t *testing.T) {
	cfg := memory.DefaultConfig()
	cfg.MaxSplitSize = 2 << 20
	a := New(0, testdriver.New(64<<20), cfg, nil, nil)

	b := memory.NewBlock(0, 0x1000, 8<<20, memory.Large, testdriver.NewStream())
	params := allocParams{rounded: int(cfg.MaxSplitSize), poolKind: memory.Large}

	require.False(t, a.shouldSplit(b, params), "a request at MaxSplitSize must never be split even though a large remainder would be left over")
}

func TestShouldSplitSplitsBelowMaxSplitSizeWhenRemainderClearsSmallThreshold(t *testing.T) {
	cfg := memory.DefaultConfig()
	cfg.MaxSplitSize = 4 << 20
	a := New(0, testdriver.New(64<<20), cfg, nil, nil)

	b := memory.NewBlock(0, 0x1000, 2<<20, memory.Large, testdriver.NewStream())
	rounded := (2 << 20) - (memory.SmallThreshold + memory.MinBlockSize)
	params := allocParams{rounded: rounded, poolKind: memory.Large}

	require.True(t, a.shouldSplit(b, params))
}

func TestShouldSplitDoesNotSplitWhenRemainderAtOrBelowSmallThreshold(t *testing.T) {
	cfg := memory.DefaultConfig()
	cfg.MaxSplitSize = 8 << 20
	a := New(0, testdriver.New(64<<20), cfg, nil, nil)

	b := memory.NewBlock(0, 0x1000, 2<<20, memory.Large, testdriver.NewStream())
	rounded := (2 << 20) - memory.SmallThreshold
	params := allocParams{rounded: rounded, poolKind: memory.Large}

	require.False(t, a.shouldSplit(b, params))
}

func TestMallocNeverSplitsOversizeRequest(t *testing.T) {
	cfg := memory.DefaultConfig()
	cfg.MaxSplitSize = 2 << 20
	drv := testdriver.New(64 << 20)
	a := New(0, drv, cfg, nil, nil)
	s := testdriver.NewStream()

	b, err := a.Malloc(4<<20, s)
	require.NoError(t, err)
	require.Nil(t, b.Next, "an oversize allocation must be handed out whole, never split")
	require.Nil(t, b.Prev)
}
