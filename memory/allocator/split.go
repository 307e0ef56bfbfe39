package allocator

import (
	"github.com/BrightXiaoHan/pytorch-npu/device"
	"github.com/BrightXiaoHan/pytorch-npu/memory"
)

// shouldSplit implements spec §4.2 step 8 and the small/large asymmetry
// resolved in the open questions: a small-pool block splits whenever
// there is at least one more MinBlockSize-aligned chunk left over. A
// large-pool block splits only when the request is below
// max_split_size_mb and the remainder clears SmallThreshold — a request
// at or above max_split_size_mb is never split, full stop.
func (a *DeviceCachingAllocator) shouldSplit(b *memory.Block, params allocParams) bool {
	remainder := b.Size - params.rounded
	if remainder <= 0 {
		return false
	}
	if params.poolKind == memory.Small {
		return remainder >= memory.MinBlockSize
	}

	return int64(params.rounded) < a.config.MaxSplitSize && remainder > memory.SmallThreshold
}

// split carves a leading chunk of exactly size bytes off b and returns
// the remainder to the owning pool as a new split-child free block
// (spec §4.2 step 8, §4.6). b.Address is never dereferenced, only
// offset for bookkeeping (device.Ptr doc).
func (a *DeviceCachingAllocator) split(b *memory.Block, size int) {
	remainder := memory.NewBlock(b.DeviceID, b.Address+device.Ptr(size), b.Size-size, b.Pool, b.Stream)
	remainder.Prev = b
	remainder.Next = b.Next
	if b.Next != nil {
		b.Next.Prev = remainder
	}
	b.Next = remainder
	b.Size = size

	a.poolFor(b.Pool).Insert(remainder)
	a.stats.RecordInactiveSplitDelta(b.Pool, 1, int64(remainder.Size))
}
