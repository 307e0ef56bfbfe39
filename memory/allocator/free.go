package allocator

import (
	"github.com/BrightXiaoHan/pytorch-npu/memory"
	"github.com/BrightXiaoHan/pytorch-npu/memutils"
)

// Free returns an allocated block to its pool (spec §4.4). If the block
// has outstanding stream uses beyond the one it was allocated on, the
// return is deferred until a recorded event drains (spec §4.5); in
// shutdown mode the deferral is skipped and the block is freed
// immediately, matching process teardown semantics (spec §5).
func (a *DeviceCachingAllocator) Free(b *memory.Block) {
	a.mu.Lock()
	defer a.mu.Unlock()
	memutils.DebugValidate(b)
	a.free(b)
	memutils.DebugValidate(a)
}

func (a *DeviceCachingAllocator) free(b *memory.Block) {
	delete(a.activeBlocks, b)
	oversize := int64(b.Size) >= a.config.MaxSplitSize
	a.stats.RecordBlockAllocatedFreed(b.Pool, b.Size, oversize)

	if !a.shutdown && len(b.StreamUses) > 0 {
		a.deferFree(b)
		return
	}

	a.freeBlock(b)
}

// deferFree implements spec §4.5: for each stream that touched the
// block beyond the allocating one, record a completion event and park
// the block until processEvents reclaims it.
func (a *DeviceCachingAllocator) deferFree(b *memory.Block) {
	for _, s := range b.StreamUses {
		ev := a.eventPool.Get(a.deviceID)
		ev.Record(s)
		b.EventCount++
		a.events.push(s.ID(), pendingEvent{event: ev, block: b})
	}
	b.StreamUses = nil
}

// freeBlock returns a block with no outstanding event references to its
// pool, first coalescing it with any address-adjacent free neighbors
// within the same segment (spec §4.6).
func (a *DeviceCachingAllocator) freeBlock(b *memory.Block) {
	b.Allocated = false
	pool := a.poolFor(b.Pool)

	a.stats.RecordBlockInactive(b.Pool, b.Size)

	var mergedCount, mergedSize int64

	if prev := b.Prev; prev != nil && !prev.Allocated && prev.EventCount == 0 {
		pool.Remove(prev)
		mergedCount++
		mergedSize += int64(prev.Size)
		a.mergeWithNext(prev, b)
		b = prev
	}
	if next := b.Next; next != nil && !next.Allocated && next.EventCount == 0 {
		mergedCount++
		mergedSize += int64(a.mergeWithNext(b, next))
	}

	// Merged neighbors no longer count as inactive split blocks; the
	// merged result counts if it still has a neighbor.
	countDelta, sizeDelta := -mergedCount, -mergedSize
	if b.IsSplitChild() {
		countDelta++
		sizeDelta += int64(b.Size)
	}
	a.stats.RecordInactiveSplitDelta(b.Pool, countDelta, sizeDelta)

	pool.Insert(b)
}

// mergeWithNext absorbs next into b (b.Address < next.Address,
// contiguous), removing next from its pool, and returns the number of
// bytes next contributed.
func (a *DeviceCachingAllocator) mergeWithNext(b, next *memory.Block) int {
	a.poolFor(next.Pool).Remove(next)

	b.Size += next.Size
	b.Next = next.Next
	if next.Next != nil {
		next.Next.Prev = b
	}
	return next.Size
}
