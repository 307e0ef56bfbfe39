package allocator

import (
	"github.com/cockroachdb/errors"

	"github.com/BrightXiaoHan/pytorch-npu/memory"
)

// releaseSegment returns a single whole, unsplit segment to the driver.
// The caller must already have removed b from its pool.
func (a *DeviceCachingAllocator) releaseSegment(b *memory.Block) {
	a.driver.Free(b.Address)
	a.totalAllocatedByDriver -= int64(b.Size)
	oversize := int64(b.Size) >= a.config.MaxSplitSize
	a.stats.RecordSegmentReleased(b.Pool, b.Size, oversize)
}

// releaseAvailableCachedBlocks implements spec §4.2 step 7's first
// recovery stage: for a large-pool request it releases whole, unsplit,
// free large-pool segments, largest first, until the bytes released add
// up to at least the rounded request or there is nothing left to
// release. Segments cached on any stream and of any size are
// candidates; MaxSplitSize is not consulted. A small-pool request
// releases nothing here.
func (a *DeviceCachingAllocator) releaseAvailableCachedBlocks(params allocParams) {
	if params.poolKind == memory.Small {
		return // small-pool segments are never individually large enough to matter; fall through to full release
	}

	pool := a.poolFor(params.poolKind)
	blocks := pool.Blocks()

	candidates := make([]*memory.Block, 0, len(blocks))
	for _, b := range blocks {
		if b.Prev == nil && b.Next == nil {
			candidates = append(candidates, b)
		}
	}
	sortBlocksBySizeDescending(candidates)

	var released int64
	for _, b := range candidates {
		if released >= int64(params.rounded) {
			break
		}
		pool.Remove(b)
		a.releaseSegment(b)
		released += int64(b.Size)
	}
}

func sortBlocksBySizeDescending(blocks []*memory.Block) {
	for i := 1; i < len(blocks); i++ {
		for j := i; j > 0 && blocks[j].Size > blocks[j-1].Size; j-- {
			blocks[j], blocks[j-1] = blocks[j-1], blocks[j]
		}
	}
}

// EmptyCache implements spec §4.9/§6's empty_cache for this device: the
// same cached-segment release releaseCachedBlocks performs during OOM
// recovery, exposed directly so it can be invoked on demand.
func (a *DeviceCachingAllocator) EmptyCache(checkError bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.releaseCachedBlocks(checkError)
}

// releaseCachedBlocks implements spec §4.2 step 7's second, harsher
// recovery stage (spec §4.4): drain every outstanding deferred-free
// event, synchronize the device so no stream has work in flight against
// a segment about to be handed back, then release every whole,
// unsplit, free segment in both pools. A release failure degrades to a
// logged warning when checkError is false; otherwise it aborts the
// sweep and is returned to the caller (spec §7).
func (a *DeviceCachingAllocator) releaseCachedBlocks(checkError bool) error {
	a.synchronizeAndFreeEvents()
	a.driver.Synchronize()

	for _, pool := range []*memory.BlockPool{a.smallPool, a.largePool} {
		blocks := append([]*memory.Block(nil), pool.Blocks()...)
		for _, b := range blocks {
			if b.Prev != nil || b.Next != nil {
				continue
			}
			if err := a.releaseSegmentChecked(pool, b); err != nil {
				if checkError {
					return err
				}
				a.logger.Warn("release_cached_blocks: failed to release segment", "address", b.Address, "error", err)
			}
		}
	}
	return nil
}

// releaseSegmentChecked removes b from pool and releases it to the
// driver, converting a driver panic into an error so releaseCachedBlocks
// can honor checkError instead of crashing the process outright.
func (a *DeviceCachingAllocator) releaseSegmentChecked(pool *memory.BlockPool, b *memory.Block) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("driver free of segment at %#x panicked: %v", b.Address, r)
		}
	}()
	pool.Remove(b)
	a.releaseSegment(b)
	return nil
}
