package dispatcher

import (
	"github.com/cockroachdb/errors"

	"github.com/BrightXiaoHan/pytorch-npu/device"
)

// RawAlloc implements spec §6's raw_alloc: the bare-pointer counterpart
// of Allocate, for callers that manage their own lifetime bookkeeping
// instead of holding a Handle. The returned pointer is allocated on
// defaultStream, one fixed stream (ID 0) shared by every RawAlloc call.
func (c *CachingAllocator) RawAlloc(deviceID int, n int) (device.Ptr, error) {
	return c.RawAllocWithStream(deviceID, n, defaultStream{})
}

// RawAllocWithStream implements spec §6's raw_alloc_with_stream: same
// as RawAlloc, pinned to the given stream.
func (c *CachingAllocator) RawAllocWithStream(deviceID int, n int, stream device.Stream) (device.Ptr, error) {
	h, err := c.Allocate(deviceID, n, stream)
	if err != nil {
		return device.Nil, err
	}
	return h.Ptr(), nil
}

// RawDelete implements spec §6's raw_delete and spec §7's "invalid free
// pointer" diagnostic: p must be a pointer this dispatcher currently
// owns, or RawDelete hard-fails naming the offending value rather than
// silently ignoring it.
func (c *CachingAllocator) RawDelete(p device.Ptr) error {
	c.mu.Lock()
	e, ok := c.pointerToBlock.Get(p)
	c.mu.Unlock()
	if !ok {
		return errors.Newf("raw_delete: invalid free pointer %#x: not owned by this allocator", p)
	}

	c.rawDelete(e.block)
	return nil
}

// defaultStream is the stream RawAlloc uses when the caller has no
// specific stream in mind; its ID is stable for the process lifetime so
// allocations it makes are always affine to the same stream as each
// other.
type defaultStream struct{}

func (defaultStream) ID() uintptr { return 0 }
