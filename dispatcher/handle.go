package dispatcher

import (
	"github.com/BrightXiaoHan/pytorch-npu/device"
	"github.com/BrightXiaoHan/pytorch-npu/memory"
)

// Handle is the owning handle Allocate returns: the standard allocator
// surface's "allocate(n) -> owning handle whose deleter calls
// raw_delete" (spec §4.9, §6).
type Handle struct {
	dispatcher *CachingAllocator
	deviceID   int
	block      *memory.Block
	stream     device.Stream
	freed      bool
}

// Ptr returns the device address the handle owns, or device.Nil for the
// nil handle a zero-size Allocate returns (spec §4.9). Valid until Free
// is called.
func (h *Handle) Ptr() device.Ptr {
	if h == nil {
		return device.Nil
	}
	return h.block.Address
}

// Size returns the usable size of the allocation, which may exceed the
// requested size due to rounding (spec §4.1).
func (h *Handle) Size() int {
	if h == nil {
		return 0
	}
	return h.block.Size
}

// DeviceID returns the device the handle's memory lives on.
func (h *Handle) DeviceID() int {
	if h == nil {
		return -1
	}
	return h.deviceID
}

// Free releases the handle's memory via raw_delete (spec §4.9). Safe to
// call on a nil handle (the result of a zero-size Allocate) and safe to
// call at most once otherwise; a second call is a no-op.
func (h *Handle) Free() {
	if h == nil || h.freed {
		return
	}
	h.freed = true
	h.dispatcher.rawDelete(h.block)
}
