package allocator

import (
	"math"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/BrightXiaoHan/pytorch-npu/memory"
)

// formatOOM builds the diagnostic error spec §4.2 step 7/§7 requires
// when an allocation cannot be satisfied even after both recovery
// stages: the request, what the allocator already holds (allocated,
// active, and reserved), what the driver reports free, the configured
// fraction cap if one is set, and how many streams currently have
// deferred frees in flight (a supplemental diagnostic beyond the base
// spec, useful for telling a true device-memory shortage apart from a
// stream-safety pileup).
func (a *DeviceCachingAllocator) formatOOM(params allocParams, cause error) error {
	total, free := a.driver.MemoryInfo()
	reserved := a.stats.Stats[memory.StatReservedBytes][memory.StatAggregate].Current
	allocated := a.stats.Stats[memory.StatAllocatedBytes][memory.StatAggregate].Current
	active := a.stats.Stats[memory.StatActiveBytes][memory.StatAggregate].Current

	fractionCap := "unset"
	if a.fractionCap != math.MaxInt64 {
		fractionCap = strconv.FormatInt(a.fractionCap, 10)
	}

	pendingStreams := 0
	a.events.queues.Iter(func(_ uintptr, queue []pendingEvent) bool {
		if len(queue) > 0 {
			pendingStreams++
		}
		return false
	})

	return errors.Wrapf(cause,
		"device %d out of memory: tried to allocate %d bytes (pool=%s); "+
			"driver reports %d/%d bytes free/total; allocator holds %d bytes allocated, "+
			"%d bytes active, %d bytes reserved; fraction cap %s bytes; "+
			"%d streams have deferred frees pending",
		a.deviceID, params.rounded, params.poolKind, free, total,
		allocated, active, reserved, fractionCap, pendingStreams)
}
