package allocator

import (
	"sync"

	"github.com/BrightXiaoHan/pytorch-npu/device"
)

// EventPool recycles device.Event objects so repeated deferred frees
// don't pay a driver event-creation cost on every call (spec §4.5:
// "events are created lazily per device" and reused on return).
// Grounded on the sync.Pool-backed block reuse idiom used for block
// metadata elsewhere in this codebase's ancestry.
type EventPool struct {
	driver device.Driver
	pool   sync.Pool
}

// NewEventPool returns an EventPool that lazily creates events via drv
// when the pool is empty.
func NewEventPool(drv device.Driver) *EventPool {
	ep := &EventPool{driver: drv}
	ep.pool.New = func() any {
		return ep.driver.NewEvent()
	}
	return ep
}

// Get returns a recycled or freshly created event. deviceID is accepted
// for symmetry with the per-device pools a multi-device allocator keeps
// one of; this implementation is already scoped to a single device.
func (p *EventPool) Get(deviceID int) device.Event {
	return p.pool.Get().(device.Event)
}

// Put returns ev to the pool for reuse by a future deferred free.
func (p *EventPool) Put(ev device.Event) {
	p.pool.Put(ev)
}
