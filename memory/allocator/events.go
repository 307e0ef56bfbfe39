package allocator

import (
	"github.com/dolthub/swiss"

	"github.com/BrightXiaoHan/pytorch-npu/device"
	"github.com/BrightXiaoHan/pytorch-npu/memory"
)

// pendingEvent pairs a recorded completion event with the block it
// defers the free of (spec §4.5).
type pendingEvent struct {
	event device.Event
	block *memory.Block
}

// eventTracker holds, per stream, the FIFO queue of events recorded on
// that stream in the order they were issued. Events on one stream
// always complete in issue order, so only the queue head need ever be
// polled (spec §4.5).
type eventTracker struct {
	queues *swiss.Map[uintptr, []pendingEvent]
}

func newEventTracker() *eventTracker {
	return &eventTracker{queues: swiss.NewMap[uintptr, []pendingEvent](8)}
}

func (t *eventTracker) push(streamID uintptr, pe pendingEvent) {
	q, _ := t.queues.Get(streamID)
	q = append(q, pe)
	t.queues.Put(streamID, q)
}

// RecordStream implements spec §4.5 record_stream: mark that s has
// consumed b, so a future free on a different stream must wait for
// completion on s before the block is reused.
func (a *DeviceCachingAllocator) RecordStream(b *memory.Block, s device.Stream) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s.ID() == b.Stream.ID() {
		return
	}
	b.AddStreamUse(s)
}

// EraseStream implements spec §4.5 erase_stream: drop s from b's
// recorded uses without waiting for it, used when the caller knows the
// stream's work touching b has already been independently synchronized.
// If b is not one this allocator owns (an externally-owned pointer),
// this is a silent no-op (spec §4.9).
func (a *DeviceCachingAllocator) EraseStream(b *memory.Block, s device.Stream) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.activeBlocks[b]; !ok {
		return
	}
	b.RemoveStreamUse(s)
}

// processEvents implements spec §4.5: for every stream with pending
// events, poll from the queue head and free any block whose last event
// has completed, stopping at the first event still outstanding.
func (a *DeviceCachingAllocator) processEvents() {
	a.events.queues.Iter(func(streamID uintptr, queue []pendingEvent) bool {
		i := 0
		for ; i < len(queue); i++ {
			pe := queue[i]
			if !pe.event.Query() {
				break
			}
			pe.block.EventCount--
			a.eventPool.Put(pe.event)
			if pe.block.EventCount == 0 {
				a.freeBlock(pe.block)
			}
		}
		if i > 0 {
			a.events.queues.Put(streamID, queue[i:])
		}
		return false
	})
}

// synchronizeAndFreeEvents implements spec §4.5's full-purge path: block
// on every outstanding event across every stream and free the blocks
// they were deferring. releaseCachedBlocks calls it before handing
// cached segments back to the driver.
func (a *DeviceCachingAllocator) synchronizeAndFreeEvents() {
	a.events.queues.Iter(func(streamID uintptr, queue []pendingEvent) bool {
		for _, pe := range queue {
			pe.event.Synchronize()
			pe.block.EventCount--
			a.eventPool.Put(pe.event)
			if pe.block.EventCount == 0 {
				a.freeBlock(pe.block)
			}
		}
		a.events.queues.Put(streamID, nil)
		return false
	})
}
