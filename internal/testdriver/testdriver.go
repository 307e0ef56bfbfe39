// Package testdriver is an in-memory fake of device.Driver/Stream/Event
// used by the caching allocator's test suite. Real device memory is
// backed by plain counters rather than a real driver, matching the
// mock-pool idiom used elsewhere in the retrieval pack for standing in
// for pinned/device memory in tests.
package testdriver

import (
	"sync"
	"sync/atomic"

	"github.com/BrightXiaoHan/pytorch-npu/device"
)

// Stream is a fake execution queue. Two Streams are the same stream iff
// they share the same ID.
type Stream struct {
	id uintptr
}

func (s *Stream) ID() uintptr { return s.id }

// NewStream returns a fresh, uniquely-identified fake stream.
func NewStream() *Stream {
	return &Stream{id: nextStreamID()}
}

var streamCounter uint64

func nextStreamID() uintptr {
	return uintptr(atomic.AddUint64(&streamCounter, 1))
}

// Event is a fake completion marker. Completion is driven explicitly by
// tests via Complete, rather than by real asynchronous device work.
type Event struct {
	mu        sync.Mutex
	completed bool
}

func (e *Event) Record(device.Stream) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completed = false
}

func (e *Event) Query() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completed
}

func (e *Event) Synchronize() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completed = true
}

// Complete marks the event as done without blocking, simulating the
// device having finished the work recorded against it.
func (e *Event) Complete() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completed = true
}

// Driver is a fake accelerator driver backed by simple byte counters; it
// never allocates real memory, just hands out monotonically increasing
// fake addresses and tracks a budget.
type Driver struct {
	mu          sync.Mutex
	nextAddr    uintptr
	totalMemory int
	used        int
	failNext    bool
	current     int
	sizes       map[device.Ptr]int
}

// New returns a fake driver reporting totalMemory bytes of physical
// device memory, all of it free.
func New(totalMemory int) *Driver {
	return &Driver{
		nextAddr:    0x1000,
		totalMemory: totalMemory,
		sizes:       make(map[device.Ptr]int),
	}
}

// FailNextAlloc makes the next call to Alloc return device.ErrOutOfMemory
// without consuming any address space, then resets.
func (d *Driver) FailNextAlloc() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = true
}

func (d *Driver) Alloc(size int) (device.Ptr, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failNext {
		d.failNext = false
		return device.Nil, device.ErrOutOfMemory
	}
	if d.used+size > d.totalMemory {
		return device.Nil, device.ErrOutOfMemory
	}

	addr := d.nextAddr
	d.nextAddr += uintptr(size)
	d.used += size
	d.sizes[device.Ptr(addr)] = size
	return device.Ptr(addr), nil
}

func (d *Driver) Free(p device.Ptr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if size, ok := d.sizes[p]; ok {
		d.used -= size
		delete(d.sizes, p)
	}
}

func (d *Driver) MemoryInfo() (total, free int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalMemory, d.totalMemory - d.used
}

func (d *Driver) CurrentDevice() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current, nil
}

func (d *Driver) SetCurrentDevice(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = id
}

func (d *Driver) NewEvent() device.Event {
	return &Event{}
}

func (d *Driver) Synchronize() {}
