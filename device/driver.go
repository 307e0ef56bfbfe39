// Package device describes the narrow contracts the caching allocator
// needs from the accelerator driver and its stream/event primitives.
// Nothing in this package implements a real device: the driver, streams,
// and events are external collaborators (see spec §1) and only their
// behavior matters to the allocator.
package device

import "github.com/pkg/errors"

// Ptr is an opaque device memory address. The allocator never
// dereferences it; it only compares, offsets (for bookkeeping, never for
// access) and hands it back to the driver.
type Ptr uintptr

// Nil is the zero device pointer.
const Nil Ptr = 0

// ErrOutOfMemory is returned by Driver.Alloc when the driver cannot
// satisfy a request. The allocator distinguishes this from any other
// driver error (spec §7).
var ErrOutOfMemory = errors.New("device: out of memory")

// Driver is the subset of the device driver the allocator depends on.
// A real implementation talks to the accelerator; tests use an in-memory
// fake (internal/testdriver).
type Driver interface {
	// Alloc requests a new allocation of size bytes from the driver.
	// It returns device.ErrOutOfMemory (optionally wrapped) when the
	// driver cannot satisfy the request, and any other error for a hard
	// driver failure.
	Alloc(size int) (Ptr, error)
	// Free returns a previously allocated pointer to the driver. It is
	// always called with a pointer previously returned by Alloc, never
	// a pointer produced by splitting.
	Free(p Ptr)
	// MemoryInfo reports total and currently-free physical device
	// memory, used for OOM diagnostics (spec §4.2 step 7), for
	// SetMemoryFraction's byte cap and for CacheInfo's total.
	MemoryInfo() (total, free int)
	// CurrentDevice resolves the driver's notion of "current device"
	// for malloc calls that pass device == -1 (spec §4.2 step 1).
	CurrentDevice() (int, error)
	// NewEvent creates a fresh completion event. The allocator calls
	// this lazily, and only when the EventPool has none cached (spec
	// §4.5).
	NewEvent() Event
	// Synchronize blocks until all work queued on the device, across
	// every stream, has completed (spec §4.3, §4.4).
	Synchronize()
}

// Stream is an opaque ordered execution queue on the device. Allocations
// are affine to the stream they were allocated on (spec GLOSSARY).
type Stream interface {
	// ID returns a value that uniquely and stably identifies the
	// stream for the lifetime of the process; it is used as the
	// ordering/map key, never as a handle to the stream itself.
	ID() uintptr
}

// Event is an opaque completion marker recorded on a stream.
type Event interface {
	// Record marks the event as pending completion of all work
	// currently queued on s.
	Record(s Stream)
	// Query reports whether the event's recorded work has completed.
	Query() bool
	// Synchronize blocks the calling goroutine until the event's
	// recorded work has completed.
	Synchronize()
}
