package memory

import "sort"

// FreeMemoryCallback is invoked when the allocator is under memory
// pressure and has failed its reuse search (spec §4.2 step 5, §9). It
// should attempt to free memory the allocator doesn't know about and
// report whether it succeeded.
type FreeMemoryCallback func() (freedMemory bool)

// CallbackRegistry is a keyed registry of memory-pressure callbacks
// (spec §9): other subsystems register by name, and the allocator
// invokes all of them, in deterministic (lexicographic) order, before
// giving up on OOM.
type CallbackRegistry struct {
	callbacks map[string]FreeMemoryCallback
}

// NewCallbackRegistry returns an empty registry.
func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{callbacks: make(map[string]FreeMemoryCallback)}
}

// Register adds or replaces the callback registered under name.
func (r *CallbackRegistry) Register(name string, cb FreeMemoryCallback) {
	r.callbacks[name] = cb
}

// Unregister removes the callback registered under name, if any.
func (r *CallbackRegistry) Unregister(name string) {
	delete(r.callbacks, name)
}

// InvokeAll calls every registered callback, in lexicographic order of
// name, and reports whether any of them freed memory.
func (r *CallbackRegistry) InvokeAll() bool {
	if len(r.callbacks) == 0 {
		return false
	}

	names := make([]string, 0, len(r.callbacks))
	for name := range r.callbacks {
		names = append(names, name)
	}
	sort.Strings(names)

	freedAny := false
	for _, name := range names {
		if r.callbacks[name]() {
			freedAny = true
		}
	}
	return freedAny
}
