// Package dispatcher is the multi-device front of the caching
// allocator: it owns one DeviceCachingAllocator per device, lazily
// created on first use, and a process-wide address→block map so a bare
// device pointer can be freed without the caller remembering which
// device or allocator it came from (spec §4.9).
package dispatcher

import (
	"sync"

	"github.com/dolthub/swiss"
	"golang.org/x/exp/slog"

	"github.com/BrightXiaoHan/pytorch-npu/device"
	"github.com/BrightXiaoHan/pytorch-npu/memory"
	"github.com/BrightXiaoHan/pytorch-npu/memory/allocator"
)

// DriverFactory constructs the device.Driver for a given device index.
// It is invoked once per device when that device's allocator is
// created, and again with the caller's negative deviceID on every
// Allocate that has to resolve the current device.
type DriverFactory func(deviceID int) device.Driver

// CachingAllocator is the process-wide entry point (spec §4.9, §6).
// Its own mutex guards only the per-device allocator vector and the
// global pointer map; it is always released before a per-device
// allocator's own lock is taken, so the two never nest.
type CachingAllocator struct {
	newDriver DriverFactory
	config    memory.AllocatorConfig
	registry  *memory.CallbackRegistry
	logger    *slog.Logger

	mu             sync.Mutex
	allocs         map[int]*allocator.DeviceCachingAllocator
	pointerToBlock *swiss.Map[device.Ptr, entry]
}

type entry struct {
	deviceID int
	block    *memory.Block
}

// New constructs a CachingAllocator. cfg is shared, process-wide
// configuration parsed once from PYTORCH_NPU_ALLOC_CONF (spec §6);
// registry may be nil.
func New(newDriver DriverFactory, cfg memory.AllocatorConfig, registry *memory.CallbackRegistry, logger *slog.Logger) *CachingAllocator {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = memory.NewCallbackRegistry()
	}
	return &CachingAllocator{
		newDriver:      newDriver,
		config:         cfg,
		registry:       registry,
		logger:         logger,
		allocs:         make(map[int]*allocator.DeviceCachingAllocator),
		pointerToBlock: swiss.NewMap[device.Ptr, entry](64),
	}
}

// deviceAllocator returns the allocator for deviceID, constructing it
// (and its driver) on first use. Idempotent per device (spec §4.9).
func (c *CachingAllocator) deviceAllocator(deviceID int) *allocator.DeviceCachingAllocator {
	c.mu.Lock()
	defer c.mu.Unlock()

	if a, ok := c.allocs[deviceID]; ok {
		return a
	}
	drv := c.newDriver(deviceID)
	a := allocator.New(deviceID, drv, c.config, c.registry, c.logger.With("device", deviceID))
	c.allocs[deviceID] = a
	return a
}

// Allocate implements the standard allocator surface: allocate(n) on
// stream, on deviceID (-1 resolves to the driver's current device),
// returning an owning Handle whose deleter is raw_delete (spec §4.9,
// §6). A zero-size request returns a nil handle and no error.
func (c *CachingAllocator) Allocate(deviceID int, n int, stream device.Stream) (*Handle, error) {
	if n == 0 {
		return nil, nil
	}

	if deviceID < 0 {
		drv := c.newDriver(deviceID)
		resolved, err := drv.CurrentDevice()
		if err != nil {
			return nil, err
		}
		deviceID = resolved
	}

	a := c.deviceAllocator(deviceID)
	block, err := a.Malloc(n, stream)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.pointerToBlock.Put(block.Address, entry{deviceID: deviceID, block: block})
	c.mu.Unlock()

	return &Handle{dispatcher: c, deviceID: deviceID, block: block, stream: stream}, nil
}

// rawDelete returns block to its owning device's allocator and removes
// it from the global pointer map (spec §4.9).
func (c *CachingAllocator) rawDelete(block *memory.Block) {
	c.mu.Lock()
	e, ok := c.pointerToBlock.Get(block.Address)
	if !ok {
		c.mu.Unlock()
		return
	}
	c.pointerToBlock.Delete(block.Address)
	a, ok := c.allocs[e.deviceID]
	c.mu.Unlock()

	if !ok {
		return
	}
	a.Free(block)
}

// RecordStream implements spec §4.5/§4.9's cross-cutting record_stream:
// resolved to the block's owning device allocator via the global
// pointer map. If p is not a pointer this dispatcher owns, this is a
// silent no-op (spec §4.9's "externally-owned pointer" rule).
func (c *CachingAllocator) RecordStream(p device.Ptr, s device.Stream) {
	c.mu.Lock()
	e, ok := c.pointerToBlock.Get(p)
	var a *allocator.DeviceCachingAllocator
	if ok {
		a = c.allocs[e.deviceID]
	}
	c.mu.Unlock()
	if !ok || a == nil {
		return
	}
	a.RecordStream(e.block, s)
}

// EraseStream is the erase_stream counterpart of RecordStream (spec
// §4.5, §4.9).
func (c *CachingAllocator) EraseStream(p device.Ptr, s device.Stream) {
	c.mu.Lock()
	e, ok := c.pointerToBlock.Get(p)
	var a *allocator.DeviceCachingAllocator
	if ok {
		a = c.allocs[e.deviceID]
	}
	c.mu.Unlock()
	if !ok || a == nil {
		return
	}
	a.EraseStream(e.block, s)
}

// SetMemoryFraction sets deviceID's fraction cap to fraction (in [0,1])
// of that device's total driver-reported memory, lazily creating the
// device's allocator if needed (spec §4.9).
func (c *CachingAllocator) SetMemoryFraction(deviceID int, fraction float64) error {
	return c.deviceAllocator(deviceID).SetMemoryFraction(fraction)
}

// Stats returns deviceID's statistics (spec §4.8, §6).
func (c *CachingAllocator) Stats(deviceID int) memory.DeviceStats {
	return c.deviceAllocator(deviceID).Stats()
}

// ResetAccumulatedStats implements spec §4.8's reset_accumulated_stats
// for deviceID.
func (c *CachingAllocator) ResetAccumulatedStats(deviceID int) {
	c.deviceAllocator(deviceID).ResetAccumulatedStats()
}

// ResetPeakStats implements spec §4.8's reset_peak_stats for deviceID.
func (c *CachingAllocator) ResetPeakStats(deviceID int) {
	c.deviceAllocator(deviceID).ResetPeakStats()
}

// CacheInfo implements spec §6's cache_info for deviceID.
func (c *CachingAllocator) CacheInfo(deviceID int) (total, largest int) {
	return c.deviceAllocator(deviceID).CacheInfo()
}

// Snapshot implements spec §4.7/§4.9's snapshot: every segment owned by
// every device allocator created so far, concatenated. There is no
// per-device variant; SegmentInfo.Device disambiguates the result.
func (c *CachingAllocator) Snapshot() []allocator.SegmentInfo {
	var segments []allocator.SegmentInfo
	for _, a := range c.allocatorsSnapshot() {
		segments = append(segments, a.Snapshot()...)
	}
	return segments
}

// SetShutdownStats implements spec §4.9/§5: every device allocator
// created so far enters shutdown mode, skipping deferred-free
// bookkeeping on subsequent frees. There is no per-device variant.
func (c *CachingAllocator) SetShutdownStats() {
	for _, a := range c.allocatorsSnapshot() {
		a.SetShutdownStats()
	}
}

// EmptyCache implements spec §4.9/§6's empty_cache: release every
// whole, unsplit, free segment on every device allocator created so
// far. checkError is forwarded to each device's releaseCachedBlocks
// (spec §4.4, §7); the first hard failure, if any, aborts the sweep and
// is returned.
func (c *CachingAllocator) EmptyCache(checkError bool) error {
	for _, a := range c.allocatorsSnapshot() {
		if err := a.EmptyCache(checkError); err != nil {
			return err
		}
	}
	return nil
}

// allocatorsSnapshot returns the device allocators created so far,
// without holding c.mu across calls into them.
func (c *CachingAllocator) allocatorsSnapshot() []*allocator.DeviceCachingAllocator {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*allocator.DeviceCachingAllocator, 0, len(c.allocs))
	for _, a := range c.allocs {
		out = append(out, a)
	}
	return out
}
