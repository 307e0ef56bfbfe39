// Package allocator implements the per-device caching allocator: block
// pools, allocation search and splitting, coalescing, stream-safe
// recycling via recorded completion events, fragmentation control, OOM
// recovery, and statistics (spec §4).
package allocator

import (
	"math"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/BrightXiaoHan/pytorch-npu/device"
	"github.com/BrightXiaoHan/pytorch-npu/memory"
	"github.com/BrightXiaoHan/pytorch-npu/memutils"
)

// DeviceCachingAllocator is the caching allocator for a single device
// (spec §3, §4). All exported methods take the device's mutex for the
// duration of the call; unexported helpers assume it is already held.
type DeviceCachingAllocator struct {
	deviceID int
	driver   device.Driver
	logger   *slog.Logger
	registry *memory.CallbackRegistry

	mu sync.Mutex

	config       memory.AllocatorConfig
	smallPool    *memory.BlockPool
	largePool    *memory.BlockPool
	activeBlocks map[*memory.Block]struct{}
	events       *eventTracker
	eventPool    *EventPool

	totalAllocatedByDriver int64
	fractionCap            int64 // math.MaxInt64 means unset

	stats memory.DeviceStats

	shutdown bool
}

// New constructs a caching allocator for one device. registry may be
// nil, meaning no memory-pressure callbacks are consulted. logger may be
// nil, meaning slog.Default() is used.
func New(deviceID int, drv device.Driver, cfg memory.AllocatorConfig, registry *memory.CallbackRegistry, logger *slog.Logger) *DeviceCachingAllocator {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = memory.NewCallbackRegistry()
	}
	return &DeviceCachingAllocator{
		deviceID:     deviceID,
		driver:       drv,
		logger:       logger,
		registry:     registry,
		config:       cfg,
		smallPool:    memory.NewBlockPool(memory.Small),
		largePool:    memory.NewBlockPool(memory.Large),
		activeBlocks: make(map[*memory.Block]struct{}),
		events:       newEventTracker(),
		eventPool:    NewEventPool(drv),
		fractionCap:  math.MaxInt64,
	}
}

// DeviceID returns the device this allocator manages.
func (a *DeviceCachingAllocator) DeviceID() int { return a.deviceID }

func (a *DeviceCachingAllocator) poolFor(kind memory.PoolKind) *memory.BlockPool {
	if kind == memory.Small {
		return a.smallPool
	}
	return a.largePool
}

// allocParams tracks the state of one malloc attempt so partial state
// can be told apart from a fully committed one (spec §7: "all committed
// ... or fully rolled back").
type allocParams struct {
	streamID   uintptr
	stream     device.Stream
	rounded    int
	poolKind   memory.PoolKind
	pool       *memory.BlockPool
	allocSize  int
	oversize   bool
}

// Malloc satisfies one allocation request on the given stream for this
// allocator's device (spec §4.2). Device resolution from a caller's
// deviceID == -1 happens one layer up, in the dispatcher.
func (a *DeviceCachingAllocator) Malloc(requestedSize int, stream device.Stream) (*memory.Block, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	memutils.DebugValidate(a)
	block, err := a.malloc(requestedSize, stream)
	memutils.DebugValidate(a)
	return block, err
}

func (a *DeviceCachingAllocator) malloc(requestedSize int, stream device.Stream) (*memory.Block, error) {
	a.processEvents()

	rounded := memory.RoundSize(requestedSize)
	poolKind := memory.Small
	if !memory.IsSmall(rounded) {
		poolKind = memory.Large
	}
	params := allocParams{
		streamID:  stream.ID(),
		stream:    stream,
		rounded:   rounded,
		poolKind:  poolKind,
		pool:      a.poolFor(poolKind),
		allocSize: memory.AllocSize(rounded),
		oversize:  int64(rounded) >= a.config.MaxSplitSize,
	}

	block := a.getFreeBlock(params)
	if block == nil {
		if a.registry.InvokeAll() {
			block = a.getFreeBlock(params)
		}
	}

	if block == nil {
		var err error
		block, err = a.allocBlockWithRecovery(params)
		if err != nil {
			return nil, err
		}
	}

	a.maybeSplit(block, params)

	block.Allocated = true
	a.activeBlocks[block] = struct{}{}
	a.stats.RecordBlockAllocated(block.Pool, block.Size, params.oversize)

	return block, nil
}

// getFreeBlock implements spec §4.2 step 4: the reuse search with its
// two fragmentation guards, plus the GC-age bump.
func (a *DeviceCachingAllocator) getFreeBlock(params allocParams) *memory.Block {
	gcEnabled := a.fractionCap != math.MaxInt64 && a.config.GarbageCollectionThreshold > 0
	if gcEnabled && params.poolKind == memory.Large {
		for _, b := range a.largePool.Blocks() {
			if b.Prev == nil && b.Next == nil {
				b.GCCount++
			}
		}
	}

	hit := params.pool.Find(params.streamID, params.rounded)
	if hit == nil {
		return nil
	}

	maxSplit := a.config.MaxSplitSize
	if int64(params.rounded) < maxSplit && int64(hit.Size) >= maxSplit {
		// Do not burn an oversize block on a small request.
		return nil
	}
	if int64(params.rounded) >= maxSplit && int64(hit.Size) >= int64(params.rounded)+memory.LargeBuffer {
		// Bound the waste of oversize reuse.
		return nil
	}

	params.pool.Remove(hit)
	hit.GCCount = 0
	return hit
}

// allocBlockWithRecovery implements spec §4.2 steps 6-7: GC, driver
// allocation, and the two-stage OOM recovery ladder.
func (a *DeviceCachingAllocator) allocBlockWithRecovery(params allocParams) (*memory.Block, error) {
	if a.fractionCap != math.MaxInt64 && a.config.GarbageCollectionThreshold > 0 {
		a.garbageCollect()
	}

	block, err := a.allocBlock(params, false)
	if err == nil {
		return block, nil
	}
	if !isOOM(err) {
		return nil, err
	}

	a.releaseAvailableCachedBlocks(params)
	block, err = a.allocBlock(params, false)
	if err == nil {
		return block, nil
	}
	if !isOOM(err) {
		return nil, err
	}

	if releaseErr := a.releaseCachedBlocks(true); releaseErr != nil {
		a.logger.Warn("release_cached_blocks failed during OOM recovery", "error", releaseErr)
	}
	block, err = a.allocBlock(params, true)
	if err == nil {
		return block, nil
	}
	if !isOOM(err) {
		return nil, err
	}

	a.stats.NumOOMs++
	return nil, a.formatOOM(params, err)
}

// allocBlock wraps a fresh driver allocation in a new head Block (spec
// §4.2 step 6b). If retry is true, NumAllocRetries is incremented.
func (a *DeviceCachingAllocator) allocBlock(params allocParams, retry bool) (*memory.Block, error) {
	if retry {
		a.stats.NumAllocRetries++
	}

	if a.fractionCap != math.MaxInt64 && a.totalAllocatedByDriver+int64(params.allocSize) > a.fractionCap {
		return nil, device.ErrOutOfMemory
	}

	addr, err := a.driver.Alloc(params.allocSize)
	if err != nil {
		return nil, err
	}

	block := memory.NewBlock(a.deviceID, addr, params.allocSize, params.poolKind, params.stream)
	a.totalAllocatedByDriver += int64(params.allocSize)
	a.stats.RecordSegmentCreated(params.poolKind, params.allocSize, int64(params.allocSize) >= a.config.MaxSplitSize)
	return block, nil
}

func isOOM(err error) bool {
	return errors.Is(err, device.ErrOutOfMemory)
}

// maybeSplit implements spec §4.2 step 8.
func (a *DeviceCachingAllocator) maybeSplit(chosen *memory.Block, params allocParams) {
	if !a.shouldSplit(chosen, params) {
		return
	}
	a.split(chosen, params.rounded)
}

// SetFractionCap sets the byte ceiling on driver allocations for this
// device directly. math.MaxInt64 means unset. Exported for tests and
// for callers that already know the byte budget they want; SetMemoryFraction
// is the spec-facing entry point that derives this from a fraction of
// total device memory.
func (a *DeviceCachingAllocator) SetFractionCap(bytes int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fractionCap = bytes
}

// SetMemoryFraction implements spec §4.9's set_memory_fraction:
// fraction must lie in [0,1], and the byte cap is floor(fraction *
// driver-reported total device memory).
func (a *DeviceCachingAllocator) SetMemoryFraction(fraction float64) error {
	if fraction < 0 || fraction > 1 {
		return errors.Newf("set_memory_fraction: fraction %f out of range [0,1]", fraction)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	total, _ := a.driver.MemoryInfo()
	a.fractionCap = int64(fraction * float64(total))
	return nil
}

// Stats returns a copy of the device's current statistics.
func (a *DeviceCachingAllocator) Stats() memory.DeviceStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// ResetAccumulatedStats zeroes allocated/freed and the retry/OOM
// counters (spec §4.8).
func (a *DeviceCachingAllocator) ResetAccumulatedStats() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.ResetAccumulatedStats()
}

// ResetPeakStats sets peak = current for every counter (spec §4.8).
func (a *DeviceCachingAllocator) ResetPeakStats() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.ResetPeakStats()
}

// CacheInfo reports the total device memory and the largest block
// currently obtainable without a new driver allocation (spec §6
// cache_info).
func (a *DeviceCachingAllocator) CacheInfo() (total, largest int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	total, _ = a.driver.MemoryInfo()
	for _, b := range a.smallPool.Blocks() {
		if b.Size > largest {
			largest = b.Size
		}
	}
	for _, b := range a.largePool.Blocks() {
		if b.Size > largest {
			largest = b.Size
		}
	}
	return total, largest
}

// SetShutdownStats puts the allocator into shutdown mode: Free skips
// event recording and releases synchronously (spec §5).
func (a *DeviceCachingAllocator) SetShutdownStats() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdown = true
}

// Validate checks cross-cutting invariants across both pools and the
// active set (spec §8). Only ever invoked under the debug_npu_alloc
// build tag.
func (a *DeviceCachingAllocator) Validate() error {
	if err := a.smallPool.Validate(); err != nil {
		return err
	}
	if err := a.largePool.Validate(); err != nil {
		return err
	}
	for b := range a.activeBlocks {
		if !b.Allocated {
			return errors.Newf("block at %#x is in activeBlocks but not marked allocated", b.Address)
		}
		if err := b.Validate(); err != nil {
			return err
		}
	}
	return nil
}
