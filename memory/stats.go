package memory

// StatType enumerates the counter families tracked per pool and in
// aggregate (spec §4.8). Each is a (current, peak, allocated, freed)
// quadruple.
type StatType int

const (
	StatAllocationCount StatType = iota
	StatAllocatedBytes
	StatSegmentCount
	StatReservedBytes
	StatActiveCount
	StatActiveBytes
	StatInactiveSplitCount
	StatInactiveSplitBytes
	StatOversizeAllocationCount
	StatOversizeSegmentCount
	numStatTypes
)

// StatArrayKind selects which view of a StatArray to read: one of the
// two pools, or the aggregate across both.
type StatArrayKind int

const (
	StatSmall StatArrayKind = iota
	StatLarge
	StatAggregate
	numStatArrayKinds
)

// Stat is a single counter quadruple: current value, peak-ever-seen
// value, and cumulative positive (Allocated) and negative (Freed)
// deltas since the last reset (spec §4.8).
type Stat struct {
	Current   int64
	Peak      int64
	Allocated int64
	Freed     int64
}

func (s *Stat) increase(amount int64) {
	s.Current += amount
	if amount > 0 {
		s.Allocated += amount
	}
	if s.Current > s.Peak {
		s.Peak = s.Current
	}
}

func (s *Stat) decrease(amount int64) {
	s.Current -= amount
	s.Freed += amount
}

func (s *Stat) resetAccumulated() {
	s.Allocated = 0
	s.Freed = 0
}

func (s *Stat) resetPeak() {
	s.Peak = s.Current
}

// StatArray holds one Stat per StatArrayKind (small / large / aggregate)
// for a single StatType.
type StatArray [numStatArrayKinds]Stat

// DeviceStats is the full statistics block for one device (spec §4.8):
// one StatArray per StatType, plus the two scalar counters.
type DeviceStats struct {
	Stats [numStatTypes]StatArray

	NumOOMs         int64
	NumAllocRetries int64
}

// poolKindToArrayKind maps a PoolKind to its StatArrayKind.
func poolKindToArrayKind(k PoolKind) StatArrayKind {
	if k == Small {
		return StatSmall
	}
	return StatLarge
}

// Increase bumps StatType t's current/peak/allocated counters for both
// the owning pool and the aggregate view by amount.
func (d *DeviceStats) Increase(t StatType, pool PoolKind, amount int64) {
	d.Stats[t][poolKindToArrayKind(pool)].increase(amount)
	d.Stats[t][StatAggregate].increase(amount)
}

// Decrease bumps StatType t's current/freed counters for both the
// owning pool and the aggregate view by amount.
func (d *DeviceStats) Decrease(t StatType, pool PoolKind, amount int64) {
	d.Stats[t][poolKindToArrayKind(pool)].decrease(amount)
	d.Stats[t][StatAggregate].decrease(amount)
}

// RecordBlockAllocated updates allocation/active/oversize counters for a
// block of size bytes becoming allocated in pool.
func (d *DeviceStats) RecordBlockAllocated(pool PoolKind, size int, oversize bool) {
	d.Increase(StatAllocationCount, pool, 1)
	d.Increase(StatAllocatedBytes, pool, int64(size))
	d.Increase(StatActiveCount, pool, 1)
	d.Increase(StatActiveBytes, pool, int64(size))
	if oversize {
		d.Increase(StatOversizeAllocationCount, pool, 1)
	}
}

// RecordBlockAllocatedFreed updates allocation-side counters for a block
// leaving the "allocated" state (spec §4.8 "allocation").
func (d *DeviceStats) RecordBlockAllocatedFreed(pool PoolKind, size int, oversize bool) {
	d.Decrease(StatAllocationCount, pool, 1)
	d.Decrease(StatAllocatedBytes, pool, int64(size))
	if oversize {
		d.Decrease(StatOversizeAllocationCount, pool, 1)
	}
}

// RecordBlockInactive updates the active counters when a
// block that was allocated leaves the active set for good (its deferred
// events have all drained and it becomes plain free memory).
func (d *DeviceStats) RecordBlockInactive(pool PoolKind, size int) {
	d.Decrease(StatActiveCount, pool, 1)
	d.Decrease(StatActiveBytes, pool, int64(size))
}

// RecordSegmentCreated updates segment/reserved counters for a fresh
// driver allocation.
func (d *DeviceStats) RecordSegmentCreated(pool PoolKind, size int, oversize bool) {
	d.Increase(StatSegmentCount, pool, 1)
	d.Increase(StatReservedBytes, pool, int64(size))
	if oversize {
		d.Increase(StatOversizeSegmentCount, pool, 1)
	}
}

// RecordSegmentReleased updates segment/reserved counters for a driver
// allocation being returned.
func (d *DeviceStats) RecordSegmentReleased(pool PoolKind, size int, oversize bool) {
	d.Decrease(StatSegmentCount, pool, 1)
	d.Decrease(StatReservedBytes, pool, int64(size))
	if oversize {
		d.Decrease(StatOversizeSegmentCount, pool, 1)
	}
}

// RecordInactiveSplitDelta adjusts the inactive-split counters (free
// blocks that are split-children only) by count/size deltas, which may
// be negative.
func (d *DeviceStats) RecordInactiveSplitDelta(pool PoolKind, count, size int64) {
	if count > 0 {
		d.Increase(StatInactiveSplitCount, pool, count)
	} else if count < 0 {
		d.Decrease(StatInactiveSplitCount, pool, -count)
	}
	if size > 0 {
		d.Increase(StatInactiveSplitBytes, pool, size)
	} else if size < 0 {
		d.Decrease(StatInactiveSplitBytes, pool, -size)
	}
}

// ResetAccumulatedStats zeroes Allocated/Freed on every counter plus the
// retry/OOM counters (spec §4.8).
func (d *DeviceStats) ResetAccumulatedStats() {
	for t := range d.Stats {
		for k := range d.Stats[t] {
			d.Stats[t][k].resetAccumulated()
		}
	}
	d.NumOOMs = 0
	d.NumAllocRetries = 0
}

// ResetPeakStats sets Peak = Current on every counter (spec §4.8).
func (d *DeviceStats) ResetPeakStats() {
	for t := range d.Stats {
		for k := range d.Stats[t] {
			d.Stats[t][k].resetPeak()
		}
	}
}
