package memory

import (
	"github.com/pkg/errors"

	"github.com/BrightXiaoHan/pytorch-npu/device"
)

// PoolKind distinguishes the small and large block pools (spec §3).
type PoolKind int

const (
	// Small holds the blocks of SmallBuffer segments, which serve
	// requests rounded to at most SmallThreshold.
	Small PoolKind = iota
	// Large holds everything else.
	Large
)

func (k PoolKind) String() string {
	if k == Small {
		return "small"
	}
	return "large"
}

// Block is the allocator's unit of account: a contiguous span of device
// memory, either free (held in a BlockPool) or in use (spec §3).
type Block struct {
	DeviceID int
	Stream   device.Stream
	Address  device.Ptr
	Size     int
	Pool     PoolKind

	Allocated bool

	// Prev/Next link neighboring Blocks within the same driver-allocated
	// segment, in address order. Both are nil for a standalone,
	// unsplit segment.
	Prev *Block
	Next *Block

	// StreamUses is the set of streams that have consumed this block
	// since it was allocated, keyed by Stream.ID(). Empty for a free
	// block.
	StreamUses map[uintptr]device.Stream

	// EventCount is how many recorded completion events still refer to
	// this block. Always 0 for a free block.
	EventCount int

	// GCCount ages a free large-pool block each time it is passed over
	// by a GC-eligible search (spec §4.3).
	GCCount int
}

// NewBlock constructs a standalone (unsplit) Block wrapping a fresh
// driver allocation.
func NewBlock(deviceID int, addr device.Ptr, size int, pool PoolKind, stream device.Stream) *Block {
	return &Block{
		DeviceID: deviceID,
		Stream:   stream,
		Address:  addr,
		Size:     size,
		Pool:     pool,
	}
}

// IsHead reports whether b is the first block of its segment chain —
// the only block that may be released to the driver as a whole (spec
// §3).
func (b *Block) IsHead() bool {
	return b.Prev == nil
}

// IsSplitChild reports whether b has any neighbor, meaning it was
// produced by splitting and cannot be released to the driver on its
// own.
func (b *Block) IsSplitChild() bool {
	return b.Prev != nil || b.Next != nil
}

// AddStreamUse records that s has consumed this block. Idempotent (spec
// §4.5, record_stream).
func (b *Block) AddStreamUse(s device.Stream) {
	if b.StreamUses == nil {
		b.StreamUses = make(map[uintptr]device.Stream)
	}
	b.StreamUses[s.ID()] = s
}

// RemoveStreamUse best-effort removes s from the block's stream-use set
// (spec §4.5, erase_stream). It reports whether s had been present.
func (b *Block) RemoveStreamUse(s device.Stream) bool {
	if b.StreamUses == nil {
		return false
	}
	_, ok := b.StreamUses[s.ID()]
	delete(b.StreamUses, s.ID())
	return ok
}

// Validate checks the invariants spec §3 states for a single Block. It
// is only ever invoked by memutils.DebugValidate (debug builds).
func (b *Block) Validate() error {
	if b.Size <= 0 || b.Size%MinBlockSize != 0 {
		return errors.Errorf("block at %#x has invalid size %d", b.Address, b.Size)
	}
	if !b.Allocated && len(b.StreamUses) != 0 {
		return errors.Errorf("free block at %#x has non-empty stream uses", b.Address)
	}
	if !b.Allocated && b.EventCount != 0 {
		return errors.Errorf("free block at %#x has non-zero event count", b.Address)
	}
	if b.Prev != nil {
		if b.Prev.Next != b {
			return errors.Errorf("block at %#x: prev link is not reciprocal", b.Address)
		}
		if b.Prev.Address+device.Ptr(b.Prev.Size) != b.Address {
			return errors.Errorf("block at %#x is not address-contiguous with its prev", b.Address)
		}
	}
	if b.Next != nil && b.Next.Prev != b {
		return errors.Errorf("block at %#x: next link is not reciprocal", b.Address)
	}
	return nil
}
