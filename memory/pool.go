package memory

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/BrightXiaoHan/pytorch-npu/device"
)

// BlockPool is an ordered set of free Blocks for one size class, kept
// sorted by (stream, size, address) lexicographically (spec §3). Ties
// in size are broken by address so address-adjacent blocks within a
// segment surface as deterministic coalesce candidates (spec §4.6).
type BlockPool struct {
	Kind   PoolKind
	blocks []*Block
}

// NewBlockPool constructs an empty pool of the given kind.
func NewBlockPool(kind PoolKind) *BlockPool {
	return &BlockPool{Kind: kind}
}

func key(streamID uintptr, size int, addr device.Ptr) (uintptr, int, device.Ptr) {
	return streamID, size, addr
}

func less(aStream uintptr, aSize int, aAddr device.Ptr, bStream uintptr, bSize int, bAddr device.Ptr) bool {
	if aStream != bStream {
		return aStream < bStream
	}
	if aSize != bSize {
		return aSize < bSize
	}
	return aAddr < bAddr
}

func blockLess(a, b *Block) bool {
	return less(a.Stream.ID(), a.Size, a.Address, b.Stream.ID(), b.Size, b.Address)
}

// Len returns the number of free blocks currently in the pool.
func (p *BlockPool) Len() int { return len(p.blocks) }

// Blocks returns the pool's blocks in sorted order. Callers must not
// mutate the returned slice.
func (p *BlockPool) Blocks() []*Block { return p.blocks }

// Insert adds a free block to the pool, keeping it sorted.
func (p *BlockPool) Insert(b *Block) {
	idx := sort.Search(len(p.blocks), func(i int) bool {
		return !blockLess(p.blocks[i], b)
	})
	p.blocks = append(p.blocks, nil)
	copy(p.blocks[idx+1:], p.blocks[idx:])
	p.blocks[idx] = b
}

// Remove deletes b from the pool. It is a no-op if b is not present.
func (p *BlockPool) Remove(b *Block) {
	idx := p.indexOf(b)
	if idx < 0 {
		return
	}
	p.blocks = append(p.blocks[:idx], p.blocks[idx+1:]...)
}

func (p *BlockPool) indexOf(b *Block) int {
	lo := sort.Search(len(p.blocks), func(i int) bool {
		return !blockLess(p.blocks[i], b)
	})
	for i := lo; i < len(p.blocks); i++ {
		if p.blocks[i] == b {
			return i
		}
		if blockLess(b, p.blocks[i]) {
			break
		}
	}
	return -1
}

// LowerBound returns the index of the first free block whose key is
// >= (streamID, size, 0). Returns len(p.blocks) if none qualifies.
func (p *BlockPool) LowerBound(streamID uintptr, size int) int {
	return sort.Search(len(p.blocks), func(i int) bool {
		b := p.blocks[i]
		return !less(b.Stream.ID(), b.Size, b.Address, streamID, size, 0)
	})
}

// Find implements the spec §4.2 step 4 "reuse search": the smallest
// free block in the pool whose stream matches streamID and whose size
// is at least size. Returns nil if none exists.
func (p *BlockPool) Find(streamID uintptr, size int) *Block {
	idx := p.LowerBound(streamID, size)
	if idx >= len(p.blocks) {
		return nil
	}
	b := p.blocks[idx]
	if b.Stream.ID() != streamID {
		return nil
	}
	return b
}

// Validate checks that the pool's blocks are sorted, all present, all
// free, and free of duplicate addresses.
func (p *BlockPool) Validate() error {
	seen := make(map[device.Ptr]bool, len(p.blocks))
	for i, b := range p.blocks {
		if b.Allocated {
			return errors.Errorf("pool %s contains allocated block at %#x", p.Kind, b.Address)
		}
		if seen[b.Address] {
			return errors.Errorf("pool %s contains duplicate address %#x", p.Kind, b.Address)
		}
		seen[b.Address] = true
		if i > 0 && blockLess(p.blocks[i], p.blocks[i-1]) {
			return errors.Errorf("pool %s is not sorted at index %d", p.Kind, i)
		}
	}
	return nil
}
