package memory

import "github.com/BrightXiaoHan/pytorch-npu/memutils"

// Size-class constants, fixed by spec §4.1.
const (
	// MinBlockSize is the smallest unit a Block's size is rounded to.
	MinBlockSize = 512
	// SmallThreshold is the boundary between the small and large pools.
	SmallThreshold = 1 << 20 // 1 MiB
	// SmallBuffer is the driver allocation size used to back small-pool
	// requests.
	SmallBuffer = 2 << 20 // 2 MiB
	// LargeBuffer is the driver allocation size used to back large-pool
	// requests below MinLargeAlloc.
	LargeBuffer = 20 << 20 // 20 MiB
	// MinLargeAlloc is the rounded-request boundary above which driver
	// allocations are sized to a multiple of LargeRound instead of a
	// flat LargeBuffer.
	MinLargeAlloc = 10 << 20 // 10 MiB
	// LargeRound is the granularity driver allocations for large
	// requests at or above MinLargeAlloc are rounded up to.
	LargeRound = 2 << 20 // 2 MiB
)

func init() {
	memutils.DebugCheckPow2(uint(MinBlockSize), "MinBlockSize")
	memutils.DebugCheckPow2(uint(LargeRound), "LargeRound")
}

// RoundSize returns the smallest multiple of MinBlockSize that is at
// least max(MinBlockSize, n+32). The +32 absorbs trailing-byte overreads
// by some kernels (spec §4.1).
func RoundSize(n int) int {
	floor := n + 32
	if floor < MinBlockSize {
		floor = MinBlockSize
	}
	return memutils.AlignUp(floor, MinBlockSize)
}

// AllocSize returns the size of the driver allocation that should back a
// request that has already been rounded by RoundSize (spec §4.1).
func AllocSize(rounded int) int {
	switch {
	case rounded <= SmallThreshold:
		return SmallBuffer
	case rounded < MinLargeAlloc:
		return LargeBuffer
	default:
		return memutils.AlignUp(rounded, LargeRound)
	}
}

// IsSmall reports whether a rounded request belongs in the small pool.
func IsSmall(rounded int) bool {
	return rounded <= SmallThreshold
}
