package allocator

import "github.com/BrightXiaoHan/pytorch-npu/memory"

// garbageCollect implements spec §4.3: release free, unsplit large-pool
// segments whose age (GCCount) is at or above the pool's average age.
// Each pass recomputes the average over whatever remains and releases
// every eligible segment in that pass — it does not stop the moment
// the target has been reached — then loops again with the shrunken
// population. The outer loop itself stops once the target has been met
// or a pass releases nothing. Only invoked when a fraction cap and a
// garbage-collection threshold are both configured.
func (a *DeviceCachingAllocator) garbageCollect() {
	if a.fractionCap <= 0 {
		return
	}
	threshold := int64(float64(a.fractionCap) * a.config.GarbageCollectionThreshold)
	if a.totalAllocatedByDriver <= threshold {
		return
	}
	target := a.totalAllocatedByDriver - threshold

	a.driver.Synchronize()

	var reclaimed int64
	for reclaimed < target {
		candidates, totalAge := a.freeLargeSegments()
		if len(candidates) == 0 {
			return
		}
		avgAge := totalAge / int64(len(candidates))

		var freedThisPass int64
		for _, b := range candidates {
			if int64(b.GCCount) < avgAge {
				continue
			}
			a.largePool.Remove(b)
			a.releaseSegment(b)
			freedThisPass += int64(b.Size)
		}
		if freedThisPass == 0 {
			return
		}
		reclaimed += freedThisPass
	}
}

// freeLargeSegments collects every whole, unsplit, free large-pool
// segment along with the sum of their ages, for one garbageCollect pass.
func (a *DeviceCachingAllocator) freeLargeSegments() ([]*memory.Block, int64) {
	var candidates []*memory.Block
	var totalAge int64
	for _, b := range a.largePool.Blocks() {
		if b.Prev != nil || b.Next != nil {
			continue // only whole, unsplit segments are released
		}
		candidates = append(candidates, b)
		totalAge += int64(b.GCCount)
	}
	return candidates, totalAge
}
