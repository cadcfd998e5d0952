package merge

import "math/bits"

// MaxDynamicTreeSize and MaxDynamicDataSize are the chunk thresholds
// SPEC_FULL §6 fixes at 20 chunks each.
const (
	MaxDynamicTreeSize = 20
	MaxDynamicDataSize = 20
)

// OutputLevel implements SPEC_FULL §4.5: normal pairwise merges output
// at inputLevel+1. Total merges (isTotal=true) choose the output level
// dynamically from the merge's total tree/data usage in chunks, unless
// a higher level already holds trees, in which case it is placed one
// above the highest occupied level.
func OutputLevel(inputLevel int, isTotal bool, treeUsedChunks, dataUsedChunks uint64, highestOccupiedLevel int) int {
	if !isTotal {
		return inputLevel + 1
	}

	nrUnitsTree := treeUsedChunks / MaxDynamicTreeSize
	nrUnitsData := dataUsedChunks / MaxDynamicDataSize
	nrUnits := nrUnitsTree
	if nrUnitsData > nrUnits {
		nrUnits = nrUnitsData
	}

	level := ceilLog2(nrUnits)
	if level < 2 {
		level = 2
	}
	if highestOccupiedLevel >= level {
		level = highestOccupiedLevel + 1
	}
	return level
}

// ceilLog2 returns ceil(log2(n)) for n>=1; n==0 also returns 0.
func ceilLog2(n uint64) int {
	if n <= 1 {
		return 0
	}
	return bits.Len64(n - 1)
}
