package utils

import (
	"runtime"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
	quarterProcs := float64(ParallelFactor) * .25
	if quarterProcs > 8 {
		ParallelFactor = int(quarterProcs)
	}
}

// Parallelism returns requested when it is positive and ParallelFactor otherwise.
func Parallelism(requested int) int {
	if requested > 0 {
		return requested
	}
	return ParallelFactor
}
