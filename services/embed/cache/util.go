package cache

import (
	"math"
	"time"
)

func float32Bits(f float32) uint32     { return math.Float32bits(f) }
func float32FromBits(b uint32) float32 { return math.Float32frombits(b) }

// nowUnixNano is split out so tests can't accidentally depend on wall-clock
// ordering across platforms; kept trivial since the cache only ever needs a
// monotonically-increasing timestamp for bookkeeping, not wall-clock
// accuracy.
func nowUnixNano() int64 { return time.Now().UnixNano() }
