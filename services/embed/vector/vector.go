// Package vector defines the fixed-dimension float32 embedding vector used
// throughout the embedding core and the helpers to validate and normalize it.
package vector

import (
	"math"

	"github.com/vectorforge/embedcore/services/embed/embederr"
)

// Dim is the fixed dimensionality of every vector produced by the pool.
// The model this service fronts (BGE-small) is fixed at 384 dimensions;
// nothing in the core supports mixed-dimension vectors in one cache.
const Dim = 384

// Vector is a single embedding. Callers must treat it as immutable once it
// leaves the cache or pool: a freshly computed vector is the same slice
// handed to every waiter on its fingerprint. Reads from the cache are
// copies decoded from the vector region, not slices of the mapped memory.
type Vector []float32

// Validate checks the finiteness invariant from spec §3 (all components
// finite) and that v has exactly wantDim components. wantDim is the
// dimensionality the calling cache/pool was configured with — normally
// Dim, but tests exercise the format with smaller dimensions, so this
// never hardcodes 384 itself.
func Validate(v Vector, wantDim int) error {
	if len(v) != wantDim {
		return embederr.ErrInvalidVector
	}
	for _, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return embederr.ErrInvalidVector
		}
	}
	return nil
}

// Norm returns the Euclidean (L2) norm of v.
func Norm(v Vector) float64 {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	return math.Sqrt(sumSq)
}

// Normalize returns a unit-norm copy of v. A zero vector is returned
// unchanged (there is no direction to normalize to).
func Normalize(v Vector) Vector {
	n := Norm(v)
	if n == 0 {
		out := make(Vector, len(v))
		copy(out, v)
		return out
	}
	out := make(Vector, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / n)
	}
	return out
}

// Clone returns a copy of v, safe to mutate independently of the original.
func Clone(v Vector) Vector {
	out := make(Vector, len(v))
	copy(out, v)
	return out
}
