// Package fingerprint computes the content-addressed cache key used
// throughout the embedding core. See spec §4.1: the fingerprint must be
// deterministic across machines and Go versions, and normalization is
// limited to trimming surrounding whitespace — inner bytes are never
// touched, since the fingerprint is a durable on-disk key and
// over-aggressive normalization would silently collapse distinct inputs.
package fingerprint

import (
	"crypto/sha256"
	"strings"

	"github.com/vectorforge/embedcore/services/embed/embederr"
)

// Size is the fixed byte length of a fingerprint.
const Size = 32

// Fingerprint is a 32-byte content-addressed key.
type Fingerprint [Size]byte

// Zero is the zero-value fingerprint, never produced by Compute for valid
// input. Callers use it as a "no fingerprint yet" sentinel.
var Zero Fingerprint

// Compute derives the fingerprint of text per spec §4.1: trim leading and
// trailing whitespace, then SHA-256 the remaining bytes exactly as given.
// Empty input (after trimming) fails with embederr.ErrInvalidInput.
func Compute(text string) (Fingerprint, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Zero, embederr.ErrInvalidInput
	}
	return Fingerprint(sha256.Sum256([]byte(trimmed))), nil
}

// String renders the fingerprint as lowercase hex, used in log fields and
// cache keys where a human-readable form is convenient.
func (f Fingerprint) String() string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 2*Size)
	for i, b := range f {
		buf[2*i] = hexDigits[b>>4]
		buf[2*i+1] = hexDigits[b&0x0f]
	}
	return string(buf)
}

// IsZero reports whether f is the zero fingerprint.
func (f Fingerprint) IsZero() bool {
	return f == Zero
}

// Parse decodes a hex-encoded fingerprint, as supplied by a caller that
// already computed one client-side (spec §3: "caller-supplied when
// available").
func Parse(s string) (Fingerprint, error) {
	var fp Fingerprint
	if len(s) != 2*Size {
		return Zero, embederr.ErrInvalidInput
	}
	for i := 0; i < Size; i++ {
		hi, ok1 := hexVal(s[2*i])
		lo, ok2 := hexVal(s[2*i+1])
		if !ok1 || !ok2 {
			return Zero, embederr.ErrInvalidInput
		}
		fp[i] = hi<<4 | lo
	}
	return fp, nil
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
