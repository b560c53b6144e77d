// Package embederr defines the error taxonomy shared by every embedding-core
// component. Errors are sentinel values so callers can classify failures with
// errors.Is regardless of how many times they were wrapped with fmt.Errorf.
package embederr

import "errors"

// Sentinel errors. These map directly onto the HTTP status codes the
// httpapi package assigns to each kind (see httpapi.statusFor).
var (
	// ErrInvalidInput covers malformed requests, empty text, and dimension
	// mismatches in caller-supplied data.
	ErrInvalidInput = errors.New("embedcore: invalid input")

	// ErrOverloaded is returned by the worker pool when the pending queue
	// exceeds its high-water mark. Retriable with backoff.
	ErrOverloaded = errors.New("embedcore: overloaded")

	// ErrTimeout is returned when a batch exceeds its hard deadline with no
	// partial result available.
	ErrTimeout = errors.New("embedcore: timeout")

	// ErrPartial indicates some indices of a request were not fulfilled. The
	// caller may retry only the missing indices.
	ErrPartial = errors.New("embedcore: partial result")

	// ErrWorkerCrashed indicates an in-flight batch was lost to a worker
	// crash. Surfaced to callers only when replacement also fails.
	ErrWorkerCrashed = errors.New("embedcore: worker crashed")

	// ErrStorageFull indicates the on-disk cache could not complete a
	// write. The computed vector is still returned to the caller.
	ErrStorageFull = errors.New("embedcore: cache storage full")

	// ErrDraining indicates the server is shutting down and refuses new
	// work.
	ErrDraining = errors.New("embedcore: draining")

	// ErrDegraded indicates the worker pool could not maintain its worker
	// count and is failing new submissions fast.
	ErrDegraded = errors.New("embedcore: degraded")

	// ErrCancelled indicates the caller aborted the request.
	ErrCancelled = errors.New("embedcore: cancelled")

	// ErrInvalidVector indicates a vector failed dimension or finiteness
	// checks on publish.
	ErrInvalidVector = errors.New("embedcore: invalid vector")

	// ErrNotFound indicates a lookup (client, snapshot, cache entry) found
	// nothing.
	ErrNotFound = errors.New("embedcore: not found")
)

// Kind returns the taxonomy label used in HTTP error bodies and structured
// log fields, e.g. "InvalidInput", "Overloaded". Unrecognized errors map to
// "Internal".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	case errors.Is(err, ErrOverloaded):
		return "Overloaded"
	case errors.Is(err, ErrTimeout):
		return "Timeout"
	case errors.Is(err, ErrPartial):
		return "Partial"
	case errors.Is(err, ErrWorkerCrashed):
		return "WorkerCrashed"
	case errors.Is(err, ErrStorageFull):
		return "StorageFull"
	case errors.Is(err, ErrDraining):
		return "Draining"
	case errors.Is(err, ErrDegraded):
		return "Degraded"
	case errors.Is(err, ErrCancelled):
		return "Cancelled"
	case errors.Is(err, ErrInvalidVector):
		return "InvalidInput"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	default:
		return "Internal"
	}
}
