// Package batch implements the planner described in spec §4.5: split a
// caller's text list into cache hits, single-flight waiters, and
// to-compute slots; submit the to-compute slots to the worker pool in
// max_batch_size chunks; reassemble everything back into the caller's
// original order.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vectorforge/embedcore/services/embed/cache"
	"github.com/vectorforge/embedcore/services/embed/embederr"
	"github.com/vectorforge/embedcore/services/embed/fingerprint"
	"github.com/vectorforge/embedcore/services/embed/pool"
	"github.com/vectorforge/embedcore/services/embed/vector"
)

// Stats summarizes one Plan's execution, surfaced to callers as
// response.performance fields.
type Stats struct {
	CacheHits   int
	CacheMisses int
	BatchesSent int
	Retries     int
}

// Outcome is Plan's result: one slot per input text, in input order. Err is
// set per-slot so a partial failure doesn't have to fail every other slot.
type Outcome struct {
	Vectors []vector.Vector
	Errs    []error
	Stats   Stats
}

// Submitter is the slice of pool.Pool the planner depends on. Accepting the
// interface rather than *pool.Pool directly lets tests exercise the
// planner's reassembly/single-flight logic without spawning real worker
// subprocesses.
type Submitter interface {
	Submit(ctx context.Context, batchID string, texts []string) (<-chan pool.Result, error)
}

// Planner composes a cache.Store and a Submitter to implement Embed's core
// algorithm. It holds no per-call state; every field is read-only after
// construction.
type Planner struct {
	Cache        *cache.Store
	Pool         Submitter
	MaxBatchSize int
}

type slotKind int

const (
	slotHit slotKind = iota
	slotWaiting
	slotToCompute
)

type slot struct {
	kind  slotKind
	fp    fingerprint.Fingerprint
	text  string
	res   *cache.Reservation
	index int // position in the caller's original texts/output slice
}

// Plan runs steps 1-7 of spec §4.5 for one Embed call. texts must be
// non-empty; fps must be the same length as texts and already computed by
// the facade (the planner doesn't own fingerprinting so it can be unit
// tested without touching SHA-256 specifics).
func (p *Planner) Plan(ctx context.Context, texts []string, fps []fingerprint.Fingerprint) Outcome {
	n := len(texts)
	out := Outcome{Vectors: make([]vector.Vector, n), Errs: make([]error, n)}
	if n == 0 {
		return out
	}

	var waiting, toCompute []slot

	for i, fp := range fps {
		if v, hit := p.Cache.Get(fp); hit {
			out.Vectors[i] = v
			out.Stats.CacheHits++
			continue
		}

		res, isLeader, hit := p.Cache.Reserve(fp)
		if hit {
			// Published between our Get and Reserve; re-read.
			v, _ := p.Cache.Get(fp)
			out.Vectors[i] = v
			out.Stats.CacheHits++
			continue
		}
		out.Stats.CacheMisses++
		if isLeader {
			toCompute = append(toCompute, slot{kind: slotToCompute, fp: fp, text: texts[i], res: res, index: i})
		} else {
			waiting = append(waiting, slot{kind: slotWaiting, fp: fp, text: texts[i], res: res, index: i})
		}
	}

	p.dispatchToCompute(ctx, toCompute, out.Vectors, out.Errs, &out.Stats)

	for _, s := range waiting {
		v, err := p.Cache.Wait(s.res)
		if err != nil {
			out.Errs[s.index] = err
			continue
		}
		out.Vectors[s.index] = v
	}

	return out
}

// dispatchToCompute partitions toCompute into MaxBatchSize-sized chunks,
// submits each to the pool, and publishes/abandons reservations based on
// the pool's response — step 4-6 of spec §4.5's algorithm. Indices left
// over from a partial batch are not abandoned immediately: they are
// collected and given exactly one automatic re-submit (spec §7: "Partial
// may trigger one automatic re-submit of the missing indices; on second
// failure, surfaced"), honoring the caller's original ctx/deadline rather
// than granting the retry a fresh one (SPEC_FULL.md's resolution of the
// corresponding Open Question).
func (p *Planner) dispatchToCompute(ctx context.Context, toCompute []slot, vectors []vector.Vector, errs []error, stats *Stats) {
	if len(toCompute) == 0 {
		return
	}

	maxBatch := p.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = len(toCompute)
	}

	type pending struct {
		slots   []slot
		resultC <-chan pool.Result
	}
	var inflight []pending

	submit := func(chunk []slot) (<-chan pool.Result, error) {
		texts := make([]string, len(chunk))
		for i, s := range chunk {
			texts[i] = s.text
		}
		return p.Pool.Submit(ctx, "", texts)
	}

	for start := 0; start < len(toCompute); start += maxBatch {
		end := start + maxBatch
		if end > len(toCompute) {
			end = len(toCompute)
		}
		chunk := toCompute[start:end]

		resultC, err := submit(chunk)
		if err != nil {
			for _, s := range chunk {
				p.Cache.Abandon(s.res, err)
				errs[s.index] = err
			}
			continue
		}
		stats.BatchesSent++
		inflight = append(inflight, pending{slots: chunk, resultC: resultC})
	}

	// Each batch's result arrives on its own channel independently of the
	// others, so the wait fans out with an errgroup rather than draining
	// inflight in submission order — a batch that finishes late never holds
	// up reassembly of the ones that already came back. Every chunk touches
	// disjoint indices of vectors/errs, so only the shared retryMissing
	// accumulator needs its own lock.
	var mu sync.Mutex
	var retryMissing []slot
	g, _ := errgroup.WithContext(ctx)
	for _, pend := range inflight {
		pend := pend
		g.Go(func() error {
			res := <-pend.resultC
			missing := p.applyBatchResult(pend.slots, res, vectors, errs, false)
			if len(missing) > 0 {
				mu.Lock()
				retryMissing = append(retryMissing, missing...)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	if len(retryMissing) == 0 {
		return
	}

	stats.Retries++
	resultC, err := submit(retryMissing)
	if err != nil {
		for _, s := range retryMissing {
			p.Cache.Abandon(s.res, err)
			errs[s.index] = err
		}
		return
	}
	stats.BatchesSent++
	res := <-resultC
	// Second attempt is final: whatever is still missing is abandoned with
	// Partial and surfaced, per spec §7's "on second failure, surfaced".
	p.applyBatchResult(retryMissing, res, vectors, errs, true)
}

// applyBatchResult publishes/abandons reservations for one batch's result.
// When final is false, slots beyond a partial result's vector count are
// left un-abandoned and returned to the caller for a retry; when final is
// true (the retry attempt itself, or any attempt where the caller declines
// a retry) they are abandoned with Partial instead.
func (p *Planner) applyBatchResult(slots []slot, res pool.Result, vectors []vector.Vector, errs []error, final bool) []slot {
	if res.Err != nil {
		for _, s := range slots {
			p.Cache.Abandon(s.res, res.Err)
			errs[s.index] = res.Err
		}
		return nil
	}

	var missing []slot
	for i, s := range slots {
		if i >= len(res.Vectors) {
			if final {
				p.Cache.Abandon(s.res, embederr.ErrPartial)
				errs[s.index] = embederr.ErrPartial
			} else {
				missing = append(missing, s)
			}
			continue
		}
		v := res.Vectors[i]
		if err := p.Cache.Publish(s.res, v); err != nil {
			if errors.Is(err, embederr.ErrStorageFull) {
				// Not cached, but the computed vector still goes to the caller.
				vectors[s.index] = v
				continue
			}
			errs[s.index] = err
			continue
		}
		vectors[s.index] = v
	}
	return missing
}

// PlanErr collapses a per-slot Outcome into a single error when the caller
// wants all-or-nothing semantics (used by the HTTP layer, which never
// returns a half-filled success body per spec §7).
func PlanErr(out Outcome) error {
	for _, e := range out.Errs {
		if e != nil {
			return fmt.Errorf("batch: %w", e)
		}
	}
	return nil
}
