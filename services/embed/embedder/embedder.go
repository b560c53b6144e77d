// Package embedder implements the facade described in spec §4.6: a single
// Embed method composing fingerprinting, the cache, and the batch planner,
// plus Health and CacheStats views aggregated from its dependencies.
package embedder

import (
	"context"
	"time"

	"github.com/vectorforge/embedcore/services/embed/batch"
	"github.com/vectorforge/embedcore/services/embed/cache"
	"github.com/vectorforge/embedcore/services/embed/embederr"
	"github.com/vectorforge/embedcore/services/embed/fingerprint"
	"github.com/vectorforge/embedcore/services/embed/globalcache"
	"github.com/vectorforge/embedcore/services/embed/vector"
)

// Options customizes a single Embed call.
type Options struct {
	// RequestID is echoed back in Stats.RequestID if the caller supplied
	// options.request_id. The HTTP layer copies it into a success response's
	// metadata; HTTP error bodies do not carry it.
	RequestID string
	// Fingerprints lets a caller that already computed fingerprints skip
	// recomputation; must be the same length as texts if non-nil.
	Fingerprints []fingerprint.Fingerprint
}

// Stats mirrors the HTTP response's "performance" object.
type Stats struct {
	RequestID   string
	CacheHits   int
	CacheMisses int
	BatchesSent int
	Retries     int
	ElapsedMS   int64
}

// Embedder is the single entry point consumers of the core use.
type Embedder struct {
	cache   *cache.Store
	mirror  *globalcache.Mirror
	planner *batch.Planner
	modelID string
}

// New constructs an Embedder. mirror may be nil (mirror-disabled
// deployments behave identically to always-miss).
func New(store *cache.Store, mirror *globalcache.Mirror, pool batch.Submitter, maxBatchSize int, modelID string) *Embedder {
	return &Embedder{
		cache:   store,
		mirror:  mirror,
		planner: &batch.Planner{Cache: store, Pool: pool, MaxBatchSize: maxBatchSize},
		modelID: modelID,
	}
}

// Embed computes (or retrieves from cache) one vector per input text,
// returned in the caller's input order. texts may be empty, in which case
// Embed returns immediately with no worker dispatch (spec §8 boundary
// behavior).
func (e *Embedder) Embed(ctx context.Context, texts []string, opts Options) ([]vector.Vector, Stats, error) {
	start := time.Now()
	stats := Stats{RequestID: opts.RequestID}

	if len(texts) == 0 {
		stats.ElapsedMS = time.Since(start).Milliseconds()
		return []vector.Vector{}, stats, nil
	}

	fps, err := e.resolveFingerprints(texts, opts.Fingerprints)
	if err != nil {
		return nil, stats, err
	}

	e.consultMirror(ctx, fps)

	out := e.planner.Plan(ctx, texts, fps)

	e.publishToMirror(ctx, fps, out)

	stats.CacheHits = out.Stats.CacheHits
	stats.CacheMisses = out.Stats.CacheMisses
	stats.BatchesSent = out.Stats.BatchesSent
	stats.Retries = out.Stats.Retries
	stats.ElapsedMS = time.Since(start).Milliseconds()

	if err := batch.PlanErr(out); err != nil {
		// Return the partially-assembled vectors alongside the error so the
		// HTTP layer can report which indices are missing (spec §7's
		// "detail lists the missing input indices").
		return out.Vectors, stats, err
	}
	return out.Vectors, stats, nil
}

func (e *Embedder) resolveFingerprints(texts []string, supplied []fingerprint.Fingerprint) ([]fingerprint.Fingerprint, error) {
	if supplied != nil {
		if len(supplied) != len(texts) {
			return nil, embederr.ErrInvalidInput
		}
		return supplied, nil
	}
	fps := make([]fingerprint.Fingerprint, len(texts))
	for i, t := range texts {
		fp, err := fingerprint.Compute(t)
		if err != nil {
			return nil, err
		}
		fps[i] = fp
	}
	return fps, nil
}

// consultMirror warms the local cache from the global mirror for any
// fingerprint the local cache doesn't already have, ahead of the planner
// running — so a mirror hit looks identical to a local cache hit by the
// time Plan runs. Best-effort: mirror errors are swallowed, matching the
// coalescing-layer design in SPEC_FULL.md §4.9.
//
// If Reserve reports isLeader=false, some other in-flight Reserve already
// owns fp's pendingCompute (a concurrent Embed call is computing it, most
// likely racing this same consult). That pendingCompute is shared with its
// real leader, so it must never be touched here — Abandon-ing someone
// else's reservation would poison their compute and double-close the
// shared done channel when they eventually Publish. Skipping is correct:
// the real leader's own Publish will populate the cache shortly.
func (e *Embedder) consultMirror(ctx context.Context, fps []fingerprint.Fingerprint) {
	if e.mirror == nil {
		return
	}
	for _, fp := range fps {
		if _, hit := e.cache.Get(fp); hit {
			continue
		}
		v, ok, err := e.mirror.Load(ctx, fp, e.modelID)
		if err != nil || !ok {
			continue
		}
		if res, isLeader, hit := e.cache.Reserve(fp); isLeader && !hit {
			e.cache.Publish(res, v)
		}
	}
}

// publishToMirror writes every freshly-computed vector back to the global
// mirror so the next process to start warms from it.
func (e *Embedder) publishToMirror(ctx context.Context, fps []fingerprint.Fingerprint, out batch.Outcome) {
	if e.mirror == nil {
		return
	}
	for i, v := range out.Vectors {
		if v == nil || out.Errs[i] != nil {
			continue
		}
		e.mirror.Store(ctx, fps[i], e.modelID, v)
	}
}

// HealthReport is returned by Health.
type HealthReport struct {
	PoolReady bool
}

// PoolReadyChecker is the slice of pool.Pool Health needs.
type PoolReadyChecker interface {
	Ready() bool
}

// Health reports pool readiness; cache readiness is implicit (Open already
// succeeded or the process wouldn't be running).
func (e *Embedder) Health(pool PoolReadyChecker) HealthReport {
	return HealthReport{PoolReady: pool == nil || pool.Ready()}
}

// CacheStats exposes the cache's live_count/capacity for /status.
func (e *Embedder) CacheStats() cache.Stats {
	return e.cache.Stats()
}
