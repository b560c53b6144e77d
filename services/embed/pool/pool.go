// Package pool implements the fixed-size worker pool described in spec
// §4.4: FIFO admission with backpressure, round-robin dispatch over idle
// workers, stall-based timeouts, and bounded crash-respawn with a
// fail-fast Degraded mode. Grounded on SnellerInc-sneller's tenant.Manager
// for the spawn/supervise/respawn shape, generalized from "one child per
// tenant id" to "N identical children forming a pool".
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vectorforge/embedcore/services/embed/embederr"
	"github.com/vectorforge/embedcore/services/embed/metrics"
	"github.com/vectorforge/embedcore/services/embed/vector"
	"github.com/vectorforge/embedcore/services/embed/worker"
)

// Config controls pool sizing and timing; field names mirror spec §6's
// configuration table.
type Config struct {
	WorkerCount      int
	Command          []string
	QueueHighWater   int
	BatchSoftDeadline time.Duration
	BatchHardDeadline time.Duration
	WorkerStall      time.Duration
	InitTimeout      time.Duration
	MaxRespawnFailures int
	RespawnWindow    time.Duration
	DrainGrace       time.Duration
	Metrics          *metrics.Collectors
}

// Result is what Submit's future resolves to.
type Result struct {
	Vectors []vector.Vector
	Partial bool
	Err     error
}

type batchJob struct {
	id      string
	texts   []string
	resultC chan Result
	ctx     context.Context
}

// Pool is a fixed-size set of worker.Worker processes with a FIFO admission
// queue in front of them.
type Pool struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	workers  []*worker.Worker
	idle     []*worker.Worker // round-robin ready queue
	queue    []*batchJob
	degraded bool
	draining bool
	respawnFailures []time.Time

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs and starts a Pool: it spawns cfg.WorkerCount workers and
// begins the dispatcher loop. If any initial worker fails to spawn, New
// still returns a usable (if short-handed) pool — the dispatcher treats a
// short pool the same as one that lost workers to crashes later.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRespawnFailures <= 0 {
		cfg.MaxRespawnFailures = 5
	}
	if cfg.RespawnWindow <= 0 {
		cfg.RespawnWindow = time.Minute
	}
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = 10 * time.Second
	}

	p := &Pool{
		cfg:    cfg,
		logger: logger,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}

	for i := 0; i < cfg.WorkerCount; i++ {
		w, err := p.spawnWorker(ctx, fmt.Sprintf("w%d", i))
		if err != nil {
			logger.Error("pool: initial worker spawn failed", slog.String("error", err.Error()))
			continue
		}
		p.workers = append(p.workers, w)
		p.idle = append(p.idle, w)
	}

	if len(p.workers) == 0 {
		return nil, fmt.Errorf("pool: no workers could be spawned")
	}

	p.wg.Add(1)
	go p.dispatchLoop()

	return p, nil
}

func (p *Pool) spawnWorker(ctx context.Context, id string) (*worker.Worker, error) {
	w := worker.New(id, p.cfg.Command, p.logger)
	if err := w.Spawn(ctx, p.cfg.InitTimeout); err != nil {
		return nil, err
	}
	return w, nil
}

// Submit enqueues a batch and returns a channel that receives exactly one
// Result. Submit fails fast with Overloaded if the queue is already at
// QueueHighWater, and with Draining/Degraded if the pool is in either of
// those states.
func (p *Pool) Submit(ctx context.Context, batchID string, texts []string) (<-chan Result, error) {
	if batchID == "" {
		batchID = uuid.NewString()
	}

	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return nil, embederr.ErrDraining
	}
	if p.degraded {
		p.mu.Unlock()
		return nil, embederr.ErrDegraded
	}
	if len(p.queue) >= p.cfg.QueueHighWater {
		p.mu.Unlock()
		return nil, embederr.ErrOverloaded
	}

	job := &batchJob{id: batchID, texts: texts, resultC: make(chan Result, 1), ctx: ctx}
	p.queue = append(p.queue, job)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}

	return job.resultC, nil
}

// dispatchLoop is the single serializing goroutine that hands jobs to idle
// workers; all worker-state transitions happen here or inside the
// per-dispatch goroutine it spawns, never concurrently from two places.
func (p *Pool) dispatchLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case <-p.wake:
		case <-time.After(200 * time.Millisecond):
			// Periodic tick catches the case where a worker became idle
			// again (post-dispatch) while the queue was non-empty but no
			// new Submit woke us.
		}

		for {
			p.mu.Lock()
			if len(p.queue) == 0 || len(p.idle) == 0 || p.draining {
				p.mu.Unlock()
				break
			}
			job := p.queue[0]
			p.queue = p.queue[1:]
			w := p.idle[0]
			p.idle = p.idle[1:]
			p.mu.Unlock()

			p.wg.Add(1)
			go p.runJob(w, job, false)
		}
	}
}

// runJob dispatches job to w and waits for it to finish, stall out, or blow
// its hard deadline. retried is true once this batch has already failed over
// to a replacement worker after a crash — spec §4.4 allows exactly one such
// retry before WorkerCrashed is surfaced to the caller.
func (p *Pool) runJob(w *worker.Worker, job *batchJob, retried bool) {
	defer p.wg.Done()

	ctx := job.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	hardCtx, cancel := context.WithTimeout(ctx, p.cfg.BatchHardDeadline)
	defer cancel()

	lastProgress := make(chan struct{}, 1)
	onProgress := func(processed, total int) {
		select {
		case lastProgress <- struct{}{}:
		default:
		}
	}

	type dispatchOutcome struct {
		res worker.Result
		err error
	}
	outcomeC := make(chan dispatchOutcome, 1)
	go func() {
		res, err := w.Dispatch(hardCtx, job.id, job.texts, p.cfg.BatchSoftDeadline, onProgress)
		outcomeC <- dispatchOutcome{res, err}
	}()

	stall := time.NewTimer(p.cfg.WorkerStall)
	defer stall.Stop()

	for {
		select {
		case out := <-outcomeC:
			if out.err != nil && (errors.Is(out.err, embederr.ErrWorkerCrashed) || w.State() == worker.Dead) {
				p.handleCrash(w, job, retried)
				return
			}
			p.finishJob(w, job, out.res, out.err)
			return
		case <-lastProgress:
			if !stall.Stop() {
				<-stall.C
			}
			stall.Reset(p.cfg.WorkerStall)
		case <-stall.C:
			p.logger.Warn("pool: worker stalled, aborting", slog.String("worker_id", w.ID()), slog.String("batch_id", job.id))
			w.Abort()
			p.onWorkerDead(w)
			job.resultC <- Result{Err: embederr.ErrTimeout}
			return
		case <-hardCtx.Done():
			w.Abort()
			p.onWorkerDead(w)
			job.resultC <- Result{Err: embederr.ErrTimeout}
			return
		}
	}
}

func (p *Pool) finishJob(w *worker.Worker, job *batchJob, res worker.Result, err error) {
	if err != nil {
		job.resultC <- Result{Err: err}
		p.returnToIdle(w)
		return
	}

	job.resultC <- Result{Vectors: res.Vectors, Partial: res.Partial}
	p.returnToIdle(w)
}

// handleCrash reaps w, spawns its replacement, and — unless this batch has
// already been retried once — re-submits the batch to an idle worker rather
// than surfacing WorkerCrashed immediately (spec §4.4/§7: "surfaced only if
// replacement is also failing"). If no worker is free to take the retry
// (respawn failed, or every other worker is busy), WorkerCrashed is
// surfaced straight away rather than making the caller wait on a dispatch
// that may never come.
func (p *Pool) handleCrash(w *worker.Worker, job *batchJob, retried bool) {
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.WorkerCrashes.Inc()
	}
	p.onWorkerDead(w)

	if retried {
		job.resultC <- Result{Err: embederr.ErrWorkerCrashed}
		return
	}

	replacement := p.takeIdleForRetry()
	if replacement == nil {
		job.resultC <- Result{Err: embederr.ErrWorkerCrashed}
		return
	}

	p.wg.Add(1)
	go p.runJob(replacement, job, true)
}

func (p *Pool) takeIdleForRetry() *worker.Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.draining || len(p.idle) == 0 {
		return nil
	}
	w := p.idle[0]
	p.idle = p.idle[1:]
	return w
}

func (p *Pool) returnToIdle(w *worker.Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.draining {
		return
	}
	p.idle = append(p.idle, w)
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// onWorkerDead removes w from the pool's bookkeeping and attempts a
// bounded-retry respawn; after cfg.MaxRespawnFailures failures within
// cfg.RespawnWindow the pool enters Degraded and new Submits fail fast.
func (p *Pool) onWorkerDead(w *worker.Worker) {
	p.mu.Lock()
	for i, ww := range p.workers {
		if ww == w {
			p.workers = append(p.workers[:i], p.workers[i+1:]...)
			break
		}
	}
	if p.draining {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	replacement, err := p.spawnWorker(context.Background(), w.ID()+"-r")
	if err != nil {
		p.recordRespawnFailure()
		return
	}

	p.mu.Lock()
	p.workers = append(p.workers, replacement)
	p.idle = append(p.idle, replacement)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) recordRespawnFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	p.respawnFailures = append(p.respawnFailures, now)

	cutoff := now.Add(-p.cfg.RespawnWindow)
	kept := p.respawnFailures[:0]
	for _, t := range p.respawnFailures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	p.respawnFailures = kept

	if len(p.respawnFailures) >= p.cfg.MaxRespawnFailures {
		p.degraded = true
		p.logger.Error("pool: entering Degraded mode, respawn failures exceeded threshold",
			slog.Int("failures", len(p.respawnFailures)))
	}
}

// Degraded reports whether the pool has stopped accepting new submits after
// repeated respawn failure.
func (p *Pool) Degraded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.degraded
}

// Ready reports whether the pool currently has at least one live worker and
// is not draining or degraded — used by /health's pool_ready field.
func (p *Pool) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.draining && !p.degraded && len(p.workers) > 0
}

// QueueDepth reports the current number of pending (not yet dispatched)
// batches.
func (p *Pool) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Shutdown stops accepting new batches, waits up to cfg.DrainGrace for
// in-flight batches to finish, then sends shutdown (escalating to abort) to
// every remaining worker.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return
	}
	p.draining = true
	workers := append([]*worker.Worker(nil), p.workers...)
	p.mu.Unlock()

	close(p.stop)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.cfg.DrainGrace):
	}

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			w.Shutdown(p.cfg.DrainGrace)
		}(w)
	}
	wg.Wait()
}
