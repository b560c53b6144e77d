// Package worker wraps one external model-hosting process: spawn, a
// line-delimited JSON protocol over its stdin/stdout, dispatch of one batch
// at a time, and crash/timeout handling (spec §4.3). Subprocess lifecycle
// (exec.Command, piping, a supervisor goroutine per child) is grounded on
// SnellerInc-sneller's tenant.Manager.launch/get/reap.
package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/vectorforge/embedcore/services/embed/embederr"
	"github.com/vectorforge/embedcore/services/embed/vector"
)

// State is a worker's lifecycle state (spec §3: Spawning, Idle, Busy,
// Draining, Dead).
type State int

const (
	Spawning State = iota
	Idle
	Busy
	Draining
	Dead
)

func (s State) String() string {
	switch s {
	case Spawning:
		return "Spawning"
	case Idle:
		return "Idle"
	case Busy:
		return "Busy"
	case Draining:
		return "Draining"
	case Dead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// Result is what Dispatch returns for a completed (possibly partial) batch.
type Result struct {
	Vectors []vector.Vector
	Partial bool
}

// Worker owns one child process and the single batch it may be running at
// a time. Callers never write to stdin directly; every interaction goes
// through Spawn/Dispatch/Shutdown/Abort/Kill.
type Worker struct {
	id      string
	command []string

	mu     sync.Mutex
	state  State
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan []byte // stdout, one decoded line at a time
	readerErr chan error
	spawnTime time.Time
	lastHealthy time.Time

	logger *slog.Logger
}

// New constructs a Worker that has not yet been spawned.
func New(id string, command []string, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{id: id, command: command, state: Spawning, logger: logger}
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Spawn starts the child process, writes an init record, and blocks until
// init_complete (or initTimeout elapses). On failure the worker is left in
// the Dead state and the caller should discard it.
func (w *Worker) Spawn(ctx context.Context, initTimeout time.Duration) error {
	if len(w.command) == 0 {
		w.setState(Dead)
		return fmt.Errorf("worker: empty model_command")
	}

	cmd := exec.CommandContext(ctx, w.command[0], w.command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.setState(Dead)
		return fmt.Errorf("worker: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		w.setState(Dead)
		return fmt.Errorf("worker: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		w.setState(Dead)
		return fmt.Errorf("worker: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		w.setState(Dead)
		return fmt.Errorf("worker: start: %w", err)
	}

	w.mu.Lock()
	w.cmd = cmd
	w.stdin = stdin
	w.lines = make(chan []byte, 8)
	w.readerErr = make(chan error, 1)
	w.spawnTime = time.Now()
	w.mu.Unlock()

	go w.readLoop(stdout)
	go w.drainStderr(stderr)

	if err := w.writeRecord(initRequest(w.id)); err != nil {
		w.setState(Dead)
		return fmt.Errorf("worker: write init: %w", err)
	}

	select {
	case line, ok := <-w.lines:
		if !ok {
			w.setState(Dead)
			return embederr.ErrWorkerCrashed
		}
		resp, err := decodeLine(line)
		if err != nil || resp.Kind != typeInitComplete {
			w.setState(Dead)
			return fmt.Errorf("worker: expected init_complete, got %v (err=%v)", resp.Kind, err)
		}
	case err := <-w.readerErr:
		w.setState(Dead)
		return fmt.Errorf("worker: reading init_complete: %w", err)
	case <-time.After(initTimeout):
		w.setState(Dead)
		return fmt.Errorf("worker: init_complete timed out after %v", initTimeout)
	case <-ctx.Done():
		w.setState(Dead)
		return ctx.Err()
	}

	w.mu.Lock()
	w.lastHealthy = time.Now()
	w.mu.Unlock()
	w.setState(Idle)
	return nil
}

// readLoop is the single reader goroutine for this child's stdout. It runs
// for the worker's whole lifetime; Dispatch and Spawn both pull lines from
// w.lines.
func (w *Worker) readLoop(stdout io.ReadCloser) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		w.lines <- line
	}
	if err := scanner.Err(); err != nil {
		w.readerErr <- err
	} else {
		w.readerErr <- io.EOF
	}
	close(w.lines)
}

func (w *Worker) drainStderr(stderr io.ReadCloser) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		w.logger.Debug("worker: child stderr", slog.String("worker_id", w.id), slog.String("line", scanner.Text()))
	}
}

func (w *Worker) writeRecord(rec wireRecord) error {
	line, err := encodeLine(rec)
	if err != nil {
		return err
	}
	w.mu.Lock()
	stdin := w.stdin
	w.mu.Unlock()
	if stdin == nil {
		return embederr.ErrWorkerCrashed
	}
	_, err = stdin.Write(line)
	return err
}

// Dispatch runs exactly one batch to completion (or crash/stall). onProgress
// is invoked for every progress record so the pool can reset its stall
// timer; it may be nil. Dispatch itself does not enforce the hard deadline
// or the stall threshold — the pool does, by racing this call against its
// own timers and calling Abort on the worker if it loses.
func (w *Worker) Dispatch(ctx context.Context, batchID string, texts []string, softDeadline time.Duration, onProgress func(processed, total int)) (Result, error) {
	w.setState(Busy)
	defer func() {
		if w.State() == Busy {
			w.setState(Idle)
		}
	}()

	if err := w.writeRecord(embedBatchRequest(batchID, texts, softDeadline.Milliseconds())); err != nil {
		w.setState(Dead)
		return Result{}, embederr.ErrWorkerCrashed
	}

	for {
		select {
		case line, ok := <-w.lines:
			if !ok {
				w.setState(Dead)
				return Result{}, embederr.ErrWorkerCrashed
			}
			resp, err := decodeLine(line)
			if err != nil {
				w.setState(Dead)
				return Result{}, fmt.Errorf("worker: %w", err)
			}

			w.mu.Lock()
			w.lastHealthy = time.Now()
			w.mu.Unlock()

			switch resp.Kind {
			case typeProgress:
				if onProgress != nil {
					onProgress(resp.Progress.Processed, resp.Progress.Total)
				}
			case typeTimeoutWarn:
				// Expected precursor to a partial embed_complete; keep waiting.
			case typeEmbedDone:
				ec := resp.EmbedComplete
				if ec.Err != "" && !ec.Partial {
					return Result{}, fmt.Errorf("worker: child reported error: %s", ec.Err)
				}
				vecs := make([]vector.Vector, len(ec.Vectors))
				for i, raw := range ec.Vectors {
					vecs[i] = vector.Vector(raw)
				}
				return Result{Vectors: vecs, Partial: ec.Partial}, nil
			case typeError:
				return Result{}, fmt.Errorf("worker: child error: %s", resp.Error.Message)
			default:
				w.setState(Dead)
				return Result{}, fmt.Errorf("worker: unexpected record %q mid-batch", resp.Kind)
			}
		case err := <-w.readerErr:
			w.setState(Dead)
			if err == io.EOF {
				return Result{}, embederr.ErrWorkerCrashed
			}
			return Result{}, fmt.Errorf("worker: %w", embederr.ErrWorkerCrashed)
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
}

// Shutdown asks the child to exit gracefully and waits up to grace for it;
// past that, it escalates to Abort itself.
func (w *Worker) Shutdown(grace time.Duration) error {
	w.setState(Draining)
	if err := w.writeRecord(shutdownRequest()); err != nil {
		return w.Kill()
	}

	w.mu.Lock()
	cmd := w.cmd
	w.mu.Unlock()
	if cmd == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
		w.setState(Dead)
		return nil
	case <-time.After(grace):
		return w.Abort()
	}
}

// Abort writes an abort record and then forcibly kills the child,
// escalating past a graceful shutdown that didn't finish in time.
func (w *Worker) Abort() error {
	w.writeRecord(abortRequest())
	return w.Kill()
}

// Kill forcibly terminates the child process and marks the worker Dead.
func (w *Worker) Kill() error {
	w.mu.Lock()
	cmd := w.cmd
	w.mu.Unlock()
	w.setState(Dead)
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

// LastHealthy reports when the worker last produced any record (including
// init_complete and progress).
func (w *Worker) LastHealthy() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastHealthy
}

// SpawnTime reports when the underlying process was started.
func (w *Worker) SpawnTime() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.spawnTime
}
