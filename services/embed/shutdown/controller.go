// Package shutdown implements the auto-shutdown state machine described in
// spec §4.8: Active, CountdownNoClients, CountdownIdle, Draining, with
// transitions serialized through a single goroutine so at most one
// countdown timer is ever armed.
package shutdown

import (
	"log/slog"
	"sync"
	"time"
)

// State is one of the four states in spec §4.8's state machine.
type State int

const (
	Active State = iota
	CountdownNoClients
	CountdownIdle
	Draining
)

func (s State) String() string {
	switch s {
	case Active:
		return "Active"
	case CountdownNoClients:
		return "CountdownNoClients"
	case CountdownIdle:
		return "CountdownIdle"
	case Draining:
		return "Draining"
	default:
		return "Unknown"
	}
}

// RegistrySize is the slice of registry.Registry the controller needs.
type RegistrySize interface {
	Count() int
}

// Drainer is invoked exactly once, when the controller transitions to
// Draining.
type Drainer interface {
	Shutdown()
}

// Config controls the two operator-facing thresholds (spec §6).
type Config struct {
	NoClientsTimeout time.Duration
	IdleTimeout      time.Duration
}

// Controller owns the state machine. All transitions happen on its single
// run goroutine; external events arrive over channels so no two goroutines
// ever race on the state field.
type Controller struct {
	cfg      Config
	registry RegistrySize
	pool     Drainer
	logger   *slog.Logger

	mu           sync.RWMutex
	state        State
	lastRequest  time.Time

	events chan event
	done   chan struct{}
}

type eventKind int

const (
	evRegister eventKind = iota
	evDeregisterEmptied
	evRequest
	evTick
)

type event struct {
	kind eventKind
}

// New constructs a Controller in the Active state and starts its serialized
// event loop. Call UpdateConfig to change thresholds live (wired to
// config.WatchThresholds by cmd/embedsrv).
func New(cfg Config, registry RegistrySize, pool Drainer, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		cfg:         cfg,
		registry:    registry,
		pool:        pool,
		logger:      logger,
		lastRequest: time.Now(),
		events:      make(chan event, 16),
		done:        make(chan struct{}),
	}
	go c.run()
	return c
}

// State reports the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// UpdateConfig replaces the timing thresholds; takes effect on the next
// evaluated tick, not mid-countdown.
func (c *Controller) UpdateConfig(cfg Config) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

// NotifyRegister tells the controller a client registered — cancels a
// pending CountdownNoClients and returns the state to Active (spec §4.8:
// "Active → CountdownNoClients ... cancelled on any Register"). A pending
// CountdownIdle is left running; NotifyRequest is what cancels that one.
func (c *Controller) NotifyRegister() {
	c.send(evRegister)
}

// NotifyDeregisterEmptied tells the controller the registry just became
// empty (the deregister that removed the last client).
func (c *Controller) NotifyDeregisterEmptied() {
	c.send(evDeregisterEmptied)
}

// NotifyRequest tells the controller a request was served — resets the
// idle timer and cancels any CountdownIdle.
func (c *Controller) NotifyRequest() {
	c.send(evRequest)
}

func (c *Controller) send(k eventKind) {
	select {
	case c.events <- event{kind: k}:
	case <-c.done:
	}
}

// Close stops the controller's event loop without draining. Tests call it on
// cleanup and cmd/embedsrv defers it on exit; Draining is reached only
// through the normal countdown path.
func (c *Controller) Close() {
	close(c.done)
}

func (c *Controller) run() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var countdownDeadline time.Time

	setState := func(s State) {
		c.mu.Lock()
		c.state = s
		c.mu.Unlock()
	}

	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			switch ev.kind {
			case evRegister:
				if c.State() == CountdownNoClients {
					setState(Active)
					countdownDeadline = time.Time{}
				}
			case evDeregisterEmptied:
				if c.State() == Active {
					c.mu.RLock()
					d := c.cfg.NoClientsTimeout
					c.mu.RUnlock()
					countdownDeadline = time.Now().Add(d)
					setState(CountdownNoClients)
				}
			case evRequest:
				c.mu.Lock()
				c.lastRequest = time.Now()
				c.mu.Unlock()
				if c.State() == CountdownIdle {
					setState(Active)
					countdownDeadline = time.Time{}
				}
			}
		case <-ticker.C:
			state := c.State()
			if state == Draining {
				continue
			}

			c.mu.RLock()
			idleTimeout := c.cfg.IdleTimeout
			lastReq := c.lastRequest
			c.mu.RUnlock()

			// Polling registry.Count() here is a safety net in case a caller
			// forgets to send NotifyDeregisterEmptied; the explicit event
			// path above is what normally arms CountdownNoClients promptly.
			if state == Active && c.registry != nil && c.registry.Count() == 0 {
				c.mu.RLock()
				d := c.cfg.NoClientsTimeout
				c.mu.RUnlock()
				countdownDeadline = time.Now().Add(d)
				setState(CountdownNoClients)
				continue
			}

			if state == Active && time.Since(lastReq) > idleTimeout {
				// The idle-timeout has already elapsed; CountdownIdle exists
				// mainly so a request arriving in the next tick can still
				// cancel it via NotifyRequest before Draining actually fires.
				countdownDeadline = time.Now().Add(time.Second)
				setState(CountdownIdle)
				continue
			}

			if (state == CountdownNoClients || state == CountdownIdle) && !countdownDeadline.IsZero() && time.Now().After(countdownDeadline) {
				setState(Draining)
				c.logger.Info("shutdown: draining", slog.String("from_state", state.String()))
				if c.pool != nil {
					c.pool.Shutdown()
				}
				return
			}
		}
	}
}
