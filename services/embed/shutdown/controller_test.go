package shutdown

import (
	"sync/atomic"
	"testing"
	"time"
)

type fakeRegistry struct{ n int32 }

func (r *fakeRegistry) Count() int { return int(atomic.LoadInt32(&r.n)) }
func (r *fakeRegistry) set(n int32) { atomic.StoreInt32(&r.n, n) }

type fakeDrainer struct{ called chan struct{} }

func newFakeDrainer() *fakeDrainer { return &fakeDrainer{called: make(chan struct{})} }
func (d *fakeDrainer) Shutdown()   { close(d.called) }

func TestNoClientsDrainsAfterTimeout(t *testing.T) {
	reg := &fakeRegistry{}
	drainer := newFakeDrainer()
	c := New(Config{NoClientsTimeout: 50 * time.Millisecond, IdleTimeout: time.Hour}, reg, drainer, nil)
	defer c.Close()

	c.NotifyDeregisterEmptied()

	select {
	case <-drainer.called:
	case <-time.After(3 * time.Second):
		t.Fatal("controller never drained")
	}

	if got := c.State(); got != Draining {
		t.Errorf("State() = %v, want Draining", got)
	}
}

func TestRegisterCancelsNoClientsCountdown(t *testing.T) {
	reg := &fakeRegistry{}
	drainer := newFakeDrainer()
	c := New(Config{NoClientsTimeout: 200 * time.Millisecond, IdleTimeout: time.Hour}, reg, drainer, nil)
	defer c.Close()

	c.NotifyDeregisterEmptied()
	time.Sleep(20 * time.Millisecond)
	reg.set(1)
	c.NotifyRegister()

	select {
	case <-drainer.called:
		t.Fatal("controller drained despite a register cancelling the countdown")
	case <-time.After(400 * time.Millisecond):
	}

	if got := c.State(); got != Active {
		t.Errorf("State() = %v, want Active", got)
	}
}

func TestIdleDrainsAfterTimeout(t *testing.T) {
	reg := &fakeRegistry{n: 1}
	drainer := newFakeDrainer()
	c := New(Config{NoClientsTimeout: time.Hour, IdleTimeout: 50 * time.Millisecond}, reg, drainer, nil)
	defer c.Close()

	select {
	case <-drainer.called:
	case <-time.After(3 * time.Second):
		t.Fatal("controller never drained on idle timeout")
	}
}

func TestRequestCancelsIdleCountdown(t *testing.T) {
	reg := &fakeRegistry{n: 1}
	drainer := newFakeDrainer()
	c := New(Config{NoClientsTimeout: time.Hour, IdleTimeout: 100 * time.Millisecond}, reg, drainer, nil)
	defer c.Close()

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(30 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.NotifyRequest()
			case <-stop:
				return
			}
		}
	}()
	defer close(stop)

	select {
	case <-drainer.called:
		t.Fatal("controller drained despite continuous requests resetting the idle timer")
	case <-time.After(500 * time.Millisecond):
	}
}
