package utils

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Scheduler runs callbacks after a delay with individually cancellable
// handles. A handle cancelled before its timer fires guarantees the
// callback never runs; a timer firing after cancellation is a no-op.
type Scheduler struct {
	clock clockwork.Clock
	wg    sync.WaitGroup
}

// TimerHandle is the cancellation handle returned at schedule time.
type TimerHandle struct {
	mu        sync.Mutex
	cancelled bool
	fired     bool
	cancelCh  chan struct{}
}

func NewScheduler(clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{clock: clock}
}

// Schedule runs fn after d unless the returned handle is cancelled first.
func (s *Scheduler) Schedule(d time.Duration, fn func()) *TimerHandle {
	h := &TimerHandle{cancelCh: make(chan struct{})}

	s.wg.Add(1)
	timer := s.clock.NewTimer(d)
	go func() {
		defer s.wg.Done()
		defer timer.Stop()

		select {
		case <-timer.Chan():
			if h.markFired() {
				fn()
			}
		case <-h.cancelCh:
		}
	}()

	return h
}

// Wait blocks until every scheduled goroutine has exited. Intended for
// shutdown and tests.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Cancel prevents the callback from running. Safe to call more than once
// and after the timer has fired.
func (h *TimerHandle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled || h.fired {
		return
	}
	h.cancelled = true
	close(h.cancelCh)
}

// Fired reports whether the callback ran.
func (h *TimerHandle) Fired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fired
}

func (h *TimerHandle) markFired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return false
	}
	h.fired = true
	return true
}
