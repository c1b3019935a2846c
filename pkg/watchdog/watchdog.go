// Package watchdog detects a sensor source that has stopped reporting.
//
// The bike's sensor service occasionally stalls until the bike is power
// cycled. Every decoded sample resets the watchdog; if no sample arrives
// within the timeout, a dead source event is raised. Events repeat for as
// long as the silence continues, but never more often than the cooldown.
package watchdog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spop/grupetto/pkg/config"
)

// Event is a dead source advisory.
type Event struct {
	Time    time.Time
	Message string
}

// Watchdog races sample arrivals against a timeout.
type Watchdog struct {
	timeout  time.Duration
	cooldown time.Duration
	message  string
	now      func() time.Time

	reset  chan struct{}
	events chan Event

	mu        sync.Mutex
	lastAlert time.Time
	alerted   bool
	active    *Event

	timeouts atomic.Uint64
}

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithClock overrides the clock used for cooldown bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(w *Watchdog) {
		w.now = now
	}
}

// New creates a watchdog. Call Run to start it.
func New(cfg config.WatchdogConfig, opts ...Option) *Watchdog {
	w := &Watchdog{
		timeout:  cfg.Timeout,
		cooldown: cfg.Cooldown,
		message:  cfg.Message,
		now:      time.Now,
		reset:    make(chan struct{}, 1),
		events:   make(chan Event, 1),
	}
	if w.message == "" {
		w.message = config.DefaultDeadSourceMessage
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Arrive records that a sample arrived on any channel. It never blocks.
func (w *Watchdog) Arrive() {
	select {
	case w.reset <- struct{}{}:
	default:
		// A reset is already pending.
	}
}

// Events returns dead source events. Only the most recent undelivered event is kept.
func (w *Watchdog) Events() <-chan Event {
	return w.events
}

// Run blocks until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.reset:
			timer.Reset(w.timeout)
		case <-timer.C:
			w.expire()
			timer.Reset(w.timeout)
		}
	}
}

// expire handles one elapsed timeout.
func (w *Watchdog) expire() {
	w.timeouts.Add(1)
	now := w.now()

	w.mu.Lock()
	if w.alerted && now.Sub(w.lastAlert) <= w.cooldown {
		w.mu.Unlock()
		return
	}
	w.alerted = true
	w.lastAlert = now
	ev := Event{Time: now, Message: w.message}
	w.active = &ev
	w.mu.Unlock()

	select {
	case w.events <- ev:
	default:
		// Drop the undelivered event in favour of the new one.
		select {
		case <-w.events:
		default:
		}
		select {
		case w.events <- ev:
		default:
		}
	}
}

// Active returns the advisory currently shown, if it has not been dismissed.
func (w *Watchdog) Active() (Event, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active == nil {
		return Event{}, false
	}
	return *w.active, true
}

// Dismiss clears the active advisory. It does not affect the cooldown.
func (w *Watchdog) Dismiss() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active = nil
}

// Timeouts returns how many times the timeout has elapsed, alert or not.
func (w *Watchdog) Timeouts() uint64 {
	return w.timeouts.Load()
}
