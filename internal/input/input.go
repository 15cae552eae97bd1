// Package input turns raw edges on the confirmation button into at most one
// debounced confirmation event, and exposes a single wait that races the
// event against the evening deadline.
package input

import (
	"context"
	"sync"
	"time"
)

// Pin abstracts the button line so the debounce logic is testable without
// hardware. NewGPIOPin provides the periph.io implementation.
type Pin interface {
	// WaitForEdge blocks until the line changes level or the timeout
	// elapses; it returns false on timeout.
	WaitForEdge(timeout time.Duration) bool
	// Pressed samples the line: true while the button is held down.
	Pressed() bool
}

// edgePollInterval bounds how long the watch goroutine blocks in a single
// WaitForEdge call, so Disarm is observed promptly.
const edgePollInterval = 200 * time.Millisecond

// Handler owns the watch goroutine between Arm and Disarm.
type Handler struct {
	pin      Pin
	debounce time.Duration

	sleep func(time.Duration)
	now   func() time.Time

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	events chan time.Time
}

// NewHandler returns a disarmed handler. A raw edge must stay pressed for
// the debounce interval before it counts; bounce inside the window is
// discarded, not queued.
func NewHandler(pin Pin, debounce time.Duration) *Handler {
	return &Handler{
		pin:      pin,
		debounce: debounce,
		sleep:    time.Sleep,
		now:      time.Now,
	}
}

// Arm starts edge watching. Arming an armed handler is a no-op.
func (h *Handler) Arm() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop != nil {
		return
	}
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	// Capacity 1: simultaneous presses coalesce instead of queuing.
	h.events = make(chan time.Time, 1)
	go h.watch(h.stop, h.done, h.events)
}

// Disarm stops edge watching and waits for the watcher to exit.
func (h *Handler) Disarm() {
	h.mu.Lock()
	stop, done := h.stop, h.done
	h.stop, h.done = nil, nil
	h.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (h *Handler) watch(stop, done chan struct{}, events chan time.Time) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}

		if !h.pin.WaitForEdge(edgePollInterval) {
			continue
		}
		if !h.pin.Pressed() {
			// Release edge.
			continue
		}

		// The press must survive the debounce window.
		h.sleep(h.debounce)
		if !h.pin.Pressed() {
			continue
		}

		select {
		case events <- h.now():
		default:
		}

		// Swallow the rest of the hold so one press is one event.
		for h.pin.Pressed() {
			select {
			case <-stop:
				return
			default:
			}
			h.pin.WaitForEdge(edgePollInterval)
		}
	}
}

// WaitForConfirmation blocks until a debounced confirmation arrives or the
// deadline is reached, whichever happens first. The deadline is exclusive:
// only an event strictly before it counts, and on simultaneous arrival the
// deadline wins. Returns the confirmation time and true, or the zero time
// and false when the deadline (or ctx) resolved the wait.
func (h *Handler) WaitForConfirmation(ctx context.Context, deadline time.Time) (time.Time, bool, error) {
	h.mu.Lock()
	events := h.events
	h.mu.Unlock()
	if events == nil {
		return time.Time{}, false, nil
	}

	remaining := deadline.Sub(h.now())
	if remaining <= 0 {
		return time.Time{}, false, nil
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case at := <-events:
		if !at.Before(deadline) {
			// Arrived at or past the cutoff: does not count.
			return time.Time{}, false, nil
		}
		return at, true, nil
	case <-timer.C:
		return time.Time{}, false, nil
	case <-ctx.Done():
		return time.Time{}, false, ctx.Err()
	}
}
