// Package watch implements the polling loop that turns repeated "is a
// device present" samples into attach/detach transitions. The host OS
// gives no notification for either device family, so cooperative polling
// is the only detection mechanism available.
package watch

import (
	"log/slog"
	"sync"
	"time"
)

// Method is a connectivity method the watcher drives. Detect returns the
// handle of the currently present device (serial or adapter name), or ""
// when none is present. OnAttach and OnDetach run on the watcher's
// goroutine and must not block indefinitely.
type Method interface {
	Name() string
	Detect() (string, error)
	OnAttach(handle string)
	OnDetach(handle string)
}

// Events is the externally observable device surface. Callbacks fire on
// the watcher goroutine, after the method's own attach/detach hooks.
type Events struct {
	DeviceAttached func(handle string)
	DeviceDetached func()
}

// Watcher polls a Method at a fixed interval and invokes its hooks on
// attach, detach, and device swap. At most one device handle is current
// at any time.
type Watcher struct {
	method   Method
	interval time.Duration
	events   Events
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	current string
	stopCh  chan struct{}
	done    chan struct{}
	pokeCh  chan struct{}
}

// New creates a watcher for the given method. A nil logger falls back to
// slog.Default.
func New(method Method, interval time.Duration, events Events, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		method:   method,
		interval: interval,
		events:   events,
		logger:   logger,
	}
}

// Start begins the polling loop. Calling Start on a running watcher is a
// no-op.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})
	w.pokeCh = make(chan struct{}, 1)

	go w.loop(w.stopCh, w.done)
	w.logger.Info("Device monitoring started", "method", w.method.Name(), "interval", w.interval)
}

// Stop halts the polling loop. If a device is currently attached the
// loop invokes OnDetach for it exactly once before Stop returns. The
// wait is bounded so that Stop called from inside an attach/detach hook
// cannot deadlock; in that case the final detach completes as the loop
// unwinds.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	done := w.done
	w.mu.Unlock()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		w.logger.Warn("Watcher loop did not finish within timeout", "method", w.method.Name())
	}
	w.logger.Info("Device monitoring stopped", "method", w.method.Name())
}

// IsRunning reports whether the polling loop is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Current returns the handle of the attached device, or "" when none.
func (w *Watcher) Current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Poke requests an immediate poll cycle, skipping the remainder of the
// current interval. Used after resume from sleep, when adapters
// re-enumerate and the regular cadence would lag behind.
func (w *Watcher) Poke() {
	w.mu.Lock()
	pokeCh := w.pokeCh
	running := w.running
	w.mu.Unlock()

	if !running {
		return
	}
	select {
	case pokeCh <- struct{}{}:
	default:
	}
}

func (w *Watcher) loop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.pollOnce()

		select {
		case <-stopCh:
			// Final detach: the loop owns the handle, so the detach
			// hook runs here, before done is closed and Stop returns.
			w.mu.Lock()
			handle := w.current
			w.current = ""
			w.mu.Unlock()
			if handle != "" {
				w.method.OnDetach(handle)
				if w.events.DeviceDetached != nil {
					w.events.DeviceDetached()
				}
			}
			return
		case <-w.pokeCh:
		case <-ticker.C:
		}
	}
}

// pollOnce runs a single detect cycle and fires transitions. Detect
// errors are transient: they are logged and treated as "no change this
// cycle" rather than forcing a spurious detach.
func (w *Watcher) pollOnce() {
	handle, err := w.method.Detect()
	if err != nil {
		w.logger.Debug("Device detection failed", "method", w.method.Name(), "error", err)
		return
	}

	w.mu.Lock()
	previous := w.current
	w.mu.Unlock()

	switch {
	case handle != "" && previous == "":
		w.setCurrent(handle)
		w.method.OnAttach(handle)
		if w.events.DeviceAttached != nil {
			w.events.DeviceAttached(handle)
		}

	case handle == "" && previous != "":
		w.setCurrent("")
		w.method.OnDetach(previous)
		if w.events.DeviceDetached != nil {
			w.events.DeviceDetached()
		}

	case handle != "" && previous != "" && handle != previous:
		// Device swap without an observed gap: detach the old handle
		// to completion before attaching the new one.
		w.setCurrent("")
		w.method.OnDetach(previous)
		if w.events.DeviceDetached != nil {
			w.events.DeviceDetached()
		}
		w.setCurrent(handle)
		w.method.OnAttach(handle)
		if w.events.DeviceAttached != nil {
			w.events.DeviceAttached(handle)
		}
	}
}

func (w *Watcher) setCurrent(handle string) {
	w.mu.Lock()
	w.current = handle
	w.mu.Unlock()
}
