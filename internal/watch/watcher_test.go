package watch

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// scriptedMethod feeds a fixed sequence of detect results to the watcher
// and records the attach/detach calls it receives. Once the script is
// exhausted the final result repeats forever and exhausted is closed.
type scriptedMethod struct {
	mu        sync.Mutex
	script    []detectResult
	idx       int
	calls     []string
	exhausted chan struct{}
	closeOnce sync.Once
}

type detectResult struct {
	handle string
	err    error
}

func newScriptedMethod(script ...detectResult) *scriptedMethod {
	return &scriptedMethod{
		script:    script,
		exhausted: make(chan struct{}),
	}
}

func (m *scriptedMethod) Name() string { return "scripted" }

func (m *scriptedMethod) Detect() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := m.script[m.idx]
	if m.idx < len(m.script)-1 {
		m.idx++
	} else {
		m.closeOnce.Do(func() { close(m.exhausted) })
	}
	return result.handle, result.err
}

func (m *scriptedMethod) OnAttach(handle string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "attach:"+handle)
}

func (m *scriptedMethod) OnDetach(handle string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "detach:"+handle)
}

func (m *scriptedMethod) callLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := make([]string, len(m.calls))
	copy(log, m.calls)
	return log
}

func runScript(t *testing.T, method *scriptedMethod) {
	t.Helper()

	w := New(method, 5*time.Millisecond, Events{}, nil)
	w.Start()

	select {
	case <-method.exhausted:
	case <-time.After(5 * time.Second):
		t.Fatal("script was not consumed in time")
	}
	// Let the repeated final result settle for a few cycles to catch
	// duplicate events.
	time.Sleep(50 * time.Millisecond)
	w.Stop()
}

func assertCalls(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("call log mismatch:\n got %v\nwant %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestWatcher_AttachDetachCycle(t *testing.T) {
	method := newScriptedMethod(
		detectResult{},
		detectResult{handle: "serial-1"},
		detectResult{handle: "serial-1"},
		detectResult{},
	)
	runScript(t, method)

	assertCalls(t, method.callLog(), []string{
		"attach:serial-1",
		"detach:serial-1",
	})
}

func TestWatcher_DeviceSwapWithoutGap(t *testing.T) {
	method := newScriptedMethod(
		detectResult{handle: "serial-1"},
		detectResult{handle: "serial-2"},
	)
	runScript(t, method)

	assertCalls(t, method.callLog(), []string{
		"attach:serial-1",
		"detach:serial-1",
		"attach:serial-2",
		"detach:serial-2", // final detach from Stop
	})
}

func TestWatcher_DetectErrorDoesNotDetach(t *testing.T) {
	method := newScriptedMethod(
		detectResult{handle: "serial-1"},
		detectResult{err: errors.New("transient query failure")},
		detectResult{err: errors.New("transient query failure")},
		detectResult{handle: "serial-1"},
	)
	runScript(t, method)

	// The error cycles must not produce a detach/attach pair.
	assertCalls(t, method.callLog(), []string{
		"attach:serial-1",
		"detach:serial-1", // final detach from Stop
	})
}

func TestWatcher_StopDetachesAttachedDevice(t *testing.T) {
	method := newScriptedMethod(detectResult{handle: "serial-1"})
	runScript(t, method)

	got := method.callLog()
	assertCalls(t, got, []string{"attach:serial-1", "detach:serial-1"})
}

func TestWatcher_StopWithoutDeviceEmitsNothing(t *testing.T) {
	method := newScriptedMethod(detectResult{})
	runScript(t, method)

	if calls := method.callLog(); len(calls) != 0 {
		t.Errorf("expected no calls, got %v", calls)
	}
}

func TestWatcher_NoCallbacksAfterStop(t *testing.T) {
	method := newScriptedMethod(detectResult{handle: "serial-1"})

	w := New(method, 5*time.Millisecond, Events{}, nil)
	w.Start()

	select {
	case <-method.exhausted:
	case <-time.After(5 * time.Second):
		t.Fatal("script was not consumed in time")
	}
	w.Stop()

	before := len(method.callLog())
	time.Sleep(50 * time.Millisecond)
	after := len(method.callLog())
	if before != after {
		t.Errorf("callbacks fired after Stop returned: %d -> %d", before, after)
	}
	if w.IsRunning() {
		t.Error("watcher still reports running after Stop")
	}
}

func TestWatcher_EventsSurface(t *testing.T) {
	method := newScriptedMethod(
		detectResult{handle: "serial-1"},
		detectResult{},
	)

	var mu sync.Mutex
	var events []string
	w := New(method, 5*time.Millisecond, Events{
		DeviceAttached: func(handle string) {
			mu.Lock()
			events = append(events, fmt.Sprintf("attached(%s)", handle))
			mu.Unlock()
		},
		DeviceDetached: func() {
			mu.Lock()
			events = append(events, "detached()")
			mu.Unlock()
		},
	}, nil)
	w.Start()

	select {
	case <-method.exhausted:
	case <-time.After(5 * time.Second):
		t.Fatal("script was not consumed in time")
	}
	time.Sleep(50 * time.Millisecond)
	w.Stop()

	mu.Lock()
	defer mu.Unlock()
	want := []string{"attached(serial-1)", "detached()"}
	if len(events) != len(want) {
		t.Fatalf("event mismatch:\n got %v\nwant %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d: got %q, want %q", i, events[i], want[i])
		}
	}
}

func TestWatcher_StartIsIdempotent(t *testing.T) {
	method := newScriptedMethod(detectResult{})
	w := New(method, 5*time.Millisecond, Events{}, nil)
	w.Start()
	w.Start()
	if !w.IsRunning() {
		t.Fatal("watcher not running after Start")
	}
	w.Stop()
	w.Stop() // second Stop is a no-op
	if w.IsRunning() {
		t.Error("watcher still running after Stop")
	}
}
