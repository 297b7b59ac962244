package rndis

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/scantech/usbrelay/internal/nat"
)

// fakeLister serves adapter snapshots in sequence; the last snapshot
// repeats once the script runs out.
type fakeLister struct {
	mu       sync.Mutex
	snaps    [][]Adapter
	err      error
	listings int
}

func (f *fakeLister) Adapters() ([]Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listings++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.snaps) == 0 {
		return nil, nil
	}
	snap := f.snaps[0]
	if len(f.snaps) > 1 {
		f.snaps = f.snaps[1:]
	}
	return snap, nil
}

type spyNat struct {
	mu           sync.Mutex
	established  []string
	teardowns    int
	establishErr error
}

func (s *spyNat) Establish(adapter string) (nat.Method, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.establishErr != nil {
		return nat.MethodNone, s.establishErr
	}
	s.established = append(s.established, adapter)
	return nat.MethodKernelNat, nil
}

func (s *spyNat) Teardown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardowns++
	return nil
}

func newTestRndisMethod(lister AdapterLister, spy *spyNat, wait time.Duration) *Method {
	m := NewMethod(lister, spy, "192.168.137.1", wait, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.pollEvery = time.Millisecond
	return m
}

func TestDetectMatchesRndisDescription(t *testing.T) {
	lister := &fakeLister{snaps: [][]Adapter{{
		{Name: "Ethernet", Description: "Intel(R) Ethernet Connection", Up: true},
		{Name: "Ethernet 2", Description: "Remote NDIS based Internet Sharing Device", Up: true},
	}}}
	m := newTestRndisMethod(lister, &spyNat{}, time.Second)

	handle, err := m.Detect()
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if handle != "Ethernet 2" {
		t.Errorf("Detect() = %q, want Ethernet 2", handle)
	}
}

func TestDetectMatchesUsbInterfaceName(t *testing.T) {
	lister := &fakeLister{snaps: [][]Adapter{{
		{Name: "eth0", Description: "eth0", Up: true},
		{Name: "usb0", Description: "usb0", Up: true},
	}}}
	m := newTestRndisMethod(lister, &spyNat{}, time.Second)

	handle, err := m.Detect()
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if handle != "usb0" {
		t.Errorf("Detect() = %q, want usb0", handle)
	}
}

func TestDetectSkipsDownAdapters(t *testing.T) {
	lister := &fakeLister{snaps: [][]Adapter{{
		{Name: "usb0", Description: "usb0", Up: false},
	}}}
	m := newTestRndisMethod(lister, &spyNat{}, time.Second)

	handle, err := m.Detect()
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if handle != "" {
		t.Errorf("Detect() = %q for a down adapter, want empty", handle)
	}
}

func TestDetectSkipsUnsafeNames(t *testing.T) {
	lister := &fakeLister{snaps: [][]Adapter{{
		{Name: "usb0; rm -rf /", Description: "Remote NDIS device", Up: true},
	}}}
	m := newTestRndisMethod(lister, &spyNat{}, time.Second)

	handle, err := m.Detect()
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if handle != "" {
		t.Errorf("Detect() = %q for unsafe name, want empty", handle)
	}
}

func TestDetectErrorPropagates(t *testing.T) {
	wantErr := errors.New("listing failed")
	m := newTestRndisMethod(&fakeLister{err: wantErr}, &spyNat{}, time.Second)

	if _, err := m.Detect(); !errors.Is(err, wantErr) {
		t.Errorf("Detect() error = %v, want %v", err, wantErr)
	}
}

func TestOnAttachEstablishesWhenGatewayPresent(t *testing.T) {
	lister := &fakeLister{snaps: [][]Adapter{{
		{Name: "usb0", Description: "usb0", Up: true, IPs: []string{"192.168.137.1"}},
	}}}
	spy := &spyNat{}
	m := newTestRndisMethod(lister, spy, time.Second)

	m.OnAttach("usb0")

	if len(spy.established) != 1 || spy.established[0] != "usb0" {
		t.Errorf("Establish calls = %v, want [usb0]", spy.established)
	}
}

func TestOnAttachWaitsForGateway(t *testing.T) {
	bare := []Adapter{{Name: "usb0", Description: "usb0", Up: true}}
	ready := []Adapter{{Name: "usb0", Description: "usb0", Up: true, IPs: []string{"192.168.137.1"}}}
	lister := &fakeLister{snaps: [][]Adapter{bare, bare, bare, ready}}
	spy := &spyNat{}
	m := newTestRndisMethod(lister, spy, time.Second)

	m.OnAttach("usb0")

	if len(spy.established) != 1 {
		t.Errorf("Establish calls = %v, want one after gateway appeared", spy.established)
	}
	if lister.listings < 4 {
		t.Errorf("listings = %d, want at least 4 polls", lister.listings)
	}
}

func TestOnAttachTimeoutSkipsEstablish(t *testing.T) {
	lister := &fakeLister{snaps: [][]Adapter{{
		{Name: "usb0", Description: "usb0", Up: true, IPs: []string{"169.254.12.7"}},
	}}}
	spy := &spyNat{}
	m := newTestRndisMethod(lister, spy, 20*time.Millisecond)

	m.OnAttach("usb0")

	if len(spy.established) != 0 {
		t.Errorf("Establish called despite gateway timeout: %v", spy.established)
	}
}

func TestOnDetachAlwaysTearsDown(t *testing.T) {
	spy := &spyNat{}
	m := newTestRndisMethod(&fakeLister{}, spy, time.Second)

	m.OnDetach("usb0")
	m.OnDetach("usb0")

	if spy.teardowns != 2 {
		t.Errorf("teardowns = %d, want 2", spy.teardowns)
	}
}

func TestOnAttachEstablishFailureIsNotFatal(t *testing.T) {
	lister := &fakeLister{snaps: [][]Adapter{{
		{Name: "usb0", Description: "usb0", Up: true, IPs: []string{"192.168.137.1"}},
	}}}
	spy := &spyNat{establishErr: nat.ErrAllMethodsFailed}
	m := newTestRndisMethod(lister, spy, time.Second)

	m.OnAttach("usb0")
	m.OnDetach("usb0")

	if spy.teardowns != 1 {
		t.Errorf("teardowns = %d, want 1", spy.teardowns)
	}
}
