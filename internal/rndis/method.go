package rndis

import (
	"log/slog"
	"time"

	"github.com/scantech/usbrelay/internal/nat"
)

// natEstablisher is the slice of the NAT coordinator this method drives.
type natEstablisher interface {
	Establish(adapter string) (nat.Method, error)
	Teardown() error
}

// Method is the RNDIS connectivity method: the phone exposes a USB
// network adapter, the host shares its internet connection onto it. No
// relay process or adb is involved; the phone routes through the host's
// NAT.
type Method struct {
	lister      AdapterLister
	nat         natEstablisher
	gateway     string
	gatewayWait time.Duration
	pollEvery   time.Duration
	logger      *slog.Logger
}

func NewMethod(lister AdapterLister, nat natEstablisher, gateway string, gatewayWait time.Duration, logger *slog.Logger) *Method {
	if logger == nil {
		logger = slog.Default()
	}
	return &Method{
		lister:      lister,
		nat:         nat,
		gateway:     gateway,
		gatewayWait: gatewayWait,
		pollEvery:   500 * time.Millisecond,
		logger:      logger,
	}
}

func (m *Method) Name() string { return "rndis" }

// Detect returns the name of the first tether adapter that is up.
// Adapters whose names contain shell metacharacters are skipped: the
// name is passed to OS tooling later and cannot be trusted.
func (m *Method) Detect() (string, error) {
	adapters, err := m.lister.Adapters()
	if err != nil {
		return "", err
	}
	for _, a := range adapters {
		if !a.isTether() || !a.Up {
			continue
		}
		if !safeAdapterName.MatchString(a.Name) {
			m.logger.Warn("Ignoring tether adapter with unsafe name", "name", a.Name)
			continue
		}
		return a.Name, nil
	}
	return "", nil
}

// OnAttach waits for the gateway address to land on the adapter, then
// establishes internet sharing. The address is assigned out-of-band (by
// the one-time setup task or a DHCP reservation), so a timeout means
// setup never ran and sharing is not attempted.
func (m *Method) OnAttach(name string) {
	m.logger.Info("Tether adapter detected", "adapter", name)

	if !m.waitForGateway(name) {
		m.logger.Error("Gateway address never appeared on the adapter; run the privileged setup task and replug the device",
			"adapter", name, "gateway", m.gateway, "waited", m.gatewayWait)
		return
	}

	method, err := m.nat.Establish(name)
	if err != nil {
		m.logger.Error("Internet sharing could not be established; the device has USB link but no internet",
			"adapter", name, "error", err)
		return
	}
	m.logger.Info("Internet sharing established", "adapter", name, "method", method)
}

// OnDetach tears down sharing unconditionally, including the case where
// attach never got as far as establishing it. Teardown is idempotent so
// the extra call is harmless.
func (m *Method) OnDetach(name string) {
	m.logger.Warn("Tether adapter disconnected", "adapter", name)
	if err := m.nat.Teardown(); err != nil {
		m.logger.Warn("Sharing teardown incomplete, will retry on next detach", "error", err)
	}
}

func (m *Method) waitForGateway(name string) bool {
	deadline := time.Now().Add(m.gatewayWait)
	for {
		adapters, err := m.lister.Adapters()
		if err != nil {
			m.logger.Debug("Adapter listing failed during gateway wait", "error", err)
		}
		for _, a := range adapters {
			if a.Name == name && a.HasIP(m.gateway) {
				return true
			}
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(m.pollEvery)
	}
}
