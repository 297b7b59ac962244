package adbtether

import (
	"log/slog"
	"strings"

	"github.com/scantech/usbrelay/internal/core"
	"github.com/scantech/usbrelay/internal/relay"
)

// relayStarter is the part of the relay supervisor the method drives.
type relayStarter interface {
	Start() error
}

// Method is the ADB connectivity method: polls the adb control channel
// for devices, and on attach wires the reverse tunnel, launches the
// device-side VPN, and ensures the host relay is running.
type Method struct {
	client     *Client
	supervisor relayStarter
	apkPath    string
	port       int
	logger     *slog.Logger
}

// NewMethod creates the ADB method. apkPath may be empty when no bundled
// fallback client ships with this install.
func NewMethod(client *Client, supervisor relayStarter, apkPath string, port int, logger *slog.Logger) *Method {
	if logger == nil {
		logger = slog.Default()
	}
	return &Method{
		client:     client,
		supervisor: supervisor,
		apkPath:    apkPath,
		port:       port,
		logger:     logger,
	}
}

func (m *Method) Name() string { return "adb" }

// Detect returns the first attached device serial. An adb failure (server
// not yet started, binary missing) is reported as an error so the watcher
// retries on the next poll rather than treating it as a detach.
func (m *Method) Detect() (string, error) {
	serials, err := m.client.Devices()
	if err != nil {
		return "", err
	}
	if len(serials) == 0 {
		return "", nil
	}
	return serials[0], nil
}

// OnAttach sets up the reverse tunnel, starts the device-side VPN
// client, and ensures the relay process is running. Each step is
// best-effort: a failed step is logged with remediation and the rest
// still run, since the device may simply need another plug cycle.
func (m *Method) OnAttach(serial string) {
	m.logger.Info("Device detected", "serial", serial)

	if err := m.client.Reverse(serial, core.ReverseSocketName, m.port); err != nil {
		m.logger.Error("Reverse tunnel setup failed; replug the device to retry",
			"serial", serial, "error", err)
	} else {
		m.logger.Info("Reverse tunnel established", "serial", serial, "port", m.port)
	}

	m.startDeviceClient(serial)

	if err := m.supervisor.Start(); err != nil {
		m.logger.Error("Relay start failed; check the relay binary path in the configuration",
			"error", err)
	}
}

// OnDetach only reports the loss. The relay stays up: it serves any
// device that attaches later, and the daemon owns its shutdown.
func (m *Method) OnDetach(serial string) {
	m.logger.Warn("Device disconnected", "serial", serial)
}

// startDeviceClient launches the vendor VPN activity when the vendor app
// is installed, otherwise installs and starts the bundled client.
func (m *Method) startDeviceClient(serial string) {
	if m.client.HasPackage(serial, core.VendorPackage) {
		m.logger.Info("Vendor client detected, starting built-in VPN", "serial", serial)

		dns := SystemDNSServers()
		m.logger.Info("Using host DNS servers", "servers", strings.Join(dns, ","))

		err := m.client.StartActivity(serial, core.VendorRelayAction,
			"-n", core.VendorRelayActivity,
			"--esa", "dnsServers", strings.Join(dns, ","))
		if err != nil {
			m.logger.Warn("Failed to start vendor VPN", "serial", serial, "error", err)
			return
		}
		m.logger.Info("Vendor VPN started on device", "serial", serial)
		return
	}

	if m.apkPath == "" {
		m.logger.Error("Vendor client not installed and no fallback APK configured; set adb.apk in the configuration")
		return
	}

	m.logger.Info("Vendor client not found, installing bundled client", "serial", serial, "apk", m.apkPath)
	if err := m.client.Install(serial, m.apkPath); err != nil {
		m.logger.Error("APK install failed", "serial", serial, "error", err)
		return
	}
	if err := m.client.StartActivity(serial, core.GnirehtetAction); err != nil {
		m.logger.Warn("Failed to start bundled VPN", "serial", serial, "error", err)
		return
	}
	m.logger.Info("Bundled VPN started on device", "serial", serial)
}

// Shutdown releases adb-side resources held across the whole run.
func (m *Method) Shutdown(killServer bool) {
	if killServer {
		m.client.KillServer()
	}
}

var _ relayStarter = (*relay.Supervisor)(nil)
