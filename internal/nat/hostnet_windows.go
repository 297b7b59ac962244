//go:build windows

package nat

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sys/windows"
)

// Adapter names are interpolated into PowerShell snippets, so only names
// matching this pattern are accepted.
var safeAdapterName = regexp.MustCompile(`^[\w\s\-().#]+$`)

type windowsHost struct {
	logger *slog.Logger
}

// NewHostNetwork returns the Windows sharing primitives, backed by
// PowerShell (WinNAT, ICS via the HNetCfg COM interface, and per
// interface forwarding).
func NewHostNetwork(logger *slog.Logger) HostNetwork {
	if logger == nil {
		logger = slog.Default()
	}
	return &windowsHost{logger: logger}
}

func (h *windowsHost) Elevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}

func (h *windowsHost) powershell(timeout time.Duration, script string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "powershell",
		"-NoProfile", "-NonInteractive", "-Command", script)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("powershell: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func (h *windowsHost) NatRuleExists(name string) (bool, error) {
	out, err := h.powershell(15*time.Second, fmt.Sprintf(
		`Get-NetNat -Name '%s' -ErrorAction SilentlyContinue | Select-Object -ExpandProperty Name`, name))
	if err != nil {
		return false, err
	}
	return strings.Contains(out, name), nil
}

func (h *windowsHost) CreateNatRule(name, subnet string) error {
	_, err := h.powershell(30*time.Second, fmt.Sprintf(
		`New-NetNat -Name '%s' -InternalIPInterfaceAddressPrefix '%s' -ErrorAction Stop | Out-Null`,
		name, subnet))
	return err
}

func (h *windowsHost) RemoveNatRule(name, _ string) error {
	_, err := h.powershell(30*time.Second, fmt.Sprintf(
		`Remove-NetNat -Name '%s' -Confirm:$false -ErrorAction Stop`, name))
	return err
}

// icsScript drives the legacy Internet Connection Sharing COM interface:
// the internet-facing connection becomes the public side and the
// tethered adapter the private side.
const icsScript = `
$netShare = New-Object -ComObject HNetCfg.HNetShare
$connections = $netShare.EnumEveryConnection
$public = $null
$private = $null
foreach ($conn in $connections) {
    $props = $netShare.NetConnectionProps.Invoke($conn)
    if ($props.Status -ne 2) { continue }
    if ($props.Name -eq '%s') { $private = $conn }
    elseif ($props.MediaType -eq 0 -or $props.MediaType -eq 71) { $public = $conn }
}
if (-not $public -or -not $private) { throw 'suitable connections not found' }
$netShare.INetSharingConfigurationForINetConnection.Invoke($public).EnableSharing(0)
$netShare.INetSharingConfigurationForINetConnection.Invoke($private).EnableSharing(1)
`

func (h *windowsHost) EnableSharing(adapter string) error {
	if !safeAdapterName.MatchString(adapter) {
		return fmt.Errorf("unsafe adapter name %q", adapter)
	}
	_, err := h.powershell(60*time.Second, fmt.Sprintf(icsScript, adapter))
	return err
}

const icsDisableScript = `
$netShare = New-Object -ComObject HNetCfg.HNetShare
foreach ($conn in $netShare.EnumEveryConnection) {
    $cfg = $netShare.INetSharingConfigurationForINetConnection.Invoke($conn)
    if ($cfg.SharingEnabled) { $cfg.DisableSharing() }
}
`

func (h *windowsHost) DisableSharing() error {
	_, err := h.powershell(60*time.Second, icsDisableScript)
	return err
}

func (h *windowsHost) EnableForwarding() error {
	_, err := h.powershell(30*time.Second,
		`Set-NetIPInterface -AddressFamily IPv4 -Forwarding Enabled -ErrorAction Stop`)
	return err
}

func (h *windowsHost) DisableForwarding() error {
	_, err := h.powershell(30*time.Second,
		`Set-NetIPInterface -AddressFamily IPv4 -Forwarding Disabled -ErrorAction Stop`)
	return err
}
