//go:build linux

package nat

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

type linuxHost struct {
	logger *slog.Logger
}

// NewHostNetwork returns the Linux sharing primitives. Kernel NAT is a
// MASQUERADE rule tagged with the rule name, forwarding is the ip_forward
// sysctl. Connection sharing has no Linux equivalent so that arm always
// reports unsupported and the coordinator moves on.
func NewHostNetwork(logger *slog.Logger) HostNetwork {
	if logger == nil {
		logger = slog.Default()
	}
	return &linuxHost{logger: logger}
}

func (h *linuxHost) Elevated() bool {
	return unix.Geteuid() == 0
}

func (h *linuxHost) command(timeout time.Duration, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func masqueradeArgs(action, name, subnet string) []string {
	return []string{
		"-t", "nat", action, "POSTROUTING",
		"-s", subnet, "-j", "MASQUERADE",
		"-m", "comment", "--comment", name,
	}
}

func (h *linuxHost) NatRuleExists(name string) (bool, error) {
	out, err := h.command(10*time.Second, "iptables",
		"-t", "nat", "-S", "POSTROUTING")
	if err != nil {
		return false, err
	}
	return strings.Contains(out, "--comment "+name) ||
		strings.Contains(out, `--comment "`+name+`"`), nil
}

func (h *linuxHost) CreateNatRule(name, subnet string) error {
	_, err := h.command(10*time.Second, "iptables", masqueradeArgs("-A", name, subnet)...)
	return err
}

func (h *linuxHost) RemoveNatRule(name, subnet string) error {
	_, err := h.command(10*time.Second, "iptables", masqueradeArgs("-D", name, subnet)...)
	return err
}

func (h *linuxHost) EnableSharing(string) error {
	return ErrNotSupported
}

func (h *linuxHost) DisableSharing() error {
	return ErrNotSupported
}

func (h *linuxHost) EnableForwarding() error {
	_, err := h.command(10*time.Second, "sysctl", "-w", "net.ipv4.ip_forward=1")
	return err
}

func (h *linuxHost) DisableForwarding() error {
	_, err := h.command(10*time.Second, "sysctl", "-w", "net.ipv4.ip_forward=0")
	return err
}
