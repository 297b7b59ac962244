// Package adbtether implements reverse tethering for Android devices:
// device detection over the adb control channel, the reverse tunnel into
// the host relay, and launching the device-side VPN client.
package adbtether

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/scantech/usbrelay/internal/relay"
)

// runner executes one adb invocation and returns its combined output.
// Swapped out in tests.
type runner func(timeout time.Duration, name string, args ...string) (string, error)

func execRun(timeout time.Duration, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s %s: %w\n%s", name, strings.Join(args, " "), err, out)
	}
	return string(out), nil
}

// Client wraps adb command-line calls.
type Client struct {
	path   string
	run    runner
	logger *slog.Logger
}

// NewClient creates a client for the adb binary at path (or a bare name
// resolved via PATH).
func NewClient(path string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		path:   path,
		run:    execRun,
		logger: logger,
	}
}

// Devices returns the serials of devices in the "device" state, in the
// order adb reports them. Unauthorized and offline entries are skipped.
func (c *Client) Devices() ([]string, error) {
	out, err := c.run(10*time.Second, c.path, "devices")
	if err != nil {
		return nil, err
	}
	return parseDeviceList(out), nil
}

// Reverse establishes a reverse tunnel from an abstract local socket on
// the device to a TCP port on the host.
func (c *Client) Reverse(serial, socketName string, port int) error {
	_, err := c.run(10*time.Second, c.path,
		"-s", serial, "reverse",
		"localabstract:"+socketName, "tcp:"+strconv.Itoa(port))
	return err
}

// HasPackage reports whether the given package is installed on the
// device. Errors resolve to false: the caller falls back to the bundled
// client either way.
func (c *Client) HasPackage(serial, pkg string) bool {
	out, err := c.run(10*time.Second, c.path,
		"-s", serial, "shell", "pm", "list", "packages", pkg)
	if err != nil {
		c.logger.Debug("Package check failed", "serial", serial, "package", pkg, "error", err)
		return false
	}
	return strings.Contains(out, pkg)
}

// StartActivity fires an intent on the device via `am start`. Extra
// args (component, string-array extras) are passed through.
func (c *Client) StartActivity(serial, action string, extra ...string) error {
	args := append([]string{"-s", serial, "shell", "am", "start", "-a", action}, extra...)
	_, err := c.run(10*time.Second, c.path, args...)
	return err
}

// Install installs an APK on the device, replacing any existing copy.
func (c *Client) Install(serial, apkPath string) error {
	_, err := c.run(60*time.Second, c.path, "-s", serial, "install", "-r", apkPath)
	return err
}

// KillServer shuts down the adb server daemon gracefully, then sweeps
// any stray adb processes that outlived it.
func (c *Client) KillServer() {
	if _, err := c.run(5*time.Second, c.path, "kill-server"); err != nil {
		c.logger.Debug("adb kill-server failed", "error", err)
	}
	if n := relay.KillStrayProcesses("adb", c.logger); n > 0 {
		c.logger.Debug("Killed stray adb processes", "count", n)
	}
	c.logger.Info("adb server stopped")
}

// parseDeviceList extracts serials from `adb devices` output. The first
// line is a header; device lines are "<serial>\tdevice".
func parseDeviceList(output string) []string {
	var serials []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, "List of") || strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 || fields[1] != "device" {
			continue
		}
		serials = append(serials, fields[0])
	}
	return serials
}
