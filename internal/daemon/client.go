package daemon

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/scantech/usbrelay/internal/core"
)

// SendCommand connects to the daemon, sends a command, and returns the response.
func SendCommand(command string) (Response, error) {
	response := Response{}

	conn, err := net.Dial("unix", core.GetSocketPath())
	if err != nil {
		return response, err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(command + "\n")); err != nil {
		return response, fmt.Errorf("failed to send command to daemon: %w", err)
	}
	bytes, err := io.ReadAll(conn)
	if err != nil {
		return response, fmt.Errorf("failed to read response from daemon: %w", err)
	}

	if err := json.Unmarshal(bytes, &response); err != nil {
		return response, fmt.Errorf("failed to parse response from daemon: %w", err)
	}

	return response, nil
}

// StartDaemon forks the daemon process and waits for its socket to appear.
func StartDaemon() error {
	if _, err := SendCommand("VERSION"); err == nil {
		return fmt.Errorf("daemon is already running")
	}

	cmd := exec.Command(os.Args[0], "daemon",
		"--config-path", core.Config.ConfigPath)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("could not fork daemon process: %w", err)
	}
	slog.Info(fmt.Sprintf("Daemon process launched with PID: %d", cmd.Process.Pid))

	// Wait for the daemon to create the socket
	for i := 0; i < 20; i++ {
		time.Sleep(100 * time.Millisecond)
		if _, err := os.Stat(core.GetSocketPath()); err == nil {
			return nil
		}
	}
	return fmt.Errorf("daemon process was launched but socket was not created in time")
}

// EnsureDaemonIsRunning handles the auto-start logic.
func EnsureDaemonIsRunning() {
	if _, err := SendCommand("VERSION"); err == nil {
		return // Daemon is running
	}

	slog.Info("Daemon not running. Starting it now...")
	if err := StartDaemon(); err != nil {
		slog.Error(fmt.Sprintf("Fatal: %v", err))
		os.Exit(1)
	}
	slog.Info("Daemon is ready.")
}

// StreamLogs connects to the daemon's log channel and copies everything
// to stdout until the daemon closes the connection or the copy fails.
func StreamLogs() error {
	conn, err := net.Dial("unix", core.GetSocketPath())
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("LOGS\n")); err != nil {
		return fmt.Errorf("failed to request log stream: %w", err)
	}
	_, err = io.Copy(os.Stdout, conn)
	return err
}
