package relay

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// KillStrayProcesses terminates every process whose executable name
// matches name, except the current process. Termination is attempted
// gracefully first, then forced. Failures are logged and swallowed; the
// sweep is best-effort by design and returns the number of processes it
// signalled.
func KillStrayProcesses(name string, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}

	procs, err := process.Processes()
	if err != nil {
		logger.Debug("Process listing failed during sweep", "error", err)
		return 0
	}

	killed := 0
	for _, p := range procs {
		if int(p.Pid) == os.Getpid() {
			continue
		}
		procName, err := p.Name()
		if err != nil {
			continue
		}
		if !strings.EqualFold(strings.TrimSuffix(procName, ".exe"), name) {
			continue
		}

		logger.Debug("Sweeping stray process", "name", procName, "pid", p.Pid)
		if err := p.Terminate(); err != nil {
			p.Kill()
			killed++
			continue
		}

		// Give it a moment to exit before escalating.
		deadline := time.Now().Add(500 * time.Millisecond)
		for time.Now().Before(deadline) {
			if running, err := p.IsRunning(); err != nil || !running {
				break
			}
			time.Sleep(50 * time.Millisecond)
		}
		if running, _ := p.IsRunning(); running {
			p.Kill()
		}
		killed++
	}
	return killed
}
