//go:build !linux

package daemon

import "context"

// Start is a no-op on platforms without logind. The watcher's regular
// poll interval picks up post-resume device changes on its own, just
// more slowly.
func (m *SleepMonitor) Start(context.Context) {
	m.logger.Debug("Sleep monitor not available on this platform")
}
