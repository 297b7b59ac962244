package daemon

import (
	"log/slog"
	"sync"
)

// SleepMonitor detects system sleep/wake events. USB devices re-enumerate
// after resume, so the daemon pokes the device watcher on wake instead of
// waiting out the poll interval.
type SleepMonitor struct {
	mu       sync.RWMutex
	sleeping bool
	logger   *slog.Logger
	onSleep  func()
	onWake   func()
}

// NewSleepMonitor creates a new SleepMonitor with the given callbacks.
// onSleep and onWake are called when the system transitions to sleep or wake.
func NewSleepMonitor(logger *slog.Logger, onSleep, onWake func()) *SleepMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SleepMonitor{
		logger:  logger,
		onSleep: onSleep,
		onWake:  onWake,
	}
}

func (m *SleepMonitor) markSleep() {
	m.mu.Lock()
	m.sleeping = true
	m.mu.Unlock()

	m.logger.Info("System entering sleep")

	if m.onSleep != nil {
		m.onSleep()
	}
}

func (m *SleepMonitor) markWake() {
	m.mu.Lock()
	wasSleeping := m.sleeping
	if !wasSleeping {
		m.mu.Unlock()
		return // Already awake
	}
	m.sleeping = false
	m.mu.Unlock()

	m.logger.Info("System waking up")

	if m.onWake != nil {
		m.onWake()
	}
}

// IsSleeping returns true if the system is currently marked as sleeping.
func (m *SleepMonitor) IsSleeping() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sleeping
}
