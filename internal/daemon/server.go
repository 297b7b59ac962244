package daemon

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/scantech/usbrelay/internal/adbtether"
	"github.com/scantech/usbrelay/internal/core"
	"github.com/scantech/usbrelay/internal/db"
	"github.com/scantech/usbrelay/internal/nat"
	"github.com/scantech/usbrelay/internal/relay"
	"github.com/scantech/usbrelay/internal/rndis"
	"github.com/scantech/usbrelay/internal/watch"
)

// Daemon owns the device watcher, the relay supervisor, and the NAT
// coordinator, and serves status/log queries over a unix socket.
type Daemon struct {
	mu           sync.Mutex
	listener     net.Listener
	shutdownOnce sync.Once
	logBroadcast *LogBroadcaster
	database     *db.DB
	ctx          context.Context
	cancelFunc   context.CancelFunc

	watcher    *watch.Watcher
	supervisor *relay.Supervisor
	adbMethod  *adbtether.Method
	natCoord   *nat.Coordinator

	deviceHandle  string
	attachedSince time.Time
	relayState    relay.State
}

// DaemonStatus is the STATUS payload sent back to clients.
type DaemonStatus struct {
	Mode          string `json:"mode"`
	DeviceHandle  string `json:"device_handle,omitempty"`
	DeviceState   string `json:"device_state"`
	AttachedSince string `json:"attached_since,omitempty"`
	RelayState    string `json:"relay_state,omitempty"`
	NatMethod     string `json:"nat_method,omitempty"`
	Pid           int    `json:"pid"`
}

func New() *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		logBroadcast: NewLogBroadcaster(core.Config.Log.HistorySize),
		relayState:   relay.StateStopped,
		ctx:          ctx,
		cancelFunc:   cancel,
	}
}

// buildStack wires the connectivity method selected in the config into
// a device watcher. The ADB mode carries the relay supervisor; the RNDIS
// mode carries the NAT coordinator.
func (d *Daemon) buildStack() error {
	logger := slog.Default()

	host := nat.NewHostNetwork(logger)
	natCoord := nat.NewCoordinator(host,
		core.Config.Rndis.NatRule, core.Config.Rndis.Subnet, logger)
	if d.database != nil {
		natCoord.SetEventLogger(d.database.LogNatEvent)
	}

	var supervisor *relay.Supervisor
	var adbMethod *adbtether.Method
	var method watch.Method
	switch core.Config.Mode {
	case "adb":
		supervisor = relay.NewSupervisor(core.Config.Relay.Binary, []string{"relay"}, relay.Callbacks{
			OnOutput: func(line string) {
				slog.Debug("relay: " + line)
			},
			OnState: d.onRelayState,
		}, logger)
		client := adbtether.NewClient(core.Config.Adb.Binary, logger)
		adbMethod = adbtether.NewMethod(client, supervisor,
			core.Config.Adb.Apk, core.Config.Relay.Port, logger)
		method = adbMethod
	case "rndis":
		if !host.Elevated() {
			logger.Warn("Not running elevated; kernel NAT will be skipped in favor of fallback sharing methods")
		}
		method = rndis.NewMethod(rndis.NewSystemLister(), natCoord,
			core.Config.Rndis.Gateway, core.Config.Rndis.GatewayWait, logger)
	default:
		return fmt.Errorf("unknown mode %q, expected \"adb\" or \"rndis\"", core.Config.Mode)
	}

	watcher := watch.New(method, core.Config.PollInterval, watch.Events{
		DeviceAttached: d.onDeviceAttached,
		DeviceDetached: d.onDeviceDetached,
	}, logger)

	d.mu.Lock()
	d.natCoord = natCoord
	d.supervisor = supervisor
	d.adbMethod = adbMethod
	d.watcher = watcher
	d.mu.Unlock()

	return nil
}

// pokeWatcher nudges the current watcher, if any. Config reloads
// replace the watcher field, so it is snapshotted under the lock.
func (d *Daemon) pokeWatcher() {
	d.mu.Lock()
	watcher := d.watcher
	d.mu.Unlock()

	if watcher != nil {
		watcher.Poke()
	}
}

func (d *Daemon) onDeviceAttached(handle string) {
	d.mu.Lock()
	d.deviceHandle = handle
	d.attachedSince = time.Now()
	d.mu.Unlock()

	if d.database != nil {
		if err := d.database.LogDeviceEvent(core.Config.Mode, handle, "attached"); err != nil {
			slog.Error("Failed to log device attach", "error", err)
		}
	}
}

func (d *Daemon) onDeviceDetached() {
	d.mu.Lock()
	handle := d.deviceHandle
	d.deviceHandle = ""
	d.attachedSince = time.Time{}
	d.mu.Unlock()

	if d.database != nil && handle != "" {
		if err := d.database.LogDeviceEvent(core.Config.Mode, handle, "detached"); err != nil {
			slog.Error("Failed to log device detach", "error", err)
		}
	}
}

func (d *Daemon) onRelayState(state relay.State) {
	d.mu.Lock()
	oldState := d.relayState
	d.relayState = state
	d.mu.Unlock()

	slog.Info("Relay state changed", "state", state)
	if d.database != nil {
		if err := d.database.LogRelayEvent(string(oldState), string(state)); err != nil {
			slog.Error("Failed to log relay state change", "error", err)
		}
	}
}

// Run starts the daemon's main loop.
func (d *Daemon) Run() {
	// Setup custom logger that broadcasts to connected clients
	d.setupLogging()

	// Initialize database
	dbPath := core.GetDatabasePath()
	database, err := db.Open(dbPath)
	if err != nil {
		slog.Error("Failed to open database", "error", err, "path", dbPath)
	} else {
		d.database = database
		// Don't use defer here - we close it explicitly in shutdown()
		slog.Info("Database opened", "path", dbPath)

		version := core.FormatVersion(core.Version)
		details := fmt.Sprintf("daemon started - version: %s, PID: %d, mode: %s", version, os.Getpid(), core.Config.Mode)
		if err := d.database.LogDaemonEvent("start", details); err != nil {
			slog.Error("Failed to log daemon start", "error", err)
		}
	}

	if err := d.buildStack(); err != nil {
		slog.Error(fmt.Sprintf("Fatal: %v", err))
		os.Exit(1)
	}

	// Setup PID and socket files and ensure they are cleaned up on exit.
	socketPath := core.GetSocketPath()
	pidFilePath := core.GetPIDFilePath()

	// Try to create the socket listener
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		// Socket creation failed - this could be due to a stale socket file
		if _, statErr := os.Stat(socketPath); statErr == nil {
			// Socket file exists, try to connect to see if a daemon is actually running
			conn, dialErr := net.Dial("unix", socketPath)
			if dialErr == nil {
				conn.Close()
				slog.Error("Fatal: Daemon is already running")
				os.Exit(1)
			}
			// Connection failed, socket file is stale - remove it
			slog.Info(fmt.Sprintf("Removing stale socket file: %s", socketPath))
			if removeErr := os.Remove(socketPath); removeErr != nil {
				slog.Error(fmt.Sprintf("Fatal: Could not remove stale socket: %v", removeErr))
				os.Exit(1)
			}
			listener, err = net.Listen("unix", socketPath)
		}
		if err != nil {
			slog.Error(fmt.Sprintf("Fatal: Could not create socket listener: %v", err))
			os.Exit(1)
		}
	}

	os.WriteFile(pidFilePath, []byte(strconv.Itoa(os.Getpid())), 0o644)
	defer os.Remove(pidFilePath)
	defer os.Remove(socketPath)

	d.listener = listener
	slog.Info(fmt.Sprintf("Daemon listening on %s", socketPath))

	// Sweep relay processes orphaned by a previous daemon instance. Must
	// happen before the watcher starts so a fresh relay does not race an
	// orphan for the listen port.
	if n := relay.KillStrayProcesses(core.RelayProcessName, slog.Default()); n > 0 {
		slog.Info("Cleaned up orphan relay processes from previous daemon", "count", n)
	}

	// Poke the watcher on wake: USB devices re-enumerate after resume and
	// the next scheduled poll may be a full interval away.
	sleepMonitor := NewSleepMonitor(slog.Default(), nil, d.pokeWatcher)
	sleepMonitor.Start(d.ctx)

	// Watch config file for changes
	d.watchConfig()

	// Handle signals
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGTERM, syscall.SIGINT)

	// Graceful shutdown on SIGTERM/SIGINT
	go func() {
		<-shutdownChan
		slog.Info("Shutdown signal received.")
		d.shutdown()
		if d.listener != nil {
			d.listener.Close()
		}
		os.Exit(0)
	}()

	d.watcher.Start()

	// Accept connections in a loop
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if !strings.Contains(err.Error(), "use of closed network connection") {
				slog.Info(fmt.Sprintf("Error accepting connection: %v", err))
			}
			break
		}
		go d.handleConnection(conn)
	}
}

func (d *Daemon) handleConnection(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}

	parts := strings.Fields(scanner.Text())
	if len(parts) == 0 {
		return
	}
	command := parts[0]

	if command != "VERSION" {
		slog.Info(fmt.Sprintf("Executing command: %s", command))
	}

	var response Response
	switch command {
	case "STATUS":
		response = d.getStatus()
	case "VERSION":
		response = d.getVersion()
	case "STOP":
		response = d.stopDaemon()
	case "LOGS":
		d.handleLogs(conn)
		return
	default:
		response = Response{}
		response.AddMessage(fmt.Sprintf("Unknown command: %s", command), SeverityError)
	}

	conn.Write([]byte(response.ToJSON()))
}

func (d *Daemon) getStatus() Response {
	d.mu.Lock()
	handle := d.deviceHandle
	since := d.attachedSince
	supervisor := d.supervisor
	natCoord := d.natCoord
	d.mu.Unlock()

	response := Response{}
	status := DaemonStatus{
		Mode: core.Config.Mode,
		Pid:  os.Getpid(),
	}

	if handle == "" {
		status.DeviceState = "detached"
		response.AddMessage("No device attached", SeverityWarn)
	} else {
		status.DeviceState = "attached"
		status.DeviceHandle = handle
		status.AttachedSince = since.Format(time.RFC3339)
		response.AddMessage("OK", SeverityInfo)
	}

	if supervisor != nil {
		status.RelayState = string(supervisor.State())
	}
	if natCoord != nil {
		status.NatMethod = string(natCoord.Active())
	}

	response.AddData(status)
	return response
}

func (d *Daemon) getVersion() Response {
	response := Response{}
	response.AddMessage("OK", SeverityInfo)
	response.AddData(map[string]interface{}{
		"version": core.Version,
		"mode":    core.Config.Mode,
		"pid":     os.Getpid(),
	})
	return response
}

func (d *Daemon) stopDaemon() Response {
	response := Response{}
	response.AddMessage("Daemon shutting down", SeverityInfo)

	// Delay shutdown slightly so the response reaches the client first
	go func() {
		time.Sleep(100 * time.Millisecond)
		d.shutdown()
		if d.listener != nil {
			d.listener.Close()
		}
		os.Exit(0)
	}()

	return response
}

// shutdown stops the stack in dependency order: the watcher first (its
// final detach tears sharing down through the method), then the relay,
// then adb, then the database.
func (d *Daemon) shutdown() {
	d.shutdownOnce.Do(func() {
		slog.Info("Executing shutdown sequence...")

		if d.cancelFunc != nil {
			d.cancelFunc()
		}

		if d.watcher != nil {
			d.watcher.Stop()
		}

		if d.supervisor != nil {
			d.supervisor.Stop()
		}

		// Belt and braces: the watcher's final detach handles this for
		// RNDIS mode, but a teardown that failed there stays pending.
		if d.natCoord != nil {
			if err := d.natCoord.Teardown(); err != nil {
				slog.Error("Sharing teardown incomplete at shutdown", "error", err)
			}
		}

		if d.adbMethod != nil {
			d.adbMethod.Shutdown(core.Config.Adb.KillServerOnStop)
		}

		if d.database != nil {
			version := core.FormatVersion(core.Version)
			details := fmt.Sprintf("daemon stopped - version: %s, PID: %d", version, os.Getpid())
			if err := d.database.LogDaemonEvent("stop", details); err != nil {
				slog.Error("Failed to log daemon stop event", "error", err)
			}
			if err := d.database.Flush(); err != nil {
				slog.Error("Failed to flush database during shutdown", "error", err)
			}
			if err := d.database.Close(); err != nil {
				slog.Error("Failed to close database during shutdown", "error", err)
			} else {
				slog.Info("Database closed successfully")
			}
		}
	})
}

func (d *Daemon) reloadConfig() error {
	config, err := core.LoadConfig(core.Config.ConfigPath)
	if err != nil {
		slog.Error("Failed to reload configuration", "error", err)
		return err
	}

	old := core.Config
	core.Config = config

	// Connectivity changes need a rebuilt stack; log settings and the
	// like take effect where they are read.
	if config.Mode == old.Mode &&
		config.PollInterval == old.PollInterval &&
		config.Relay == old.Relay &&
		config.Adb == old.Adb &&
		config.Rndis == old.Rndis {
		return nil
	}

	slog.Info("Connectivity settings changed, restarting device watcher", "mode", config.Mode)

	// Stop outside the lock: the watcher's final detach and the relay's
	// state callback both re-enter daemon state.
	d.watcher.Stop()
	if d.supervisor != nil {
		d.supervisor.Stop()
	}
	if d.natCoord != nil {
		if err := d.natCoord.Teardown(); err != nil {
			slog.Error("Sharing teardown incomplete during reload", "error", err)
		}
	}

	d.mu.Lock()
	d.supervisor = nil
	d.adbMethod = nil
	d.mu.Unlock()

	if err := d.buildStack(); err != nil {
		slog.Error(fmt.Sprintf("Reload failed, daemon has no active connectivity method: %v", err))
		return err
	}
	d.watcher.Start()
	return nil
}

func (d *Daemon) watchConfig() {
	configPath := core.GetConfigFilePath()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Failed to create config file watcher", "error", err)
		return
	}

	if err := watcher.Add(configPath); err != nil {
		slog.Error("Failed to watch config file", "error", err, "path", configPath)
		watcher.Close()
		return
	}

	// Set up a debounced reload handler
	var reloadTimer *time.Timer
	var reloadMutex sync.Mutex

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-d.ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				// Re-add watch after RENAME, REMOVE, or CREATE events.
				// Editors using atomic writes remove the original from
				// the watch list.
				if event.Op&(fsnotify.Rename|fsnotify.Remove|fsnotify.Create) != 0 {
					go func() {
						for attempt := 0; attempt < 5; attempt++ {
							if attempt > 0 {
								delay := time.Duration(10<<uint(attempt-1)) * time.Millisecond
								time.Sleep(delay)
							}
							watcher.Remove(configPath)
							if err := watcher.Add(configPath); err == nil {
								return
							} else if attempt == 4 {
								slog.Error("Failed to re-add watch after multiple attempts", "error", err, "path", configPath)
							}
						}
					}()
				}

				// Many editors use atomic rename operations instead of
				// direct writes
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}

				reloadMutex.Lock()
				// Debounce: wait 500ms after last change before reloading
				if reloadTimer != nil {
					reloadTimer.Stop()
				}
				reloadTimer = time.AfterFunc(500*time.Millisecond, func() {
					slog.Info("Configuration file changed, reloading...", "file", event.Name)
					if err := d.reloadConfig(); err != nil {
						slog.Debug("Config reload failed", "error", err)
					} else {
						slog.Info("Configuration reloaded successfully")
					}
				})
				reloadMutex.Unlock()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config file watcher error", "error", err)
			}
		}
	}()

	slog.Info("Watching configuration file for changes")
}
