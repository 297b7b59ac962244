package core

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

const (
	BaseDirName    = ".config/usbrelay"
	ConfigFileName = "config.hcl"
	PidFileName    = "daemon.pid"
	SocketName     = "daemon.sock"
	DatabaseName   = "usbrelay.db"
)

// Config is the global configuration instance
var Config *Configuration

// Configuration is the fully resolved usbrelay configuration.
type Configuration struct {
	ConfigPath   string        // Directory containing config files
	Verbose      int           // Verbosity level
	Mode         string        // Connectivity mode: "adb" or "rndis"
	PollInterval time.Duration // Device poll interval

	Relay RelayConfig
	Adb   AdbConfig
	Rndis RndisConfig
	Log   LogConfig
}

// RelayConfig describes the external relay process.
type RelayConfig struct {
	Binary string // Path to the relay binary
	Port   int    // Local TCP port the relay listens on
}

// AdbConfig describes how to reach the adb command line tool.
type AdbConfig struct {
	Binary           string // Path to adb, or bare "adb" for PATH lookup
	Apk              string // Path to the fallback gnirehtet.apk, empty to disable
	KillServerOnStop bool   // Kill the adb server daemon on shutdown
}

// RndisConfig describes the RNDIS adapter side of the tether.
type RndisConfig struct {
	Gateway     string        // Gateway address the privileged setup assigns
	Subnet      string        // Tethering subnet in CIDR notation
	NatRule     string        // Name of the kernel NAT rule
	GatewayWait time.Duration // How long to wait for the gateway to appear
}

// LogConfig controls daemon log retention.
type LogConfig struct {
	HistorySize int // Lines of log history replayed to `usbrelay logs`
}

// HCL parsing structs

type hclConfig struct {
	Mode         string    `hcl:"mode,optional"`
	PollInterval string    `hcl:"poll_interval,optional"`
	Verbose      int       `hcl:"verbose,optional"`
	Relay        *hclRelay `hcl:"relay,block"`
	Adb          *hclAdb   `hcl:"adb,block"`
	Rndis        *hclRndis `hcl:"rndis,block"`
	Log          *hclLog   `hcl:"log,block"`
}

type hclRelay struct {
	Binary string `hcl:"binary,optional"`
	Port   int    `hcl:"port,optional"`
}

type hclAdb struct {
	Binary           string `hcl:"binary,optional"`
	Apk              string `hcl:"apk,optional"`
	KillServerOnStop *bool  `hcl:"kill_server_on_stop,optional"`
}

type hclRndis struct {
	Gateway     string `hcl:"gateway,optional"`
	Subnet      string `hcl:"subnet,optional"`
	NatRule     string `hcl:"nat_rule,optional"`
	GatewayWait string `hcl:"gateway_wait,optional"`
}

type hclLog struct {
	HistorySize int `hcl:"history,optional"`
}

// DefaultConfiguration returns the built-in defaults for the given config
// directory. A missing config file resolves to exactly this.
func DefaultConfiguration(configPath string) *Configuration {
	return &Configuration{
		ConfigPath:   configPath,
		Mode:         "adb",
		PollInterval: 2 * time.Second,
		Relay: RelayConfig{
			Binary: "gnirehtet",
			Port:   RelayPort,
		},
		Adb: AdbConfig{
			Binary:           "adb",
			KillServerOnStop: true,
		},
		Rndis: RndisConfig{
			Gateway:     GatewayIP,
			Subnet:      SubnetPrefix,
			NatRule:     NatRuleName,
			GatewayWait: 15 * time.Second,
		},
		Log: LogConfig{
			HistorySize: 1000,
		},
	}
}

// LoadConfig reads config.hcl from the given directory and resolves it
// against the defaults. A missing file is not an error.
func LoadConfig(configPath string) (*Configuration, error) {
	config := DefaultConfiguration(configPath)

	configFile := filepath.Join(configPath, ConfigFileName)
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return config, nil
	}

	var raw hclConfig
	if err := hclsimple.DecodeFile(configFile, nil, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", configFile, err)
	}

	if raw.Mode != "" {
		if raw.Mode != "adb" && raw.Mode != "rndis" {
			return nil, fmt.Errorf("invalid mode %q (must be \"adb\" or \"rndis\")", raw.Mode)
		}
		config.Mode = raw.Mode
	}
	config.Verbose = raw.Verbose

	if raw.PollInterval != "" {
		d, err := time.ParseDuration(raw.PollInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid poll_interval %q: %w", raw.PollInterval, err)
		}
		config.PollInterval = d
	}

	if raw.Relay != nil {
		if raw.Relay.Binary != "" {
			config.Relay.Binary = raw.Relay.Binary
		}
		if raw.Relay.Port != 0 {
			config.Relay.Port = raw.Relay.Port
		}
	}

	if raw.Adb != nil {
		if raw.Adb.Binary != "" {
			config.Adb.Binary = raw.Adb.Binary
		}
		if raw.Adb.Apk != "" {
			config.Adb.Apk = raw.Adb.Apk
		}
		if raw.Adb.KillServerOnStop != nil {
			config.Adb.KillServerOnStop = *raw.Adb.KillServerOnStop
		}
	}

	if raw.Rndis != nil {
		if raw.Rndis.Gateway != "" {
			config.Rndis.Gateway = raw.Rndis.Gateway
		}
		if raw.Rndis.Subnet != "" {
			config.Rndis.Subnet = raw.Rndis.Subnet
		}
		if raw.Rndis.NatRule != "" {
			config.Rndis.NatRule = raw.Rndis.NatRule
		}
		if raw.Rndis.GatewayWait != "" {
			d, err := time.ParseDuration(raw.Rndis.GatewayWait)
			if err != nil {
				return nil, fmt.Errorf("invalid gateway_wait %q: %w", raw.Rndis.GatewayWait, err)
			}
			config.Rndis.GatewayWait = d
		}
	}

	if raw.Log != nil && raw.Log.HistorySize > 0 {
		config.Log.HistorySize = raw.Log.HistorySize
	}

	return config, nil
}

// InitializeConfig loads the configuration from the given directory into
// the global Config, creating the directory if needed.
func InitializeConfig(configPath string) error {
	if err := os.MkdirAll(configPath, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	Config = config
	return nil
}

// DefaultConfigPath returns ~/.config/usbrelay.
func DefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return BaseDirName
	}
	return filepath.Join(homeDir, BaseDirName)
}

func GetSocketPath() string {
	return filepath.Join(Config.ConfigPath, SocketName)
}

func GetPIDFilePath() string {
	return filepath.Join(Config.ConfigPath, PidFileName)
}

func GetConfigFilePath() string {
	return filepath.Join(Config.ConfigPath, ConfigFileName)
}

func GetDatabasePath() string {
	return filepath.Join(Config.ConfigPath, DatabaseName)
}
