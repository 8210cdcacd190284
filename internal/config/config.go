// Package config manages the Zino daemon's configuration using koanf/v2.
//
// Supports TOML files and environment variable overrides, merged on top
// of a default configuration. Unknown keys in the file are a hard
// error rather than silently ignored.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/go-viper/mapstructure/v2"
)

// Config holds the complete Zino daemon configuration, one struct per
// TOML section.
type Config struct {
	Archiving      ArchivingConfig      `koanf:"archiving"`
	Persistence    PersistenceConfig    `koanf:"persistence"`
	Polling        PollingConfig        `koanf:"polling"`
	Authentication AuthenticationConfig `koanf:"authentication"`
	Listen         ListenConfig         `koanf:"listen"`
	SNMP           SNMPConfig           `koanf:"snmp"`
	Log            LogConfig            `koanf:"log"`
}

// ArchivingConfig controls where closed events are dumped on commit.
type ArchivingConfig struct {
	// OldEventsDir receives one JSON file per closed event at close
	// time, named by event id.
	OldEventsDir string `koanf:"old_events_dir"`
}

// PersistenceConfig controls the periodic state snapshot.
type PersistenceConfig struct {
	// StateFile is the JSON snapshot the daemon writes periodically and
	// reloads on startup.
	StateFile string `koanf:"state_file"`

	// Period is how often the snapshot is written.
	Period string `koanf:"period"`
}

// PollingConfig controls the device-file location and the flap decay
// job's cadence.
type PollingConfig struct {
	// DeviceFile is the path to the legacy-format device list.
	DeviceFile string `koanf:"device_file"`

	// DecayInterval is how often the flap tracker's decay job runs.
	DecayInterval string `koanf:"decay_interval"`
}

// AuthenticationConfig names the operator-protocol secrets file.
type AuthenticationConfig struct {
	SecretsFile string `koanf:"secrets_file"`
}

// ListenConfig holds every listen address the daemon binds.
type ListenConfig struct {
	// APIAddr is the operator command-channel address (default port
	// 8001).
	APIAddr string `koanf:"api_addr"`

	// NotifyAddr is the operator notification-channel address (default
	// port 8002).
	NotifyAddr string `koanf:"notify_addr"`

	// TrapAddr is the SNMP trap receiver's UDP address (default port
	// 162).
	TrapAddr string `koanf:"trap_addr"`

	// SNMPAgentAddr, if set, names the UDP address of the uptime SNMP
	// agent. Parsed here but not validated; the agent itself is an
	// external collaborator the daemon does not start.
	SNMPAgentAddr string `koanf:"snmp_agent_addr"`

	// MetricsAddr serves Prometheus metrics and the gRPC health
	// endpoint. Empty disables the listener.
	MetricsAddr string `koanf:"metrics_addr"`
}

// SNMPConfig selects the SNMP client backend.
type SNMPConfig struct {
	// Backend is "gosnmp" (the default, real network I/O) or "fake"
	// (for tests and demos).
	Backend string `koanf:"backend"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Archiving: ArchivingConfig{
			OldEventsDir: "/var/lib/zino/old-events",
		},
		Persistence: PersistenceConfig{
			StateFile: "/var/lib/zino/state.json",
			Period:    "5m",
		},
		Polling: PollingConfig{
			DeviceFile:    "/etc/zino/routers.cf",
			DecayInterval: "5m",
		},
		Authentication: AuthenticationConfig{
			SecretsFile: "/etc/zino/secrets",
		},
		Listen: ListenConfig{
			APIAddr:     ":8001",
			NotifyAddr:  ":8002",
			TrapAddr:    ":162",
			MetricsAddr: ":8003",
		},
		SNMP: SNMPConfig{
			Backend: "gosnmp",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// envPrefix is the environment variable prefix for Zino configuration.
// Variables are named ZINO_<SECTION>__<KEY>, e.g. ZINO_LISTEN__API_ADDR.
// A double underscore separates section from key because several keys
// already contain an underscore themselves (device_file, secrets_file,
// ...); a single
// separator would make ZINO_POLLING_DEVICE_FILE ambiguous between
// "polling.device_file" and "polling.device.file".
const envPrefix = "ZINO_"

// Load reads configuration from a TOML file at path, overlays
// environment variable overrides (ZINO_ prefix), and merges on top of
// DefaultConfig(). Unknown keys, in the file or via an env var with no
// matching field, are rejected rather than silently ignored.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			ErrorUnused:      true,
		},
	}
	if err := k.UnmarshalWithConf("", cfg, unmarshalConf); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms ZINO_LISTEN__API_ADDR -> listen.api_addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "__", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"archiving.old_events_dir":    defaults.Archiving.OldEventsDir,
		"persistence.state_file":      defaults.Persistence.StateFile,
		"persistence.period":          defaults.Persistence.Period,
		"polling.device_file":         defaults.Polling.DeviceFile,
		"polling.decay_interval":      defaults.Polling.DecayInterval,
		"authentication.secrets_file": defaults.Authentication.SecretsFile,
		"listen.api_addr":             defaults.Listen.APIAddr,
		"listen.notify_addr":          defaults.Listen.NotifyAddr,
		"listen.trap_addr":            defaults.Listen.TrapAddr,
		"listen.snmp_agent_addr":      defaults.Listen.SNMPAgentAddr,
		"listen.metrics_addr":         defaults.Listen.MetricsAddr,
		"snmp.backend":                defaults.SNMP.Backend,
		"log.level":                   defaults.Log.Level,
		"log.format":                  defaults.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// Validation errors.
var (
	ErrEmptyDeviceFile   = errors.New("polling.device_file must not be empty")
	ErrEmptySecretsFile  = errors.New("authentication.secrets_file must not be empty")
	ErrEmptyAPIAddr      = errors.New("listen.api_addr must not be empty")
	ErrEmptyNotifyAddr   = errors.New("listen.notify_addr must not be empty")
	ErrInvalidSNMPBackend = errors.New("snmp.backend must be \"gosnmp\" or \"fake\"")
)

// ValidSNMPBackends lists the recognized snmp.backend strings.
var ValidSNMPBackends = map[string]bool{
	"gosnmp": true,
	"fake":   true,
}

// Validate checks the configuration for logical errors. Returns the
// first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Polling.DeviceFile == "" {
		return ErrEmptyDeviceFile
	}
	if cfg.Authentication.SecretsFile == "" {
		return ErrEmptySecretsFile
	}
	if cfg.Listen.APIAddr == "" {
		return ErrEmptyAPIAddr
	}
	if cfg.Listen.NotifyAddr == "" {
		return ErrEmptyNotifyAddr
	}
	if !ValidSNMPBackends[cfg.SNMP.Backend] {
		return fmt.Errorf("%q: %w", cfg.SNMP.Backend, ErrInvalidSNMPBackend)
	}
	return nil
}

// ParseLogLevel maps a configuration log level string to the
// corresponding slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
