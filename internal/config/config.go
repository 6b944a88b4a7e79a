// Package config loads the daemon's configuration tree: where its socket,
// secret, snapshot, and logs live, and how its scheduler and groups behave.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Daemon    DaemonConfig
	Transport TransportConfig
	Scheduler SchedulerConfig
	Groups    map[string]GroupConfig
	Metrics   MetricsConfig
	LogLevel  string
}

// DaemonConfig controls process-level behavior: where state lives on disk
// and how shutdown is paced.
type DaemonConfig struct {
	DataDir              string
	LogDir               string
	ShutdownGraceTimeout time.Duration
	// StatusAddr binds the supplemental read-only HTTP mirror (GET
	// /api/v1/status, /api/v1/tasks, /api/v1/groups, /metrics, /ws,
	// /healthz). An empty value disables it — the
	// client/daemon protocol is always the encrypted socket (spec.md §4.6),
	// this surface is observability only.
	StatusAddr string
	// StatusRateLimitRPS caps requests/second per client on the status
	// mirror's /api/v1 routes; 0 disables rate limiting (default).
	StatusRateLimitRPS int
}

// TransportConfig controls the client/daemon socket (spec.md §4.6).
type TransportConfig struct {
	SocketPath string
	SecretPath string
}

// SchedulerConfig controls the scheduler loop's tick cadence.
type SchedulerConfig struct {
	TickInterval time.Duration
}

// GroupConfig seeds a named group's starting parallelism. The default
// group always exists even if not listed here.
type GroupConfig struct {
	ParallelSlots int
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

// LoadOptions controls Load's search path, mirroring the daemon CLI flags
// from spec.md §6 (`--config PATH`, `--profile NAME`).
type LoadOptions struct {
	// ConfigPath, when set, is read directly instead of searching the
	// default locations. A missing file at this explicit path is an error,
	// unlike the default search which tolerates "no config file".
	ConfigPath string
	// Profile selects a named override block (`profiles.<name>`) merged
	// over the base config, letting one file hold multiple named setups
	// (e.g. a "work" profile with its own DataDir/SocketPath).
	Profile string
}

// Load reads configuration from the default search path with no profile
// override; equivalent to LoadWithOptions(LoadOptions{}).
func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{})
}

// LoadWithOptions reads configuration per opts. Unknown-version persisted
// state is a separate, stricter concern (task.Unmarshal); this only governs
// the daemon's own settings file.
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	viper.SetConfigType("yaml")

	if opts.ConfigPath != "" {
		viper.SetConfigFile(opts.ConfigPath)
	} else {
		viper.SetConfigName("pueued")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/pueue")
		viper.AddConfigPath("/etc/pueue")
	}

	setDefaults()

	viper.SetEnvPrefix("PUEUED")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || opts.ConfigPath != "" {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if opts.Profile != "" {
		sub := viper.Sub("profiles." + opts.Profile)
		if sub == nil {
			return nil, fmt.Errorf("profile %q not found in config", opts.Profile)
		}
		var override Config
		if err := sub.Unmarshal(&override); err != nil {
			return nil, fmt.Errorf("decode profile %q: %w", opts.Profile, err)
		}
		applyProfileOverride(&cfg, &override, sub)
	}

	return &cfg, nil
}

// applyProfileOverride copies every field the profile block actually set
// (per sub.IsSet, since override's zero values are indistinguishable from
// "not present in YAML") onto the base config.
func applyProfileOverride(cfg, override *Config, sub *viper.Viper) {
	if sub.IsSet("daemon.datadir") {
		cfg.Daemon.DataDir = override.Daemon.DataDir
	}
	if sub.IsSet("daemon.logdir") {
		cfg.Daemon.LogDir = override.Daemon.LogDir
	}
	if sub.IsSet("daemon.shutdowngracetimeout") {
		cfg.Daemon.ShutdownGraceTimeout = override.Daemon.ShutdownGraceTimeout
	}
	if sub.IsSet("daemon.statusaddr") {
		cfg.Daemon.StatusAddr = override.Daemon.StatusAddr
	}
	if sub.IsSet("daemon.statusratelimitrps") {
		cfg.Daemon.StatusRateLimitRPS = override.Daemon.StatusRateLimitRPS
	}
	if sub.IsSet("transport.socketpath") {
		cfg.Transport.SocketPath = override.Transport.SocketPath
	}
	if sub.IsSet("transport.secretpath") {
		cfg.Transport.SecretPath = override.Transport.SecretPath
	}
	if sub.IsSet("loglevel") {
		cfg.LogLevel = override.LogLevel
	}
	if len(override.Groups) > 0 {
		if cfg.Groups == nil {
			cfg.Groups = make(map[string]GroupConfig, len(override.Groups))
		}
		for name, gc := range override.Groups {
			cfg.Groups[name] = gc
		}
	}
}

func setDefaults() {
	viper.SetDefault("daemon.datadir", "$HOME/.local/share/pueue")
	viper.SetDefault("daemon.logdir", "$HOME/.local/share/pueue/logs")
	viper.SetDefault("daemon.shutdowngracetimeout", 10*time.Second)
	viper.SetDefault("daemon.statusaddr", "")
	viper.SetDefault("daemon.statusratelimitrps", 0)

	viper.SetDefault("transport.socketpath", "")
	viper.SetDefault("transport.secretpath", "")

	viper.SetDefault("scheduler.tickinterval", 200*time.Millisecond)

	viper.SetDefault("groups.default.parallelslots", 1)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("loglevel", "info")
}
