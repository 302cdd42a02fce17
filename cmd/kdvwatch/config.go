package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/man4korea/kdv-erp/internal/duckdb"
	"github.com/man4korea/kdv-erp/internal/logparse"
	"github.com/man4korea/kdv-erp/internal/model"
	"github.com/man4korea/kdv-erp/internal/sink"
	"github.com/man4korea/kdv-erp/internal/socketrpc"
	"github.com/spf13/viper"
)

const (
	defaultBindHost         = "127.0.0.1"
	defaultAPIPort          = 3000
	defaultKVMaxValueBytes  = duckdb.DefaultMaxValueBytes
	defaultRemoteTimeout    = 5 * time.Second
	defaultRemoteQueueSize  = 256
	defaultPersistInterval  time.Duration = 0
	defaultMemoryThreshold  = model.DefaultMemoryThreshold
	defaultMonitorInterval  = model.DefaultMonitorInterval
	defaultSlowFunctionTime = model.DefaultSlowFunctionThreshold
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	MinLevel            string        `mapstructure:"min-level" yaml:"min-level"`
	MaxEntries          int           `mapstructure:"max-entries" yaml:"max-entries"`
	Retention           time.Duration `mapstructure:"retention" yaml:"retention"`
	SweepInterval       time.Duration `mapstructure:"sweep-interval" yaml:"sweep-interval"`
	PersistInterval     time.Duration `mapstructure:"persist-interval" yaml:"persist-interval"`
	DBPath              string        `mapstructure:"db-path" yaml:"db-path"`
	KVMaxValueBytes     int           `mapstructure:"kv-max-value-bytes" yaml:"kv-max-value-bytes"`
	RemoteEndpoint      string        `mapstructure:"remote-endpoint" yaml:"remote-endpoint"`
	RemoteProtocol      string        `mapstructure:"remote-protocol" yaml:"remote-protocol"`
	RemoteTimeout       time.Duration `mapstructure:"remote-timeout" yaml:"remote-timeout"`
	RemoteQueueSize     int           `mapstructure:"remote-queue-size" yaml:"remote-queue-size"`
	SampleRate          float64       `mapstructure:"sample-rate" yaml:"sample-rate"`
	MaxErrorsPerSession int           `mapstructure:"max-errors-per-session" yaml:"max-errors-per-session"`
	DedupWindow         time.Duration `mapstructure:"dedup-window" yaml:"dedup-window"`
	AlertThreshold      int           `mapstructure:"alert-threshold" yaml:"alert-threshold"`
	QuietPeriod         time.Duration `mapstructure:"quiet-period" yaml:"quiet-period"`
	MemoryThreshold     uint64        `mapstructure:"memory-threshold" yaml:"memory-threshold"`
	MonitorInterval     time.Duration `mapstructure:"monitor-interval" yaml:"monitor-interval"`
	SlowFunction        time.Duration `mapstructure:"slow-function-threshold" yaml:"slow-function-threshold"`
	APIEnabled          bool          `mapstructure:"api-enabled" yaml:"api-enabled"`
	APIPort             int           `mapstructure:"api-port" yaml:"api-port"`
	APIAddr             string        `mapstructure:"api-addr" yaml:"api-addr"`
	StaticDir           string        `mapstructure:"static-dir" yaml:"static-dir"`
	SocketPath          string        `mapstructure:"socket-path" yaml:"socket-path"`
	DesktopNotify       bool          `mapstructure:"desktop-notify" yaml:"desktop-notify"`
	ConfigPath          string        `mapstructure:"-" yaml:"-"` // not from config file

	level model.Level
}

// runtimeLimits is the part of appConfig that a config file edit can change
// without a restart.
type runtimeLimits struct {
	MinLevel            model.Level
	MaxEntries          int
	Retention           time.Duration
	SampleRate          float64
	MaxErrorsPerSession int
	DedupWindow         time.Duration
	AlertThreshold      int
	QuietPeriod         time.Duration
	MemoryThreshold     uint64
	SlowFunction        time.Duration
}

func (c appConfig) runtimeLimits() runtimeLimits {
	return runtimeLimits{
		MinLevel:            c.level,
		MaxEntries:          c.MaxEntries,
		Retention:           c.Retention,
		SampleRate:          c.SampleRate,
		MaxErrorsPerSession: c.MaxErrorsPerSession,
		DedupWindow:         c.DedupWindow,
		AlertThreshold:      c.AlertThreshold,
		QuietPeriod:         c.QuietPeriod,
		MemoryThreshold:     c.MemoryThreshold,
		SlowFunction:        c.SlowFunction,
	}
}

func defaultConfigPath(home string) string {
	return filepath.Join(home, ".config", "kdvwatch", "config.yml")
}

func newViper(home, configPath string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("KDVWATCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("min-level", model.DefaultMinLevel.String())
	v.SetDefault("max-entries", model.DefaultMaxEntries)
	v.SetDefault("retention", model.DefaultRetention)
	v.SetDefault("sweep-interval", model.DefaultSweepInterval)
	v.SetDefault("persist-interval", defaultPersistInterval)
	v.SetDefault("db-path", filepath.Join(home, ".local", "share", "kdvwatch", "kdvwatch.duckdb"))
	v.SetDefault("kv-max-value-bytes", defaultKVMaxValueBytes)
	v.SetDefault("remote-endpoint", "")
	v.SetDefault("remote-protocol", sink.ProtocolJSON)
	v.SetDefault("remote-timeout", defaultRemoteTimeout)
	v.SetDefault("remote-queue-size", defaultRemoteQueueSize)
	v.SetDefault("sample-rate", model.DefaultSampleRate)
	v.SetDefault("max-errors-per-session", model.DefaultMaxErrorsPerSession)
	v.SetDefault("dedup-window", model.DefaultDedupWindow)
	v.SetDefault("alert-threshold", model.DefaultAlertThreshold)
	v.SetDefault("quiet-period", model.DefaultQuietPeriod)
	v.SetDefault("memory-threshold", defaultMemoryThreshold)
	v.SetDefault("monitor-interval", defaultMonitorInterval)
	v.SetDefault("slow-function-threshold", defaultSlowFunctionTime)
	v.SetDefault("api-enabled", true)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("static-dir", "")
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())
	v.SetDefault("desktop-notify", false)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(defaultConfigPath(home))
	}
	return v
}

func loadConfig(configPath string) (appConfig, *viper.Viper, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, nil, fmt.Errorf("finding home directory: %w", err)
	}

	v := newViper(home, configPath)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, nil, err
		}
	}

	cfg, err = decodeConfig(v, home)
	if err != nil {
		return cfg, nil, err
	}
	if _, err := os.Stat(v.ConfigFileUsed()); err == nil {
		cfg.ConfigPath = v.ConfigFileUsed()
	}
	return cfg, v, nil
}

// decodeConfig unmarshals and validates the current viper state.
func decodeConfig(v *viper.Viper, home string) (appConfig, error) {
	var cfg appConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}

	level, ok := logparse.ParseLevel(cfg.MinLevel)
	if !ok {
		return cfg, fmt.Errorf("invalid min-level: %q", cfg.MinLevel)
	}
	cfg.level = level
	cfg.MinLevel = level.String()

	if cfg.MaxEntries <= 0 {
		return cfg, fmt.Errorf("invalid max-entries: %d", cfg.MaxEntries)
	}
	if cfg.SampleRate < 0 || cfg.SampleRate > 1 {
		return cfg, fmt.Errorf("invalid sample-rate: %v (want 0..1)", cfg.SampleRate)
	}
	if cfg.AlertThreshold <= 0 {
		return cfg, fmt.Errorf("invalid alert-threshold: %d", cfg.AlertThreshold)
	}
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return cfg, fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}
	switch cfg.RemoteProtocol {
	case sink.ProtocolJSON, sink.ProtocolOTLPHTTP, sink.ProtocolOTLPGRPC:
	default:
		return cfg, fmt.Errorf("invalid remote-protocol: %q", cfg.RemoteProtocol)
	}

	// Expand ~ in paths
	for _, p := range []*string{&cfg.DBPath, &cfg.StaticDir, &cfg.SocketPath} {
		if strings.HasPrefix(*p, "~/") {
			*p = filepath.Join(home, (*p)[2:])
		}
	}

	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(defaultBindHost, strconv.Itoa(cfg.APIPort))
	}
	return cfg, nil
}
