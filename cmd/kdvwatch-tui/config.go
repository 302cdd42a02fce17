package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/man4korea/kdv-erp/internal/model"
	"github.com/man4korea/kdv-erp/internal/socketrpc"
	"github.com/spf13/viper"
)

const (
	defaultRefreshInterval = model.DefaultRefreshInterval
	defaultLogLimit        = model.DefaultDashboardLimit
	defaultRecentErrors    = model.DefaultRecentErrors
	defaultSkin            = model.DefaultSkin
	defaultExportKeepLast  = 20
)

// cliConfig holds only dashboard-relevant configuration.
type cliConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh-interval"`
	LogLimit        int           `mapstructure:"log-limit"`
	RecentErrors    int           `mapstructure:"recent-errors"`
	Skin            string        `mapstructure:"skin"`
	SocketPath      string        `mapstructure:"socket-path"`
	ExportDir       string        `mapstructure:"export-dir"`
	ExportKeepLast  int           `mapstructure:"export-keep-last"`
	StartVisible    bool          `mapstructure:"start-visible"`
	ConfigDir       string        `mapstructure:"-"`
}

func loadCLIConfig(configPath string) (cliConfig, error) {
	var cfg cliConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("KDVWATCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("refresh-interval", defaultRefreshInterval)
	v.SetDefault("log-limit", defaultLogLimit)
	v.SetDefault("recent-errors", defaultRecentErrors)
	v.SetDefault("skin", defaultSkin)
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())
	v.SetDefault("export-dir", filepath.Join(home, "Downloads"))
	v.SetDefault("export-keep-last", defaultExportKeepLast)
	v.SetDefault("start-visible", true)

	configDir := filepath.Join(home, ".config", "kdvwatch")
	if configPath != "" {
		v.SetConfigFile(configPath)
		configDir = filepath.Dir(configPath)
	} else {
		v.SetConfigFile(filepath.Join(configDir, "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	if cfg.RefreshInterval <= 0 {
		return cfg, fmt.Errorf("invalid refresh-interval: %v", cfg.RefreshInterval)
	}
	if strings.HasPrefix(cfg.ExportDir, "~/") {
		cfg.ExportDir = filepath.Join(home, cfg.ExportDir[2:])
	}
	cfg.ConfigDir = configDir

	return cfg, nil
}
