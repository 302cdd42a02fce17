package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/man4korea/kdv-erp/internal/export"
	"github.com/man4korea/kdv-erp/internal/socketrpc"
	"github.com/man4korea/kdv-erp/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var configPath string
	var socketPath string
	var showVersion bool
	var hidden bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/kdvwatch/config.yml)")
	flag.StringVar(&socketPath, "socket", "", "override socket path to connect to the kdvwatch service")
	flag.BoolVar(&hidden, "hidden", false, "start with the dashboard hidden (toggle with ctrl+l)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("kdvwatch-tui - Dashboard Client\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadCLIConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if socketPath != "" {
		cfg.SocketPath = socketPath
	}
	if hidden {
		cfg.StartVisible = false
	}

	if err := runTUI(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runTUI(cfg cliConfig) error {
	if err := tui.InitializeSkin(cfg.Skin, cfg.ConfigDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to load skin '%s': %v (using default)\n", cfg.Skin, err)
	}

	client, err := socketrpc.Dial(cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("cannot connect to kdvwatch service at %s: %w\nIs the kdvwatch service running? Start it with: kdvwatch", cfg.SocketPath, err)
	}
	defer client.Close()

	var exporter tui.Exporter
	exports, err := export.New(export.Config{Dir: cfg.ExportDir, KeepLast: cfg.ExportKeepLast})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: export disabled: %v\n", err)
	} else {
		exporter = exports
	}

	dashboard := tui.NewDashboardModel(client, exporter, tui.Options{
		RefreshInterval: cfg.RefreshInterval,
		LogLimit:        cfg.LogLimit,
		RecentErrors:    cfg.RecentErrors,
		StartVisible:    cfg.StartVisible,
		Source:          "Socket",
	})
	dashPage := tui.NewDashboardPage(dashboard)
	app := tui.NewApp(dashPage)

	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		if strings.Contains(err.Error(), "TTY") || strings.Contains(err.Error(), "/dev/tty") {
			return fmt.Errorf("TUI requires a real terminal")
		}
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
