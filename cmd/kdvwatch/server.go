package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/man4korea/kdv-erp/internal/alerting"
	"github.com/man4korea/kdv-erp/internal/capture"
	"github.com/man4korea/kdv-erp/internal/clock"
	"github.com/man4korea/kdv-erp/internal/duckdb"
	"github.com/man4korea/kdv-erp/internal/gate"
	"github.com/man4korea/kdv-erp/internal/httpserver"
	"github.com/man4korea/kdv-erp/internal/inspect"
	"github.com/man4korea/kdv-erp/internal/logstore"
	"github.com/man4korea/kdv-erp/internal/model"
	"github.com/man4korea/kdv-erp/internal/sink"
	"github.com/man4korea/kdv-erp/internal/socketrpc"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

// pipeline is the wired set of components behind one running service.
type pipeline struct {
	store   *logstore.Store
	gate    *gate.Gate
	tracker *alerting.Tracker
	capture *capture.Capture
	hub     *capture.Hub
	monitor *capture.Monitor
	reader  *inspect.Reader
	remote  *sink.Async
}

type pipelineDeps struct {
	KV       model.KVStore
	Console  io.Writer
	Notifier io.Writer
	ReadMem  capture.MemReader
	Clock    clock.Clock
	Logger   *slog.Logger
}

func buildPipeline(cfg appConfig, deps pipelineDeps) (*pipeline, error) {
	p := &pipeline{}

	var remote model.EntryWriter
	exporter, err := sink.NewRemote(sink.RemoteConfig{
		Endpoint: cfg.RemoteEndpoint,
		Protocol: cfg.RemoteProtocol,
		Timeout:  cfg.RemoteTimeout,
		Resource: sink.DefaultResource(version),
	})
	if err != nil {
		return nil, fmt.Errorf("remote sink: %w", err)
	}
	if exporter != nil {
		// Shutdown waits for at most one delivery timeout.
		p.remote = sink.NewAsync(exporter,
			sink.WithQueueSize(cfg.RemoteQueueSize),
			sink.WithDrainTimeout(cfg.RemoteTimeout),
			sink.WithLogger(deps.Logger),
		)
		remote = p.remote
	}

	var console model.EntryWriter
	if deps.Console != nil {
		console = sink.NewConsole(deps.Console)
	}

	scfg := logstore.DefaultConfig()
	scfg.Limits = logstore.Limits{
		MinLevel:   cfg.level,
		MaxEntries: cfg.MaxEntries,
		Retention:  cfg.Retention,
	}
	scfg.SweepInterval = cfg.SweepInterval
	scfg.KV = deps.KV
	scfg.PersistInterval = cfg.PersistInterval
	scfg.Console = console
	scfg.Remote = remote
	scfg.Clock = deps.Clock
	scfg.Logger = deps.Logger
	p.store = logstore.New(scfg)

	gcfg := gate.DefaultConfig()
	gcfg.Limits = gate.Limits{
		SampleRate:          gate.Rate(cfg.SampleRate),
		MaxErrorsPerSession: cfg.MaxErrorsPerSession,
		Window:              cfg.DedupWindow,
	}
	gcfg.Clock = deps.Clock
	gcfg.Logger = deps.Logger
	p.gate = gate.New(gcfg)

	var notifiers []alerting.Notifier
	if deps.Notifier != nil {
		notifiers = append(notifiers, alerting.NewConsoleNotifier(deps.Notifier, deps.Logger))
	}
	if cfg.DesktopNotify {
		if desktop := alerting.NewDesktopNotifier(); desktop.Available() {
			notifiers = append(notifiers, desktop)
		} else {
			deps.Logger.Warn("alerting: desktop-notify enabled but notify-send is not installed")
		}
	}
	tcfg := alerting.DefaultConfig()
	tcfg.Limits = alerting.Limits{
		AlertThreshold: cfg.AlertThreshold,
		QuietPeriod:    cfg.QuietPeriod,
	}
	tcfg.Notifiers = notifiers
	tcfg.Clock = deps.Clock
	tcfg.Logger = deps.Logger
	p.tracker = alerting.New(tcfg)

	p.capture = capture.New(capture.Config{
		Store:                 p.store,
		Gate:                  p.gate,
		Tracker:               p.tracker,
		ReadMem:               deps.ReadMem,
		SlowFunctionThreshold: cfg.SlowFunction,
		Clock:                 deps.Clock,
		Logger:                deps.Logger,
	})
	p.hub = capture.NewHub(deps.Logger)
	p.capture.Install(p.hub)

	p.monitor = capture.NewMonitor(p.capture, capture.MonitorConfig{
		Threshold: cfg.MemoryThreshold,
		Interval:  cfg.MonitorInterval,
		ReadMem:   deps.ReadMem,
		Clock:     deps.Clock,
		Logger:    deps.Logger,
	})
	p.reader = inspect.New(p.store, p.capture)
	return p, nil
}

// apply pushes a reloaded configuration into the running components.
func (p *pipeline) apply(l runtimeLimits) {
	p.store.UpdateConfig(logstore.Limits{
		MinLevel:   l.MinLevel,
		MaxEntries: l.MaxEntries,
		Retention:  l.Retention,
	})
	p.gate.UpdateConfig(gate.Limits{
		SampleRate:          gate.Rate(l.SampleRate),
		MaxErrorsPerSession: l.MaxErrorsPerSession,
		Window:              l.DedupWindow,
	})
	p.tracker.UpdateConfig(alerting.Limits{
		AlertThreshold: l.AlertThreshold,
		QuietPeriod:    l.QuietPeriod,
	})
	p.monitor.SetThreshold(l.MemoryThreshold)
	p.capture.SetSlowFunctionThreshold(l.SlowFunction)
}

// Close stops the background loops and drains the remote queue.
func (p *pipeline) Close() {
	p.monitor.Close()
	p.gate.Close()
	p.tracker.Close()
	p.store.Close()
	if p.remote != nil {
		_ = p.remote.Close()
	}
}

// runServer starts the capture pipeline with the HTTP API and socket RPC.
func runServer(cfg appConfig, v *viper.Viper) error {
	logger, cleanupLogger := configureRuntimeLogger()
	defer cleanupLogger()

	kv, err := duckdb.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	defer kv.Close()
	kv.SetMaxValueBytes(cfg.KVMaxValueBytes)

	p, err := buildPipeline(cfg, pipelineDeps{
		KV:       kv,
		Console:  os.Stdout,
		Notifier: os.Stderr,
		ReadMem:  capture.ReadMemStats,
		Clock:    clock.Real(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer p.Close()

	// Application diagnostics go to the file log and, at WARN and above,
	// through the capture pipeline. Components keep the raw logger.
	slog.SetDefault(slog.New(capture.NewSlogHandler(logger.Handler(), p.capture)))

	if cfg.ConfigPath != "" {
		watchConfig(v, logger, p.apply)
	}

	if cfg.APIEnabled {
		apiServer := httpserver.NewServer(httpserver.Config{
			Addr:      cfg.APIAddr,
			Reader:    p.reader,
			Capture:   p.capture,
			Hub:       p.hub,
			StaticDir: cfg.StaticDir,
			Storage:   kv,
			Logger:    logger,
		})
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	// Start socket RPC server for dashboard IPC
	sockServer := socketrpc.NewServer(cfg.SocketPath, p.reader, logger)
	if err := sockServer.Start(); err != nil {
		logger.Warn("failed to start socket server", "path", cfg.SocketPath, "error", err)
	} else {
		defer sockServer.Stop()
	}

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		cleanupSocket(cfg.SocketPath)
		os.Exit(1)
	}()

	printStartupBanner(cfg, p.capture.SessionID())
	logger.Info("kdvwatch started", "version", version, "session", p.capture.SessionID())

	g, gctx := errgroup.WithContext(ctx)

	if p.remote != nil {
		g.Go(func() error {
			reportRemoteDelivery(gctx, p.remote, logger, time.Minute)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server: errgroup exited with error", "error", err)
	}

	cancel()
	signal.Stop(sigCh)
	return nil
}

// reportRemoteDelivery logs the remote queue counters whenever entries were
// dropped since the previous report.
func reportRemoteDelivery(ctx context.Context, remote *sink.Async, logger *slog.Logger, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var lastDropped, lastFailed int64
	for {
		select {
		case <-ctx.Done():
			delivered, failed, dropped := remote.Counts()
			logger.Info("remote: delivery totals", "delivered", delivered, "failed", failed, "dropped", dropped)
			return
		case <-ticker.C:
			delivered, failed, dropped := remote.Counts()
			if dropped > lastDropped || failed > lastFailed {
				logger.Warn("remote: entries not delivered",
					"delivered", delivered,
					"failed", failed-lastFailed,
					"dropped", dropped-lastDropped)
			}
			lastDropped, lastFailed = dropped, failed
		}
	}
}

func watchConfig(v *viper.Viper, logger *slog.Logger, apply func(runtimeLimits)) {
	home, _ := os.UserHomeDir()
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decodeConfig(v, home)
		if err != nil {
			logger.Warn("config: reload rejected, keeping previous settings", "file", e.Name, "error", err)
			return
		}
		apply(cfg.runtimeLimits())
		logger.Info("config: reloaded", "file", e.Name, "op", e.Op.String())
	})
	v.WatchConfig()
}

func cleanupSocket(path string) {
	if path != "" {
		os.Remove(path)
	}
}

// configureRuntimeLogger opens the operational log file. It falls back to
// stderr when the state directory is unusable.
func configureRuntimeLogger() (*slog.Logger, func()) {
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	stderr := slog.New(slog.NewTextHandler(os.Stderr, opts))

	home, err := os.UserHomeDir()
	if err != nil {
		return stderr, func() {}
	}

	logDir := filepath.Join(home, ".local", "state", "kdvwatch")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return stderr, func() {}
	}

	logPath := filepath.Join(logDir, "kdvwatch.log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return stderr, func() {}
	}

	return slog.New(slog.NewTextHandler(f, opts)), func() {
		_ = f.Close()
	}
}

func printStartupBanner(cfg appConfig, session string) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╦╔═╔╦╗╦  ╦  ╦ ╦╔═╗╔╦╗╔═╗╦ ╦
    ╠╩╗ ║║╚╗╔╝  ║║║╠═╣ ║ ║  ╠═╣
    ╩ ╩═╩╝ ╚╝   ╚╩╝╩ ╩ ╩ ╚═╝╩ ╩`)

	var lines []string
	lines = append(lines, "", logo, "    "+dim.Render("v"+version), "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator, "")

	lines = append(lines, bold.Render("    Gateway"), "")
	if cfg.APIEnabled {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", check, cyan.Render(cfg.APIAddr)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, fmt.Sprintf("    %s  Unix Socket    %s", check, cyan.Render(shortenPath(cfg.SocketPath))))
	if cfg.RemoteEndpoint != "" {
		lines = append(lines, fmt.Sprintf("    %s  Remote         %s %s", check, cyan.Render(cfg.RemoteEndpoint), dim.Render("("+cfg.RemoteProtocol+")")))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Remote         %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Storage"), "")
	lines = append(lines, fmt.Sprintf("    %s  Snapshot       %s", check, dim.Render(shortenPath(cfg.DBPath))))
	lines = append(lines, fmt.Sprintf("    %s  Capacity       %s", check, dim.Render(fmt.Sprintf("%d entries, %s retention, level >= %s", cfg.MaxEntries, cfg.Retention, cfg.MinLevel))))
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Runtime"), "")
	lines = append(lines, fmt.Sprintf("    %s  Session        %s", check, dim.Render(session)))
	lines = append(lines, fmt.Sprintf("    %s  Alerts         %s", check, dim.Render(fmt.Sprintf("%d consecutive errors", cfg.AlertThreshold))))
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s %s", check, dim.Render(shortenPath(cfg.ConfigPath)), dim.Render("(watched)")))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}

	lines = append(lines, "", separator, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"), "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
