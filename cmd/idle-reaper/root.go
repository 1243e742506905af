package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nixlim/idle-reaper/internal/config"
	"github.com/nixlim/idle-reaper/internal/history"
	"github.com/nixlim/idle-reaper/internal/logging"
	"github.com/nixlim/idle-reaper/internal/monitor"
	"github.com/nixlim/idle-reaper/internal/tui"
)

// rootOptions holds the raw flag values. Only flags the user actually set
// override the config file.
type rootOptions struct {
	configPath  string
	timeout     time.Duration
	interval    time.Duration
	dryRun      bool
	batch       bool
	globalLimit int
	limits      []string
	watch       []string
	protect     []string
	network     bool
	logLevel    string
	logFile     string
	auto        bool
	once        bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "idle-reaper",
		Short: "Find and terminate idle processes",
		Long: "idle-reaper watches the process table, tracks how long each process has " +
			"made no CPU progress, and terminates idle processes within configurable " +
			"per-name and per-cycle limits. System and protected processes are never touched.",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRoot(cmd, opts)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultConfigPath(), "path to the TOML config file")

	f := rootCmd.Flags()
	f.DurationVar(&opts.timeout, "timeout", 0, "idle time before a process is eligible for termination")
	f.DurationVar(&opts.interval, "interval", 0, "time between scan cycles")
	f.BoolVar(&opts.dryRun, "dry-run", false, "report idle processes without signalling them")
	f.BoolVar(&opts.batch, "batch", true, "terminate every eligible process per cycle instead of one")
	f.IntVar(&opts.globalLimit, "global-limit", 0, "maximum terminations per cycle across all names (0 = unlimited)")
	f.StringArrayVar(&opts.limits, "limit", nil, "per-name limit as name=N; N=0 never terminates that name (repeatable)")
	f.StringSliceVar(&opts.watch, "watch", nil, "only manage processes whose name or command line contains one of these")
	f.StringSliceVar(&opts.protect, "protect", nil, "extra process names that are never terminated")
	f.BoolVar(&opts.network, "network", false, "count open network connections during scans")
	f.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&opts.logFile, "log-file", "", "append JSON logs to this file")
	f.BoolVar(&opts.auto, "auto", false, "run the monitor headless until interrupted")
	f.BoolVar(&opts.once, "once", false, "run a single cycle, print the reports and exit")
	rootCmd.MarkFlagsMutuallyExclusive("auto", "once")

	rootCmd.AddCommand(newScanCmd(opts))

	return rootCmd
}

// loadConfig reads the config file and layers the changed flags on top.
func loadConfig(opts *rootOptions, changed func(string) bool, stderr io.Writer) (config.Config, error) {
	res, err := config.LoadFrom(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(stderr, "idle-reaper: config warning: %s\n", w)
	}

	cfg := res.Config
	if err := applyFlags(opts, changed, &cfg); err != nil {
		return config.Config{}, err
	}
	if err := cfg.Monitor.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func applyFlags(opts *rootOptions, changed func(string) bool, cfg *config.Config) error {
	m := cfg.Monitor.Clone()

	if changed("timeout") {
		m.IdleTimeout = opts.timeout
	}
	if changed("interval") {
		m.ScanInterval = opts.interval
	}
	if changed("dry-run") {
		m.DryRun = opts.dryRun
	}
	if changed("batch") {
		m.BatchMode = opts.batch
	}
	if changed("global-limit") {
		m.GlobalLimit = opts.globalLimit
	}
	if changed("limit") {
		limits, err := config.ParseLimits(opts.limits)
		if err != nil {
			return err
		}
		for name, n := range limits {
			m.PerNameLimit[name] = n
		}
	}
	if changed("watch") {
		m.Watch = append([]string(nil), opts.watch...)
	}
	if changed("protect") {
		m.Protected = append(m.Protected, opts.protect...)
	}
	if changed("network") {
		m.NetworkMonitoring = opts.network
	}
	if changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
	if changed("log-file") {
		cfg.Logging.File = opts.logFile
	}

	cfg.Monitor = m
	return nil
}

func runRoot(cmd *cobra.Command, opts *rootOptions) error {
	stderr := cmd.ErrOrStderr()
	cfg, err := loadConfig(opts, cmd.Flags().Changed, stderr)
	if err != nil {
		return err
	}

	interactive := !opts.auto && !opts.once
	logger, closeLog, err := logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: !interactive,
		Writer:  stderr,
	})
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	mon, err := monitor.NewDefault(cfg.Monitor, logger.Named("monitor"))
	if err != nil {
		return err
	}

	buf := history.NewRingBuffer(cfg.Display.HistorySize)
	mon.OnReport(buf.Record)

	switch {
	case opts.once:
		return runOnce(cmd.Context(), mon, cmd.OutOrStdout())
	case opts.auto:
		return runAuto(cmd.Context(), mon, logger)
	default:
		return runTUI(cfg, mon, buf)
	}
}

// runOnce runs a single cycle and prints one line per report.
func runOnce(ctx context.Context, mon *monitor.Monitor, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	reports, err := mon.RunOnce(ctx)
	if err != nil {
		return err
	}
	printReports(out, reports, mon.Status())
	return nil
}

func printReports(out io.Writer, reports []monitor.Report, st monitor.Status) {
	if len(reports) == 0 {
		fmt.Fprintf(out, "No processes idle for %s or longer (%d tracked).\n",
			st.Config.IdleTimeout, st.ProcessesTracked)
		return
	}
	for _, r := range reports {
		fmt.Fprintln(out, history.FormatReport(r))
	}
	if st.Config.DryRun {
		fmt.Fprintln(out, "Dry run: no signals were sent.")
	}
}

// runAuto runs the monitor loop until SIGINT or SIGTERM.
func runAuto(ctx context.Context, mon *monitor.Monitor, logger *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mon.Start(); err != nil {
		return err
	}
	<-ctx.Done()

	sm := newShutdownManager(mon)
	if !sm.Shutdown() {
		logger.Warn("shutdown drain timeout exceeded", zap.Duration("timeout", sm.DrainTimeout))
	}
	return nil
}

// newShutdownManager sizes the drain timeout from the monitor's
// configuration at the moment shutdown starts.
func newShutdownManager(mon *monitor.Monitor) *tui.ShutdownManager {
	sm := tui.NewShutdownManager()
	sm.StopMonitor = func() error {
		sm.DrainTimeout = tui.DrainTimeoutFor(mon.Status().Config)
		err := mon.Stop()
		if errors.Is(err, monitor.ErrNotRunning) {
			return nil
		}
		return err
	}
	sm.WaitMonitor = mon.Wait
	return sm
}

func runTUI(cfg config.Config, mon *monitor.Monitor, buf *history.RingBuffer) error {
	// The TUI owns the terminal.
	log.SetOutput(io.Discard)

	sm := newShutdownManager(mon)
	shutdown := sync.OnceFunc(func() { _ = sm.Shutdown() })

	model := tui.NewModel(cfg,
		tui.WithController(mon),
		tui.WithHistoryProvider(buf),
		tui.WithOnShutdown(shutdown),
	)

	p := tea.NewProgram(model, tea.WithAltScreen())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-sigCh:
			shutdown()
			p.Quit()
		case <-done:
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running tui: %w", err)
	}
	return nil
}
