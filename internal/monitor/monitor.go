// Package monitor runs the scan, track, select, terminate cycle.
//
// A Monitor owns the activity tracker and runs one cycle at a time, either on
// its own schedule between Start and Stop or on demand through RunOnce.
// Configuration changes made while a cycle is in flight take effect at the
// next cycle boundary.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nixlim/idle-reaper/internal/classify"
	"github.com/nixlim/idle-reaper/internal/config"
	"github.com/nixlim/idle-reaper/internal/policy"
	"github.com/nixlim/idle-reaper/internal/process"
	"github.com/nixlim/idle-reaper/internal/scanner"
	"github.com/nixlim/idle-reaper/internal/tracker"
)

var (
	// ErrAlreadyRunning is returned by Start when the loop is running or
	// still finishing a stop.
	ErrAlreadyRunning = errors.New("monitor already running")

	// ErrNotRunning is returned by Stop when the loop is not running.
	ErrNotRunning = errors.New("monitor not running")
)

// State is the lifecycle state of a Monitor.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Report describes one termination decision and its outcome.
type Report struct {
	PID     int32
	Name    string
	Idle    time.Duration
	Outcome process.Outcome
	Forced  bool
	At      time.Time
	Err     error
}

// Status is a point-in-time view of the monitor.
//
// Config is the most recently accepted configuration. While a run is in
// progress it may not be in effect until the next cycle starts.
type Status struct {
	State                 State
	LastCycleAt           time.Time
	ProcessesTracked      int
	LastCycleTerminations int
	Config                config.MonitorConfig
}

// Reader captures the process table.
type Reader interface {
	Capture(ctx context.Context) ([]scanner.Snapshot, error)
}

// Terminator ends one process identity.
type Terminator interface {
	Terminate(ctx context.Context, id scanner.Identity) process.Result
}

// ClassifierFactory builds the classifier for a cycle from the configured
// extra protected names.
type ClassifierFactory func(protected []string) policy.Classifier

// Optional setters applied to the Reader and Terminator at each cycle start.
type networkSetter interface{ SetNetwork(enabled bool) }
type timeoutSetter interface {
	SetTimeouts(grace, killWait time.Duration)
}

// Monitor is the idle-process monitoring loop. All methods are safe for
// concurrent use.
type Monitor struct {
	reader        Reader
	term          Terminator
	logger        *zap.Logger
	now           func() time.Time
	newClassifier ClassifierFactory

	// cycleMu serializes cycles and guards tracker.
	cycleMu sync.Mutex
	tracker *tracker.Tracker

	mu             sync.Mutex
	state          State
	cfg            config.MonitorConfig
	staged         *config.MonitorConfig
	lastCycleAt    time.Time
	lastTerminated int
	tracked        int
	listeners      []func(Report)
	stopCh         chan struct{}
	done           chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock replaces the wall clock used to timestamp cycles and reports.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithClassifierFactory replaces how the per-cycle classifier is built.
func WithClassifierFactory(f ClassifierFactory) Option {
	return func(m *Monitor) { m.newClassifier = f }
}

// New creates a Monitor in StateIdle. It returns an error wrapping
// config.ErrInvalidConfig if cfg does not validate.
func New(reader Reader, term Terminator, cfg config.MonitorConfig, opts ...Option) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Monitor{
		reader:  reader,
		term:    term,
		logger:  zap.NewNop(),
		now:     time.Now,
		tracker: tracker.New(),
		state:   StateIdle,
		cfg:     cfg.Clone(),
		newClassifier: func(protected []string) policy.Classifier {
			return classify.New(protected)
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// NewDefault creates a Monitor over the live process table.
// This is the production constructor.
func NewDefault(cfg config.MonitorConfig, logger *zap.Logger) (*Monitor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reader := scanner.NewDefaultReader(logger.Named("scanner"), cfg.NetworkMonitoring)
	term := process.NewDefaultTerminator(
		process.WithGrace(cfg.TermGrace),
		process.WithKillWait(cfg.KillWait),
	)
	return New(reader, term, cfg, WithLogger(logger))
}

// Configure validates cfg and makes it the configuration for subsequent
// cycles. While running it is applied at the next cycle boundary.
func (m *Monitor) Configure(cfg config.MonitorConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c := cfg.Clone()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateRunning || m.state == StateStopping {
		m.staged = &c
		return nil
	}
	m.cfg = c
	m.staged = nil
	return nil
}

// Start launches the background loop. The first cycle runs immediately and
// later cycles follow every ScanInterval. A stopped monitor may be started
// again; tracked idle state carries over.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateRunning || m.state == StateStopping {
		return ErrAlreadyRunning
	}
	m.state = StateRunning
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	go m.run(m.stopCh, m.done)

	m.logger.Info("monitor started",
		zap.Duration("idle_timeout", m.cfg.IdleTimeout),
		zap.Duration("scan_interval", m.cfg.ScanInterval),
		zap.Bool("batch_mode", m.cfg.BatchMode),
		zap.Bool("dry_run", m.cfg.DryRun),
	)
	return nil
}

// Stop asks the loop to finish. The state becomes StateStopping at once and
// StateStopped after any in-flight cycle, including its terminations, has
// completed. Use Wait to block until then.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateRunning {
		return ErrNotRunning
	}
	m.state = StateStopping
	close(m.stopCh)
	m.logger.Info("monitor stopping")
	return nil
}

// Wait blocks until the background loop has exited. It returns immediately
// if the loop was never started.
func (m *Monitor) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Status returns the current status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := m.cfg
	if m.staged != nil {
		cfg = *m.staged
	}
	return Status{
		State:                 m.state,
		LastCycleAt:           m.lastCycleAt,
		ProcessesTracked:      m.tracked,
		LastCycleTerminations: m.lastTerminated,
		Config:                cfg.Clone(),
	}
}

// OnReport registers fn to receive every Report. Listeners run on the cycle
// goroutine in registration order; they must not block or call RunOnce.
func (m *Monitor) OnReport(fn func(Report)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// RunOnce runs a single cycle synchronously and returns its reports. The
// error is non-nil only when the process table could not be listed.
func (m *Monitor) RunOnce(ctx context.Context) ([]Report, error) {
	return m.cycle(ctx)
}

func (m *Monitor) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		m.mu.Lock()
		m.state = StateStopped
		m.mu.Unlock()
		m.logger.Info("monitor stopped")
	}()

	for {
		select {
		case <-stop:
			return
		default:
		}

		if _, err := m.cycle(context.Background()); err != nil {
			m.logger.Warn("cycle skipped", zap.Error(err))
		}

		timer := time.NewTimer(m.interval())
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *Monitor) interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staged != nil {
		return m.staged.ScanInterval
	}
	return m.cfg.ScanInterval
}

// beginCycle applies any staged configuration and returns the configuration
// for this cycle.
func (m *Monitor) beginCycle() config.MonitorConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staged != nil {
		m.cfg = *m.staged
		m.staged = nil
		m.logger.Info("configuration applied")
	}
	return m.cfg.Clone()
}

func (m *Monitor) cycle(ctx context.Context) ([]Report, error) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	cfg := m.beginCycle()
	if r, ok := m.reader.(networkSetter); ok {
		r.SetNetwork(cfg.NetworkMonitoring)
	}
	if t, ok := m.term.(timeoutSetter); ok {
		t.SetTimeouts(cfg.TermGrace, cfg.KillWait)
	}

	snaps, err := m.reader.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	now := m.now()

	idle := m.tracker.Update(snaps, now)
	groups := policy.BuildGroups(snaps, idle, m.newClassifier(cfg.Protected), cfg)
	selected := policy.Select(groups, cfg)

	reports := make([]Report, 0, len(selected))
	terminated := 0
	for _, c := range selected {
		r := m.terminate(ctx, c, cfg.DryRun)
		switch r.Outcome {
		case process.OutcomeSucceeded:
			terminated++
			m.tracker.Forget(c.Identity())
		case process.OutcomeAlreadyExited:
			m.tracker.Forget(c.Identity())
		}
		reports = append(reports, r)
	}

	m.logger.Debug("cycle complete",
		zap.Int("scanned", len(snaps)),
		zap.Int("groups", len(groups)),
		zap.Int("selected", len(selected)),
		zap.Int("terminated", terminated),
	)

	m.mu.Lock()
	m.lastCycleAt = now
	m.tracked = m.tracker.Len()
	m.lastTerminated = terminated
	listeners := append([]func(Report){}, m.listeners...)
	m.mu.Unlock()

	for _, r := range reports {
		m.logReport(r)
		for _, fn := range listeners {
			fn(r)
		}
	}
	return reports, nil
}

func (m *Monitor) terminate(ctx context.Context, c policy.Candidate, dryRun bool) Report {
	r := Report{
		PID:  c.Snapshot.PID,
		Name: c.Snapshot.Name,
		Idle: c.Idle,
	}
	if dryRun {
		r.Outcome = process.OutcomeDryRun
		r.At = m.now()
		return r
	}

	res := m.term.Terminate(ctx, c.Identity())
	r.Outcome = res.Outcome
	r.Forced = res.Forced
	r.Err = res.Err
	r.At = m.now()
	return r
}

func (m *Monitor) logReport(r Report) {
	fields := []zap.Field{
		zap.Int32("pid", r.PID),
		zap.String("name", r.Name),
		zap.Duration("idle", r.Idle),
		zap.Stringer("outcome", r.Outcome),
		zap.Bool("forced", r.Forced),
	}
	switch r.Outcome {
	case process.OutcomeSucceeded:
		m.logger.Info("terminated idle process", fields...)
	case process.OutcomeAlreadyExited:
		m.logger.Info("idle process already exited", fields...)
	case process.OutcomeDryRun:
		m.logger.Info("would terminate idle process", fields...)
	default:
		m.logger.Warn("termination not confirmed", append(fields, zap.Error(r.Err))...)
	}
}
