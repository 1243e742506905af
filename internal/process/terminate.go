package process

import (
	"context"
	"time"

	"github.com/nixlim/idle-reaper/internal/scanner"
)

// Outcome classifies the result of one termination attempt.
type Outcome int

const (
	// OutcomeSucceeded means the process was confirmed gone after a signal.
	OutcomeSucceeded Outcome = iota
	// OutcomeAlreadyExited means the process (or that incarnation of the PID)
	// was gone before it could be signalled.
	OutcomeAlreadyExited
	// OutcomePermissionDenied means the caller may not signal the process.
	OutcomePermissionDenied
	// OutcomeUnknown means exit could not be confirmed within the wait.
	OutcomeUnknown
	// OutcomeDryRun means the process was selected but not signalled.
	OutcomeDryRun
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeAlreadyExited:
		return "alreadyExited"
	case OutcomePermissionDenied:
		return "permissionDenied"
	case OutcomeUnknown:
		return "unknown"
	case OutcomeDryRun:
		return "dryRun"
	default:
		return "invalid"
	}
}

// Result is what Terminate reports for one identity.
type Result struct {
	Outcome Outcome
	// Forced is true once SIGKILL was sent.
	Forced bool
	Err    error
}

// API is the OS surface used by the Terminator.
type API interface {
	// CreateTime returns the start time of pid in Unix milliseconds, or an
	// error wrapping ErrNoSuchProcess when it does not exist.
	CreateTime(ctx context.Context, pid int32) (int64, error)

	// Alive reports whether pid still runs. Zombies are not alive.
	Alive(ctx context.Context, pid int32) bool

	// Signal delivers sig to pid.
	Signal(pid int32, sig SignalType) error
}

// Default wait settings.
const (
	DefaultGrace        = 5 * time.Second
	DefaultKillWait     = 3 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

// Terminator runs the SIGTERM, wait, SIGKILL, wait sequence against a single
// process identity.
type Terminator struct {
	api      API
	grace    time.Duration
	killWait time.Duration
	poll     time.Duration
}

// TerminatorOption configures a Terminator.
type TerminatorOption func(*Terminator)

// WithGrace sets how long to wait for exit after SIGTERM.
func WithGrace(d time.Duration) TerminatorOption {
	return func(t *Terminator) { t.grace = d }
}

// WithKillWait sets how long to wait for exit after SIGKILL.
func WithKillWait(d time.Duration) TerminatorOption {
	return func(t *Terminator) { t.killWait = d }
}

// WithPollInterval sets how often liveness is re-checked while waiting.
func WithPollInterval(d time.Duration) TerminatorOption {
	return func(t *Terminator) {
		if d > 0 {
			t.poll = d
		}
	}
}

// NewTerminator creates a Terminator over api.
func NewTerminator(api API, opts ...TerminatorOption) *Terminator {
	t := &Terminator{
		api:      api,
		grace:    DefaultGrace,
		killWait: DefaultKillWait,
		poll:     DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewDefaultTerminator creates a Terminator over the live OS.
// This is the production constructor.
func NewDefaultTerminator(opts ...TerminatorOption) *Terminator {
	return NewTerminator(newSystemAPI(), opts...)
}

// SetTimeouts replaces the grace and kill waits.
func (t *Terminator) SetTimeouts(grace, killWait time.Duration) {
	t.grace = grace
	t.killWait = killWait
}

// Terminate ends the process identified by id.
//
// The start time of the PID is checked first so a reused PID is never
// signalled, and a process that is already dead or a zombie is reported
// as OutcomeAlreadyExited without a signal. Exit is confirmed by polling with a bounded wait; a process
// that outlives both waits is reported as OutcomeUnknown. Cancelling ctx
// cuts the waits short and also yields OutcomeUnknown.
func (t *Terminator) Terminate(ctx context.Context, id scanner.Identity) Result {
	started, err := t.api.CreateTime(ctx, id.PID)
	if err != nil {
		if IsNoSuchProcess(err) {
			return Result{Outcome: OutcomeAlreadyExited}
		}
		return Result{Outcome: OutcomeUnknown, Err: err}
	}
	if started != id.StartedUnixMilli {
		return Result{Outcome: OutcomeAlreadyExited}
	}
	// A zombie accepts signals but has already exited.
	if !t.api.Alive(ctx, id.PID) {
		return Result{Outcome: OutcomeAlreadyExited}
	}

	if res, done := t.signal(id.PID, SignalTerminate, false); done {
		return res
	}
	if t.waitExit(ctx, id.PID, t.grace) {
		return Result{Outcome: OutcomeSucceeded}
	}

	if res, done := t.signal(id.PID, SignalKill, true); done {
		return res
	}
	if t.waitExit(ctx, id.PID, t.killWait) {
		return Result{Outcome: OutcomeSucceeded, Forced: true}
	}
	return Result{Outcome: OutcomeUnknown, Forced: true, Err: ctx.Err()}
}

// signal sends sig and reports a final Result when no waiting is needed.
func (t *Terminator) signal(pid int32, sig SignalType, forced bool) (Result, bool) {
	err := t.api.Signal(pid, sig)
	switch {
	case err == nil:
		return Result{}, false
	case IsNoSuchProcess(err):
		if forced {
			// Exited between the grace wait and SIGKILL.
			return Result{Outcome: OutcomeSucceeded}, true
		}
		return Result{Outcome: OutcomeAlreadyExited}, true
	case IsPermission(err):
		return Result{Outcome: OutcomePermissionDenied, Forced: forced, Err: err}, true
	default:
		return Result{Outcome: OutcomeUnknown, Forced: forced, Err: err}, true
	}
}

// waitExit polls until pid is gone, the wait elapses or ctx is done.
func (t *Terminator) waitExit(ctx context.Context, pid int32, wait time.Duration) bool {
	if !t.api.Alive(ctx, pid) {
		return true
	}

	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return !t.api.Alive(ctx, pid)
		case <-ticker.C:
			if !t.api.Alive(ctx, pid) {
				return true
			}
		}
	}
}
