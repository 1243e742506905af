package process

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	psprocess "github.com/shirou/gopsutil/v3/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixlim/idle-reaper/internal/scanner"
)

const startMS = int64(1_700_000_000_000)

// fakeAPI simulates one process that exits once it receives a signal in
// dieOn, after surviving pollsToDie liveness checks.
type fakeAPI struct {
	createErr  error
	start      int64
	signalErr  map[SignalType]error
	dieOn      map[SignalType]bool
	pollsToDie int
	zombie     bool

	dying   bool
	exited  bool
	signals []SignalType
}

func (f *fakeAPI) CreateTime(_ context.Context, _ int32) (int64, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	return f.start, nil
}

func (f *fakeAPI) Alive(_ context.Context, _ int32) bool {
	if f.exited || f.zombie {
		return false
	}
	if f.dying {
		if f.pollsToDie <= 0 {
			f.exited = true
			return false
		}
		f.pollsToDie--
	}
	return true
}

func (f *fakeAPI) Signal(_ int32, sig SignalType) error {
	f.signals = append(f.signals, sig)
	if err := f.signalErr[sig]; err != nil {
		return err
	}
	if f.dieOn[sig] {
		f.dying = true
	}
	return nil
}

func newTestTerminator(api API) *Terminator {
	return NewTerminator(api,
		WithGrace(30*time.Millisecond),
		WithKillWait(30*time.Millisecond),
		WithPollInterval(time.Millisecond),
	)
}

var target = scanner.Identity{PID: 4242, StartedUnixMilli: startMS}

func TestTerminate(t *testing.T) {
	tests := []struct {
		name        string
		api         *fakeAPI
		wantOutcome Outcome
		wantForced  bool
		wantSignals []SignalType
	}{
		{
			name:        "exits on SIGTERM",
			api:         &fakeAPI{start: startMS, dieOn: map[SignalType]bool{SignalTerminate: true}, pollsToDie: 2},
			wantOutcome: OutcomeSucceeded,
			wantSignals: []SignalType{SignalTerminate},
		},
		{
			name:        "ignores SIGTERM, exits on SIGKILL",
			api:         &fakeAPI{start: startMS, dieOn: map[SignalType]bool{SignalKill: true}},
			wantOutcome: OutcomeSucceeded,
			wantForced:  true,
			wantSignals: []SignalType{SignalTerminate, SignalKill},
		},
		{
			name:        "never exits",
			api:         &fakeAPI{start: startMS},
			wantOutcome: OutcomeUnknown,
			wantForced:  true,
			wantSignals: []SignalType{SignalTerminate, SignalKill},
		},
		{
			name:        "gone before start time check",
			api:         &fakeAPI{createErr: ErrNoSuchProcess},
			wantOutcome: OutcomeAlreadyExited,
		},
		{
			name:        "pid reused by another process",
			api:         &fakeAPI{start: startMS + 5000},
			wantOutcome: OutcomeAlreadyExited,
		},
		{
			name:        "zombie before any signal",
			api:         &fakeAPI{start: startMS, zombie: true},
			wantOutcome: OutcomeAlreadyExited,
		},
		{
			name:        "start time unreadable",
			api:         &fakeAPI{createErr: errors.New("io error")},
			wantOutcome: OutcomeUnknown,
		},
		{
			name:        "exits before SIGTERM",
			api:         &fakeAPI{start: startMS, signalErr: map[SignalType]error{SignalTerminate: ErrNoSuchProcess}},
			wantOutcome: OutcomeAlreadyExited,
			wantSignals: []SignalType{SignalTerminate},
		},
		{
			name:        "permission denied",
			api:         &fakeAPI{start: startMS, signalErr: map[SignalType]error{SignalTerminate: ErrPermission}},
			wantOutcome: OutcomePermissionDenied,
			wantSignals: []SignalType{SignalTerminate},
		},
		{
			name:        "exits between grace and SIGKILL",
			api:         &fakeAPI{start: startMS, signalErr: map[SignalType]error{SignalKill: ErrNoSuchProcess}},
			wantOutcome: OutcomeSucceeded,
			wantSignals: []SignalType{SignalTerminate, SignalKill},
		},
		{
			name:        "SIGKILL denied",
			api:         &fakeAPI{start: startMS, signalErr: map[SignalType]error{SignalKill: ErrPermission}},
			wantOutcome: OutcomePermissionDenied,
			wantForced:  true,
			wantSignals: []SignalType{SignalTerminate, SignalKill},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newTestTerminator(tt.api).Terminate(context.Background(), target)
			assert.Equal(t, tt.wantOutcome, res.Outcome, "outcome %s", res.Outcome)
			assert.Equal(t, tt.wantForced, res.Forced)
			assert.Equal(t, tt.wantSignals, tt.api.signals)
		})
	}
}

func TestTerminate_CancelledContext(t *testing.T) {
	api := &fakeAPI{start: startMS}
	term := NewTerminator(api, WithGrace(time.Hour), WithKillWait(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := term.Terminate(ctx, target)
	assert.Equal(t, OutcomeUnknown, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestSetTimeouts(t *testing.T) {
	term := NewTerminator(&fakeAPI{})
	assert.Equal(t, DefaultGrace, term.grace)

	term.SetTimeouts(time.Second, 2*time.Second)
	assert.Equal(t, time.Second, term.grace)
	assert.Equal(t, 2*time.Second, term.killWait)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "succeeded", OutcomeSucceeded.String())
	assert.Equal(t, "alreadyExited", OutcomeAlreadyExited.String())
	assert.Equal(t, "permissionDenied", OutcomePermissionDenied.String())
	assert.Equal(t, "unknown", OutcomeUnknown.String())
	assert.Equal(t, "dryRun", OutcomeDryRun.String())
	assert.Equal(t, "invalid", Outcome(42).String())
}

func startChild(t *testing.T, name string, args ...string) (scanner.Identity, <-chan struct{}) {
	t.Helper()
	cmd := exec.Command(name, args...)
	require.NoError(t, cmd.Start())

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		<-done
	})

	pid := int32(cmd.Process.Pid)
	p, err := psprocess.NewProcess(pid)
	require.NoError(t, err)
	ms, err := p.CreateTime()
	require.NoError(t, err)
	return scanner.Identity{PID: pid, StartedUnixMilli: ms}, done
}

func TestTerminate_RealProcess(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping real process test in short mode")
	}

	id, done := startChild(t, "sleep", "60")
	res := NewDefaultTerminator(WithGrace(5*time.Second), WithPollInterval(10*time.Millisecond)).
		Terminate(context.Background(), id)

	assert.Equal(t, OutcomeSucceeded, res.Outcome, "err: %v", res.Err)
	assert.False(t, res.Forced)
	<-done
}

func TestTerminate_RealProcessIgnoringSIGTERM(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping real process test in short mode")
	}

	// An ignored disposition survives exec, so sleep itself ignores SIGTERM.
	id, done := startChild(t, "sh", "-c", `trap "" TERM; exec sleep 60`)
	time.Sleep(200 * time.Millisecond)

	res := NewDefaultTerminator(
		WithGrace(300*time.Millisecond),
		WithKillWait(5*time.Second),
		WithPollInterval(10*time.Millisecond),
	).Terminate(context.Background(), id)

	assert.Equal(t, OutcomeSucceeded, res.Outcome, "err: %v", res.Err)
	assert.True(t, res.Forced)
	<-done
}

func TestTerminate_RealProcessStaleIdentity(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping real process test in short mode")
	}

	id, _ := startChild(t, "sleep", "60")
	stale := id
	stale.StartedUnixMilli -= 60_000

	res := NewDefaultTerminator().Terminate(context.Background(), stale)
	assert.Equal(t, OutcomeAlreadyExited, res.Outcome)
	require.NoError(t, CheckProcess(id.PID), "live process must not be signalled")
}

// startZombie starts a child that exits at once and is not reaped until
// cleanup.
func startZombie(t *testing.T) scanner.Identity {
	t.Helper()
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() { _ = cmd.Wait() })

	pid := int32(cmd.Process.Pid)
	p, err := psprocess.NewProcess(pid)
	require.NoError(t, err)
	ms, err := p.CreateTime()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := p.Status()
		if err != nil {
			return false
		}
		for _, s := range status {
			if s == psprocess.Zombie {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond, "child never became a zombie")

	return scanner.Identity{PID: pid, StartedUnixMilli: ms}
}

func TestTerminate_RealZombieIsNotReportedAsTerminated(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping real process test in short mode")
	}

	id := startZombie(t)
	term := NewDefaultTerminator(WithPollInterval(10 * time.Millisecond))

	for i := 0; i < 3; i++ {
		res := term.Terminate(context.Background(), id)
		assert.Equal(t, OutcomeAlreadyExited, res.Outcome, "attempt %d", i)
		assert.False(t, res.Forced, "attempt %d", i)
	}
	require.NoError(t, CheckProcess(id.PID), "zombie stays in the table until reaped")
}
