package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixlim/idle-reaper/internal/config"
	"github.com/nixlim/idle-reaper/internal/monitor"
	"github.com/nixlim/idle-reaper/internal/process"
	"github.com/nixlim/idle-reaper/internal/scanner"
	"github.com/nixlim/idle-reaper/internal/tui"
)

func changedSet(names ...string) func(string) bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(name string) bool { return set[name] }
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestApplyFlags_OnlyChangedFlagsOverride(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Monitor.PerNameLimit["worker"] = 1

	opts := &rootOptions{
		timeout:     time.Minute,
		interval:    time.Second,
		dryRun:      true,
		globalLimit: 9,
		limits:      []string{"chrome=0", "worker=3"},
		logLevel:    "debug",
	}
	require.NoError(t, applyFlags(opts, changedSet("timeout", "dry-run", "limit", "log-level"), &cfg))

	assert.Equal(t, time.Minute, cfg.Monitor.IdleTimeout)
	assert.Equal(t, 5*time.Second, cfg.Monitor.ScanInterval, "unchanged flag must not override")
	assert.True(t, cfg.Monitor.DryRun)
	assert.Equal(t, 0, cfg.Monitor.GlobalLimit)
	assert.Equal(t, map[string]int{"chrome": 0, "worker": 3}, cfg.Monitor.PerNameLimit)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestApplyFlags_ProtectAppends(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Monitor.Protected = []string{"postgres"}

	opts := &rootOptions{protect: []string{"redis"}, watch: []string{"worker"}}
	require.NoError(t, applyFlags(opts, changedSet("protect", "watch"), &cfg))

	assert.Equal(t, []string{"postgres", "redis"}, cfg.Monitor.Protected)
	assert.Equal(t, []string{"worker"}, cfg.Monitor.Watch)
}

func TestApplyFlags_BadLimit(t *testing.T) {
	cfg := config.DefaultConfig()
	opts := &rootOptions{limits: []string{"worker=-1"}}

	err := applyFlags(opts, changedSet("limit"), &cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
}

func TestLoadConfig_FileThenFlags(t *testing.T) {
	path := writeConfig(t, `
[monitor]
idle_timeout_seconds = 120
batch_mode = false
bogus = 1

[limits]
worker = 2
`)
	opts := &rootOptions{configPath: path, batch: true}
	var stderr bytes.Buffer

	cfg, err := loadConfig(opts, changedSet("batch"), &stderr)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.Monitor.IdleTimeout)
	assert.True(t, cfg.Monitor.BatchMode, "flag overrides file")
	assert.Equal(t, 2, cfg.Monitor.PerNameLimit["worker"])
	assert.Contains(t, stderr.String(), "config warning")
}

func TestLoadConfig_RejectsInvalidFlagValue(t *testing.T) {
	opts := &rootOptions{configPath: filepath.Join(t.TempDir(), "missing.toml")}

	_, err := loadConfig(opts, changedSet("timeout"), &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
}

func TestRootCmd_AutoAndOnceAreExclusive(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--auto", "--once", "--config", filepath.Join(t.TempDir(), "none.toml")})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auto")
}

func TestPrintReports(t *testing.T) {
	st := monitor.Status{Config: config.DefaultMonitorConfig()}
	st.Config.DryRun = true

	var out bytes.Buffer
	printReports(&out, []monitor.Report{
		{PID: 42, Name: "worker", Idle: 31 * time.Second, Outcome: process.OutcomeDryRun},
	}, st)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "worker (pid 42) idle 31s: dryRun", lines[0])
	assert.Equal(t, "Dry run: no signals were sent.", lines[1])
}

func TestPrintReports_None(t *testing.T) {
	st := monitor.Status{Config: config.DefaultMonitorConfig(), ProcessesTracked: 12}

	var out bytes.Buffer
	printReports(&out, nil, st)
	assert.Equal(t, "No processes idle for 30s or longer (12 tracked).\n", out.String())
}

type nameClassifier map[string]bool

func (c nameClassifier) IsProtected(s scanner.Snapshot) bool { return c[s.Name] }

func TestFilterSnapshots(t *testing.T) {
	snaps := []scanner.Snapshot{
		{PID: 30, Name: "worker"},
		{PID: 10, Name: "bash", Cmdline: "bash -c ./worker.sh"},
		{PID: 20, Name: "sshd"},
	}

	got := filterSnapshots(snaps, []string{"WORKER"})
	require.Len(t, got, 2)
	assert.Equal(t, int32(10), got[0].PID)
	assert.Equal(t, int32(30), got[1].PID)

	assert.Len(t, filterSnapshots(snaps, nil), 3)
}

func TestWriteScan(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	snaps := []scanner.Snapshot{
		{
			PID: 10, Name: "worker", Owner: "alice", OwnerKnown: true,
			CPUTime: 1500 * time.Millisecond, MemoryRSS: 2 * 1000 * 1000,
			StartedAt: now.Add(-2 * time.Hour), Connections: scanner.NoConnections,
		},
		{
			PID: 11, Name: "sshd", Owner: "", OwnerKnown: false,
			StartedAt: now.Add(-time.Minute), Connections: 3,
		},
	}

	var out bytes.Buffer
	writeScan(&out, snaps, nameClassifier{"sshd": true}, now)
	text := out.String()

	assert.Contains(t, text, "PID")
	assert.Contains(t, text, "alice")
	assert.Contains(t, text, "2.0 MB")
	assert.Contains(t, text, "2 hours ago")
	assert.Contains(t, text, "1.5s")
	assert.Contains(t, text, "2 processes, 1 protected.")

	var sshdLine string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "11 ") {
			sshdLine = line
		}
	}
	require.NotEmpty(t, sshdLine)
	assert.Contains(t, sshdLine, "?")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(sshdLine), "yes"))
}

func TestWriteScan_Empty(t *testing.T) {
	var out bytes.Buffer
	writeScan(&out, nil, nameClassifier{}, time.Now())
	assert.Equal(t, "No matching processes.\n", out.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 24))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

type emptyTable struct{}

func (emptyTable) Capture(context.Context) ([]scanner.Snapshot, error) { return nil, nil }

func (emptyTable) Terminate(context.Context, scanner.Identity) process.Result {
	return process.Result{Outcome: process.OutcomeSucceeded}
}

func TestNewShutdownManager_SizesDrainFromCurrentConfig(t *testing.T) {
	cfg := config.DefaultMonitorConfig()
	cfg.GlobalLimit = 5
	mon, err := monitor.New(emptyTable{}, emptyTable{}, cfg)
	require.NoError(t, err)

	longer := cfg.Clone()
	longer.TermGrace = time.Minute
	require.NoError(t, mon.Configure(longer))

	require.NoError(t, mon.Start())
	sm := newShutdownManager(mon)
	assert.True(t, sm.Shutdown())

	assert.Equal(t, tui.DrainTimeoutFor(longer), sm.DrainTimeout)
	assert.Greater(t, sm.DrainTimeout, 5*(longer.TermGrace+longer.KillWait))
	assert.Equal(t, monitor.StateStopped, mon.Status().State)
}

func TestNewShutdownManager_NotRunning(t *testing.T) {
	mon, err := monitor.New(emptyTable{}, emptyTable{}, config.DefaultMonitorConfig())
	require.NoError(t, err)

	sm := newShutdownManager(mon)
	assert.NoError(t, sm.StopMonitor())
	assert.True(t, sm.Shutdown())
}

