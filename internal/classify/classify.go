// Package classify decides which processes are protected from termination.
package classify

import (
	"os"
	"strings"

	"github.com/nixlim/idle-reaper/internal/scanner"
)

// reservedPIDLimit covers swapper (0), init (1) and kthreadd (2).
const reservedPIDLimit = 3

const kthreaddPID = 2

// systemAccounts are service accounts whose processes are never touched.
// Matching is case-insensitive.
var systemAccounts = map[string]bool{
	"root":             true,
	"daemon":           true,
	"bin":              true,
	"sys":              true,
	"sync":             true,
	"games":            true,
	"man":              true,
	"lp":               true,
	"mail":             true,
	"news":             true,
	"uucp":             true,
	"proxy":            true,
	"www-data":         true,
	"backup":           true,
	"list":             true,
	"irc":              true,
	"gnats":            true,
	"nobody":           true,
	"messagebus":       true,
	"systemd-network":  true,
	"systemd-resolve":  true,
	"systemd-timesync": true,
	"syslog":           true,
	"polkitd":          true,
	"avahi":            true,
	"system":           true,
	"local service":    true,
	"network service":  true,
}

// knownSystemDaemons are exact daemon names, compared case-insensitively.
var knownSystemDaemons = map[string]bool{
	"init":            true,
	"systemd":         true,
	"launchd":         true,
	"kernel_task":     true,
	"rsyslogd":        true,
	"syslogd":         true,
	"journald":        true,
	"udevd":           true,
	"dbus-daemon":     true,
	"dbus-broker":     true,
	"polkitd":         true,
	"accounts-daemon": true,
	"cron":            true,
	"crond":           true,
	"atd":             true,
	"acpid":           true,
	"thermald":        true,
	"irqbalance":      true,
	"sshd":            true,
	"snapd":           true,
	"packagekitd":     true,
	"udisksd":         true,
	"cupsd":           true,
	"avahi-daemon":    true,
	"bluetoothd":      true,
	"wpa_supplicant":  true,
	"dhclient":        true,
	"networkmanager":  true,
	"modemmanager":    true,
	"configd":         true,
	"powerd":          true,
	"windowserver":    true,
	"loginwindow":     true,
	"mdnsresponder":   true,
	"coreaudiod":      true,
	"csrss.exe":       true,
	"smss.exe":        true,
	"wininit.exe":     true,
	"winlogon.exe":    true,
	"services.exe":    true,
	"lsass.exe":       true,
	"svchost.exe":     true,
}

// systemDaemonPrefixes match kernel worker and per-CPU thread names.
var systemDaemonPrefixes = []string{
	"kworker",
	"ksoftirqd",
	"kthreadd",
	"kcompactd",
	"khugepaged",
	"kswapd",
	"rcu_",
	"migration",
	"watchdog",
	"oom_reaper",
	"systemd-",
}

// Classifier decides whether a process is protected. The zero value is not
// usable; create one with New.
type Classifier struct {
	selfPID   int32
	parentPID int32
	protected map[string]bool
}

// New creates a Classifier that also protects the calling process, its
// parent and every name in extraProtected.
func New(extraProtected []string) *Classifier {
	return NewWithSelf(int32(os.Getpid()), int32(os.Getppid()), extraProtected)
}

// NewWithSelf is New with explicit self and parent PIDs.
func NewWithSelf(selfPID, parentPID int32, extraProtected []string) *Classifier {
	pmap := make(map[string]bool, len(extraProtected))
	for _, name := range extraProtected {
		pmap[strings.ToLower(name)] = true
	}
	return &Classifier{selfPID: selfPID, parentPID: parentPID, protected: pmap}
}

// IsProtected reports whether the process must never be terminated.
// Rules are applied in order and the first match wins. Anything that
// cannot be determined resolves to protected.
func (c *Classifier) IsProtected(s scanner.Snapshot) bool {
	name := strings.ToLower(s.Name)

	// Kernel and init-class processes.
	if s.PID < reservedPIDLimit || s.PPID == kthreaddPID || isKernelThreadName(s.Name) {
		return true
	}

	if !s.OwnerKnown || IsSystemAccount(s.Owner) {
		return true
	}

	if s.Elevated && IsSystemDaemon(name) {
		return true
	}

	if s.PID == c.selfPID || (c.parentPID > 0 && s.PID == c.parentPID) {
		return true
	}

	return c.protected[name]
}

// IsSystemAccount reports whether owner is a system or service account.
// An empty owner counts as a system account.
func IsSystemAccount(owner string) bool {
	o := strings.ToLower(strings.TrimSpace(owner))
	if o == "" {
		return true
	}
	if systemAccounts[o] {
		return true
	}
	// macOS service accounts (_windowserver, _mdnsresponder, ...).
	if strings.HasPrefix(o, "_") {
		return true
	}
	return strings.HasPrefix(o, `nt authority\`)
}

// IsSystemDaemon reports whether name matches a known system daemon.
func IsSystemDaemon(name string) bool {
	n := strings.ToLower(name)
	if knownSystemDaemons[n] {
		return true
	}
	for _, prefix := range systemDaemonPrefixes {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}

func isKernelThreadName(name string) bool {
	return len(name) > 2 && strings.HasPrefix(name, "[") && strings.HasSuffix(name, "]")
}
