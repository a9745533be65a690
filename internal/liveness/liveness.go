// Package liveness answers "is process P alive?" and "is session S stale?",
// the two questions every sweep in the coordinator is built on.
package liveness

import (
	"os"
	"syscall"
	"time"
)

// Oracle decides process liveness and heartbeat staleness.
type Oracle struct {
	// StaleThreshold is the duration after which a heartbeat is
	// considered stale. Defaults to 10 minutes if zero.
	StaleThreshold time.Duration
}

// New returns an Oracle using the given stale threshold (0 ⇒ 10 minutes).
func New(staleThreshold time.Duration) *Oracle {
	if staleThreshold <= 0 {
		staleThreshold = 10 * time.Minute
	}
	return &Oracle{StaleThreshold: staleThreshold}
}

// IsAlive reports whether pid is alive on this host, sending the POSIX zero
// signal. Our own PID is always alive. EPERM (process exists but is owned
// by another user) is treated as alive: the signal could not be delivered,
// but the process table entry exists.
func (o *Oracle) IsAlive(pid int) bool {
	if pid == os.Getpid() {
		return true
	}
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, syscall.Signal(0))
	if err == nil {
		return true
	}
	if err == syscall.EPERM {
		return true
	}
	return false
}

// IsStale reports whether lastHeartbeat is older than now - StaleThreshold.
func (o *Oracle) IsStale(lastHeartbeat time.Time) bool {
	return lastHeartbeat.Before(time.Now().UTC().Add(-o.StaleThreshold))
}

// EligibleForSweep reports whether a session with the given pid and
// heartbeat should be reclaimed: its process is dead OR its heartbeat is stale.
func (o *Oracle) EligibleForSweep(pid int, lastHeartbeat time.Time) bool {
	return !o.IsAlive(pid) || o.IsStale(lastHeartbeat)
}
