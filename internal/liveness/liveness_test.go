package liveness

import (
	"os"
	"testing"
	"time"
)

func TestNewDefaultsStaleThreshold(t *testing.T) {
	o := New(0)
	if o.StaleThreshold != 10*time.Minute {
		t.Errorf("StaleThreshold = %v, want 10m", o.StaleThreshold)
	}

	o = New(5 * time.Minute)
	if o.StaleThreshold != 5*time.Minute {
		t.Errorf("StaleThreshold = %v, want 5m", o.StaleThreshold)
	}
}

func TestIsAliveSelf(t *testing.T) {
	o := New(0)
	if !o.IsAlive(os.Getpid()) {
		t.Error("own pid should always be alive")
	}
}

func TestIsAliveInvalidPID(t *testing.T) {
	o := New(0)
	if o.IsAlive(0) {
		t.Error("pid 0 should not be alive")
	}
	if o.IsAlive(-1) {
		t.Error("negative pid should not be alive")
	}
}

func TestIsAliveUnusedPID(t *testing.T) {
	o := New(0)
	// A PID astronomically unlikely to be in use.
	if o.IsAlive(1 << 30) {
		t.Error("expected unused pid to report not alive")
	}
}

func TestIsStale(t *testing.T) {
	o := New(10 * time.Minute)

	fresh := time.Now().UTC()
	if o.IsStale(fresh) {
		t.Error("fresh heartbeat should not be stale")
	}

	old := time.Now().UTC().Add(-20 * time.Minute)
	if !o.IsStale(old) {
		t.Error("20m-old heartbeat should be stale under a 10m threshold")
	}
}

func TestEligibleForSweep(t *testing.T) {
	o := New(10 * time.Minute)

	// Alive (self) and fresh heartbeat: not eligible.
	if o.EligibleForSweep(os.Getpid(), time.Now().UTC()) {
		t.Error("alive process with fresh heartbeat should not be eligible")
	}

	// Alive (self) but stale heartbeat: eligible.
	if !o.EligibleForSweep(os.Getpid(), time.Now().UTC().Add(-time.Hour)) {
		t.Error("alive process with stale heartbeat should be eligible")
	}

	// Dead process, fresh heartbeat: eligible.
	if !o.EligibleForSweep(1<<30, time.Now().UTC()) {
		t.Error("dead process should be eligible regardless of heartbeat")
	}
}
