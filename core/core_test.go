package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStartStopWithNoUnits(t *testing.T) {
	cfg := Defaults()
	cfg.DataDir = t.TempDir()
	cfg.TickPeriod = 5 * time.Millisecond
	cfg.MetricsBackend = "noop"

	rt, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := rt.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		if err := rt.Stop(); err != nil {
			t.Fatalf("stop: %v", err)
		}
	}()

	time.Sleep(30 * time.Millisecond)
	snap := rt.Snapshot()
	if snap.Tick == 0 {
		t.Fatal("expected the tick counter to have advanced")
	}
	if len(snap.LoadedUnits) != 0 {
		t.Fatalf("expected no units loaded without a modules dir, got %+v", snap.LoadedUnits)
	}
}

func TestStartTwiceErrors(t *testing.T) {
	cfg := Defaults()
	cfg.DataDir = t.TempDir()
	cfg.MetricsBackend = "noop"

	rt, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := rt.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer rt.Stop()

	if err := rt.Start(); err == nil {
		t.Fatal("expected second Start to error")
	}
}

// TestStartRollsBackOnConfigFailure forces C3 (config store init) to fail
// by occupying its target directory path with a plain file, then checks
// Start leaves no partially-started subsystem behind.
func TestStartRollsBackOnConfigFailure(t *testing.T) {
	cfg := Defaults()
	cfg.DataDir = t.TempDir()
	cfg.MetricsBackend = "noop"
	if err := os.WriteFile(filepath.Join(cfg.DataDir, "config"), []byte("not a dir"), 0o644); err != nil {
		t.Fatalf("seed blocking file: %v", err)
	}

	rt, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := rt.Start(); err == nil {
		t.Fatal("expected Start to fail when the config directory path is occupied by a file")
	}
	if rt.Config != nil || rt.Sched != nil || rt.Plugins != nil {
		t.Fatalf("expected rollback to clear subsystem fields, got Config=%v Sched=%v Plugins=%v", rt.Config, rt.Sched, rt.Plugins)
	}

	// A second Start attempt, after clearing the obstruction, should
	// succeed — confirming the failed attempt left `started` unset.
	if err := os.Remove(filepath.Join(cfg.DataDir, "config")); err != nil {
		t.Fatalf("clear blocking file: %v", err)
	}
	if err := rt.Start(); err != nil {
		t.Fatalf("expected retry to succeed, got: %v", err)
	}
	defer rt.Stop()
}

func TestReloadWithNothingRegistered(t *testing.T) {
	cfg := Defaults()
	cfg.DataDir = t.TempDir()
	cfg.MetricsBackend = "noop"

	rt, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := rt.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer rt.Stop()

	errs := rt.Reload()
	if len(errs) != 0 {
		t.Fatalf("expected no reload errors with nothing registered, got %+v", errs)
	}
}
