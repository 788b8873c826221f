package plugin

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, modulesDir, pkg, contents string) {
	t.Helper()
	dir := filepath.Join(modulesDir, pkg)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), []byte(contents), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func TestDiscoverDescriptorsParsesCommaLists(t *testing.T) {
	modulesDir := t.TempDir()
	writeManifest(t, modulesDir, "greeter", ""+
		"id: greeter\n"+
		"version: 1.0.0\n"+
		"entrypoint: hytale.units.Greeter\n"+
		"depends: core, timekeeper\n"+
		"soft_depends: economy\n")

	descs, err := DiscoverDescriptors(modulesDir, nil)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(descs) != 1 {
		t.Fatalf("expected 1 descriptor, got %d", len(descs))
	}
	d := descs[0]
	if d.ID != "greeter" {
		t.Fatalf("expected id greeter, got %q", d.ID)
	}
	if len(d.HardDeps) != 2 || d.HardDeps[0] != "core" || d.HardDeps[1] != "timekeeper" {
		t.Fatalf("expected hard deps [core timekeeper], got %+v", d.HardDeps)
	}
	if len(d.SoftDeps) != 1 || d.SoftDeps[0] != "economy" {
		t.Fatalf("expected soft deps [economy], got %+v", d.SoftDeps)
	}
	if got, want := d.LibraryPath(), filepath.Join(modulesDir, "greeter", "greeter.so"); got != want {
		t.Fatalf("expected library path %s, got %s", want, got)
	}
}

// TestDiscoverDescriptorsDerivesMissingID exercises the literal §6
// contract: "Missing identifier derives from the entry-point simple name
// lowercased."
func TestDiscoverDescriptorsDerivesMissingID(t *testing.T) {
	modulesDir := t.TempDir()
	writeManifest(t, modulesDir, "greeter", "entrypoint: hytale.units.Greeter\n")

	descs, err := DiscoverDescriptors(modulesDir, nil)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(descs) != 1 {
		t.Fatalf("expected 1 descriptor, got %d", len(descs))
	}
	if descs[0].ID != "greeter" {
		t.Fatalf("expected derived id %q, got %q", "greeter", descs[0].ID)
	}
}

func TestDiscoverDescriptorsSkipsMissingEntrypoint(t *testing.T) {
	modulesDir := t.TempDir()
	writeManifest(t, modulesDir, "broken", "id: broken\n")

	var skipped string
	descs, err := DiscoverDescriptors(modulesDir, func(pkg string, err error) {
		skipped = pkg
	})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(descs) != 0 {
		t.Fatalf("expected the descriptor without an entrypoint to be skipped, got %+v", descs)
	}
	if skipped != "broken" {
		t.Fatalf("expected onError to report package %q, got %q", "broken", skipped)
	}
}
