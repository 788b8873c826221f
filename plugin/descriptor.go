// Package plugin implements the plug-in manager (C5): manifest discovery,
// dependency resolution, isolated code loading, the unit state machine,
// and the lifecycle transitions (load/enable/disable/unload/reload).
// Grounded on the teacher's RWMutex-guarded registry shape (compare
// RuntimeConfigManager in engine/internal/runtime/runtime.go) and the
// supervisor/registry idiom in
// other_examples/41e2d025_nmxmxh-inos_v1__kernel-threads-supervisor.go.go.
package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// manifestFile is the name of the package manifest inside each unit's
// directory under the modules directory.
const manifestFile = "manifest.yaml"

// rawDescriptor mirrors the on-disk manifest.yaml shape exactly: depends
// and soft_depends are comma-separated strings, matching the literal
// "comma-separated hard-dependency list" / "comma-separated
// soft-dependency list" manifest contract.
type rawDescriptor struct {
	ID          string `yaml:"id"`
	Version     string `yaml:"version"`
	EntryPoint  string `yaml:"entrypoint"`
	Depends     string `yaml:"depends"`
	SoftDepends string `yaml:"soft_depends"`
	Description string `yaml:"description"`
}

// Descriptor is a unit's parsed manifest.
type Descriptor struct {
	ID          string
	Version     string
	EntryPoint  string // entry-point-class identifier, from the manifest's "entrypoint" field
	HardDeps    []string
	SoftDeps    []string
	Description string

	// dir is the unit's own directory under the modules root, set during
	// discovery rather than read from the manifest.
	dir string
}

// DataDir returns the unit's private, lazily-created data directory.
func (d Descriptor) DataDir() string {
	return filepath.Join(d.dir, "data")
}

// LibraryPath returns the unit's compiled plugin object, always
// `<id>.so` alongside its manifest (built with `go build
// -buildmode=plugin`).
func (d Descriptor) LibraryPath() string {
	return filepath.Join(d.dir, d.ID+".so")
}

func splitDepList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// simpleNameLower derives the identifier fallback from an entry-point
// reference's simple (last, dot-separated) segment, lowercased — e.g.
// "com.example.MyUnit" -> "myunit" (§6: "Missing identifier derives from
// the entry-point simple name lowercased").
func simpleNameLower(entryPoint string) string {
	segments := strings.Split(entryPoint, ".")
	return strings.ToLower(segments[len(segments)-1])
}

// DiscoverDescriptors enumerates modulesDir for subdirectories carrying a
// manifest.yaml manifest. Parse failures are logged via onError and the
// offending package is skipped; the rest proceed (§4.5 Discovery).
func DiscoverDescriptors(modulesDir string, onError func(pkg string, err error)) ([]Descriptor, error) {
	entries, err := os.ReadDir(modulesDir)
	if err != nil {
		return nil, fmt.Errorf("read modules dir: %w", err)
	}
	var out []Descriptor
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pkgDir := filepath.Join(modulesDir, e.Name())
		manifestPath := filepath.Join(pkgDir, manifestFile)
		data, err := os.ReadFile(manifestPath)
		if err != nil {
			if onError != nil {
				onError(e.Name(), fmt.Errorf("read manifest: %w", err))
			}
			continue
		}
		var raw rawDescriptor
		if err := yaml.Unmarshal(data, &raw); err != nil {
			if onError != nil {
				onError(e.Name(), fmt.Errorf("parse manifest: %w", err))
			}
			continue
		}
		if raw.EntryPoint == "" {
			if onError != nil {
				onError(e.Name(), fmt.Errorf("manifest missing entrypoint"))
			}
			continue
		}
		id := raw.ID
		if id == "" {
			id = simpleNameLower(raw.EntryPoint)
		}
		d := Descriptor{
			ID:          id,
			Version:     raw.Version,
			EntryPoint:  raw.EntryPoint,
			HardDeps:    splitDepList(raw.Depends),
			SoftDeps:    splitDepList(raw.SoftDepends),
			Description: raw.Description,
			dir:         pkgDir,
		}
		out = append(out, d)
	}
	return out, nil
}
