// Package core composes C1-C5 behind a single facade: the lifecycle
// orchestrator described in spec.md §2/§3 that brings the runtime up in
// dependency order and tears it down in reverse. Grounded on the
// teacher's Engine/Config split in engine/engine.go and engine/config.go.
package core

import (
	"time"

	"github.com/dequackdealer/rubidium/metrics"
)

// Config is the public configuration surface for the Runtime facade; it
// narrows the five subsystems' own options down to the knobs an embedder
// is expected to set directly, mirroring the teacher's Config/Defaults
// split (config.go).
type Config struct {
	DataDir       string
	TickPeriod    time.Duration
	GlobalBudget  time.Duration
	AsyncPoolSize int64

	MetricsEnabled bool
	MetricsBackend string // "prometheus" or "noop"

	MetricsRegistry *metrics.Registry // advanced: inject a pre-built registry
}

// Defaults returns the runtime's baseline configuration: 20 TPS, a 45ms
// global tick budget, and a Prometheus-backed metrics registry.
func Defaults() Config {
	return Config{
		DataDir:        "data",
		TickPeriod:     50 * time.Millisecond,
		GlobalBudget:   45 * time.Millisecond,
		AsyncPoolSize:  8,
		MetricsEnabled: true,
		MetricsBackend: "prometheus",
	}
}
