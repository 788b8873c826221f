// Package metrics implements the runtime's metrics registry (C1): counter,
// gauge, histogram and timer handles keyed by name and created on first
// reference, a rolling tick-duration ring, and a bounded overrun log used
// as the control signal for scheduler deferral decisions.
package metrics

import (
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"
)

// Counter is monotonically non-decreasing; Add rejects negative deltas by
// clamping them to zero, per the C1 contract.
type Counter interface {
	Inc()
	Add(delta float64)
	Value() float64
}

// Gauge holds the last value set.
type Gauge interface {
	Set(v float64)
	Value() float64
}

// HistogramStats is a point-in-time read of a Histogram.
type HistogramStats struct {
	Count int64
	Mean  float64
	Min   float64
	Max   float64
}

// Histogram records observed values.
type Histogram interface {
	Observe(v float64)
	Stats() HistogramStats
}

// TimerStats is a point-in-time read of a Timer.
type TimerStats struct {
	Count   int64
	MeanNS  int64
	MinNS   int64
	MaxNS   int64
}

// Timer records durations.
type Timer interface {
	Record(d time.Duration)
	Stats() TimerStats
}

// Provider is the backing implementation behind the Registry's
// lookup-or-create factories. PrometheusProvider and NoopProvider satisfy
// this; both return the same handle on repeat calls for a given name.
type Provider interface {
	Counter(name string) Counter
	Gauge(name string) Gauge
	Histogram(name string) Histogram
	Timer(name string) Timer
	// Handler exposes an HTTP scrape endpoint, or nil if the provider does
	// not support one (e.g. NoopProvider).
	Handler() http.Handler
}

// Exporter receives a Snapshot on every export_to_all() call. A failing
// exporter's error is passed to ExportToAll's onErr callback and does not
// stop the others.
type Exporter interface {
	Export(Snapshot) error
}

// Snapshot is what export_to_all hands each Exporter.
type Snapshot struct {
	TakenAt   time.Time
	TickStats TickStats
	Overruns  []OverrunRecord
}

// TickStats is the result of get_tick_stats(): mean/min/max/p99 computed
// over the valid prefix of the tick ring, plus the lifetime tick total.
type TickStats struct {
	Mean  time.Duration
	Min   time.Duration
	Max   time.Duration
	P99   time.Duration
	Total int64
}

// OverrunRecord is one entry in the bounded (most recent 100) overrun log.
type OverrunRecord struct {
	Tick     uint64
	Duration time.Duration
	At       time.Time
}

const (
	tickRingSize  = 1200 // one minute at 20 Hz
	overrunWindow = 100
	memSampleEvery = 20
)

// Registry is the C1 facade: a Provider plus tick instrumentation.
type Registry struct {
	provider Provider

	mu        sync.Mutex
	ring      [tickRingSize]time.Duration
	ringIndex uint64
	totalTick int64

	overrunMu sync.Mutex
	overruns  []OverrunRecord

	exportersMu sync.Mutex
	exporters   []Exporter

	tickHistogram Histogram
	memUsed       Gauge
	memFree       Gauge
	memMax        Gauge
}

// NewRegistry wraps provider with tick-ring and overrun bookkeeping.
func NewRegistry(provider Provider) *Registry {
	if provider == nil {
		provider = NewNoopProvider()
	}
	return &Registry{
		provider:      provider,
		tickHistogram: provider.Histogram("tick.duration"),
		memUsed:       provider.Gauge("runtime.mem.used_bytes"),
		memFree:       provider.Gauge("runtime.mem.free_bytes"),
		memMax:        provider.Gauge("runtime.mem.max_bytes"),
	}
}

func (r *Registry) Counter(name string) Counter     { return r.provider.Counter(name) }
func (r *Registry) Gauge(name string) Gauge         { return r.provider.Gauge(name) }
func (r *Registry) Histogram(name string) Histogram { return r.provider.Histogram(name) }
func (r *Registry) Timer(name string) Timer         { return r.provider.Timer(name) }
func (r *Registry) Handler() http.Handler           { return r.provider.Handler() }

// RegisterExporter appends an exporter invoked by ExportToAll.
func (r *Registry) RegisterExporter(e Exporter) {
	r.exportersMu.Lock()
	defer r.exportersMu.Unlock()
	r.exporters = append(r.exporters, e)
}

// ExportToAll snapshots current metrics and calls every registered
// exporter; a failing exporter is reported via onErr and does not stop the
// rest.
func (r *Registry) ExportToAll(onErr func(error)) {
	snap := Snapshot{TakenAt: time.Now(), TickStats: r.GetTickStats(), Overruns: r.Overruns()}
	r.exportersMu.Lock()
	exporters := make([]Exporter, len(r.exporters))
	copy(exporters, r.exporters)
	r.exportersMu.Unlock()
	for _, e := range exporters {
		if err := e.Export(snap); err != nil && onErr != nil {
			onErr(err)
		}
	}
}

// RecordTickDuration writes d into the tick ring, feeds tick.duration (ms)
// and every 20th recorded tick samples memory usage into three gauges,
// via sampleMem or, when sampleMem is nil, the Go runtime's heap
// statistics (HeapAlloc, HeapIdle, HeapSys).
func (r *Registry) RecordTickDuration(d time.Duration, sampleMem func() (used, free, max uint64)) {
	r.mu.Lock()
	idx := r.ringIndex % tickRingSize
	r.ring[idx] = d
	r.ringIndex++
	total := r.totalTick + 1
	r.totalTick = total
	r.mu.Unlock()

	r.tickHistogram.Observe(float64(d.Milliseconds()))

	if total%memSampleEvery == 0 {
		var used, free, max uint64
		if sampleMem != nil {
			used, free, max = sampleMem()
		} else {
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			used, free, max = ms.HeapAlloc, ms.HeapIdle, ms.HeapSys
		}
		r.memUsed.Set(float64(used))
		r.memFree.Set(float64(free))
		r.memMax.Set(float64(max))
	}
}

// GetTickStats computes mean/min/max/p99 over min(total, N) ring entries,
// via a full sort of the valid prefix (simplicity over speed: at most 1200
// samples).
func (r *Registry) GetTickStats() TickStats {
	r.mu.Lock()
	total := r.totalTick
	n := total
	if n > tickRingSize {
		n = tickRingSize
	}
	samples := make([]time.Duration, n)
	for i := int64(0); i < n; i++ {
		samples[i] = r.ring[i]
	}
	r.mu.Unlock()

	if n == 0 {
		return TickStats{Total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	var sum time.Duration
	min, max := samples[0], samples[0]
	for _, s := range samples {
		sum += s
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	p99Idx := int(float64(n)*0.99) - 1
	if p99Idx < 0 {
		p99Idx = 0
	}
	if p99Idx >= int(n) {
		p99Idx = int(n) - 1
	}
	return TickStats{
		Mean:  sum / time.Duration(n),
		Min:   min,
		Max:   max,
		P99:   samples[p99Idx],
		Total: total,
	}
}

// RecordOverrun appends an overrun record, evicting the oldest once the
// window exceeds 100 entries.
func (r *Registry) RecordOverrun(tick uint64, d time.Duration) {
	r.overrunMu.Lock()
	defer r.overrunMu.Unlock()
	r.overruns = append(r.overruns, OverrunRecord{Tick: tick, Duration: d, At: time.Now()})
	if len(r.overruns) > overrunWindow {
		r.overruns = r.overruns[len(r.overruns)-overrunWindow:]
	}
}

// Overruns returns a copy of the current bounded overrun window.
func (r *Registry) Overruns() []OverrunRecord {
	r.overrunMu.Lock()
	defer r.overrunMu.Unlock()
	out := make([]OverrunRecord, len(r.overruns))
	copy(out, r.overruns)
	return out
}
