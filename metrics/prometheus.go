package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var metricNameRE = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)

// PrometheusProviderOptions configures NewPrometheusProvider.
type PrometheusProviderOptions struct {
	Registry         *prom.Registry // optional custom registry
	CardinalityLimit int            // warn threshold; 0 => default 100
}

// PrometheusProvider implements Provider backed by a Prometheus registry,
// with a cardinality guard on the one dimension this unlabeled API can
// actually blow up: the number of distinct metric names ever registered
// (scheduler task timers are keyed "task.<owner>", so an unbounded owner
// set is the realistic runaway case). Once that count passes cardLimit,
// every newly registered name increments
// rubidium_internal_cardinality_exceeded_total instead of growing the
// registry silently forever.
type PrometheusProvider struct {
	reg *prom.Registry

	mu         sync.RWMutex
	counters   map[string]*promCounter
	gauges     map[string]*promGauge
	histograms map[string]*promHistogram
	timers     map[string]*promTimer

	cardLimit   int
	warnCounter *prom.CounterVec

	handler http.Handler
}

// NewPrometheusProvider creates a provider; a nil/zero-value Registry
// field allocates a fresh prometheus.Registry.
func NewPrometheusProvider(opts PrometheusProviderOptions) *PrometheusProvider {
	reg := opts.Registry
	if reg == nil {
		reg = prom.NewRegistry()
	}
	limit := opts.CardinalityLimit
	if limit <= 0 {
		limit = 100
	}
	warn := prom.NewCounterVec(prom.CounterOpts{
		Name: "rubidium_internal_cardinality_exceeded_total",
		Help: "count of metric names registered after the distinct-name limit was exceeded",
	}, []string{"metric"})
	_ = reg.Register(warn) // best effort; ignore AlreadyRegisteredError

	return &PrometheusProvider{
		reg:         reg,
		counters:    make(map[string]*promCounter),
		gauges:      make(map[string]*promGauge),
		histograms:  make(map[string]*promHistogram),
		timers:      make(map[string]*promTimer),
		cardLimit:   limit,
		warnCounter: warn,
		handler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
}

// noteRegistered is called, with p.mu already held, immediately after a
// brand-new metric name is installed in one of the four maps. It reports
// the total distinct-name count against cardLimit and records an
// over-limit registration against the internal guard counter.
func (p *PrometheusProvider) noteRegistered(fq string) {
	total := len(p.counters) + len(p.gauges) + len(p.histograms) + len(p.timers)
	if total > p.cardLimit {
		p.warnCounter.WithLabelValues(fq).Inc()
	}
}

// Handler returns the /metrics HTTP handler.
func (p *PrometheusProvider) Handler() http.Handler { return p.handler }

func sanitizeName(name string) (string, error) {
	if name == "" {
		return "", errors.New("metric name required")
	}
	fq := "rubidium_" + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if !metricNameRE.MatchString(fq) {
		return "", fmt.Errorf("invalid metric name: %s", name)
	}
	return fq, nil
}

func (p *PrometheusProvider) Counter(name string) Counter {
	fq, err := sanitizeName(name)
	if err != nil {
		return noopCounter{}
	}
	p.mu.RLock()
	c, ok := p.counters[fq]
	p.mu.RUnlock()
	if ok {
		return c
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.counters[fq]; ok {
		return c
	}
	vec := prom.NewCounter(prom.CounterOpts{Name: fq, Help: name})
	if err := p.reg.Register(vec); err != nil {
		var are prom.AlreadyRegisteredError
		if errors.As(err, &are) {
			vec = are.ExistingCollector.(prom.Counter)
		}
	}
	pc := &promCounter{c: vec}
	p.counters[fq] = pc
	p.noteRegistered(fq)
	return pc
}

func (p *PrometheusProvider) Gauge(name string) Gauge {
	fq, err := sanitizeName(name)
	if err != nil {
		return noopGauge{}
	}
	p.mu.RLock()
	g, ok := p.gauges[fq]
	p.mu.RUnlock()
	if ok {
		return g
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.gauges[fq]; ok {
		return g
	}
	vec := prom.NewGauge(prom.GaugeOpts{Name: fq, Help: name})
	if err := p.reg.Register(vec); err != nil {
		var are prom.AlreadyRegisteredError
		if errors.As(err, &are) {
			vec = are.ExistingCollector.(prom.Gauge)
		}
	}
	pg := &promGauge{g: vec}
	p.gauges[fq] = pg
	p.noteRegistered(fq)
	return pg
}

func (p *PrometheusProvider) Histogram(name string) Histogram {
	fq, err := sanitizeName(name)
	if err != nil {
		return noopHistogram{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.histograms[fq]; ok {
		return h
	}
	ph := &promHistogram{}
	vec := prom.NewHistogram(prom.HistogramOpts{Name: fq, Help: name})
	if err := p.reg.Register(vec); err != nil {
		var are prom.AlreadyRegisteredError
		if errors.As(err, &are) {
			vec = are.ExistingCollector.(prom.Histogram)
		}
	}
	ph.h = vec
	p.histograms[fq] = ph
	p.noteRegistered(fq)
	return ph
}

// Timer is not natively modeled by Prometheus (no min/max histogram read
// API), so timers are tracked locally and also fed into a Prometheus
// histogram for export.
func (p *PrometheusProvider) Timer(name string) Timer {
	fq, err := sanitizeName(name)
	if err != nil {
		return noopTimer{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.timers[fq]; ok {
		return t
	}
	vec := prom.NewHistogram(prom.HistogramOpts{Name: fq + "_seconds", Help: name})
	if err := p.reg.Register(vec); err != nil {
		var are prom.AlreadyRegisteredError
		if errors.As(err, &are) {
			vec = are.ExistingCollector.(prom.Histogram)
		}
	}
	pt := &promTimer{hist: vec}
	p.timers[fq] = pt
	p.noteRegistered(fq)
	return pt
}

type promCounter struct {
	c  prom.Counter
	mu sync.Mutex
	v  float64
}

func (p *promCounter) Inc() { p.Add(1) }
func (p *promCounter) Add(delta float64) {
	if delta < 0 {
		delta = 0
	}
	p.c.Add(delta)
	p.mu.Lock()
	p.v += delta
	p.mu.Unlock()
}
func (p *promCounter) Value() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v
}

type promGauge struct {
	g  prom.Gauge
	mu sync.Mutex
	v  float64
}

func (p *promGauge) Set(v float64) {
	p.g.Set(v)
	p.mu.Lock()
	p.v = v
	p.mu.Unlock()
}
func (p *promGauge) Value() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v
}

type promHistogram struct {
	h prom.Histogram

	mu    sync.Mutex
	count int64
	sum   float64
	min   float64
	max   float64
}

func (p *promHistogram) Observe(v float64) {
	p.h.Observe(v)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.count == 0 {
		p.min, p.max = v, v
	} else {
		if v < p.min {
			p.min = v
		}
		if v > p.max {
			p.max = v
		}
	}
	p.count++
	p.sum += v
}
func (p *promHistogram) Stats() HistogramStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	mean := 0.0
	if p.count > 0 {
		mean = p.sum / float64(p.count)
	}
	return HistogramStats{Count: p.count, Mean: mean, Min: p.min, Max: p.max}
}

type promTimer struct {
	hist prom.Histogram

	mu     sync.Mutex
	count  int64
	sumNS  int64
	minNS  int64
	maxNS  int64
}

func (p *promTimer) Record(d time.Duration) {
	p.hist.Observe(d.Seconds())
	ns := d.Nanoseconds()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.count == 0 {
		p.minNS, p.maxNS = ns, ns
	} else {
		if ns < p.minNS {
			p.minNS = ns
		}
		if ns > p.maxNS {
			p.maxNS = ns
		}
	}
	p.count++
	p.sumNS += ns
}
func (p *promTimer) Stats() TimerStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var mean int64
	if p.count > 0 {
		mean = p.sumNS / p.count
	}
	return TimerStats{Count: p.count, MeanNS: mean, MinNS: p.minNS, MaxNS: p.maxNS}
}
