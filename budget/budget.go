// Package budget implements the runtime's budget manager (C2): per-unit
// nanosecond time accounting for each tick, a global tick budget, and the
// over-budget signal the scheduler consults before releasing non-critical
// work. Budgets are soft — there is no preemption of running work.
package budget

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dequackdealer/rubidium/metrics"
)

const (
	// MinGlobalBudget and MaxGlobalBudget bound SetGlobalBudget per §3.
	MinGlobalBudget = time.Millisecond
	MaxGlobalBudget = 100 * time.Millisecond

	defaultGlobalBudget = 45 * time.Millisecond
)

// UnitBudget tracks one registered unit's nanosecond accounting.
type UnitBudget struct {
	ID string

	budgetNS        atomic.Int64
	tickConsumedNS  atomic.Int64
	totalConsumedNS atomic.Int64
	overBudgetCount atomic.Int64
}

// Snapshot is a point-in-time, non-live copy of a UnitBudget.
type Snapshot struct {
	ID              string
	BudgetNS        int64
	TickConsumedNS  int64
	TotalConsumedNS int64
	OverBudgetCount int64
}

func (u *UnitBudget) snapshot() Snapshot {
	return Snapshot{
		ID:              u.ID,
		BudgetNS:        u.budgetNS.Load(),
		TickConsumedNS:  u.tickConsumedNS.Load(),
		TotalConsumedNS: u.totalConsumedNS.Load(),
		OverBudgetCount: u.overBudgetCount.Load(),
	}
}

// Manager is the C2 facade. Unregistered units charge to an implicit
// default bucket and are always considered within budget — only explicit
// registration opts a unit into enforcement.
type Manager struct {
	mu    sync.RWMutex
	units map[string]*UnitBudget

	globalBudgetNS atomic.Int64

	overrunCount    atomic.Int64
	lastOverrunTick atomic.Int64

	// defaultBucket accumulates time charged by unregistered units; it is
	// never consulted by Remaining or WithinBudget.
	defaultBucket UnitBudget

	metrics *metrics.Registry
}

// NewManager constructs a Manager with the given global tick budget (the
// 45ms default is used instead if it is outside [MinGlobalBudget,
// MaxGlobalBudget)) and an optional metrics registry to forward overrun
// reports to.
func NewManager(globalBudget time.Duration, reg *metrics.Registry) *Manager {
	m := &Manager{
		units:   make(map[string]*UnitBudget),
		metrics: reg,
	}
	if err := m.SetGlobalBudget(globalBudget); err != nil {
		m.globalBudgetNS.Store(int64(defaultGlobalBudget))
	}
	return m
}

// SetGlobalBudget validates d is within [1ms, 100ms) before applying it.
func (m *Manager) SetGlobalBudget(d time.Duration) error {
	if d < MinGlobalBudget || d >= MaxGlobalBudget {
		return fmt.Errorf("global tick budget %s out of range [%s, %s)", d, MinGlobalBudget, MaxGlobalBudget)
	}
	m.globalBudgetNS.Store(int64(d))
	return nil
}

// GlobalBudget returns the current global per-tick budget.
func (m *Manager) GlobalBudget() time.Duration {
	return time.Duration(m.globalBudgetNS.Load())
}

// Register creates or updates a unit's budget. Re-registering an already
// known unit updates the budget value without resetting its accumulated
// totals.
func (m *Manager) Register(unitID string, budget time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.units[unitID]
	if !ok {
		u = &UnitBudget{ID: unitID}
		m.units[unitID] = u
	}
	u.budgetNS.Store(int64(budget))
}

func (m *Manager) lookup(unitID string) (*UnitBudget, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.units[unitID]
	return u, ok
}

// Remaining returns how much of the unit's per-tick budget is left. An
// unregistered unit reports its nominal budget as remaining (it is never
// gated).
func (m *Manager) Remaining(unitID string) time.Duration {
	u, ok := m.lookup(unitID)
	if !ok {
		return m.GlobalBudget()
	}
	remaining := u.budgetNS.Load() - u.tickConsumedNS.Load()
	if remaining < 0 {
		remaining = 0
	}
	return time.Duration(remaining)
}

// WithinBudget reports whether unitID still has tick budget remaining.
// Unregistered units are always within budget.
func (m *Manager) WithinBudget(unitID string) bool {
	u, ok := m.lookup(unitID)
	if !ok {
		return true
	}
	return u.tickConsumedNS.Load() < u.budgetNS.Load()
}

// RecordExecution atomically adds ns to unitID's tick and total counters.
// If the tick counter crosses the unit's budget, over_budget_count is
// incremented. Unregistered units are tracked under an implicit default
// bucket that never enforces.
func (m *Manager) RecordExecution(unitID string, ns time.Duration) {
	u, ok := m.lookup(unitID)
	if !ok {
		m.defaultBucket.tickConsumedNS.Add(int64(ns))
		m.defaultBucket.totalConsumedNS.Add(int64(ns))
		return
	}
	before := u.tickConsumedNS.Add(int64(ns)) - int64(ns)
	after := before + int64(ns)
	u.totalConsumedNS.Add(int64(ns))
	budget := u.budgetNS.Load()
	if before < budget && after >= budget {
		u.overBudgetCount.Add(1)
	}
}

// ResetTick zeroes every unit's current-tick counter. Called atomically at
// the start of every tick; never reset while a tick is in flight.
func (m *Manager) ResetTick() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.units {
		u.tickConsumedNS.Store(0)
	}
}

// ReportTickOverrun increments the global overrun counter, records the
// last overrun tick, and forwards the sample to the metrics registry.
func (m *Manager) ReportTickOverrun(tickNo uint64, d time.Duration) {
	m.overrunCount.Add(1)
	m.lastOverrunTick.Store(int64(tickNo))
	if m.metrics != nil {
		m.metrics.RecordOverrun(tickNo, d)
		m.metrics.Counter("tick.overruns").Inc()
	}
}

// OverrunCount returns the lifetime count of reported tick overruns.
func (m *Manager) OverrunCount() int64 { return m.overrunCount.Load() }

// LastOverrunTick returns the tick number of the most recently reported
// overrun, or 0 if none has occurred.
func (m *Manager) LastOverrunTick() uint64 { return uint64(m.lastOverrunTick.Load()) }

// ManagerSnapshot is a non-live view across every registered unit budget.
type ManagerSnapshot struct {
	GlobalBudget    time.Duration
	Units           []Snapshot
	OverrunCount    int64
	LastOverrunTick uint64
}

// Snapshot returns a copy of all registered unit budgets plus the global
// overrun counter.
func (m *Manager) Snapshot() ManagerSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := ManagerSnapshot{
		GlobalBudget:    m.GlobalBudget(),
		OverrunCount:    m.OverrunCount(),
		LastOverrunTick: m.LastOverrunTick(),
	}
	for _, u := range m.units {
		out.Units = append(out.Units, u.snapshot())
	}
	return out
}
