package plugin

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/dequackdealer/rubidium/config"
	"github.com/dequackdealer/rubidium/internal/logging"
	"github.com/dequackdealer/rubidium/metrics"
	"github.com/dequackdealer/rubidium/scheduler"
)

// ManagerDeps are the shared runtime facilities handed to every unit's
// Context at load time.
type ManagerDeps struct {
	ModulesDir string
	Config     *config.Store
	Sched      *scheduler.Scheduler
	Metrics    *metrics.Registry
	Logger     logging.Logger
}

// Manager is the C5 facade: a reader-writer-lock-guarded registry of unit
// containers, grounded on the teacher's RWMutex-guarded
// RuntimeConfigManager shape and the supervisor/registry idiom in
// other_examples/41e2d025_nmxmxh-inos_v1__kernel-threads-supervisor.go.go.
type Manager struct {
	deps ManagerDeps

	mu         sync.RWMutex
	containers map[string]*Container
	loadOrder  []string // insertion order: List/ReloadAll walk it forward, UnloadAll in reverse
}

// NewManager constructs a Manager bound to deps.
func NewManager(deps ManagerDeps) *Manager {
	if deps.Logger == nil {
		deps.Logger = logging.New(nil)
	}
	return &Manager{
		deps:       deps,
		containers: make(map[string]*Container),
	}
}

// DiscoverAndLoad enumerates deps.ModulesDir, resolves dependency order,
// and loads every resolvable descriptor in that order.
func (m *Manager) DiscoverAndLoad() []error {
	descs, err := DiscoverDescriptors(m.deps.ModulesDir, func(pkg string, err error) {
		m.deps.Logger.WarnCtx(context.Background(), "skipping package with invalid manifest", "package", pkg, "error", err)
	})
	if err != nil {
		return []error{err}
	}
	ordered, problems := Resolve(descs)
	if problems != nil {
		for _, cyc := range problems.Cycles {
			m.deps.Logger.WarnCtx(context.Background(), "dependency cycle excluded from load order", "cycle", cyc)
		}
		for _, msg := range problems.MissingHardDep {
			m.deps.Logger.WarnCtx(context.Background(), "missing hard dependency excluded descriptor", "detail", msg)
		}
	}
	var errs []error
	for _, d := range ordered {
		if err := m.Load(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Load verifies hard dependencies are already loaded, opens the isolated
// code-loading scope, resolves the entry point, invokes OnLoad, and
// installs a Container in state Loaded. Any failure leaves no container
// behind.
func (m *Manager) Load(d Descriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.containers[d.ID]; exists {
		return fmt.Errorf("unit %s already loaded", d.ID)
	}
	for _, dep := range d.HardDeps {
		dc, ok := m.containers[dep]
		if !ok || dc.state == StateFailed {
			return fmt.Errorf("unit %s: hard dependency %s not loaded", d.ID, dep)
		}
	}

	c := &Container{Descriptor: d, state: StateDiscovered}
	if err := c.transition(StateLoading); err != nil {
		return err
	}

	unit, closer, err := openScope(d.ID, d.LibraryPath())
	if err != nil {
		m.deps.Logger.WarnCtx(logging.WithFields(context.Background(), logging.Fields{Unit: d.ID}), "unit load failed", "unit", d.ID, "error", err)
		return fmt.Errorf("unit %s: %w", d.ID, err)
	}

	if err := os.MkdirAll(d.DataDir(), 0o755); err != nil {
		return fmt.Errorf("unit %s: create data dir: %w", d.ID, err)
	}

	ctx := Context{
		UnitID:  d.ID,
		DataDir: d.DataDir(),
		Logger:  m.deps.Logger,
		Config:  m.deps.Config,
		Sched:   m.deps.Sched,
		Metrics: m.deps.Metrics,
		Manager: m,
	}
	if err := unit.OnLoad(ctx); err != nil {
		_ = closer()
		m.deps.Logger.WarnCtx(logging.WithFields(context.Background(), logging.Fields{Unit: d.ID}), "unit OnLoad failed", "unit", d.ID, "error", err)
		return fmt.Errorf("unit %s: on_load: %w", d.ID, err)
	}

	c.Instance = unit
	c.context = ctx
	c.closer = closer
	if err := c.transition(StateLoaded); err != nil {
		return err
	}
	m.containers[d.ID] = c
	m.loadOrder = append(m.loadOrder, d.ID)
	return nil
}

// Enable requires the unit be in state Loaded or Disabled. The manager
// does not verify that the unit's dependencies are currently Enabled
// (§4.5 Enable): that check is the dependent's own responsibility.
func (m *Manager) Enable(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[id]
	if !ok {
		return fmt.Errorf("unit %s not loaded", id)
	}
	if err := c.transition(StateEnabling); err != nil {
		return err
	}
	if err := c.Instance.OnEnable(); err != nil {
		_ = c.transition(StateFailed)
		m.deps.Logger.WarnCtx(logging.WithFields(context.Background(), logging.Fields{Unit: id}), "unit OnEnable failed", "unit", id, "error", err)
		return fmt.Errorf("unit %s: on_enable: %w", id, err)
	}
	return c.transition(StateEnabled)
}

// Disable requires the unit be Enabled. Best-effort: OnDisable errors are
// logged but the unit still ends Disabled.
func (m *Manager) Disable(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[id]
	if !ok {
		return fmt.Errorf("unit %s not loaded", id)
	}
	if err := c.transition(StateDisabling); err != nil {
		return err
	}
	if err := c.Instance.OnDisable(); err != nil {
		m.deps.Logger.WarnCtx(logging.WithFields(context.Background(), logging.Fields{Unit: id}), "unit OnDisable reported an error during disable", "unit", id, "error", err)
	}
	return c.transition(StateDisabled)
}

// Unload walks an active unit through Disabling→Disabled before
// Unloading (no shortcut edge exists in the state machine), then removes
// the container and closes its code-loading scope. Memory reclamation is
// best-effort.
func (m *Manager) Unload(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[id]
	if !ok {
		return fmt.Errorf("unit %s not loaded", id)
	}
	if c.state == StateEnabled {
		if err := c.transition(StateDisabling); err != nil {
			return err
		}
		if err := c.Instance.OnDisable(); err != nil {
			m.deps.Logger.WarnCtx(logging.WithFields(context.Background(), logging.Fields{Unit: id}), "unit OnDisable reported an error during unload", "unit", id, "error", err)
		}
		if err := c.transition(StateDisabled); err != nil {
			return err
		}
	}
	if err := c.transition(StateUnloading); err != nil {
		return err
	}
	if c.closer != nil {
		if err := c.closer(); err != nil {
			m.deps.Logger.WarnCtx(logging.WithFields(context.Background(), logging.Fields{Unit: id}), "unit code-loading scope close failed", "unit", id, "error", err)
		}
	}
	_ = c.transition(StateUnloaded)
	delete(m.containers, id)
	for i, loaded := range m.loadOrder {
		if loaded == id {
			m.loadOrder = append(m.loadOrder[:i], m.loadOrder[i+1:]...)
			break
		}
	}
	return nil
}

// Reload invokes OnReload if the unit supports it; the manifest is not
// re-parsed.
func (m *Manager) Reload(id string) error {
	m.mu.RLock()
	c, ok := m.containers[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unit %s not loaded", id)
	}
	r, ok := c.Instance.(Reloadable)
	if !ok {
		return fmt.Errorf("unit %s does not support reload", id)
	}
	return r.OnReload()
}

// ReloadAll best-effort reloads every reload-capable unit, in load order.
func (m *Manager) ReloadAll() []error {
	m.mu.RLock()
	ids := make([]string, len(m.loadOrder))
	copy(ids, m.loadOrder)
	m.mu.RUnlock()
	var errs []error
	for _, id := range ids {
		if err := m.Reload(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// UnloadAll unloads every unit in reverse load order (deepest dependents
// first, since Resolve orders every dependency ahead of its dependents
// and Load installs them in that order). Non-cascading by contract (§9 open
// question): disabling or unloading a dependency does not automatically
// touch its dependents.
func (m *Manager) UnloadAll() []error {
	m.mu.RLock()
	ids := make([]string, len(m.loadOrder))
	copy(ids, m.loadOrder)
	m.mu.RUnlock()
	var errs []error
	for i := len(ids) - 1; i >= 0; i-- {
		if err := m.Unload(ids[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// IsLoaded reports whether id has an installed container.
func (m *Manager) IsLoaded(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.containers[id]
	return ok
}

// IsEnabled reports whether id is in state Enabled.
func (m *Manager) IsEnabled(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.containers[id]
	return ok && c.state == StateEnabled
}

// State returns id's current lifecycle state and whether it is known.
func (m *Manager) State(id string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.containers[id]
	if !ok {
		return StateDiscovered, false
	}
	return c.state, true
}

// Get looks up a loaded unit's instance by id for inter-unit lookup via
// the Unit Context.
func (m *Manager) Get(id string) (Unit, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.containers[id]
	if !ok {
		return nil, false
	}
	return c.Instance, true
}

// List returns every currently loaded unit id, in load order.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, len(m.loadOrder))
	copy(ids, m.loadOrder)
	return ids
}
