package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dequackdealer/rubidium/budget"
	"github.com/dequackdealer/rubidium/config"
	"github.com/dequackdealer/rubidium/internal/logging"
	"github.com/dequackdealer/rubidium/metrics"
	"github.com/dequackdealer/rubidium/plugin"
	"github.com/dequackdealer/rubidium/scheduler"
)

// Runtime composes the five subsystems (C1-C5) into the runtime core
// described by the lifecycle orchestrator: Start brings them up
// C1→C2→C3→C4, then asks C5 to discover/resolve/load/enable; Stop
// reverses the order, grounded on the teacher's Engine facade
// (engine/engine.go).
type Runtime struct {
	cfg    Config
	logger logging.Logger // scoped component=core; see Start for the per-subsystem loggers

	Metrics *metrics.Registry
	Budget  *budget.Manager
	Config  *config.Store
	Sched   *scheduler.Scheduler
	Plugins *plugin.Manager

	started bool
}

// Snapshot is a unified, read-only view of runtime state for
// introspection and diagnostics.
type Snapshot struct {
	Tick          uint64                  `json:"tick"`
	TickStats     metrics.TickStats       `json:"tick_stats"`
	BudgetSnap    budget.ManagerSnapshot  `json:"budget"`
	LoadedUnits   []string                `json:"loaded_units"`
	ConfigIDs     []string                `json:"config_ids"`
	OverrunRecord []metrics.OverrunRecord `json:"overruns,omitempty"`
}

// New constructs a Runtime from cfg without starting it. Call Start to
// bring the subsystems up.
func New(cfg Config, logger logging.Logger) (*Runtime, error) {
	if cfg.DataDir == "" {
		cfg = Defaults()
	}
	if logger == nil {
		logger = logging.New(nil)
	}
	return &Runtime{cfg: cfg, logger: logger.With("component", "core")}, nil
}

// Start brings the runtime up in dependency order: C1 metrics, C2
// budget, C3 config store, C4 scheduler, then C5 discover/resolve/load.
// Any subsystem that reaches a running state before a later step fails
// is torn down in reverse order before Start returns its error; a failed
// C5 discovery is non-fatal (discovery logs and skips broken packages
// per §4.5) so Start still returns successfully with zero or more units
// loaded.
func (r *Runtime) Start() (err error) {
	if r.started {
		return errors.New("runtime: already started")
	}

	var teardown []func()
	defer func() {
		if err != nil {
			for i := len(teardown) - 1; i >= 0; i-- {
				teardown[i]()
			}
			r.Metrics, r.Budget, r.Config, r.Sched, r.Plugins = nil, nil, nil, nil, nil
		}
	}()

	// C1: Metrics Registry.
	var provider metrics.Provider
	switch r.cfg.MetricsBackend {
	case "noop":
		provider = metrics.NewNoopProvider()
	default:
		provider = metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
	}
	if r.cfg.MetricsRegistry != nil {
		r.Metrics = r.cfg.MetricsRegistry
	} else if r.cfg.MetricsEnabled {
		r.Metrics = metrics.NewRegistry(provider)
	} else {
		r.Metrics = metrics.NewRegistry(metrics.NewNoopProvider())
	}

	// C2: Budget Manager.
	r.Budget = budget.NewManager(r.cfg.GlobalBudget, r.Metrics)

	// C3: Config Store.
	configDir := filepath.Join(r.cfg.DataDir, "config")
	configLogger := r.logger.With("component", "config")
	r.Config = config.NewStore(configDir, configLogger)
	if err = r.Config.Initialize(); err != nil {
		return fmt.Errorf("core: config store initialize: %w", err)
	}
	teardown = append(teardown, func() { r.Config.Shutdown() })
	if err2 := r.Config.StartHotReload(); err2 != nil {
		r.logger.WarnCtx(context.Background(), "config hot reload unavailable, falling back to manual reload", "error", err2)
	}

	// C4: Tick Scheduler.
	schedLogger := r.logger.With("component", "scheduler")
	r.Sched = scheduler.New(scheduler.Options{
		TickPeriod:       r.cfg.TickPeriod,
		AsyncConcurrency: r.cfg.AsyncPoolSize,
		Metrics:          r.Metrics,
		Budget:           r.Budget,
		Logger:           schedLogger,
	})
	r.Sched.Start()
	teardown = append(teardown, r.Sched.Stop)

	// C5: Plug-in Manager — discover, resolve, load. Failures here are
	// per-unit and non-fatal to Start (§4.5 Discovery / Load).
	modulesDir := filepath.Join(r.cfg.DataDir, "modules")
	pluginLogger := r.logger.With("component", "plugin")
	r.Plugins = plugin.NewManager(plugin.ManagerDeps{
		ModulesDir: modulesDir,
		Config:     r.Config,
		Sched:      r.Sched,
		Metrics:    r.Metrics,
		Logger:     pluginLogger,
	})
	for _, loadErr := range r.Plugins.DiscoverAndLoad() {
		r.logger.WarnCtx(context.Background(), "unit failed to load during startup", "error", loadErr)
	}
	for _, id := range r.Plugins.List() {
		if enableErr := r.Plugins.Enable(id); enableErr != nil {
			r.logger.WarnCtx(context.Background(), "unit failed to enable during startup", "unit", id, "error", enableErr)
		}
	}

	r.started = true
	return nil
}

// Stop reverses Start's order: unload every unit (disabling active ones
// in reverse dependency order), stop the scheduler, stop the config
// watcher.
func (r *Runtime) Stop() error {
	if !r.started {
		return nil
	}
	var errs []error
	if r.Plugins != nil {
		errs = append(errs, r.Plugins.UnloadAll()...)
	}
	if r.Sched != nil {
		r.Sched.Stop()
	}
	if r.Config != nil {
		r.Config.Shutdown()
	}
	r.started = false
	if len(errs) > 0 {
		return fmt.Errorf("core: stop completed with %d unit error(s): %v", len(errs), errs)
	}
	return nil
}

// Reload best-effort reloads every registered config id and every
// reload-capable unit.
func (r *Runtime) Reload() []error {
	var errs []error
	if r.Config != nil {
		errs = append(errs, r.Config.ReloadAll()...)
	}
	if r.Plugins != nil {
		errs = append(errs, r.Plugins.ReloadAll()...)
	}
	return errs
}

// Snapshot returns a unified, read-only view of runtime state.
func (r *Runtime) Snapshot() Snapshot {
	snap := Snapshot{}
	if r.Sched != nil {
		snap.Tick = r.Sched.CurrentTick()
	}
	if r.Metrics != nil {
		snap.TickStats = r.Metrics.GetTickStats()
		snap.OverrunRecord = r.Metrics.Overruns()
	}
	if r.Budget != nil {
		snap.BudgetSnap = r.Budget.Snapshot()
	}
	if r.Plugins != nil {
		snap.LoadedUnits = r.Plugins.List()
	}
	if r.Config != nil {
		snap.ConfigIDs = r.Config.IDs()
	}
	return snap
}
