package plugin

import (
	"fmt"

	"github.com/dequackdealer/rubidium/config"
	"github.com/dequackdealer/rubidium/internal/logging"
	"github.com/dequackdealer/rubidium/metrics"
	"github.com/dequackdealer/rubidium/scheduler"
)

// State is a unit container's position in the lifecycle state machine.
type State int

const (
	StateDiscovered State = iota
	StateLoading
	StateLoaded
	StateEnabling
	StateEnabled
	StateDisabling
	StateDisabled
	StateUnloading
	StateUnloaded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateEnabling:
		return "enabling"
	case StateEnabled:
		return "enabled"
	case StateDisabling:
		return "disabling"
	case StateDisabled:
		return "disabled"
	case StateUnloading:
		return "unloading"
	case StateUnloaded:
		return "unloaded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// legalTransitions enumerates the state machine's edges:
// Discovered→Loading→{Loaded,Failed}; Loaded→{Enabling,Unloading};
// Enabling→{Enabled,Failed}; Enabled→Disabling→Disabled;
// Disabled→{Enabling,Unloading}; Failed→Unloading; Unloading→Unloaded.
// Failed leaves only through Unloading. An Enabled unit must pass
// through Disabling→Disabled before Unloading — there is no shortcut
// edge from Enabled straight to Unloading.
var legalTransitions = map[State]map[State]bool{
	StateDiscovered: {StateLoading: true},
	StateLoading:    {StateLoaded: true, StateFailed: true},
	StateLoaded:     {StateEnabling: true, StateUnloading: true},
	StateEnabling:   {StateEnabled: true, StateFailed: true},
	StateEnabled:    {StateDisabling: true},
	StateDisabling:  {StateDisabled: true},
	StateDisabled:   {StateEnabling: true, StateUnloading: true},
	StateUnloading:  {StateUnloaded: true},
	StateFailed:     {StateUnloading: true},
}

func canTransition(from, to State) bool {
	return legalTransitions[from][to]
}

// Context is the per-unit capability bundle passed once at load time; its
// lifetime equals the unit container's.
type Context struct {
	UnitID  string
	DataDir string
	Logger  logging.Logger
	Config  *config.Store
	Sched   *scheduler.Scheduler
	Metrics *metrics.Registry
	Manager *Manager
}

// Unit is the entry-point contract every loaded package must implement.
type Unit interface {
	OnLoad(ctx Context) error
	OnEnable() error
	OnDisable() error
}

// Reloadable is implemented by units that support reload() without a full
// unload/load cycle.
type Reloadable interface {
	OnReload() error
}

// Container wraps a loaded unit instance together with its descriptor and
// current lifecycle state.
type Container struct {
	Descriptor Descriptor
	Instance   Unit
	context    Context
	state      State
	closer     func() error // closes the isolated code-loading scope
}

func (c *Container) transition(to State) error {
	if !canTransition(c.state, to) {
		return fmt.Errorf("unit %s: illegal transition %s -> %s", c.Descriptor.ID, c.state, to)
	}
	c.state = to
	return nil
}

// State returns the container's current lifecycle state.
func (c *Container) State() State { return c.state }
