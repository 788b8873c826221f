package plugin

import (
	"errors"
	"testing"
)

type fakeUnit struct {
	onEnableErr  error
	onDisableErr error
	enabled      int
	disabled     int
	reloaded     int
}

func (f *fakeUnit) OnLoad(Context) error { return nil }
func (f *fakeUnit) OnEnable() error {
	f.enabled++
	return f.onEnableErr
}
func (f *fakeUnit) OnDisable() error {
	f.disabled++
	return f.onDisableErr
}

type reloadableFakeUnit struct {
	fakeUnit
}

func (f *reloadableFakeUnit) OnReload() error {
	f.reloaded++
	return nil
}

func newLoadedManager(id string, unit Unit) (*Manager, *Container) {
	m := NewManager(ManagerDeps{})
	c := &Container{Descriptor: Descriptor{ID: id}, Instance: unit, state: StateLoaded}
	m.containers[id] = c
	m.loadOrder = append(m.loadOrder, id)
	return m, c
}

// installLoaded adds an additional container to an existing manager,
// appending to loadOrder the same way Load does.
func installLoaded(m *Manager, id string, unit Unit, deps []string, state State) *Container {
	c := &Container{Descriptor: Descriptor{ID: id, HardDeps: deps}, Instance: unit, state: state}
	m.containers[id] = c
	m.loadOrder = append(m.loadOrder, id)
	return c
}

func TestEnableThenDisableTransitions(t *testing.T) {
	u := &fakeUnit{}
	m, _ := newLoadedManager("a", u)

	if err := m.Enable("a"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if !m.IsEnabled("a") {
		t.Fatal("expected unit to be enabled")
	}
	if err := m.Disable("a"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if m.IsEnabled("a") {
		t.Fatal("expected unit to no longer be enabled")
	}
	state, ok := m.State("a")
	if !ok || state != StateDisabled {
		t.Fatalf("expected state disabled, got %v", state)
	}
}

func TestEnableFailureTransitionsToFailed(t *testing.T) {
	u := &fakeUnit{onEnableErr: errors.New("boom")}
	m, _ := newLoadedManager("a", u)

	if err := m.Enable("a"); err == nil {
		t.Fatal("expected enable error to propagate")
	}
	state, _ := m.State("a")
	if state != StateFailed {
		t.Fatalf("expected state failed, got %v", state)
	}
}

func TestDisableIsBestEffortDespiteError(t *testing.T) {
	u := &fakeUnit{onDisableErr: errors.New("cleanup failed")}
	m, c := newLoadedManager("a", u)
	c.state = StateEnabled

	if err := m.Disable("a"); err != nil {
		t.Fatalf("disable must end Disabled even if OnDisable errors: %v", err)
	}
	state, _ := m.State("a")
	if state != StateDisabled {
		t.Fatalf("expected disabled despite OnDisable error, got %v", state)
	}
}

func TestUnloadRemovesContainer(t *testing.T) {
	u := &fakeUnit{}
	m, c := newLoadedManager("a", u)
	c.state = StateEnabled

	if err := m.Unload("a"); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if m.IsLoaded("a") {
		t.Fatal("expected container removed after unload")
	}
	if u.disabled != 1 {
		t.Fatalf("expected OnDisable called once during unload of an active unit, got %d", u.disabled)
	}
}

func TestReloadRequiresReloadableInterface(t *testing.T) {
	u := &fakeUnit{}
	m, _ := newLoadedManager("a", u)
	if err := m.Reload("a"); err == nil {
		t.Fatal("expected error: unit does not implement Reloadable")
	}

	ru := &reloadableFakeUnit{}
	m2, _ := newLoadedManager("b", ru)
	if err := m2.Reload("b"); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if ru.reloaded != 1 {
		t.Fatalf("expected OnReload invoked once, got %d", ru.reloaded)
	}
}

func TestLoadRejectsMissingHardDependency(t *testing.T) {
	m := NewManager(ManagerDeps{ModulesDir: t.TempDir()})
	err := m.Load(Descriptor{ID: "b", HardDeps: []string{"a"}})
	if err == nil {
		t.Fatal("expected load to fail: hard dependency a is not loaded")
	}
}

func TestNonCascadingDisable(t *testing.T) {
	// B depends on A but the manager does not cascade A's disable onto B
	// (documented §9 contract decision): B simply stays whatever state it
	// was already in.
	a := &fakeUnit{}
	b := &fakeUnit{}
	m, _ := newLoadedManager("a", a)
	m.containers["b"] = &Container{Descriptor: Descriptor{ID: "b", HardDeps: []string{"a"}}, Instance: b, state: StateEnabled}

	m.containers["a"].state = StateEnabled
	if err := m.Disable("a"); err != nil {
		t.Fatalf("disable a: %v", err)
	}
	state, _ := m.State("b")
	if state != StateEnabled {
		t.Fatalf("expected dependent b to remain Enabled (non-cascading), got %v", state)
	}
}

// recordingUnit appends its own id to a shared slice from OnDisable, so
// tests can observe the order Unload visits containers in.
type recordingUnit struct {
	fakeUnit
	id    string
	order *[]string
}

func (f *recordingUnit) OnDisable() error {
	*f.order = append(*f.order, f.id)
	return f.fakeUnit.OnDisable()
}

func TestUnloadAllReversesLoadOrder(t *testing.T) {
	// B hard-depends on A, so Load order is [a, b]; UnloadAll must unload
	// b before a (reverse load order), not an arbitrary map order.
	var order []string
	a := &recordingUnit{id: "a", order: &order}
	b := &recordingUnit{id: "b", order: &order}
	m, _ := newLoadedManager("a", a)
	installLoaded(m, "b", b, []string{"a"}, StateEnabled)
	m.containers["a"].state = StateEnabled

	if errs := m.UnloadAll(); len(errs) != 0 {
		t.Fatalf("expected UnloadAll to succeed for both units, got %+v", errs)
	}
	if len(m.List()) != 0 {
		t.Fatalf("expected UnloadAll to remove every container, got %+v", m.List())
	}
	if len(order) != 2 || order[0] != "b" || order[1] != "a" {
		t.Fatalf("expected unload order [b a], got %+v", order)
	}
}

func TestListAndGet(t *testing.T) {
	u := &fakeUnit{}
	m, _ := newLoadedManager("a", u)
	if got, ok := m.Get("a"); !ok || got != u {
		t.Fatal("expected Get to return the loaded instance")
	}
	if list := m.List(); len(list) != 1 || list[0] != "a" {
		t.Fatalf("expected List to report [a], got %+v", list)
	}
}
