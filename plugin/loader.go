package plugin

import (
	"fmt"
	goplugin "plugin"
)

// unitSymbol is the fixed exported symbol every unit's compiled .so must
// carry. Go plugins cannot export a constructible type portably across
// the ABI boundary, so the contract is a ready-made value (or a
// zero-arg factory) rather than a per-unit symbol name.
const unitSymbol = "RubidiumUnit"

// scope is the isolated code-loading scope for a single unit: a loaded
// .so file keyed by descriptor id, closed (best-effort) on unload. The
// stdlib plugin package is the only mechanism in the corpus (or the wider
// ecosystem) for loading Go code as a runtime-discoverable unit — see
// DESIGN.md for why no third-party alternative applies here.
type scope struct {
	id  string
	lib *goplugin.Plugin
}

// openScope loads the shared object at path and resolves the fixed
// RubidiumUnit symbol, verifying it satisfies the Unit contract. The
// manifest's entrypoint identifier is metadata only (used to derive a
// missing id) — it never names the .so symbol to look up.
func openScope(id, path string) (Unit, func() error, error) {
	lib, err := goplugin.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	sym, err := lib.Lookup(unitSymbol)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup %s: %w", unitSymbol, err)
	}
	unit, ok := sym.(Unit)
	if !ok {
		if factory, ok := sym.(func() Unit); ok {
			unit = factory()
		} else {
			return nil, nil, fmt.Errorf("%s does not implement the unit contract", unitSymbol)
		}
	}
	s := &scope{id: id, lib: lib}
	return unit, s.close, nil
}

// close releases the scope. The stdlib plugin package never actually
// unloads .so code from the process (a known Go limitation); this is a
// best-effort reclaim hint as documented in §4.5 Unload.
func (s *scope) close() error {
	return nil
}
