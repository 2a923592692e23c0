// dependency_resolver.go: resolves module references into load and unload orders
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

// Resolution is the outcome of resolving a set of module references.
type Resolution struct {
	// Targets holds the definitions selected for the requested references,
	// in request order.
	Targets []*ModuleDefinition

	// Closure is the full transitive closure in load order: every module
	// appears after all of its dependencies.
	Closure []*ModuleDefinition

	// Order is Closure without the modules that were already loaded when
	// the resolution was computed.
	Order []*ModuleDefinition
}

// UnloadOrder returns the exact reverse of Closure.
func (r *Resolution) UnloadOrder() []*ModuleDefinition {
	out := make([]*ModuleDefinition, len(r.Closure))
	for i, def := range r.Closure {
		out[len(r.Closure)-1-i] = def
	}
	return out
}

// DependencyResolver computes dependency closures against a registry.
//
// Version selection: a pinned reference must match a registered version
// exactly. A reference to any version selects the version of that id that
// is currently loaded, or the highest registered version when none is
// loaded. Within one closure every id resolves to a single version; a
// pinned reference that disagrees with that choice, or with a different
// loaded version, fails with ErrCodeVersionMismatch.
type DependencyResolver struct {
	registry *ModuleRegistry
	logger   Logger
}

// NewDependencyResolver creates a resolver over registry.
func NewDependencyResolver(registry *ModuleRegistry, logger Logger) *DependencyResolver {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &DependencyResolver{registry: registry, logger: logger}
}

// Resolve computes the load order for targets. Nothing is mutated.
func (r *DependencyResolver) Resolve(targets ...ModuleRef) (*Resolution, error) {
	w := r.newWalk(true)

	resolved := make([]*ModuleDefinition, 0, len(targets))
	for _, ref := range targets {
		def, err := w.selectRef(ref, nil)
		if err != nil {
			return nil, err
		}
		if err := w.visit(def); err != nil {
			return nil, err
		}
		resolved = append(resolved, def)
	}

	closure, err := w.graph.CalculateLoadOrder()
	if err != nil {
		r.logger.Warn("Dependency resolution failed", "error", err)
		return nil, err
	}

	order := make([]*ModuleDefinition, 0, len(closure))
	for _, def := range closure {
		if !def.Loaded() {
			order = append(order, def)
		}
	}

	return &Resolution{Targets: resolved, Closure: closure, Order: order}, nil
}

// Closure returns the transitive dependencies of root, excluding root, in
// discovery order. Cycles are tolerated since no load order is required;
// loaded versions of other ids are not treated as conflicts.
func (r *DependencyResolver) Closure(root *ModuleDefinition) ([]*ModuleDefinition, error) {
	w := r.newWalk(false)
	w.selected[root.id] = root
	if err := w.visit(root); err != nil {
		return nil, err
	}
	nodes := w.graph.Nodes()
	return nodes[1:], nil
}

func (r *DependencyResolver) newWalk(forLoad bool) *resolveWalk {
	return &resolveWalk{
		registry: r.registry,
		forLoad:  forLoad,
		selected: make(map[string]*ModuleDefinition),
		visited:  make(map[ModuleKey]bool),
		graph:    NewDependencyGraph(),
	}
}

type resolveWalk struct {
	registry *ModuleRegistry
	forLoad  bool
	selected map[string]*ModuleDefinition
	visited  map[ModuleKey]bool
	graph    *DependencyGraph
}

func (w *resolveWalk) visit(def *ModuleDefinition) error {
	if w.visited[def.Key()] {
		return nil
	}
	w.visited[def.Key()] = true
	w.graph.AddNode(def)

	for _, dep := range def.dependencies {
		child, err := w.selectRef(dep, def)
		if err != nil {
			return err
		}
		w.graph.AddEdge(def, child)
		if err := w.visit(child); err != nil {
			return err
		}
	}
	return nil
}

func (w *resolveWalk) selectRef(ref ModuleRef, requiredBy *ModuleDefinition) (*ModuleDefinition, error) {
	if sel, ok := w.selected[ref.ID]; ok {
		if ref.Pinned && sel.version != ref.Version {
			return nil, NewVersionMismatchError(ref, []uint32{sel.version}).
				WithContext("selected", sel.String())
		}
		return sel, nil
	}

	var loaded *ModuleDefinition
	if w.forLoad {
		loaded = w.registry.FindLoaded(ref.ID)
	}

	var def *ModuleDefinition
	if ref.Pinned {
		def = w.registry.Find(ref.ID, ref.Version)
		if def == nil {
			versions := w.registry.Versions(ref.ID)
			if len(versions) > 0 {
				return nil, NewVersionMismatchError(ref, versions)
			}
			return nil, NewUnresolvedDependencyError(ref, requiredByName(requiredBy))
		}
		if loaded != nil && loaded != def {
			return nil, NewVersionMismatchError(ref, []uint32{loaded.version}).
				WithContext("loaded", loaded.String())
		}
	} else {
		def = loaded
		if def == nil {
			def = w.registry.FindLatest(ref.ID)
		}
		if def == nil {
			return nil, NewUnresolvedDependencyError(ref, requiredByName(requiredBy))
		}
	}

	w.selected[ref.ID] = def
	return def, nil
}

func requiredByName(def *ModuleDefinition) string {
	if def == nil {
		return ""
	}
	return def.String()
}
