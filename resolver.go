package pcocc

import "sync"

// Resolver flattens template inheritance chains into standalone template
// records. Templates are immutable once loaded, so results are cached by
// (name, scope); resolution is a pure read over the store.
type Resolver struct {
	store *ConfigStore

	mu    sync.RWMutex
	cache map[string]*Template
}

// NewResolver creates a Resolver over a loaded ConfigStore
func NewResolver(store *ConfigStore) *Resolver {
	return &Resolver{
		store: store,
		cache: map[string]*Template{},
	}
}

func cacheKey(name string, scope Scope) string {
	return string(scope) + "/" + name
}

// Resolve walks the inherits chain of the named template and merges it into
// a single flattened record. It fails with CyclicInheritanceError on cycles,
// ScopeViolationError when a system template references a user parent, and
// MissingRequiredFieldError when the merged result lacks a resource-set.
func (r *Resolver) Resolve(name string, scope Scope) (*Template, error) {
	r.mu.RLock()
	cached, ok := r.cache[cacheKey(name, scope)]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	chain, err := r.chain(name, scope)
	if err != nil {
		return nil, err
	}

	// Merge least derived first so every derived definition overrides its
	// ancestors
	resolved := chain[len(chain)-1].clone()
	for i := len(chain) - 2; i >= 0; i-- {
		resolved.merge(chain[i])
	}

	head := chain[0]
	resolved.Name = head.Name
	resolved.Scope = head.Scope
	resolved.Inherits = head.Inherits
	// Description is never inherited; only the template's own definition
	// counts
	resolved.Description = head.Description

	if resolved.ResourceSet == "" {
		return nil, &MissingRequiredFieldError{Template: name, Field: "resource-set"}
	}

	r.mu.Lock()
	r.cache[cacheKey(name, scope)] = resolved
	r.mu.Unlock()

	return resolved, nil
}

// chain collects the inheritance chain from most derived to least derived,
// enforcing the scope crossing rule at every hop
func (r *Resolver) chain(name string, scope Scope) (Templates, error) {
	head := r.store.template(name, scope)
	if head == nil {
		return nil, &TemplateNotFoundError{Name: name, Scope: scope}
	}

	chain := Templates{head}
	visited := map[string]bool{cacheKey(head.Name, head.Scope): true}

	current := head
	for current.Inherits != "" {
		parentName := current.Inherits

		// A system template may only reference system templates; a user
		// template prefers its own scope and falls back to system
		parent := r.store.template(parentName, current.Scope)
		if parent == nil {
			if current.Scope == ScopeSystem && r.store.template(parentName, ScopeUser) != nil {
				return nil, &ScopeViolationError{Template: current.Name, Parent: parentName}
			}
			return nil, &TemplateNotFoundError{Name: parentName, Scope: current.Scope}
		}

		key := cacheKey(parent.Name, parent.Scope)
		if visited[key] {
			cycle := make([]string, 0, len(chain)+1)
			for _, tmpl := range chain {
				cycle = append(cycle, tmpl.Name)
			}
			cycle = append(cycle, parent.Name)
			return nil, &CyclicInheritanceError{Cycle: cycle}
		}
		visited[key] = true

		chain = append(chain, parent)
		current = parent
	}

	return chain, nil
}
