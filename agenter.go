package pcocc

import "fmt"

// Agenter is the hypervisor-side collaborator that actually launches and
// stops guests. The lifecycle only drives it; implementations talk to qemu
// or a remote agent.
type Agenter interface {
	// Launch starts a guest with the template's settings and the network
	// bindings reserved for it
	Launch(vm *VM, template *Template, bindings []*NetworkBinding) error
	// Shutdown asks the guest to stop and returns once it acknowledges
	Shutdown(vm *VM) error
	// ForceStop kills the guest without cooperation
	ForceStop(vm *VM) error
}

// ResourceSet describes the compute resources and the network set a
// template's VMs run with
type ResourceSet struct {
	Name     string   `json:"name"`
	Cores    int      `json:"cores"`
	MemoryMB int      `json:"memory-mb"`
	Networks []string `json:"networks"`
}

// ResourceSetProvider resolves the resource set named by a template. The
// batch scheduler integration implements it.
type ResourceSetProvider interface {
	ResourceSet(name string) (*ResourceSet, error)
}

// NullAgenter is an Agenter that does nothing and always succeeds. Useful
// for dry runs where only the resource bookkeeping matters.
type NullAgenter struct{}

// Launch does nothing
func (NullAgenter) Launch(vm *VM, template *Template, bindings []*NetworkBinding) error {
	return nil
}

// Shutdown does nothing
func (NullAgenter) Shutdown(vm *VM) error { return nil }

// ForceStop does nothing
func (NullAgenter) ForceStop(vm *VM) error { return nil }

// StaticResourceSets is a ResourceSetProvider backed by a fixed map, enough
// for standalone use and tests
type StaticResourceSets map[string]*ResourceSet

// ResourceSet looks the set up by name
func (s StaticResourceSets) ResourceSet(name string) (*ResourceSet, error) {
	rset, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("resource set %q is not defined", name)
	}
	return rset, nil
}
