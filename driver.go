package pcocc

import "fmt"

// NetworkDriver reserves and releases per-VM network resources for one
// configured network. Reserve returns a binding in the Reserved state;
// Release is idempotent and returns bindings in any state to the pools.
type NetworkDriver interface {
	Network() *Network
	Reserve(alloc *Allocation, vm *VM) (*NetworkBinding, error)
	Release(binding *NetworkBinding) error
}

// DriverRegistry maps configured network names to their drivers. The set of
// drivers is fixed at construction from the loaded network definitions.
type DriverRegistry struct {
	drivers map[string]NetworkDriver
}

// NewDriverRegistry builds a driver for every network in the store. Unknown
// type tags are rejected by Network.Validate before this point, but dispatch
// still fails loudly on one rather than instantiating a partial registry.
func NewDriverRegistry(store *ConfigStore, allocator *ResourceAllocator, ctx *Context) (*DriverRegistry, error) {
	registry := &DriverRegistry{drivers: make(map[string]NetworkDriver)}
	for _, network := range store.Networks() {
		driver, err := newDriver(network, allocator, ctx)
		if err != nil {
			return nil, err
		}
		registry.drivers[network.Name] = driver
	}
	return registry, nil
}

func newDriver(network *Network, allocator *ResourceAllocator, ctx *Context) (NetworkDriver, error) {
	switch network.Type {
	case NetworkEthernet:
		return &EthernetDriver{network: network, allocator: allocator, ctx: ctx}, nil
	case NetworkInfiniband:
		return &InfinibandDriver{network: network, allocator: allocator, ctx: ctx}, nil
	case NetworkGenericPCI:
		return &GenericPCIDriver{network: network, allocator: allocator}, nil
	case NetworkHostInfiniband:
		return &HostInfinibandDriver{network: network}, nil
	case NetworkBridgedEthernet:
		return &BridgedDriver{network: network}, nil
	}
	return nil, fmt.Errorf("network %q: no driver for type %q", network.Name, network.Type)
}

// Driver returns the driver for a named network
func (r *DriverRegistry) Driver(name string) (NetworkDriver, error) {
	driver, ok := r.drivers[name]
	if !ok {
		return nil, fmt.Errorf("network %q is not defined", name)
	}
	return driver, nil
}

// Networks returns the names of every registered network
func (r *DriverRegistry) Networks() []string {
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	return names
}
