package pcocc

// GenericPCIDriver passes a fixed set of host PCI devices through to VMs,
// one device per VM. The device set is declared in the network definition
// and never grows at runtime.
type GenericPCIDriver struct {
	network   *Network
	allocator *ResourceAllocator
}

// Network returns the definition this driver serves
func (d *GenericPCIDriver) Network() *Network {
	return d.network
}

// Reserve binds one free device of the network's set to the VM
func (d *GenericPCIDriver) Reserve(alloc *Allocation, vm *VM) (*NetworkBinding, error) {
	addrs, err := d.allocator.ReservePCI(d.network, 1, alloc.ID, vm.ID)
	if err != nil {
		return nil, err
	}
	binding := newBinding(d.network, alloc, vm)
	binding.PCIAddrs = addrs
	binding.markReserved()
	return binding, nil
}

// Release returns the VM's devices to the pool
func (d *GenericPCIDriver) Release(binding *NetworkBinding) error {
	if !binding.beginRelease() {
		return nil
	}
	d.allocator.ReleasePCI(d.network.Name, binding.PCIAddrs)
	return nil
}
