package pcocc

// HostInfinibandDriver passes the host InfiniBand device straight through,
// without partition isolation. There is no per-VM resource to pool, so
// reserve and release only drive the binding's state.
type HostInfinibandDriver struct {
	network *Network
}

// Network returns the definition this driver serves
func (d *HostInfinibandDriver) Network() *Network {
	return d.network
}

// Reserve hands the VM the host device
func (d *HostInfinibandDriver) Reserve(alloc *Allocation, vm *VM) (*NetworkBinding, error) {
	binding := newBinding(d.network, alloc, vm)
	binding.HostDevice = d.network.HostInfiniband.HostDevice
	binding.markReserved()
	return binding, nil
}

// Release releases the binding
func (d *HostInfinibandDriver) Release(binding *NetworkBinding) error {
	binding.beginRelease()
	return nil
}

// BridgedDriver attaches VMs to a pre-existing host bridge through per-VM
// tap devices named after the allocation
type BridgedDriver struct {
	network *Network
}

// Network returns the definition this driver serves
func (d *BridgedDriver) Network() *Network {
	return d.network
}

// Reserve derives the VM's tap name and records the target bridge
func (d *BridgedDriver) Reserve(alloc *Allocation, vm *VM) (*NetworkBinding, error) {
	binding := newBinding(d.network, alloc, vm)
	binding.HostBridge = d.network.Bridged.HostBridge
	binding.TapDevice = l2DeviceName(d.network.Bridged.TapPrefix, alloc.ID, vm.Rank)
	binding.markReserved()
	return binding, nil
}

// Release releases the binding
func (d *BridgedDriver) Release(binding *NetworkBinding) error {
	binding.beginRelease()
	return nil
}
