package pcocc

import "fmt"

// EthernetDriver handles both ethernet variants. On an L3 network each VM
// gets a tap behind NAT, optionally with one host port forwarded to a fixed
// guest port. On an L2 network VMs share a private fabric and only need a
// deterministic device name.
type EthernetDriver struct {
	network   *Network
	allocator *ResourceAllocator
	ctx       *Context
}

// Network returns the definition this driver serves
func (d *EthernetDriver) Network() *Network {
	return d.network
}

// Reserve takes the per-VM resources of the network and returns a binding
// holding them
func (d *EthernetDriver) Reserve(alloc *Allocation, vm *VM) (*NetworkBinding, error) {
	settings := d.network.Ethernet
	binding := newBinding(d.network, alloc, vm)

	switch settings.Layer {
	case LayerL3:
		if rnat := settings.ReverseNAT; rnat != nil {
			port, err := d.allocator.ReservePort(d.network.Name, rnat, alloc.ID, vm.ID)
			if err != nil {
				return nil, err
			}
			binding.HostPort = port
			binding.VMPort = rnat.VMPort
			// The tap name follows the port slot so it stays stable for as
			// long as the port is held
			binding.TapDevice = fmt.Sprintf("%s%d", settings.DevPrefix, port-rnat.MinHostPort)
			if err := d.ctx.SetRNatPort(vm.ID, rnat.VMPort, port); err != nil {
				d.allocator.ReleasePort(port)
				return nil, err
			}
		} else {
			binding.TapDevice = fmt.Sprintf("%s%d", settings.DevPrefix, vm.Rank)
		}
	case LayerL2:
		binding.TapDevice = l2DeviceName(settings.DevPrefix, alloc.ID, vm.Rank)
	}

	binding.markReserved()
	return binding, nil
}

// Release returns the binding's resources. Calling it again, or on a
// binding whose reservation never completed, does nothing.
func (d *EthernetDriver) Release(binding *NetworkBinding) error {
	if !binding.beginRelease() {
		return nil
	}
	if binding.HostPort != 0 {
		d.allocator.ReleasePort(binding.HostPort)
		if err := d.ctx.DeleteRNatPort(binding.VMID, binding.VMPort); err != nil {
			return err
		}
	}
	return nil
}

// l2DeviceName derives a per-VM device name from the allocation id and the
// VM's rank. Linux caps interface names at 15 bytes, so the allocation id is
// truncated first and then the prefix itself if it still does not fit. The
// rank suffix always survives so names stay unique within an allocation.
func l2DeviceName(prefix, allocationID string, rank int) string {
	suffix := fmt.Sprintf("-%d", rank)
	if len(prefix)+len(suffix) > 15 {
		prefix = prefix[:15-len(suffix)]
	}
	id := allocationID
	if max := 15 - len(prefix) - len(suffix); len(id) > max {
		id = id[:max]
	}
	return prefix + id + suffix
}
