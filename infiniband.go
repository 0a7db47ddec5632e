package pcocc

import (
	"fmt"
	"os"
	"sort"

	"github.com/degremont/pcocc/pkg/lock"
)

// ibLockKey serializes partition key reservation and publication across
// every node of the cluster
const ibLockKey = "pcocc/opensm/lock"

// InfinibandDriver isolates each allocation behind an SR-IOV partition key.
// All VMs of an allocation on the same network share one key; the key is
// published to the kv store for the subnet manager daemon to pick up.
type InfinibandDriver struct {
	network   *Network
	allocator *ResourceAllocator
	ctx       *Context
}

// Network returns the definition this driver serves
func (d *InfinibandDriver) Network() *Network {
	return d.network
}

// Reserve assigns the allocation's partition key to the VM and records its
// virtual function GUID in the published entry. Key selection and entry
// publication happen under a cluster-wide lock so the entry is never seen
// half written.
func (d *InfinibandDriver) Reserve(alloc *Allocation, vm *VM) (*NetworkBinding, error) {
	binding := newBinding(d.network, alloc, vm)
	binding.HostDevice = d.network.Infiniband.HostDevice

	holder := fmt.Sprintf("%s:%s", hostname(), alloc.ID)
	l, err := lock.Acquire(d.ctx.KV(), ibLockKey, holder, true)
	if err != nil {
		return nil, err
	}
	defer l.Release()

	shared := false
	pkey, ok := alloc.pkeyFor(d.network.Name)
	if ok {
		// Another VM of this allocation already holds the key; bump the
		// refcount so release bookkeeping stays symmetric
		if _, err := d.allocator.ReservePKey(d.network, alloc.ID); err != nil {
			return nil, err
		}
		shared = true
	} else {
		pkey, err = d.allocator.ReservePKey(d.network, alloc.ID)
		if err != nil {
			return nil, err
		}
	}
	binding.PKey = pkey

	guid := vfGUID(pkey, vm.Rank)
	binding.GUID = guid
	if shared {
		entry, err := d.ctx.PKeyEntry(pkey)
		if err == nil {
			entry.VFGUIDs = append(entry.VFGUIDs, guid)
			err = d.ctx.SetPKeyEntry(pkey, entry)
		}
		if err != nil {
			d.allocator.ReleasePKey(d.network.Name, pkey)
			return nil, &SubnetManagerConfigWriteError{Network: d.network.Name, Err: err}
		}
	} else {
		entry := &PKeyEntry{VFGUIDs: []string{guid}}
		if err := d.ctx.CreatePKeyEntry(pkey, entry); err != nil {
			d.allocator.ReleasePKey(d.network.Name, pkey)
			return nil, &SubnetManagerConfigWriteError{Network: d.network.Name, Err: err}
		}
	}

	binding.markReserved()
	return binding, nil
}

// Release drops the VM's share of the partition key and removes the
// published entry once the last VM of the allocation lets go
func (d *InfinibandDriver) Release(binding *NetworkBinding) error {
	if !binding.beginRelease() {
		return nil
	}

	holder := fmt.Sprintf("%s:%s", hostname(), binding.AllocationID)
	l, err := lock.Acquire(d.ctx.KV(), ibLockKey, holder, true)
	if err != nil {
		return err
	}
	defer l.Release()

	if !d.allocator.ReleasePKey(d.network.Name, binding.PKey) {
		// Other VMs still hold the key; just drop this VM's guid
		entry, err := d.ctx.PKeyEntry(binding.PKey)
		if err != nil {
			if d.ctx.IsKeyNotFound(err) {
				return nil
			}
			return err
		}
		entry.VFGUIDs = removeGUID(entry.VFGUIDs, binding.GUID)
		return d.ctx.SetPKeyEntry(binding.PKey, entry)
	}
	return d.ctx.DeletePKeyEntry(binding.PKey)
}

// Licenses returns the batch scheduler licenses an allocation using this
// network must hold
func (d *InfinibandDriver) Licenses() []string {
	if d.network.Infiniband.License == "" {
		return nil
	}
	return []string{d.network.Infiniband.License}
}

// vfGUID derives the GUID the VM's virtual function is configured with. It
// encodes the partition key and the VM rank under a fixed prefix so GUIDs
// are unique within the fabric and stable across restarts.
func vfGUID(pkey uint16, rank int) string {
	return fmt.Sprintf("0xc0cc%04x%08x", pkey, rank)
}

func removeGUID(guids []string, guid string) []string {
	var kept []string
	for _, g := range guids {
		if g == guid {
			continue
		}
		kept = append(kept, g)
	}
	sort.Strings(kept)
	return kept
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}
