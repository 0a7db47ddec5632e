package pcocc

import (
	"sync"

	"github.com/pborman/uuid"
)

// VM is one virtual machine slot in an allocation. Rank is its position
// within the allocation and is stable for the allocation's lifetime.
type VM struct {
	ID       string   `json:"id"`
	Rank     int      `json:"rank"`
	Name     string   `json:"name"`
	Networks []string `json:"networks"`
}

// Allocation groups the VMs of one cluster instantiation together with
// every resource reservation made on their behalf. It is the unit of
// rollback: releasing an allocation returns all of it.
type Allocation struct {
	ID       string `json:"id"`
	Template string `json:"template"`
	User     string `json:"user,omitempty"`

	mu         sync.Mutex
	VMs        []*VM             `json:"vms"`
	Bindings   []*NetworkBinding `json:"bindings"`
	DriveLocks []*DriveLock      `json:"drive-locks"`
}

// NewAllocation creates an empty allocation for a resolved template
func NewAllocation(template string) *Allocation {
	return &Allocation{
		ID:       uuid.New(),
		Template: template,
	}
}

func (a *Allocation) addVM(vm *VM) {
	a.mu.Lock()
	a.VMs = append(a.VMs, vm)
	a.mu.Unlock()
}

func (a *Allocation) addBinding(b *NetworkBinding) {
	a.mu.Lock()
	a.Bindings = append(a.Bindings, b)
	a.mu.Unlock()
}

func (a *Allocation) addDriveLock(l *DriveLock) {
	a.mu.Lock()
	a.DriveLocks = append(a.DriveLocks, l)
	a.mu.Unlock()
}

// VMBindings returns the bindings that belong to one VM of the allocation
func (a *Allocation) VMBindings(vmID string) []*NetworkBinding {
	a.mu.Lock()
	defer a.mu.Unlock()
	var bindings []*NetworkBinding
	for _, b := range a.Bindings {
		if b.VMID == vmID {
			bindings = append(bindings, b)
		}
	}
	return bindings
}

// pkeyFor reports the partition key already reserved on a network by an
// earlier binding of this allocation, if any. Partition keys are shared by
// all VMs of an allocation on the same network.
func (a *Allocation) pkeyFor(network string) (uint16, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, b := range a.Bindings {
		if b.Network == network && b.State() != BindingReleased && b.PKey != 0 {
			return b.PKey, true
		}
	}
	return 0, false
}

// holdsDrives reports whether a VM of the allocation holds any persistent
// drive lock, which is what forces a graceful shutdown attempt
func (a *Allocation) holdsDrives(vmID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, l := range a.DriveLocks {
		if l.VMID == vmID && l.Mode != MMPNo {
			return true
		}
	}
	return false
}
