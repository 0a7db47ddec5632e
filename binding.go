package pcocc

import "sync"

// BindingState tracks a network binding through its lifecycle
type BindingState int

// Binding states. Released is terminal; a binding transitions through it
// exactly once even under failure.
const (
	BindingRequested BindingState = iota
	BindingReserved
	BindingAttached
	BindingReleased
)

var bindingStates = map[BindingState]string{
	BindingRequested: "requested",
	BindingReserved:  "reserved",
	BindingAttached:  "attached",
	BindingReleased:  "released",
}

func (s BindingState) String() string {
	return bindingStates[s]
}

// NetworkBinding is one VM's reservation on one network. The driver that
// created it owns the identifier fields; which ones are set depends on the
// network type.
type NetworkBinding struct {
	mu    sync.Mutex
	state BindingState

	Network      string      `json:"network"`
	Type         NetworkType `json:"type"`
	AllocationID string      `json:"allocation"`
	VMID         string      `json:"vm"`

	HostPort   int      `json:"host-port,omitempty"`
	VMPort     int      `json:"vm-port,omitempty"`
	TapDevice  string   `json:"tap-device,omitempty"`
	HostBridge string   `json:"host-bridge,omitempty"`
	HWAddr     string   `json:"hwaddr,omitempty"`
	PKey       uint16   `json:"pkey,omitempty"`
	GUID       string   `json:"guid,omitempty"`
	PCIAddrs   []string `json:"pci-addrs,omitempty"`
	HostDevice string   `json:"host-device,omitempty"`
}

func newBinding(network *Network, alloc *Allocation, vm *VM) *NetworkBinding {
	return &NetworkBinding{
		state:        BindingRequested,
		Network:      network.Name,
		Type:         network.Type,
		AllocationID: alloc.ID,
		VMID:         vm.ID,
	}
}

// State returns the current lifecycle state
func (b *NetworkBinding) State() BindingState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *NetworkBinding) markReserved() {
	b.mu.Lock()
	b.state = BindingReserved
	b.mu.Unlock()
}

// MarkAttached records that the VM is actually using the reservation
func (b *NetworkBinding) MarkAttached() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BindingReserved {
		return &BindingConflictError{Pool: b.Network, Unit: b.VMID}
	}
	b.state = BindingAttached
	return nil
}

// beginRelease transitions to Released and reports whether the caller is the
// one that performed the transition. A second release observes false and
// does nothing, which makes release idempotent.
func (b *NetworkBinding) beginRelease() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BindingReleased {
		return false
	}
	b.state = BindingReleased
	return true
}
