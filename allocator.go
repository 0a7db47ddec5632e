package pcocc

import (
	"sync"

	"github.com/pborman/uuid"
)

// DriveLock records one attachment of a persistent drive. Locks with mode
// "no" are untracked and exist only so callers can release uniformly.
type DriveLock struct {
	ID           string  `json:"id"`
	Path         string  `json:"path"`
	Mode         MMPMode `json:"mmp"`
	AllocationID string  `json:"allocation"`
	VMID         string  `json:"vm"`

	released bool
}

type portLease struct {
	network      string
	allocationID string
	vmID         string
	vmPort       int
}

type pkeyLease struct {
	allocationID string
	refs         int
}

type pciLease struct {
	allocationID string
	vmID         string
}

// ResourceAllocator owns the node-local resource pools: the host port table,
// per-network partition key and PCI device pools, and the persistent drive
// lock table. Each pool is guarded by its own mutex so reservations on
// unrelated pools never contend.
type ResourceAllocator struct {
	portMu sync.Mutex
	ports  map[int]*portLease

	pkeyMu sync.Mutex
	pkeys  map[string]map[uint16]*pkeyLease

	pciMu sync.Mutex
	pci   map[string]map[string]*pciLease

	driveMu sync.Mutex
	drives  map[string][]*DriveLock
}

// NewResourceAllocator creates an allocator with empty pools
func NewResourceAllocator() *ResourceAllocator {
	return &ResourceAllocator{
		ports:  make(map[int]*portLease),
		pkeys:  make(map[string]map[uint16]*pkeyLease),
		pci:    make(map[string]map[string]*pciLease),
		drives: make(map[string][]*DriveLock),
	}
}

// ReservePort takes the lowest free host port in the reverse NAT range.
// The port table is node-wide so two networks with overlapping ranges can
// never hand out the same port.
func (r *ResourceAllocator) ReservePort(network string, rnat *ReverseNAT, allocationID, vmID string) (int, error) {
	r.portMu.Lock()
	defer r.portMu.Unlock()
	for port := rnat.MinHostPort; port <= rnat.MaxHostPort; port++ {
		if _, held := r.ports[port]; held {
			continue
		}
		r.ports[port] = &portLease{
			network:      network,
			allocationID: allocationID,
			vmID:         vmID,
			vmPort:       rnat.VMPort,
		}
		return port, nil
	}
	return 0, &ResourceExhaustedError{Pool: network}
}

// ReleasePort returns a host port to the pool. Releasing a free port is a
// no-op.
func (r *ResourceAllocator) ReleasePort(port int) {
	r.portMu.Lock()
	delete(r.ports, port)
	r.portMu.Unlock()
}

// ReservePKey takes the lowest free partition key of a network's range for
// an allocation. Reserving again for the same allocation returns the key it
// already holds; the key is freed once every reservation is released.
func (r *ResourceAllocator) ReservePKey(network *Network, allocationID string) (uint16, error) {
	min, max := network.Infiniband.PKeyRange()

	r.pkeyMu.Lock()
	defer r.pkeyMu.Unlock()
	pool, ok := r.pkeys[network.Name]
	if !ok {
		pool = make(map[uint16]*pkeyLease)
		r.pkeys[network.Name] = pool
	}
	for pkey, lease := range pool {
		if lease.allocationID == allocationID {
			lease.refs++
			return pkey, nil
		}
	}
	// Scan with an int so a range ending at 0xffff terminates instead of
	// wrapping the uint16 below min
	for p := int(min); p <= int(max); p++ {
		pkey := uint16(p)
		if _, held := pool[pkey]; held {
			continue
		}
		pool[pkey] = &pkeyLease{allocationID: allocationID, refs: 1}
		return pkey, nil
	}
	return 0, &ResourceExhaustedError{Pool: network.Name}
}

// ReleasePKey drops one reservation of a partition key. It reports whether
// the key became free, which is when its published record must be removed.
func (r *ResourceAllocator) ReleasePKey(network string, pkey uint16) bool {
	r.pkeyMu.Lock()
	defer r.pkeyMu.Unlock()
	pool := r.pkeys[network]
	lease, held := pool[pkey]
	if !held {
		return false
	}
	lease.refs--
	if lease.refs > 0 {
		return false
	}
	delete(pool, pkey)
	return true
}

// ReservePCI binds count free devices of a network's fixed address set to a
// VM. Either all count devices are bound or none are.
func (r *ResourceAllocator) ReservePCI(network *Network, count int, allocationID, vmID string) ([]string, error) {
	if count < 1 {
		count = 1
	}

	r.pciMu.Lock()
	defer r.pciMu.Unlock()
	pool, ok := r.pci[network.Name]
	if !ok {
		pool = make(map[string]*pciLease)
		r.pci[network.Name] = pool
	}
	var addrs []string
	for _, addr := range network.GenericPCI.HostDeviceAddrs {
		if _, held := pool[addr]; held {
			continue
		}
		addrs = append(addrs, addr)
		if len(addrs) == count {
			break
		}
	}
	if len(addrs) < count {
		return nil, &ResourceExhaustedError{Pool: network.Name}
	}
	for _, addr := range addrs {
		pool[addr] = &pciLease{allocationID: allocationID, vmID: vmID}
	}
	return addrs, nil
}

// ReleasePCI returns devices to a network's pool
func (r *ResourceAllocator) ReleasePCI(network string, addrs []string) {
	r.pciMu.Lock()
	pool := r.pci[network]
	for _, addr := range addrs {
		delete(pool, addr)
	}
	r.pciMu.Unlock()
}

// AcquireDrive takes a multi-mount protection lock on a persistent drive.
// Mode "yes" admits a single attachment, "cluster" admits attachments from
// one allocation only, "no" performs no tracking at all.
func (r *ResourceAllocator) AcquireDrive(drive PersistentDrive, allocationID, vmID string) (*DriveLock, error) {
	lock := &DriveLock{
		ID:           uuid.New(),
		Path:         drive.Path,
		Mode:         drive.MMP,
		AllocationID: allocationID,
		VMID:         vmID,
	}
	if drive.MMP == MMPNo {
		return lock, nil
	}

	r.driveMu.Lock()
	defer r.driveMu.Unlock()
	held := r.drives[drive.Path]
	switch drive.MMP {
	case MMPYes:
		if len(held) > 0 {
			return nil, &DriveAlreadyAttachedError{Path: drive.Path}
		}
	case MMPCluster:
		for _, other := range held {
			if other.AllocationID != allocationID {
				return nil, &DriveAlreadyAttachedError{Path: drive.Path}
			}
		}
	}
	r.drives[drive.Path] = append(held, lock)
	return lock, nil
}

// ReleaseDrive drops a drive lock. Safe to call more than once.
func (r *ResourceAllocator) ReleaseDrive(lock *DriveLock) {
	if lock.Mode == MMPNo {
		return
	}

	r.driveMu.Lock()
	defer r.driveMu.Unlock()
	if lock.released {
		return
	}
	lock.released = true
	held := r.drives[lock.Path]
	for i, other := range held {
		if other.ID == lock.ID {
			r.drives[lock.Path] = append(held[:i], held[i+1:]...)
			break
		}
	}
	if len(r.drives[lock.Path]) == 0 {
		delete(r.drives, lock.Path)
	}
}

// ReleaseAllocation sweeps every pool and frees whatever an allocation still
// holds. It is the rollback primitive: after a partial failure it returns
// exactly the units that were reserved and nothing else.
func (r *ResourceAllocator) ReleaseAllocation(allocationID string) {
	r.portMu.Lock()
	for port, lease := range r.ports {
		if lease.allocationID == allocationID {
			delete(r.ports, port)
		}
	}
	r.portMu.Unlock()

	r.pkeyMu.Lock()
	for _, pool := range r.pkeys {
		for pkey, lease := range pool {
			if lease.allocationID == allocationID {
				delete(pool, pkey)
			}
		}
	}
	r.pkeyMu.Unlock()

	r.pciMu.Lock()
	for _, pool := range r.pci {
		for addr, lease := range pool {
			if lease.allocationID == allocationID {
				delete(pool, addr)
			}
		}
	}
	r.pciMu.Unlock()

	r.driveMu.Lock()
	for path, held := range r.drives {
		var kept []*DriveLock
		for _, lock := range held {
			if lock.AllocationID == allocationID {
				lock.released = true
				continue
			}
			kept = append(kept, lock)
		}
		if len(kept) == 0 {
			delete(r.drives, path)
		} else {
			r.drives[path] = kept
		}
	}
	r.driveMu.Unlock()
}
