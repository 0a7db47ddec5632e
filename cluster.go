package pcocc

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// ShutdownState tracks one VM through the graceful teardown machine
type ShutdownState int

// Shutdown states. ForceReleased is the terminal state reached from both
// the cooperative and the timeout path.
const (
	ShutdownRequested ShutdownState = iota
	GuestAcked
	TimeoutExpired
	ForceReleased
)

var shutdownStates = map[ShutdownState]string{
	ShutdownRequested: "requested",
	GuestAcked:        "acked",
	TimeoutExpired:    "timeout",
	ForceReleased:     "released",
}

func (s ShutdownState) String() string {
	return shutdownStates[s]
}

// DefaultShutdownTimeout bounds how long teardown waits for a guest to
// acknowledge a shutdown request before forcing it off
const DefaultShutdownTimeout = 2 * time.Minute

// Lifecycle instantiates and tears down clusters. It ties the resolver, the
// network drivers, the resource pools and the hypervisor agent together and
// guarantees that a failed instantiation leaves no resource behind.
type Lifecycle struct {
	resolver        *Resolver
	registry        *DriverRegistry
	allocator       *ResourceAllocator
	ctx             *Context
	agent           Agenter
	rsets           ResourceSetProvider
	shutdownTimeout time.Duration
}

// NewLifecycle wires a lifecycle from its collaborators
func NewLifecycle(resolver *Resolver, registry *DriverRegistry, allocator *ResourceAllocator, ctx *Context, agent Agenter, rsets ResourceSetProvider) *Lifecycle {
	return &Lifecycle{
		resolver:        resolver,
		registry:        registry,
		allocator:       allocator,
		ctx:             ctx,
		agent:           agent,
		rsets:           rsets,
		shutdownTimeout: DefaultShutdownTimeout,
	}
}

// SetShutdownTimeout overrides the graceful shutdown bound
func (l *Lifecycle) SetShutdownTimeout(d time.Duration) {
	l.shutdownTimeout = d
}

// Instantiate resolves a template, reserves every resource its VMs need and
// launches count guests. On any failure everything reserved so far is
// released and the error is returned untouched.
func (l *Lifecycle) Instantiate(templateName string, scope Scope, count int) (*Allocation, error) {
	template, err := l.resolver.Resolve(templateName, scope)
	if err != nil {
		return nil, err
	}
	rset, err := l.rsets.ResourceSet(template.ResourceSet)
	if err != nil {
		return nil, err
	}

	alloc := NewAllocation(templateName)
	for rank := 0; rank < count; rank++ {
		vm := &VM{
			ID:       fmt.Sprintf("%s-%d", alloc.ID, rank),
			Rank:     rank,
			Name:     fmt.Sprintf("%s%d", templateName, rank),
			Networks: rset.Networks,
		}
		alloc.addVM(vm)

		if err := l.provision(alloc, vm, template); err != nil {
			l.rollback(alloc)
			return nil, err
		}
	}

	if err := l.ctx.SaveAllocation(alloc); err != nil {
		l.rollback(alloc)
		return nil, err
	}
	return alloc, nil
}

// provision reserves the resources of one VM and launches it
func (l *Lifecycle) provision(alloc *Allocation, vm *VM, template *Template) error {
	for _, name := range vm.Networks {
		driver, err := l.registry.Driver(name)
		if err != nil {
			return err
		}
		binding, err := driver.Reserve(alloc, vm)
		if err != nil {
			return err
		}
		alloc.addBinding(binding)
	}

	for _, drive := range template.PersistentDrives {
		drvLock, err := l.allocator.AcquireDrive(drive, alloc.ID, vm.ID)
		if err != nil {
			return err
		}
		alloc.addDriveLock(drvLock)
	}

	bindings := alloc.VMBindings(vm.ID)
	if err := l.agent.Launch(vm, template, bindings); err != nil {
		return err
	}
	for _, binding := range bindings {
		if err := binding.MarkAttached(); err != nil {
			return err
		}
	}

	log.WithFields(log.Fields{
		"allocation": alloc.ID,
		"vm":         vm.ID,
		"template":   template.Name,
	}).Info("vm launched")
	return nil
}

// Teardown stops every VM of an allocation and releases its resources. VMs
// holding persistent drive locks get a bounded graceful shutdown first; the
// rest are stopped immediately.
func (l *Lifecycle) Teardown(alloc *Allocation) error {
	for _, vm := range alloc.VMs {
		if alloc.holdsDrives(vm.ID) {
			state := l.gracefulShutdown(vm)
			log.WithFields(log.Fields{
				"allocation": alloc.ID,
				"vm":         vm.ID,
				"shutdown":   state.String(),
			}).Info("vm stopped")
		} else if err := l.agent.ForceStop(vm); err != nil {
			log.WithFields(log.Fields{
				"allocation": alloc.ID,
				"vm":         vm.ID,
				"error":      err,
			}).Error("force stop failed")
		}
	}

	l.rollback(alloc)
	return l.ctx.DeleteAllocation(alloc.ID)
}

// gracefulShutdown runs the bounded-wait machine for one VM. It always ends
// in ForceReleased: either the guest acknowledged in time or the timer
// expired and the guest was forced off.
func (l *Lifecycle) gracefulShutdown(vm *VM) ShutdownState {
	state := ShutdownRequested

	acked := make(chan error, 1)
	go func() {
		acked <- l.agent.Shutdown(vm)
	}()

	timer := time.NewTimer(l.shutdownTimeout)
	defer timer.Stop()

	select {
	case err := <-acked:
		if err == nil {
			state = GuestAcked
		} else {
			state = TimeoutExpired
		}
	case <-timer.C:
		state = TimeoutExpired
	}

	if state == TimeoutExpired {
		if err := l.agent.ForceStop(vm); err != nil {
			log.WithFields(log.Fields{
				"vm":    vm.ID,
				"error": err,
			}).Error("force stop failed")
		}
	}
	log.WithFields(log.Fields{
		"vm":   vm.ID,
		"path": state.String(),
	}).Debug("shutdown complete")
	return ForceReleased
}

// rollback releases every reservation of an allocation. Bindings already
// released are skipped by the drivers, so calling it again is safe.
func (l *Lifecycle) rollback(alloc *Allocation) {
	for _, binding := range alloc.Bindings {
		driver, err := l.registry.Driver(binding.Network)
		if err != nil {
			continue
		}
		if err := driver.Release(binding); err != nil {
			log.WithFields(log.Fields{
				"allocation": alloc.ID,
				"network":    binding.Network,
				"error":      err,
			}).Error("binding release failed")
		}
	}
	for _, drvLock := range alloc.DriveLocks {
		l.allocator.ReleaseDrive(drvLock)
	}
	l.allocator.ReleaseAllocation(alloc.ID)
}
