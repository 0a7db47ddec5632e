// Package lock implements a coordination lock using the CAS semantics of the
// kv store. It serializes cross-node critical sections such as subnet
// manager partition updates.
package lock

import (
	"errors"
	"time"

	"github.com/degremont/pcocc/pkg/kv"
)

var (
	// ErrLockNotHeld signifies an attempt to operate on a released/lost lock
	ErrLockNotHeld = errors.New("lock not held")
)

// Lock is a lock backed by a kv key
type Lock struct {
	kv    kv.KV
	key   string
	value string
	index uint64
	held  bool
}

func acquire(store kv.KV, key, value string) (uint64, error) {
	return store.Update(key, kv.Value{Data: []byte(value), Index: 0})
}

// Acquire attempts to acquire the lock. If blocking is true it waits,
// polling on changes to the key, until the lock is obtained. With blocking
// set to false a held lock results in an immediate error.
func Acquire(store kv.KV, key, value string, blocking bool) (*Lock, error) {
	var index uint64
	var err error
	for {
		index, err = acquire(store, key, value)
		if err == nil {
			break
		}
		if !blocking {
			return nil, err
		}

		// Wait for the current holder to go away before retrying
		stop := make(chan struct{})
		events, errs, werr := store.Watch(key, 0, stop)
		if werr != nil {
			return nil, werr
		}
		// Recheck after the watch is established so a release between the
		// failed acquire and the watch is not missed
		if index, err = acquire(store, key, value); err == nil {
			close(stop)
			break
		}
		select {
		case <-events:
		case werr = <-errs:
			close(stop)
			return nil, werr
		case <-time.After(time.Second):
		}
		close(stop)
	}

	return &Lock{
		kv:    store,
		key:   key,
		value: value,
		index: index,
		held:  true,
	}, nil
}

// Refresh re-asserts the lock. An error is returned if the lock was lost.
func (l *Lock) Refresh() error {
	if !l.held {
		return ErrLockNotHeld
	}

	index, err := l.kv.Update(l.key, kv.Value{Data: []byte(l.value), Index: l.index})
	if err != nil {
		l.held = false
		return err
	}
	l.index = index
	return nil
}

// Release releases the lock and deletes the key
func (l *Lock) Release() error {
	if !l.held {
		return ErrLockNotHeld
	}
	l.held = false
	return l.kv.Remove(l.key, l.index)
}
