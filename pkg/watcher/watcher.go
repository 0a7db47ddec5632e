// Package watcher multiplexes kv prefix watches behind an iterator, in the
// manner of bufio.Scanner.
package watcher

import (
	"errors"
	"sync"

	"github.com/degremont/pcocc/pkg/kv"
)

// ErrPrefixNotWatched is an error for attempts to remove an unwatched prefix
var ErrPrefixNotWatched = errors.New("prefix is not being watched")

// ErrStopped is an error for operations on a closed watcher
var ErrStopped = errors.New("watcher has been stopped")

// Watcher watches a set of kv prefixes and delivers events one at a time
type Watcher struct {
	kv     kv.KV
	events chan kv.Event
	errs   chan error
	err    error
	event  kv.Event

	mu       sync.Mutex // mu protects the following two vars
	isClosed bool
	prefixes map[string]chan struct{}
}

// New creates a Watcher over the given kv store
func New(store kv.KV) (*Watcher, error) {
	w := &Watcher{
		kv:       store,
		events:   make(chan kv.Event),
		errs:     make(chan error),
		prefixes: map[string]chan struct{}{},
	}
	return w, nil
}

// Add starts watching a prefix. Adding an already watched prefix is a no-op.
func (w *Watcher) Add(prefix string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isClosed {
		return ErrStopped
	}

	if _, ok := w.prefixes[prefix]; ok {
		return nil
	}

	stop := make(chan struct{})
	events, errs, err := w.kv.Watch(prefix, 0, stop)
	if err != nil {
		return err
	}

	w.prefixes[prefix] = stop
	go w.forward(events, errs, stop)
	return nil
}

// Next blocks until an event arrives on any watched prefix. It returns false
// when an error occurs; the error is available via Err.
func (w *Watcher) Next() bool {
	select {
	case event := <-w.events:
		w.event = event
		return true
	case err := <-w.errs:
		w.err = err
		return false
	}
}

// Event returns the event delivered by the last call to Next
func (w *Watcher) Event() kv.Event {
	return w.event
}

// Err returns the error that made Next return false
func (w *Watcher) Err() error {
	return w.err
}

// Remove stops watching a prefix
func (w *Watcher) Remove(prefix string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	stop, ok := w.prefixes[prefix]
	if !ok {
		return ErrPrefixNotWatched
	}

	close(stop)
	delete(w.prefixes, prefix)
	return nil
}

// Close stops watching all prefixes
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.isClosed = true

	for prefix, stop := range w.prefixes {
		close(stop)
		delete(w.prefixes, prefix)
	}

	return nil
}

func (w *Watcher) forward(events chan kv.Event, errs chan error, stop chan struct{}) {
	for {
		select {
		case event := <-events:
			select {
			case w.events <- event:
			case <-stop:
				return
			}
		case err := <-errs:
			select {
			case w.errs <- err:
			case <-stop:
			}
			return
		case <-stop:
			return
		}
	}
}
