// Package mem is an in-process kv backend. It implements the full kv.KV
// contract, including CAS semantics and prefix watches, without any external
// daemon. It backs single node deployments and hermetic tests.
package mem

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/degremont/pcocc/pkg/kv"
)

var (
	errKeyNotFound = errors.New("key not found")
	errKeyExists   = errors.New("key already exists")
	errCASFailed   = errors.New("compare-and-swap failed")
)

func init() {
	kv.Register("mem", New)
}

type mkv struct {
	mu       sync.Mutex
	index    uint64
	data     map[string]kv.Value
	expiry   map[string]time.Time
	watchers map[int]*watcher
	nextID   int
}

type watcher struct {
	prefix string
	events chan kv.Event
	stop   chan struct{}
}

// New creates an empty in-process store. Every call returns an independent
// store; the addr parameter is ignored beyond scheme selection.
func New(addr string) (kv.KV, error) {
	return &mkv{
		data:     map[string]kv.Value{},
		expiry:   map[string]time.Time{},
		watchers: map[int]*watcher{},
	}, nil
}

func (m *mkv) get(key string) (kv.Value, bool) {
	if exp, ok := m.expiry[key]; ok && time.Now().After(exp) {
		delete(m.data, key)
		delete(m.expiry, key)
	}
	v, ok := m.data[key]
	return v, ok
}

// notify runs with m.mu held; sends must not block on slow consumers, so
// watcher channels are buffered and overflow events are dropped.
func (m *mkv) notify(event kv.Event) {
	for _, w := range m.watchers {
		if !strings.HasPrefix(event.Key, w.prefix) {
			continue
		}
		select {
		case w.events <- event:
		default:
		}
	}
}

func (m *mkv) Delete(key string, recurse bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !recurse {
		if _, ok := m.get(key); !ok {
			return errKeyNotFound
		}
		delete(m.data, key)
		delete(m.expiry, key)
		m.notify(kv.Event{Key: key, Type: kv.Delete})
		return nil
	}

	prefix := strings.TrimSuffix(key, "/") + "/"
	found := false
	for k := range m.data {
		if k == key || strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			delete(m.expiry, k)
			m.notify(kv.Event{Key: k, Type: kv.Delete})
			found = true
		}
	}
	if !found {
		return errKeyNotFound
	}
	return nil
}

func (m *mkv) Get(key string) (kv.Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.get(key)
	if !ok {
		return kv.Value{}, errKeyNotFound
	}
	return v, nil
}

func (m *mkv) GetAll(prefix string) (map[string]kv.Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	many := map[string]kv.Value{}
	for k := range m.data {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if v, ok := m.get(k); ok {
			many[k] = v
		}
	}
	return many, nil
}

func (m *mkv) Keys(prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix = strings.TrimSuffix(prefix, "/") + "/"
	seen := map[string]struct{}{}
	for k := range m.data {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			rest = rest[:i]
		}
		seen[prefix+rest] = struct{}{}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *mkv) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, existed := m.get(key)
	m.index++
	m.data[key] = kv.Value{Data: []byte(value), Index: m.index}
	delete(m.expiry, key)

	eventType := kv.Create
	if existed {
		eventType = kv.Update
	}
	m.notify(kv.Event{Key: key, Type: eventType, Value: m.data[key]})
	return nil
}

func (m *mkv) Update(key string, value kv.Value) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, existed := m.get(key)
	if value.Index == 0 {
		if existed {
			return 0, errKeyExists
		}
	} else if !existed {
		return 0, errKeyNotFound
	} else if current.Index != value.Index {
		return 0, errCASFailed
	}

	m.index++
	m.data[key] = kv.Value{Data: value.Data, Index: m.index}

	eventType := kv.Create
	if existed {
		eventType = kv.Update
	}
	m.notify(kv.Event{Key: key, Type: eventType, Value: m.data[key]})
	return m.index, nil
}

func (m *mkv) Remove(key string, index uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.get(key)
	if !ok {
		return errKeyNotFound
	}
	if current.Index != index {
		return errCASFailed
	}
	delete(m.data, key)
	delete(m.expiry, key)
	m.notify(kv.Event{Key: key, Type: kv.Delete, Value: kv.Value{Index: index}})
	return nil
}

func (m *mkv) IsKeyNotFound(err error) bool {
	return err == errKeyNotFound
}

func (m *mkv) Watch(prefix string, index uint64, stop chan struct{}) (chan kv.Event, chan error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := &watcher{
		prefix: prefix,
		events: make(chan kv.Event, 128),
		stop:   make(chan struct{}),
	}
	id := m.nextID
	m.nextID++
	m.watchers[id] = w

	errs := make(chan error)
	go func() {
		<-stop
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
		close(w.stop)
	}()

	return w.events, errs, nil
}

func (m *mkv) TTL(key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.index++
	m.data[key] = kv.Value{Data: []byte(time.Now().String()), Index: m.index}
	m.expiry[key] = time.Now().Add(ttl)
	m.notify(kv.Event{Key: key, Type: kv.Update, Value: m.data[key]})
	return nil
}
