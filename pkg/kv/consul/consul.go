// Package consul is a consul backend for the kv coordination store. Watches
// are implemented with blocking queries on the prefix rather than the consul
// watch package.
package consul

import (
	"errors"
	"net/url"
	"time"

	consul "github.com/hashicorp/consul/api"

	"github.com/degremont/pcocc/pkg/kv"
)

var (
	err404    = errors.New("key not found")
	errCAS    = errors.New("compare-and-swap failed")
	errCASDel = errors.New("failed to delete atomically")
	errCASDup = errors.New("key already exists")
)

func init() {
	kv.Register("consul", New)
}

type ckv struct {
	c      *consul.KV
	client *consul.Client
	config *consul.Config
}

// New instantiates a consul kv implementation.
// addr may be empty, in which case the default consul address is used, or a
// URL with scheme http, https or consul (synonymous with http).
func New(addr string) (kv.KV, error) {
	config := consul.DefaultConfig()
	if addr != "" {
		u, err := url.Parse(addr)
		if err != nil {
			return nil, err
		}

		if u.Scheme != "consul" {
			config.Scheme = u.Scheme
		}
		config.Address = u.Host
	}

	client, err := consul.NewClient(config)
	if err != nil {
		return nil, err
	}

	return &ckv{c: client.KV(), client: client, config: config}, nil
}

func (c *ckv) Delete(key string, recurse bool) error {
	var err error
	if recurse {
		_, err = c.c.DeleteTree(key, nil)
	} else {
		_, err = c.c.Delete(key, nil)
	}
	return err
}

func (c *ckv) Get(key string) (kv.Value, error) {
	kvp, _, err := c.c.Get(key, nil)
	if err != nil {
		return kv.Value{}, err
	}
	if kvp == nil || kvp.Value == nil {
		return kv.Value{}, err404
	}
	return kv.Value{Data: kvp.Value, Index: kvp.ModifyIndex}, nil
}

func (c *ckv) GetAll(prefix string) (map[string]kv.Value, error) {
	pairs, _, err := c.c.List(prefix, nil)
	if err != nil {
		return nil, err
	}
	many := make(map[string]kv.Value, len(pairs))
	for _, kvp := range pairs {
		many[kvp.Key] = kv.Value{Data: kvp.Value, Index: kvp.ModifyIndex}
	}
	return many, nil
}

func (c *ckv) Keys(key string) ([]string, error) {
	keys, _, err := c.c.Keys(key, "/", nil)
	return keys, err
}

func (c *ckv) Set(key, value string) error {
	_, err := c.c.Put(&consul.KVPair{Key: key, Value: []byte(value)}, nil)
	return err
}

func (c *ckv) cas(key string, value kv.Value) error {
	if value.Index == 0 {
		// ModifyIndex 0 means "create only" in the consul CAS API, matching
		// the kv.KV exclusive create contract
		if existing, _, _ := c.c.Get(key, nil); existing != nil {
			return errCASDup
		}
	}

	kvp := consul.KVPair{
		Key:         key,
		Value:       value.Data,
		ModifyIndex: value.Index,
	}

	valid, _, err := c.c.CAS(&kvp, nil)
	if err != nil {
		return err
	}

	if !valid {
		return errCAS
	}

	return nil
}

// Update is racy with other modifiers since the consul KV API does not return
// the new modified index; the CAS itself is still atomic.
func (c *ckv) Update(key string, value kv.Value) (uint64, error) {
	if err := c.cas(key, value); err != nil {
		return 0, err
	}

	v, err := c.Get(key)
	return v.Index, err
}

func (c *ckv) Remove(key string, index uint64) error {
	ok, _, err := c.c.DeleteCAS(&consul.KVPair{Key: key, ModifyIndex: index}, nil)
	if err != nil {
		return err
	}

	if !ok {
		err = errCASDel
	}

	return err
}

func (c *ckv) IsKeyNotFound(err error) bool {
	return err == err404
}

func (c *ckv) Watch(prefix string, index uint64, stop chan struct{}) (chan kv.Event, chan error, error) {
	events := make(chan kv.Event)
	errs := make(chan error)

	go func() {
		saved := map[string]uint64{}
		waitIndex := index
		for {
			select {
			case <-stop:
				return
			default:
			}

			pairs, meta, err := c.c.List(prefix, &consul.QueryOptions{
				WaitIndex: waitIndex,
				WaitTime:  30 * time.Second,
			})
			if err != nil {
				select {
				case errs <- err:
				case <-stop:
				}
				return
			}
			if meta.LastIndex == waitIndex {
				continue
			}
			waitIndex = meta.LastIndex

			current := map[string]uint64{}
			for _, kvp := range pairs {
				current[kvp.Key] = kvp.ModifyIndex

				old, ok := saved[kvp.Key]
				if ok && old == kvp.ModifyIndex {
					delete(saved, kvp.Key)
					continue
				}

				event := kv.Event{
					Key:  kvp.Key,
					Type: kv.Create,
					Value: kv.Value{
						Data:  kvp.Value,
						Index: kvp.ModifyIndex,
					},
				}
				if ok {
					event.Type = kv.Update
				}

				select {
				case events <- event:
				case <-stop:
					return
				}
				delete(saved, kvp.Key)
			}

			// anything left in saved was not listed again, so it was deleted
			for key, idx := range saved {
				select {
				case events <- kv.Event{Key: key, Type: kv.Delete, Value: kv.Value{Index: idx}}:
				case <-stop:
					return
				}
			}
			saved = current
		}
	}()

	return events, errs, nil
}

func (c *ckv) TTL(key string, ttl time.Duration) error {
	entry := &consul.SessionEntry{
		TTL:      ttl.String(),
		Behavior: consul.SessionBehaviorDelete,
	}
	session, _, err := c.client.Session().Create(entry, nil)
	if err != nil {
		return err
	}

	kvp := consul.KVPair{
		Key:     key,
		Value:   []byte(time.Now().String()),
		Session: session,
	}
	ok, _, err := c.c.Acquire(&kvp, nil)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("failed to acquire ttl key")
	}
	return nil
}
