package pcocc

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/degremont/pcocc/pkg/kv"
)

// Key prefixes under which cluster state lives in the kv store
const (
	AllocationPath = "pcocc/allocations/"
	OpenSMPKeyPath = "pcocc/opensm/pkeys/"
	RNatPath       = "pcocc/rnat/"
)

// Context carries the kv store handle the entities and drivers publish
// through. It is the root object from which cluster state is accessed.
type Context struct {
	kv kv.KV
}

// NewContext creates a Context around an initialized kv store
func NewContext(store kv.KV) *Context {
	return &Context{kv: store}
}

// KV returns the underlying store
func (c *Context) KV() kv.KV {
	return c.kv
}

// IsKeyNotFound wraps the backend's not-found check
func (c *Context) IsKeyNotFound(err error) bool {
	return c.kv.IsKeyNotFound(err)
}

func pkeyEntryKey(pkey uint16) string {
	return filepath.Join(OpenSMPKeyPath, FormatPKey(pkey))
}

func rnatPortKey(vmID string, vmPort int) string {
	return filepath.Join(RNatPath, vmID, strconv.Itoa(vmPort))
}

// PKeyEntry is the record the infiniband driver publishes for the subnet
// manager daemon. GUIDs are 16 hex digit strings with a 0x prefix.
type PKeyEntry struct {
	VFGUIDs   []string `json:"vf_guids"`
	HostGUIDs []string `json:"host_guids"`
}

// Validate checks the entry shape before it is rendered into a partition
// configuration. Malformed entries are rejected rather than skipped so a
// corrupt record never silently drops a partition.
func (e *PKeyEntry) Validate() error {
	for _, g := range append(append([]string{}, e.VFGUIDs...), e.HostGUIDs...) {
		if len(g) != 18 || g[0:2] != "0x" {
			return fmt.Errorf("malformed guid %q", g)
		}
		if _, err := strconv.ParseUint(g[2:], 16, 64); err != nil {
			return fmt.Errorf("malformed guid %q", g)
		}
	}
	return nil
}

// PKeyEntry fetches the published record for a partition key
func (c *Context) PKeyEntry(pkey uint16) (*PKeyEntry, error) {
	value, err := c.kv.Get(pkeyEntryKey(pkey))
	if err != nil {
		return nil, err
	}
	entry := &PKeyEntry{}
	if err := json.Unmarshal(value.Data, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// CreatePKeyEntry publishes a new record, failing if one already exists for
// the key. Exclusive creation is what serializes concurrent reservations of
// the same pkey across nodes.
func (c *Context) CreatePKeyEntry(pkey uint16, entry *PKeyEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = c.kv.Update(pkeyEntryKey(pkey), kv.Value{Data: data, Index: 0})
	return err
}

// SetPKeyEntry overwrites the record for a key already held by the caller
func (c *Context) SetPKeyEntry(pkey uint16, entry *PKeyEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.kv.Set(pkeyEntryKey(pkey), string(data))
}

// DeletePKeyEntry removes the record. Missing keys are not an error so that
// release stays idempotent.
func (c *Context) DeletePKeyEntry(pkey uint16) error {
	err := c.kv.Delete(pkeyEntryKey(pkey), false)
	if err != nil && c.kv.IsKeyNotFound(err) {
		return nil
	}
	return err
}

// SetRNatPort publishes the host port a VM port was mapped to
func (c *Context) SetRNatPort(vmID string, vmPort, hostPort int) error {
	return c.kv.Set(rnatPortKey(vmID, vmPort), strconv.Itoa(hostPort))
}

// RNatPort looks up the published mapping for a VM port
func (c *Context) RNatPort(vmID string, vmPort int) (int, error) {
	value, err := c.kv.Get(rnatPortKey(vmID, vmPort))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(value.Data))
}

// DeleteRNatPort removes a published mapping, tolerating absence
func (c *Context) DeleteRNatPort(vmID string, vmPort int) error {
	err := c.kv.Delete(rnatPortKey(vmID, vmPort), false)
	if err != nil && c.kv.IsKeyNotFound(err) {
		return nil
	}
	return err
}

// SaveAllocation persists an allocation record so other tools can list what
// is running
func (c *Context) SaveAllocation(alloc *Allocation) error {
	data, err := json.Marshal(alloc)
	if err != nil {
		return err
	}
	return c.kv.Set(filepath.Join(AllocationPath, alloc.ID), string(data))
}

// Allocation fetches a persisted allocation record by id
func (c *Context) Allocation(id string) (*Allocation, error) {
	value, err := c.kv.Get(filepath.Join(AllocationPath, id))
	if err != nil {
		return nil, err
	}
	alloc := &Allocation{}
	if err := json.Unmarshal(value.Data, alloc); err != nil {
		return nil, err
	}
	return alloc, nil
}

// DeleteAllocation removes a persisted allocation record
func (c *Context) DeleteAllocation(id string) error {
	err := c.kv.Delete(filepath.Join(AllocationPath, id), false)
	if err != nil && c.kv.IsKeyNotFound(err) {
		return nil
	}
	return err
}

// ForEachAllocation runs f on every persisted allocation record
func (c *Context) ForEachAllocation(f func(*Allocation) error) error {
	values, err := c.kv.GetAll(AllocationPath)
	if err != nil {
		return err
	}
	for _, value := range values {
		alloc := &Allocation{}
		if err := json.Unmarshal(value.Data, alloc); err != nil {
			return err
		}
		if err := f(alloc); err != nil {
			return err
		}
	}
	return nil
}
