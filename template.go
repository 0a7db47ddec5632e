package pcocc

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Scope identifies which configuration tier a definition came from
type Scope string

// Configuration tiers. User definitions are additive; they never replace
// system definitions, though a user template may inherit a system one.
const (
	ScopeSystem Scope = "system"
	ScopeUser   Scope = "user"
)

// CachePolicy is the host cache mode for a persistent drive
type CachePolicy string

// Cache policies
const (
	CacheWriteback    CachePolicy = "writeback"
	CacheWritethrough CachePolicy = "writethrough"
	CacheUnsafe       CachePolicy = "unsafe"
	CacheNone         CachePolicy = "none"
)

// MMPMode is the multi-mount protection policy for a persistent drive
type MMPMode string

// Multi-mount protection modes
const (
	// MMPYes allows exactly one concurrent attachment cluster-wide
	MMPYes MMPMode = "yes"
	// MMPCluster allows any number of attachments within a single allocation
	MMPCluster MMPMode = "cluster"
	// MMPNo disables tracking entirely; concurrent writers can corrupt the
	// drive and nothing here will prevent it
	MMPNo MMPMode = "no"
)

type (
	// PersistentDrive is a raw format VM disk whose file outlives any VM
	PersistentDrive struct {
		Path  string      `yaml:"path" json:"path"`
		Cache CachePolicy `yaml:"cache" json:"cache"`
		MMP   MMPMode     `yaml:"mmp" json:"mmp"`
	}

	// MountPoint exports a host path into the guest; the map key under which
	// it appears is the transport tag
	MountPoint struct {
		Path     string `yaml:"path" json:"path"`
		ReadOnly bool   `yaml:"readonly" json:"readonly"`
	}

	// Template is a named, inheritable bundle of VM instantiation parameters
	Template struct {
		Name  string `yaml:"-" json:"name"`
		Scope Scope  `yaml:"-" json:"scope"`

		Inherits         string                `yaml:"inherits" json:"inherits,omitempty"`
		ResourceSet      string                `yaml:"resource-set" json:"resource-set"`
		Image            string                `yaml:"image" json:"image,omitempty"`
		Description      string                `yaml:"description" json:"description,omitempty"`
		UserData         string                `yaml:"user-data" json:"user-data,omitempty"`
		InstanceID       string                `yaml:"instance-id" json:"instance-id,omitempty"`
		MountPoints      map[string]MountPoint `yaml:"mount-points" json:"mount-points,omitempty"`
		PersistentDrives []PersistentDrive     `yaml:"persistent-drives" json:"persistent-drives,omitempty"`
		RemoteDisplay    string                `yaml:"remote-display" json:"remote-display,omitempty"`
		CustomArgs       []string              `yaml:"custom-args" json:"custom-args,omitempty"`
		QemuBin          string                `yaml:"qemu-bin" json:"qemu-bin,omitempty"`
		NICModel         string                `yaml:"nic-model" json:"nic-model,omitempty"`
		DiskModel        string                `yaml:"disk-model" json:"disk-model,omitempty"`
		EmulatorCores    int                   `yaml:"emulator-cores" json:"emulator-cores,omitempty"`
	}

	// Templates is an alias to a slice of *Template
	Templates []*Template
)

// UnmarshalYAML accepts either the full mapping form or a bare path string
func (d *PersistentDrive) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		d.Path = value.Value
		d.applyDefaults()
		return nil
	}

	type plain PersistentDrive
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*d = PersistentDrive(p)
	d.applyDefaults()
	return nil
}

func (d *PersistentDrive) applyDefaults() {
	if d.Cache == "" {
		d.Cache = CacheWriteback
	}
	if d.MMP == "" {
		d.MMP = MMPYes
	}
}

// Validate ensures the drive spec has reasonable data
func (d *PersistentDrive) Validate() error {
	if d.Path == "" {
		return fmt.Errorf("persistent drive requires a path")
	}
	switch d.Cache {
	case CacheWriteback, CacheWritethrough, CacheUnsafe, CacheNone:
	default:
		return fmt.Errorf("drive %q: invalid cache policy %q", d.Path, d.Cache)
	}
	switch d.MMP {
	case MMPYes, MMPCluster, MMPNo:
	default:
		return fmt.Errorf("drive %q: invalid mmp mode %q", d.Path, d.MMP)
	}
	return nil
}

// Validate ensures the raw template definition has reasonable data. Chain
// level constraints (resource-set presence, scoping) are checked during
// resolution since they depend on ancestors.
func (t *Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("template name required")
	}
	for i := range t.PersistentDrives {
		if err := t.PersistentDrives[i].Validate(); err != nil {
			return fmt.Errorf("template %q: %w", t.Name, err)
		}
	}
	for tag, mount := range t.MountPoints {
		if mount.Path == "" {
			return fmt.Errorf("template %q: mount-point %q requires a path", t.Name, tag)
		}
	}
	return nil
}

// merge folds a more derived definition over t. Scalars from the derived
// definition win when set; the mount-point map is merged key by key; the
// persistent-drives and custom-args lists fully replace the inherited ones.
// Description is deliberately not touched here: it never inherits.
func (t *Template) merge(derived *Template) {
	if derived.ResourceSet != "" {
		t.ResourceSet = derived.ResourceSet
	}
	if derived.Image != "" {
		t.Image = derived.Image
	}
	if derived.UserData != "" {
		t.UserData = derived.UserData
	}
	if derived.InstanceID != "" {
		t.InstanceID = derived.InstanceID
	}
	if derived.RemoteDisplay != "" {
		t.RemoteDisplay = derived.RemoteDisplay
	}
	if derived.QemuBin != "" {
		t.QemuBin = derived.QemuBin
	}
	if derived.NICModel != "" {
		t.NICModel = derived.NICModel
	}
	if derived.DiskModel != "" {
		t.DiskModel = derived.DiskModel
	}
	if derived.EmulatorCores != 0 {
		t.EmulatorCores = derived.EmulatorCores
	}

	if len(derived.MountPoints) > 0 {
		if t.MountPoints == nil {
			t.MountPoints = make(map[string]MountPoint, len(derived.MountPoints))
		}
		for tag, mount := range derived.MountPoints {
			t.MountPoints[tag] = mount
		}
	}

	if derived.PersistentDrives != nil {
		t.PersistentDrives = append([]PersistentDrive(nil), derived.PersistentDrives...)
	}
	if derived.CustomArgs != nil {
		t.CustomArgs = append([]string(nil), derived.CustomArgs...)
	}
}

// clone returns a deep copy so resolution never aliases the raw definitions
func (t *Template) clone() *Template {
	c := *t
	if t.MountPoints != nil {
		c.MountPoints = make(map[string]MountPoint, len(t.MountPoints))
		for tag, mount := range t.MountPoints {
			c.MountPoints[tag] = mount
		}
	}
	if t.PersistentDrives != nil {
		c.PersistentDrives = append([]PersistentDrive(nil), t.PersistentDrives...)
	}
	if t.CustomArgs != nil {
		c.CustomArgs = append([]string(nil), t.CustomArgs...)
	}
	return &c
}
