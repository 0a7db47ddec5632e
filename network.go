package pcocc

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// NetworkType tags one of the supported fabric variants
type NetworkType string

// Network types
const (
	NetworkEthernet        NetworkType = "ethernet"
	NetworkInfiniband      NetworkType = "infiniband"
	NetworkGenericPCI      NetworkType = "genericpci"
	NetworkHostInfiniband  NetworkType = "host-infiniband"
	NetworkBridgedEthernet NetworkType = "bridged-ethernet"
)

// EthernetLayer selects between a private L2 fabric and a NAT'd L3 network
type EthernetLayer string

// Ethernet layers
const (
	LayerL2 EthernetLayer = "L2"
	LayerL3 EthernetLayer = "L3"
)

const defaultMTU = 1500

type (
	// ReverseNAT maps a range of host ports to a fixed guest port, one host
	// port per VM needing inbound reachability
	ReverseNAT struct {
		VMPort      int `yaml:"vm-port" json:"vm-port"`
		MinHostPort int `yaml:"min-host-port" json:"min-host-port"`
		MaxHostPort int `yaml:"max-host-port" json:"max-host-port"`
	}

	// EthernetSettings configures an ethernet network, either a private L2
	// fabric or a NAT'd L3 network with optional reverse NAT
	EthernetSettings struct {
		Layer      EthernetLayer `yaml:"layer" json:"layer"`
		IntNetwork string        `yaml:"int-network" json:"int-network,omitempty"`
		ExtNetwork string        `yaml:"ext-network" json:"ext-network,omitempty"`
		DevPrefix  string        `yaml:"dev-prefix" json:"dev-prefix"`
		MTU        int           `yaml:"mtu" json:"mtu"`
		DomainName string        `yaml:"domain-name" json:"domain-name,omitempty"`
		DNSServer  string        `yaml:"dns-server" json:"dns-server,omitempty"`
		NTPServer  string        `yaml:"ntp-server" json:"ntp-server,omitempty"`
		ReverseNAT *ReverseNAT   `yaml:"reverse-nat" json:"reverse-nat,omitempty"`
	}

	// InfinibandSettings configures an SR-IOV InfiniBand network with
	// partition key isolation
	InfinibandSettings struct {
		HostDevice         string `yaml:"host-device" json:"host-device"`
		MinPKey            string `yaml:"min-pkey" json:"min-pkey"`
		MaxPKey            string `yaml:"max-pkey" json:"max-pkey"`
		License            string `yaml:"license" json:"license,omitempty"`
		OpenSMDaemon       string `yaml:"opensm-daemon" json:"opensm-daemon"`
		OpenSMPartitionCfg string `yaml:"opensm-partition-cfg" json:"opensm-partition-cfg"`
		OpenSMPartitionTpl string `yaml:"opensm-partition-tpl" json:"opensm-partition-tpl"`

		minPKey uint16
		maxPKey uint16
	}

	// GenericPCISettings configures passthrough of a fixed set of host PCI
	// devices
	GenericPCISettings struct {
		HostDeviceAddrs []string `yaml:"host-device-addrs" json:"host-device-addrs"`
		HostDriver      string   `yaml:"host-driver" json:"host-driver"`
	}

	// HostInfinibandSettings configures direct passthrough of a host
	// InfiniBand device without partition isolation
	HostInfinibandSettings struct {
		HostDevice string `yaml:"host-device" json:"host-device"`
	}

	// BridgedSettings configures attachment to a pre-existing host bridge
	BridgedSettings struct {
		HostBridge string `yaml:"host-bridge" json:"host-bridge"`
		TapPrefix  string `yaml:"tap-prefix" json:"tap-prefix"`
		MTU        int    `yaml:"mtu" json:"mtu"`
	}

	// Network is a named fabric definition. It is immutable once loaded and
	// shared read-only across all allocations. Exactly one of the settings
	// pointers is non-nil, matching Type.
	Network struct {
		Name string      `json:"name"`
		Type NetworkType `json:"type"`

		Ethernet       *EthernetSettings       `json:"ethernet,omitempty"`
		Infiniband     *InfinibandSettings     `json:"infiniband,omitempty"`
		GenericPCI     *GenericPCISettings     `json:"genericpci,omitempty"`
		HostInfiniband *HostInfinibandSettings `json:"host-infiniband,omitempty"`
		Bridged        *BridgedSettings        `json:"bridged-ethernet,omitempty"`
	}
)

// UnmarshalYAML decodes the {type, settings} form, dispatching the settings
// mapping to the variant selected by the type tag
func (n *Network) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Type     NetworkType `yaml:"type"`
		Settings yaml.Node   `yaml:"settings"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	n.Type = raw.Type
	switch raw.Type {
	case NetworkEthernet:
		n.Ethernet = &EthernetSettings{}
		return raw.Settings.Decode(n.Ethernet)
	case NetworkInfiniband:
		n.Infiniband = &InfinibandSettings{}
		return raw.Settings.Decode(n.Infiniband)
	case NetworkGenericPCI:
		n.GenericPCI = &GenericPCISettings{}
		return raw.Settings.Decode(n.GenericPCI)
	case NetworkHostInfiniband:
		n.HostInfiniband = &HostInfinibandSettings{}
		return raw.Settings.Decode(n.HostInfiniband)
	case NetworkBridgedEthernet:
		n.Bridged = &BridgedSettings{}
		return raw.Settings.Decode(n.Bridged)
	default:
		return fmt.Errorf("unknown network type %q", raw.Type)
	}
}

// Validate ensures the definition is complete for its type and fills in
// defaults (MTU, parsed pkey bounds)
func (n *Network) Validate() error {
	switch n.Type {
	case NetworkEthernet:
		s := n.Ethernet
		if s == nil {
			return fmt.Errorf("network %q: missing ethernet settings", n.Name)
		}
		if s.Layer != LayerL2 && s.Layer != LayerL3 {
			return fmt.Errorf("network %q: invalid ethernet layer %q", n.Name, s.Layer)
		}
		if s.DevPrefix == "" {
			return fmt.Errorf("network %q: dev-prefix required", n.Name)
		}
		if s.MTU == 0 {
			s.MTU = defaultMTU
		}
		if r := s.ReverseNAT; r != nil {
			if s.Layer != LayerL3 {
				return fmt.Errorf("network %q: reverse-nat requires an L3 network", n.Name)
			}
			if r.MinHostPort <= 0 || r.MaxHostPort < r.MinHostPort || r.VMPort <= 0 {
				return fmt.Errorf("network %q: invalid reverse-nat port range", n.Name)
			}
		}
	case NetworkInfiniband:
		s := n.Infiniband
		if s == nil {
			return fmt.Errorf("network %q: missing infiniband settings", n.Name)
		}
		if s.HostDevice == "" || s.OpenSMDaemon == "" ||
			s.OpenSMPartitionCfg == "" || s.OpenSMPartitionTpl == "" {
			return fmt.Errorf("network %q: incomplete infiniband settings", n.Name)
		}
		min, err := parsePKey(s.MinPKey)
		if err != nil {
			return fmt.Errorf("network %q: min-pkey: %w", n.Name, err)
		}
		max, err := parsePKey(s.MaxPKey)
		if err != nil {
			return fmt.Errorf("network %q: max-pkey: %w", n.Name, err)
		}
		if max < min {
			return fmt.Errorf("network %q: pkey range inverted", n.Name)
		}
		s.minPKey, s.maxPKey = min, max
	case NetworkGenericPCI:
		s := n.GenericPCI
		if s == nil {
			return fmt.Errorf("network %q: missing genericpci settings", n.Name)
		}
		if len(s.HostDeviceAddrs) == 0 || s.HostDriver == "" {
			return fmt.Errorf("network %q: incomplete genericpci settings", n.Name)
		}
	case NetworkHostInfiniband:
		if n.HostInfiniband == nil || n.HostInfiniband.HostDevice == "" {
			return fmt.Errorf("network %q: host-device required", n.Name)
		}
	case NetworkBridgedEthernet:
		s := n.Bridged
		if s == nil || s.HostBridge == "" || s.TapPrefix == "" {
			return fmt.Errorf("network %q: incomplete bridged-ethernet settings", n.Name)
		}
		if s.MTU == 0 {
			s.MTU = defaultMTU
		}
	default:
		return fmt.Errorf("network %q: unknown type %q", n.Name, n.Type)
	}
	return nil
}

// PKeyRange returns the inclusive partition key bounds
func (s *InfinibandSettings) PKeyRange() (uint16, uint16) {
	return s.minPKey, s.maxPKey
}

func parsePKey(raw string) (uint16, error) {
	if raw == "" {
		return 0, fmt.Errorf("pkey required")
	}
	v, err := strconv.ParseUint(raw, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid pkey %q", raw)
	}
	return uint16(v), nil
}

// FormatPKey renders a partition key the way the subnet manager config
// expects it
func FormatPKey(pkey uint16) string {
	return fmt.Sprintf("0x%04x", pkey)
}
