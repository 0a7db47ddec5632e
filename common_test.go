package pcocc_test

import (
	"fmt"

	"github.com/degremont/pcocc"
	"github.com/degremont/pcocc/pkg/kv"
	_ "github.com/degremont/pcocc/pkg/kv/mem"
	"github.com/stretchr/testify/suite"
)

const testNetworksYAML = `
nat-rssh:
  type: ethernet
  settings:
    layer: L3
    dev-prefix: nat
    int-network: 10.200.0.0/16
    ext-network: 10.201.0.0/16
    reverse-nat:
      vm-port: 22
      min-host-port: 60222
      max-host-port: 60225
pv:
  type: ethernet
  settings:
    layer: L2
    dev-prefix: pv
    mtu: 5000
ib:
  type: infiniband
  settings:
    host-device: mlx5_0
    min-pkey: "0x2000"
    max-pkey: "0x2002"
    license: pkey
    opensm-daemon: opensm
    opensm-partition-cfg: /etc/opensm/partitions.conf
    opensm-partition-tpl: /etc/opensm/partitions.conf.tpl
vfio:
  type: genericpci
  settings:
    host-device-addrs:
      - "0000:81:00.1"
      - "0000:81:00.2"
    host-driver: vfio-pci
hostib:
  type: host-infiniband
  settings:
    host-device: mlx5_0
br:
  type: bridged-ethernet
  settings:
    host-bridge: br0
    tap-prefix: btap
`

const testTemplatesYAML = `
base:
  resource-set: cluster
  image: /images/base
  user-data: /confs/base.yaml
example:
  inherits: base
  description: example cluster
  mount-points:
    homedir:
      path: /home
`

type CommonTestSuite struct {
	suite.Suite
	KV      kv.KV
	Context *pcocc.Context
	Store   *pcocc.ConfigStore
}

func (s *CommonTestSuite) SetupTest() {
	var err error
	s.KV, err = kv.New("mem://")
	s.Require().NoError(err)
	s.Context = pcocc.NewContext(s.KV)
	s.Store = s.newStore(testTemplatesYAML, "")
}

// newStore builds a ConfigStore from yaml literals. The test networks are
// always loaded; user templates are optional.
func (s *CommonTestSuite) newStore(systemTemplates, userTemplates string) *pcocc.ConfigStore {
	store := pcocc.NewConfigStore()
	s.Require().NoError(store.LoadNetworkData([]byte(testNetworksYAML)))
	if systemTemplates != "" {
		s.Require().NoError(store.LoadTemplateData([]byte(systemTemplates), pcocc.ScopeSystem))
	}
	if userTemplates != "" {
		s.Require().NoError(store.LoadTemplateData([]byte(userTemplates), pcocc.ScopeUser))
	}
	return store
}

func (s *CommonTestSuite) newAllocator() *pcocc.ResourceAllocator {
	return pcocc.NewResourceAllocator()
}

func (s *CommonTestSuite) newRegistry(allocator *pcocc.ResourceAllocator) *pcocc.DriverRegistry {
	registry, err := pcocc.NewDriverRegistry(s.Store, allocator, s.Context)
	s.Require().NoError(err)
	return registry
}

func testMsgFunc(prefix string) func(...interface{}) string {
	return func(val ...interface{}) string {
		if len(val) == 0 {
			return prefix
		}
		msgPrefix := prefix + " : "
		if len(val) == 1 {
			return msgPrefix + val[0].(string)
		} else {
			return msgPrefix + fmt.Sprintf(val[0].(string), val[1:]...)
		}
	}
}
