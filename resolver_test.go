package pcocc_test

import (
	"testing"

	"github.com/degremont/pcocc"
	"github.com/stretchr/testify/suite"
)

type ResolverTestSuite struct {
	CommonTestSuite
}

func TestResolverTestSuite(t *testing.T) {
	suite.Run(t, new(ResolverTestSuite))
}

func (s *ResolverTestSuite) TestResolveStandalone() {
	resolver := pcocc.NewResolver(s.Store)

	resolved, err := resolver.Resolve("base", pcocc.ScopeSystem)
	s.Require().NoError(err)
	s.Equal("base", resolved.Name)
	s.Equal("cluster", resolved.ResourceSet)
	s.Equal("/images/base", resolved.Image)
	s.Empty(resolved.Inherits)
}

func (s *ResolverTestSuite) TestResolveChain() {
	store := s.newStore(`
base:
  resource-set: cluster
  image: /images/base
  user-data: /confs/base.yaml
  nic-model: virtio
  custom-args: ["-foo", "-bar"]
  mount-points:
    homedir:
      path: /home
middle:
  inherits: base
  description: intermediate
  image: /images/middle
  emulator-cores: 2
  mount-points:
    scratch:
      path: /scratch
leaf:
  inherits: middle
  custom-args: ["-baz"]
  mount-points:
    homedir:
      path: /users
      readonly: true
`, "")
	resolver := pcocc.NewResolver(store)

	resolved, err := resolver.Resolve("leaf", pcocc.ScopeSystem)
	s.Require().NoError(err)

	s.Equal("leaf", resolved.Name, "identity comes from the head of the chain")
	s.Equal("middle", resolved.Inherits)
	s.Equal("cluster", resolved.ResourceSet, "untouched scalars come from the root")
	s.Equal("/images/middle", resolved.Image, "nearest override wins")
	s.Equal("virtio", resolved.NICModel)
	s.Equal(2, resolved.EmulatorCores)
	s.Equal([]string{"-baz"}, resolved.CustomArgs, "list fields replace wholesale")
	s.Empty(resolved.Description, "description is never inherited")

	s.Require().Len(resolved.MountPoints, 2, "map fields merge per key")
	s.Equal("/users", resolved.MountPoints["homedir"].Path)
	s.True(resolved.MountPoints["homedir"].ReadOnly)
	s.Equal("/scratch", resolved.MountPoints["scratch"].Path)
}

func (s *ResolverTestSuite) TestResolveDrives() {
	store := s.newStore(`
base:
  resource-set: cluster
  persistent-drives:
    - /disks/a.raw
    - path: /disks/b.raw
      cache: unsafe
      mmp: cluster
override:
  inherits: base
  persistent-drives:
    - /disks/c.raw
plain:
  inherits: base
`, "")
	resolver := pcocc.NewResolver(store)

	resolved, err := resolver.Resolve("base", pcocc.ScopeSystem)
	s.Require().NoError(err)
	s.Require().Len(resolved.PersistentDrives, 2)
	s.Equal(pcocc.CacheWriteback, resolved.PersistentDrives[0].Cache, "shorthand drives get defaults")
	s.Equal(pcocc.MMPYes, resolved.PersistentDrives[0].MMP)
	s.Equal(pcocc.CacheUnsafe, resolved.PersistentDrives[1].Cache)
	s.Equal(pcocc.MMPCluster, resolved.PersistentDrives[1].MMP)

	resolved, err = resolver.Resolve("override", pcocc.ScopeSystem)
	s.Require().NoError(err)
	s.Require().Len(resolved.PersistentDrives, 1, "drive lists replace wholesale")
	s.Equal("/disks/c.raw", resolved.PersistentDrives[0].Path)

	resolved, err = resolver.Resolve("plain", pcocc.ScopeSystem)
	s.Require().NoError(err)
	s.Len(resolved.PersistentDrives, 2, "absent drive list inherits the parent's")
}

func (s *ResolverTestSuite) TestResolveErrors() {
	store := s.newStore(`
selfloop:
  inherits: selfloop
  resource-set: cluster
ping:
  inherits: pong
pong:
  inherits: ping
orphan:
  inherits: nosuch
noresources:
  image: /images/x
sys-on-user:
  inherits: private
`, `
private:
  resource-set: cluster
`)
	resolver := pcocc.NewResolver(store)

	tests := []struct {
		description string
		name        string
		scope       pcocc.Scope
		check       func(error) bool
	}{
		{"direct cycle", "selfloop", pcocc.ScopeSystem, pcocc.IsCyclicInheritance},
		{"transitive cycle", "ping", pcocc.ScopeSystem, pcocc.IsCyclicInheritance},
		{"unknown parent", "orphan", pcocc.ScopeSystem, pcocc.IsTemplateNotFound},
		{"unknown template", "nosuch", pcocc.ScopeSystem, pcocc.IsTemplateNotFound},
		{"no resource set", "noresources", pcocc.ScopeSystem, pcocc.IsMissingRequiredField},
		{"system inheriting user", "sys-on-user", pcocc.ScopeSystem, pcocc.IsScopeViolation},
	}

	for _, test := range tests {
		msg := testMsgFunc(test.description)
		resolved, err := resolver.Resolve(test.name, test.scope)
		s.Error(err, msg("resolution should fail"))
		s.True(test.check(err), msg("wrong error type: %v", err))
		s.Nil(resolved, msg("failure shouldn't return a template"))
	}
}

func (s *ResolverTestSuite) TestScopePreference() {
	store := s.newStore(`
base:
  resource-set: cluster
  image: /images/system
`, `
base:
  resource-set: cluster
  image: /images/user
derived:
  inherits: base
`)
	resolver := pcocc.NewResolver(store)

	resolved, err := resolver.Resolve("base", pcocc.ScopeUser)
	s.Require().NoError(err)
	s.Equal("/images/user", resolved.Image, "user scope prefers user records")

	resolved, err = resolver.Resolve("base", pcocc.ScopeSystem)
	s.Require().NoError(err)
	s.Equal("/images/system", resolved.Image, "system scope never sees user records")

	resolved, err = resolver.Resolve("derived", pcocc.ScopeUser)
	s.Require().NoError(err)
	s.Equal("/images/user", resolved.Image, "user chains resolve parents in user scope first")

	_, err = resolver.Resolve("derived", pcocc.ScopeSystem)
	s.Error(err, "user templates are invisible from system scope")
}

func (s *ResolverTestSuite) TestResolveCache() {
	resolver := pcocc.NewResolver(s.Store)

	first, err := resolver.Resolve("example", pcocc.ScopeSystem)
	s.Require().NoError(err)
	second, err := resolver.Resolve("example", pcocc.ScopeSystem)
	s.Require().NoError(err)
	s.Equal(first, second, "repeated resolution returns the same result")
}

func (s *ResolverTestSuite) TestCheckTemplates() {
	store := s.newStore(`
good:
  resource-set: cluster
bad:
  inherits: bad
`, "")

	failures := store.CheckTemplates()
	s.Len(failures, 1, "valid templates are unaffected by invalid ones")
	s.Contains(failures, "system/bad")
}
