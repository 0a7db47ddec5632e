package pcocc_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/degremont/pcocc"
	"github.com/stretchr/testify/suite"
)

type ConfigStoreTestSuite struct {
	CommonTestSuite
}

func TestConfigStoreTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigStoreTestSuite))
}

func (s *ConfigStoreTestSuite) writeConfig(dir, name, data string) {
	s.Require().NoError(os.WriteFile(filepath.Join(dir, name), []byte(data), 0644))
}

func (s *ConfigStoreTestSuite) TestLoadConfigDirs() {
	systemDir := s.T().TempDir()
	userDir := s.T().TempDir()

	s.writeConfig(systemDir, "networks.yaml", testNetworksYAML)
	s.writeConfig(systemDir, "templates.yaml", testTemplatesYAML)
	s.writeConfig(userDir, "templates.yaml", `
mine:
  inherits: example
  user-data: /home/me/cloud.yaml
`)

	store, err := pcocc.LoadConfigDirs(systemDir, userDir)
	s.Require().NoError(err)

	s.Len(store.Networks(), 6)

	_, err = store.Template("base", pcocc.ScopeSystem)
	s.NoError(err)

	_, err = store.Template("mine", pcocc.ScopeUser)
	s.NoError(err)
	_, err = store.Template("mine", pcocc.ScopeSystem)
	s.True(pcocc.IsTemplateNotFound(err), "user templates are invisible system side")
}

func (s *ConfigStoreTestSuite) TestLoadConfigDirsMissingFiles() {
	store, err := pcocc.LoadConfigDirs(s.T().TempDir(), s.T().TempDir())
	s.Require().NoError(err, "absent config files are not an error")
	s.Empty(store.Networks())
	s.Empty(store.Templates(pcocc.ScopeUser))
}

func (s *ConfigStoreTestSuite) TestLoadConfigDirsBadYAML() {
	systemDir := s.T().TempDir()
	s.writeConfig(systemDir, "templates.yaml", "not: [valid: templates")

	_, err := pcocc.LoadConfigDirs(systemDir, s.T().TempDir())
	s.Error(err)
}

func (s *ConfigStoreTestSuite) TestLoadTemplateDataRejectsInvalid() {
	store := pcocc.NewConfigStore()
	err := store.LoadTemplateData([]byte(`
bad:
  image: /images/bad
  persistent-drives:
    - path: /d.raw
      mmp: sometimes
`), pcocc.ScopeSystem)
	s.Error(err, "unknown mmp modes are rejected at load time")
}

func (s *ConfigStoreTestSuite) TestTemplates() {
	store := s.newStore(testTemplatesYAML, `
example:
  inherits: base
  description: shadowed
mine:
  inherits: example
`)

	system := store.Templates(pcocc.ScopeSystem)
	s.Len(system, 2)

	user := store.Templates(pcocc.ScopeUser)
	s.Len(user, 3, "user view shadows, never duplicates")
	for _, tmpl := range user {
		if tmpl.Name == "example" {
			s.Equal(pcocc.ScopeUser, tmpl.Scope)
		}
	}
}

func (s *ConfigStoreTestSuite) TestNetworkLookup() {
	_, err := s.Store.Network("ib")
	s.NoError(err)

	_, err = s.Store.Network("nosuch")
	s.Error(err)
}
