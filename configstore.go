package pcocc

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Default configuration locations
const (
	SystemConfigDir = "/etc/pcocc"
	userConfigDir   = ".pcocc"

	templatesFile = "templates.yaml"
	networksFile  = "networks.yaml"
)

// ConfigStore loads and indexes raw template and network definitions from the
// system wide and per user configuration tiers. It is immutable once loaded;
// lookups are plain map reads and safe for concurrent use.
type ConfigStore struct {
	templates map[Scope]map[string]*Template
	networks  map[string]*Network
}

// NewConfigStore creates an empty ConfigStore
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		templates: map[Scope]map[string]*Template{
			ScopeSystem: {},
			ScopeUser:   {},
		},
		networks: map[string]*Network{},
	}
}

// LoadConfigDirs populates a store from a system directory and a user
// directory. userDir may be empty, in which case the per user default
// (~/.pcocc) is consulted. Network definitions only come from the system
// tier. Missing files are not an error; a tier simply contributes nothing.
func LoadConfigDirs(systemDir, userDir string) (*ConfigStore, error) {
	s := NewConfigStore()

	if userDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			userDir = filepath.Join(home, userConfigDir)
		}
	}

	path := filepath.Join(systemDir, networksFile)
	if _, err := os.Stat(path); err == nil {
		if err := s.LoadNetworkFile(path); err != nil {
			return nil, err
		}
	}

	path = filepath.Join(systemDir, templatesFile)
	if _, err := os.Stat(path); err == nil {
		if err := s.LoadTemplateFile(path, ScopeSystem); err != nil {
			return nil, err
		}
	}

	if userDir != "" {
		path = filepath.Join(userDir, templatesFile)
		if _, err := os.Stat(path); err == nil {
			if err := s.LoadTemplateFile(path, ScopeUser); err != nil {
				return nil, err
			}
		}
	}

	return s, nil
}

// LoadTemplateFile parses a template document into the given scope
func (s *ConfigStore) LoadTemplateFile(path string, scope Scope) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := s.LoadTemplateData(data, scope); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// LoadTemplateData parses a template document (mapping of template name to
// definition) into the given scope
func (s *ConfigStore) LoadTemplateData(data []byte, scope Scope) error {
	defs := map[string]*Template{}
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return err
	}

	for name, tmpl := range defs {
		if tmpl == nil {
			tmpl = &Template{}
		}
		tmpl.Name = name
		tmpl.Scope = scope
		if err := tmpl.Validate(); err != nil {
			return err
		}
		s.templates[scope][name] = tmpl
	}
	return nil
}

// LoadNetworkFile parses a network document
func (s *ConfigStore) LoadNetworkFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := s.LoadNetworkData(data); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// LoadNetworkData parses a network document (mapping of network name to
// {type, settings})
func (s *ConfigStore) LoadNetworkData(data []byte) error {
	defs := map[string]*Network{}
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return err
	}

	for name, network := range defs {
		if network == nil {
			return fmt.Errorf("network %q: empty definition", name)
		}
		network.Name = name
		if err := network.Validate(); err != nil {
			return err
		}
		s.networks[name] = network
	}
	return nil
}

// template fetches the raw definition for name visible from the requesting
// scope. A user scope request prefers the user record and falls back to
// system; a system scope request sees only system records.
func (s *ConfigStore) template(name string, scope Scope) *Template {
	if scope == ScopeUser {
		if tmpl, ok := s.templates[ScopeUser][name]; ok {
			return tmpl
		}
	}
	return s.templates[ScopeSystem][name]
}

// Template fetches a single raw template definition
func (s *ConfigStore) Template(name string, scope Scope) (*Template, error) {
	tmpl := s.template(name, scope)
	if tmpl == nil {
		return nil, &TemplateNotFoundError{Name: name, Scope: scope}
	}
	return tmpl, nil
}

// Templates returns all raw template definitions visible from a scope
func (s *ConfigStore) Templates(scope Scope) Templates {
	seen := map[string]struct{}{}
	all := make(Templates, 0, len(s.templates[ScopeSystem]))

	if scope == ScopeUser {
		for name, tmpl := range s.templates[ScopeUser] {
			all = append(all, tmpl)
			seen[name] = struct{}{}
		}
	}
	for name, tmpl := range s.templates[ScopeSystem] {
		if _, ok := seen[name]; !ok {
			all = append(all, tmpl)
		}
	}
	return all
}

// Network fetches a network definition by name
func (s *ConfigStore) Network(name string) (*Network, error) {
	network, ok := s.networks[name]
	if !ok {
		return nil, fmt.Errorf("network %q not defined", name)
	}
	return network, nil
}

// Networks returns all loaded network definitions
func (s *ConfigStore) Networks() map[string]*Network {
	return s.networks
}

// CheckTemplates resolves every loaded template and reports the failures
// keyed by "<scope>/<name>". A failing template is rejected here, at load
// time; valid templates are unaffected.
func (s *ConfigStore) CheckTemplates() map[string]error {
	resolver := NewResolver(s)
	failures := map[string]error{}
	for scope, tier := range s.templates {
		for name := range tier {
			if _, err := resolver.Resolve(name, scope); err != nil {
				failures[string(scope)+"/"+name] = err
			}
		}
	}
	return failures
}
