package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"taskgate.dev/internal/auth"
)

//go:embed policy.yaml
var defaultPolicy []byte

// Policy is the static access policy: which routes bypass authentication
// and the role/permission catalog seeded into the store.
type Policy struct {
	Public  PublicPolicy `yaml:"public"`
	Catalog auth.Catalog `yaml:"catalog"`
}

// PublicPolicy lists unauthenticated routes.
type PublicPolicy struct {
	Routes   []string            `yaml:"routes"`
	Methods  map[string][]string `yaml:"methods"`
	Prefixes []string            `yaml:"prefixes"`
}

// RoutePolicy converts the public section for the authentication gate.
func (p Policy) RoutePolicy() auth.RoutePolicy {
	return auth.RoutePolicy{
		PublicRoutes:   p.Public.Routes,
		PublicMethods:  p.Public.Methods,
		PublicPrefixes: p.Public.Prefixes,
	}
}

// DefaultPolicy returns the policy compiled into the binary.
func DefaultPolicy() (Policy, error) {
	return ParsePolicy(defaultPolicy)
}

// LoadPolicy reads path, or the embedded default when path is empty.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy %s: %w", path, err)
	}
	p, err := ParsePolicy(data)
	if err != nil {
		return Policy{}, fmt.Errorf("policy %s: %w", path, err)
	}
	return p, nil
}

// ParsePolicy decodes a YAML policy. Unknown keys are rejected.
func ParsePolicy(data []byte) (Policy, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var p Policy
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Policy{}, fmt.Errorf("decode policy: %w", err)
	}
	if err := p.validateCatalog(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p Policy) validateCatalog() error {
	known := make(map[string]struct{}, len(p.Catalog.Permissions))
	for _, perm := range p.Catalog.Permissions {
		if _, dup := known[perm.Name]; dup {
			return fmt.Errorf("%w: permission %q declared twice", auth.ErrInvalidInput, perm.Name)
		}
		known[perm.Name] = struct{}{}
	}
	for _, role := range p.Catalog.Roles {
		for _, name := range role.Permissions {
			if _, ok := known[name]; !ok {
				return fmt.Errorf("%w: role %q references unknown permission %q", auth.ErrInvalidInput, role.Name, name)
			}
		}
	}
	return nil
}
