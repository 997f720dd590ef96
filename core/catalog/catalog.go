// Package catalog loads stack metadata: which services exist, which config
// types they depend on, and which properties their definitions declare.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/fleetconf/fleetconf/core/configstate"
)

type serviceSpec struct {
	Name               string                  `yaml:"name"`
	ConfigDependencies []configstate.ConfigType `yaml:"config_dependencies"`
	Components         []componentSpec         `yaml:"components"`
	Properties         []propertySpec          `yaml:"properties"`
}

type componentSpec struct {
	Name        string                  `yaml:"name"`
	ConfigTypes []configstate.ConfigType `yaml:"config_types"`
}

type propertySpec struct {
	Name string                 `yaml:"name"`
	Type configstate.ConfigType `yaml:"type"`
}

type catalogSpec struct {
	Stack    string        `yaml:"stack"`
	Services []serviceSpec `yaml:"services"`
}

type serviceInfo struct {
	deps       map[configstate.ConfigType]bool
	components map[string]map[configstate.ConfigType]bool
	// declared property names per config type
	properties map[configstate.ConfigType]map[string]bool
}

// Catalog is an immutable, in-memory stack definition implementing
// configstate.StackMetadata and configstate.PropertyIndex.
type Catalog struct {
	stack    string
	services map[string]*serviceInfo
	// property name -> declaring types, in stable order
	propertyTypes map[string][]configstate.ConfigType
}

// Load reads and parses a stack catalog YAML file.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return nil, errors.New("catalog path is empty")
	}
	// #nosec G304 -- catalog path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	cat, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return cat, nil
}

// Parse builds a catalog from YAML bytes.
func Parse(data []byte) (*Catalog, error) {
	var spec catalogSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(spec.Services) == 0 {
		return nil, errors.New("catalog defines no services")
	}

	cat := &Catalog{
		stack:         spec.Stack,
		services:      make(map[string]*serviceInfo, len(spec.Services)),
		propertyTypes: map[string][]configstate.ConfigType{},
	}
	for _, svc := range spec.Services {
		if svc.Name == "" {
			return nil, errors.New("catalog service with empty name")
		}
		info := &serviceInfo{
			deps:       make(map[configstate.ConfigType]bool, len(svc.ConfigDependencies)),
			components: make(map[string]map[configstate.ConfigType]bool, len(svc.Components)),
			properties: map[configstate.ConfigType]map[string]bool{},
		}
		for _, t := range svc.ConfigDependencies {
			info.deps[t] = true
		}
		for _, comp := range svc.Components {
			if comp.Name == "" {
				return nil, fmt.Errorf("service %s has a component with empty name", svc.Name)
			}
			types := make(map[configstate.ConfigType]bool, len(comp.ConfigTypes))
			for _, t := range comp.ConfigTypes {
				types[t] = true
			}
			info.components[comp.Name] = types
		}
		for _, prop := range svc.Properties {
			if prop.Name == "" || prop.Type == "" {
				return nil, fmt.Errorf("service %s declares a property without name or type", svc.Name)
			}
			bucket, ok := info.properties[prop.Type]
			if !ok {
				bucket = map[string]bool{}
				info.properties[prop.Type] = bucket
			}
			bucket[prop.Name] = true
			cat.propertyTypes[prop.Name] = appendUniqueType(cat.propertyTypes[prop.Name], prop.Type)
		}
		cat.services[svc.Name] = info
	}
	for name := range cat.propertyTypes {
		types := cat.propertyTypes[name]
		sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	}
	return cat, nil
}

// Stack returns the stack identifier, e.g. "HDP-2.1".
func (c *Catalog) Stack() string {
	return c.stack
}

func (c *Catalog) service(name string) (*serviceInfo, error) {
	info, ok := c.services[name]
	if !ok {
		return nil, fmt.Errorf("service %s: %w", name, configstate.ErrNotFound)
	}
	return info, nil
}

// ServiceDependsOn reports whether the service declares a dependency on the
// config type.
func (c *Catalog) ServiceDependsOn(_ context.Context, service string, t configstate.ConfigType) (bool, error) {
	info, err := c.service(service)
	if err != nil {
		return false, err
	}
	return info.deps[t], nil
}

// ComponentDependsOn reports whether the named component of the service
// declares the config type.
func (c *Catalog) ComponentDependsOn(_ context.Context, service, component string, t configstate.ConfigType) (bool, error) {
	info, err := c.service(service)
	if err != nil {
		return false, err
	}
	types, ok := info.components[component]
	if !ok {
		return false, fmt.Errorf("component %s/%s: %w", service, component, configstate.ErrNotFound)
	}
	return types[t], nil
}

// ServiceDependsOnAnyKey reports whether the service depends on the type and
// declares at least one of the given property keys for it.
func (c *Catalog) ServiceDependsOnAnyKey(_ context.Context, service string, t configstate.ConfigType, keys []string) (bool, error) {
	info, err := c.service(service)
	if err != nil {
		return false, err
	}
	if !info.deps[t] {
		return false, nil
	}
	declared := info.properties[t]
	for _, key := range keys {
		if declared[key] {
			return true, nil
		}
	}
	return false, nil
}

// AnyServiceDeclaresProperty reports whether any service in the stack
// declares a property under the type.
func (c *Catalog) AnyServiceDeclaresProperty(_ context.Context, t configstate.ConfigType) (bool, error) {
	for _, info := range c.services {
		if len(info.properties[t]) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// ConfigTypesForProperty returns the config types whose definitions declare
// the property name, in stable order.
func (c *Catalog) ConfigTypesForProperty(_ context.Context, name string) ([]configstate.ConfigType, error) {
	types := c.propertyTypes[name]
	out := make([]configstate.ConfigType, len(types))
	copy(out, types)
	return out, nil
}

func appendUniqueType(types []configstate.ConfigType, t configstate.ConfigType) []configstate.ConfigType {
	for _, existing := range types {
		if existing == t {
			return types
		}
	}
	return append(types, t)
}
