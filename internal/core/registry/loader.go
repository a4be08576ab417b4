package registry

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/stackvault/stackvault/internal/core/filter"
	"github.com/stackvault/stackvault/internal/core/item"
	"github.com/stackvault/stackvault/internal/core/material"
)

// Config is the on-disk registry format, YAML or JSON shaped alike.
type Config struct {
	Items   []ItemConfig   `yaml:"items" json:"items"`
	Presets []PresetConfig `yaml:"presets,omitempty" json:"presets,omitempty"`
}

type ItemConfig struct {
	ID        uint32   `yaml:"id" json:"id"`
	Name      string   `yaml:"name" json:"name"`
	MaxStack  int      `yaml:"max_stack" json:"max_stack"`
	Tags      []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Resources []string `yaml:"resources,omitempty" json:"resources,omitempty"`
}

// PresetConfig describes a declarative slot filter. Types lists the only
// item types the filter passes; Deny makes the filter reject everything.
// Action narrows the filter to "add" or "remove"; empty gates both.
type PresetConfig struct {
	Name   string   `yaml:"name" json:"name"`
	Action string   `yaml:"action,omitempty" json:"action,omitempty"`
	Types  []uint32 `yaml:"types,omitempty" json:"types,omitempty"`
	Deny   bool     `yaml:"deny,omitempty" json:"deny,omitempty"`
}

// LoadYAML builds a registry from a YAML config stream.
func LoadYAML(r io.Reader) (*Registry, error) {
	var c Config
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("registry: decode config: %w", err)
	}
	return c.Build()
}

// Build constructs a registry from a parsed config.
func (c *Config) Build() (*Registry, error) {
	reg := New()
	for _, ic := range c.Items {
		def := Definition{
			ID:       item.TypeID(ic.ID),
			Name:     ic.Name,
			MaxStack: ic.MaxStack,
		}
		if def.MaxStack == 0 {
			def.MaxStack = DefaultMaxStack
		}
		for _, tag := range ic.Tags {
			def.Tags = append(def.Tags, material.TagID(tag))
		}
		for _, res := range ic.Resources {
			def.Resources = append(def.Resources, material.ResourceID(res))
		}
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	}
	for _, pc := range c.Presets {
		f, err := pc.build()
		if err != nil {
			return nil, err
		}
		reg.RegisterPreset(pc.Name, f)
	}
	return reg, nil
}

func (pc PresetConfig) build() (filter.SlotFilter, error) {
	if pc.Name == "" {
		return nil, fmt.Errorf("registry: preset without a name")
	}
	var inner filter.SlotFilter
	switch {
	case pc.Deny:
		inner = filter.Deny()
	case len(pc.Types) > 0:
		types := make([]item.TypeID, len(pc.Types))
		for i, t := range pc.Types {
			types[i] = item.TypeID(t)
		}
		inner = filter.OfType(types...)
	default:
		inner = filter.Allow()
	}
	switch pc.Action {
	case "":
		return inner, nil
	case "add":
		return filter.ForAction(filter.ActionAdd, inner), nil
	case "remove":
		return filter.ForAction(filter.ActionRemove, inner), nil
	default:
		return nil, fmt.Errorf("registry: preset %q has unknown action %q", pc.Name, pc.Action)
	}
}
