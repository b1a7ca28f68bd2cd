// Package catalog holds the named pool-create scenarios shipped with the
// binary.
package catalog

import (
	_ "embed"
	"fmt"
	"sort"

	"github.com/virtqa/pool-create-check/pkg/descriptor"
	"github.com/virtqa/pool-create-check/pkg/scenario"
	"gopkg.in/yaml.v3"
)

//go:embed scenarios.yaml
var builtin []byte

// Entry is one named scenario. Empty fields keep the value they are
// applied on top of.
type Entry struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	Descriptor        string `yaml:"descriptor"`
	PoolName          string `yaml:"pool_name"`
	PoolType          string `yaml:"pool_type"`
	SourceFormat      string `yaml:"source_format"`
	SourceName        string `yaml:"source_name"`
	SourcePath        string `yaml:"source_path"`
	TargetPath        string `yaml:"target_path"`
	ExtraFlags        string `yaml:"extra_flags"`
	Mutation          string `yaml:"mutation"`
	ReplacementName   string `yaml:"replacement_name"`
	ReplacementFormat string `yaml:"replacement_format"`

	Readonly       bool `yaml:"readonly"`
	ExpectFailure  bool `yaml:"expect_failure"`
	PreDefinedPool bool `yaml:"pre_defined_pool"`
	NoDiskLabel    bool `yaml:"no_disk_label"`
}

// Catalog is a set of named scenarios
type Catalog struct {
	Version   string  `yaml:"version"`
	Scenarios []Entry `yaml:"scenarios"`
}

// Builtin parses the embedded catalog
func Builtin() (*Catalog, error) {
	return Parse(builtin)
}

// Parse decodes and checks a catalog document
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	seen := make(map[string]bool, len(c.Scenarios))
	for _, e := range c.Scenarios {
		if e.Name == "" {
			return nil, fmt.Errorf("catalog entry without a name")
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("duplicate catalog entry %q", e.Name)
		}
		seen[e.Name] = true
		if _, err := descriptor.ParseMutationKind(e.Mutation); err != nil {
			return nil, fmt.Errorf("catalog entry %q: %w", e.Name, err)
		}
	}
	return &c, nil
}

// Get looks up an entry by name
func (c *Catalog) Get(name string) (*Entry, bool) {
	for i := range c.Scenarios {
		if c.Scenarios[i].Name == name {
			return &c.Scenarios[i], true
		}
	}
	return nil, false
}

// Names returns the entry names in sorted order
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Scenarios))
	for _, e := range c.Scenarios {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}

// Apply layers the entry over p
func (e *Entry) Apply(p scenario.Params) scenario.Params {
	p.Name = e.Name
	setString(&p.DescriptorPath, e.Descriptor)
	setString(&p.PoolName, e.PoolName)
	setString(&p.PoolType, e.PoolType)
	setString(&p.SourceFormat, e.SourceFormat)
	setString(&p.SourceName, e.SourceName)
	setString(&p.SourcePath, e.SourcePath)
	setString(&p.TargetPath, e.TargetPath)
	setString(&p.ExtraFlags, e.ExtraFlags)
	setString(&p.ReplacementName, e.ReplacementName)
	setString(&p.ReplacementFormat, e.ReplacementFormat)
	if e.Mutation != "" {
		p.Mutation = descriptor.MutationKind(e.Mutation)
	}

	p.Readonly = p.Readonly || e.Readonly
	p.ExpectFailure = p.ExpectFailure || e.ExpectFailure
	p.PreDefinedPool = p.PreDefinedPool || e.PreDefinedPool
	p.NoDiskLabel = p.NoDiskLabel || e.NoDiskLabel

	// The descriptor of a pre-defined pool comes from the pool itself.
	if p.PreDefinedPool && p.DescriptorPath == scenario.PlaceholderPath {
		p.DescriptorPath = "pre-defined"
	}
	return p
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
