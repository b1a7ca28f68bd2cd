package scenario

import (
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/virtqa/pool-create-check/pkg/descriptor"
	"github.com/virtqa/pool-create-check/pkg/security"
)

const (
	// PlaceholderPath is the unedited default of the descriptor path.
	PlaceholderPath = "/PATH/TO/POOL.XML"
	// MalformedSentinel as descriptor path selects the corrupted document.
	MalformedSentinel = "invalid-pool-xml"
)

// Params is the configuration of one run. It is passed by value and never
// modified once the run starts.
type Params struct {
	Name string

	DescriptorPath string
	PoolName       string
	PoolType       string
	SourceFormat   string
	SourceName     string
	SourcePath     string
	TargetPath     string
	ExtraFlags     string

	Readonly       bool
	ExpectFailure  bool
	PreDefinedPool bool
	NoDiskLabel    bool

	Mutation          descriptor.MutationKind
	ReplacementName   string
	ReplacementFormat string
}

// DefaultParams mirrors the defaults of the pool-create test.
func DefaultParams() Params {
	return Params{
		DescriptorPath: PlaceholderPath,
		PoolName:       "virt_test_pool_tmp",
		PoolType:       "dir",
		SourcePath:     "/",
		TargetPath:     "pool_target",
		Mutation:       descriptor.MutationNone,
	}
}

// Malformed reports whether the run feeds a corrupted document.
func (p Params) Malformed() bool {
	return p.DescriptorPath == MalformedSentinel
}

// CreatedName is the pool name the creation call is expected to produce.
func (p Params) CreatedName() string {
	if p.PreDefinedPool && p.MutationKind() == descriptor.MutationDuplicateSource {
		return p.ReplacementName
	}
	return p.PoolName
}

// MutationKind returns the normalized mutation; unknown kinds read as none
// and are rejected by Validate.
func (p Params) MutationKind() descriptor.MutationKind {
	kind, err := descriptor.ParseMutationKind(string(p.Mutation))
	if err != nil {
		return descriptor.MutationNone
	}
	return kind
}

// ExtraArgs splits ExtraFlags like a shell would.
func (p Params) ExtraArgs() ([]string, error) {
	if strings.TrimSpace(p.ExtraFlags) == "" {
		return nil, nil
	}
	args, err := shellquote.Split(p.ExtraFlags)
	if err != nil {
		return nil, fmt.Errorf("invalid extra flags %q: %w", p.ExtraFlags, err)
	}
	return args, nil
}

// Validate checks the parameters before anything touches the host.
func (p Params) Validate(v *security.Validator) error {
	if p.DescriptorPath == "" {
		return fmt.Errorf("descriptor path is empty")
	}
	if strings.Contains(p.DescriptorPath, PlaceholderPath) {
		return fmt.Errorf("replace %s with a valid pool descriptor", p.DescriptorPath)
	}
	if err := v.ValidatePoolName(p.PoolName); err != nil {
		return err
	}
	if _, err := descriptor.ParseMutationKind(string(p.Mutation)); err != nil {
		return err
	}
	if p.MutationKind() == descriptor.MutationDuplicateSource {
		if p.ReplacementName == "" {
			return fmt.Errorf("mutation %s needs a replacement pool name", p.Mutation)
		}
		if err := v.ValidatePoolName(p.ReplacementName); err != nil {
			return err
		}
	}
	if _, err := p.ExtraArgs(); err != nil {
		return err
	}
	return nil
}
