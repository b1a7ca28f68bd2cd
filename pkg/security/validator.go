package security

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultMaxDescriptorSize bounds descriptor files read into memory (1MB)
const DefaultMaxDescriptorSize = 1024 * 1024

// poolNamePattern matches names usable both by the pool manager and as
// file name components in the scratch dir.
var poolNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.+-]*$`)

// Validator checks scenario inputs before they reach the host
type Validator struct {
	scratchDir        string
	maxDescriptorSize int64
}

// NewValidator creates a new input validator
func NewValidator(scratchDir string, maxDescriptorSize int64) *Validator {
	if maxDescriptorSize <= 0 {
		maxDescriptorSize = DefaultMaxDescriptorSize
	}
	slog.Debug("security_validator_init",
		"scratch_dir", scratchDir,
		"max_descriptor_size_kb", maxDescriptorSize/1024)

	return &Validator{
		scratchDir:        scratchDir,
		maxDescriptorSize: maxDescriptorSize,
	}
}

// ValidatePoolName rejects names that could escape the scratch dir or
// that virsh would parse as an option.
func (v *Validator) ValidatePoolName(name string) error {
	if !poolNamePattern.MatchString(name) {
		slog.Error("security_pool_name_rejected", "pool", name)
		return fmt.Errorf("security: invalid pool name %q", name)
	}
	return nil
}

// ValidateScratchPath checks that a relative path stays inside the
// scratch dir and returns the joined path.
func (v *Validator) ValidateScratchPath(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		slog.Error("security_path_validation_failed", "path", rel, "reason", "absolute_path")
		return "", fmt.Errorf("security: absolute path not allowed: %s", rel)
	}

	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		slog.Error("security_path_validation_failed", "path", rel, "reason", "path_traversal")
		return "", fmt.Errorf("security: path traversal detected: %s", rel)
	}

	return filepath.Join(v.scratchDir, clean), nil
}

// ValidateDescriptorSize checks a descriptor file against the size limit
func (v *Validator) ValidateDescriptorSize(size int64) error {
	if size > v.maxDescriptorSize {
		slog.Error("security_descriptor_size_exceeded",
			"size_kb", size/1024,
			"max_size_kb", v.maxDescriptorSize/1024)
		return fmt.Errorf("security: descriptor size %d exceeds max %d", size, v.maxDescriptorSize)
	}
	return nil
}

// ScratchDir returns the directory all run files live in
func (v *Validator) ScratchDir() string {
	return v.scratchDir
}
