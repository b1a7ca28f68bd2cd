package descriptor

import (
	"fmt"
	"log/slog"
	"strings"

	"libvirt.org/go/libvirtxml"
)

// MutationKind selects how a dumped descriptor is turned into a new input.
type MutationKind string

const (
	MutationNone            MutationKind = "none"
	MutationDuplicateName   MutationKind = "duplicate-name"
	MutationDuplicateUUID   MutationKind = "duplicate-uuid"
	MutationDuplicateSource MutationKind = "duplicate-source"
)

// ParseMutationKind accepts the kind names and the bare element names used
// by older scenario files ("name", "uuid", "source"). Empty means none.
func ParseMutationKind(s string) (MutationKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return MutationNone, nil
	case "duplicate-name", "name":
		return MutationDuplicateName, nil
	case "duplicate-uuid", "uuid":
		return MutationDuplicateUUID, nil
	case "duplicate-source", "source":
		return MutationDuplicateSource, nil
	}
	return "", fmt.Errorf("unknown mutation kind %q", s)
}

// KeepsOriginal reports whether the original pool must stay up so that the
// collision happens at creation time.
func (k MutationKind) KeepsOriginal() bool {
	return k == MutationDuplicateName || k == MutationDuplicateUUID || k == MutationDuplicateSource
}

func (k MutationKind) String() string {
	return string(k)
}

// corrupted is deliberately not well-formed XML.
const corrupted = `"<pool><<<BAD>>><'XML</name\>!@#$%^&*)>(}>}{CORRUPTE|>!</pool>`

// Corrupt returns a document no parser accepts.
func Corrupt() string {
	return corrupted
}

// StripUUID removes the uuid element so the pool manager assigns a new one.
func StripUUID(pool *libvirtxml.StoragePool) {
	pool.UUID = ""
}

// RewriteSourceDevicePath points the single source device at path.
func RewriteSourceDevicePath(pool *libvirtxml.StoragePool, path string) error {
	if path == "" {
		return fmt.Errorf("empty device path")
	}
	if pool.Source == nil {
		pool.Source = &libvirtxml.StoragePoolSource{}
	}
	switch len(pool.Source.Device) {
	case 0:
		pool.Source.Device = []libvirtxml.StoragePoolSourceDevice{{Path: path}}
	case 1:
		pool.Source.Device[0].Path = path
	default:
		return fmt.Errorf("source lists %d devices, refusing ambiguous rewrite", len(pool.Source.Device))
	}
	return nil
}

// ApplyMutation performs the document side of kind. duplicate-name and
// duplicate-uuid leave the document alone: their collision comes from the
// original pool still being active when the copy is created.
func ApplyMutation(pool *libvirtxml.StoragePool, kind MutationKind, replacementName string) error {
	switch kind {
	case MutationNone, MutationDuplicateName, MutationDuplicateUUID:
		return nil
	case MutationDuplicateSource:
		if replacementName == "" {
			return fmt.Errorf("duplicate-source needs a replacement pool name")
		}
		StripUUID(pool)
		pool.Name = replacementName
		return nil
	}
	return fmt.Errorf("unknown mutation kind %q", kind)
}

// RewriteSourceFormat replaces source/format/@type with format when it
// currently reads from, and nothing else. An empty from matches a source
// without a format. A document whose format differs is left unchanged.
func RewriteSourceFormat(pool *libvirtxml.StoragePool, from, format string) error {
	if format == "" {
		return fmt.Errorf("empty source format")
	}
	if pool.Source == nil {
		return fmt.Errorf("descriptor of pool %q has no source element", pool.Name)
	}

	current := ""
	if pool.Source.Format != nil {
		current = pool.Source.Format.Type
	}
	if current != from {
		slog.Info("source_format_unchanged", "pool", pool.Name, "format", current, "expected", from)
		return nil
	}
	pool.Source.Format = &libvirtxml.StoragePoolSourceFormat{Type: format}
	return nil
}
