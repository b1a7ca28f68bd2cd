// Package descriptor holds storage-pool descriptor documents and the
// structural edits applied to them before a pool-create run.
package descriptor

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/virtqa/pool-create-check/pkg/errors"
	"libvirt.org/go/libvirtxml"
)

// Store binds a parsed pool descriptor to the file it is written to.
type Store struct {
	path string
	pool *libvirtxml.StoragePool
}

// Load reads and parses the descriptor at path.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("descriptor_read_failed", "path", path, "error", err)
		return nil, errors.Wrap(err, "failed to read descriptor")
	}
	return Parse(path, string(data))
}

// Parse wraps an XML document that will be saved to path.
func Parse(path, doc string) (*Store, error) {
	pool := &libvirtxml.StoragePool{}
	if err := pool.Unmarshal(doc); err != nil {
		slog.Error("descriptor_parse_failed", "path", path, "error", err)
		return nil, errors.Wrap(err, "failed to parse descriptor")
	}
	slog.Info("descriptor_loaded", "path", path, "pool", pool.Name, "type", pool.Type)
	return &Store{path: path, pool: pool}, nil
}

// Pool returns the document for in-place edits.
func (s *Store) Pool() *libvirtxml.StoragePool {
	return s.pool
}

// Path returns the file the descriptor is saved to.
func (s *Store) Path() string {
	return s.path
}

// XML serializes the current document.
func (s *Store) XML() (string, error) {
	doc, err := s.pool.Marshal()
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal descriptor")
	}
	return doc, nil
}

// Save writes the current document to Path.
func (s *Store) Save() error {
	doc, err := s.XML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, []byte(doc+"\n"), 0644); err != nil {
		slog.Error("descriptor_write_failed", "path", s.path, "error", err)
		return errors.Wrap(err, "failed to write descriptor")
	}
	slog.Info("descriptor_saved", "path", s.path, "pool", s.pool.Name)
	return nil
}

// WriteRaw writes text verbatim, bypassing the document model.
func WriteRaw(path, text string) error {
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return errors.Wrap(err, "failed to write raw descriptor")
	}
	return nil
}

// RemoveFile deletes path if it exists.
func RemoveFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}
