package persona

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// personasFile is the on-disk YAML shape: a single top-level personas list.
type personasFile struct {
	Personas []Persona `yaml:"personas"`
}

// FileStore serves personas from a YAML file loaded once at construction.
// It is read-only after construction and safe for concurrent use.
type FileStore struct {
	personas map[string]Persona
}

// NewFileStore reads and validates the personas file at path.
func NewFileStore(path string) (*FileStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("persona: open %q: %w", path, err)
	}
	defer f.Close()

	s, err := NewFileStoreFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("persona: parse %q: %w", path, err)
	}
	return s, nil
}

// NewFileStoreFromReader decodes a personas YAML document from r and validates
// it. Useful in tests where documents are built from string literals.
func NewFileStoreFromReader(r io.Reader) (*FileStore, error) {
	var file personasFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("persona: decode yaml: %w", err)
	}

	var errs []error
	personas := make(map[string]Persona, len(file.Personas))
	for i, p := range file.Personas {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("personas[%d]: name is required", i))
			continue
		}
		if strings.TrimSpace(p.SystemPrompt) == "" {
			errs = append(errs, fmt.Errorf("personas[%d] (%s): system_prompt is required", i, name))
			continue
		}
		if _, dup := personas[name]; dup {
			errs = append(errs, fmt.Errorf("personas[%d]: duplicate name %q", i, name))
			continue
		}
		p.Name = name
		personas[name] = p
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if len(personas) == 0 {
		return nil, errors.New("persona: file defines no personas")
	}
	return &FileStore{personas: personas}, nil
}

// Resolve implements Store.
func (s *FileStore) Resolve(_ context.Context, name string) (Persona, error) {
	p, ok := s.personas[name]
	if !ok {
		return Persona{}, fmt.Errorf("persona: resolve %q: %w", name, ErrNotFound)
	}
	return p, nil
}

// Names returns the names of all loaded personas in unspecified order.
func (s *FileStore) Names() []string {
	names := make([]string, 0, len(s.personas))
	for name := range s.personas {
		names = append(names, name)
	}
	return names
}

var _ Store = (*FileStore)(nil)
