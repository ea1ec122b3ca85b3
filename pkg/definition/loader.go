package definition

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Namespace seeds the name-based UUIDs of loaded definitions.
var Namespace = uuid.MustParse("3f0b5c8e-6a1d-5e42-9b7c-0d4e8a2f1c63")

// Parse decodes and validates one YAML document.
func Parse(data []byte) (*domain.ProcessDefinition, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse definition: %w", err)
	}
	if raw == nil {
		return nil, domain.Errorf(domain.ErrDefinition, "empty document")
	}

	var doc document
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &doc,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, domain.Errorf(domain.ErrDefinition, "failed to decode definition").Wrap(err)
	}

	def, err := doc.toDomain()
	if err != nil {
		return nil, domain.Errorf(domain.ErrDefinition, "definition %q", doc.Key).Wrap(err)
	}
	def.ID = uuid.NewSHA1(Namespace, data).String()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// LoadFile reads and parses a definition file.
func LoadFile(path string) (*domain.ProcessDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// LoadDir parses every .yaml and .yml file of dir, in file name order.
// All files are read; the errors of every invalid file are returned together.
func LoadDir(dir string) ([]*domain.ProcessDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var (
		defs []*domain.ProcessDefinition
		errs error
	)
	for _, name := range names {
		def, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		defs = append(defs, def)
	}
	return defs, errs
}

// Load parses path as a file, or every definition in it when it is a directory.
func Load(path string) ([]*domain.ProcessDefinition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat definitions: %w", err)
	}
	if info.IsDir() {
		return LoadDir(path)
	}
	def, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return []*domain.ProcessDefinition{def}, nil
}
