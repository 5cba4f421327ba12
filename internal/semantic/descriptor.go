package semantic

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// descriptorFile reads and validates a single entity descriptor from disk:
// unmarshal, then validate invariants, same two-step shape used throughout
// this codebase for any externally-sourced document.
func descriptorFile(dir, name string) (*Entity, error) {
	path := filepath.Join(dir, name+".yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading entity %q: %v", ErrDescriptor, name, err)
	}

	var e Entity
	if err := yaml.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("%w: parsing entity %q: %v", ErrDescriptor, name, err)
	}
	if e.Name == "" {
		e.Name = name
	}
	if e.Name != name {
		return nil, fmt.Errorf("%w: entity file %q declares name %q", ErrDescriptor, name, e.Name)
	}
	if e.Table == "" {
		return nil, fmt.Errorf("%w: entity %q missing table", ErrDescriptor, name)
	}

	if err := e.build(); err != nil {
		return nil, err
	}
	return &e, nil
}

// rawDescriptorFile returns the unparsed descriptor text, used to inject
// full entity definitions into LLM prompts during planning.
func rawDescriptorFile(dir, name string) (string, error) {
	path := filepath.Join(dir, name+".yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: reading entity %q: %v", ErrDescriptor, name, err)
	}
	return string(raw), nil
}

// listEntityFiles enumerates entity names from one-file-per-entity YAML
// documents under dir.
func listEntityFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: listing entities dir %q: %v", ErrDescriptor, dir, err)
	}
	var names []string
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		if !strings.HasSuffix(ent.Name(), ".yaml") && !strings.HasSuffix(ent.Name(), ".yml") {
			continue
		}
		name := strings.TrimSuffix(strings.TrimSuffix(ent.Name(), ".yaml"), ".yml")
		names = append(names, name)
	}
	return names, nil
}

// catalogFile reads and parses the top-level catalog document.
func catalogFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading catalog %q: %v", ErrDescriptor, path, err)
	}
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: parsing catalog %q: %v", ErrDescriptor, path, err)
	}
	return &c, nil
}
