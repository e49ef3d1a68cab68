package plugins

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefinitionFile pairs a parsed module definition with its on-disk source.
// Multi-document files yield one entry per document, with the document index
// appended to the path.
type DefinitionFile struct {
	Definition ModuleDefinition
	Path       string
}

// ParseDefinitionYAML decodes and validates a single module definition.
func ParseDefinitionYAML(data []byte) (ModuleDefinition, error) {
	defs, err := ParseDefinitionsYAML(data)
	if err != nil {
		return ModuleDefinition{}, err
	}
	if len(defs) != 1 {
		return ModuleDefinition{}, fmt.Errorf("plugin: expected one definition, got %d", len(defs))
	}
	return defs[0], nil
}

// ParseDefinitionsYAML decodes a definition payload that may hold several
// YAML documents, one module definition each. Module packs ship related
// modules in a single file this way.
func ParseDefinitionsYAML(data []byte) ([]ModuleDefinition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("plugin: definition payload is empty")
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var defs []ModuleDefinition
	for {
		var def ModuleDefinition
		if err := dec.Decode(&def); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("plugin: decode definition: %w", err)
		}
		if err := def.Validate(); err != nil {
			return nil, err
		}
		defs = append(defs, def.Normalized())
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("plugin: definition payload has no documents")
	}
	return defs, nil
}

// LoadDefinitionFile reads one YAML file and returns every definition in it.
func LoadDefinitionFile(path string) ([]DefinitionFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("plugin: %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: read %s: %w", path, err)
	}
	defs, err := ParseDefinitionsYAML(data)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s: %w", path, err)
	}
	clean := filepath.Clean(path)
	files := make([]DefinitionFile, 0, len(defs))
	for i, def := range defs {
		src := clean
		if len(defs) > 1 {
			src = fmt.Sprintf("%s#%d", clean, i+1)
		}
		files = append(files, DefinitionFile{Definition: def, Path: src})
	}
	return files, nil
}

// LoadDefinitionDir scans a directory for *.yaml / *.yml module definitions.
// A missing directory means no plugins are installed.
func LoadDefinitionDir(dir string) ([]DefinitionFile, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("plugin: read %s: %w", trimmed, err)
	}
	var defs []DefinitionFile
	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}
		files, err := LoadDefinitionFile(filepath.Join(trimmed, entry.Name()))
		if err != nil {
			return nil, err
		}
		defs = append(defs, files...)
	}
	if len(defs) == 0 {
		return nil, nil
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Path < defs[j].Path })
	return defs, nil
}

func isYAMLFile(name string) bool {
	switch strings.ToLower(filepath.Ext(strings.TrimSpace(name))) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
