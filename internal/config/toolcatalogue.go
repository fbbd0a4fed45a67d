package config

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"
)

// StaticToolEntry is a fallback tool-server descriptor used when a tool server
// cannot be discovered live (e.g. during dev-mode startup before the server is up).
// Mirrors the teacher's pattern of a supplementary YAML file read alongside
// environment-driven config (internal/config/config.go's model-router file), here
// scoped to the tool-server catalogue instead of model routing.
type StaticToolEntry struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	ServerURL   string `yaml:"server_url"`
}

// LoadToolCatalogueFile parses a YAML file of static tool descriptors. Returns an
// empty slice, not an error, when path is empty (the file is optional).
func LoadToolCatalogueFile(path string) ([]StaticToolEntry, error) {
	if path == "" {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open tool catalogue file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read tool catalogue file: %w", err)
	}

	var entries []StaticToolEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse tool catalogue file %s: %w", path, err)
	}
	return entries, nil
}
