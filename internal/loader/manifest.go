package loader

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/JustJay7/juvenile-rep-analytics/internal/fetcher"
)

//go:embed sources.yaml
var defaultManifest []byte

// TableSource describes one raw table file
type TableSource struct {
	Table     string `yaml:"table"`
	File      string `yaml:"file"`
	RemoteID  string `yaml:"remote_id"`
	Delimiter string `yaml:"delimiter"`
	Gzip      bool   `yaml:"gzip"`
	Required  bool   `yaml:"required"`
}

// Comma returns the field delimiter as a rune, defaulting to ','
func (s TableSource) Comma() rune {
	if s.Delimiter == "" {
		return ','
	}
	return []rune(s.Delimiter)[0]
}

// Manifest lists every raw table the loader knows about
type Manifest struct {
	Sources []TableSource `yaml:"sources"`
}

// DefaultManifest returns the built-in manifest
func DefaultManifest() *Manifest {
	m, err := ParseManifest(defaultManifest)
	if err != nil {
		panic(fmt.Sprintf("embedded sources.yaml is invalid: %v", err))
	}
	return m
}

// LoadManifest reads a manifest file, or the built-in one when path is empty
func LoadManifest(path string) (*Manifest, error) {
	if path == "" {
		return DefaultManifest(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes and validates a YAML manifest
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse sources: %w", err)
	}

	seen := map[string]bool{}
	for _, s := range m.Sources {
		if _, ok := decoders[s.Table]; !ok {
			return nil, fmt.Errorf("unknown table %q in sources", s.Table)
		}
		if s.File == "" {
			return nil, fmt.Errorf("table %q has no file", s.Table)
		}
		if seen[s.Table] {
			return nil, fmt.Errorf("table %q listed twice", s.Table)
		}
		if len([]rune(s.Delimiter)) > 1 {
			return nil, fmt.Errorf("table %q: delimiter must be a single character", s.Table)
		}
		if isRequired(s.Table) && !s.Required {
			return nil, fmt.Errorf("table %q cannot be optional", s.Table)
		}
		seen[s.Table] = true
	}

	for _, table := range requiredTables {
		if !seen[table] {
			return nil, fmt.Errorf("sources must list required table %q", table)
		}
	}

	return &m, nil
}

// Lookup finds a table's source entry
func (m *Manifest) Lookup(table string) (TableSource, bool) {
	for _, s := range m.Sources {
		if s.Table == table {
			return s, true
		}
	}
	return TableSource{}, false
}

// Files converts the manifest into download requests, skipping entries with
// no remote ID
func (m *Manifest) Files() []fetcher.File {
	files := make([]fetcher.File, 0, len(m.Sources))
	for _, s := range m.Sources {
		if s.RemoteID == "" {
			continue
		}
		files = append(files, fetcher.File{
			Name:     s.File,
			RemoteID: s.RemoteID,
			Gzip:     s.Gzip,
		})
	}
	return files
}
