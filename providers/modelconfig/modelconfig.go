// Package modelconfig loads the YAML document describing which model
// provider a step's anthropic.Client (or another provider) should target,
// the same FileSource-plus-content-hash shape used elsewhere in the
// corpus for config that a pipeline needs to detect as changed.
package modelconfig

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProviderConfig is one entry in a Document's providers list.
type ProviderConfig struct {
	Name      string `yaml:"name"`
	BaseURL   string `yaml:"baseURL"`
	APIKeyEnv string `yaml:"apiKeyEnv"`
	Model     string `yaml:"model"`
}

// Document is the top-level model-config shape:
//
//	defaultModel: claude-sonnet-4-20250514
//	providers:
//	  - name: anthropic
//	    baseURL: https://api.anthropic.com
//	    apiKeyEnv: ANTHROPIC_API_KEY
//	    model: claude-sonnet-4-20250514
type Document struct {
	DefaultModel string           `yaml:"defaultModel"`
	Providers    []ProviderConfig `yaml:"providers"`
}

// ProviderNamed returns the provider entry with the given name.
func (d *Document) ProviderNamed(name string) (ProviderConfig, bool) {
	for _, p := range d.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// FileSource loads a Document from a YAML file on disk and can report a
// content hash for that file, for use as a pipeline input fingerprint
// alongside whatever else a step consumes.
type FileSource struct {
	path string
}

// NewFileSource creates a FileSource reading from path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Load reads and parses the YAML document at the source's path.
func (s *FileSource) Load(_ context.Context) (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("modelconfig: read %s: %w", s.path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("modelconfig: parse %s: %w", s.path, err)
	}
	return &doc, nil
}

// Hash returns the SHA256 hex digest of the raw file bytes, suitable for
// feeding into a Step's consumed values so the step's input hash changes
// whenever the on-disk config changes even if Document itself doesn't
// expose every field relevant to staleness.
func (s *FileSource) Hash(_ context.Context) (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("modelconfig: read %s: %w", s.path, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Name returns a human-readable identifier for this source.
func (s *FileSource) Name() string { return "file:" + s.path }

// Path returns the filesystem path this source reads from.
func (s *FileSource) Path() string { return s.path }
