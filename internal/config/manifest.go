package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ModelSpec describes one model to keep loaded. Zero policy fields fall
// back to the service-wide defaults in Config.
type ModelSpec struct {
	Name           string        `yaml:"name"`
	URL            string        `yaml:"url"`
	CachePath      string        `yaml:"cache_path"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	MaxAge         time.Duration `yaml:"max_age"`
}

// UnmarshalYAML accepts durations in time.ParseDuration notation
// ("90s", "5m"), which yaml.v3 does not handle for time.Duration fields
// on its own.
func (s *ModelSpec) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Name           string `yaml:"name"`
		URL            string `yaml:"url"`
		CachePath      string `yaml:"cache_path"`
		MaxAttempts    int    `yaml:"max_attempts"`
		InitialBackoff string `yaml:"initial_backoff"`
		MaxBackoff     string `yaml:"max_backoff"`
		MaxAge         string `yaml:"max_age"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	s.Name = raw.Name
	s.URL = raw.URL
	s.CachePath = raw.CachePath
	s.MaxAttempts = raw.MaxAttempts

	for _, f := range []struct {
		field string
		in    string
		out   *time.Duration
	}{
		{"initial_backoff", raw.InitialBackoff, &s.InitialBackoff},
		{"max_backoff", raw.MaxBackoff, &s.MaxBackoff},
		{"max_age", raw.MaxAge, &s.MaxAge},
	} {
		if f.in == "" {
			continue
		}
		d, err := time.ParseDuration(f.in)
		if err != nil {
			return fmt.Errorf("model %q: invalid %s: %w", raw.Name, f.field, err)
		}
		*f.out = d
	}
	return nil
}

// manifest is the YAML file shape.
type manifest struct {
	Models []ModelSpec `yaml:"models"`
}

// LoadManifest parses a YAML model manifest.
func LoadManifest(path string) ([]ModelSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(m.Models) == 0 {
		return nil, fmt.Errorf("manifest %s lists no models", path)
	}
	seen := make(map[string]struct{}, len(m.Models))
	for i, spec := range m.Models {
		if spec.Name == "" {
			return nil, fmt.Errorf("manifest %s: model %d has no name", path, i)
		}
		if _, dup := seen[spec.Name]; dup {
			return nil, fmt.Errorf("manifest %s: duplicate model %q", path, spec.Name)
		}
		seen[spec.Name] = struct{}{}
	}
	return m.Models, nil
}

// ModelSpecs returns the models to manage: the manifest when one is
// configured, otherwise a single spec from the flag/env fields. Policy
// gaps are filled from the config defaults.
func (c *Config) ModelSpecs() ([]ModelSpec, error) {
	var specs []ModelSpec
	if c.ManifestPath != "" {
		loaded, err := LoadManifest(c.ManifestPath)
		if err != nil {
			return nil, err
		}
		specs = loaded
	} else {
		name := c.ModelName
		if name == "" {
			name = "default"
		}
		specs = []ModelSpec{{
			Name:      name,
			URL:       c.ModelURL,
			CachePath: c.ModelCachePath,
		}}
	}

	for i := range specs {
		spec := &specs[i]
		if spec.MaxAttempts <= 0 {
			spec.MaxAttempts = c.MaxAttempts
		}
		if spec.InitialBackoff <= 0 {
			spec.InitialBackoff = c.InitialBackoff
		}
		if spec.MaxBackoff <= 0 {
			spec.MaxBackoff = c.MaxBackoff
		}
		if spec.MaxAge <= 0 {
			spec.MaxAge = c.MaxModelAge
		}
		expanded, err := expandHome(spec.CachePath)
		if err != nil {
			return nil, err
		}
		spec.CachePath = expanded
	}
	return specs, nil
}
