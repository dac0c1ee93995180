package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads, expands, parses, defaults, converts, and validates the
// configuration file at path, mirroring the teacher's pkg/config/loader.go
// pipeline shape (read -> env-expand -> unmarshal -> defaults -> validate).
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError(path, ErrConfigNotFound)
		}
		return nil, NewLoadError(path, err)
	}

	expanded := ExpandEnv(raw)

	var f yamlFile
	if err := yaml.Unmarshal(expanded, &f); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	applyDefaults(&f)

	cfg, err := convertFile(&f)
	if err != nil {
		return nil, NewLoadError(path, err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, err
	}

	return cfg, nil
}
