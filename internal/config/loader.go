package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileLoader reads a Config from a YAML file.
type FileLoader struct {
	path string
}

// NewFileLoader creates a loader for path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Load reads the file over the defaults. It does not apply the environment
// or validate.
func (l *FileLoader) Load(ctx context.Context) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (if any), then .env and GAINSIGHTPX_* overrides. The result is
// validated.
func Load(ctx context.Context, path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		loaded, err := NewFileLoader(path).Load(ctx)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
