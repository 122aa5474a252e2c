// Package config loads the matcher's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration. Zero fields fall back to the
// defaults applied by Load.
type Config struct {
	Version int `yaml:"version"`

	// CatalogDB is the path of the read-only file catalog database.
	CatalogDB string `yaml:"catalog_db"`

	// PieceCacheDB is the path of the piece-hash cache database, created on
	// first use.
	PieceCacheDB string `yaml:"piece_cache_db"`

	// DedupeRoot is joined in front of relative catalog paths.
	DedupeRoot string `yaml:"dedupe_root"`

	// MaxConcurrentReads bounds in-flight hash reads (and with them open
	// file descriptors).
	MaxConcurrentReads int `yaml:"max_concurrent_reads"`

	// MaxBoundaryCombinations caps candidate-pair growth per boundary piece.
	MaxBoundaryCombinations int `yaml:"max_boundary_combinations"`

	// MaxCandidatesPerSlot caps candidates fetched per torrent file; 0 means
	// unbounded.
	MaxCandidatesPerSlot int `yaml:"max_candidates_per_slot"`

	// ExcludePatterns drops catalog candidates matching these globs.
	ExcludePatterns []string `yaml:"exclude_patterns"`
}

// Find searches for a config file in known locations, explicit path first.
func Find(explicitPath string) (string, error) {
	locations := []string{
		explicitPath,
		"reflink-dedupe.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		locations = append(locations,
			filepath.Join(home, ".config", "reflink-dedupe", "config.yaml"),
			filepath.Join(home, ".reflink-dedupe.yaml"),
		)
	}

	for _, loc := range locations {
		if loc == "" {
			continue
		}
		if _, err := os.Stat(loc); err == nil {
			return loc, nil
		}
	}

	return "", fmt.Errorf("could not find config file in known locations")
}

// Load reads and validates the config at path, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("could not parse config: %w", err)
	}

	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported config version: %d", cfg.Version)
	}
	if cfg.CatalogDB == "" {
		return nil, fmt.Errorf("catalog_db is required")
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a config with every tunable at its default, for use when
// no config file exists and flags provide the paths.
func Default() *Config {
	cfg := &Config{Version: 1}
	cfg.applyDefaults()
	return cfg
}
