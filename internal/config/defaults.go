package config

import (
	"os"
	"path/filepath"
)

const (
	DefaultMaxConcurrentReads      = 8
	DefaultMaxBoundaryCombinations = 10000
)

func (c *Config) applyDefaults() {
	if c.MaxConcurrentReads <= 0 {
		c.MaxConcurrentReads = DefaultMaxConcurrentReads
	}
	if c.MaxBoundaryCombinations <= 0 {
		c.MaxBoundaryCombinations = DefaultMaxBoundaryCombinations
	}
	if c.PieceCacheDB == "" {
		c.PieceCacheDB = defaultPieceCachePath()
	}
}

func defaultPieceCachePath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "reflink-dedupe", "pieces.db")
	}
	return "pieces.db"
}
