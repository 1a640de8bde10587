package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// fileConfig mirrors the subset of shmcache.Options a JSONC config
// file can set, read with hujson so comments and trailing commas are
// tolerated.
type fileConfig struct {
	SharePath     string `json:"share_path,omitempty"`
	NumPages      string `json:"num_pages,omitempty"`
	PageSize      string `json:"page_size,omitempty"`
	InitSlots     string `json:"init_slots,omitempty"`
	LockTimeout   string `json:"lock_timeout,omitempty"`
	DefaultTTL    string `json:"default_ttl,omitempty"`
	WriteAction   string `json:"write_action,omitempty"`
	CacheNotFound bool   `json:"cache_not_found,omitempty"`
}

// configFileName is the project-local config file shmcachectl reads
// when no explicit -config flag is given.
const configFileName = ".shmcachectl.json"

// loadFileConfig reads and parses path as JSONC. A missing file is not
// an error; it just yields a zero-value fileConfig.
func loadFileConfig(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileConfig{}, nil
		}

		return fileConfig{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSONC in %s: %w", path, err)
	}

	var cfg fileConfig
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}
