package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// Config holds the defaults an index build reads when a flag is not
// explicitly set on the command line. File precedence (highest wins):
// defaults, global user config, project config, CLI flags.
type Config struct {
	Sparsity float64 `json:"sparsity,omitempty"`
	HashBits int     `json:"hash_bits,omitempty"` //nolint:tagliatelle // snake_case for config file
	Fsync    bool    `json:"fsync,omitempty"`
}

// ConfigFileName is the default project config file name, looked up in the
// working directory the build command runs from.
const ConfigFileName = ".hashindex.json"

// DefaultConfig returns the configuration used when neither a config file
// nor a CLI flag sets a value.
func DefaultConfig() Config {
	return Config{Sparsity: 1.3, HashBits: 0, Fsync: false}
}

// getGlobalConfigPath mirrors the $XDG_CONFIG_HOME / ~/.config convention:
// $XDG_CONFIG_HOME/hashindex/config.json, falling back to
// ~/.config/hashindex/config.json. Returns "" if neither can be resolved.
func getGlobalConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hashindex", "config.json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "hashindex", "config.json")
}

// LoadConfig layers the global config, then a project config file in
// workDir, on top of the built-in defaults. A missing file at either layer
// is not an error; a malformed one is.
func LoadConfig(workDir string) (Config, error) {
	cfg := DefaultConfig()

	if path := getGlobalConfigPath(); path != "" {
		overlay, loaded, err := loadConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		if loaded {
			cfg = mergeConfig(cfg, overlay)
		}
	}

	projectPath := filepath.Join(workDir, ConfigFileName)
	overlay, loaded, err := loadConfigFile(projectPath)
	if err != nil {
		return Config{}, err
	}
	if loaded {
		cfg = mergeConfig(cfg, overlay)
	}

	if cfg.Sparsity < 1.0 {
		return Config{}, fmt.Errorf("config: sparsity must be >= 1.0, got %v", cfg.Sparsity)
	}

	return cfg, nil
}

func loadConfigFile(path string) (Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is built from trusted env/workdir inputs
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, false, nil
		}
		return Config{}, false, fmt.Errorf("reading config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("invalid JSONC in %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("invalid JSON in %s: %w", path, err)
	}

	return cfg, true, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.Sparsity != 0 {
		base.Sparsity = overlay.Sparsity
	}
	if overlay.HashBits != 0 {
		base.HashBits = overlay.HashBits
	}
	if overlay.Fsync {
		base.Fsync = true
	}
	return base
}
