// Package config loads railbed.toml and resolves named targets into
// concrete connection settings.
package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

const configFileName = "railbed.toml"

// TargetConfig describes a single named target from railbed.toml.
type TargetConfig struct {
	URL         string `toml:"url"`
	Changelog   string `toml:"changelog"`
	Contexts    string `toml:"contexts"`
	Labels      string `toml:"labels"`
	Table       string `toml:"table"`
	LockTimeout string `toml:"lock_timeout"`
}

// Config is the parsed railbed.toml.
type Config struct {
	DefaultTarget string                  `toml:"default_target"`
	Changelog     string                  `toml:"changelog"`
	Targets       map[string]TargetConfig `toml:"targets"`

	ConfigFilePath string `toml:"-"`
}

// LoadConfig finds and parses railbed.toml, walking up from the working
// directory until a project boundary. A missing file is not an error; the
// returned config is empty and ConfigFilePath is "".
func LoadConfig() (*Config, error) {
	startDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	dir := startDir
	for {
		configPath := filepath.Join(dir, configFileName)
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, err
			}

			var config Config
			if err := toml.Unmarshal(data, &config); err != nil {
				return nil, err
			}

			config.ConfigFilePath = configPath
			return &config, nil
		}

		if isProjectRoot(dir) {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}

	return &Config{}, nil
}

// ConfigDir returns the directory holding railbed.toml, or "" when no
// config file was found.
func (c *Config) ConfigDir() string {
	if c.ConfigFilePath == "" {
		return ""
	}
	return filepath.Dir(c.ConfigFilePath)
}

// isProjectRoot checks if the directory is a project root based on common markers
func isProjectRoot(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return true
	}
	if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
		return true
	}
	if _, err := os.Stat(filepath.Join(dir, "package.json")); err == nil {
		return true
	}
	return false
}
