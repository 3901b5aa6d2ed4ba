package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultTargetName = "local"

// ResolvedTarget is a fully-resolved target with concrete values.
type ResolvedTarget struct {
	Name        string
	URL         string
	Changelog   string
	Contexts    string
	Labels      string
	Table       string
	LockTimeout time.Duration
	DotenvPath  string
	FromConfig  bool
	FromDotenv  bool
}

// ResolveTarget resolves a named target into a concrete connection string
// and changelog location. Values layer as: config file, then .env.<name>
// overrides; explicit command-line flags are applied by the caller on top.
func ResolveTarget(config *Config, name string) (*ResolvedTarget, error) {
	targetName := strings.TrimSpace(name)
	if targetName == "" {
		if config != nil && config.DefaultTarget != "" {
			targetName = config.DefaultTarget
		} else {
			targetName = defaultTargetName
		}
	}

	resolved := &ResolvedTarget{Name: targetName}

	var targetConfig TargetConfig
	if config != nil {
		if config.Changelog != "" {
			resolved.Changelog = config.Changelog
		}
		if cfg, ok := config.Targets[targetName]; ok {
			targetConfig = cfg
			resolved.FromConfig = true
		}
	}

	resolved.URL = targetConfig.URL
	resolved.Contexts = targetConfig.Contexts
	resolved.Labels = targetConfig.Labels
	resolved.Table = targetConfig.Table
	if targetConfig.Changelog != "" {
		resolved.Changelog = targetConfig.Changelog
	}
	if targetConfig.LockTimeout != "" {
		d, err := time.ParseDuration(targetConfig.LockTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid lock_timeout for target %s: %w", targetName, err)
		}
		resolved.LockTimeout = d
	}

	baseDir := ""
	if config != nil {
		baseDir = config.ConfigDir()
	}
	if baseDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			baseDir = cwd
		}
	}
	resolved.DotenvPath = filepath.Join(baseDir, ".env."+targetName)

	if info, err := os.Stat(resolved.DotenvPath); err == nil && !info.IsDir() {
		values, err := godotenv.Read(resolved.DotenvPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", resolved.DotenvPath, err)
		}
		resolved.FromDotenv = true

		if value := values["DATABASE_URL"]; value != "" {
			resolved.URL = value
		}
		if resolved.URL == "" {
			if value := values["POSTGRES_URL"]; value != "" {
				resolved.URL = value
			}
		}
	} else if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to access %s: %w", resolved.DotenvPath, err)
	}

	// Environment variable as a last layer before flags.
	if resolved.URL == "" {
		resolved.URL = os.Getenv("DATABASE_URL")
	}

	return resolved, nil
}
