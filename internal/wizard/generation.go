package wizard

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const exampleChangelog = `--changeset %s:001-example
--comment Replace this with your first real change.
CREATE TABLE example (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL
);
--rollback DROP TABLE example;
`

// GenerateProject creates railbed.toml, the changelog directory with a
// numbered example file, and a .env file for the target.
func GenerateProject(target TargetInput) (*InitResult, error) {
	result := &InitResult{}

	changelogDir := target.ChangelogDir
	if changelogDir == "" {
		changelogDir = "changelog"
	}
	if err := os.MkdirAll(changelogDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create changelog directory: %w", err)
	}
	result.ChangelogDir = changelogDir

	examplePath := filepath.Join(changelogDir, "001-example.sql")
	if _, err := os.Stat(examplePath); os.IsNotExist(err) {
		author := currentUser()
		if err := os.WriteFile(examplePath, []byte(fmt.Sprintf(exampleChangelog, author)), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write example changelog: %w", err)
		}
		result.ChangelogCreated = true
	}

	configPath := "railbed.toml"
	configExists := false
	if _, err := os.Stat(configPath); err == nil {
		configExists = true
	}
	if err := writeConfig(configPath, target, changelogDir); err != nil {
		return nil, fmt.Errorf("failed to generate railbed.toml: %w", err)
	}
	result.ConfigPath = configPath
	if configExists {
		result.ConfigUpdated = true
	} else {
		result.ConfigCreated = true
	}

	envPath := ".env." + target.Name
	envContent := fmt.Sprintf("DATABASE_URL=%s\n", target.ConnectionString())
	if err := os.WriteFile(envPath, []byte(envContent), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", envPath, err)
	}
	result.EnvFile = envPath

	if err := updateGitignore(envPath); err != nil {
		return nil, fmt.Errorf("failed to update .gitignore: %w", err)
	}
	result.GitignoreUpdated = true

	return result, nil
}

// writeConfig merges the target into an existing railbed.toml or creates a
// fresh one.
func writeConfig(path string, target TargetInput, changelogDir string) error {
	config := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &config); err != nil {
			return fmt.Errorf("existing %s is not valid TOML: %w", path, err)
		}
	}

	targets, _ := config["targets"].(map[string]any)
	if targets == nil {
		targets = map[string]any{}
	}
	targets[target.Name] = map[string]any{
		"url": target.ConnectionString(),
	}
	config["targets"] = targets
	if _, ok := config["default_target"]; !ok {
		config["default_target"] = target.Name
	}
	if _, ok := config["changelog"]; !ok {
		config["changelog"] = changelogDir
	}

	data, err := toml.Marshal(config)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// updateGitignore makes sure per-target env files stay out of version
// control.
func updateGitignore(envPath string) error {
	const pattern = ".env.*"

	existing, err := os.ReadFile(".gitignore")
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, line := range strings.Split(string(existing), "\n") {
		if strings.TrimSpace(line) == pattern {
			return nil
		}
	}

	content := string(existing)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += pattern + "\n"
	return os.WriteFile(".gitignore", []byte(content), 0o644)
}

func currentUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "railbed"
}
