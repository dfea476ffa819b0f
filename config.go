package securefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Environment variables overriding the file-based configuration. Each
// takes priority over the corresponding config file field.
const (
	EnvKeyPath    = "SECUREFS_KEY_PATH"
	EnvStorageDir = "SECUREFS_STORAGE_DIR"
	EnvConfigPath = "SECUREFS_CONFIG"
)

// Defaults used when neither the config file nor the environment
// provides a value.
const (
	DefaultKeyPath    = "./securefs.key"
	DefaultStorageDir = "./storage"
	DefaultConfigPath = "config.json"
)

// Config holds the two paths the storage layer needs: where the key
// file lives and where encrypted objects are stored.
type Config struct {
	KeyPath    string `json:"key_path"`
	StorageDir string `json:"storage_dir"`
}

// DefaultConfig returns a config pointing at the default key and
// storage locations under the current directory.
func DefaultConfig() *Config {
	return &Config{
		KeyPath:    DefaultKeyPath,
		StorageDir: DefaultStorageDir,
	}
}

// LoadConfig reads a JSON config file. A missing file fails with
// ErrConfigMissing, unparseable JSON or empty paths with
// ErrConfigInvalid.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewConfigError(path, fmt.Errorf("config file not found: %w", ErrConfigMissing))
		}
		return nil, NewConfigError(path, fmt.Errorf("failed to read config file: %w", err))
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, NewConfigError(path, fmt.Errorf("failed to parse config file: %v: %w", err, ErrConfigInvalid))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfigWithEnv resolves configuration with priority environment >
// config file > defaults. SECUREFS_CONFIG overrides the config path
// itself; a missing config file is tolerated here and falls back to
// defaults, since the environment alone can carry a full configuration.
func LoadConfigWithEnv(path string) (*Config, error) {
	if v := os.Getenv(EnvConfigPath); v != "" {
		path = v
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		if !errors.Is(err, ErrConfigMissing) {
			return nil, err
		}
		cfg = DefaultConfig()
	}

	if v := os.Getenv(EnvKeyPath); v != "" {
		cfg.KeyPath = v
	}
	if v := os.Getenv(EnvStorageDir); v != "" {
		cfg.StorageDir = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as pretty-printed JSON.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return NewConfigError(path, fmt.Errorf("failed to encode config: %w", err))
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0644); err != nil {
		return NewConfigError(path, fmt.Errorf("failed to write config file: %w", err))
	}
	return nil
}

// Validate rejects configs with empty paths and warns, without
// failing, about key locations that look exposed: a key file under a
// web-served directory or a key path using parent traversal.
func (c *Config) Validate() error {
	if c.KeyPath == "" {
		return NewConfigError(c.KeyPath, fmt.Errorf("key path is empty: %w", ErrConfigInvalid))
	}
	if c.StorageDir == "" {
		return NewConfigError(c.StorageDir, fmt.Errorf("storage directory is empty: %w", ErrConfigInvalid))
	}

	if dir := webServedParent(c.KeyPath); dir != "" {
		logrus.WithFields(logrus.Fields{
			"path":   c.KeyPath,
			"parent": dir,
		}).Warn("key file is located under a web-served directory")
	}
	if strings.Contains(c.KeyPath, "..") {
		logrus.WithField("path", c.KeyPath).Warn("key path contains parent directory traversal")
	}

	return nil
}

// webServedParent returns the first ancestor directory name that looks
// web-served, or "" when none does.
func webServedParent(path string) string {
	dir := filepath.Dir(path)
	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		switch strings.ToLower(part) {
		case "public", "www", "htdocs":
			return part
		}
	}
	return ""
}
