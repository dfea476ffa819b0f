package securefs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.KeyPath != DefaultKeyPath {
		t.Errorf("KeyPath = %q, want %q", cfg.KeyPath, DefaultKeyPath)
	}
	if cfg.StorageDir != DefaultStorageDir {
		t.Errorf("StorageDir = %q, want %q", cfg.StorageDir, DefaultStorageDir)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
		if !errors.Is(err, ErrConfigMissing) {
			t.Errorf("err = %v, want ErrConfigMissing", err)
		}
		if !IsConfigError(err) {
			t.Errorf("error is not a ConfigError: %v", err)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.json")
		if err := os.WriteFile(path, []byte("{oops"), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		_, err := LoadConfig(path)
		if !errors.Is(err, ErrConfigInvalid) {
			t.Errorf("err = %v, want ErrConfigInvalid", err)
		}
	})

	t.Run("empty paths", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.json")
		if err := os.WriteFile(path, []byte(`{"key_path": "", "storage_dir": "/x"}`), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		_, err := LoadConfig(path)
		if !errors.Is(err, ErrConfigInvalid) {
			t.Errorf("err = %v, want ErrConfigInvalid", err)
		}
	})

	t.Run("round trip through save", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		want := &Config{KeyPath: "/keys/main.key", StorageDir: "/data/vault"}

		if err := want.Save(path); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		got, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if *got != *want {
			t.Errorf("LoadConfig = %+v, want %+v", got, want)
		}
	})
}

func TestLoadConfigWithEnv(t *testing.T) {
	t.Run("environment overrides the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		file := &Config{KeyPath: "/from/file.key", StorageDir: "/from/file"}
		if err := file.Save(path); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		t.Setenv(EnvKeyPath, "/from/env.key")

		cfg, err := LoadConfigWithEnv(path)
		if err != nil {
			t.Fatalf("LoadConfigWithEnv failed: %v", err)
		}
		if cfg.KeyPath != "/from/env.key" {
			t.Errorf("KeyPath = %q, want the environment value", cfg.KeyPath)
		}
		if cfg.StorageDir != "/from/file" {
			t.Errorf("StorageDir = %q, want the file value", cfg.StorageDir)
		}
	})

	t.Run("missing file falls back to defaults", func(t *testing.T) {
		t.Setenv(EnvStorageDir, "/env/storage")

		cfg, err := LoadConfigWithEnv(filepath.Join(t.TempDir(), "absent.json"))
		if err != nil {
			t.Fatalf("LoadConfigWithEnv failed: %v", err)
		}
		if cfg.KeyPath != DefaultKeyPath {
			t.Errorf("KeyPath = %q, want the default", cfg.KeyPath)
		}
		if cfg.StorageDir != "/env/storage" {
			t.Errorf("StorageDir = %q, want the environment value", cfg.StorageDir)
		}
	})

	t.Run("env redirects the config path", func(t *testing.T) {
		dir := t.TempDir()
		real := filepath.Join(dir, "real.json")
		cfg := &Config{KeyPath: "/redirected.key", StorageDir: "/redirected"}
		if err := cfg.Save(real); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		t.Setenv(EnvConfigPath, real)

		got, err := LoadConfigWithEnv(filepath.Join(dir, "ignored.json"))
		if err != nil {
			t.Fatalf("LoadConfigWithEnv failed: %v", err)
		}
		if got.KeyPath != "/redirected.key" {
			t.Errorf("KeyPath = %q, want the redirected file's value", got.KeyPath)
		}
	})

	t.Run("broken file is not masked", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.json")
		if err := os.WriteFile(path, []byte("not json"), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		if _, err := LoadConfigWithEnv(path); !errors.Is(err, ErrConfigInvalid) {
			t.Errorf("err = %v, want ErrConfigInvalid", err)
		}
	})
}

func TestConfig_SaveValidates(t *testing.T) {
	bad := &Config{KeyPath: "", StorageDir: "/x"}
	if err := bad.Save(filepath.Join(t.TempDir(), "c.json")); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("Save of an invalid config: err = %v, want ErrConfigInvalid", err)
	}
}

func TestWebServedParent(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/var/www/secrets/app.key", "www"},
		{"/srv/public/app.key", "public"},
		{"/opt/htdocs/deep/nested/app.key", "htdocs"},
		{"/home/user/.keys/app.key", ""},
		{"./app.key", ""},
	}

	for _, tt := range tests {
		if got := webServedParent(tt.path); got != tt.want {
			t.Errorf("webServedParent(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
