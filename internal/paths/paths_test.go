package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfigDir_EnvOverride(t *testing.T) {
	t.Setenv("TETHER_CONFIG_DIR", "/tmp/custom-config")

	dir, err := ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir: %v", err)
	}
	if dir != "/tmp/custom-config" {
		t.Errorf("dir = %q, want /tmp/custom-config", dir)
	}
}

func TestDataDir_EnvPrecedence(t *testing.T) {
	t.Setenv("TETHER_DATA_DIR", "/tmp/custom-data")
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg")

	dir, err := DataDir()
	if err != nil {
		t.Fatalf("DataDir: %v", err)
	}
	if dir != "/tmp/custom-data" {
		t.Errorf("TETHER_DATA_DIR should win, got %q", dir)
	}

	t.Setenv("TETHER_DATA_DIR", "")
	os.Unsetenv("TETHER_DATA_DIR")
	dir, err = DataDir()
	if err != nil {
		t.Fatalf("DataDir: %v", err)
	}
	if dir != filepath.Join("/tmp/xdg", "tether") {
		t.Errorf("XDG_DATA_HOME should apply, got %q", dir)
	}
}

func TestSessionDBPath_CreatesDir(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TETHER_DATA_DIR", filepath.Join(tmp, "nested", "data"))

	path, err := SessionDBPath()
	if err != nil {
		t.Fatalf("SessionDBPath: %v", err)
	}
	info, err := os.Stat(filepath.Dir(path))
	if err != nil || !info.IsDir() {
		t.Errorf("data dir not created: %v", err)
	}
	if filepath.Base(path) != "sessions.db" {
		t.Errorf("path = %q", path)
	}
}

func TestConfigFilePath_FileOverride(t *testing.T) {
	t.Setenv("TETHER_CONFIG", "/etc/tether/alt.toml")

	path, err := ConfigFilePath()
	if err != nil {
		t.Fatalf("ConfigFilePath: %v", err)
	}
	if path != "/etc/tether/alt.toml" {
		t.Errorf("path = %q", path)
	}
}
