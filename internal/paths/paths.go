// Package paths resolves the per-user directories tether stores its
// configuration and session database in.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const appDir = "tether"

// ConfigDir returns the directory holding config.toml. Honors
// TETHER_CONFIG_DIR, otherwise uses the platform user config dir.
func ConfigDir() (string, error) {
	if dir := os.Getenv("TETHER_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, appDir), nil
}

// DataDir returns the directory holding sessions.db. Honors TETHER_DATA_DIR,
// then XDG_DATA_HOME; falls back to ~/.local/share on Unix and the user
// config dir elsewhere.
func DataDir() (string, error) {
	if dir := os.Getenv("TETHER_DATA_DIR"); dir != "" {
		return dir, nil
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appDir), nil
	}
	if runtime.GOOS == "linux" || runtime.GOOS == "darwin" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		return filepath.Join(home, ".local", "share", appDir), nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, appDir), nil
}

// SessionDBPath returns the path to the session database, creating the data
// directory if needed.
func SessionDBPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	return filepath.Join(dir, "sessions.db"), nil
}

// ConfigFilePath returns the path to config.toml. Honors TETHER_CONFIG as a
// full-file override.
func ConfigFilePath() (string, error) {
	if path := os.Getenv("TETHER_CONFIG"); path != "" {
		return path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}
