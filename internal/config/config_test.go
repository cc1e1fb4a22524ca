package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFile_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg != Default() {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
}

func TestLoadFile_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
server_url = "https://agents.example.com"
log_level = "debug"
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.ServerURL != "https://agents.example.com" {
		t.Errorf("server_url = %q", cfg.ServerURL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
	if cfg.WSPath != DefaultWSPath {
		t.Errorf("ws_path = %q, want default", cfg.WSPath)
	}
	if cfg.SendTimeout != DefaultSendTimeout {
		t.Errorf("send_timeout = %v, want default", cfg.SendTimeout)
	}
	if cfg.ReconnectAttempts != DefaultReconnectAttempts {
		t.Errorf("reconnect_attempts = %d, want default", cfg.ReconnectAttempts)
	}
}

func TestLoadFile_DurationFields(t *testing.T) {
	path := writeConfig(t, `
send_timeout = "10s"
probe_interval = "1s"
reconnect_delay = "250ms"
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.SendTimeout != 10*time.Second {
		t.Errorf("send_timeout = %v", cfg.SendTimeout)
	}
	if cfg.ProbeInterval != time.Second {
		t.Errorf("probe_interval = %v", cfg.ProbeInterval)
	}
	if cfg.ReconnectDelay != 250*time.Millisecond {
		t.Errorf("reconnect_delay = %v", cfg.ReconnectDelay)
	}
}

func TestLoadFile_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `server_url = "http://from-file:9000"`)
	t.Setenv("TETHER_SERVER_URL", "http://from-env:9001")
	t.Setenv("TETHER_LOG_LEVEL", "warn")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.ServerURL != "http://from-env:9001" {
		t.Errorf("server_url = %q, env should win", cfg.ServerURL)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log_level = %q, env should win", cfg.LogLevel)
	}
}

func TestLoadFile_InvalidServerURL(t *testing.T) {
	for _, raw := range []string{
		`server_url = "ftp://example.com"`,
		`server_url = "http://"`,
		`server_url = "http://bad host"`,
	} {
		path := writeConfig(t, raw)
		if _, err := LoadFile(path); err == nil {
			t.Errorf("LoadFile accepted %q", raw)
		}
	}
}

func TestLoadFile_MalformedTOML(t *testing.T) {
	path := writeConfig(t, `server_url = [broken`)
	if _, err := LoadFile(path); err == nil {
		t.Error("LoadFile accepted malformed TOML")
	}
}

func TestHealthURL(t *testing.T) {
	cfg := Default()
	if got := cfg.HealthURL(); got != "http://localhost:8080/api/health" {
		t.Errorf("HealthURL() = %q", got)
	}
}
