package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn")

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("below-level messages leaked: %q", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("expected warn and error in output: %q", out)
	}
}

func TestWith_AddsFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "info").With("tab_id", "tab_default")

	l.Info("connected")

	if !strings.Contains(buf.String(), "tab_default") {
		t.Errorf("expected tab_id field in output: %q", buf.String())
	}
}

func TestParseLevel_Default(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "nonsense")

	l.Debug("hidden")
	l.Info("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("unknown level should default to info: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("info should be logged at default level: %q", out)
	}
}

func TestGlobal_DefaultsToNoop(t *testing.T) {
	// Must not panic and must be safe to call before InitGlobal.
	Global().Info("ignored")

	if _, ok := Global().(Noop); !ok {
		t.Skip("global logger already initialized by another test")
	}
}
