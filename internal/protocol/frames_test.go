package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseServerFrame_OutputStringContent(t *testing.T) {
	f, err := ParseServerFrame([]byte(`{"type":"output","content":"{\"kind\":\"stdout\",\"text\":\"hi\"}"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Type != FrameOutput {
		t.Errorf("type = %q, want %q", f.Type, FrameOutput)
	}
	text, ok := f.ContentText()
	if !ok {
		t.Fatal("expected string content")
	}
	if text != `{"kind":"stdout","text":"hi"}` {
		t.Errorf("content = %q", text)
	}
	if f.Terminal() {
		t.Error("output frame should not be terminal")
	}
}

func TestParseServerFrame_OutputObjectContent(t *testing.T) {
	f, err := ParseServerFrame([]byte(`{"type":"output","content":{"kind":"stdout"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := f.ContentText(); ok {
		t.Error("object content should not decode as text")
	}
	// Object content must still be forwardable verbatim.
	var obj map[string]any
	if err := json.Unmarshal(f.Content, &obj); err != nil {
		t.Fatalf("content not preserved: %v", err)
	}
	if obj["kind"] != "stdout" {
		t.Errorf("content = %v", obj)
	}
}

func TestParseServerFrame_Completion(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		success bool
		failMsg string
	}{
		{"success", `{"type":"completion","status":"success"}`, true, "backend reported failure"},
		{"failure", `{"type":"completion","status":"failure","error":"exit status 1"}`, false, "exit status 1"},
		{"failure without detail", `{"type":"completion","status":"failure"}`, false, "backend reported failure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseServerFrame([]byte(tt.raw))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if !f.Terminal() {
				t.Error("completion frame must be terminal")
			}
			if f.Succeeded() != tt.success {
				t.Errorf("Succeeded() = %v, want %v", f.Succeeded(), tt.success)
			}
			if got := f.FailureMessage(); got != tt.failMsg {
				t.Errorf("FailureMessage() = %q, want %q", got, tt.failMsg)
			}
		})
	}
}

func TestParseServerFrame_Error(t *testing.T) {
	f, err := ParseServerFrame([]byte(`{"type":"error","message":"binary not found"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !f.Terminal() {
		t.Error("error frame must be terminal")
	}
	if f.Succeeded() {
		t.Error("error frame must not report success")
	}
	if f.FailureMessage() != "binary not found" {
		t.Errorf("FailureMessage() = %q", f.FailureMessage())
	}
}

func TestParseServerFrame_Malformed(t *testing.T) {
	for _, raw := range []string{`not json`, `{"content":"x"}`, `42`} {
		if _, err := ParseServerFrame([]byte(raw)); err == nil {
			t.Errorf("ParseServerFrame(%q) succeeded, want error", raw)
		}
	}
}

func TestCommandKind_Valid(t *testing.T) {
	for _, k := range []CommandKind{CommandExecute, CommandContinue, CommandResume} {
		if !k.Valid() {
			t.Errorf("%q should be valid", k)
		}
	}
	if CommandKind("restart").Valid() {
		t.Error("unknown kind should be invalid")
	}
}

func TestRequestFrame_MarshalShape(t *testing.T) {
	frame := RequestFrame{
		UUID:        "req_01H",
		CommandType: CommandExecute,
		ProjectPath: "/repo",
		Prompt:      "list files",
		Model:       "sonnet",
		SessionID:   "ses_01H",
		Images:      []string{},
	}
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"uuid", "command_type", "project_path", "prompt", "model", "session_id", "images"} {
		if _, ok := m[key]; !ok {
			t.Errorf("marshaled frame missing %q field", key)
		}
	}
}
