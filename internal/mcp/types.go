package mcp

// RunAgentInput is the input for the run_agent MCP tool.
type RunAgentInput struct {
	ProjectPath string   `json:"project_path" jsonschema:"Absolute path of the project to run the agent in"`
	Prompt      string   `json:"prompt" jsonschema:"Task prompt for the agent"`
	Model       string   `json:"model,omitempty" jsonschema:"Model to run with. Backend default when empty"`
	Tab         string   `json:"tab,omitempty" jsonschema:"Tab identifier. Default: tab_default"`
	Images      []string `json:"images,omitempty" jsonschema:"Base64-encoded images to attach"`
}

// ContinueSessionInput is the input for the continue_session MCP tool.
type ContinueSessionInput struct {
	ProjectPath string `json:"project_path" jsonschema:"Absolute path of the project"`
	Prompt      string `json:"prompt,omitempty" jsonschema:"Follow-up prompt. Empty continues without new input"`
	Model       string `json:"model,omitempty" jsonschema:"Model to run with. Backend default when empty"`
	Tab         string `json:"tab,omitempty" jsonschema:"Tab identifier. Default: tab_default"`
}

// ResumeSessionInput is the input for the resume_session MCP tool.
type ResumeSessionInput struct {
	ProjectPath string `json:"project_path" jsonschema:"Absolute path of the project"`
	SessionID   string `json:"session_id" jsonschema:"Backend session identifier to re-attach to"`
	Prompt      string `json:"prompt,omitempty" jsonschema:"Prompt to send after re-attaching"`
	Model       string `json:"model,omitempty" jsonschema:"Model to run with. Backend default when empty"`
	Tab         string `json:"tab,omitempty" jsonschema:"Tab identifier. Default: tab_default"`
}

// RunOutput is the shared output of run_agent, continue_session, and
// resume_session: the settled outcome plus the output stream buffered while
// the call was pending.
type RunOutput struct {
	Status    string   `json:"status" jsonschema:"Result: success or failure"`
	SessionID string   `json:"session_id" jsonschema:"Backend session the request ran in"`
	Token     string   `json:"token" jsonschema:"Idempotency token the request carried"`
	Output    []string `json:"output" jsonschema:"Output lines received while the request ran"`
	Error     string   `json:"error,omitempty" jsonschema:"Backend failure message when status is failure"`
}

// SessionStatusInput is the input for the session_status MCP tool.
type SessionStatusInput struct {
	History int `json:"history,omitempty" jsonschema:"Number of recent status transitions to include. Default 0"`
}

// StatusTransition is one recorded network status change.
type StatusTransition struct {
	Status string `json:"status"`
	At     string `json:"at"`
}

// SessionStatusOutput is the output for the session_status MCP tool.
type SessionStatusOutput struct {
	Status      string             `json:"status" jsonschema:"Current network status: disconnected, connecting, connected, or error"`
	Healthy     bool               `json:"healthy" jsonschema:"Whether the backend answered the liveness probe just now"`
	Connections int                `json:"connections" jsonschema:"Number of registered tab connections"`
	History     []StatusTransition `json:"history,omitempty" jsonschema:"Recent status transitions, oldest first"`
}

// ListSessionsInput is the input for the list_sessions MCP tool.
type ListSessionsInput struct{}

// SessionInfo is one persisted tab to session binding.
type SessionInfo struct {
	Tab       string `json:"tab"`
	SessionID string `json:"session_id"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// ListSessionsOutput is the output for the list_sessions MCP tool.
type ListSessionsOutput struct {
	Sessions []SessionInfo `json:"sessions"`
	Count    int           `json:"count"`
}
