package models

// AgentDefinition is the POST /agents payload.
type AgentDefinition struct {
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Goals       string   `json:"goals"`
	Backstory   string   `json:"backstory"`
	Tools       []string `json:"tools"`
	OllamaModel string   `json:"ollama_model,omitempty"`
	Enabled     bool     `json:"enabled"`
}

// Step types.
const (
	StepAgent = "agent"
	StepTool  = "tool"
)

// WorkflowStep is one ordered step of a workflow. Agent steps carry a Task,
// tool steps carry Parameters. Either may reference earlier outputs with
// {{context_key}} or {{context_key.field}} placeholders.
type WorkflowStep struct {
	Type       string                 `json:"type"`
	Name       string                 `json:"name"`
	Task       string                 `json:"task,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	ContextKey string                 `json:"context_key"`
}

// WorkflowDefinition is the POST /workflows payload.
type WorkflowDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Steps       []WorkflowStep `json:"steps"`
	Enabled     bool           `json:"enabled"`
}

// ExecuteRequest is the POST /workflows/{name}/execute payload.
type ExecuteRequest struct {
	Context map[string]interface{} `json:"context"`
}
