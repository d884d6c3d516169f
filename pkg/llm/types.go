package llm

// Role selects one of the four logical model endpoints.
type Role string

const (
	RolePlanner       Role = "planner"
	RoleFinalizer     Role = "finalizer"
	RoleReflector     Role = "reflector"
	RoleProgressBlurb Role = "progress_blurb"
)

// Message represents a chat message in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Parts   []Part `json:"parts,omitempty"`
}

// Part is one piece of a multimodal message. Exactly one field group is set.
type Part struct {
	Text string `json:"text,omitempty"`

	// Inline image data.
	MIMEType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"` // base64

	// Remote media reference (e.g. a video URL for summarization).
	FileURI string `json:"file_uri,omitempty"`
}

// ToolDecl describes a tool advertised to the model.
type ToolDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolCall is a structured decision by the model to invoke a named tool.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Priority  int            `json:"priority"`
	TaskID    string         `json:"task_id"`
}

// Request is a single completion request against one role endpoint.
type Request struct {
	Role     Role
	System   string
	Messages []Message
	Tools    []ToolDecl

	// ResponseSchema forces structured JSON output when non-nil.
	ResponseSchema map[string]any

	// EnableSearch turns on provider-side search grounding for this call.
	EnableSearch bool
}

// Source is a grounding citation attached to a response.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Response represents a complete response from a provider.
type Response struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Sources   []Source   `json:"sources,omitempty"`
	Usage     Usage      `json:"usage"`
}

// Usage tracks token consumption for a request/response pair.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Chunk is an incremental update during streaming. A chunk with Err set is
// always the last one delivered; the stream never truncates silently.
type Chunk struct {
	Content string
	Final   bool
	Err     error
}

// RoleConfig holds per-role model parameters.
type RoleConfig struct {
	Model           string  `yaml:"model"`
	Temperature     float64 `yaml:"temperature"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
}
