package ability

import "github.com/code-atlantic/abridge/pkg/schema"

// ToolAnnotations carries behavioral hints attached to a tool definition.
type ToolAnnotations struct {
	ReadOnlyHint bool `json:"readOnlyHint,omitempty"`
}

// Tool is the externally discoverable representation of an ability. Tools are
// derived per discovery request and never persisted beyond the response cache.
type Tool struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	InputSchema schema.Value     `json:"inputSchema"`
	Annotations *ToolAnnotations `json:"annotations,omitempty"`
}
