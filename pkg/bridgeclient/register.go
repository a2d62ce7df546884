package bridgeclient

import (
	"context"

	"github.com/code-atlantic/abridge/pkg/ability"
	"github.com/code-atlantic/abridge/pkg/schema"
)

// RegisteredTool is a gateway tool prepared for registration with a host
// agent runtime: agent-safe name, sanitized schema, and a bound execute
// function that calls back through the gateway.
type RegisteredTool struct {
	Name        string
	Description string
	InputSchema schema.Value
	Annotations *ability.ToolAnnotations
	Execute     func(ctx context.Context, input map[string]interface{}) (interface{}, error)
}

// Registrar is the host-side registration API. ProvideTools replaces the
// full tool set atomically; incremental registration is deliberately not
// offered because re-registering a name is an error in most agent runtimes.
type Registrar interface {
	ProvideTools(tools []RegisteredTool) error
}

// RegisterAll fetches the current tool list and registers it with the host
// registrar in one atomic replace. Tools without a name or description are
// skipped, matching what agent runtimes accept.
func (c *Client) RegisterAll(ctx context.Context, registrar Registrar) error {
	tools, err := c.Tools(ctx)
	if err != nil {
		return err
	}

	registered := make([]RegisteredTool, 0, len(tools))
	for _, tool := range tools {
		if tool.Name == "" || tool.Description == "" {
			continue
		}

		// The agent sees the safe name; the execute URL keeps the original.
		originalName := tool.Name
		readOnly := tool.Annotations != nil && tool.Annotations.ReadOnlyHint

		registered = append(registered, RegisteredTool{
			Name:        SafeName(tool.Name),
			Description: tool.Description,
			InputSchema: tool.InputSchema,
			Annotations: tool.Annotations,
			Execute: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
				return c.Execute(ctx, originalName, input, readOnly)
			},
		})
	}

	if len(registered) == 0 {
		return nil
	}

	return registrar.ProvideTools(registered)
}
