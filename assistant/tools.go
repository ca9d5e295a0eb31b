package assistant

import "github.com/mbocsi/gorover/proto"

var paramSchemas = map[string]map[string]any{
	"speed": {
		"type":        "number",
		"description": "Motor speed from 0 to 255",
	},
	"duration_ms": {
		"type":        "number",
		"description": "How long to move in milliseconds; 0 moves until stop",
	},
	"text": {
		"type":        "string",
		"description": "Text to show; newlines separate display lines",
	},
}

// Tools describes every rover command as a function the model may call.
func Tools() []ToolDefinition {
	specs := proto.Commands()
	tools := make([]ToolDefinition, 0, len(specs))
	for _, spec := range specs {
		props := map[string]any{}
		var required []string
		for _, p := range spec.Params {
			if schema, ok := paramSchemas[p]; ok {
				props[p] = schema
			}
			if p == "text" {
				required = append(required, p)
			}
		}
		params := map[string]any{
			"type":       "object",
			"properties": props,
		}
		if len(required) > 0 {
			params["required"] = required
		}
		tools = append(tools, ToolDefinition{
			Type: "function",
			Function: ToolFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}
