package toolconv

import (
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"

	"github.com/codex-go/turnengine/internal/agent/toolrouter"
)

// ToOpenAITools converts router tool specs to the OpenAI function schema
// the Chat Completions API expects in its "tools" field.
func ToOpenAITools(specs []toolrouter.Spec) []openai.Tool {
	result := make([]openai.Tool, len(specs))
	for i, spec := range specs {
		var schemaMap map[string]any
		if len(spec.ParametersSchema) == 0 {
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		} else if err := json.Unmarshal(spec.ParametersSchema, &schemaMap); err != nil {
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		}

		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  schemaMap,
			},
		}
	}
	return result
}
