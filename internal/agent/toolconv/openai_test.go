package toolconv

import (
	"testing"

	"github.com/codex-go/turnengine/internal/agent/toolrouter"
)

func TestToOpenAIToolsConvertsSchema(t *testing.T) {
	specs := []toolrouter.Spec{
		{
			Name:             "read",
			Description:      "read a file",
			ParametersSchema: []byte(`{"type":"object","properties":{"path":{"type":"string"}}}`),
		},
	}

	tools := ToOpenAITools(specs)
	if len(tools) != 1 {
		t.Fatalf("got %d tools, want 1", len(tools))
	}
	if tools[0].Function.Name != "read" || tools[0].Function.Description != "read a file" {
		t.Fatalf("unexpected function def: %+v", tools[0].Function)
	}
	schema, ok := tools[0].Function.Parameters.(map[string]any)
	if !ok {
		t.Fatalf("Parameters is not a map: %T", tools[0].Function.Parameters)
	}
	if schema["type"] != "object" {
		t.Fatalf("schema type = %v, want object", schema["type"])
	}
}

func TestToOpenAIToolsDefaultsEmptySchema(t *testing.T) {
	specs := []toolrouter.Spec{{Name: "status", Description: "status check"}}

	tools := ToOpenAITools(specs)
	schema := tools[0].Function.Parameters.(map[string]any)
	if schema["type"] != "object" {
		t.Fatalf("empty schema should default to an object type, got %v", schema)
	}
}

func TestToOpenAIToolsFallsBackOnInvalidSchema(t *testing.T) {
	specs := []toolrouter.Spec{{Name: "broken", ParametersSchema: []byte(`not json`)}}

	tools := ToOpenAITools(specs)
	schema := tools[0].Function.Parameters.(map[string]any)
	if schema["type"] != "object" {
		t.Fatalf("invalid schema should fall back to an empty object schema, got %v", schema)
	}
}
