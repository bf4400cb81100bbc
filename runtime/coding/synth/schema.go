package synth

import (
	"encoding/json"
	"fmt"

	js "github.com/invopop/jsonschema"

	"github.com/basinlabs/codeagent/runtime/agent/tools"
)

// parameterSchema renders a tool's declared Parameters as a JSON Schema
// object, embedded in the synthesized stub's docstring alongside the
// human-readable type hints. This gives model tooling that understands
// JSON Schema (structured-output validators, IDE hovers) a machine-readable
// description of the same contract the prose already states.
func parameterSchema(params []tools.Parameter) *js.Schema {
	schema := &js.Schema{
		Type:       "object",
		Properties: js.NewProperties(),
	}

	for _, p := range params {
		prop := &js.Schema{
			Type:        p.Type,
			Description: p.Description,
		}
		if p.Type == "array" && p.ItemsType != "" {
			prop.Items = &js.Schema{Type: p.ItemsType}
		}
		schema.Properties.Set(p.Name, prop)
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}

	return schema
}

func parameterSchemaJSON(params []tools.Parameter) (string, error) {
	encoded, err := json.Marshal(parameterSchema(params))
	if err != nil {
		return "", fmt.Errorf("synth: encode parameter schema: %w", err)
	}
	return string(encoded), nil
}
