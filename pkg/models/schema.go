package models

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// graphSchema is the JSON Schema applied to raw workflow graph documents
// before they are decoded into WorkflowGraph. Structural problems are caught
// here with positional error messages; semantic invariants live in
// ValidateGraph.
const graphSchema = `{
	"type": "object",
	"required": ["id", "name", "nodes"],
	"properties": {
		"id":   {"type": "string", "minLength": 1},
		"name": {"type": "string", "minLength": 3},
		"nodes": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["id", "kind"],
				"properties": {
					"id":   {"type": "string", "minLength": 1},
					"kind": {"enum": ["trigger", "action", "condition", "delay", "time_window"]}
				}
			}
		},
		"edges": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "source_node_id", "target_node_id"],
				"properties": {
					"id":             {"type": "string", "minLength": 1},
					"source_node_id": {"type": "string", "minLength": 1},
					"target_node_id": {"type": "string", "minLength": 1},
					"source_handle":  {"enum": ["", "true", "false"]}
				}
			}
		},
		"variables": {
			"type": "object",
			"additionalProperties": {"type": "string"}
		}
	}
}`

// ValidateGraphJSON validates a raw graph document against the graph schema.
func ValidateGraphJSON(data []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(graphSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return fmt.Errorf("failed to run graph schema validation: %w", err)
	}

	if !result.Valid() {
		errs := result.Errors()
		if len(errs) > 0 {
			return fmt.Errorf("invalid graph document: %s", errs[0].String())
		}

		return fmt.Errorf("invalid graph document")
	}

	return nil
}
