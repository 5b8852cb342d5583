package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BuildExtractionJSONSchema returns the JSON-Schema (draft 2020-12 subset) the
// oracle output must satisfy. Deliberately loose on species entries: a
// candidate missing species_name is dropped row-by-row later, not rejected
// wholesale here.
func BuildExtractionJSONSchema() map[string]any {
	yearish := map[string]any{"type": []string{"string", "number", "integer"}}

	speciesItem := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"species_index":             yearish,
			"species_name":              map[string]any{"type": "string"},
			"species_authors":           map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"species_year":              yearish,
			"species_references":        map[string]any{"type": "array"},
			"formatted_species_name":    map[string]any{"type": "string"},
			"genus":                     map[string]any{"type": "string"},
			"species_magnification":     yearish,
			"species_scale_bar_microns": yearish,
			"species_note":              map[string]any{"type": "string"},
		},
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"figure_caption":                map[string]any{"type": "string"},
			"source_material_location":      map[string]any{"type": "string"},
			"source_material_coordinates":   map[string]any{"type": "string"},
			"source_material_description":   map[string]any{"type": "string"},
			"source_material_received_from": map[string]any{"type": "string"},
			"source_material_date_received": map[string]any{"type": "string"},
			"source_material_note":          map[string]any{"type": "string"},
			"diatom_species_array":          map[string]any{"type": "array", "items": speciesItem},
		},
		"required": []string{"diatom_species_array"},
	}
}

// ValidateJSONAgainstSchema validates data against schemaMap.
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
