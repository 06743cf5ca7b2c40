package form

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/garyjia/portal-workflow/internal/domain/entity"
)

// maxSchemaDepth caps array-subfield nesting. Forms in practice use a
// single level of repeatable groups; the cap guards against
// runaway definitions.
const maxSchemaDepth = 8

// LoadSchemas reads every *.json file in dir and returns a map of
// request type (the file name without extension) to its field schema.
// Each schema is checked for well-formedness before it is accepted.
func LoadSchemas(dir string) (map[string][]entity.FieldSchema, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema directory: %w", err)
	}

	schemas := make(map[string][]entity.FieldSchema)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read schema file %s: %w", e.Name(), err)
		}

		var schema []entity.FieldSchema
		if err := json.Unmarshal(data, &schema); err != nil {
			return nil, fmt.Errorf("failed to parse schema file %s: %w", e.Name(), err)
		}

		requestType := strings.TrimSuffix(e.Name(), ".json")
		if err := CheckSchema(schema); err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", requestType, err)
		}
		schemas[requestType] = schema
	}

	return schemas, nil
}

// CheckSchema verifies a field schema is well-formed: unique field
// names per level, options on select fields, and bounded nesting.
func CheckSchema(schema []entity.FieldSchema) error {
	return checkFields(schema, 1)
}

func checkFields(schema []entity.FieldSchema, depth int) error {
	if depth > maxSchemaDepth {
		return fmt.Errorf("schema nesting exceeds %d levels", maxSchemaDepth)
	}

	seen := make(map[string]bool, len(schema))
	for _, field := range schema {
		if field.Name == "" {
			return fmt.Errorf("field with label %q has no name", field.Label)
		}
		if seen[field.Name] {
			return fmt.Errorf("duplicate field name %q", field.Name)
		}
		seen[field.Name] = true

		switch field.Type {
		case entity.FieldText, entity.FieldNumber, entity.FieldDate, entity.FieldFile:
		case entity.FieldSelect:
			if len(field.Options) == 0 {
				return fmt.Errorf("select field %q has no options", field.Name)
			}
		case entity.FieldArray:
			if err := checkFields(field.Subfields, depth+1); err != nil {
				return fmt.Errorf("in array field %q: %w", field.Name, err)
			}
		default:
			return fmt.Errorf("field %q has unknown type %q", field.Name, field.Type)
		}
	}
	return nil
}
