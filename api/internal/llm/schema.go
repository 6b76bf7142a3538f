package llm

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ExtractionSchema: формат ответа текстовой модели. Его же видит модель в системном промпте.
const ExtractionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["orders", "requires_correction", "clarification_question"],
  "properties": {
    "orders": {
      "type": "array",
      "maxItems": 20,
      "items": {
        "type": "object",
        "required": ["order_id"],
        "properties": {
          "order_id": {"type": "string", "minLength": 1},
          "status": {"enum": ["годно", "в доработку", "в брак", null]},
          "comment": {"type": ["string", "null"]}
        }
      }
    },
    "requires_correction": {"type": "boolean"},
    "clarification_question": {"type": ["string", "null"]}
  }
}`

var extractionSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("extraction.schema.json", strings.NewReader(ExtractionSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile("extraction.schema.json")
})

// validateExtraction проверяет уже декодированный (json.Unmarshal в any) документ.
func validateExtraction(v any) error {
	schema, err := extractionSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
