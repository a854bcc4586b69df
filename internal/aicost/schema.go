package aicost

import "fmt"

// Schema is a minimal, hand-rolled JSON shape validator for declared
// structured-output response shapes, grounded on the same
// "don't trust the wire shape" defensive type-switching idiom the teacher
// uses for Weaviate GraphQL responses (internal/search/waviate.go): walk a
// map[string]interface{} and check the fields the caller declared, rather
// than reflecting a generated schema library.
type Schema struct {
	// Required names fields that must be present in the object (any type).
	Required []string
	// Types optionally constrains the Go kind of a present field: "string",
	// "bool", "number", "array", "object".
	Types map[string]string
}

// Validate reports the first missing required field or type mismatch found.
func (s Schema) Validate(obj map[string]interface{}) error {
	if obj == nil {
		return fmt.Errorf("schema: nil object")
	}
	for _, name := range s.Required {
		if _, ok := obj[name]; !ok {
			return fmt.Errorf("schema: missing required field %q", name)
		}
	}
	for name, want := range s.Types {
		v, ok := obj[name]
		if !ok {
			continue
		}
		if got := kindOf(v); got != want {
			return fmt.Errorf("schema: field %q has kind %s, want %s", name, got, want)
		}
	}
	return nil
}

func kindOf(v interface{}) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case float64, int, int64:
		return "number"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	case nil:
		return "null"
	default:
		return "unknown"
	}
}
