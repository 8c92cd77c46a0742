package validation

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

var reflector = jsonschema.Reflector{
	AllowAdditionalProperties: false,
	DoNotReference:            true,
	Anonymous:                 true,
}

// ReflectSchema derives a JSON Schema document from the Go type T. Fields
// without `omitempty` are required and unknown properties are rejected.
func ReflectSchema[T any]() ([]byte, error) {
	var v T
	s := reflector.Reflect(v)
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal reflected schema: %w", err)
	}
	return b, nil
}
