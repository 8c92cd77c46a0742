// Package validation checks node outputs against JSON Schema documents and
// derives schemas from Go types.
package validation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rendis/agentflow/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator validates values against JSON Schema (Draft 2020-12) documents
// given as raw bytes. Compiled schemas are cached by content. It is safe for
// concurrent use.
type Validator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewValidator creates an empty Validator.
func NewValidator() *Validator {
	return &Validator{cache: make(map[string]*jsonschema.Schema)}
}

// Compile parses and caches schemaBytes, reporting malformed schemas as
// VALIDATION_ERROR.
func (v *Validator) Compile(schemaBytes []byte) error {
	_, err := v.getOrCompile(schemaBytes)
	return err
}

// Validate checks value against schemaBytes. Violations are reported as a
// FlowError with code SCHEMA_MISMATCH and a "violations" detail listing each
// failing instance location.
func (v *Validator) Validate(value any, schemaBytes []byte) error {
	if len(schemaBytes) == 0 {
		return nil
	}
	compiled, err := v.getOrCompile(schemaBytes)
	if err != nil {
		return err
	}

	doc, err := toJSONValue(value)
	if err != nil {
		return schema.NewError(schema.ErrCodeSchemaMismatch, "value is not representable as JSON").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toFlowError(err)
	}
	return nil
}

func (v *Validator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	sum := sha256.Sum256(schemaBytes)
	key := hex.EncodeToString(sum[:])

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(schemaBytes)))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "schema is not valid JSON").WithCause(err)
	}

	url := "agentflow://schema/" + key
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "add schema resource").WithCause(err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "compile schema: %s", err).WithCause(err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips v through encoding/json so numbers become
// json.Number, which the schema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

func toFlowError(err error) *schema.FlowError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeSchemaMismatch, err.Error()).WithCause(err)
	}

	violations := collectViolations(verr)
	msg := fmt.Sprintf("output does not match schema: %d violation(s)", len(violations))
	if len(violations) == 1 {
		msg = "output does not match schema: " + violations[0]
	}
	return schema.NewError(schema.ErrCodeSchemaMismatch, msg).
		WithCause(err).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations flattens the error tree into "location: message" leaves.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
