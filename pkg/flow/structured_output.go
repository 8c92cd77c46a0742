package flow

import (
	"context"
	"fmt"

	"github.com/rendis/agentflow/internal/validation"
	"github.com/rendis/agentflow/pkg/schema"
)

var sharedValidator = validation.NewValidator()

// StructuredOutput runs a node and checks what it produced against a JSON
// Schema. Without a schema it behaves exactly like the wrapped node.
type StructuredOutput struct {
	node      StateNode
	schema    []byte
	outputKey string
	err       error
}

// OutputOption configures a StructuredOutput.
type OutputOption func(*StructuredOutput)

// WithSchema validates against a JSON Schema document.
func WithSchema(doc []byte) OutputOption {
	return func(s *StructuredOutput) { s.schema = doc }
}

// WithSchemaFor validates against the schema reflected from T.
func WithSchemaFor[T any]() OutputOption {
	return func(s *StructuredOutput) {
		doc, err := validation.ReflectSchema[T]()
		if err != nil {
			s.err = err
			return
		}
		s.schema = doc
	}
}

// WithOutputKey validates the value under key instead of the whole state.
func WithOutputKey(key string) OutputOption {
	return func(s *StructuredOutput) { s.outputKey = key }
}

// NewStructuredOutput wraps node. A malformed schema is reported on the
// first call.
func NewStructuredOutput(node StateNode, opts ...OutputOption) *StructuredOutput {
	s := &StructuredOutput{node: node}
	for _, o := range opts {
		o(s)
	}
	if s.err == nil && len(s.schema) > 0 {
		s.err = sharedValidator.Compile(s.schema)
	}
	return s
}

// Generate runs the node and validates its output. A mismatch returns the
// produced state together with a SCHEMA_MISMATCH error.
func (s *StructuredOutput) Generate(ctx context.Context, state *SharedState) (*SharedState, error) {
	if s.err != nil {
		return state, fmt.Errorf("structured output schema: %w", s.err)
	}
	out, err := s.node.Call(ctx, state)
	if err != nil {
		return out, err
	}
	if out == nil {
		out = state
	}
	if len(s.schema) == 0 {
		return out, nil
	}

	snapshot := out.Snapshot()
	delete(snapshot, ActionKey)
	var value any = snapshot
	if s.outputKey != "" {
		v, ok := out.Get(s.outputKey)
		if !ok {
			return out, schema.NewErrorf(schema.ErrCodeSchemaMismatch,
				"output key %q is missing", s.outputKey)
		}
		value = v
	}
	if err := sharedValidator.Validate(value, s.schema); err != nil {
		return out, err
	}
	return out, nil
}

// Call implements StateNode.
func (s *StructuredOutput) Call(ctx context.Context, state *SharedState) (*SharedState, error) {
	return s.Generate(ctx, state)
}

var _ StateNode = (*StructuredOutput)(nil)
