package nodes

import (
	"context"
	"maps"

	"github.com/rendis/agentflow/pkg/flow"
	"github.com/rendis/agentflow/pkg/schema"
)

// SetKeys writes fixed values into the state, overwriting existing keys.
func SetKeys(values map[string]any) flow.StateNode {
	values = maps.Clone(values)
	return flow.NewNode(func(ctx context.Context, state *flow.SharedState) (*flow.SharedState, error) {
		state.Update(func(data map[string]any) { maps.Copy(data, values) })
		return state, nil
	})
}

// Chunk splits the string under from into pieces of at most size runes and
// stores them as a []string under to. A missing key yields no chunks.
func Chunk(size int, from, to string) flow.StateNode {
	return flow.NewNode(func(ctx context.Context, state *flow.SharedState) (*flow.SharedState, error) {
		if size <= 0 {
			return state, schema.NewErrorf(schema.ErrCodeValidation, "chunk size must be positive, got %d", size)
		}
		text, _ := state.GetString(from)
		state.Set(to, SplitRunes(text, size))
		return state, nil
	})
}

// SplitRunes splits text into pieces of at most size runes.
func SplitRunes(text string, size int) []string {
	if size <= 0 {
		return nil
	}
	runes := []rune(text)
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
