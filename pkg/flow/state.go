package flow

import (
	"encoding/json"
	"maps"
	"math"
	"sync"

	"github.com/rendis/agentflow/pkg/schema"
)

// ActionKey is the reserved state key a node writes to pick its outgoing edge.
const ActionKey = "action"

// Action labels an edge between two flow nodes.
type Action string

// DefaultAction is used when a node does not choose a label.
const DefaultAction Action = "default"

// SharedState is the mutable key/value store passed between the nodes of
// one invocation. Every holder of the same *SharedState sees the same map.
// All methods are safe for concurrent use; the lock is never held while
// node code runs, except inside Update.
//
// A state starts with one holder. Retain adds holders and Release drops
// them; once the last holder releases, any further access panics with a
// STATE_RELEASED FlowError.
type SharedState struct {
	mu   sync.Mutex
	data map[string]any
	refs int
}

// NewSharedState creates a state holding a copy of initial.
func NewSharedState(initial map[string]any) *SharedState {
	data := make(map[string]any, len(initial))
	maps.Copy(data, initial)
	return &SharedState{data: data, refs: 1}
}

// lock acquires the mutex and panics if the state has been released.
func (s *SharedState) lock() {
	s.mu.Lock()
	if s.refs <= 0 {
		s.mu.Unlock()
		panic(schema.NewError(schema.ErrCodeStateReleased, "shared state used after its last holder released it"))
	}
}

// Get returns the value stored under key.
func (s *SharedState) Get(key string) (any, bool) {
	s.lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// Set stores value under key, replacing any previous value.
func (s *SharedState) Set(key string, value any) {
	s.lock()
	s.data[key] = value
	s.mu.Unlock()
}

// Remove deletes key and returns the value it held.
func (s *SharedState) Remove(key string) (any, bool) {
	s.lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	delete(s.data, key)
	return v, ok
}

// Len returns the number of keys.
func (s *SharedState) Len() int {
	s.lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Snapshot returns a shallow copy of the current contents.
func (s *SharedState) Snapshot() map[string]any {
	s.lock()
	defer s.mu.Unlock()
	return maps.Clone(s.data)
}

// Clone returns an independent state initialised from a snapshot.
func (s *SharedState) Clone() *SharedState {
	return NewSharedState(s.Snapshot())
}

// Merge inserts every key of values that is not already present.
// Existing keys keep their value.
func (s *SharedState) Merge(values map[string]any) {
	s.lock()
	defer s.mu.Unlock()
	for k, v := range values {
		if _, ok := s.data[k]; !ok {
			s.data[k] = v
		}
	}
}

// Update runs fn with exclusive access to the underlying map, for
// read-modify-write sequences spanning several keys. fn must not block or
// call back into s.
func (s *SharedState) Update(fn func(data map[string]any)) {
	s.lock()
	defer s.mu.Unlock()
	fn(s.data)
}

// Retain registers another holder and returns s.
func (s *SharedState) Retain() *SharedState {
	s.lock()
	s.refs++
	s.mu.Unlock()
	return s
}

// Release drops one holder. Releasing the last holder discards the contents.
func (s *SharedState) Release() {
	s.lock()
	s.refs--
	if s.refs == 0 {
		s.data = nil
	}
	s.mu.Unlock()
}

// Holders returns the current number of holders, zero once released.
func (s *SharedState) Holders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// IntoMap extracts the contents. When the caller is the only holder the
// underlying map is handed over without copying and s is released;
// otherwise a snapshot is returned and s stays usable by the others.
func (s *SharedState) IntoMap() map[string]any {
	s.lock()
	defer s.mu.Unlock()
	if s.refs == 1 {
		data := s.data
		s.data = nil
		s.refs = 0
		return data
	}
	return maps.Clone(s.data)
}

// SetAction writes the routing label read by Flow after the node returns.
func (s *SharedState) SetAction(a Action) {
	s.Set(ActionKey, string(a))
}

// Action returns the routing label currently stored, or DefaultAction.
func (s *SharedState) Action() Action {
	v, ok := s.Get(ActionKey)
	if !ok {
		return DefaultAction
	}
	return toAction(v)
}

func toAction(v any) Action {
	switch a := v.(type) {
	case Action:
		if a != "" {
			return a
		}
	case string:
		if a != "" {
			return Action(a)
		}
	}
	return DefaultAction
}

// GetString returns the string stored under key.
func (s *SharedState) GetString(key string) (string, bool) {
	v, ok := s.Get(key)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// GetInt returns the integer stored under key. Integral floats and
// json.Number values are accepted.
func (s *SharedState) GetInt(key string) (int, bool) {
	v, ok := s.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}

// GetFloat returns the number stored under key as a float64.
func (s *SharedState) GetFloat(key string) (float64, bool) {
	v, ok := s.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f, true
		}
	}
	return 0, false
}
