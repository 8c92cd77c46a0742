package mcp

import (
	"maps"
	"slices"
	"sync"
)

// SessionRegistry remembers which MCP session each agent last started a run
// from, so run notifications reach the right client.
type SessionRegistry struct {
	mu      sync.RWMutex
	byAgent map[string]string
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{byAgent: make(map[string]string)}
}

// Bind points agentID at sessionID. A reconnecting agent replaces its old
// binding.
func (r *SessionRegistry) Bind(agentID, sessionID string) {
	r.mu.Lock()
	r.byAgent[agentID] = sessionID
	r.mu.Unlock()
}

func (r *SessionRegistry) Lookup(agentID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.byAgent[agentID]
	return sid, ok
}

// DropSession unbinds every agent on sessionID and reports how many were
// dropped.
func (r *SessionRegistry) DropSession(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	before := len(r.byAgent)
	maps.DeleteFunc(r.byAgent, func(_, sid string) bool { return sid == sessionID })
	return before - len(r.byAgent)
}

// Agents returns the bound agent IDs in sorted order.
func (r *SessionRegistry) Agents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.byAgent))
}
