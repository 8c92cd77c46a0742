// Package streaming publishes flow execution events to in-process subscribers.
package streaming

import (
	"context"
	"time"
)

// Event is emitted while a flow runs.
type Event struct {
	RunID   string    `json:"run_id"`
	Flow    string    `json:"flow,omitempty"`
	Node    string    `json:"node,omitempty"`
	Type    string    `json:"type"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload,omitempty"`
}

// Filter selects which events a subscriber receives. Zero fields match everything.
type Filter struct {
	RunID string   `json:"run_id,omitempty"`
	Flow  string   `json:"flow,omitempty"`
	Types []string `json:"types,omitempty"`
}

// Hub provides pub/sub for flow events.
type Hub interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, func(), error)
}
