package schema

// Event types published while flows and nodes execute.
const (
	EventFlowStarted   = "flow_started"
	EventFlowCompleted = "flow_completed"
	EventFlowFailed    = "flow_failed"

	EventNodeStarted   = "node_started"
	EventNodeCompleted = "node_completed"
	EventNodeFailed    = "node_failed"

	EventRetryAttempt = "retry_attempt"
	EventFallback     = "fallback_invoked"

	EventCircuitOpen = "circuit_open"
)

// NodeStatus represents the lifecycle state of a node within one flow run.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
)
