// Package emit provides event emission and observability for workflow
// execution.
package emit

// Event is one observability record emitted during a workflow run:
// node start/finish, gate waits, routing decisions, errors, and
// run-level lifecycle.
type Event struct {
	// RunID identifies the execution that emitted this event.
	RunID string

	// Step is the number of node completions the run has recorded when
	// the event is emitted: the entry node's node_start carries 0 and
	// its node_end 1. Zero for run-level events.
	Step int

	// NodeID identifies the node this event concerns. Empty for
	// run-level events.
	NodeID string

	// Msg names the event, e.g. "node_start", "node_end", "gate_wait",
	// "node_error", "run_end".
	Msg string

	// Meta carries structured detail. Common keys: "duration_ms",
	// "queue_id", "tokens", "error", "matched", "status".
	Meta map[string]any
}

// Event message names used by the executor.
const (
	MsgRunStart  = "run_start"
	MsgRunEnd    = "run_end"
	MsgNodeStart = "node_start"
	MsgNodeEnd   = "node_end"
	MsgNodeError = "node_error"
	MsgNodeSkip  = "node_skip"
	MsgGateWait  = "gate_wait"
	MsgRouting   = "routing_decision"
)
