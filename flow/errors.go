package flow

import (
	"errors"
	"fmt"
	"strings"
)

// Validation error codes. These are part of the stable contract consumed
// by the HTTP layer; existing codes never change meaning.
const (
	CodeMalformed        = "E001" // malformed JSON / schema violation
	CodeMissingField     = "E002" // missing required field
	CodeInvalidType      = "E003" // invalid value type
	CodeStartNodeMissing = "E005" // start_node does not exist
	CodeEdgeTarget       = "E006" // edge references non-existent node
	CodeQueueEndpoint    = "E007" // queue references non-existent node
	CodeSourceMissing    = "E008" // node references non-existent source
	CodeDuplicateNode    = "E009" // duplicate node id
	CodeDuplicateQueue   = "E010" // duplicate queue id
	CodeDuplicateSource  = "E011" // duplicate source id
	CodeBadBandwidth     = "E012" // invalid bandwidth configuration
	CodeCycle            = "E013" // cycle detected
	CodeSourceRequired   = "E014" // node type requires a source
)

// ValidationError describes one violation found by Validate. The
// validator reports every violation it can independently detect, so a
// caller receives one complete remediation list.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path"`
	NodeID  string `json:"node_id,omitempty"`
	QueueID string `json:"queue_id,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// InvalidSpecError wraps a non-empty validation list returned by Compile.
type InvalidSpecError struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (e *InvalidSpecError) Error() string {
	if len(e.Errors) == 1 {
		return "invalid spec: " + e.Errors[0].Error()
	}
	return fmt.Sprintf("invalid spec: %d validation errors, first: %s", len(e.Errors), e.Errors[0].Error())
}

// MalformedSpecError indicates the declaration byte stream could not be
// decoded at all.
type MalformedSpecError struct {
	Cause error
}

// Error implements the error interface.
func (e *MalformedSpecError) Error() string {
	return "malformed spec: " + e.Cause.Error()
}

// Unwrap returns the decoding error.
func (e *MalformedSpecError) Unwrap() error { return e.Cause }

// ErrorKind classifies a runtime node failure.
type ErrorKind string

// Node error kinds.
const (
	KindInvalidInput          ErrorKind = "InvalidInput"
	KindUnresolvedPlaceholder ErrorKind = "UnresolvedPlaceholder"
	KindUnavailable           ErrorKind = "UnavailableExternalService"
	KindMissingCredential     ErrorKind = "MissingCredential"
	KindInvalidOperation      ErrorKind = "InvalidOperation"
	KindTimeout               ErrorKind = "Timeout"
)

// NodeError is a behavior-level failure at runtime. It is recorded into
// state.errors; descendants of the failing edge are not scheduled. One
// failing node does not abort sibling fan-out branches.
type NodeError struct {
	NodeID  string    `json:"node_id"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %s", e.NodeID, e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *NodeError) Unwrap() error { return e.Cause }

// Record renders the error as the map stored in state.errors.
func (e *NodeError) Record() map[string]any {
	return map[string]any{
		"node_id": e.NodeID,
		"kind":    string(e.Kind),
		"message": e.Message,
	}
}

// ErrCompile indicates internal invariant breakage during compilation,
// which is a bug: a validated spec must always compile.
var ErrCompile = errors.New("compile: internal invariant violated")

// ErrCancelled describes a run stopped by a cancellation signal or the
// execution timeout before the frontier drained. Invoke reports that
// outcome as StatusCancelled in ExecutionResult and does not return
// this value.
var ErrCancelled = errors.New("execution cancelled")
