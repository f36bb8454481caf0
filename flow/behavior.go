package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentflow/agentflow-go/flow/adapter"
)

// NodeInfo is the compile-time binding a behavior runs against: the node
// declaration plus its resolved source, when the node references one.
type NodeInfo struct {
	ID       string
	Type     NodeType
	Metadata map[string]any
	Source   Source
	HasSrc   bool
}

// metaString returns the string metadata value for key, or def.
func (n *NodeInfo) metaString(key, def string) string {
	if s, ok := n.Metadata[key].(string); ok && s != "" {
		return s
	}
	return def
}

// metaInt returns the integer metadata value for key, or 0.
func (n *NodeInfo) metaInt(key string) int {
	return asInt(n.Metadata[key])
}

// metaFloat returns the numeric metadata value for key, or 0.
func (n *NodeInfo) metaFloat(key string) float64 {
	return asFloat(n.Metadata[key])
}

// Timeout returns the per-node timeout from metadata.timeout (seconds),
// or zero when unset.
func (n *NodeInfo) Timeout() time.Duration {
	secs := n.metaFloat("timeout")
	if secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// Result is the output of one behavior invocation. Delta is a partial
// state update merged by the executor; the behavior never mutates the
// input state in place. A non-nil Err marks the node as failed and
// stops its descendants.
type Result struct {
	Delta    State
	Warnings []string
	Err      *NodeError
}

// failure builds a failed Result.
func failure(err *NodeError) Result {
	return Result{Err: err}
}

// Behavior is the per-type computation attached to a node: a pure
// morphism from input state to an output delta, parameterized by the
// node binding, possibly invoking external-service adapters.
type Behavior interface {
	Run(ctx context.Context, info *NodeInfo, state State) Result
}

// behaviorTable maps each node type to its behavior constructor. The
// set of types is closed, so dispatch is resolved entirely at compile
// time.
var behaviorTable = map[NodeType]func(adapter.Set) Behavior{
	NodeInput:      func(adapter.Set) Behavior { return inputBehavior{} },
	NodeRouter:     func(a adapter.Set) Behavior { return routerBehavior{llm: a.LLM} },
	NodeLLM:        func(a adapter.Set) Behavior { return llmBehavior{llm: a.LLM} },
	NodeImage:      func(a adapter.Set) Behavior { return imageBehavior{image: a.Image} },
	NodeDB:         func(a adapter.Set) Behavior { return dbBehavior{db: a.DB} },
	NodeAggregator: func(adapter.Set) Behavior { return aggregatorBehavior{} },
}

// behaviorFor selects the behavior implementation for a node type.
func behaviorFor(t NodeType, adapters adapter.Set) (Behavior, error) {
	ctor, ok := behaviorTable[t]
	if !ok {
		return nil, fmt.Errorf("%w: no behavior for node type %q", ErrCompile, t)
	}
	return ctor(adapters), nil
}

// classifyAdapterError maps an adapter failure onto a node error kind.
func classifyAdapterError(nodeID string, err error) *NodeError {
	kind := KindUnavailable
	switch {
	case errors.Is(err, adapter.ErrMissingCredential):
		kind = KindMissingCredential
	case errors.Is(err, adapter.ErrInvalidOperation):
		kind = KindInvalidOperation
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, context.Canceled):
		kind = KindTimeout
	}
	return &NodeError{NodeID: nodeID, Kind: kind, Message: err.Error(), Cause: err}
}
