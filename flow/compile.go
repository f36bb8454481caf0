package flow

import (
	"fmt"
	"time"

	"github.com/agentflow/agentflow-go/flow/adapter"
	"github.com/agentflow/agentflow-go/flow/emit"
	"github.com/agentflow/agentflow-go/flow/limit"
)

// compiledEdge is one runnable edge after fan-out expansion: a
// list-valued `to` compiles into one compiledEdge per target. Adjacency
// lists preserve declaration order, which drives the deterministic
// fan-in join and the first-wins scalar merge.
type compiledEdge struct {
	from    string
	to      string
	queueID string
	lane    string
	cond    *Condition
}

// compiledNode binds a node declaration to its behavior and adjacency.
type compiledNode struct {
	info     *NodeInfo
	behavior Behavior
	outgoing []*compiledEdge // declaration order
	incoming []*compiledEdge // declaration order; drives the fan-in join
}

// CompiledGraph is the immutable runnable form of a validated spec. It
// owns a snapshot of the source registry and the queue configurations,
// and may be invoked repeatedly with independent states, concurrently.
//
// Close releases the rate-limiter gates; blocked waiters receive the
// shutdown signal and in-flight executions finish cancelled.
type CompiledGraph struct {
	nodes    map[string]*compiledNode
	order    []string // node declaration order
	start    string
	registry *Registry
	limiter  *limit.Limiter
	emitter  emit.Emitter
	metrics  *PrometheusMetrics
	adapters adapter.Set

	maxConcurrent int
	execTimeout   time.Duration
}

// Option configures compilation.
type Option func(*compileConfig)

type compileConfig struct {
	adapters      adapter.Set
	emitter       emit.Emitter
	metrics       *PrometheusMetrics
	maxConcurrent int
	execTimeout   time.Duration
	limiterClock  limit.Clock
}

// WithAdapters supplies the external-service implementations the
// behaviors dispatch to.
func WithAdapters(set adapter.Set) Option {
	return func(cfg *compileConfig) { cfg.adapters = set }
}

// WithEmitter installs an observability emitter. Nil means no events.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *compileConfig) { cfg.emitter = e }
}

// WithMetrics installs Prometheus collectors.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *compileConfig) { cfg.metrics = m }
}

// WithMaxConcurrent bounds the number of behaviors executing in
// parallel. Default 8. A slot is held while a behavior runs, including
// its adapter calls; tasks awaiting a gate wait outside the pool, so
// gate waits cannot deadlock it.
func WithMaxConcurrent(n int) Option {
	return func(cfg *compileConfig) { cfg.maxConcurrent = n }
}

// WithExecutionTimeout sets the per-execution deadline; exceeding it
// cancels the run, which returns status cancelled with the partial
// state.
func WithExecutionTimeout(d time.Duration) Option {
	return func(cfg *compileConfig) { cfg.execTimeout = d }
}

// WithLimiterClock injects a clock into the rate limiter. Test hook.
func WithLimiterClock(c limit.Clock) Option {
	return func(cfg *compileConfig) { cfg.limiterClock = c }
}

// Compile translates a spec into a CompiledGraph.
//
// The spec is validated first; a non-empty validation list comes back
// as *InvalidSpecError. Compilation then builds the adjacency lists,
// attaches the behavior chosen by node type, compiles every edge
// condition once, installs a rate-limiter gate per queue, and snapshots
// the source registry. Any failure past validation wraps ErrCompile: a
// validated spec that does not compile is a bug.
func Compile(spec *Spec, opts ...Option) (*CompiledGraph, error) {
	if errs := Validate(spec); len(errs) > 0 {
		return nil, &InvalidSpecError{Errors: errs}
	}

	cfg := compileConfig{maxConcurrent: 8}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.emitter == nil {
		cfg.emitter = emit.NullEmitter{}
	}
	if cfg.limiterClock == nil {
		cfg.limiterClock = limit.RealClock()
	}

	registry := NewRegistry(spec.Sources)

	g := &CompiledGraph{
		nodes:         make(map[string]*compiledNode, len(spec.Nodes)),
		start:         spec.StartNode,
		registry:      registry,
		emitter:       cfg.emitter,
		metrics:       cfg.metrics,
		adapters:      cfg.adapters,
		maxConcurrent: cfg.maxConcurrent,
		execTimeout:   cfg.execTimeout,
	}

	for _, n := range spec.Nodes {
		info := &NodeInfo{ID: n.ID, Type: n.Type, Metadata: n.Metadata}
		if ref, ok := n.Metadata["source"].(string); ok && ref != "" {
			if src, found := registry.Lookup(ref); found {
				info.Source = src
				info.HasSrc = true
			}
		}
		behavior, err := behaviorFor(n.Type, cfg.adapters)
		if err != nil {
			return nil, err
		}
		g.nodes[n.ID] = &compiledNode{info: info, behavior: behavior}
		g.order = append(g.order, n.ID)
	}

	// Index standalone queues by orientation so an ungated edge picks
	// up an identically-oriented queue. An explicit edge.queue wins.
	queueByPair := make(map[[2]string]string, len(spec.Queues))
	for _, q := range spec.Queues {
		pair := [2]string{q.From, q.To}
		if _, taken := queueByPair[pair]; !taken {
			queueByPair[pair] = q.ID
		}
	}

	for i, e := range spec.Edges {
		cond, err := CompileCondition(e.Condition)
		if err != nil {
			return nil, fmt.Errorf("%w: edge %d: %v", ErrCompile, i, err)
		}
		for _, to := range e.To {
			queueID := e.Queue
			if queueID == "" {
				queueID = queueByPair[[2]string{e.From, to}]
			}
			ce := &compiledEdge{
				from:    e.From,
				to:      to,
				queueID: queueID,
				cond:    cond,
			}
			g.nodes[e.From].outgoing = append(g.nodes[e.From].outgoing, ce)
			g.nodes[to].incoming = append(g.nodes[to].incoming, ce)
		}
	}

	limits := make(map[string]limit.Config, len(spec.Queues))
	for _, q := range spec.Queues {
		var c limit.Config
		if q.Bandwidth != nil {
			c.MaxMessagesPerSecond = q.Bandwidth.MaxMessagesPerSecond
			c.MaxRequestsPerMinute = q.Bandwidth.MaxRequestsPerMinute
			c.MaxTokensPerMinute = q.Bandwidth.MaxTokensPerMinute
			c.BurstSize = q.Bandwidth.BurstSize
		}
		for _, sq := range q.SubQueues {
			c.Lanes = append(c.Lanes, limit.Lane{ID: sq.ID, Weight: sq.Weight})
		}
		limits[q.ID] = c
	}
	g.limiter = limit.NewWithClock(limits, cfg.limiterClock)

	return g, nil
}

// Close tears down the graph's rate-limiter gates. Blocked waiters are
// released with the shutdown signal.
func (g *CompiledGraph) Close() {
	if g.limiter != nil {
		g.limiter.Close()
	}
}

// StartNode returns the id of the entry node.
func (g *CompiledGraph) StartNode() string { return g.start }

// Registry returns the graph's source registry snapshot.
func (g *CompiledGraph) Registry() *Registry { return g.registry }
