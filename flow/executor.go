package flow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/agentflow/agentflow-go/flow/emit"
	"github.com/agentflow/agentflow-go/flow/limit"
)

// ExecutionStatus is the overall outcome of one Invoke.
type ExecutionStatus string

// Execution outcomes.
const (
	StatusSuccess   ExecutionStatus = "success"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

// Metrics summarizes one execution.
type Metrics struct {
	// ExecutionTime is the wall-clock duration in seconds.
	ExecutionTime float64 `json:"execution_time"`

	// TokensUsed is the sum of tokens reported by llm/image invocations
	// across all branches.
	TokensUsed int `json:"tokens_used"`

	// Cost is the accumulated cost estimate in USD.
	Cost float64 `json:"cost"`

	// ExecutionPath lists node ids in completion order, one entry per
	// successful completion.
	ExecutionPath []string `json:"execution_path"`
}

// ExecutionResult is what a caller receives from Invoke: the final
// (possibly partial) state together with the outcome and run metrics.
// On failure the state carries the error records, so callers can
// inspect exactly which nodes failed and why.
type ExecutionResult struct {
	RunID      string          `json:"run_id"`
	Status     ExecutionStatus `json:"status"`
	FinalState State           `json:"final_state"`
	Metrics    Metrics         `json:"metrics"`
}

// snapshot is a fork-point state recorded when a node fans out. The id
// makes snapshots comparable without comparing map values.
type snapshot struct {
	id    int
	state State
}

// task is one unit of frontier work: a node invocation with its inbound
// state and the stack of fork snapshots it is nested under. The stack
// drives the deterministic fan-in join: forking pushes, joining pops.
type task struct {
	state State
	stack []snapshot
}

// delivery is what an inbound edge hands to its target: a state when
// the edge fired, or a decline when its condition was false or its
// source failed or was skipped. Declines keep the fan-in counters
// moving so a join never stalls.
type delivery struct {
	arrived bool
	live    bool
	task    task
}

// inbox tracks fan-in progress for one node.
type inbox struct {
	deliveries []delivery
	got        int
	done       bool
}

// terminal records the state of a node with no scheduled descendants:
// a sink, a failed node, or the victim of a cancellation.
type terminal struct {
	nodeOrder int
	task      task
}

// run is the per-invocation mutable context.
type run struct {
	g      *CompiledGraph
	ctx    context.Context
	cancel context.CancelFunc
	runID  string
	sem    chan struct{}
	wg     sync.WaitGroup

	pending int64 // tasks currently live on the frontier

	mu        sync.Mutex
	inboxes   map[string]*inbox
	terminals []terminal
	path      []string
	tokens    int
	cost      float64
	steps     int
	snapSeq   int
	cancelled bool
}

// Invoke executes the compiled graph against an initial state.
//
// The graph is immutable and may be invoked concurrently; every
// invocation owns its state exclusively. The returned result always
// carries a state, partial or complete, together with the status and
// run metrics.
func (g *CompiledGraph) Invoke(ctx context.Context, initial State) ExecutionResult {
	started := time.Now()

	if g.execTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, g.execTimeout)
		defer cancelTimeout()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{
		g:       g,
		ctx:     ctx,
		cancel:  cancel,
		runID:   uuid.NewString(),
		sem:     make(chan struct{}, g.maxConcurrent),
		inboxes: make(map[string]*inbox, len(g.nodes)),
	}
	for id, cn := range g.nodes {
		r.inboxes[id] = &inbox{deliveries: make([]delivery, len(cn.incoming))}
	}

	state := initial.Clone()
	state.Metadata()[MetaStartTime] = unixSeconds(started)

	g.emitter.Emit(emit.Event{RunID: r.runID, Msg: emit.MsgRunStart})

	// The start node fires unconditionally; inbound edges into it, while
	// legal, never deliver.
	r.inboxes[g.start].done = true
	r.wg.Add(1)
	go r.runNode(g.start, task{state: state})

	r.wg.Wait()

	final := r.finalState(initial)
	status := r.status(final)

	elapsed := time.Since(started)
	md := final.Metadata()
	if _, ok := md[MetaEndTime]; !ok {
		md[MetaEndTime] = unixSeconds(started.Add(elapsed))
	}
	if _, ok := md[MetaExecutionTime]; !ok {
		md[MetaExecutionTime] = elapsed.Seconds()
	}

	r.mu.Lock()
	metrics := Metrics{
		ExecutionTime: elapsed.Seconds(),
		TokensUsed:    r.tokens,
		Cost:          r.cost,
		ExecutionPath: append([]string(nil), r.path...),
	}
	r.mu.Unlock()

	g.emitter.Emit(emit.Event{
		RunID: r.runID,
		Msg:   emit.MsgRunEnd,
		Meta: map[string]any{
			"status":      string(status),
			"duration_ms": elapsed.Milliseconds(),
			"tokens":      metrics.TokensUsed,
		},
	})

	return ExecutionResult{
		RunID:      r.runID,
		Status:     status,
		FinalState: final,
		Metrics:    metrics,
	}
}

// runNode executes one node behavior and routes its output. Gate waits
// for outbound edges happen in the delivering goroutines, so a blocked
// admission never occupies a worker slot.
func (r *run) runNode(nodeID string, t task) {
	defer r.wg.Done()

	cn := r.g.nodes[nodeID]

	r.g.metrics.setFrontierDepth(int(atomic.AddInt64(&r.pending, 1)))
	defer func() {
		r.g.metrics.setFrontierDepth(int(atomic.AddInt64(&r.pending, -1)))
	}()

	// Worker slot: behaviors run under the concurrency bound.
	select {
	case r.sem <- struct{}{}:
	case <-r.ctx.Done():
		r.markCancelled()
		r.recordTerminal(nodeID, t)
		r.declineDescendants(cn)
		return
	}

	r.g.metrics.addInflight(1)
	r.emit(emit.MsgNodeStart, nodeID, nil)

	nodeCtx := r.ctx
	var cancelNode context.CancelFunc
	if d := cn.info.Timeout(); d > 0 {
		nodeCtx, cancelNode = context.WithTimeout(nodeCtx, d)
	}

	nodeStarted := time.Now()
	result := cn.behavior.Run(nodeCtx, cn.info, t.state)
	nodeElapsed := time.Since(nodeStarted)

	if cancelNode != nil {
		if result.Err == nil && errors.Is(nodeCtx.Err(), context.DeadlineExceeded) {
			result.Err = &NodeError{NodeID: nodeID, Kind: KindTimeout, Message: "node exceeded its timeout"}
		}
		cancelNode()
	}

	<-r.sem
	r.g.metrics.addInflight(-1)

	state := t.state.Clone()
	for _, w := range result.Warnings {
		state.AppendWarning(w)
	}

	if result.Err != nil {
		state.AppendError(result.Err.Record())
		r.g.metrics.recordNodeError(nodeID, result.Err.Kind)
		r.g.metrics.recordNodeLatency(nodeID, nodeElapsed, "error")
		r.emit(emit.MsgNodeError, nodeID, map[string]any{
			"error": result.Err.Message,
			"kind":  string(result.Err.Kind),
		})
		if errors.Is(result.Err.Cause, context.Canceled) || r.ctx.Err() != nil {
			r.markCancelled()
		}
		r.recordTerminal(nodeID, task{state: state, stack: t.stack})
		r.declineDescendants(cn)
		return
	}

	state.ApplyDelta(result.Delta)
	state.appendPath(nodeID)
	timings, _ := state.Metadata()[MetaNodeTimings].(map[string]any)
	if timings == nil {
		timings = map[string]any{}
	} else {
		copied := make(map[string]any, len(timings))
		for k, v := range timings {
			copied[k] = v
		}
		timings = copied
	}
	timings[nodeID] = nodeElapsed.Seconds()
	state.Metadata()[MetaNodeTimings] = timings

	deltaTokens := result.Delta.TokensUsed()
	r.recordCompletion(nodeID, deltaTokens, result.Delta.Cost())
	r.g.metrics.recordNodeLatency(nodeID, nodeElapsed, "success")
	r.g.metrics.addTokens(deltaTokens)
	r.emit(emit.MsgNodeEnd, nodeID, map[string]any{
		"duration_ms": nodeElapsed.Milliseconds(),
		"tokens":      deltaTokens,
	})

	r.route(cn, task{state: state, stack: t.stack}, deltaTokens)
}

// route evaluates the outgoing edges and schedules descendants.
//
// Conditional edges fire when their predicate holds. Unconditional
// edges are the default lane: they fire when the node has no
// conditional edge at all, or when no conditional edge matched. A node
// whose edges all stay dark is a dead end: the executor collects an
// error so the caller learns the routing fell through.
func (r *run) route(cn *compiledNode, t task, deltaTokens int) {
	nodeID := cn.info.ID

	if len(cn.outgoing) == 0 {
		r.recordTerminal(nodeID, t)
		return
	}

	var conditional, unconditional, fired []*compiledEdge
	for _, e := range cn.outgoing {
		if e.cond == nil {
			unconditional = append(unconditional, e)
		} else {
			conditional = append(conditional, e)
		}
	}
	for _, e := range conditional {
		ok, warn := e.cond.Eval(t.state)
		if warn != "" {
			t.state.AppendWarning(warn)
		}
		if ok {
			fired = append(fired, e)
		}
	}
	if len(fired) > 0 {
		r.emit(emit.MsgRouting, nodeID, map[string]any{"matched": fired[0].cond.Source()})
	}
	if len(fired) == 0 {
		fired = unconditional
	} else {
		// Unconditional siblings of a matched conditional edge are the
		// not-taken default; they decline.
		for _, e := range unconditional {
			r.deliverDecline(e)
		}
	}

	if len(fired) == 0 {
		state := t.state.Clone()
		deadEnd := &NodeError{
			NodeID:  nodeID,
			Kind:    KindInvalidInput,
			Message: "no outgoing edge matched; routing dead end",
		}
		state.AppendError(deadEnd.Record())
		r.emit(emit.MsgNodeError, nodeID, map[string]any{"error": deadEnd.Message})
		r.recordTerminal(nodeID, task{state: state, stack: t.stack})
		for _, e := range conditional {
			r.deliverDecline(e)
		}
		return
	}

	// Edges that stayed dark decline so downstream fan-in counters
	// keep moving.
	firedSet := make(map[*compiledEdge]bool, len(fired))
	for _, e := range fired {
		firedSet[e] = true
	}
	for _, e := range conditional {
		if !firedSet[e] {
			r.deliverDecline(e)
		}
	}

	stack := t.stack
	if len(fired) > 1 {
		// Fan-out: push the fork snapshot; each branch gets an
		// independent copy of the state.
		r.mu.Lock()
		r.snapSeq++
		snap := snapshot{id: r.snapSeq, state: t.state}
		r.mu.Unlock()
		stack = append(append([]snapshot(nil), t.stack...), snap)
	}

	for _, e := range fired {
		branch := task{state: t.state.Clone(), stack: stack}
		r.wg.Add(1)
		go r.traverse(e, branch, deltaTokens)
	}
}

// traverse awaits the edge's queue gate, then delivers the state to the
// target. Cancellation or limiter shutdown while blocked records the
// in-transit state and declines the target, so the run drains promptly.
func (r *run) traverse(e *compiledEdge, t task, deltaTokens int) {
	defer r.wg.Done()

	if e.queueID != "" {
		r.emit(emit.MsgGateWait, e.from, map[string]any{"queue_id": e.queueID})
		waitStart := time.Now()
		adm, err := r.g.limiter.Acquire(r.ctx, e.queueID, limit.Cost{Tokens: deltaTokens, Lane: e.lane})
		r.g.metrics.recordGateWait(e.queueID, time.Since(waitStart))
		if err != nil {
			r.markCancelled()
			r.recordTerminal(e.from, t)
			r.deliverDecline(e)
			return
		}
		if adm.Warning != "" {
			t.state.AppendWarning(adm.Warning)
		}
	}

	r.deliver(e, delivery{arrived: true, live: true, task: t})
}

// deliverDecline tells the edge's target this edge will never fire.
func (r *run) deliverDecline(e *compiledEdge) {
	r.deliver(e, delivery{arrived: true})
}

// deliver stores the edge's outcome in the target's inbox. When the
// last inbound edge reports, the target either runs (joining parallel
// branch states when more than one edge fired) or is skipped, which
// cascades declines to its own descendants.
func (r *run) deliver(e *compiledEdge, d delivery) {
	cn := r.g.nodes[e.to]

	pos := -1
	for i, in := range cn.incoming {
		if in == e {
			pos = i
			break
		}
	}
	if pos < 0 {
		return
	}

	r.mu.Lock()
	ib := r.inboxes[e.to]
	if ib.done || ib.deliveries[pos].arrived {
		r.mu.Unlock()
		return
	}
	ib.deliveries[pos] = d
	ib.got++
	ready := ib.got == len(ib.deliveries)
	if ready {
		ib.done = true
	}
	var live []task
	if ready {
		for _, dv := range ib.deliveries {
			if dv.live {
				live = append(live, dv.task)
			}
		}
	}
	r.mu.Unlock()

	if !ready {
		return
	}

	switch len(live) {
	case 0:
		r.emit(emit.MsgNodeSkip, e.to, nil)
		r.declineDescendants(cn)
	case 1:
		r.wg.Add(1)
		go r.runNode(e.to, live[0])
	default:
		joined := r.join(live)
		r.wg.Add(1)
		go r.runNode(e.to, joined)
	}
}

// join merges parallel branch states in incoming-edge declaration
// order. The fork base is the snapshot shared on top of the branch
// stacks; joining pops it.
func (r *run) join(branches []task) task {
	base := branches[0].stack
	var baseState State
	var stack []snapshot
	if len(base) > 0 {
		baseState = base[len(base)-1].state
		stack = base[:len(base)-1]
	} else {
		baseState = State{}
	}

	states := make([]State, len(branches))
	for i, b := range branches {
		states[i] = b.state
	}
	return task{state: Join(baseState, states), stack: stack}
}

// declineDescendants cascades declines from a node that will not run.
func (r *run) declineDescendants(cn *compiledNode) {
	for _, e := range cn.outgoing {
		r.deliverDecline(e)
	}
}

// recordCompletion updates the run-level counters and completion path.
func (r *run) recordCompletion(nodeID string, tokens int, cost float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps++
	r.path = append(r.path, nodeID)
	r.tokens += tokens
	r.cost += cost
}

// recordTerminal collects a state with no scheduled descendants.
func (r *run) recordTerminal(nodeID string, t task) {
	order := len(r.g.order)
	for i, id := range r.g.order {
		if id == nodeID {
			order = i
			break
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminals = append(r.terminals, terminal{nodeOrder: order, task: t})
}

// markCancelled flags the run and propagates cancellation to every
// in-flight suspension: behaviors, gate waits, and worker-slot waits
// all observe the run context.
func (r *run) markCancelled() {
	r.mu.Lock()
	r.cancelled = true
	r.mu.Unlock()
	r.cancel()
}

// finalState joins every terminal state. With a single terminal the
// state passes through; multiple terminals join against their shared
// fork snapshot when they have one, falling back to the initial state.
func (r *run) finalState(initial State) State {
	r.mu.Lock()
	terminals := append([]terminal(nil), r.terminals...)
	r.mu.Unlock()

	if len(terminals) == 0 {
		return initial.Clone()
	}
	if len(terminals) == 1 {
		return terminals[0].task.state
	}

	// Deterministic order: node declaration order, then arrival.
	ordered := make([]terminal, len(terminals))
	copy(ordered, terminals)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].nodeOrder < ordered[j-1].nodeOrder; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	states := make([]State, len(ordered))
	for i, t := range ordered {
		states[i] = t.task.state
	}

	base := sharedForkBase(ordered)
	if base == nil {
		base = initial
	}
	return Join(base, states)
}

// sharedForkBase returns the common fork snapshot when every terminal
// sits under the same top-of-stack fork.
func sharedForkBase(terminals []terminal) State {
	var id int
	var state State
	for i, t := range terminals {
		st := t.task.stack
		if len(st) == 0 {
			return nil
		}
		top := st[len(st)-1]
		if i == 0 {
			id, state = top.id, top.state
			continue
		}
		if top.id != id {
			return nil
		}
	}
	return state
}

func (r *run) status(final State) ExecutionStatus {
	r.mu.Lock()
	cancelled := r.cancelled
	r.mu.Unlock()

	if cancelled || r.ctx.Err() != nil {
		return StatusCancelled
	}
	if len(final.Errors()) > 0 {
		return StatusFailed
	}
	return StatusSuccess
}

func (r *run) emit(msg, nodeID string, meta map[string]any) {
	r.mu.Lock()
	step := r.steps
	r.mu.Unlock()
	r.g.emitter.Emit(emit.Event{RunID: r.runID, Step: step, NodeID: nodeID, Msg: msg, Meta: meta})
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
