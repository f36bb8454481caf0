// Package flow provides the workflow orchestration core: a JSON workflow
// declaration is parsed into a Spec, validated, compiled into an immutable
// CompiledGraph, and invoked against an initial State.
package flow

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NodeType identifies the behavior attached to a node.
//
// The set of node types is closed; Compile selects the behavior
// implementation from a fixed table keyed by this type.
type NodeType string

// Supported node types.
const (
	NodeInput      NodeType = "input"
	NodeRouter     NodeType = "router"
	NodeLLM        NodeType = "llm"
	NodeImage      NodeType = "image"
	NodeDB         NodeType = "db"
	NodeAggregator NodeType = "aggregator"
)

// ValidNodeType reports whether t is one of the supported node types.
func ValidNodeType(t NodeType) bool {
	switch t {
	case NodeInput, NodeRouter, NodeLLM, NodeImage, NodeDB, NodeAggregator:
		return true
	}
	return false
}

// SourceKind identifies the capability an external service provides.
type SourceKind string

// Supported source kinds.
const (
	SourceLLM   SourceKind = "llm"
	SourceImage SourceKind = "image"
	SourceDB    SourceKind = "db"
	SourceAPI   SourceKind = "api"
)

// ValidSourceKind reports whether k is one of the supported source kinds.
func ValidSourceKind(k SourceKind) bool {
	switch k {
	case SourceLLM, SourceImage, SourceDB, SourceAPI:
		return true
	}
	return false
}

// Node is a single computation step in a workflow declaration.
//
// Metadata carries type-specific configuration: a source reference for
// llm/image/db nodes, a prompt or query template, routing rules, an
// aggregation strategy. Unknown metadata keys are preserved opaquely.
type Node struct {
	ID       string         `json:"id"`
	Type     NodeType       `json:"type"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MetaString returns the string metadata value for key, or def when the
// key is absent or not a string.
func (n Node) MetaString(key, def string) string {
	if s, ok := n.Metadata[key].(string); ok && s != "" {
		return s
	}
	return def
}

// Targets is the destination set of an edge. The JSON surface accepts
// either a single node id or a non-empty list of node ids; a list is a
// parallel fan-out.
type Targets []string

// UnmarshalJSON accepts "id" or ["id", ...].
func (t *Targets) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*t = Targets{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*t = Targets(many)
	return nil
}

// MarshalJSON emits a bare string for single targets so a parse/serialize
// round trip preserves the original shape.
func (t Targets) MarshalJSON() ([]byte, error) {
	if len(t) == 1 {
		return json.Marshal(t[0])
	}
	return json.Marshal([]string(t))
}

// Edge is a directed connection between nodes. A list-valued To is a
// parallel fan-out sharing the same From. Condition, when present, is a
// predicate over state compiled at graph-compile time. Queue, when
// present, names the rate-limited queue gating this traversal.
type Edge struct {
	From      string  `json:"from"`
	To        Targets `json:"to"`
	Queue     string  `json:"queue,omitempty"`
	Condition string  `json:"condition,omitempty"`
}

// Bandwidth is the per-queue rate policy. All fields are optional; every
// field that is present must be satisfied simultaneously at admission
// time.
type Bandwidth struct {
	MaxMessagesPerSecond int `json:"max_messages_per_second,omitempty"`
	MaxRequestsPerMinute int `json:"max_requests_per_minute,omitempty"`
	MaxTokensPerMinute   int `json:"max_tokens_per_minute,omitempty"`
	BurstSize            int `json:"burst_size,omitempty"`
}

// Empty reports whether no policy field is set.
func (b Bandwidth) Empty() bool {
	return b.MaxMessagesPerSecond == 0 && b.MaxRequestsPerMinute == 0 &&
		b.MaxTokensPerMinute == 0 && b.BurstSize == 0
}

// SubQueue is a weighted lane inside a queue. Weights within one queue
// must sum to at most 1.
type SubQueue struct {
	ID     string  `json:"id"`
	Weight float64 `json:"weight"`
}

// Queue is a bandwidth-gated channel associated with an edge.
type Queue struct {
	ID        string     `json:"id"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	Bandwidth *Bandwidth `json:"bandwidth,omitempty"`
	SubQueues []SubQueue `json:"sub_queues,omitempty"`
}

// Source is a named configuration of an external service. Config values
// denoting secrets are environment variable names (api_key_env, dsn_env,
// auth_env), never literal key material.
type Source struct {
	ID     string         `json:"id"`
	Kind   SourceKind     `json:"kind"`
	Config map[string]any `json:"config"`
}

// ConfigString returns the string config value for key, or "" when absent.
func (s Source) ConfigString(key string) string {
	v, _ := s.Config[key].(string)
	return v
}

// Spec is a parsed workflow declaration. After validation it is treated
// as immutable; Compile snapshots everything it needs.
type Spec struct {
	Nodes     []Node   `json:"nodes"`
	Edges     []Edge   `json:"edges"`
	Queues    []Queue  `json:"queues"`
	Sources   []Source `json:"sources"`
	StartNode string   `json:"start_node"`

	nodeIndex   map[string]int
	sourceIndex map[string]int
	queueIndex  map[string]int
	outgoing    map[string][]int
	incoming    map[string][]int
}

// ParseSpec decodes a raw workflow declaration.
//
// Unknown top-level keys are rejected as malformed; unknown keys inside
// node metadata and source config are preserved opaquely. Queues and
// sources default to empty when absent. Returns a MalformedSpecError when
// the byte stream is not well-formed JSON or a required field has the
// wrong type.
func ParseSpec(data []byte) (*Spec, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var spec Spec
	if err := dec.Decode(&spec); err != nil {
		return nil, &MalformedSpecError{Cause: err}
	}
	// A trailing second document is as malformed as a truncated one.
	if dec.More() {
		return nil, &MalformedSpecError{Cause: fmt.Errorf("trailing data after declaration")}
	}

	spec.buildIndexes()
	return &spec, nil
}

// buildIndexes precomputes the id and adjacency lookups. Duplicate ids
// keep the first occurrence; the validator reports the duplicates.
func (s *Spec) buildIndexes() {
	s.nodeIndex = make(map[string]int, len(s.Nodes))
	for i, n := range s.Nodes {
		if _, dup := s.nodeIndex[n.ID]; !dup {
			s.nodeIndex[n.ID] = i
		}
	}
	s.sourceIndex = make(map[string]int, len(s.Sources))
	for i, src := range s.Sources {
		if _, dup := s.sourceIndex[src.ID]; !dup {
			s.sourceIndex[src.ID] = i
		}
	}
	s.queueIndex = make(map[string]int, len(s.Queues))
	for i, q := range s.Queues {
		if _, dup := s.queueIndex[q.ID]; !dup {
			s.queueIndex[q.ID] = i
		}
	}
	s.outgoing = make(map[string][]int)
	s.incoming = make(map[string][]int)
	for i, e := range s.Edges {
		s.outgoing[e.From] = append(s.outgoing[e.From], i)
		for _, to := range e.To {
			s.incoming[to] = append(s.incoming[to], i)
		}
	}
}

// NodeByID returns the node with the given id.
func (s *Spec) NodeByID(id string) (Node, bool) {
	if s.nodeIndex == nil {
		s.buildIndexes()
	}
	i, ok := s.nodeIndex[id]
	if !ok {
		return Node{}, false
	}
	return s.Nodes[i], true
}

// SourceByID returns the source with the given id.
func (s *Spec) SourceByID(id string) (Source, bool) {
	if s.sourceIndex == nil {
		s.buildIndexes()
	}
	i, ok := s.sourceIndex[id]
	if !ok {
		return Source{}, false
	}
	return s.Sources[i], true
}

// QueueByID returns the queue with the given id.
func (s *Spec) QueueByID(id string) (Queue, bool) {
	if s.queueIndex == nil {
		s.buildIndexes()
	}
	i, ok := s.queueIndex[id]
	if !ok {
		return Queue{}, false
	}
	return s.Queues[i], true
}

// OutgoingEdges returns the edges leaving nodeID in declaration order.
func (s *Spec) OutgoingEdges(nodeID string) []Edge {
	if s.outgoing == nil {
		s.buildIndexes()
	}
	idxs := s.outgoing[nodeID]
	edges := make([]Edge, 0, len(idxs))
	for _, i := range idxs {
		edges = append(edges, s.Edges[i])
	}
	return edges
}

// IncomingEdges returns the edges entering nodeID in declaration order.
func (s *Spec) IncomingEdges(nodeID string) []Edge {
	if s.incoming == nil {
		s.buildIndexes()
	}
	idxs := s.incoming[nodeID]
	edges := make([]Edge, 0, len(idxs))
	for _, i := range idxs {
		edges = append(edges, s.Edges[i])
	}
	return edges
}

// Serialize renders the spec back to its canonical JSON surface.
// Serializing and re-parsing a valid spec yields a spec that validates
// cleanly.
func (s *Spec) Serialize() ([]byte, error) {
	type wire struct {
		Nodes     []Node   `json:"nodes"`
		Edges     []Edge   `json:"edges"`
		Queues    []Queue  `json:"queues"`
		Sources   []Source `json:"sources"`
		StartNode string   `json:"start_node"`
	}
	w := wire{
		Nodes:     s.Nodes,
		Edges:     s.Edges,
		Queues:    s.Queues,
		Sources:   s.Sources,
		StartNode: s.StartNode,
	}
	if w.Edges == nil {
		w.Edges = []Edge{}
	}
	if w.Queues == nil {
		w.Queues = []Queue{}
	}
	if w.Sources == nil {
		w.Sources = []Source{}
	}
	return json.Marshal(w)
}
