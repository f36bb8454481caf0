package flow

import (
	"fmt"
)

// Validate checks every structural and referential invariant of a parsed
// spec and returns the complete list of violations. It never stops at
// the first error: each check runs independently so callers receive one
// full remediation list.
//
// Checks: required sections, enum membership, id uniqueness (E009/E010/
// E011), start node existence (E005), edge target existence (E006),
// queue endpoint existence (E007), source linkage for llm/image/db nodes
// (E014/E008), bandwidth sanity (E012), and cycle detection over the
// fan-out graph (E013).
func Validate(spec *Spec) []ValidationError {
	if spec == nil {
		return []ValidationError{{Code: CodeMalformed, Message: "spec is nil", Path: "$"}}
	}

	var errs []ValidationError
	errs = append(errs, checkRequired(spec)...)
	errs = append(errs, checkEnums(spec)...)
	errs = append(errs, checkUniqueness(spec)...)

	nodeIDs := make(map[string]bool, len(spec.Nodes))
	for _, n := range spec.Nodes {
		nodeIDs[n.ID] = true
	}
	sourceIDs := make(map[string]bool, len(spec.Sources))
	for _, src := range spec.Sources {
		sourceIDs[src.ID] = true
	}

	errs = append(errs, checkStartNode(spec, nodeIDs)...)
	errs = append(errs, checkEdgeTargets(spec, nodeIDs)...)
	errs = append(errs, checkQueueEndpoints(spec, nodeIDs)...)
	errs = append(errs, checkSourceLinkage(spec, sourceIDs)...)
	errs = append(errs, checkBandwidth(spec)...)
	errs = append(errs, checkAcyclic(spec, nodeIDs)...)
	return errs
}

func checkRequired(spec *Spec) []ValidationError {
	var errs []ValidationError
	if spec.Nodes == nil {
		errs = append(errs, ValidationError{
			Code: CodeMissingField, Message: "nodes is required", Path: fieldPath("nodes"),
		})
	}
	if spec.Edges == nil {
		errs = append(errs, ValidationError{
			Code: CodeMissingField, Message: "edges is required", Path: fieldPath("edges"),
		})
	}
	if spec.StartNode == "" {
		errs = append(errs, ValidationError{
			Code: CodeMissingField, Message: "start_node is required", Path: fieldPath("start_node"),
		})
	}
	for i, n := range spec.Nodes {
		if n.ID == "" {
			errs = append(errs, ValidationError{
				Code: CodeMissingField, Message: "node id is required", Path: fieldPath("nodes", i, "id"),
			})
		}
	}
	for i, e := range spec.Edges {
		if e.From == "" {
			errs = append(errs, ValidationError{
				Code: CodeMissingField, Message: "edge from is required", Path: fieldPath("edges", i, "from"),
			})
		}
		if len(e.To) == 0 {
			errs = append(errs, ValidationError{
				Code: CodeMissingField, Message: "edge to is required and must be non-empty", Path: fieldPath("edges", i, "to"),
			})
		}
	}
	return errs
}

func checkEnums(spec *Spec) []ValidationError {
	var errs []ValidationError
	for i, n := range spec.Nodes {
		if n.Type != "" && !ValidNodeType(n.Type) {
			errs = append(errs, ValidationError{
				Code:    CodeInvalidType,
				Message: fmt.Sprintf("unknown node type %q", n.Type),
				Path:    fieldPath("nodes", i, "type"),
				NodeID:  n.ID,
			})
		}
		if n.Type == "" {
			errs = append(errs, ValidationError{
				Code:    CodeMissingField,
				Message: "node type is required",
				Path:    fieldPath("nodes", i, "type"),
				NodeID:  n.ID,
			})
		}
	}
	for i, src := range spec.Sources {
		if !ValidSourceKind(src.Kind) {
			errs = append(errs, ValidationError{
				Code:    CodeInvalidType,
				Message: fmt.Sprintf("unknown source kind %q", src.Kind),
				Path:    fieldPath("sources", i, "kind"),
			})
		}
	}
	return errs
}

func checkUniqueness(spec *Spec) []ValidationError {
	var errs []ValidationError

	seen := map[string]bool{}
	for i, n := range spec.Nodes {
		if n.ID == "" {
			continue
		}
		if seen[n.ID] {
			errs = append(errs, ValidationError{
				Code:    CodeDuplicateNode,
				Message: fmt.Sprintf("duplicate node id %q", n.ID),
				Path:    fieldPath("nodes", i, "id"),
				NodeID:  n.ID,
			})
		}
		seen[n.ID] = true
	}

	seen = map[string]bool{}
	for i, q := range spec.Queues {
		if q.ID == "" {
			continue
		}
		if seen[q.ID] {
			errs = append(errs, ValidationError{
				Code:    CodeDuplicateQueue,
				Message: fmt.Sprintf("duplicate queue id %q", q.ID),
				Path:    fieldPath("queues", i, "id"),
				QueueID: q.ID,
			})
		}
		seen[q.ID] = true
	}

	seen = map[string]bool{}
	for i, src := range spec.Sources {
		if src.ID == "" {
			continue
		}
		if seen[src.ID] {
			errs = append(errs, ValidationError{
				Code:    CodeDuplicateSource,
				Message: fmt.Sprintf("duplicate source id %q", src.ID),
				Path:    fieldPath("sources", i, "id"),
			})
		}
		seen[src.ID] = true
	}
	return errs
}

func checkStartNode(spec *Spec, nodeIDs map[string]bool) []ValidationError {
	if spec.StartNode == "" || nodeIDs[spec.StartNode] {
		return nil
	}
	return []ValidationError{{
		Code:    CodeStartNodeMissing,
		Message: fmt.Sprintf("start_node %q does not exist", spec.StartNode),
		Path:    fieldPath("start_node"),
		NodeID:  spec.StartNode,
	}}
}

func checkEdgeTargets(spec *Spec, nodeIDs map[string]bool) []ValidationError {
	var errs []ValidationError
	for i, e := range spec.Edges {
		if e.From != "" && !nodeIDs[e.From] {
			errs = append(errs, ValidationError{
				Code:    CodeEdgeTarget,
				Message: fmt.Sprintf("edge references non-existent node %q", e.From),
				Path:    fieldPath("edges", i, "from"),
				NodeID:  e.From,
			})
		}
		for j, to := range e.To {
			if to != "" && !nodeIDs[to] {
				errs = append(errs, ValidationError{
					Code:    CodeEdgeTarget,
					Message: fmt.Sprintf("edge references non-existent node %q", to),
					Path:    fieldPath("edges", i, "to", j),
					NodeID:  to,
				})
			}
		}
	}
	return errs
}

func checkQueueEndpoints(spec *Spec, nodeIDs map[string]bool) []ValidationError {
	var errs []ValidationError
	for i, q := range spec.Queues {
		if q.From != "" && !nodeIDs[q.From] {
			errs = append(errs, ValidationError{
				Code:    CodeQueueEndpoint,
				Message: fmt.Sprintf("queue %q references non-existent node %q", q.ID, q.From),
				Path:    fieldPath("queues", i, "from"),
				QueueID: q.ID,
				NodeID:  q.From,
			})
		}
		if q.To != "" && !nodeIDs[q.To] {
			errs = append(errs, ValidationError{
				Code:    CodeQueueEndpoint,
				Message: fmt.Sprintf("queue %q references non-existent node %q", q.ID, q.To),
				Path:    fieldPath("queues", i, "to"),
				QueueID: q.ID,
				NodeID:  q.To,
			})
		}
	}
	return errs
}

// checkSourceLinkage enforces that llm, image, and db nodes carry a
// metadata.source referencing a declared source.
func checkSourceLinkage(spec *Spec, sourceIDs map[string]bool) []ValidationError {
	var errs []ValidationError
	for i, n := range spec.Nodes {
		switch n.Type {
		case NodeLLM, NodeImage, NodeDB:
		default:
			continue
		}
		ref, ok := n.Metadata["source"].(string)
		if !ok || ref == "" {
			errs = append(errs, ValidationError{
				Code:    CodeSourceRequired,
				Message: fmt.Sprintf("node type %q requires metadata.source", n.Type),
				Path:    fieldPath("nodes", i, "metadata", "source"),
				NodeID:  n.ID,
			})
			continue
		}
		if !sourceIDs[ref] {
			errs = append(errs, ValidationError{
				Code:    CodeSourceMissing,
				Message: fmt.Sprintf("node %q references non-existent source %q", n.ID, ref),
				Path:    fieldPath("nodes", i, "metadata", "source"),
				NodeID:  n.ID,
			})
		}
	}
	return errs
}

func checkBandwidth(spec *Spec) []ValidationError {
	var errs []ValidationError
	for i, q := range spec.Queues {
		if b := q.Bandwidth; b != nil {
			for name, v := range map[string]int{
				"max_messages_per_second": b.MaxMessagesPerSecond,
				"max_requests_per_minute": b.MaxRequestsPerMinute,
				"max_tokens_per_minute":   b.MaxTokensPerMinute,
				"burst_size":              b.BurstSize,
			} {
				if v < 0 {
					errs = append(errs, ValidationError{
						Code:    CodeBadBandwidth,
						Message: fmt.Sprintf("%s must be strictly positive, got %d", name, v),
						Path:    fieldPath("queues", i, "bandwidth", name),
						QueueID: q.ID,
					})
				}
			}
		}
		var weightSum float64
		for j, sq := range q.SubQueues {
			if sq.Weight < 0 || sq.Weight > 1 {
				errs = append(errs, ValidationError{
					Code:    CodeBadBandwidth,
					Message: fmt.Sprintf("sub-queue %q weight %v outside [0,1]", sq.ID, sq.Weight),
					Path:    fieldPath("queues", i, "sub_queues", j, "weight"),
					QueueID: q.ID,
				})
				continue
			}
			weightSum += sq.Weight
		}
		if weightSum > 1 {
			errs = append(errs, ValidationError{
				Code:    CodeBadBandwidth,
				Message: fmt.Sprintf("sub-queue weights sum to %v, must be at most 1", weightSum),
				Path:    fieldPath("queues", i, "sub_queues"),
				QueueID: q.ID,
			})
		}
	}
	return errs
}

// dfs colors for cycle detection.
const (
	white = iota // unvisited
	grey         // on the current DFS stack
	black        // fully explored
)

// checkAcyclic runs a white/grey/black depth-first search over the
// fan-out graph. Any grey-to-grey encounter is a cycle. Runs from every
// node so disconnected cyclic components are caught too.
func checkAcyclic(spec *Spec, nodeIDs map[string]bool) []ValidationError {
	adj := make(map[string][]string, len(spec.Nodes))
	for _, e := range spec.Edges {
		for _, to := range e.To {
			if nodeIDs[e.From] && nodeIDs[to] {
				adj[e.From] = append(adj[e.From], to)
			}
		}
	}

	color := make(map[string]int, len(spec.Nodes))
	var errs []ValidationError

	var visit func(id string, path []string)
	visit = func(id string, path []string) {
		color[id] = grey
		for _, next := range adj[id] {
			switch color[next] {
			case grey:
				errs = append(errs, ValidationError{
					Code:    CodeCycle,
					Message: fmt.Sprintf("cycle detected through node %q", next),
					Path:    fieldPath("edges"),
					NodeID:  next,
				})
			case white:
				visit(next, append(path, id))
			}
		}
		color[id] = black
	}

	for _, n := range spec.Nodes {
		if color[n.ID] == white {
			visit(n.ID, nil)
		}
	}
	return errs
}

// ParseAndValidate is the convenience entry point for raw declarations:
// the structural schema pass runs first, and when it is clean the
// document is parsed and the semantic checks run.
func ParseAndValidate(data []byte) (*Spec, []ValidationError) {
	if errs := ValidateDocument(data); len(errs) > 0 {
		return nil, errs
	}
	spec, err := ParseSpec(data)
	if err != nil {
		return nil, []ValidationError{{
			Code: CodeMalformed, Message: err.Error(), Path: "$",
		}}
	}
	return spec, Validate(spec)
}
