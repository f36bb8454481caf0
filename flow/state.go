package flow

import "reflect"

// State is the mutable execution context threaded through a workflow run.
//
// It is a string-keyed map so user-defined keys pass through untouched.
// A handful of keys are well known to the executor and the behaviors and
// carry merge semantics at fan-in: counters are summed, lists are
// concatenated, scalars resolve first-wins by incoming edge order.
type State map[string]any

// Well-known state keys.
const (
	KeyUserInput   = "user_input"
	KeyIntent      = "intent"
	KeyTextResult  = "text_result"
	KeyImageResult = "image_result"
	KeyDBResult    = "db_result"
	KeyFinalOutput = "final_output"
	KeyTokensUsed  = "tokens_used"
	KeyCost        = "cost"
	KeyMetadata    = "metadata"
	KeyErrors      = "errors"
	KeyWarnings    = "warnings"
)

// Metadata keys maintained by the executor inside state["metadata"].
const (
	MetaStartTime     = "start_time"
	MetaEndTime       = "end_time"
	MetaExecutionTime = "execution_time"
	MetaExecutionPath = "execution_path"
	MetaNodeTimings   = "node_timings"
)

// counterKeys are merged by summation at fan-in.
var counterKeys = map[string]bool{
	KeyTokensUsed: true,
	KeyCost:       true,
}

// listKeys are merged by concatenation at fan-in, in the declaration
// order of the incoming edges.
var listKeys = map[string]bool{
	KeyErrors:   true,
	KeyWarnings: true,
}

// Clone returns a copy of the state. The top level, the metadata
// mapping and the errors and warnings lists are copied; other values
// are shared, which is safe because
// behaviors never mutate inherited values in place.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	if md, ok := s[KeyMetadata].(map[string]any); ok {
		mdCopy := make(map[string]any, len(md))
		for k, v := range md {
			mdCopy[k] = v
		}
		out[KeyMetadata] = mdCopy
	}
	if errs, ok := s[KeyErrors].([]any); ok {
		out[KeyErrors] = append([]any(nil), errs...)
	}
	if warns, ok := s[KeyWarnings].([]any); ok {
		out[KeyWarnings] = append([]any(nil), warns...)
	}
	return out
}

// Metadata returns the metadata mapping, creating it when absent.
func (s State) Metadata() map[string]any {
	md, ok := s[KeyMetadata].(map[string]any)
	if !ok {
		md = make(map[string]any)
		s[KeyMetadata] = md
	}
	return md
}

// Errors returns the error records accumulated so far.
func (s State) Errors() []any {
	errs, _ := s[KeyErrors].([]any)
	return errs
}

// AppendError records a node failure into state.errors.
func (s State) AppendError(rec map[string]any) {
	s[KeyErrors] = append(s.Errors(), rec)
}

// AppendWarning records a non-fatal observation into state.warnings.
func (s State) AppendWarning(msg string) {
	warns, _ := s[KeyWarnings].([]any)
	s[KeyWarnings] = append(warns, msg)
}

// TokensUsed returns the accumulated token count.
func (s State) TokensUsed() int {
	return asInt(s[KeyTokensUsed])
}

// Cost returns the accumulated cost.
func (s State) Cost() float64 {
	return asFloat(s[KeyCost])
}

// ExecutionPath returns the ordered node ids completed so far.
func (s State) ExecutionPath() []string {
	raw, _ := s.Metadata()[MetaExecutionPath].([]any)
	path := make([]string, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(string); ok {
			path = append(path, id)
		}
	}
	return path
}

// appendPath appends a completed node id to metadata.execution_path.
func (s State) appendPath(nodeID string) {
	md := s.Metadata()
	raw, _ := md[MetaExecutionPath].([]any)
	md[MetaExecutionPath] = append(raw, nodeID)
}

// ApplyDelta merges a behavior's output delta into the state. Counter
// keys accumulate, list keys append, everything else replaces. Metadata
// is merged key-wise.
func (s State) ApplyDelta(delta State) {
	for k, v := range delta {
		switch {
		case counterKeys[k]:
			if _, isFloat := v.(float64); isFloat || k == KeyCost {
				s[k] = asFloat(s[k]) + asFloat(v)
			} else {
				s[k] = asInt(s[k]) + asInt(v)
			}
		case listKeys[k]:
			prev, _ := s[k].([]any)
			add, _ := v.([]any)
			s[k] = append(prev, add...)
		case k == KeyMetadata:
			md := s.Metadata()
			add, _ := v.(map[string]any)
			for mk, mv := range add {
				md[mk] = mv
			}
		default:
			s[k] = v
		}
	}
}

// Join merges the states of parallel branches that forked from base,
// using the deterministic rule: keys touched by exactly one branch are
// kept, counters are summed as deltas from the fork base, lists are
// concatenated in branch (incoming edge declaration) order, and scalar
// conflicts resolve to the first branch with a warning.
func Join(base State, branches []State) State {
	if len(branches) == 0 {
		return base.Clone()
	}
	if len(branches) == 1 {
		return branches[0].Clone()
	}

	out := base.Clone()
	conflicts := map[string]bool{}

	// Counters: base + sum of per-branch deltas.
	for key := range counterKeys {
		if key == KeyCost {
			sum := asFloat(base[key])
			for _, br := range branches {
				sum += asFloat(br[key]) - asFloat(base[key])
			}
			if sum != 0 {
				out[key] = sum
			}
			continue
		}
		sum := asInt(base[key])
		for _, br := range branches {
			sum += asInt(br[key]) - asInt(base[key])
		}
		if sum != 0 {
			out[key] = sum
		}
	}

	// Lists: base prefix + each branch's suffix beyond the base.
	for key := range listKeys {
		baseList, _ := base[key].([]any)
		merged := append([]any(nil), baseList...)
		for _, br := range branches {
			brList, _ := br[key].([]any)
			if len(brList) > len(baseList) {
				merged = append(merged, brList[len(baseList):]...)
			}
		}
		if len(merged) > 0 {
			out[key] = merged
		}
	}

	// Metadata: path and timings merge like lists/maps, the rest of the
	// keys follow the scalar rule.
	out[KeyMetadata] = joinMetadata(base, branches)

	// Remaining keys.
	for _, br := range branches {
		for k, v := range br {
			if counterKeys[k] || listKeys[k] || k == KeyMetadata {
				continue
			}
			baseV, inBase := base[k]
			if inBase && equalValues(baseV, v) {
				continue // unchanged by this branch
			}
			if cur, taken := out[k]; taken && !equalValues(cur, baseV) {
				// A previous branch already set this key.
				if !equalValues(cur, v) && !conflicts[k] {
					conflicts[k] = true
					out.AppendWarning("merge conflict on key " + k + ": kept value from first incoming edge")
				}
				continue
			}
			out[k] = v
		}
	}
	return out
}

func joinMetadata(base State, branches []State) map[string]any {
	baseMD, _ := base[KeyMetadata].(map[string]any)
	merged := make(map[string]any, len(baseMD))
	for k, v := range baseMD {
		merged[k] = v
	}

	basePath, _ := baseMD[MetaExecutionPath].([]any)
	path := append([]any(nil), basePath...)
	timings := map[string]any{}
	if bt, ok := baseMD[MetaNodeTimings].(map[string]any); ok {
		for k, v := range bt {
			timings[k] = v
		}
	}

	for _, br := range branches {
		brMD, _ := br[KeyMetadata].(map[string]any)
		if brMD == nil {
			continue
		}
		if brPath, ok := brMD[MetaExecutionPath].([]any); ok && len(brPath) > len(basePath) {
			path = append(path, brPath[len(basePath):]...)
		}
		if brT, ok := brMD[MetaNodeTimings].(map[string]any); ok {
			for k, v := range brT {
				timings[k] = v
			}
		}
		for k, v := range brMD {
			if k == MetaExecutionPath || k == MetaNodeTimings {
				continue
			}
			if _, exists := merged[k]; !exists {
				merged[k] = v
			}
		}
	}
	if len(path) > 0 {
		merged[MetaExecutionPath] = path
	}
	if len(timings) > 0 {
		merged[MetaNodeTimings] = timings
	}
	return merged
}

// equalValues is a shallow comparison good enough for merge-conflict
// detection on scalar state values.
func equalValues(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case int, int64, float64:
		switch b.(type) {
		case int, int64, float64:
			return asFloat(a) == asFloat(b)
		}
		return false
	}
	// Reference types compare by identity: a branch that inherited the
	// base's map or slice untouched still counts as unchanged.
	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	if av.Kind() != bv.Kind() {
		return false
	}
	switch av.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Func, reflect.Chan:
		return av.Pointer() == bv.Pointer()
	}
	return false
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
