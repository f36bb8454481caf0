package flow

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Condition is a compiled edge predicate. Predicates are parsed once at
// compile time; there is no runtime code evaluation beyond running the
// compiled program against the state.
//
// The expression language covers string equality (intent == 'image'),
// helper predicates over state (confidence_score_gt(90)), and
// conjunctions with &&. Evaluation failures count as false and surface
// a warning rather than a node error. An identifier absent from the
// state reads as nil: an equality test against it (made_up_key == 'x')
// is false without a warning, while an operation that fails on nil
// (made_up_key > 5) counts as a failure.
type Condition struct {
	src     string
	program *vm.Program
}

// CompileCondition parses an edge condition string. An empty source
// yields a nil Condition, which callers treat as unconditional.
func CompileCondition(src string) (*Condition, error) {
	if src == "" {
		return nil, nil
	}
	program, err := expr.Compile(src,
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile condition %q: %w", src, err)
	}
	return &Condition{src: src, program: program}, nil
}

// Source returns the original condition text.
func (c *Condition) Source() string {
	if c == nil {
		return ""
	}
	return c.src
}

// Eval runs the predicate over the state. The environment exposes every
// state key as an identifier plus the helper predicates. A failed
// evaluation (an ordering comparison against an absent key, a type
// mismatch) is false with a warning, never an execution error.
func (c *Condition) Eval(state State) (result bool, warning string) {
	if c == nil {
		return true, ""
	}
	out, err := expr.Run(c.program, conditionEnv(state))
	if err != nil {
		return false, fmt.Sprintf("condition %q evaluated false: %v", c.src, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Sprintf("condition %q did not produce a boolean", c.src)
	}
	return b, ""
}

// conditionEnv builds the evaluation environment: all state keys plus
// the helper predicate functions.
func conditionEnv(state State) map[string]any {
	env := make(map[string]any, len(state)+4)
	for k, v := range state {
		env[k] = v
	}

	// Helper predicates close over the state so expressions like
	// confidence_score_gt(90) read the live value.
	env["confidence_score_gt"] = func(threshold any) bool {
		v, ok := state["confidence_score"]
		return ok && asFloat(v) > asFloat(threshold)
	}
	env["confidence_score_lt"] = func(threshold any) bool {
		v, ok := state["confidence_score"]
		return ok && asFloat(v) < asFloat(threshold)
	}
	env["has"] = func(key string) bool {
		v, ok := state[key]
		return ok && v != nil && v != ""
	}
	env["intent_is"] = func(want string) bool {
		got, _ := state[KeyIntent].(string)
		return got == want
	}
	return env
}
