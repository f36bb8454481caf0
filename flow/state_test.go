package flow

import (
	"testing"
)

func TestState_CloneIsolation(t *testing.T) {
	orig := State{
		KeyUserInput: "hello",
		KeyMetadata:  map[string]any{MetaStartTime: 1.0},
	}
	clone := orig.Clone()
	clone[KeyUserInput] = "changed"
	clone.Metadata()[MetaStartTime] = 2.0

	if orig[KeyUserInput] != "hello" {
		t.Error("clone mutation leaked into original top level")
	}
	if orig.Metadata()[MetaStartTime] != 1.0 {
		t.Error("clone mutation leaked into original metadata")
	}
}

func TestState_ApplyDelta(t *testing.T) {
	s := State{KeyTokensUsed: 10, KeyCost: 0.5}
	s.ApplyDelta(State{
		KeyTokensUsed: 5,
		KeyCost:       0.25,
		KeyTextResult: "out",
	})

	if s.TokensUsed() != 15 {
		t.Errorf("tokens_used = %d, want 15", s.TokensUsed())
	}
	if s.Cost() != 0.75 {
		t.Errorf("cost = %v, want 0.75", s.Cost())
	}
	if s[KeyTextResult] != "out" {
		t.Errorf("text_result = %v", s[KeyTextResult])
	}
}

func TestJoin_CountersSumAsDeltas(t *testing.T) {
	base := State{KeyTokensUsed: 5}
	a := base.Clone()
	a.ApplyDelta(State{KeyTokensUsed: 10})
	b := base.Clone()
	b.ApplyDelta(State{KeyTokensUsed: 15})

	joined := Join(base, []State{a, b})
	if joined.TokensUsed() != 30 {
		t.Errorf("tokens_used = %d, want 5 + 10 + 15 = 30", joined.TokensUsed())
	}
}

func TestJoin_DisjointKeysKept(t *testing.T) {
	base := State{KeyUserInput: "x"}
	a := base.Clone()
	a["a_out"] = "A"
	b := base.Clone()
	b["b_out"] = "B"

	joined := Join(base, []State{a, b})
	if joined["a_out"] != "A" || joined["b_out"] != "B" {
		t.Errorf("joined = %v, want both branch keys", joined)
	}
	if joined[KeyUserInput] != "x" {
		t.Errorf("base key lost: %v", joined[KeyUserInput])
	}
}

func TestJoin_ScalarConflictFirstWinsWithWarning(t *testing.T) {
	base := State{}
	a := base.Clone()
	a[KeyTextResult] = "from-a"
	b := base.Clone()
	b[KeyTextResult] = "from-b"

	joined := Join(base, []State{a, b})
	if joined[KeyTextResult] != "from-a" {
		t.Errorf("text_result = %v, want first branch's value", joined[KeyTextResult])
	}
	warns, _ := joined[KeyWarnings].([]any)
	if len(warns) == 0 {
		t.Error("scalar conflict must append a warning")
	}
}

func TestJoin_ListsConcatenateInBranchOrder(t *testing.T) {
	base := State{}
	a := base.Clone()
	a.AppendError(map[string]any{"node_id": "a"})
	b := base.Clone()
	b.AppendError(map[string]any{"node_id": "b"})

	joined := Join(base, []State{a, b})
	errs := joined.Errors()
	if len(errs) != 2 {
		t.Fatalf("errors = %v, want 2 records", errs)
	}
	first, _ := errs[0].(map[string]any)
	if first["node_id"] != "a" {
		t.Errorf("error order = %v, want branch declaration order", errs)
	}
}

func TestJoin_ExecutionPathMergesSuffixes(t *testing.T) {
	base := State{}
	base.appendPath("start")
	a := base.Clone()
	a.appendPath("a")
	b := base.Clone()
	b.appendPath("b")

	joined := Join(base, []State{a, b})
	path := joined.ExecutionPath()
	if len(path) != 3 || path[0] != "start" {
		t.Fatalf("path = %v, want [start a b]", path)
	}
	if path[1] != "a" || path[2] != "b" {
		t.Errorf("path = %v, want suffixes in branch order", path)
	}
}

func TestJoin_SingleBranchPassesThrough(t *testing.T) {
	base := State{KeyUserInput: "x"}
	a := base.Clone()
	a["out"] = 1

	joined := Join(base, []State{a})
	if joined["out"] != 1 {
		t.Errorf("joined = %v", joined)
	}
}

func TestState_UnknownKeysPreserved(t *testing.T) {
	s := State{"custom_key": []any{"kept"}}
	c := s.Clone()
	if _, ok := c["custom_key"]; !ok {
		t.Error("unknown key dropped by Clone")
	}
}
