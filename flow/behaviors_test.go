package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/agentflow/agentflow-go/flow/adapter"
)

func infoFor(nodeType NodeType, metadata map[string]any) *NodeInfo {
	return &NodeInfo{ID: "n1", Type: nodeType, Metadata: metadata}
}

func TestInputBehavior_Identity(t *testing.T) {
	b := inputBehavior{}
	state := State{KeyUserInput: "hello"}
	res := b.Run(context.Background(), infoFor(NodeInput, nil), state)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if len(res.Delta) != 0 {
		t.Errorf("input delta = %v, want empty", res.Delta)
	}
}

func TestInputBehavior_MissingUserInput(t *testing.T) {
	b := inputBehavior{}
	res := b.Run(context.Background(), infoFor(NodeInput, nil), State{})
	if res.Err == nil || res.Err.Kind != KindInvalidInput {
		t.Errorf("err = %v, want InvalidInput", res.Err)
	}
}

func TestRouterBehavior_Keyword(t *testing.T) {
	meta := map[string]any{
		"strategy":       "keyword",
		"default_intent": "text",
		"rules": []any{
			map[string]any{"intent": "image", "keywords": []any{"image", "picture"}},
			map[string]any{"intent": "db", "keywords": []any{"query"}},
		},
	}
	b := routerBehavior{}

	tests := []struct {
		input string
		want  string
	}{
		{"Please generate an image of a sunset", "image"},
		{"Run a QUERY for me", "db"},
		{"Just chat with me", "text"},
	}
	for _, tc := range tests {
		res := b.Run(context.Background(), infoFor(NodeRouter, meta), State{KeyUserInput: tc.input})
		if res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
		if got := res.Delta[KeyIntent]; got != tc.want {
			t.Errorf("input %q: intent = %v, want %q", tc.input, got, tc.want)
		}
	}
}

func TestRouterBehavior_Pattern(t *testing.T) {
	meta := map[string]any{
		"strategy":       "pattern",
		"default_intent": "other",
		"rules": []any{
			map[string]any{"intent": "order", "pattern": `(?i)order\s+#\d+`},
		},
	}
	b := routerBehavior{}

	res := b.Run(context.Background(), infoFor(NodeRouter, meta), State{KeyUserInput: "Where is Order #123?"})
	if got := res.Delta[KeyIntent]; got != "order" {
		t.Errorf("intent = %v, want order", got)
	}

	res = b.Run(context.Background(), infoFor(NodeRouter, meta), State{KeyUserInput: "hello"})
	if got := res.Delta[KeyIntent]; got != "other" {
		t.Errorf("intent = %v, want other", got)
	}
}

func TestRouterBehavior_Rules(t *testing.T) {
	meta := map[string]any{
		"strategy":       "rules",
		"default_intent": "fallback",
		"rules": []any{
			map[string]any{"intent": "confident", "condition": "confidence_score_gt(90)"},
		},
	}
	b := routerBehavior{}

	res := b.Run(context.Background(), infoFor(NodeRouter, meta), State{"confidence_score": 99})
	if got := res.Delta[KeyIntent]; got != "confident" {
		t.Errorf("intent = %v, want confident", got)
	}

	res = b.Run(context.Background(), infoFor(NodeRouter, meta), State{"confidence_score": 10})
	if got := res.Delta[KeyIntent]; got != "fallback" {
		t.Errorf("intent = %v, want fallback", got)
	}
}

func TestRouterBehavior_LLM(t *testing.T) {
	mock := &adapter.MockLLM{Responses: []adapter.Completion{
		{Text: "  Image.\n", TokensUsed: 3},
	}}
	b := routerBehavior{llm: mock}
	meta := map[string]any{"strategy": "llm", "default_intent": "text"}

	res := b.Run(context.Background(), infoFor(NodeRouter, meta), State{KeyUserInput: "draw me a cat"})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if got := res.Delta[KeyIntent]; got != "image" {
		t.Errorf("intent = %v, want normalized single token 'image'", got)
	}
	if res.Delta.TokensUsed() != 3 {
		t.Errorf("tokens = %d, want 3", res.Delta.TokensUsed())
	}
	if mock.CallCount() != 1 {
		t.Errorf("llm calls = %d, want 1", mock.CallCount())
	}
}

func TestRouterBehavior_Default(t *testing.T) {
	meta := map[string]any{"strategy": "default", "default_intent": "always"}
	res := routerBehavior{}.Run(context.Background(), infoFor(NodeRouter, meta), State{})
	if got := res.Delta[KeyIntent]; got != "always" {
		t.Errorf("intent = %v, want always", got)
	}
}

func TestLLMBehavior(t *testing.T) {
	mock := &adapter.MockLLM{Responses: []adapter.Completion{
		{Text: "Paris", TokensUsed: 42},
	}}
	b := llmBehavior{llm: mock}
	info := infoFor(NodeLLM, map[string]any{
		"prompt_template": "Capital of {user_input}?",
		"temperature":     0.2,
	})
	info.Source = Source{ID: "s", Kind: SourceLLM, Config: map[string]any{"model": "gpt-4o"}}
	info.HasSrc = true

	res := b.Run(context.Background(), info, State{KeyUserInput: "France"})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Delta[KeyTextResult] != "Paris" {
		t.Errorf("text_result = %v", res.Delta[KeyTextResult])
	}
	if res.Delta.TokensUsed() != 42 {
		t.Errorf("tokens = %d, want 42", res.Delta.TokensUsed())
	}
	if res.Delta.Cost() <= 0 {
		t.Error("cost should be accounted for llm calls")
	}
	if got := mock.Calls[0].Prompt; got != "Capital of France?" {
		t.Errorf("prompt = %q", got)
	}
	if mock.Calls[0].Opts.Model != "gpt-4o" {
		t.Errorf("model = %q, want from source config", mock.Calls[0].Opts.Model)
	}
}

func TestLLMBehavior_OutputKey(t *testing.T) {
	mock := &adapter.MockLLM{Responses: []adapter.Completion{{Text: "A", TokensUsed: 1}}}
	b := llmBehavior{llm: mock}
	info := infoFor(NodeLLM, map[string]any{
		"prompt_template": "x",
		"output_key":      "a_out",
	})

	res := b.Run(context.Background(), info, State{})
	if res.Delta["a_out"] != "A" {
		t.Errorf("custom output key not honored: %v", res.Delta)
	}
}

func TestLLMBehavior_UnresolvedPlaceholderWarns(t *testing.T) {
	mock := &adapter.MockLLM{Responses: []adapter.Completion{{Text: "ok"}}}
	b := llmBehavior{llm: mock}
	info := infoFor(NodeLLM, map[string]any{"prompt_template": "value: {nope}"})

	res := b.Run(context.Background(), info, State{})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if len(res.Warnings) == 0 {
		t.Error("want unresolved-placeholder warning")
	}
	if !strings.Contains(mock.Calls[0].Prompt, "{nope}") {
		t.Errorf("prompt = %q, literal placeholder must remain", mock.Calls[0].Prompt)
	}
}

func TestLLMBehavior_MissingTemplate(t *testing.T) {
	b := llmBehavior{llm: &adapter.MockLLM{}}
	res := b.Run(context.Background(), infoFor(NodeLLM, nil), State{})
	if res.Err == nil || res.Err.Kind != KindInvalidInput {
		t.Errorf("err = %v, want InvalidInput", res.Err)
	}
}

func TestLLMBehavior_AdapterErrorKinds(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{adapter.ErrMissingCredential, KindMissingCredential},
		{adapter.ErrUnavailable, KindUnavailable},
		{adapter.ErrInvalidOperation, KindInvalidOperation},
		{context.DeadlineExceeded, KindTimeout},
	}
	for _, tc := range tests {
		mock := &adapter.MockLLM{Err: tc.err}
		b := llmBehavior{llm: mock}
		res := b.Run(context.Background(), infoFor(NodeLLM, map[string]any{"prompt_template": "x"}), State{})
		if res.Err == nil || res.Err.Kind != tc.want {
			t.Errorf("adapter err %v mapped to %v, want %v", tc.err, res.Err, tc.want)
		}
		if res.Err != nil && !errors.Is(res.Err, tc.err) {
			t.Errorf("cause not preserved for %v", tc.err)
		}
	}
}

func TestImageBehavior(t *testing.T) {
	mock := &adapter.MockImage{Result: adapter.GeneratedImage{
		URL:      "https://img.example/1.png",
		Metadata: map[string]any{"revised_prompt": "a vivid sunset"},
	}}
	b := imageBehavior{image: mock}
	info := infoFor(NodeImage, map[string]any{
		"prompt_template": "{user_input}",
		"size":            "512x512",
	})

	res := b.Run(context.Background(), info, State{KeyUserInput: "sunset"})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	result, ok := res.Delta[KeyImageResult].(map[string]any)
	if !ok {
		t.Fatalf("image_result = %T, want map", res.Delta[KeyImageResult])
	}
	if result["url"] != "https://img.example/1.png" {
		t.Errorf("url = %v", result["url"])
	}
	if result["prompt"] != "sunset" || result["size"] != "512x512" {
		t.Errorf("result = %v", result)
	}
	if result["revised_prompt"] != "a vivid sunset" {
		t.Errorf("model-specific fields must be preserved: %v", result)
	}
}

func TestDBBehavior(t *testing.T) {
	mock := &adapter.MockDB{Rows: []adapter.Row{
		{"id": 1, "name": "a"},
		{"id": 2, "name": "b"},
		{"id": 3, "name": "c"},
	}}
	b := dbBehavior{db: mock}
	info := infoFor(NodeDB, map[string]any{
		"query_template": "SELECT * FROM users WHERE name = '{user_input}'",
		"limit":          2,
	})

	res := b.Run(context.Background(), info, State{KeyUserInput: "a"})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	rows, ok := res.Delta[KeyDBResult].([]any)
	if !ok {
		t.Fatalf("db_result = %T, want list", res.Delta[KeyDBResult])
	}
	if len(rows) != 2 {
		t.Errorf("rows = %d, want limit 2 honored", len(rows))
	}
	if got := mock.Queries[0]; !strings.Contains(got, "name = 'a'") {
		t.Errorf("query = %q, want substituted", got)
	}
}

func TestAggregatorBehavior_Merge(t *testing.T) {
	info := infoFor(NodeAggregator, map[string]any{
		"strategy":    "merge",
		"source_keys": []any{"a_out", "b_out"},
	})
	state := State{"a_out": "A", "b_out": "B"}

	res := aggregatorBehavior{}.Run(context.Background(), info, state)
	out, ok := res.Delta[KeyFinalOutput].(map[string]any)
	if !ok {
		t.Fatalf("final_output = %T, want map", res.Delta[KeyFinalOutput])
	}
	if out["a_out"] != "A" || out["b_out"] != "B" {
		t.Errorf("final_output = %v", out)
	}
}

func TestAggregatorBehavior_Template(t *testing.T) {
	info := infoFor(NodeAggregator, map[string]any{
		"strategy": "template",
		"template": "answer: {text_result}",
	})
	res := aggregatorBehavior{}.Run(context.Background(), info, State{KeyTextResult: "42"})
	if res.Delta[KeyFinalOutput] != "answer: 42" {
		t.Errorf("final_output = %v", res.Delta[KeyFinalOutput])
	}
}

func TestAggregatorBehavior_Priority(t *testing.T) {
	info := infoFor(NodeAggregator, map[string]any{
		"strategy":    "priority",
		"source_keys": []any{"image_result", "text_result"},
	})
	res := aggregatorBehavior{}.Run(context.Background(), info, State{
		KeyTextResult: "the text",
	})
	if res.Delta[KeyFinalOutput] != "the text" {
		t.Errorf("final_output = %v, want first non-empty source key", res.Delta[KeyFinalOutput])
	}
}

func TestAggregatorBehavior_FinalizesTiming(t *testing.T) {
	info := infoFor(NodeAggregator, map[string]any{
		"strategy":    "priority",
		"source_keys": []any{KeyUserInput},
	})
	state := State{
		KeyUserInput: "x",
		KeyMetadata:  map[string]any{MetaStartTime: 1.0},
	}
	res := aggregatorBehavior{}.Run(context.Background(), info, state)
	md, ok := res.Delta[KeyMetadata].(map[string]any)
	if !ok {
		t.Fatal("aggregator must write metadata")
	}
	if _, ok := md[MetaEndTime]; !ok {
		t.Error("end_time not set")
	}
	if _, ok := md[MetaExecutionTime]; !ok {
		t.Error("execution_time not set")
	}
}

func TestBehaviorFor_ClosedSet(t *testing.T) {
	for _, nt := range []NodeType{NodeInput, NodeRouter, NodeLLM, NodeImage, NodeDB, NodeAggregator} {
		if _, err := behaviorFor(nt, adapter.Set{}); err != nil {
			t.Errorf("behaviorFor(%s): %v", nt, err)
		}
	}
	if _, err := behaviorFor("teleport", adapter.Set{}); err == nil {
		t.Error("unknown type must not resolve")
	}
}
