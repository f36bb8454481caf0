package flow

import (
	"errors"
	"testing"
)

const minimalSpec = `{
  "nodes": [{"id": "i", "type": "input"}],
  "edges": [],
  "queues": [],
  "sources": [],
  "start_node": "i"
}`

func TestParseSpec_Minimal(t *testing.T) {
	spec, err := ParseSpec([]byte(minimalSpec))
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}
	if len(spec.Nodes) != 1 || spec.Nodes[0].ID != "i" {
		t.Errorf("nodes = %+v, want single node i", spec.Nodes)
	}
	if spec.StartNode != "i" {
		t.Errorf("start_node = %q, want i", spec.StartNode)
	}
}

func TestParseSpec_MalformedJSON(t *testing.T) {
	_, err := ParseSpec([]byte(`{"nodes": [`))
	var malformed *MalformedSpecError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want MalformedSpecError", err)
	}
}

func TestParseSpec_UnknownTopLevelKeyRejected(t *testing.T) {
	_, err := ParseSpec([]byte(`{
	  "nodes": [{"id": "i", "type": "input"}],
	  "edges": [],
	  "start_node": "i",
	  "pipelines": []
	}`))
	var malformed *MalformedSpecError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want MalformedSpecError for unknown key", err)
	}
}

func TestParseSpec_UnknownMetadataKeysPreserved(t *testing.T) {
	spec, err := ParseSpec([]byte(`{
	  "nodes": [{"id": "i", "type": "input", "metadata": {"x_custom": 42}}],
	  "edges": [],
	  "start_node": "i"
	}`))
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}
	if v := spec.Nodes[0].Metadata["x_custom"]; asInt(v) != 42 {
		t.Errorf("metadata.x_custom = %v, want 42", v)
	}
}

func TestTargets_SingleAndList(t *testing.T) {
	spec, err := ParseSpec([]byte(`{
	  "nodes": [
	    {"id": "a", "type": "input"},
	    {"id": "b", "type": "aggregator"},
	    {"id": "c", "type": "aggregator"}
	  ],
	  "edges": [
	    {"from": "a", "to": "b"},
	    {"from": "a", "to": ["b", "c"]}
	  ],
	  "start_node": "a"
	}`))
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}
	if got := len(spec.Edges[0].To); got != 1 {
		t.Errorf("single target parsed to %d targets", got)
	}
	if got := len(spec.Edges[1].To); got != 2 {
		t.Errorf("list target parsed to %d targets, want 2", got)
	}
}

func TestSpec_Lookups(t *testing.T) {
	spec, err := ParseSpec([]byte(`{
	  "nodes": [
	    {"id": "a", "type": "input"},
	    {"id": "b", "type": "llm", "metadata": {"source": "s1", "prompt_template": "x"}}
	  ],
	  "edges": [{"from": "a", "to": "b", "queue": "q1"}],
	  "queues": [{"id": "q1", "from": "a", "to": "b"}],
	  "sources": [{"id": "s1", "kind": "llm", "config": {"model": "gpt-4o"}}],
	  "start_node": "a"
	}`))
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}

	if _, ok := spec.NodeByID("a"); !ok {
		t.Error("NodeByID(a) not found")
	}
	if _, ok := spec.NodeByID("zzz"); ok {
		t.Error("NodeByID(zzz) unexpectedly found")
	}
	if src, ok := spec.SourceByID("s1"); !ok || src.Kind != SourceLLM {
		t.Errorf("SourceByID(s1) = %+v ok=%v", src, ok)
	}
	if q, ok := spec.QueueByID("q1"); !ok || q.From != "a" {
		t.Errorf("QueueByID(q1) = %+v ok=%v", q, ok)
	}
	if out := spec.OutgoingEdges("a"); len(out) != 1 || out[0].To[0] != "b" {
		t.Errorf("OutgoingEdges(a) = %+v", out)
	}
	if in := spec.IncomingEdges("b"); len(in) != 1 || in[0].From != "a" {
		t.Errorf("IncomingEdges(b) = %+v", in)
	}
}

func TestSerialize_RoundTripValidates(t *testing.T) {
	raw := []byte(`{
	  "nodes": [
	    {"id": "a", "type": "input"},
	    {"id": "r", "type": "router", "metadata": {"strategy": "default", "default_intent": "x"}},
	    {"id": "z", "type": "aggregator", "metadata": {"strategy": "priority", "source_keys": ["user_input"]}}
	  ],
	  "edges": [{"from": "a", "to": "r"}, {"from": "r", "to": "z"}],
	  "queues": [{"id": "q", "from": "r", "to": "z", "bandwidth": {"max_messages_per_second": 5}}],
	  "sources": [],
	  "start_node": "a"
	}`)
	spec, errs := ParseAndValidate(raw)
	if len(errs) > 0 {
		t.Fatalf("original spec invalid: %v", errs)
	}

	data, err := spec.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	_, errs = ParseAndValidate(data)
	if len(errs) > 0 {
		t.Errorf("re-parsed spec invalid: %v", errs)
	}
}
