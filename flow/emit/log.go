package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
)

// LogEmitter writes structured event output to a writer.
//
// Two output modes:
//   - Text (default): human-readable key=value lines.
//   - JSON: one event per line, machine-readable.
//
// Example text output:
//
//	[node_start] run=run-001 step=1 node=router
//	[node_end] run=run-001 step=1 node=router intent=image
//
// Example JSON output:
//
//	{"msg":"node_start","node_id":"router","run_id":"run-001","step":1}
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter writing to writer (os.Stdout when
// nil). jsonMode selects JSON lines over text.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

// Emit implements Emitter.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitJSON(event Event) {
	payload := map[string]any{
		"run_id":  event.RunID,
		"step":    event.Step,
		"node_id": event.NodeID,
		"msg":     event.Msg,
	}
	if len(event.Meta) > 0 {
		payload["meta"] = event.Meta
	}
	data, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(l.writer, `{"msg":"emit_error","error":%q}`+"\n", err.Error())
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s] run=%s step=%d node=%s", event.Msg, event.RunID, event.Step, event.NodeID)
	if len(event.Meta) > 0 {
		keys := make([]string, 0, len(event.Meta))
		for k := range event.Meta {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(l.writer, " %s=%v", k, event.Meta[k])
		}
	}
	fmt.Fprintln(l.writer)
}
