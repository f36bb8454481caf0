package flow

import (
	"fmt"
	"strings"
)

// RenderTemplate substitutes {name} placeholders in tmpl with state
// values. Unresolved placeholders stay literal and are reported as
// warnings so the caller can surface them without failing the node.
//
// Values render with fmt for non-strings, so numeric and structured
// state keys can appear in prompts and queries.
func RenderTemplate(tmpl string, state State) (string, []string) {
	var (
		out      strings.Builder
		warnings []string
	)

	for i := 0; i < len(tmpl); {
		open := strings.IndexByte(tmpl[i:], '{')
		if open < 0 {
			out.WriteString(tmpl[i:])
			break
		}
		open += i
		out.WriteString(tmpl[i:open])

		closing := strings.IndexByte(tmpl[open:], '}')
		if closing < 0 {
			out.WriteString(tmpl[open:])
			break
		}
		closing += open

		name := tmpl[open+1 : closing]
		if name == "" || strings.ContainsAny(name, " \t\n{") {
			// Not a placeholder; emit as-is.
			out.WriteString(tmpl[open : closing+1])
			i = closing + 1
			continue
		}

		if v, ok := lookupStateValue(state, name); ok {
			out.WriteString(renderValue(v))
		} else {
			out.WriteString(tmpl[open : closing+1])
			warnings = append(warnings, "unresolved placeholder {"+name+"}")
		}
		i = closing + 1
	}
	return out.String(), warnings
}

// lookupStateValue resolves a placeholder name against state, allowing
// dotted access into the metadata mapping (e.g. metadata.start_time).
func lookupStateValue(state State, name string) (any, bool) {
	if v, ok := state[name]; ok {
		return v, true
	}
	if rest, found := strings.CutPrefix(name, "metadata."); found {
		md, _ := state[KeyMetadata].(map[string]any)
		v, ok := md[rest]
		return v, ok
	}
	return nil, false
}

func renderValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
